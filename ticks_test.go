package calibplot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPreciseTicks(t *testing.T) {
	ticks := PreciseTicks{NSuggestedTicks: 5}.Ticks(0, 10)

	var labels []string
	for _, tick := range ticks {
		assert.True(t, tick.Value >= 0 && tick.Value <= 10)
		if tick.Label != "" {
			labels = append(labels, tick.Label)
		}
	}
	assert.Equal(t, []string{"0", "2", "4", "6", "8", "10"}, labels)

	assert.Len(t, PreciseTicks{}.Ticks(3, 3), 1)
}

func TestLogTicks(t *testing.T) {
	ticks := LogTicks{}.Ticks(0.5, 200)

	var labels []string
	for _, tick := range ticks {
		if tick.Label != "" {
			labels = append(labels, tick.Label)
		}
	}
	assert.Equal(t, []string{"1", "10", "100"}, labels)
	assert.Nil(t, LogTicks{}.Ticks(0, 10))
}
