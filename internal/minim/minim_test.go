package minim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpaceRoundTrip(t *testing.T) {
	ps := []Param{
		{Name: "a", Value: 2.5, Min: 0, Max: 10},
		{Name: "b", Value: -241.49},
		{Name: "c", Value: 7, Fixed: true},
		{Name: "d", Value: 0},
	}
	s := NewSpace(ps)
	require.Equal(t, 3, s.NFree())
	assert.Equal(t, []int{0, 1, 3}, s.Free())

	ext := s.External(nil, s.Internal(nil))
	for i, p := range ps {
		assert.InDelta(t, p.Value, ext[i], 1e-9, p.Name)
	}
}

func TestSpaceClampsStartValue(t *testing.T) {
	s := NewSpace([]Param{{Name: "a", Value: 12, Min: 0, Max: 10}})
	ext := s.External(nil, s.Internal(nil))
	assert.InDelta(t, 10, ext[0], 1e-9)
}

func TestMinimizeChi2(t *testing.T) {
	// chi2 = ((x-3)/0.5)^2 + ((y+1)/2)^2
	fcn := func(p []float64) float64 {
		return math.Pow((p[0]-3)/0.5, 2) + math.Pow((p[1]+1)/2, 2)
	}
	res, err := Minimize(fcn, []Param{
		{Name: "x", Value: 1, Min: -10, Max: 10},
		{Name: "y", Value: 4},
	}, 1)
	require.NoError(t, err)
	assert.InDelta(t, 3, res.Values[0], 1e-3)
	assert.InDelta(t, -1, res.Values[1], 1e-3)
	assert.InDelta(t, 0.5, res.Errors[0], 0.02)
	assert.InDelta(t, 2, res.Errors[1], 0.05)
	assert.InDelta(t, 0, res.Min, 1e-6)
}

func TestMinimizeFixed(t *testing.T) {
	fcn := func(p []float64) float64 {
		return math.Pow(p[0]-p[1], 2)
	}
	res, err := Minimize(fcn, []Param{
		{Name: "x", Value: 0},
		{Name: "k", Value: 4, Fixed: true},
	}, 1)
	require.NoError(t, err)
	assert.InDelta(t, 4, res.Values[0], 1e-3)
	assert.Equal(t, 4.0, res.Values[1])
	assert.Zero(t, res.Errors[1])
}

func TestMinimizeAllFixed(t *testing.T) {
	res, err := Minimize(func(p []float64) float64 { return p[0] * 2 },
		[]Param{{Name: "x", Value: 3, Fixed: true}}, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 6.0, res.Min)
}
