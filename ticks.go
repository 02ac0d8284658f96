package calibplot

import (
	"math"
	"strconv"

	"gonum.org/v1/plot"
)

// PreciseTicks places major ticks on round values with enough digits to
// tell neighbouring labels apart, and minor ticks in between.
type PreciseTicks struct {
	NSuggestedTicks int
}

func (t PreciseTicks) Ticks(min, max float64) []plot.Tick {
	if t.NSuggestedTicks == 0 {
		t.NSuggestedTicks = 4
	}
	if max <= min {
		return []plot.Tick{{Value: min, Label: formatFloatTick(min, -1)}}
	}

	mult, step := majorStep(max-min, t.NSuggestedTicks)

	var ticks []plot.Tick
	major := make(map[float64]bool)
	first := math.Floor(min/step) * step
	prec := int(math.Ceil(math.Log10(math.Max(math.Abs(min), math.Abs(max))+step)) - math.Floor(math.Log10(step)))
	for v := first; v <= max; v += step {
		if v < min {
			continue
		}
		r := round(v, prec)
		major[r] = true
		ticks = append(ticks, plot.Tick{Value: r, Label: formatFloatTick(r, -1)})
	}

	minor := step / 2
	switch mult {
	case 3, 6:
		minor = step / 3
	case 5:
		minor = step / 5
	}
	for v := math.Floor(min/minor) * minor; v <= max; v += minor {
		if v >= min && !major[v] {
			ticks = append(ticks, plot.Tick{Value: v})
		}
	}
	return ticks
}

// majorStep returns the spacing of about n major ticks over span, a round
// multiple of a power of ten, together with that multiple.
func majorStep(span float64, n int) (int, float64) {
	tens := math.Pow10(int(math.Floor(math.Log10(span))))
	for span/tens < float64(n-1) {
		tens /= 10
	}
	mult := int(span / tens / float64(n-1))
	switch {
	case mult < 1:
		mult = 1
	case mult == 7:
		mult = 6
	case mult == 9:
		mult = 8
	}
	return mult, float64(mult) * tens
}

func round(x float64, prec int) float64 {
	if x == 0 || (prec >= 0 && x == math.Trunc(x)) {
		return x
	}
	pow := math.Pow10(prec)
	if math.IsInf(x*pow, 0) {
		return x
	}
	r := math.Round(x*pow) / pow
	if r == 0 {
		// no negative zero
		return 0
	}
	return r
}

func formatFloatTick(v float64, prec int) string {
	return strconv.FormatFloat(v, 'g', prec, 64)
}

// LogTicks labels each decade of a log axis and puts unlabelled minor ticks
// on its multiples.
type LogTicks struct{}

func (LogTicks) Ticks(min, max float64) []plot.Tick {
	if min <= 0 || max <= min {
		return nil
	}
	var ticks []plot.Tick
	for e := math.Floor(math.Log10(min)); e <= math.Ceil(math.Log10(max)); e++ {
		dec := math.Pow10(int(e))
		for m := 1.0; m < 10; m++ {
			v := m * dec
			if v < min || v > max {
				continue
			}
			tick := plot.Tick{Value: v}
			if m == 1 {
				tick.Label = formatFloatTick(v, -1)
			}
			ticks = append(ticks, tick)
		}
	}
	return ticks
}
