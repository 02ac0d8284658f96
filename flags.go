package calibplot

import (
	"fmt"
	"strconv"
	"strings"
)

// FloatArrayFlags collects repeated float flags, replacing the default on
// first use.
type FloatArrayFlags struct {
	Array   []float64
	beenSet bool
}

func (f *FloatArrayFlags) Set(valueStr string) error {
	for _, tok := range strings.Split(valueStr, ",") {
		value, err := strconv.ParseFloat(strings.TrimSpace(tok), 64)
		if err != nil {
			return err
		}

		if !f.beenSet {
			f.beenSet = true
			f.Array = nil
		}

		f.Array = append(f.Array, value)
	}
	return nil
}

func (f *FloatArrayFlags) String() string {
	return fmt.Sprint(f.Array)
}

// RangeFlag is a "lo:hi" flag value.
type RangeFlag struct {
	Lo, Hi float64
}

func (r *RangeFlag) Set(valueStr string) error {
	toks := strings.Split(valueStr, ":")
	if len(toks) != 2 {
		return fmt.Errorf("invalid range %q, want lo:hi", valueStr)
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(toks[0]), 64)
	if err != nil {
		return err
	}
	hi, err := strconv.ParseFloat(strings.TrimSpace(toks[1]), 64)
	if err != nil {
		return err
	}
	if !(lo < hi) {
		return fmt.Errorf("invalid range %q, lo must be below hi", valueStr)
	}
	r.Lo, r.Hi = lo, hi
	return nil
}

func (r *RangeFlag) String() string {
	return fmt.Sprintf("%g:%g", r.Lo, r.Hi)
}
