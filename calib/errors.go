package calib

import (
	"errors"
	"fmt"

	"github.com/decibelcooper/calibplot/hist"
)

var (
	// ErrDomain is returned for slice ranges outside the histogram or
	// empty ones.
	ErrDomain = hist.ErrDomain

	// ErrDegenerateSlice is returned when a slice holds too few entries
	// to be fitted.
	ErrDegenerateSlice = errors.New("calib: degenerate slice")

	// ErrTooFewPoints is returned when a curve has fewer points than free
	// parameters.
	ErrTooFewPoints = errors.New("calib: not enough points for curve fit")
)

// SliceError reports the x bin whose fit stopped a slice scan.
type SliceError struct {
	Bin int
	Err error
}

func (e *SliceError) Error() string {
	return fmt.Sprintf("calib: slice %d: %v", e.Bin, e.Err)
}

func (e *SliceError) Unwrap() error { return e.Err }
