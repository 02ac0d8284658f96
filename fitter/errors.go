package fitter

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/optimize"
)

var (
	ErrInvalidShape     = errors.New("fitter: invalid shape")
	ErrUnknownParameter = errors.New("fitter: unknown parameter")
	ErrFitConvergence   = errors.New("fitter: fit did not converge")
	ErrEmptyHistogram   = errors.New("fitter: no entries in fit range")
	ErrNotFitted        = errors.New("fitter: no fit performed")
)

// ConvergenceError reports a failed minimisation together with the fit
// quality reached at the last evaluated point.
type ConvergenceError struct {
	Status optimize.Status
	Chi2   float64
	NDF    int
	Err    error
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("fitter: fit did not converge (status=%v, chi2/ndf=%.4g/%d): %v", e.Status, e.Chi2, e.NDF, e.Err)
}

func (e *ConvergenceError) Unwrap() error { return ErrFitConvergence }
