package calib

import (
	"fmt"
	"math"

	"go-hep.org/x/hep/fit"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"

	"github.com/decibelcooper/calibplot/fitter"
	"github.com/decibelcooper/calibplot/internal/minim"
)

// CurveFit is the outcome of a least-squares fit of a curve to points
// with errors on both coordinates.
type CurveFit struct {
	Names  []string
	Params []float64
	Errors []float64
	Chi2   float64
	NDF    int
}

// Map returns the fitted parameters by name.
func (c CurveFit) Map() map[string]float64 {
	m := make(map[string]float64, 2*len(c.Names))
	for i, n := range c.Names {
		m[n] = c.Params[i]
		m[n+"_err"] = c.Errors[i]
	}
	return m
}

type points struct {
	x, y, ex, ey []float64
}

type curveFunc func(x float64, ps []float64) float64

// fitCurve minimises the chi-square of f against pts, using the effective
// variance ey^2 + (f'(x)*ex)^2 evaluated at the previous solution. The
// minimisation is done twice so the effective variance follows the curve.
func fitCurve(f curveFunc, ps []minim.Param, pts points) (CurveFit, error) {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = p.Name
	}
	space := minim.NewSpace(ps)
	ndf := len(pts.x) - space.NFree()
	if ndf < 0 || len(pts.x) == 0 {
		return CurveFit{}, fmt.Errorf("%w: %d points for %d free parameters", ErrTooFewPoints, len(pts.x), space.NFree())
	}

	in := space.Internal(nil)
	ext := space.External(nil, in)
	errs := make([]float64, len(pts.x))

	for pass := 0; pass < 2 && space.NFree() > 0; pass++ {
		effective(f, ext, pts, errs)
		res, err := fit.Curve1D(
			fit.Func1D{
				F: func(x float64, in []float64) float64 {
					return f(x, space.External(nil, in))
				},
				X:   pts.x,
				Y:   pts.y,
				Err: errs,
				Ps:  in,
			},
			minim.Settings(),
			&optimize.NelderMead{},
		)
		if err != nil || res == nil || failedStatus(res.Status) {
			cerr := &fitter.ConvergenceError{NDF: ndf, Err: err, Chi2: math.NaN()}
			if res != nil {
				cerr.Status = res.Status
				cerr.Chi2 = chi2(f, space.External(nil, res.X), pts, errs)
			}
			if cerr.Err == nil {
				cerr.Err = minim.ErrNoConvergence
			}
			return CurveFit{}, cerr
		}
		in = res.X
		ext = space.External(nil, in)
	}

	effective(f, ext, pts, errs)
	out := CurveFit{
		Names:  names,
		Params: ext,
		Chi2:   chi2(f, ext, pts, errs),
		NDF:    ndf,
	}
	_, out.Errors = minim.Errors(func(ps []float64) float64 {
		return chi2(f, ps, pts, errs)
	}, ext, space.Free(), 1)
	return out, nil
}

func failedStatus(st optimize.Status) bool {
	switch st {
	case optimize.Failure, optimize.IterationLimit, optimize.FunctionEvaluationLimit, optimize.RuntimeLimit:
		return true
	}
	return false
}

// effective fills errs with the effective y errors of pts under f(ps).
// Points with no error get a unit weight.
func effective(f curveFunc, ps []float64, pts points, errs []float64) {
	for i, x := range pts.x {
		var slope float64
		if ex := pts.ex[i]; ex > 0 {
			slope = fd.Derivative(func(x float64) float64 { return f(x, ps) }, x, &fd.Settings{Formula: fd.Central})
		}
		v := pts.ey[i]*pts.ey[i] + slope*slope*pts.ex[i]*pts.ex[i]
		switch {
		case v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v):
			errs[i] = math.Sqrt(v)
		default:
			errs[i] = 1
		}
	}
}

func chi2(f curveFunc, ps []float64, pts points, errs []float64) float64 {
	sum := 0.0
	for i, x := range pts.x {
		d := (pts.y[i] - f(x, ps)) / errs[i]
		sum += d * d
	}
	if math.IsNaN(sum) {
		return math.Inf(1)
	}
	return sum
}
