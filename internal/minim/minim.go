// Package minim holds the parameter bookkeeping shared by the histogram
// fitter and the calibration curve fits: bounded and fixed parameters,
// the mapping onto the unconstrained coordinates seen by the gonum
// minimizers, and Hessian based parameter errors.
package minim

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// Param is one fit parameter. The parameter is bounded when Min < Max.
type Param struct {
	Name     string
	Value    float64
	Min, Max float64
	Fixed    bool
}

func (p Param) Bounded() bool { return p.Min < p.Max }

// Space maps the full (external) parameter vector onto the free, unbounded
// coordinates handed to the minimizer. Bounded parameters go through the
// MINUIT sine transform, unbounded ones are rescaled by their start value.
type Space struct {
	params []Param
	free   []int
	scale  []float64
}

func NewSpace(ps []Param) *Space {
	s := &Space{params: make([]Param, len(ps))}
	copy(s.params, ps)
	for i, p := range s.params {
		if p.Bounded() {
			s.params[i].Value = clamp(p.Value, p.Min, p.Max)
		}
		if p.Fixed {
			continue
		}
		s.free = append(s.free, i)
		sc := math.Abs(p.Value)
		if sc == 0 || p.Bounded() {
			sc = 1
		}
		s.scale = append(s.scale, sc)
	}
	return s
}

func (s *Space) NFree() int { return len(s.free) }

// Free returns the external indices of the free parameters.
func (s *Space) Free() []int { return s.free }

// Params returns a copy of the parameters the space was built from.
func (s *Space) Params() []Param {
	out := make([]Param, len(s.params))
	copy(out, s.params)
	return out
}

// Internal returns the internal coordinates of the external vector ext.
// A nil ext means the start values.
func (s *Space) Internal(ext []float64) []float64 {
	in := make([]float64, len(s.free))
	for j, i := range s.free {
		p := s.params[i]
		v := p.Value
		if ext != nil {
			v = ext[i]
		}
		switch {
		case p.Bounded():
			u := 2*(clamp(v, p.Min, p.Max)-p.Min)/(p.Max-p.Min) - 1
			in[j] = math.Asin(clamp(u, -1, 1))
		default:
			in[j] = v / s.scale[j]
		}
	}
	return in
}

// External fills dst with the external vector for the internal point in.
// dst is allocated when nil.
func (s *Space) External(dst, in []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(s.params))
	}
	for i, p := range s.params {
		dst[i] = p.Value
	}
	for j, i := range s.free {
		p := s.params[i]
		switch {
		case p.Bounded():
			dst[i] = p.Min + 0.5*(p.Max-p.Min)*(math.Sin(in[j])+1)
		default:
			dst[i] = in[j] * s.scale[j]
		}
	}
	return dst
}

// Result is the outcome of Minimize.
type Result struct {
	Values []float64 // external values, fixed parameters included
	Errors []float64 // zero for fixed or undetermined parameters
	Cov    *mat.SymDense
	Min    float64
	Status optimize.Status
	Evals  int
}

// ErrNoConvergence is returned by Minimize when the minimizer stops on a
// failure or a resource limit.
var ErrNoConvergence = errors.New("minim: minimizer did not converge")

// Settings returns the optimize settings used by the fitters.
func Settings() *optimize.Settings {
	return &optimize.Settings{
		FuncEvaluations: 50000,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-9,
			Relative:   1e-12,
			Iterations: 200,
		},
	}
}

// Minimize minimizes fcn over the free parameters of ps with Nelder-Mead.
// The minimizer is restarted once from the first solution. up is the
// function change defining one standard deviation (0.5 for a negative
// log-likelihood, 1 for a chi-square).
func Minimize(fcn func(ext []float64) float64, ps []Param, up float64) (Result, error) {
	s := NewSpace(ps)
	res := Result{Values: s.External(nil, s.Internal(nil))}
	if s.NFree() == 0 {
		res.Min = fcn(res.Values)
		res.Errors = make([]float64, len(ps))
		res.Status = optimize.Success
		return res, nil
	}

	buf := make([]float64, len(ps))
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			return fcn(s.External(buf, x))
		},
	}

	x := s.Internal(nil)
	var (
		status optimize.Status
		fmin   float64
		evals  int
	)
	for pass := 0; pass < 2; pass++ {
		r, err := optimize.Minimize(problem, x, Settings(), &optimize.NelderMead{})
		if r != nil {
			evals += r.Stats.FuncEvaluations
		}
		if err != nil || r == nil {
			if r != nil {
				res.Status = r.Status
				res.Values = s.External(nil, r.X)
				res.Min = r.F
			}
			res.Evals = evals
			return res, fmt.Errorf("%w: %v", ErrNoConvergence, err)
		}
		x = r.X
		status = r.Status
		fmin = r.F
	}

	res.Values = s.External(nil, x)
	res.Min = fmin
	res.Status = status
	res.Evals = evals
	if failed(status) || math.IsNaN(fmin) || math.IsInf(fmin, 0) {
		return res, fmt.Errorf("%w: status %v", ErrNoConvergence, status)
	}

	res.Cov, res.Errors = Errors(fcn, res.Values, s.Free(), up)
	return res, nil
}

func failed(st optimize.Status) bool {
	switch st {
	case optimize.Failure, optimize.IterationLimit, optimize.FunctionEvaluationLimit, optimize.RuntimeLimit:
		return true
	}
	return false
}

// Errors estimates the covariance of the free parameters at the minimum x
// from the numerical Hessian of fcn. Errors of parameters that are not
// free, or whose variance is not positive, are zero.
func Errors(fcn func(ext []float64) float64, x []float64, free []int, up float64) (*mat.SymDense, []float64) {
	errs := make([]float64, len(x))
	n := len(free)
	if n == 0 {
		return nil, errs
	}

	steps := make([]float64, n)
	for j, i := range free {
		steps[j] = 1e-3 * math.Max(math.Abs(x[i]), 1e-2)
	}

	ext := make([]float64, len(x))
	g := func(u []float64) float64 {
		copy(ext, x)
		for j, i := range free {
			ext[i] = x[i] + u[j]*steps[j]
		}
		return fcn(ext)
	}

	h := mat.NewSymDense(n, nil)
	fd.Hessian(h, g, make([]float64, n), &fd.Settings{Step: 1})

	var inv mat.Dense
	if err := inv.Inverse(h); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, errs
		}
	}

	cov := mat.NewSymDense(n, nil)
	for a := 0; a < n; a++ {
		for b := a; b < n; b++ {
			cov.SetSym(a, b, 2*up*inv.At(a, b)*steps[a]*steps[b])
		}
	}
	for j, i := range free {
		if v := cov.At(j, j); v > 0 && !math.IsInf(v, 0) {
			errs[i] = math.Sqrt(v)
		}
	}
	return cov, errs
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
