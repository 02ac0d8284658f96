package fitter

import (
	"fmt"
	"math"

	"go-hep.org/x/hep/hbook"

	"github.com/decibelcooper/calibplot/hist"
	"github.com/decibelcooper/calibplot/internal/minim"
)

// Shape is a shape instance with its parameters, in the order defined by
// its family.
type Shape struct {
	ID     ShapeID
	Params []Parameter
}

func (s Shape) clone() Shape {
	ps := make([]Parameter, len(s.Params))
	copy(ps, s.Params)
	return Shape{ID: s.ID, Params: ps}
}

func (s Shape) values() []float64 {
	vs := make([]float64, len(s.Params))
	for i, p := range s.Params {
		vs[i] = p.Value
	}
	return vs
}

// Mixture is an additive model sum_i w_i*pdf_i with one fraction per shape
// but the last, whose weight is one minus the sum of the others.
// A Mixture is a value: the fit never modifies it.
type Mixture struct {
	shapes    []Shape
	fractions []Parameter
}

// NewMixture builds a mixture of the given shapes with equal starting
// fractions.
func NewMixture(shapes ...Shape) (Mixture, error) {
	if len(shapes) == 0 {
		return Mixture{}, fmt.Errorf("%w: empty mixture", ErrInvalidShape)
	}
	seen := make(map[ShapeID]bool, len(shapes))
	m := Mixture{shapes: make([]Shape, len(shapes))}
	for i, s := range shapes {
		if !s.ID.Family.valid() || len(s.Params) != len(s.ID.Family.defaults(s.ID, Observable{Min: 0, Max: 1})) {
			return Mixture{}, fmt.Errorf("%w: %v", ErrInvalidShape, s.ID)
		}
		if seen[s.ID] {
			return Mixture{}, fmt.Errorf("%w: %v used twice", ErrInvalidShape, s.ID)
		}
		seen[s.ID] = true
		m.shapes[i] = s.clone()
	}
	n := len(shapes)
	for _, s := range shapes[:n-1] {
		m.fractions = append(m.fractions, Parameter{
			Key:   ParamKey{Shape: s.ID, Kind: Fraction},
			Value: 1 / float64(n),
			Min:   0,
			Max:   1,
		})
	}
	return m, nil
}

// WithFractions returns a copy of m with the given fraction values, one per
// shape but the last.
func (m Mixture) WithFractions(fs ...float64) (Mixture, error) {
	if len(fs) != len(m.fractions) {
		return Mixture{}, fmt.Errorf("fitter: mixture needs %d fractions, got %d", len(m.fractions), len(fs))
	}
	out := m.clone()
	for i, f := range fs {
		out.fractions[i].Value = f
	}
	return out, nil
}

func (m Mixture) clone() Mixture {
	out := Mixture{
		shapes:    make([]Shape, len(m.shapes)),
		fractions: make([]Parameter, len(m.fractions)),
	}
	for i, s := range m.shapes {
		out.shapes[i] = s.clone()
	}
	copy(out.fractions, m.fractions)
	return out
}

// Shapes returns a copy of the shapes of m.
func (m Mixture) Shapes() []Shape {
	return m.clone().shapes
}

// Weights returns the weight of each shape, the derived one last.
func (m Mixture) Weights() []float64 {
	ws := make([]float64, len(m.shapes))
	last := 1.0
	for i, f := range m.fractions {
		ws[i] = f.Value
		last -= f.Value
	}
	ws[len(ws)-1] = last
	return ws
}

// params flattens the free parameters of m for the minimizer: shape
// parameters first, then fractions.
func (m Mixture) params() []minim.Param {
	var ps []minim.Param
	for _, s := range m.shapes {
		for _, p := range s.Params {
			ps = append(ps, minim.Param{Name: p.Key.String(), Value: p.Value, Min: p.Min, Max: p.Max, Fixed: p.Fixed})
		}
	}
	for _, f := range m.fractions {
		ps = append(ps, minim.Param{Name: f.Key.String(), Value: f.Value, Min: f.Min, Max: f.Max, Fixed: f.Fixed})
	}
	return ps
}

// NFree returns the number of free parameters of m, fractions included.
func (m Mixture) NFree() int {
	n := 0
	for _, p := range m.params() {
		if !p.Fixed {
			n++
		}
	}
	return n
}

// with returns a copy of m holding the flattened values vs.
func (m Mixture) with(vs, errs []float64) Mixture {
	out := m.clone()
	i := 0
	for s := range out.shapes {
		for p := range out.shapes[s].Params {
			out.shapes[s].Params[p].Value = vs[i]
			if errs != nil {
				out.shapes[s].Params[p].Error = errs[i]
			}
			i++
		}
	}
	for f := range out.fractions {
		out.fractions[f].Value = vs[i]
		if errs != nil {
			out.fractions[f].Error = errs[i]
		}
		i++
	}
	return out
}

// Eval returns the normalised mixture density at x, each shape being
// normalised over [lo, hi].
func (m Mixture) Eval(x, lo, hi float64) float64 {
	ws := m.Weights()
	v := 0.0
	for i, s := range m.shapes {
		vs := s.values()
		norm := s.ID.Family.integral(lo, hi, vs)
		if norm <= 0 {
			return math.NaN()
		}
		v += ws[i] * s.ID.Family.eval(x, vs) / norm
	}
	return v
}

// Component returns the weighted, normalised density of one shape at x.
func (m Mixture) Component(id ShapeID, x, lo, hi float64) (float64, error) {
	ws := m.Weights()
	for i, s := range m.shapes {
		if s.ID != id {
			continue
		}
		vs := s.values()
		return ws[i] * s.ID.Family.eval(x, vs) / s.ID.Family.integral(lo, hi, vs), nil
	}
	return 0, fmt.Errorf("%w: %v not in mixture", ErrInvalidShape, id)
}

// binned holds the histogram bins entering a fit.
type binned struct {
	lo, hi []float64
	n      []float64
	total  float64
	xmin   float64
	xmax   float64
}

func binsInRange(h *hbook.H1D, dmin, dmax float64) (binned, error) {
	var b binned
	if !(dmin < dmax) {
		return b, fmt.Errorf("%w: empty fit range [%v, %v]", hist.ErrDomain, dmin, dmax)
	}
	ax := hist.Axis(h)
	if dmin < ax.Min || dmax > ax.Max {
		return b, fmt.Errorf("%w: fit range [%v, %v] outside histogram [%v, %v]", hist.ErrDomain, dmin, dmax, ax.Min, ax.Max)
	}
	for i := 0; i < ax.Bins; i++ {
		c := ax.BinCenter(i)
		if c < dmin || c > dmax {
			continue
		}
		n := hist.Content(h, i)
		if n < 0 {
			n = 0
		}
		b.lo = append(b.lo, ax.BinLowEdge(i))
		b.hi = append(b.hi, ax.BinUpEdge(i))
		b.n = append(b.n, n)
		b.total += n
	}
	if len(b.n) == 0 {
		return b, fmt.Errorf("%w: no bin centre in fit range [%v, %v]", hist.ErrDomain, dmin, dmax)
	}
	b.xmin, b.xmax = b.lo[0], b.hi[len(b.hi)-1]
	return b, nil
}

// probs returns the probability of each bin under m, or false when m is
// not a valid density over the bins.
func (b binned) probs(m Mixture) ([]float64, bool) {
	ws := m.Weights()
	ps := make([]float64, len(b.n))
	for k, s := range m.shapes {
		if ws[k] == 0 {
			continue
		}
		vs := s.values()
		norm := s.ID.Family.integral(b.xmin, b.xmax, vs)
		if !(norm > 0) || math.IsInf(norm, 0) {
			return nil, false
		}
		for i := range ps {
			ps[i] += ws[k] * s.ID.Family.integral(b.lo[i], b.hi[i], vs) / norm
		}
	}
	return ps, true
}

const penalty = 1e30

func (b binned) nll(m Mixture) float64 {
	ws := m.Weights()
	extra := 0.0
	if last := ws[len(ws)-1]; last < 0 {
		extra = 1e3 * b.total * last * last
		m = m.clampLast()
	}
	ps, ok := b.probs(m)
	if !ok {
		return penalty
	}
	nll := 0.0
	for i, n := range b.n {
		if n == 0 {
			continue
		}
		if !(ps[i] > 0) {
			return penalty
		}
		nll -= n * math.Log(ps[i])
	}
	return nll + extra
}

func (m Mixture) clampLast() Mixture {
	out := m.clone()
	sum := 0.0
	for _, f := range out.fractions {
		sum += f.Value
	}
	for i := range out.fractions {
		out.fractions[i].Value /= sum
	}
	return out
}

// chi2 returns the Pearson chi-square of m against the bins. A bin with
// entries but no expected entries adds its content.
func (b binned) chi2(m Mixture) float64 {
	ps, ok := b.probs(m)
	if !ok {
		return math.NaN()
	}
	chi2 := 0.0
	for i, n := range b.n {
		mu := b.total * ps[i]
		if mu <= 0 {
			chi2 += n
			continue
		}
		chi2 += (n - mu) * (n - mu) / mu
	}
	return chi2
}

// Chi2 evaluates m against h over [dmin, dmax] without fitting.
func Chi2(m Mixture, h *hbook.H1D, dmin, dmax float64) (float64, error) {
	b, err := binsInRange(h, dmin, dmax)
	if err != nil {
		return 0, err
	}
	if b.total <= 0 {
		return 0, ErrEmptyHistogram
	}
	return b.chi2(m), nil
}

// FitMixture fits m to the contents of h over [dmin, dmax] with a binned
// maximum likelihood and returns the fitted mixture in the result. m is
// not modified.
func FitMixture(m Mixture, h *hbook.H1D, dmin, dmax float64) (*FitResult, error) {
	if len(m.shapes) == 0 {
		return nil, fmt.Errorf("%w: empty mixture", ErrInvalidShape)
	}
	b, err := binsInRange(h, dmin, dmax)
	if err != nil {
		return nil, err
	}
	if b.total <= 0 {
		return nil, fmt.Errorf("%w: [%v, %v]", ErrEmptyHistogram, dmin, dmax)
	}

	ps := m.params()
	fcn := func(vs []float64) float64 {
		return b.nll(m.with(vs, nil))
	}
	ndf := len(b.n) - m.NFree()

	res, err := minim.Minimize(fcn, ps, 0.5)
	if err == nil && !validMinimum(res) {
		err = fmt.Errorf("no valid point found (nll=%g)", res.Min)
	}
	if err != nil {
		chi2 := math.NaN()
		if res.Values != nil {
			chi2 = b.chi2(m.with(res.Values, nil))
		}
		return nil, &ConvergenceError{Status: res.Status, Chi2: chi2, NDF: ndf, Err: err}
	}

	fitted := m.with(res.Values, res.Errors)
	out := newResult(fitted, b, res, ndf)
	return out, nil
}

// validMinimum reports whether the minimiser ended on a point where the
// model describes every filled bin.
func validMinimum(res minim.Result) bool {
	if !(res.Min < penalty) {
		return false
	}
	for _, v := range res.Values {
		if math.IsNaN(v) {
			return false
		}
	}
	return true
}
