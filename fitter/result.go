package fitter

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/decibelcooper/calibplot/internal/minim"
)

// ShapeResult is the fitted weight of one shape of the mixture.
type ShapeResult struct {
	ID        ShapeID
	Weight    float64
	WeightErr float64
	// Integral is the weighted contribution of the shape over the full
	// fit range. It equals Weight since shapes are normalised over it.
	Integral float64
}

// FitResult is the outcome of one histogram fit. It holds its own copy of
// the fitted mixture and is not affected by later fits.
type FitResult struct {
	Values map[ParamKey]float64
	Errors map[ParamKey]float64
	Shapes []ShapeResult

	// Integral is the contribution of the first shape of the mixture over
	// the full fit range.
	Integral float64
	// Chi2 is the Pearson chi-square over the fit range. A bin with
	// entries where the model expects none adds its content.
	Chi2 float64
	NDF  int
	NLL      float64
	// Entries is the sum of weights of the bins inside the fit range.
	Entries float64
	Status  optimize.Status
	// Range is the fit range actually used, rounded out to bin edges.
	Range [2]float64

	mixture Mixture
}

func newResult(m Mixture, b binned, res minim.Result, ndf int) *FitResult {
	r := &FitResult{
		Values:  make(map[ParamKey]float64),
		Errors:  make(map[ParamKey]float64),
		Chi2:    b.chi2(m),
		NDF:     ndf,
		NLL:     res.Min,
		Entries: b.total,
		Status:  res.Status,
		Range:   [2]float64{b.xmin, b.xmax},
		mixture: m,
	}
	for _, s := range m.shapes {
		for _, p := range s.Params {
			r.Values[p.Key] = p.Value
			r.Errors[p.Key] = p.Error
		}
	}
	for _, f := range m.fractions {
		r.Values[f.Key] = f.Value
		r.Errors[f.Key] = f.Error
	}

	ws := m.Weights()
	lastErr := derivedWeightError(m, res)
	for i, s := range m.shapes {
		sr := ShapeResult{ID: s.ID, Weight: ws[i], Integral: ws[i]}
		switch {
		case i < len(m.fractions):
			sr.WeightErr = m.fractions[i].Error
		default:
			sr.WeightErr = lastErr
		}
		r.Shapes = append(r.Shapes, sr)
	}
	r.Integral = r.Shapes[0].Integral
	return r
}

// derivedWeightError propagates the fraction covariance onto the weight
// of the last shape, 1-sum(f_i).
func derivedWeightError(m Mixture, res minim.Result) float64 {
	if len(m.fractions) == 0 || res.Cov == nil {
		return 0
	}
	nshape := 0
	for _, s := range m.shapes {
		nshape += len(s.Params)
	}
	// map external index to free (covariance) index.
	free := make(map[int]int)
	j := 0
	for i, p := range m.params() {
		if !p.Fixed {
			free[i] = j
			j++
		}
	}
	v := 0.0
	for a := range m.fractions {
		ia, ok := free[nshape+a]
		if !ok {
			continue
		}
		for b := range m.fractions {
			ib, ok := free[nshape+b]
			if !ok {
				continue
			}
			v += res.Cov.At(ia, ib)
		}
	}
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}

// Value returns the fitted value and error of key.
func (r *FitResult) Value(key ParamKey) (value, sigma float64, err error) {
	value, ok := r.Values[key]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %v", ErrUnknownParameter, key)
	}
	return value, r.Errors[key], nil
}

// Shape returns the weight summary of id.
func (r *FitResult) Shape(id ShapeID) (ShapeResult, error) {
	for _, s := range r.Shapes {
		if s.ID == id {
			return s, nil
		}
	}
	return ShapeResult{}, fmt.Errorf("%w: %v not in fit", ErrInvalidShape, id)
}

// Mixture returns the fitted mixture with every parameter fixed at its
// fitted value.
func (r *FitResult) Mixture() Mixture {
	m := r.mixture.clone()
	for i := range m.shapes {
		for j := range m.shapes[i].Params {
			m.shapes[i].Params[j].Fixed = true
		}
	}
	for i := range m.fractions {
		m.fractions[i].Fixed = true
	}
	return m
}

// IntegralOf returns the weighted integral of shape id over [lo, hi], the
// shape being normalised over the fit range.
func (r *FitResult) IntegralOf(id ShapeID, lo, hi float64) (float64, error) {
	ws := r.mixture.Weights()
	for i, s := range r.mixture.shapes {
		if s.ID != id {
			continue
		}
		vs := s.values()
		norm := s.ID.Family.integral(r.Range[0], r.Range[1], vs)
		if norm <= 0 {
			return 0, fmt.Errorf("fitter: %v has no support over the fit range", id)
		}
		return ws[i] * s.ID.Family.integral(lo, hi, vs) / norm, nil
	}
	return 0, fmt.Errorf("%w: %v not in fit", ErrInvalidShape, id)
}

// Purity returns the fraction of the mixture integral over [lo, hi] that
// is attributed to signal.
func (r *FitResult) Purity(signal ShapeID, lo, hi float64) (float64, error) {
	sig, err := r.IntegralOf(signal, lo, hi)
	if err != nil {
		return 0, err
	}
	tot := 0.0
	for _, s := range r.mixture.shapes {
		v, err := r.IntegralOf(s.ID, lo, hi)
		if err != nil {
			return 0, err
		}
		tot += v
	}
	if tot <= 0 {
		return 0, fmt.Errorf("fitter: no model integral in [%v, %v]", lo, hi)
	}
	return sig / tot, nil
}

// Params returns the result as a flat name -> value mapping using the
// "{family}_{index}_{param}" naming, with "_err" suffixed errors and the
// "integral", "chi2" and "ndf" summaries.
func (r *FitResult) Params() map[string]float64 {
	out := make(map[string]float64, 2*len(r.Values)+3)
	for k, v := range r.Values {
		out[k.String()] = v
		out[k.String()+"_err"] = r.Errors[k]
	}
	for _, s := range r.Shapes {
		out[s.ID.String()+"_integral"] = s.Integral
	}
	out["integral"] = r.Integral
	out["chi2"] = r.Chi2
	out["ndf"] = float64(r.NDF)
	return out
}
