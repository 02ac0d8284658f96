// Package fitter fits additive mixtures of parametric shapes (Gaussian,
// exponential, exponentially modified Gaussian, Crystal Ball, polynomial)
// to go-hep histograms with a binned maximum likelihood.
//
// An Engine keeps the registered shapes and the last fit result. It is
// meant to be owned by a single goroutine: parallel fits use one Clone per
// worker, or call FitMixture directly on Mixture values.
package fitter

import (
	"fmt"

	"go-hep.org/x/hep/hbook"
)

// Engine registers shapes over an observable and fits mixtures of them.
type Engine struct {
	obs    Observable
	shapes []Shape
	next   int

	last     *FitResult
	lastHist *hbook.H1D
}

// NewEngine returns an engine over obs with one shape per family.
func NewEngine(obs Observable, fams ...Family) (*Engine, error) {
	if !(obs.Min < obs.Max) {
		return nil, fmt.Errorf("fitter: observable %q has an empty range [%v, %v]", obs.Name, obs.Min, obs.Max)
	}
	e := &Engine{obs: obs}
	for _, f := range fams {
		if _, err := e.Register(f); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) Observable() Observable { return e.obs }

// Register adds a new shape of family f with default parameters, overridden
// by specs, and returns its identifier. Indices are shared by all families
// and follow registration order.
func (e *Engine) Register(f Family, specs ...ParamSpec) (ShapeID, error) {
	if !f.valid() {
		return ShapeID{}, fmt.Errorf("%w: %v", ErrInvalidShape, f)
	}
	id := ShapeID{Family: f, Index: e.next}
	s := Shape{ID: id, Params: f.defaults(id, e.obs)}
	for _, spec := range specs {
		i := s.index(spec.Kind, spec.N)
		if i < 0 {
			return ShapeID{}, fmt.Errorf("%w: %v has no %v", ErrUnknownParameter, id, spec.Kind)
		}
		p := &s.Params[i]
		p.Value = spec.Value
		p.Fixed = spec.Fixed
		if spec.Min < spec.Max {
			p.Min, p.Max = spec.Min, spec.Max
		}
	}
	e.shapes = append(e.shapes, s)
	e.next++
	return id, nil
}

// RegisterByName registers a shape of the family named name.
func (e *Engine) RegisterByName(name string, specs ...ParamSpec) (ShapeID, error) {
	f, err := ParseFamily(name)
	if err != nil {
		return ShapeID{}, err
	}
	return e.Register(f, specs...)
}

func (s Shape) index(k ParamKind, n int) int {
	for i, p := range s.Params {
		if p.Key.Kind == k && p.Key.N == n {
			return i
		}
	}
	return -1
}

// Shapes returns the registered shape identifiers in registration order.
func (e *Engine) Shapes() []ShapeID {
	ids := make([]ShapeID, len(e.shapes))
	for i, s := range e.shapes {
		ids[i] = s.ID
	}
	return ids
}

func (e *Engine) param(key ParamKey) (*Parameter, error) {
	for i := range e.shapes {
		if e.shapes[i].ID != key.Shape {
			continue
		}
		if j := e.shapes[i].index(key.Kind, key.N); j >= 0 {
			return &e.shapes[i].Params[j], nil
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrUnknownParameter, key)
}

// Parameter returns the current state of key.
func (e *Engine) Parameter(key ParamKey) (Parameter, error) {
	p, err := e.param(key)
	if err != nil {
		return Parameter{}, err
	}
	return *p, nil
}

// SetParameter sets the start value of key.
func (e *Engine) SetParameter(key ParamKey, v float64) error {
	p, err := e.param(key)
	if err != nil {
		return err
	}
	p.Value = v
	return nil
}

// SetParameterRange sets the start value of key and, when lo < hi, its
// allowed range.
func (e *Engine) SetParameterRange(key ParamKey, v, lo, hi float64) error {
	p, err := e.param(key)
	if err != nil {
		return err
	}
	p.Value = v
	if lo < hi {
		p.Min, p.Max = lo, hi
	}
	return nil
}

// SetParameterByName is SetParameter/SetParameterRange addressed with the
// "{family}_{index}_{param}" name. bounds holds either nothing or lo, hi.
func (e *Engine) SetParameterByName(name string, v float64, bounds ...float64) error {
	key, err := ParseParamKey(name)
	if err != nil {
		return err
	}
	switch len(bounds) {
	case 0:
		return e.SetParameter(key, v)
	case 2:
		return e.SetParameterRange(key, v, bounds[0], bounds[1])
	}
	return fmt.Errorf("fitter: %s needs zero or two bounds, got %d", name, len(bounds))
}

// FixParameter holds key at v during fits.
func (e *Engine) FixParameter(key ParamKey, v float64) error {
	p, err := e.param(key)
	if err != nil {
		return err
	}
	p.Value, p.Fixed = v, true
	return nil
}

// ReleaseParameter lets key float again.
func (e *Engine) ReleaseParameter(key ParamKey) error {
	p, err := e.param(key)
	if err != nil {
		return err
	}
	p.Fixed = false
	return nil
}

// Mixture returns a mixture of the requested shapes, in the requested
// order, or of all registered shapes when ids is empty. The last shape
// gets the derived weight.
func (e *Engine) Mixture(ids ...ShapeID) (Mixture, error) {
	if len(e.shapes) == 0 {
		return Mixture{}, fmt.Errorf("%w: no shape registered", ErrInvalidShape)
	}
	if len(ids) == 0 {
		return NewMixture(e.shapes...)
	}
	shapes := make([]Shape, 0, len(ids))
	for _, id := range ids {
		s, ok := e.shape(id)
		if !ok {
			return Mixture{}, fmt.Errorf("%w: %v not registered", ErrInvalidShape, id)
		}
		shapes = append(shapes, s)
	}
	return NewMixture(shapes...)
}

func (e *Engine) shape(id ShapeID) (Shape, bool) {
	for _, s := range e.shapes {
		if s.ID == id {
			return s, true
		}
	}
	return Shape{}, false
}

// Fit fits a mixture of ids (all shapes when empty) to h over
// [dmin, dmax]. The registered start values are left untouched; the result
// is kept for IntegralOf and Render until the next call.
func (e *Engine) Fit(h *hbook.H1D, dmin, dmax float64, ids ...ShapeID) (*FitResult, error) {
	e.last, e.lastHist = nil, nil
	m, err := e.Mixture(ids...)
	if err != nil {
		return nil, err
	}
	res, err := FitMixture(m, h, dmin, dmax)
	if err != nil {
		return nil, err
	}
	e.last, e.lastHist = res, h
	return res, nil
}

// Result returns the last fit result, or nil.
func (e *Engine) Result() *FitResult { return e.last }

// IntegralOf returns the weighted integral of id over [lo, hi] for the
// last fit.
func (e *Engine) IntegralOf(id ShapeID, lo, hi float64) (float64, error) {
	if e.last == nil {
		return 0, ErrNotFitted
	}
	return e.last.IntegralOf(id, lo, hi)
}

// Clone returns an independent engine with the same observable and shapes
// and no fit result.
func (e *Engine) Clone() *Engine {
	c := &Engine{obs: e.obs, next: e.next, shapes: make([]Shape, len(e.shapes))}
	for i, s := range e.shapes {
		c.shapes[i] = s.clone()
	}
	return c
}
