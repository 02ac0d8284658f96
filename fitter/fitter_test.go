package fitter

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go-hep.org/x/hep/hbook"

	"github.com/decibelcooper/calibplot/hist"
)

func gausHist(rng *rand.Rand, n int, mean, sigma float64) *hbook.H1D {
	h := hbook.NewH1D(100, 0, 10)
	for i := 0; i < n; i++ {
		h.Fill(mean+sigma*rng.NormFloat64(), 1)
	}
	return h
}

func TestParseFamily(t *testing.T) {
	for _, f := range []Family{Gaussian, Exponential, GausExp, CrystalBall, DoubleCrystalBall, Pol(0), Pol(3)} {
		got, err := ParseFamily(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}

	for _, s := range []string{"", "landau", "pol", "pol-1", "polx"} {
		_, err := ParseFamily(s)
		assert.ErrorIs(t, err, ErrInvalidShape, s)
	}
}

func TestParamKeyNames(t *testing.T) {
	keys := []ParamKey{
		{Shape: ShapeID{Family: Gaussian, Index: 0}, Kind: Mean},
		{Shape: ShapeID{Family: CrystalBall, Index: 2}, Kind: NL},
		{Shape: ShapeID{Family: Exponential, Index: 1}, Kind: Fraction},
		{Shape: ShapeID{Family: Pol(2), Index: 3}, Kind: Coef, N: 1},
	}
	names := []string{"gaus_0_mean", "cb_2_nL", "exp_1_frac", "pol2_3_c1"}
	for i, key := range keys {
		assert.Equal(t, names[i], key.String())
		got, err := ParseParamKey(names[i])
		require.NoError(t, err)
		assert.Equal(t, key, got)
	}

	_, err := ParseParamKey("gaus_0")
	assert.ErrorIs(t, err, ErrUnknownParameter)
	_, err = ParseParamKey("gaus_0_width")
	assert.ErrorIs(t, err, ErrUnknownParameter)
	_, err = ParseParamKey("landau_0_mean")
	assert.ErrorIs(t, err, ErrInvalidShape)
}

func TestEngineParameters(t *testing.T) {
	e, err := NewEngine(Observable{Name: "x", Min: 0, Max: 10}, Gaussian, Exponential)
	require.NoError(t, err)
	ids := e.Shapes()
	require.Len(t, ids, 2)
	assert.Equal(t, "gaus_0", ids[0].String())
	assert.Equal(t, "exp_1", ids[1].String())

	require.NoError(t, e.SetParameterByName("gaus_0_mean", 4, 3, 6))
	p, err := e.Parameter(ParamKey{Shape: ids[0], Kind: Mean})
	require.NoError(t, err)
	assert.Equal(t, 4.0, p.Value)
	assert.Equal(t, 3.0, p.Min)
	assert.Equal(t, 6.0, p.Max)

	err = e.SetParameterByName("gaus_7_mean", 1)
	assert.ErrorIs(t, err, ErrUnknownParameter)
	err = e.SetParameterByName("exp_1_sigma", 1)
	assert.ErrorIs(t, err, ErrUnknownParameter)
	err = e.SetParameterByName("gaus_0_mean", 1, 2)
	assert.Error(t, err)

	_, err = e.Register(Family{})
	assert.ErrorIs(t, err, ErrInvalidShape)
	_, err = e.RegisterByName("landau")
	assert.ErrorIs(t, err, ErrInvalidShape)
	_, err = e.Register(Gaussian, ParamSpec{Kind: Tau, Value: 1})
	assert.ErrorIs(t, err, ErrUnknownParameter)

	c := e.Clone()
	require.NoError(t, c.FixParameter(ParamKey{Shape: ids[0], Kind: Sigma}, 0.7))
	p, err = e.Parameter(ParamKey{Shape: ids[0], Kind: Sigma})
	require.NoError(t, err)
	assert.False(t, p.Fixed)
	assert.Equal(t, 1.0, p.Value)

	_, err = NewEngine(Observable{Min: 1, Max: 1})
	assert.Error(t, err)
}

func TestFitSingleGaussian(t *testing.T) {
	rng := rand.New(rand.NewSource(1234))
	h := gausHist(rng, 100000, 5, 0.5)

	e, err := NewEngine(Observable{Name: "x", Min: 0, Max: 10}, Gaussian)
	require.NoError(t, err)
	res, err := e.Fit(h, 0, 10)
	require.NoError(t, err)

	id := e.Shapes()[0]
	mean, meanErr, err := res.Value(ParamKey{Shape: id, Kind: Mean})
	require.NoError(t, err)
	sigma, _, err := res.Value(ParamKey{Shape: id, Kind: Sigma})
	require.NoError(t, err)

	assert.InDelta(t, 5, mean, 0.02)
	assert.InDelta(t, 0.5, sigma, 0.02)
	assert.InDelta(t, 0.5/math.Sqrt(100000), meanErr, 0.001)

	require.Len(t, res.Shapes, 1)
	assert.Equal(t, 1.0, res.Shapes[0].Weight)
	assert.Equal(t, 1.0, res.Integral)
	assert.Equal(t, 100000.0, res.Entries)
	assert.Equal(t, 100-2, res.NDF)
	assert.Less(t, res.Chi2/float64(res.NDF), 2.0)

	// the engine start values are untouched by the fit.
	p, err := e.Parameter(ParamKey{Shape: id, Kind: Mean})
	require.NoError(t, err)
	assert.Equal(t, 5.0, p.Value)
	assert.Same(t, res, e.Result())

	v, err := e.IntegralOf(id, 0, 10)
	require.NoError(t, err)
	assert.InDelta(t, 1, v, 1e-9)
	v, err = e.IntegralOf(id, 5, 10)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, v, 0.01)

	params := res.Params()
	assert.Equal(t, mean, params["gaus_0_mean"])
	assert.Equal(t, meanErr, params["gaus_0_mean_err"])
	assert.Equal(t, 1.0, params["integral"])
	assert.Equal(t, float64(res.NDF), params["ndf"])
}

func TestFitChi2RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	h := gausHist(rng, 20000, 4.5, 0.8)

	e, err := NewEngine(Observable{Name: "x", Min: 0, Max: 10}, Gaussian)
	require.NoError(t, err)
	res, err := e.Fit(h, 2, 8)
	require.NoError(t, err)

	chi2, err := Chi2(res.Mixture(), h, 2, 8)
	require.NoError(t, err)
	assert.InDelta(t, res.Chi2, chi2, 1e-9)
	assert.InDelta(t, 2, res.Range[0], 1e-9)
	assert.InDelta(t, 8, res.Range[1], 1e-9)
}

func TestFitSignalOverBackground(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	h := gausHist(rng, 20000, 5, 0.3)
	const slope = 0.3
	for i := 0; i < 10000; i++ {
		// inverse CDF of exp(-slope*x) truncated to [0, 10].
		u := rng.Float64()
		x := -math.Log(1-u*(1-math.Exp(-slope*10))) / slope
		h.Fill(x, 1)
	}

	e, err := NewEngine(Observable{Name: "x", Min: 0, Max: 10})
	require.NoError(t, err)
	sig, err := e.Register(Gaussian, ParamSpec{Kind: Sigma, Value: 0.5, Min: 0.05, Max: 2})
	require.NoError(t, err)
	bkg, err := e.Register(Exponential)
	require.NoError(t, err)

	res, err := e.Fit(h, 0, 10)
	require.NoError(t, err)

	s, err := res.Shape(sig)
	require.NoError(t, err)
	b, err := res.Shape(bkg)
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3, s.Weight, 0.03)
	assert.InDelta(t, 1, s.Weight+b.Weight, 1e-12)
	assert.Greater(t, b.WeightErr, 0.0)
	assert.InDelta(t, s.WeightErr, b.WeightErr, 1e-9)

	alpha, _, err := res.Value(ParamKey{Shape: bkg, Kind: Alpha})
	require.NoError(t, err)
	assert.InDelta(t, slope, alpha, 0.05)

	purity, err := res.Purity(sig, 4.4, 5.6)
	require.NoError(t, err)
	assert.Greater(t, purity, 0.8)
	assert.LessOrEqual(t, purity, 1.0)

	// a fit restricted to the signal shape only.
	res, err = e.Fit(h, 3.5, 6.5, sig)
	require.NoError(t, err)
	require.Len(t, res.Shapes, 1)
	_, err = res.Shape(bkg)
	assert.ErrorIs(t, err, ErrInvalidShape)
}

func TestFitDomainErrors(t *testing.T) {
	e, err := NewEngine(Observable{Name: "x", Min: 0, Max: 10}, Gaussian)
	require.NoError(t, err)

	_, err = e.Fit(hbook.NewH1D(100, 0, 10), 0, 10)
	assert.ErrorIs(t, err, ErrEmptyHistogram)

	h := gausHist(rand.New(rand.NewSource(3)), 1000, 5, 1)
	_, err = e.Fit(h, 20, 30)
	assert.ErrorIs(t, err, hist.ErrDomain)
	_, err = e.Fit(h, 6, 4)
	assert.ErrorIs(t, err, hist.ErrDomain)
	_, err = e.Fit(h, -1, 5)
	assert.ErrorIs(t, err, hist.ErrDomain)
	_, err = e.Fit(h, 5, 12)
	assert.ErrorIs(t, err, hist.ErrDomain)
	_, err = Chi2(mustMixture(t, e), h, 5, 12)
	assert.ErrorIs(t, err, hist.ErrDomain)
	assert.Nil(t, e.Result())

	_, err = e.IntegralOf(e.Shapes()[0], 0, 1)
	assert.ErrorIs(t, err, ErrNotFitted)

	_, err = e.Fit(h, 0, 10, ShapeID{Family: Exponential, Index: 9})
	assert.ErrorIs(t, err, ErrInvalidShape)

	_, err = NewMixture()
	assert.ErrorIs(t, err, ErrInvalidShape)
}

func TestConvergenceError(t *testing.T) {
	err := error(&ConvergenceError{Chi2: 12, NDF: 3, Err: errors.New("boom")})
	assert.ErrorIs(t, err, ErrFitConvergence)

	var cerr *ConvergenceError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, 3, cerr.NDF)
}

func mustMixture(t *testing.T, e *Engine) Mixture {
	m, err := e.Mixture()
	require.NoError(t, err)
	return m
}

// narrowGausEngine returns an engine whose Gaussian cannot reach entries
// above 3.
func narrowGausEngine(t *testing.T) *Engine {
	e, err := NewEngine(Observable{Name: "x", Min: 0, Max: 10})
	require.NoError(t, err)
	_, err = e.Register(Gaussian,
		ParamSpec{Kind: Mean, Value: 1, Min: 0, Max: 2},
		ParamSpec{Kind: Sigma, Value: 0.1, Fixed: true},
	)
	require.NoError(t, err)
	return e
}

func TestFitUnreachableEntries(t *testing.T) {
	h := gausHist(rand.New(rand.NewSource(11)), 2000, 8, 0.05)
	e := narrowGausEngine(t)

	res, err := e.Fit(h, 0, 10)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrFitConvergence)
	var cerr *ConvergenceError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, 99, cerr.NDF)
	assert.Nil(t, e.Result())
}

func TestChi2EntriesWithoutExpectation(t *testing.T) {
	h := gausHist(rand.New(rand.NewSource(12)), 2000, 8, 0.05)
	m := mustMixture(t, narrowGausEngine(t))

	// every entry sits where the model expects nothing: each bin adds its
	// content and the empty bins add the full expectation.
	chi2, err := Chi2(m, h, 0, 10)
	require.NoError(t, err)
	assert.InEpsilon(t, 4000, chi2, 1e-6)
}

func TestShapeIntegrals(t *testing.T) {
	for _, tc := range []struct {
		f  Family
		ps []float64
	}{
		{Gaussian, []float64{5, 0.7}},
		{Exponential, []float64{0.4, 0.1}},
		{GausExp, []float64{4, 0.5, 1.2}},
		{CrystalBall, []float64{5, 0.6, 1.2, 3}},
		{DoubleCrystalBall, []float64{5, 0.6, 1.2, 3, 2, 4}},
		{Pol(2), []float64{1, 0.2, 0.05}},
	} {
		got := tc.f.integral(1, 9, tc.ps)
		want := numeric(func(x float64) float64 { return tc.f.eval(x, tc.ps) }, 1, 9, 0.01)
		assert.InEpsilon(t, want, got, 1e-4, tc.f.String())
	}
}

func TestMixtureWithFractions(t *testing.T) {
	e, err := NewEngine(Observable{Min: 0, Max: 10}, Gaussian, Gaussian, Pol(1))
	require.NoError(t, err)
	m, err := e.Mixture()
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1.0 / 3, 1.0 / 3, 1.0 / 3}, m.Weights(), 1e-12)

	m2, err := m.WithFractions(0.5, 0.2)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 0.2, 0.3}, m2.Weights(), 1e-12)
	assert.InDeltaSlice(t, []float64{1.0 / 3, 1.0 / 3, 1.0 / 3}, m.Weights(), 1e-12)

	_, err = m.WithFractions(0.5)
	assert.Error(t, err)
}

func TestRender(t *testing.T) {
	e, err := NewEngine(Observable{Name: "x", Min: 0, Max: 10}, Gaussian, Pol(0))
	require.NoError(t, err)

	var buf bytes.Buffer
	assert.ErrorIs(t, e.Render(&buf, RenderOptions{}), ErrNotFitted)

	rng := rand.New(rand.NewSource(5))
	h := gausHist(rng, 5000, 5, 1)
	for i := 0; i < 1000; i++ {
		h.Fill(10*rng.Float64(), 1)
	}
	_, err = e.Fit(h, 0, 10)
	require.NoError(t, err)

	err = e.Render(&buf, RenderOptions{Title: "fit", Components: e.Shapes()})
	require.NoError(t, err)
	assert.Greater(t, buf.Len(), 0)

	buf.Reset()
	err = e.Render(&buf, RenderOptions{Format: "svg", LogY: true})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "<svg")

	err = e.Render(&buf, RenderOptions{Components: []ShapeID{{Family: CrystalBall, Index: 4}}})
	assert.ErrorIs(t, err, ErrInvalidShape)
}

func TestRenderLogYEmptyBins(t *testing.T) {
	e, err := NewEngine(Observable{Name: "x", Min: 0, Max: 10}, Gaussian)
	require.NoError(t, err)
	h := gausHist(rand.New(rand.NewSource(6)), 5000, 5, 0.3)
	_, err = e.Fit(h, 0, 10)
	require.NoError(t, err)

	for _, format := range []string{"png", "svg"} {
		var buf bytes.Buffer
		require.NotPanics(t, func() {
			err = e.Render(&buf, RenderOptions{Format: format, LogY: true, Components: e.Shapes()})
		}, format)
		require.NoError(t, err, format)
		assert.Greater(t, buf.Len(), 0, format)
	}

	assert.Equal(t, 0.5, logFloor(hbook.NewH1D(10, 0, 1)))
	steps := logSteps(h, logFloor(h))
	require.Len(t, steps, 200)
	for _, xy := range steps {
		assert.Greater(t, xy.Y, 0.0)
	}
}
