package calib

import (
	"bytes"
	"errors"
	"log"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go-hep.org/x/hep/hbook"

	"github.com/decibelcooper/calibplot/fitter"
)

// replicated returns a 2-D histogram whose nx slices all hold the same
// Gaussian sample.
func replicated(nx int, mean, sigma float64, n int) *hbook.H2D {
	rng := rand.New(rand.NewSource(99))
	ys := make([]float64, n)
	for i := range ys {
		ys[i] = mean + sigma*rng.NormFloat64()
	}
	h2 := hbook.NewH2D(nx, 0, float64(nx), 100, 0, 10)
	for ix := 0; ix < nx; ix++ {
		for _, y := range ys {
			h2.Fill(float64(ix)+0.5, y, 1)
		}
	}
	return h2
}

func gausEngine(t *testing.T) (*fitter.Engine, fitter.ShapeID) {
	e, err := fitter.NewEngine(fitter.Observable{Name: "y", Min: 0, Max: 10})
	require.NoError(t, err)
	id, err := e.Register(fitter.Gaussian)
	require.NoError(t, err)
	return e, id
}

func TestFitBySlicesIdenticalSlices(t *testing.T) {
	h2 := replicated(5, 5, 0.5, 20000)
	e, sig := gausEngine(t)

	var logs bytes.Buffer
	s, err := FitBySlices(h2, e, 0, 4, sig, Options{Workers: 3, SignalRange: [2]float64{3, 7}, Logger: log.New(&logs, "", 0)})
	require.NoError(t, err)
	require.Equal(t, 5, s.Len())
	assert.Equal(t, 0.0, s.XMin)
	assert.Equal(t, 5.0, s.XMax)

	for i, r := range s.Rows {
		assert.Equal(t, i, r.Bin)
		assert.Equal(t, float64(i)+0.5, r.BinCenter)
		assert.Equal(t, 0.5, r.BinError)
		assert.InDelta(t, 5, r.Mean, 0.02)
		assert.Greater(t, r.MeanErr, 0.0)
		assert.InDelta(t, 1, r.Integral, 1e-12)
		assert.InDelta(t, 20000, r.UnnormIntegral, 1e-6)
		assert.InDelta(t, r.Sigma/math.Sqrt(r.UnnormIntegral), r.MeanErr, 1e-12)
		assert.InDelta(t, r.Sigma/r.Mean, r.Res, 1e-12)
		for _, o := range s.Rows {
			assert.Less(t, math.Abs(r.Mean-o.Mean), 3*r.MeanErr)
		}
	}

	// the caller's engine keeps its start values.
	p, err := e.Parameter(fitter.ParamKey{Shape: sig, Kind: fitter.Mean})
	require.NoError(t, err)
	assert.Equal(t, 5.0, p.Value)
	assert.Equal(t, 0.0, p.Min)
	assert.Nil(t, e.Result())

	tab := s.Table()
	assert.Contains(t, tab, "bin_center")
	assert.Equal(t, 5, strings.Count(tab, "/98"))
	assert.Equal(t, 5, strings.Count(logs.String(), "[INFO] slice"))

	var img bytes.Buffer
	require.NoError(t, PlotH2(&img, h2, PlotOptions{XTitle: "bg", YTitle: "cluster size"}))
	assert.Greater(t, img.Len(), 0)
	assert.ErrorIs(t, PlotH2(&img, hbook.NewH2D(2, 0, 1, 2, 0, 1), PlotOptions{}), ErrTooFewPoints)
}

func TestFitBySlicesDomain(t *testing.T) {
	h2 := replicated(5, 5, 0.5, 100)
	e, sig := gausEngine(t)

	s, err := FitBySlices(h2, e, 3, 2, sig, Options{})
	assert.ErrorIs(t, err, ErrDomain)
	assert.Nil(t, s)

	_, err = FitBySlices(h2, e, 0, 5, sig, Options{})
	assert.ErrorIs(t, err, ErrDomain)
	_, err = FitBySlices(h2, e, -1, 2, sig, Options{})
	assert.ErrorIs(t, err, ErrDomain)

	bkg, err := e.Register(fitter.Exponential)
	require.NoError(t, err)
	_, err = FitBySlices(h2, e, 0, 1, bkg, Options{})
	assert.ErrorIs(t, err, fitter.ErrInvalidShape)
}

func TestFitBySlicesDegenerateSlice(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	h2 := hbook.NewH2D(4, 0, 4, 50, 0, 10)
	for _, x := range []float64{0.5, 1.5, 3.5} {
		for i := 0; i < 2000; i++ {
			h2.Fill(x, 5+rng.NormFloat64(), 1)
		}
	}
	e, sig := gausEngine(t)

	for _, workers := range []int{1, 4} {
		s, err := FitBySlices(h2, e, 0, 3, sig, Options{Workers: workers})
		require.Error(t, err)
		assert.Nil(t, s)
		assert.ErrorIs(t, err, ErrDegenerateSlice)

		var serr *SliceError
		require.True(t, errors.As(err, &serr))
		assert.Equal(t, 2, serr.Bin)
	}

	// a large MinEntries turns every slice degenerate.
	_, err := FitBySlices(h2, e, 0, 0, sig, Options{MinEntries: 1e6})
	assert.ErrorIs(t, err, ErrDegenerateSlice)
}

func TestFitBySlicesSparseSlices(t *testing.T) {
	h2 := hbook.NewH2D(3, 0, 3, 50, 0, 10)
	for i := 0; i < 2000; i++ {
		h2.Fill(0.5, 5+0.01*float64(i%100-50), 1)
	}
	h2.Fill(1.5, 5, 1)
	h2.Fill(2.5, 4.9, 1)
	h2.Fill(2.5, 5.1, 1)
	e, sig := gausEngine(t)

	for _, bin := range []int{1, 2} {
		_, err := FitBySlices(h2, e, bin, bin, sig, Options{})
		assert.ErrorIs(t, err, ErrDegenerateSlice, "bin %d", bin)
		var serr *SliceError
		require.True(t, errors.As(err, &serr))
		assert.Equal(t, bin, serr.Bin)
	}

	s, err := FitBySlices(h2, e, 0, 0, sig, Options{})
	require.NoError(t, err)
	assert.InDelta(t, 5, s.Rows[0].Mean, 0.05)

	// an explicit MinEntries still lets sparse slices through.
	_, err = FitBySlices(h2, e, 2, 2, sig, Options{MinEntries: 2})
	assert.NotErrorIs(t, err, ErrDegenerateSlice)
}

func TestFitBySlicesUnreachableSignal(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	h2 := hbook.NewH2D(2, 0, 2, 100, 0, 10)
	for _, x := range []float64{0.5, 1.5} {
		for i := 0; i < 2000; i++ {
			h2.Fill(x, 8+0.05*rng.NormFloat64(), 1)
		}
		for i := 0; i < 50; i++ {
			h2.Fill(x, 1, 1)
		}
	}
	e, err := fitter.NewEngine(fitter.Observable{Name: "y", Min: 0, Max: 10})
	require.NoError(t, err)
	sig, err := e.Register(fitter.Gaussian, fitter.ParamSpec{Kind: fitter.Sigma, Value: 0.1, Fixed: true})
	require.NoError(t, err)

	// the mean is held in the signal range while most entries sit at 8.
	for _, workers := range []int{1, 2} {
		s, err := FitBySlices(h2, e, 0, 1, sig, Options{Workers: workers, SignalRange: [2]float64{0, 2}})
		assert.Nil(t, s)
		assert.ErrorIs(t, err, fitter.ErrFitConvergence)
		var serr *SliceError
		require.True(t, errors.As(err, &serr))
		var cerr *fitter.ConvergenceError
		assert.True(t, errors.As(err, &cerr))
	}
}

func TestFitBySlicesEmptySignalRange(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	h2 := hbook.NewH2D(2, 0, 2, 100, 0, 10)
	for i := 0; i < 2000; i++ {
		h2.Fill(0.5, 3+0.3*rng.NormFloat64(), 1)
		h2.Fill(1.5, 7+0.3*rng.NormFloat64(), 1)
	}
	e, sig := gausEngine(t)

	// slice 1 has no entry in the signal range and starts again from the
	// engine values instead of the mean range seeded for slice 0.
	s, err := FitBySlices(h2, e, 0, 1, sig, Options{Workers: 1, SignalRange: [2]float64{2, 4}})
	require.NoError(t, err)
	assert.InDelta(t, 3, s.Rows[0].Mean, 0.05)
	assert.InDelta(t, 7, s.Rows[1].Mean, 0.05)
}

// syntheticSeries samples mean(bg) and res(bg) at the given points with a
// relative Gaussian noise on the means.
func syntheticSeries(rng *rand.Rand, bgs []float64, halfWidth, noise float64, mean, res func(float64) float64) *SliceSeries {
	s := &SliceSeries{XMin: bgs[0] - halfWidth, XMax: bgs[len(bgs)-1] + halfWidth}
	for i, bg := range bgs {
		m := mean(bg)
		r := res(bg)
		s.Rows = append(s.Rows, SliceRow{
			Bin:       i,
			BinCenter: bg,
			BinError:  halfWidth,
			Mean:      m * (1 + noise*rng.NormFloat64()),
			MeanErr:   noise * m,
			Sigma:     r * m,
			Integral:  1,
			Res:       r + 0.002*rng.NormFloat64(),
			ResErr:    0.002,
		})
	}
	return s
}

func clusterSizeBGs() []float64 {
	var bgs []float64
	for i := 0; i < 15; i++ {
		bgs = append(bgs, 0.5+0.25*float64(i))
	}
	return bgs
}

func TestCalibrateClusterSizeShape(t *testing.T) {
	truth := SimilParams{KP1: 2.6, KP2: 2.0, KP3: 5.5, KP4: 2}
	rng := rand.New(rand.NewSource(2024))
	s := syntheticSeries(rng, clusterSizeBGs(), 0.125, 0.005,
		func(bg float64) float64 { return SimilBetheBloch(bg, 1, truth) },
		func(bg float64) float64 { return Resolution(bg, DefaultResolution) },
	)

	var logs bytes.Buffer
	c, err := CalibrateClusterSize(s, FitShape{
		Charge: 1,
		Init:   SimilParams{KP1: 2, KP2: 1.5, KP3: 5, KP4: 2},
	}, Options{Logger: log.New(&logs, "", 0)})
	require.NoError(t, err)

	assert.InEpsilon(t, 2.6, c.Curve.KP1, 0.05)
	assert.InEpsilon(t, 2.0, c.Curve.KP2, 0.05)
	assert.InEpsilon(t, 5.5, c.Curve.KP3, 0.05)
	assert.Equal(t, 2.0, c.Curve.KP4)
	assert.Equal(t, 0.0, c.Errors.KP4)
	assert.Greater(t, c.Errors.KP1, 0.0)
	assert.Equal(t, 15-3, c.NDF)
	assert.Equal(t, 1.0, c.Charge)

	for _, bg := range []float64{0.8, 1.6, 3.2} {
		assert.InEpsilon(t, Resolution(bg, DefaultResolution), Resolution(bg, c.Resolution), 0.05)
	}

	params := c.Params()
	assert.Equal(t, c.Curve.KP1, params["kp1"])
	assert.Equal(t, c.Resolution.RP2, params["rp2"])
	assert.Contains(t, logs.String(), "[INFO] kp1:")

	var buf bytes.Buffer
	require.NoError(t, PlotSeries(&buf, s, MeanSeries, c.Eval, PlotOptions{XTitle: "bg"}))
	assert.Greater(t, buf.Len(), 0)
}

func TestCalibrateClusterSizeChargeScaling(t *testing.T) {
	baseline := SimilParams{KP1: 2.6, KP2: 2.0, KP3: 5.5, KP4: 2}
	truth := baseline
	truth.KP4 = 1.3
	rng := rand.New(rand.NewSource(5))
	s := syntheticSeries(rng, clusterSizeBGs(), 0.125, 0.005,
		func(bg float64) float64 { return SimilBetheBloch(bg, 2, truth) },
		func(bg float64) float64 { return Resolution(bg, DefaultResolution) },
	)

	c, err := CalibrateClusterSize(s, FitChargeScaling{Baseline: baseline, Charge: 2}, Options{})
	require.NoError(t, err)
	assert.InDelta(t, 1.3, c.Curve.KP4, 0.02)
	assert.Equal(t, baseline.KP1, c.Curve.KP1)
	assert.Equal(t, baseline.KP2, c.Curve.KP2)
	assert.Equal(t, baseline.KP3, c.Curve.KP3)
	assert.Equal(t, 15-1, c.NDF)

	_, err = CalibrateClusterSize(s, FitChargeScaling{Baseline: baseline, Charge: 1}, Options{})
	assert.Error(t, err)
	_, err = CalibrateClusterSize(s, nil, Options{})
	assert.Error(t, err)
}

func TestCalibrateEnergyLoss(t *testing.T) {
	var bgs []float64
	for i := 0; i < 20; i++ {
		bgs = append(bgs, 0.6+0.17*float64(i))
	}
	rng := rand.New(rand.NewSource(11))
	s := syntheticSeries(rng, bgs, 0.05, 0.005,
		func(bg float64) float64 { return BetheBloch(bg, DefaultBetheBloch) },
		func(float64) float64 { return 0.09 },
	)

	c, err := CalibrateEnergyLoss(s, BetheBlochParams{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 20-5, c.NDF)
	assert.Less(t, c.Chi2/float64(c.NDF), 3.0)
	for _, bg := range bgs {
		assert.InEpsilon(t, BetheBloch(bg, DefaultBetheBloch), c.Eval(bg), 0.02)
	}
	assert.InDelta(t, 0.09, c.Resolution, 0.002)
	assert.Greater(t, c.ResolutionErr, 0.0)
	assert.InDelta(t, 0, c.NSigma(1, c.Eval(1)), 1e-12)
	assert.InDelta(t, 1, c.NSigma(1, c.Eval(1)*(1+c.Resolution)), 1e-9)

	_, err = CalibrateEnergyLoss(&SliceSeries{Rows: s.Rows[:3]}, BetheBlochParams{}, Options{})
	assert.ErrorIs(t, err, ErrTooFewPoints)
}

func TestPhysicsHelpers(t *testing.T) {
	avg, n := AverageClusterSize(0x321)
	assert.Equal(t, 2.0, avg)
	assert.Equal(t, 3, n)
	avg, n = AverageClusterSize(0)
	assert.Equal(t, 0.0, avg)
	assert.Equal(t, 0, n)

	assert.InDelta(t, 2.0, ExpectedNSigma(1.2, 1, 0.1), 1e-12)
	assert.InDelta(t, (2.6/4+5.5)*4, SimilBetheBloch(2, 2, DefaultSimil), 1e-12)
	assert.Equal(t, 0.0, Resolution(DefaultResolution.RP1, DefaultResolution))
}
