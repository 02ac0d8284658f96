package calib

import (
	"fmt"
	"math"

	"github.com/decibelcooper/calibplot/internal/minim"
)

// EnergyLossCalibration is a Bethe-Bloch fit of the slice means together
// with a constant fit of the relative widths.
type EnergyLossCalibration struct {
	Curve  BetheBlochParams
	Errors BetheBlochParams
	Chi2   float64
	NDF    int

	Resolution    float64
	ResolutionErr float64
}

// Params returns the calibration as a flat name -> value mapping.
func (c EnergyLossCalibration) Params() map[string]float64 {
	m := c.Curve.Map()
	for k, v := range c.Errors.Map() {
		m[k+"_err"] = v
	}
	m["resolution"] = c.Resolution
	m["resolution_err"] = c.ResolutionErr
	return m
}

// Eval returns the calibrated energy loss at bg.
func (c EnergyLossCalibration) Eval(bg float64) float64 { return BetheBloch(bg, c.Curve) }

// CalibrateEnergyLoss fits the Bethe-Bloch curve to the slice means,
// starting from init (DefaultBetheBloch when zero), and a constant to the
// slice resolutions.
func CalibrateEnergyLoss(s *SliceSeries, init BetheBlochParams, opts Options) (*EnergyLossCalibration, error) {
	if init == (BetheBlochParams{}) {
		init = DefaultBetheBloch
	}
	names := []string{"kp1", "kp2", "kp3", "kp4", "kp5"}
	ps := make([]minim.Param, len(names))
	for i, v := range init.slice() {
		ps[i] = minim.Param{Name: names[i], Value: v}
	}
	bb, err := fitCurve(func(x float64, ps []float64) float64 {
		return BetheBloch(x, betheBlochFrom(ps))
	}, ps, s.means())
	if err != nil {
		return nil, fmt.Errorf("calib: Bethe-Bloch fit: %w", err)
	}

	res, err := fitCurve(func(x float64, ps []float64) float64 {
		return ps[0]
	}, []minim.Param{{Name: "resolution", Value: 0.09}}, s.resolutions())
	if err != nil {
		return nil, fmt.Errorf("calib: resolution fit: %w", err)
	}

	out := &EnergyLossCalibration{
		Curve:         betheBlochFrom(bb.Params),
		Errors:        betheBlochFrom(bb.Errors),
		Chi2:          bb.Chi2,
		NDF:           bb.NDF,
		Resolution:    res.Params[0],
		ResolutionErr: res.Errors[0],
	}

	opts.logf("[INFO] -------- BETHE BLOCH PARAMETRISATION --------")
	for i, n := range names {
		opts.logf("[INFO] %s: %v", n, bb.Params[i])
	}
	opts.logf("[INFO] \tchi2 / NDF: %v / %d", out.Chi2, out.NDF)
	opts.logf("[INFO] resolution: %v +- %v", out.Resolution, out.ResolutionErr)
	return out, nil
}

// Mode selects which part of the simil Bethe-Bloch curve a cluster size
// calibration determines. It is either FitShape or FitChargeScaling.
type Mode interface {
	mode()
}

// FitShape fits kp1, kp2 and kp3 for one particle species of known
// charge, holding kp4 at Init.KP4. kp1 is limited to [0, 10] and kp2 to
// [0, 5].
type FitShape struct {
	// Charge defaults to 1.
	Charge float64
	// Init defaults to DefaultSimil.
	Init SimilParams
	// FixKP3 holds kp3 at Init.KP3.
	FixKP3 bool
}

// FitChargeScaling keeps the Baseline shape (typically the result of a
// FitShape calibration on another species) and fits the charge exponent
// kp4 within [0, 5], starting from Baseline.KP4.
type FitChargeScaling struct {
	Baseline SimilParams
	Charge   float64
}

func (FitShape) mode()         {}
func (FitChargeScaling) mode() {}

// ClusterSizeCalibration is a simil Bethe-Bloch fit of the slice means and
// an erf fit of the relative widths.
type ClusterSizeCalibration struct {
	Curve  SimilParams
	Errors SimilParams
	Charge float64
	Chi2   float64
	NDF    int

	Resolution       ResolutionParams
	ResolutionErrors ResolutionParams
	ResolutionChi2   float64
	ResolutionNDF    int
}

// Params returns the calibration as a flat name -> value mapping.
func (c ClusterSizeCalibration) Params() map[string]float64 {
	m := c.Curve.Map()
	for k, v := range c.Errors.Map() {
		m[k+"_err"] = v
	}
	m["charge"] = c.Charge
	for k, v := range c.Resolution.Map() {
		m[k] = v
	}
	for k, v := range c.ResolutionErrors.Map() {
		m[k+"_err"] = v
	}
	return m
}

// Eval returns the calibrated cluster size at bg.
func (c ClusterSizeCalibration) Eval(bg float64) float64 {
	return SimilBetheBloch(bg, c.Charge, c.Curve)
}

// CalibrateClusterSize fits the simil Bethe-Bloch curve to the slice means
// in the given mode and the erf resolution curve to the slice resolutions.
func CalibrateClusterSize(s *SliceSeries, mode Mode, opts Options) (*ClusterSizeCalibration, error) {
	var (
		charge float64
		ps     []minim.Param
	)
	switch m := mode.(type) {
	case FitShape:
		charge = m.Charge
		if charge == 0 {
			charge = 1
		}
		init := m.Init
		if init == (SimilParams{}) {
			init = DefaultSimil
		}
		ps = []minim.Param{
			{Name: "kp1", Value: init.KP1, Min: 0, Max: 10},
			{Name: "kp2", Value: init.KP2, Min: 0, Max: 5},
			{Name: "kp3", Value: init.KP3, Fixed: m.FixKP3},
			{Name: "kp4", Value: init.KP4, Fixed: true},
		}
	case FitChargeScaling:
		charge = m.Charge
		if !(charge > 0) || charge == 1 {
			return nil, fmt.Errorf("calib: charge scaling needs a positive charge other than 1, got %v", charge)
		}
		b := m.Baseline
		ps = []minim.Param{
			{Name: "kp1", Value: b.KP1, Fixed: true},
			{Name: "kp2", Value: b.KP2, Fixed: true},
			{Name: "kp3", Value: b.KP3, Fixed: true},
			{Name: "kp4", Value: b.KP4, Min: 0, Max: 5},
		}
	default:
		return nil, fmt.Errorf("calib: unknown calibration mode %T", mode)
	}
	if !(charge > 0) {
		return nil, fmt.Errorf("calib: charge must be positive, got %v", charge)
	}

	curve, err := fitCurve(func(x float64, ps []float64) float64 {
		return SimilBetheBloch(x, charge, similFrom(ps))
	}, ps, s.means())
	if err != nil {
		return nil, fmt.Errorf("calib: simil Bethe-Bloch fit: %w", err)
	}

	init := DefaultResolution
	res, err := fitCurve(func(x float64, ps []float64) float64 {
		return Resolution(x, ResolutionParams{RP0: ps[0], RP1: ps[1], RP2: ps[2]})
	}, []minim.Param{
		{Name: "rp0", Value: init.RP0},
		{Name: "rp1", Value: init.RP1},
		{Name: "rp2", Value: init.RP2},
	}, s.resolutions())
	if err != nil {
		return nil, fmt.Errorf("calib: resolution fit: %w", err)
	}

	out := &ClusterSizeCalibration{
		Curve:            similFrom(curve.Params),
		Errors:           similFrom(curve.Errors),
		Charge:           charge,
		Chi2:             curve.Chi2,
		NDF:              curve.NDF,
		Resolution:       ResolutionParams{RP0: res.Params[0], RP1: res.Params[1], RP2: res.Params[2]},
		ResolutionErrors: ResolutionParams{RP0: res.Errors[0], RP1: res.Errors[1], RP2: res.Errors[2]},
		ResolutionChi2:   res.Chi2,
		ResolutionNDF:    res.NDF,
	}

	opts.logf("[INFO] -------- SIMIL BETHE BLOCH PARAMETRISATION --------")
	for _, n := range []string{"kp1", "kp2", "kp3", "kp4"} {
		opts.logf("[INFO] %s: %v", n, curve.Map()[n])
	}
	opts.logf("[INFO] charge: %v", charge)
	opts.logf("[INFO] \tchi2 / NDF: %v / %d", out.Chi2, out.NDF)
	opts.logf("[INFO] resolution: rp0=%v rp1=%v rp2=%v", out.Resolution.RP0, out.Resolution.RP1, out.Resolution.RP2)
	return out, nil
}

func similFrom(ps []float64) SimilParams {
	return SimilParams{KP1: ps[0], KP2: ps[1], KP3: ps[2], KP4: ps[3]}
}

// NSigma returns the deviation of y from the calibrated cluster size at bg
// in units of the calibrated resolution.
func (c ClusterSizeCalibration) NSigma(bg, y float64) float64 {
	exp := c.Eval(bg)
	res := Resolution(bg, c.Resolution)
	if exp == 0 || res == 0 {
		return math.NaN()
	}
	return ExpectedNSigma(y, exp, res)
}

// NSigma returns the deviation of y from the calibrated energy loss at bg
// in units of the constant resolution.
func (c EnergyLossCalibration) NSigma(bg, y float64) float64 {
	exp := c.Eval(bg)
	if exp == 0 || c.Resolution == 0 {
		return math.NaN()
	}
	return ExpectedNSigma(y, exp, c.Resolution)
}
