package calib

import "math"

// BetheBlochParams are the parameters of the ALEPH-like Bethe-Bloch
// parametrisation used for dE/dx.
type BetheBlochParams struct {
	KP1, KP2, KP3, KP4, KP5 float64
}

var DefaultBetheBloch = BetheBlochParams{
	KP1: -241.490,
	KP2: 0.374245,
	KP3: 1.397847,
	KP4: 1.078250,
	KP5: 2.048336,
}

func (p BetheBlochParams) slice() []float64 {
	return []float64{p.KP1, p.KP2, p.KP3, p.KP4, p.KP5}
}

func betheBlochFrom(ps []float64) BetheBlochParams {
	return BetheBlochParams{KP1: ps[0], KP2: ps[1], KP3: ps[2], KP4: ps[3], KP5: ps[4]}
}

func (p BetheBlochParams) Map() map[string]float64 {
	return map[string]float64{"kp1": p.KP1, "kp2": p.KP2, "kp3": p.KP3, "kp4": p.KP4, "kp5": p.KP5}
}

// BetheBloch returns the expected energy loss at bg = p/m.
func BetheBloch(bg float64, p BetheBlochParams) float64 {
	beta := bg / math.Sqrt(1+bg*bg)
	aa := math.Pow(beta, p.KP4)
	bb := math.Log(math.Pow(bg, -p.KP5) + p.KP3)
	return (p.KP2 - aa - bb) * p.KP1 / aa
}

// SimilParams are the parameters of the simil Bethe-Bloch cluster size
// curve (kp1/bg^kp2 + kp3) * charge^kp4.
type SimilParams struct {
	KP1, KP2, KP3, KP4 float64
}

var DefaultSimil = SimilParams{KP1: 2.6, KP2: 2, KP3: 5.5, KP4: 2}

func (p SimilParams) Map() map[string]float64 {
	return map[string]float64{"kp1": p.KP1, "kp2": p.KP2, "kp3": p.KP3, "kp4": p.KP4}
}

// SimilBetheBloch returns the expected cluster size at bg for a particle
// of the given charge.
func SimilBetheBloch(bg, charge float64, p SimilParams) float64 {
	return (p.KP1/math.Pow(bg, p.KP2) + p.KP3) * math.Pow(charge, p.KP4)
}

// ResolutionParams describe the relative width rp0*erf((bg-rp1)/rp2).
type ResolutionParams struct {
	RP0, RP1, RP2 float64
}

var DefaultResolution = ResolutionParams{RP0: 0.24, RP1: -0.32, RP2: 1.53}

func (p ResolutionParams) Map() map[string]float64 {
	return map[string]float64{"rp0": p.RP0, "rp1": p.RP1, "rp2": p.RP2}
}

func Resolution(bg float64, p ResolutionParams) float64 {
	return p.RP0 * math.Erf((bg-p.RP1)/p.RP2)
}

// ExpectedNSigma returns how many resolutions x lies from expected.
func ExpectedNSigma(x, expected, resolution float64) float64 {
	return (x - expected) / (expected * resolution)
}

// AverageClusterSize decodes the ITS cluster sizes packed four bits per
// layer over seven layers and returns their mean over the layers with a
// cluster and the number of such layers.
func AverageClusterSize(packed uint64) (float64, int) {
	var sum, n int
	for layer := 0; layer < 7; layer++ {
		sz := int(packed>>(4*layer)) & 0xf
		if sz > 0 {
			sum += sz
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return float64(sum) / float64(n), n
}
