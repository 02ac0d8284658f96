package fitter

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/integrate/quad"
	"gonum.org/v1/gonum/stat/distuv"
)

type kind int

const (
	kindGaus kind = iota + 1
	kindExp
	kindGausExp
	kindCB
	kindDSCB
	kindPol
)

// Family is a parametric shape family.
type Family struct {
	kind  kind
	order int
}

var (
	Gaussian          = Family{kind: kindGaus}
	Exponential       = Family{kind: kindExp}
	GausExp           = Family{kind: kindGausExp}
	CrystalBall       = Family{kind: kindCB}
	DoubleCrystalBall = Family{kind: kindDSCB}
)

// Pol returns the polynomial family of order k.
func Pol(k int) Family { return Family{kind: kindPol, order: k} }

func (f Family) String() string {
	switch f.kind {
	case kindGaus:
		return "gaus"
	case kindExp:
		return "exp"
	case kindGausExp:
		return "gausexp"
	case kindCB:
		return "cb"
	case kindDSCB:
		return "dscb"
	case kindPol:
		return "pol" + strconv.Itoa(f.order)
	}
	return "invalid"
}

func (f Family) valid() bool {
	switch f.kind {
	case kindGaus, kindExp, kindGausExp, kindCB, kindDSCB:
		return f.order == 0
	case kindPol:
		return f.order >= 0
	}
	return false
}

// ParseFamily returns the family named s ("gaus", "exp", "gausexp", "cb",
// "dscb", "pol0", "pol1", ...).
func ParseFamily(s string) (Family, error) {
	switch s {
	case "gaus":
		return Gaussian, nil
	case "exp":
		return Exponential, nil
	case "gausexp":
		return GausExp, nil
	case "cb":
		return CrystalBall, nil
	case "dscb":
		return DoubleCrystalBall, nil
	}
	if strings.HasPrefix(s, "pol") {
		k, err := strconv.Atoi(s[3:])
		if err == nil && k >= 0 {
			return Pol(k), nil
		}
	}
	return Family{}, fmt.Errorf("%w: %q", ErrInvalidShape, s)
}

// ParamKind identifies a parameter within a shape.
type ParamKind int

const (
	Mean ParamKind = iota + 1
	Sigma
	Alpha
	Offset
	Tau
	AlphaL
	NL
	AlphaR
	NR
	Coef
	Fraction
)

var kindNames = map[ParamKind]string{
	Mean:     "mean",
	Sigma:    "sigma",
	Alpha:    "alpha",
	Offset:   "offset",
	Tau:      "tau",
	AlphaL:   "alphaL",
	NL:       "nL",
	AlphaR:   "alphaR",
	NR:       "nR",
	Fraction: "frac",
}

func (k ParamKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	if k == Coef {
		return "c"
	}
	return "invalid"
}

// ShapeID identifies a registered shape instance.
type ShapeID struct {
	Family Family
	Index  int
}

func (id ShapeID) String() string {
	return fmt.Sprintf("%s_%d", id.Family, id.Index)
}

// ParamKey identifies one parameter of one shape instance. N is the
// coefficient index of polynomial coefficients and zero otherwise.
type ParamKey struct {
	Shape ShapeID
	Kind  ParamKind
	N     int
}

func (k ParamKey) String() string {
	if k.Kind == Coef {
		return fmt.Sprintf("%s_c%d", k.Shape, k.N)
	}
	return fmt.Sprintf("%s_%s", k.Shape, k.Kind)
}

// ParseParamKey parses the "{family}_{index}_{param}" form returned by
// ParamKey.String.
func ParseParamKey(s string) (ParamKey, error) {
	toks := strings.SplitN(s, "_", 3)
	if len(toks) != 3 {
		return ParamKey{}, fmt.Errorf("%w: malformed name %q", ErrUnknownParameter, s)
	}
	fam, err := ParseFamily(toks[0])
	if err != nil {
		return ParamKey{}, err
	}
	idx, err := strconv.Atoi(toks[1])
	if err != nil {
		return ParamKey{}, fmt.Errorf("%w: malformed name %q", ErrUnknownParameter, s)
	}
	key := ParamKey{Shape: ShapeID{Family: fam, Index: idx}}
	for k, name := range kindNames {
		if name == toks[2] {
			key.Kind = k
			return key, nil
		}
	}
	if strings.HasPrefix(toks[2], "c") {
		if n, err := strconv.Atoi(toks[2][1:]); err == nil {
			key.Kind, key.N = Coef, n
			return key, nil
		}
	}
	return ParamKey{}, fmt.Errorf("%w: %q", ErrUnknownParameter, s)
}

// Observable is the variable the shapes are defined over.
type Observable struct {
	Name     string
	Min, Max float64
}

// Parameter is the state of one shape parameter.
type Parameter struct {
	Key      ParamKey
	Value    float64
	Error    float64
	Min, Max float64
	Fixed    bool
}

// ParamSpec overrides the default start value and range of a parameter at
// registration. The range is only applied when Min < Max.
type ParamSpec struct {
	Kind     ParamKind
	N        int
	Value    float64
	Min, Max float64
	Fixed    bool
}

// defaults returns the parameters of a new instance of f over obs.
func (f Family) defaults(id ShapeID, obs Observable) []Parameter {
	w := obs.Max - obs.Min
	c := 0.5 * (obs.Max + obs.Min)
	p := func(k ParamKind, v, lo, hi float64) Parameter {
		return Parameter{Key: ParamKey{Shape: id, Kind: k}, Value: v, Min: lo, Max: hi}
	}
	mean := p(Mean, c, obs.Min, obs.Max)
	sigma := p(Sigma, w/10, w*1e-4, w)

	switch f.kind {
	case kindGaus:
		return []Parameter{mean, sigma}
	case kindExp:
		off := p(Offset, 0, 0, 10)
		off.Fixed = true
		return []Parameter{p(Alpha, 0, -50/w, 50/w), off}
	case kindGausExp:
		return []Parameter{mean, sigma, p(Tau, w/10, w*1e-3, w)}
	case kindCB:
		return []Parameter{mean, sigma, p(AlphaL, 1.5, 0.05, 10), p(NL, 5, 1.01, 100)}
	case kindDSCB:
		return []Parameter{mean, sigma,
			p(AlphaL, 1.5, 0.05, 10), p(NL, 5, 1.01, 100),
			p(AlphaR, 1.5, 0.05, 10), p(NR, 5, 1.01, 100),
		}
	case kindPol:
		ps := make([]Parameter, f.order+1)
		for i := range ps {
			ps[i] = Parameter{Key: ParamKey{Shape: id, Kind: Coef, N: i}}
		}
		// the overall scale is absorbed by the normalisation.
		ps[0].Value, ps[0].Fixed = 1, true
		return ps
	}
	return nil
}

// eval returns the unnormalised density of f at x.
func (f Family) eval(x float64, p []float64) float64 {
	switch f.kind {
	case kindGaus:
		t := (x - p[0]) / p[1]
		return math.Exp(-0.5 * t * t)
	case kindExp:
		return math.Exp(-p[0]*x) + p[1]
	case kindGausExp:
		return emg(x, p[0], p[1], p[2])
	case kindCB:
		return crystalBall(x, p[0], p[1], p[2], p[3], math.Inf(1), 0)
	case kindDSCB:
		return crystalBall(x, p[0], p[1], p[2], p[3], p[4], p[5])
	case kindPol:
		v := 0.0
		for i := len(p) - 1; i >= 0; i-- {
			v = v*x + p[i]
		}
		return v
	}
	return math.NaN()
}

// integral returns the integral of the unnormalised density over [lo, hi].
func (f Family) integral(lo, hi float64, p []float64) float64 {
	if hi <= lo {
		return 0
	}
	switch f.kind {
	case kindGaus:
		g := distuv.Normal{Mu: p[0], Sigma: p[1]}
		return (g.CDF(hi) - g.CDF(lo)) * p[1] * math.Sqrt(2*math.Pi)
	case kindExp:
		a := p[0]
		v := hi - lo
		if math.Abs(a*(hi-lo)) > 1e-9 {
			v = (math.Exp(-a*lo) - math.Exp(-a*hi)) / a
		}
		return v + p[1]*(hi-lo)
	case kindPol:
		v := 0.0
		for i, c := range p {
			n := float64(i + 1)
			v += c * (math.Pow(hi, n) - math.Pow(lo, n)) / n
		}
		return v
	default:
		return numeric(func(x float64) float64 { return f.eval(x, p) }, lo, hi, p[1])
	}
}

// numeric integrates fct over [lo, hi] with 8-point Gauss-Legendre rules on
// sub-intervals no wider than half the shape width.
func numeric(fct func(float64) float64, lo, hi, width float64) float64 {
	pieces := 1
	if width > 0 {
		pieces = int(math.Ceil((hi - lo) / (0.5 * width)))
	}
	if pieces < 1 {
		pieces = 1
	}
	if pieces > 512 {
		pieces = 512
	}
	step := (hi - lo) / float64(pieces)
	sum := 0.0
	for i := 0; i < pieces; i++ {
		a := lo + float64(i)*step
		sum += quad.Fixed(fct, a, a+step, 8, nil, 0)
	}
	return sum
}

// crystalBall is a Gaussian core with power-law tails below mean-aL*sigma
// and above mean+aR*sigma.
func crystalBall(x, mean, sigma, aL, nL, aR, nR float64) float64 {
	t := (x - mean) / sigma
	switch {
	case t < -aL:
		return math.Exp(nL*math.Log(nL/aL) - 0.5*aL*aL - nL*math.Log(nL/aL-aL-t))
	case t > aR:
		return math.Exp(nR*math.Log(nR/aR) - 0.5*aR*aR - nR*math.Log(nR/aR-aR+t))
	}
	return math.Exp(-0.5 * t * t)
}

// emg is the exponentially modified Gaussian with decay time tau.
func emg(x, mean, sigma, tau float64) float64 {
	lambda := 1 / tau
	a := 0.5 * lambda * (2*mean + lambda*sigma*sigma - 2*x)
	z := (mean + lambda*sigma*sigma - x) / (math.Sqrt2 * sigma)
	return 0.5 * lambda * expErfc(a, z)
}

// expErfc returns exp(a)*erfc(z) without overflowing for large z.
func expErfc(a, z float64) float64 {
	if z < 5 {
		return math.Exp(a) * math.Erfc(z)
	}
	z2 := z * z
	// asymptotic expansion of erfc.
	series := 1 - 1/(2*z2) + 3/(4*z2*z2) - 15/(8*z2*z2*z2)
	return math.Exp(a-z2) / (z * math.SqrtPi) * series
}
