package hist

import (
	"fmt"
	"math"

	"go-hep.org/x/hep/groot"
	"go-hep.org/x/hep/groot/rhist"
	"go-hep.org/x/hep/groot/riofs"
	"go-hep.org/x/hep/hbook"
	"go-hep.org/x/hep/hbook/rootcnv"
)

// Build1D fills a new histogram binned along ax with xs.
func Build1D(xs []float64, ax AxisSpec) (*hbook.H1D, error) {
	h, err := NewH1D(ax)
	if err != nil {
		return nil, err
	}
	Fill1D(h, xs)
	return h, nil
}

// Build2D fills a new histogram binned along ax and ay with the (xs, ys)
// pairs.
func Build2D(xs, ys []float64, ax, ay AxisSpec) (*hbook.H2D, error) {
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("hist: x and y samples differ in length (%d != %d)", len(xs), len(ys))
	}
	h, err := NewH2D(ax, ay)
	if err != nil {
		return nil, err
	}
	Fill2D(h, xs, ys)
	return h, nil
}

// Fill1D fills h with unit weight for every sample. NaN samples are dropped.
func Fill1D(h *hbook.H1D, xs []float64) {
	for _, x := range xs {
		if math.IsNaN(x) {
			continue
		}
		h.Fill(x, 1)
	}
}

// Fill2D fills h with the (xs, ys) pairs, up to the shorter slice.
func Fill2D(h *hbook.H2D, xs, ys []float64) {
	n := len(xs)
	if len(ys) < n {
		n = len(ys)
	}
	for i := 0; i < n; i++ {
		if math.IsNaN(xs[i]) || math.IsNaN(ys[i]) {
			continue
		}
		h.Fill(xs[i], ys[i], 1)
	}
}

// ProjectionY sums the x bins [first, last] (0-based, inclusive) of h into
// a histogram of the y axis. Each y bin is filled once at its centre with
// the summed weight.
func ProjectionY(h *hbook.H2D, first, last int) (*hbook.H1D, error) {
	nx, ny := h.Binning.Nx, h.Binning.Ny
	if first > last || first < 0 || last >= nx {
		return nil, fmt.Errorf("%w: x bins [%d, %d] not in [0, %d)", ErrDomain, first, last, nx)
	}
	ay := YAxis(h)
	p := hbook.NewH1D(ny, ay.Min, ay.Max)
	annotate(p.Annotation(), fmt.Sprintf("%s_py_%d_%d", ay.Name, first, last), "")
	for iy := 0; iy < ny; iy++ {
		sumw := 0.0
		for ix := first; ix <= last; ix++ {
			sumw += h.Binning.Bins[iy*nx+ix].SumW()
		}
		if sumw != 0 {
			p.Fill(ay.BinCenter(iy), sumw)
		}
	}
	return p, nil
}

// Content returns the sum of weights of bin i of h.
func Content(h *hbook.H1D, i int) float64 {
	return h.Binning.Bins[i].SumW()
}

// Sum returns the sum of weights of the bins of h whose centre lies in
// [lo, hi].
func Sum(h *hbook.H1D, lo, hi float64) float64 {
	ax := Axis(h)
	sum := 0.0
	for i := 0; i < ax.Bins; i++ {
		if c := ax.BinCenter(i); c >= lo && c <= hi {
			sum += Content(h, i)
		}
	}
	return sum
}

// MeanStdDev returns the bin-weighted mean and standard deviation of h over
// the bins whose centre lies in [lo, hi]. ok is false when the sub-range
// holds no positive weight.
func MeanStdDev(h *hbook.H1D, lo, hi float64) (mean, std float64, ok bool) {
	ax := Axis(h)
	var sw, swx, swx2 float64
	for i := 0; i < ax.Bins; i++ {
		c := ax.BinCenter(i)
		if c < lo || c > hi {
			continue
		}
		w := Content(h, i)
		if w <= 0 {
			continue
		}
		sw += w
		swx += w * c
		swx2 += w * c * c
	}
	if sw <= 0 {
		return 0, 0, false
	}
	mean = swx / sw
	std = math.Sqrt(math.Max(swx2/sw-mean*mean, 0))
	return mean, std, true
}

// Normalize scales h to unit integral. Empty histograms are left untouched.
func Normalize(h *hbook.H1D) *hbook.H1D {
	if integral := h.Integral(); integral > 0 {
		h.Scale(1 / integral)
	}
	return h
}

// Efficiency returns sel/tot per bin with binomial errors. Bins where tot
// is empty are skipped; bins where the ratio exceeds one get no error.
func Efficiency(tot, sel *hbook.H1D, name string) (*hbook.S2D, error) {
	at, as := Axis(tot), Axis(sel)
	if at.Bins != as.Bins || at.Min != as.Min || at.Max != as.Max {
		return nil, fmt.Errorf("%w: efficiency needs identical binnings", ErrDomain)
	}
	var pts []hbook.Point2D
	half := 0.5 * at.Width()
	for i := 0; i < at.Bins; i++ {
		n := Content(tot, i)
		if n <= 0 {
			continue
		}
		eff := Content(sel, i) / n
		var err float64
		if eff <= 1 {
			err = math.Sqrt(eff * (1 - eff) / n)
		}
		pts = append(pts, hbook.Point2D{
			X:    at.BinCenter(i),
			Y:    eff,
			ErrX: hbook.Range{Min: half, Max: half},
			ErrY: hbook.Range{Min: err, Max: err},
		})
	}
	s := hbook.NewS2D(pts...)
	annotate(s.Annotation(), name, "")
	return s, nil
}

// LoadH1 reads the 1-D histogram described by info from a ROOT file.
func LoadH1(info HistLoadInfo) (*hbook.H1D, error) {
	obj, err := load(info)
	if err != nil {
		return nil, err
	}
	h, ok := obj.(rhist.H1)
	if !ok {
		return nil, fmt.Errorf("hist: %s:%s is not a 1-D histogram (%T)", info.Path, info.Name, obj)
	}
	return rootcnv.H1D(h), nil
}

// LoadH2 reads the 2-D histogram described by info from a ROOT file.
func LoadH2(info HistLoadInfo) (*hbook.H2D, error) {
	obj, err := load(info)
	if err != nil {
		return nil, err
	}
	h, ok := obj.(rhist.H2)
	if !ok {
		return nil, fmt.Errorf("hist: %s:%s is not a 2-D histogram (%T)", info.Path, info.Name, obj)
	}
	return rootcnv.H2D(h), nil
}

func load(info HistLoadInfo) (interface{}, error) {
	f, err := groot.Open(info.Path)
	if err != nil {
		return nil, fmt.Errorf("hist: could not open %q: %w", info.Path, err)
	}
	defer f.Close()

	obj, err := riofs.Dir(f).Get(info.Name)
	if err != nil {
		return nil, fmt.Errorf("hist: could not find %q in %q: %w", info.Name, info.Path, err)
	}
	return obj, nil
}
