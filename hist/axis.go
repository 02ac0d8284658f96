// Package hist builds go-hep histograms from axis specifications and
// provides the few histogram manipulations needed by the calibrations:
// projections, sub-range statistics, efficiencies and normalisation.
package hist

import (
	"errors"
	"fmt"
	"math"

	"go-hep.org/x/hep/hbook"
)

// ErrDomain is returned when a bin or value range lies outside a histogram
// or is empty.
var ErrDomain = errors.New("hist: invalid domain")

// AxisSpec describes a uniformly binned axis.
type AxisSpec struct {
	Bins  int
	Min   float64
	Max   float64
	Name  string
	Title string
}

// NewAxisSpec returns a validated axis specification.
func NewAxisSpec(bins int, min, max float64, name, title string) (AxisSpec, error) {
	ax := AxisSpec{Bins: bins, Min: min, Max: max, Name: name, Title: title}
	if err := ax.Validate(); err != nil {
		return AxisSpec{}, err
	}
	return ax, nil
}

func (ax AxisSpec) Validate() error {
	if ax.Bins <= 0 {
		return fmt.Errorf("%w: axis %q needs a positive number of bins (got %d)", ErrDomain, ax.Name, ax.Bins)
	}
	if !(ax.Min < ax.Max) {
		return fmt.Errorf("%w: axis %q has an empty range [%v, %v]", ErrDomain, ax.Name, ax.Min, ax.Max)
	}
	return nil
}

// Width returns the width of one bin.
func (ax AxisSpec) Width() float64 {
	return (ax.Max - ax.Min) / float64(ax.Bins)
}

// FindBin returns the 0-based index of the bin containing x, -1 for
// underflow and Bins for overflow.
func (ax AxisSpec) FindBin(x float64) int {
	switch {
	case x < ax.Min:
		return -1
	case x >= ax.Max:
		return ax.Bins
	}
	i := int(math.Floor((x - ax.Min) / ax.Width()))
	if i >= ax.Bins {
		i = ax.Bins - 1
	}
	return i
}

func (ax AxisSpec) BinLowEdge(i int) float64 { return ax.Min + float64(i)*ax.Width() }
func (ax AxisSpec) BinUpEdge(i int) float64  { return ax.Min + float64(i+1)*ax.Width() }
func (ax AxisSpec) BinCenter(i int) float64  { return ax.Min + (float64(i)+0.5)*ax.Width() }

// HistLoadInfo locates a histogram inside a ROOT file.
type HistLoadInfo struct {
	Path string
	Name string
}

// NewH1D returns an empty histogram binned along ax.
func NewH1D(ax AxisSpec) (*hbook.H1D, error) {
	if err := ax.Validate(); err != nil {
		return nil, err
	}
	h := hbook.NewH1D(ax.Bins, ax.Min, ax.Max)
	annotate(h.Annotation(), ax.Name, ax.Title)
	return h, nil
}

// NewH2D returns an empty histogram binned along ax and ay. The histogram
// is named after the y axis.
func NewH2D(ax, ay AxisSpec) (*hbook.H2D, error) {
	if err := ax.Validate(); err != nil {
		return nil, err
	}
	if err := ay.Validate(); err != nil {
		return nil, err
	}
	h := hbook.NewH2D(ax.Bins, ax.Min, ax.Max, ay.Bins, ay.Min, ay.Max)
	annotate(h.Annotation(), ay.Name, ay.Title)
	return h, nil
}

func annotate(ann hbook.Annotation, name, title string) {
	if name != "" {
		ann["name"] = name
	}
	if title != "" {
		ann["title"] = title
	}
}

// Axis returns the axis specification of h.
func Axis(h *hbook.H1D) AxisSpec {
	return AxisSpec{Bins: h.Len(), Min: h.XMin(), Max: h.XMax(), Name: name(h.Annotation())}
}

// XAxis returns the x axis specification of h.
func XAxis(h *hbook.H2D) AxisSpec {
	return AxisSpec{Bins: h.Binning.Nx, Min: h.XMin(), Max: h.XMax(), Name: name(h.Annotation())}
}

// YAxis returns the y axis specification of h.
func YAxis(h *hbook.H2D) AxisSpec {
	return AxisSpec{Bins: h.Binning.Ny, Min: h.YMin(), Max: h.YMax(), Name: name(h.Annotation())}
}

func name(ann hbook.Annotation) string {
	if v, ok := ann["name"].(string); ok {
		return v
	}
	return ""
}
