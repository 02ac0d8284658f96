package fitter

import (
	"fmt"
	"image/color"
	"io"
	"math"

	"go-hep.org/x/hep/hbook"
	"go-hep.org/x/hep/hplot"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/decibelcooper/calibplot"
	"github.com/decibelcooper/calibplot/hist"
)

// RenderOptions control how a fit is drawn.
type RenderOptions struct {
	Title  string
	XTitle string
	// Format is any format accepted by gonum/plot ("png", "svg", "pdf",
	// ...). It defaults to png.
	Format        string
	Width, Height vg.Length
	LogY          bool
	// Components lists the shapes drawn on their own, dashed, on top of
	// the total model.
	Components []ShapeID
}

var componentColors = []color.Color{
	color.RGBA{G: 160, A: 255},
	color.RGBA{B: 255, A: 255},
	color.RGBA{R: 255, B: 127, G: 127, A: 255},
	color.RGBA{R: 200, G: 120, A: 255},
}

// Render draws the histogram of the last fit with the fitted model.
func (e *Engine) Render(w io.Writer, opts RenderOptions) error {
	if e.last == nil || e.lastHist == nil {
		return ErrNotFitted
	}
	if opts.XTitle == "" {
		opts.XTitle = e.obs.Name
	}
	return Render(w, e.lastHist, e.last, opts)
}

// Render draws h with the model of res, scaled to the histogram entries.
func Render(w io.Writer, h *hbook.H1D, res *FitResult, opts RenderOptions) error {
	if res == nil {
		return ErrNotFitted
	}
	if opts.Format == "" {
		opts.Format = "png"
	}
	if opts.Width == 0 {
		opts.Width = 6 * vg.Inch
	}
	if opts.Height == 0 {
		opts.Height = 4 * vg.Inch
	}

	m := res.mixture
	lo, hi := res.Range[0], res.Range[1]
	scale := res.Entries * hist.Axis(h).Width()

	p := hplot.New()
	p.Title.Text = opts.Title
	p.X.Label.Text = opts.XTitle
	p.Y.Label.Text = "entries"
	p.X.Tick.Marker = calibplot.PreciseTicks{NSuggestedTicks: 5}
	p.Y.Tick.Marker = calibplot.PreciseTicks{NSuggestedTicks: 5}
	if opts.LogY {
		p.Y.Scale = plot.LogScale{}
		p.Y.Tick.Marker = calibplot.LogTicks{}
	}

	// y values are kept above floor on a log axis.
	floor := 0.0
	if opts.LogY {
		floor = logFloor(h)
		steps, err := plotter.NewLine(logSteps(h, floor))
		if err != nil {
			return fmt.Errorf("fitter: could not render fit: %w", err)
		}
		steps.Color = color.RGBA{A: 255}
		p.Add(steps)
	} else {
		hp := hplot.NewH1D(h)
		hp.FillColor = nil
		hp.LineStyle.Color = color.RGBA{A: 255}
		hp.Infos.Style = hplot.HInfoNone
		p.Add(hp)
	}
	clamp := func(v float64) float64 {
		if opts.LogY && !(v > floor) {
			return floor
		}
		return v
	}

	total := plotter.NewFunction(func(x float64) float64 {
		return clamp(scale * m.Eval(x, lo, hi))
	})
	total.XMin, total.XMax = lo, hi
	total.Samples = 500
	total.Color = color.RGBA{R: 255, A: 255}
	total.Width = vg.Points(1.5)
	p.Add(total)
	p.Legend.Add("fit", total)

	for i, id := range opts.Components {
		if _, err := m.Component(id, lo, lo, hi); err != nil {
			return err
		}
		id := id
		f := plotter.NewFunction(func(x float64) float64 {
			v, _ := m.Component(id, x, lo, hi)
			return clamp(scale * v)
		})
		f.XMin, f.XMax = lo, hi
		f.Samples = 500
		f.Color = componentColors[i%len(componentColors)]
		f.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(f)
		p.Legend.Add(id.String(), f)
	}
	p.Legend.Top = true
	if opts.LogY {
		p.Y.Min = floor
	}

	wt, err := p.WriterTo(opts.Width, opts.Height, opts.Format)
	if err != nil {
		return fmt.Errorf("fitter: could not render fit: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// logFloor is half the smallest positive bin content of h, or 0.5 when h
// has no positive bin.
func logFloor(h *hbook.H1D) float64 {
	floor := math.Inf(1)
	ax := hist.Axis(h)
	for i := 0; i < ax.Bins; i++ {
		if n := hist.Content(h, i); n > 0 && n < floor {
			floor = n
		}
	}
	if math.IsInf(floor, 1) {
		return 0.5
	}
	return 0.5 * floor
}

// logSteps returns the outline of h with every bin raised to at least floor.
func logSteps(h *hbook.H1D, floor float64) plotter.XYs {
	ax := hist.Axis(h)
	xys := make(plotter.XYs, 0, 2*ax.Bins)
	for i := 0; i < ax.Bins; i++ {
		n := math.Max(hist.Content(h, i), floor)
		xys = append(xys,
			plotter.XY{X: ax.BinLowEdge(i), Y: n},
			plotter.XY{X: ax.BinUpEdge(i), Y: n},
		)
	}
	return xys
}
