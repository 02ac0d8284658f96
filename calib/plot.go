package calib

import (
	"fmt"
	"image/color"
	"io"

	"go-hep.org/x/hep/hbook"
	"go-hep.org/x/hep/hplot"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/decibelcooper/calibplot"
)

// Series selects one of the per-slice quantities of a SliceSeries.
type Series int

const (
	MeanSeries Series = iota
	ResolutionSeries
	IntegralSeries
)

// Points returns the selected quantity against the bin centres.
func (s *SliceSeries) Points(which Series) (xs, ys, exs, eys []float64) {
	switch which {
	case ResolutionSeries:
		return s.Resolutions()
	case IntegralSeries:
		return s.Integrals()
	}
	return s.Means()
}

// PlotOptions control PlotSeries.
type PlotOptions struct {
	Title, XTitle, YTitle string
	// Format defaults to png.
	Format        string
	Width, Height vg.Length
}

// PlotSeries draws one quantity of s with its errors and, when curve is
// not nil, the fitted curve over the series range.
func PlotSeries(w io.Writer, s *SliceSeries, which Series, curve func(float64) float64, opts PlotOptions) error {
	xs, ys, exs, eys := s.Points(which)
	if len(xs) == 0 {
		return fmt.Errorf("%w: nothing to plot", ErrTooFewPoints)
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

	p := hplot.New()
	p.Title.Text = opts.Title
	p.X.Label.Text = opts.XTitle
	p.Y.Label.Text = opts.YTitle
	p.X.Tick.Marker = calibplot.PreciseTicks{NSuggestedTicks: 5}
	p.Y.Tick.Marker = calibplot.PreciseTicks{NSuggestedTicks: 5}

	pts := hplot.NewS2D(Graph(xs, ys, exs, eys), hplot.WithXErrBars(true), hplot.WithYErrBars(true))
	pts.GlyphStyle.Shape = draw.CircleGlyph{}
	pts.GlyphStyle.Radius = vg.Points(2)
	p.Add(pts)

	if curve != nil {
		f := plotter.NewFunction(curve)
		f.XMin, f.XMax = s.XMin, s.XMax
		f.Samples = 500
		f.Color = color.RGBA{R: 255, A: 255}
		f.Width = vg.Points(1.5)
		p.Add(f)
		p.Legend.Add("fit", f)
	}
	p.Add(hplot.NewGrid())

	wt, err := p.WriterTo(opts.Width, opts.Height, opts.Format)
	if err != nil {
		return fmt.Errorf("calib: could not render series: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// PlotH2 draws h2 as a png heat map with a color bar, for checking the
// slicing of a calibration histogram.
func PlotH2(w io.Writer, h2 *hbook.H2D, opts PlotOptions) error {
	grid := h2.GridXYZ()
	nx, ny := grid.Dims()
	zMax := 0.0
	for i := 0; i < nx; i++ {
		for j := 0; j < ny; j++ {
			if z := grid.Z(i, j); z > zMax {
				zMax = z
			}
		}
	}
	if zMax == 0 {
		return fmt.Errorf("%w: empty histogram", ErrTooFewPoints)
	}

	p := plot.New()
	p.Title.Text = opts.Title
	p.X.Label.Text = opts.XTitle
	p.Y.Label.Text = opts.YTitle
	p.X.Tick.Marker = calibplot.PreciseTicks{NSuggestedTicks: 5}
	p.Y.Tick.Marker = calibplot.PreciseTicks{NSuggestedTicks: 5}

	colorMap := moreland.ExtendedBlackBody()
	colorMap.SetMin(0)
	colorMap.SetMax(zMax)
	heatMap := plotter.NewHeatMap(grid, colorMap.Palette(1000))
	heatMap.Min = 0
	heatMap.Max = zMax
	p.Add(heatMap)

	img := vgimg.New(670, 400)
	dc := draw.New(img)
	p.Draw(draw.Crop(dc, 0, -70, 0, 0))

	p = plot.New()
	colorBar := &plotter.ColorBar{ColorMap: colorMap}
	colorBar.Vertical = true
	p.Add(colorBar)
	p.HideX()
	p.Y.Padding = 0
	p.Draw(draw.Crop(dc, 620, 0, 0, 0))

	png := vgimg.PngCanvas{Canvas: img}
	_, err := png.WriteTo(w)
	return err
}
