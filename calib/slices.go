// Package calib turns 2-D histograms into calibration curves: each x slice
// is fitted with the curve-fit engine, and the fitted peak positions and
// relative widths are fitted in turn with Bethe-Bloch like curves.
package calib

import (
	"context"
	"fmt"
	"log"
	"math"

	"github.com/jedib0t/go-pretty/v6/table"
	"go-hep.org/x/hep/hbook"
	"golang.org/x/sync/errgroup"

	"github.com/decibelcooper/calibplot/fitter"
	"github.com/decibelcooper/calibplot/hist"
)

// Options configure slice fits and calibrations. The zero value is usable.
type Options struct {
	// SignalRange is the y range used to seed the signal mean and sigma of
	// each slice. Zero means the fit range.
	SignalRange [2]float64
	// FitRange is the y range of each slice fit. Zero means the full y
	// axis.
	FitRange [2]float64
	// Shapes restricts the fitted mixture. Nil means every registered
	// shape.
	Shapes []fitter.ShapeID
	// MinEntries is the smallest slice content that is fitted. Defaults
	// to the larger of 10 and 5 entries per free parameter.
	MinEntries float64
	// Workers is the number of slices fitted concurrently. Every slice
	// starts from the start values of the caller's engine. Defaults to 1.
	Workers int
	// Logger receives the calibration summaries. Nil is silent.
	Logger *log.Logger
}

func (o Options) logf(format string, args ...interface{}) {
	if o.Logger != nil {
		o.Logger.Printf(format, args...)
	}
}

// SliceRow is the fit of one x slice.
type SliceRow struct {
	Bin       int
	BinCenter float64
	// BinError is half the x bin width.
	BinError float64
	Result   *fitter.FitResult

	Mean, MeanErr   float64
	Sigma, SigmaErr float64
	// Integral is the signal fraction over the fit range and
	// UnnormIntegral the matching number of entries.
	Integral       float64
	UnnormIntegral float64
	// Res is the relative width Sigma/Mean.
	Res, ResErr float64
}

// SliceSeries holds the slice fits ordered by bin.
type SliceSeries struct {
	Rows   []SliceRow
	Signal fitter.ShapeID
	// XMin and XMax are the low edge of the first slice and the up edge of
	// the last one.
	XMin, XMax float64
}

// FitBySlices fits each x bin in [first, last] (0-based, inclusive) of h2
// with the shapes registered in eng. The signal shape must have a mean and
// a sigma; its start values are seeded per slice from the slice mean and
// standard deviation within opts.SignalRange, or left at the values of eng
// when the signal range is empty. eng itself is not modified.
//
// The scan stops at the first slice that cannot be fitted and returns a
// *SliceError.
func FitBySlices(h2 *hbook.H2D, eng *fitter.Engine, first, last int, signal fitter.ShapeID, opts Options) (*SliceSeries, error) {
	ax := hist.XAxis(h2)
	if first > last || first < 0 || last >= ax.Bins {
		return nil, fmt.Errorf("%w: slices [%d, %d] not in [0, %d)", ErrDomain, first, last, ax.Bins)
	}
	for _, k := range []fitter.ParamKind{fitter.Mean, fitter.Sigma} {
		if _, err := eng.Parameter(fitter.ParamKey{Shape: signal, Kind: k}); err != nil {
			return nil, fmt.Errorf("%w: signal %v needs a mean and a sigma", fitter.ErrInvalidShape, signal)
		}
	}

	if opts.MinEntries <= 0 {
		m, err := eng.Mixture(opts.Shapes...)
		if err != nil {
			return nil, err
		}
		opts.MinEntries = math.Max(10, 5*float64(m.NFree()))
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	n := last - first + 1
	if workers > n {
		workers = n
	}

	rows := make([]SliceRow, n)
	bins := make(chan int)
	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		defer close(bins)
		for bin := first; bin <= last; bin++ {
			select {
			case bins <- bin:
			case <-ctx.Done():
				return nil
			}
		}
		return nil
	})
	for w := 0; w < workers; w++ {
		base := eng.Clone()
		g.Go(func() error {
			for bin := range bins {
				row, err := fitSlice(base.Clone(), h2, bin, signal, opts)
				if err != nil {
					return err
				}
				rows[bin-first] = row
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &SliceSeries{
		Rows:   rows,
		Signal: signal,
		XMin:   ax.BinLowEdge(first),
		XMax:   ax.BinUpEdge(last),
	}, nil
}

func fitSlice(e *fitter.Engine, h2 *hbook.H2D, bin int, signal fitter.ShapeID, opts Options) (SliceRow, error) {
	ax, ay := hist.XAxis(h2), hist.YAxis(h2)
	h, err := hist.ProjectionY(h2, bin, bin)
	if err != nil {
		return SliceRow{}, &SliceError{Bin: bin, Err: err}
	}

	lo, hi := ay.Min, ay.Max
	if opts.FitRange[0] < opts.FitRange[1] {
		lo, hi = opts.FitRange[0], opts.FitRange[1]
	}
	if n := hist.Sum(h, lo, hi); !(n >= opts.MinEntries) {
		return SliceRow{}, &SliceError{Bin: bin, Err: fmt.Errorf("%w: %v entries in [%v, %v]", ErrDegenerateSlice, n, lo, hi)}
	}

	if err := seed(e, h, signal, lo, hi, opts.SignalRange); err != nil {
		return SliceRow{}, &SliceError{Bin: bin, Err: err}
	}
	res, err := e.Fit(h, lo, hi, opts.Shapes...)
	if err != nil {
		return SliceRow{}, &SliceError{Bin: bin, Err: err}
	}

	row := SliceRow{
		Bin:       bin,
		BinCenter: ax.BinCenter(bin),
		BinError:  0.5 * ax.Width(),
		Result:    res,
	}
	if row.Mean, _, err = res.Value(fitter.ParamKey{Shape: signal, Kind: fitter.Mean}); err != nil {
		return SliceRow{}, &SliceError{Bin: bin, Err: err}
	}
	if row.Sigma, row.SigmaErr, err = res.Value(fitter.ParamKey{Shape: signal, Kind: fitter.Sigma}); err != nil {
		return SliceRow{}, &SliceError{Bin: bin, Err: err}
	}
	sr, err := res.Shape(signal)
	if err != nil {
		return SliceRow{}, &SliceError{Bin: bin, Err: err}
	}
	row.Integral = sr.Integral
	row.UnnormIntegral = sr.Integral * res.Entries
	if row.UnnormIntegral > 0 {
		row.MeanErr = row.Sigma / math.Sqrt(row.UnnormIntegral)
	}
	if row.Mean != 0 {
		row.Res = row.Sigma / row.Mean
		row.ResErr = math.Hypot(row.SigmaErr/row.Mean, row.Sigma*row.MeanErr/(row.Mean*row.Mean))
	}
	opts.logf("[INFO] slice %d (x=%g): mean=%g sigma=%g chi2/ndf=%.2f/%d", bin, row.BinCenter, row.Mean, row.Sigma, res.Chi2, res.NDF)
	return row, nil
}

// seed sets the signal start values from the slice statistics within the
// signal range.
func seed(e *fitter.Engine, h *hbook.H1D, signal fitter.ShapeID, lo, hi float64, sr [2]float64) error {
	if sr[0] < sr[1] {
		lo, hi = sr[0], sr[1]
	}
	mean, std, ok := hist.MeanStdDev(h, lo, hi)
	if !ok {
		return nil
	}
	meanKey := fitter.ParamKey{Shape: signal, Kind: fitter.Mean}
	if err := e.SetParameterRange(meanKey, mean, lo, hi); err != nil {
		return err
	}
	sigmaKey := fitter.ParamKey{Shape: signal, Kind: fitter.Sigma}
	p, err := e.Parameter(sigmaKey)
	if err != nil {
		return err
	}
	if std <= 0 {
		std = hist.Axis(h).Width()
	}
	if p.Min < p.Max {
		std = math.Max(p.Min, math.Min(p.Max, std))
	}
	return e.SetParameter(sigmaKey, std)
}

func (s *SliceSeries) Len() int { return len(s.Rows) }

// Means returns the (bin centre, mean) points with their errors.
func (s *SliceSeries) Means() (xs, ys, exs, eys []float64) {
	return s.columns(func(r SliceRow) (float64, float64) { return r.Mean, r.MeanErr })
}

// Resolutions returns the (bin centre, sigma/mean) points with their
// errors.
func (s *SliceSeries) Resolutions() (xs, ys, exs, eys []float64) {
	return s.columns(func(r SliceRow) (float64, float64) { return r.Res, r.ResErr })
}

// Integrals returns the (bin centre, signal fraction) points.
func (s *SliceSeries) Integrals() (xs, ys, exs, eys []float64) {
	return s.columns(func(r SliceRow) (float64, float64) { return r.Integral, 0 })
}

func (s *SliceSeries) columns(y func(SliceRow) (float64, float64)) (xs, ys, exs, eys []float64) {
	n := len(s.Rows)
	xs, ys, exs, eys = make([]float64, n), make([]float64, n), make([]float64, n), make([]float64, n)
	for i, r := range s.Rows {
		xs[i], exs[i] = r.BinCenter, r.BinError
		ys[i], eys[i] = y(r)
	}
	return xs, ys, exs, eys
}

func (s *SliceSeries) means() points {
	xs, ys, exs, eys := s.Means()
	return points{x: xs, y: ys, ex: exs, ey: eys}
}

func (s *SliceSeries) resolutions() points {
	xs, ys, exs, eys := s.Resolutions()
	return points{x: xs, y: ys, ex: exs, ey: eys}
}

// Graph returns one of the series as a scatter with errors, for plotting.
func Graph(xs, ys, exs, eys []float64) *hbook.S2D {
	pts := make([]hbook.Point2D, len(xs))
	for i := range xs {
		pts[i] = hbook.Point2D{
			X:    xs[i],
			Y:    ys[i],
			ErrX: hbook.Range{Min: exs[i], Max: exs[i]},
			ErrY: hbook.Range{Min: eys[i], Max: eys[i]},
		}
	}
	return hbook.NewS2D(pts...)
}

// Table renders the slice fits as a text table.
func (s *SliceSeries) Table() string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"bin", "bin_center", "mean", "mean_err", "sigma", "sigma_err", "integral", "unnorm_integral", "res", "res_err", "chi2/ndf"})
	for _, r := range s.Rows {
		chi2 := ""
		if r.Result != nil {
			chi2 = fmt.Sprintf("%.2f/%d", r.Result.Chi2, r.Result.NDF)
		}
		t.AppendRow(table.Row{
			r.Bin,
			fmt.Sprintf("%.4g", r.BinCenter),
			fmt.Sprintf("%.5g", r.Mean),
			fmt.Sprintf("%.3g", r.MeanErr),
			fmt.Sprintf("%.5g", r.Sigma),
			fmt.Sprintf("%.3g", r.SigmaErr),
			fmt.Sprintf("%.4f", r.Integral),
			fmt.Sprintf("%.1f", r.UnnormIntegral),
			fmt.Sprintf("%.4f", r.Res),
			fmt.Sprintf("%.3g", r.ResErr),
			chi2,
		})
	}
	t.SetStyle(table.StyleDefault)
	return t.Render()
}
