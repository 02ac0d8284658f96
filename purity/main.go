package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/profile"

	"github.com/decibelcooper/calibplot"
	"github.com/decibelcooper/calibplot/config"
	"github.com/decibelcooper/calibplot/dataset"
	"github.com/decibelcooper/calibplot/fitter"
	"github.com/decibelcooper/calibplot/hist"
	"github.com/decibelcooper/calibplot/internal/cli"
	"github.com/decibelcooper/calibplot/store"
)

var (
	tree    = flag.String("tree", "outTree", "tree name in ROOT inputs")
	tag     = flag.String("tag", "GenStable", "entry tag in proio inputs")
	folder  = flag.String("folder", "", "ROOT directory holding the tree, a trailing * matches every prefixed directory")
	col     = flag.String("x", "mass", "fitted column")
	nBins   = flag.Int("nbins", 100, "number of bins")
	shapes  = flag.String("shapes", "gaus,exp", "comma separated shapes, signal first")
	format  = flag.String("format", "png", "plot format")
	logY    = flag.Bool("logy", false, "logarithmic y axis")
	name    = flag.String("name", "signal", "name of the fit in the database")
	title   = flag.String("title", "", "plot title")
	output  = flag.String("output", "purity", "output file prefix")
	prof    = flag.Bool("profile", false, "write a CPU profile")
	xRange  = calibplot.RangeFlag{Lo: 0, Hi: 10}
	fitRng  calibplot.RangeFlag
	sigRng  calibplot.RangeFlag
	params  cli.ParamFlags
	weights calibplot.FloatArrayFlags
)

func init() {
	flag.Var(&xRange, "xrange", "histogram range lo:hi")
	flag.Var(&fitRng, "fitrange", "fit range lo:hi, the histogram range by default")
	flag.Var(&sigRng, "signalrange", "range lo:hi over which the signal integral and purity are reported")
	flag.Var(&params, "param", "shape parameter override name=value[:lo:hi] (repeatable)")
	flag.Var(&weights, "weights", "comma separated start weights of all shapes but the last")
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: `+os.Args[0]+` [options] <input-file> [input-file...]

Fits the distribution of one column with a mixture of shapes and reports
the signal integral and purity. Inputs are csv, root or proio files.

options:
`,
	)
	flag.PrintDefaults()
}

func main() {
	log.SetPrefix("purity: ")
	log.SetFlags(0)

	flag.Usage = printUsage
	flag.Parse()
	if flag.NArg() < 1 {
		printUsage()
		log.Fatal("Invalid arguments")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if *prof || cfg.Profile {
		defer profile.Start().Stop()
	}

	data, err := dataset.Load(flag.Args(), dataset.Options{Tree: *tree, Folder: *folder, Tag: *tag})
	if err != nil {
		log.Fatal(err)
	}
	data.Filter(func(r dataset.Row) bool { return !math.IsNaN(r.Get(*col)) })

	ax := hist.AxisSpec{Bins: *nBins, Min: xRange.Lo, Max: xRange.Hi, Name: *col, Title: *col}
	h, err := data.BuildH1(*col, ax)
	if err != nil {
		log.Fatal(err)
	}

	eng, err := fitter.NewEngine(fitter.Observable{Name: *col, Min: ax.Min, Max: ax.Max})
	if err != nil {
		log.Fatal(err)
	}
	ids, err := cli.RegisterShapes(eng, *shapes)
	if err != nil {
		log.Fatal(err)
	}
	if err := params.Apply(eng); err != nil {
		log.Fatal(err)
	}

	lo, hi := ax.Min, ax.Max
	if fitRng.Lo < fitRng.Hi {
		lo, hi = fitRng.Lo, fitRng.Hi
	}
	var res *fitter.FitResult
	if len(weights.Array) > 0 {
		var m fitter.Mixture
		if m, err = eng.Mixture(ids...); err != nil {
			log.Fatal(err)
		}
		if m, err = m.WithFractions(weights.Array...); err != nil {
			log.Fatal(err)
		}
		res, err = fitter.FitMixture(m, h, lo, hi)
	} else {
		res, err = eng.Fit(h, lo, hi, ids...)
	}
	if err != nil {
		log.Fatal(err)
	}

	t := table.NewWriter()
	t.AppendHeader(table.Row{"parameter", "value", "error"})
	keys := make([]fitter.ParamKey, 0, len(res.Values))
	for k := range res.Values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	for _, k := range keys {
		t.AppendRow(table.Row{k.String(), fmt.Sprintf("%.5g", res.Values[k]), fmt.Sprintf("%.3g", res.Errors[k])})
	}
	for _, s := range res.Shapes {
		t.AppendRow(table.Row{s.ID.String() + "_integral", fmt.Sprintf("%.5g", s.Integral), fmt.Sprintf("%.3g", s.WeightErr)})
	}
	t.AppendFooter(table.Row{"chi2/ndf", fmt.Sprintf("%.2f/%d", res.Chi2, res.NDF), ""})
	t.SetStyle(table.StyleDefault)
	fmt.Println(t.Render())

	out := res.Params()
	if sigRng.Lo < sigRng.Hi {
		integral, err := res.IntegralOf(ids[0], sigRng.Lo, sigRng.Hi)
		if err != nil {
			log.Fatal(err)
		}
		purity, err := res.Purity(ids[0], sigRng.Lo, sigRng.Hi)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("signal in [%g, %g]: %.1f entries, purity %.4f", sigRng.Lo, sigRng.Hi, integral*res.Entries, purity)
		out["signal_integral"] = integral
		out["purity"] = purity
	}

	w, err := cli.Create(cfg.OutputDir, *output+"."+*format)
	if err != nil {
		log.Fatal(err)
	}
	err = fitter.Render(w, h, res, fitter.RenderOptions{
		Title:      *title,
		XTitle:     *col,
		Format:     *format,
		LogY:       *logY,
		Components: ids,
	})
	w.Close()
	if err != nil {
		log.Fatal(err)
	}

	err = cli.Save(context.Background(), cfg.DSN, store.NewRunID(), "purity", *name, out, res.Chi2, res.NDF)
	if err != nil {
		log.Fatal(err)
	}
}
