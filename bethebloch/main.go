package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"

	"github.com/pkg/profile"

	"github.com/decibelcooper/calibplot"
	"github.com/decibelcooper/calibplot/calib"
	"github.com/decibelcooper/calibplot/config"
	"github.com/decibelcooper/calibplot/dataset"
	"github.com/decibelcooper/calibplot/fitter"
	"github.com/decibelcooper/calibplot/hist"
	"github.com/decibelcooper/calibplot/internal/cli"
	"github.com/decibelcooper/calibplot/store"
)

var (
	tree     = flag.String("tree", "outTree", "tree name in ROOT inputs")
	folder   = flag.String("folder", "", "ROOT directory holding the tree, a trailing * matches every prefixed directory")
	xCol     = flag.String("x", "bg", "beta*gamma column, computed from p and mass when missing")
	yCol     = flag.String("y", "dEdx", "energy loss column")
	nBinsX   = flag.Int("nbinsx", 20, "number of beta*gamma bins")
	nBinsY   = flag.Int("nbinsy", 100, "number of energy loss bins")
	first    = flag.Int("first", 0, "first fitted beta*gamma bin")
	last     = flag.Int("last", -1, "last fitted beta*gamma bin, negative counts from the end")
	shapes   = flag.String("shapes", "gaus", "comma separated shapes fitted in each slice, signal first")
	name     = flag.String("name", "its", "calibration name in the database")
	title    = flag.String("title", "", "plot title")
	output   = flag.String("output", "bethebloch", "output file prefix")
	prof     = flag.Bool("profile", false, "write a CPU profile")
	xRange   = calibplot.RangeFlag{Lo: 0.3, Hi: 4}
	yRange   = calibplot.RangeFlag{Lo: 0, Hi: 600}
	sigRange calibplot.RangeFlag
	params   cli.ParamFlags
	bbInit   calibplot.FloatArrayFlags
)

func init() {
	flag.Var(&xRange, "xrange", "beta*gamma range lo:hi")
	flag.Var(&yRange, "yrange", "energy loss range lo:hi")
	flag.Var(&sigRange, "signalrange", "energy loss range used to seed the signal lo:hi")
	flag.Var(&params, "param", "shape parameter override name=value[:lo:hi] (repeatable)")
	flag.Var(&bbInit, "init", "comma separated kp1..kp5 start values")
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: `+os.Args[0]+` [options] <input-file> [input-file...]

Fits the energy loss distribution in slices of beta*gamma and the slice
means with a Bethe-Bloch curve. Inputs are csv, root or proio files.

options:
`,
	)
	flag.PrintDefaults()
}

func main() {
	log.SetPrefix("bethebloch: ")
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

	data, err := dataset.Load(flag.Args(), dataset.Options{Tree: *tree, Folder: *folder})
	if err != nil {
		log.Fatal(err)
	}
	if !data.Has(*xCol) {
		data.Assign(*xCol, func(r dataset.Row) float64 { return r.Get("p") / r.Get("mass") })
	}
	data.Filter(func(r dataset.Row) bool {
		return !math.IsNaN(r.Get(*xCol)) && !math.IsNaN(r.Get(*yCol))
	})
	log.Printf("%d entries", data.Len())

	ax := hist.AxisSpec{Bins: *nBinsX, Min: xRange.Lo, Max: xRange.Hi, Name: *xCol, Title: "#beta#gamma"}
	ay := hist.AxisSpec{Bins: *nBinsY, Min: yRange.Lo, Max: yRange.Hi, Name: *yCol, Title: "dE/dx"}
	h2, err := data.BuildH2(*xCol, *yCol, ax, ay)
	if err != nil {
		log.Fatal(err)
	}

	eng, err := fitter.NewEngine(fitter.Observable{Name: *yCol, Min: ay.Min, Max: ay.Max})
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

	lastBin := *last
	if lastBin < 0 {
		lastBin += ax.Bins
	}
	opts := calib.Options{
		SignalRange: [2]float64{sigRange.Lo, sigRange.Hi},
		Workers:     cfg.Workers,
		Logger:      log.Default(),
	}
	series, err := calib.FitBySlices(h2, eng, *first, lastBin, ids[0], opts)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(series.Table())

	var start calib.BetheBlochParams
	if len(bbInit.Array) > 0 {
		if len(bbInit.Array) != 5 {
			log.Fatal("-init needs 5 values")
		}
		a := bbInit.Array
		start = calib.BetheBlochParams{KP1: a[0], KP2: a[1], KP3: a[2], KP4: a[3], KP5: a[4]}
	}
	cal, err := calib.CalibrateEnergyLoss(series, start, opts)
	if err != nil {
		log.Fatal(err)
	}

	data.Assign("nsigma", func(r dataset.Row) float64 { return cal.NSigma(r.Get(*xCol), r.Get(*yCol)) })
	nsigma, err := data.Select("nsigma")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(nsigma.Describe())

	plots := []struct {
		suffix string
		which  calib.Series
		ytitle string
		curve  func(float64) float64
	}{
		{"_mean.png", calib.MeanSeries, "<dE/dx>", cal.Eval},
		{"_res.png", calib.ResolutionSeries, "#sigma/<dE/dx>", func(float64) float64 { return cal.Resolution }},
	}
	for _, pl := range plots {
		w, err := cli.Create(cfg.OutputDir, *output+pl.suffix)
		if err != nil {
			log.Fatal(err)
		}
		err = calib.PlotSeries(w, series, pl.which, pl.curve, calib.PlotOptions{Title: *title, XTitle: "#beta#gamma", YTitle: pl.ytitle})
		w.Close()
		if err != nil {
			log.Fatal(err)
		}
	}
	w, err := cli.Create(cfg.OutputDir, *output+"_h2.png")
	if err != nil {
		log.Fatal(err)
	}
	if err := calib.PlotH2(w, h2, calib.PlotOptions{Title: *title, XTitle: "#beta#gamma", YTitle: "dE/dx"}); err != nil {
		log.Fatal(err)
	}
	w.Close()

	err = cli.Save(context.Background(), cfg.DSN, store.NewRunID(), "energy_loss", *name, cal.Params(), cal.Chi2, cal.NDF)
	if err != nil {
		log.Fatal(err)
	}
}
