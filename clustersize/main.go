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
	tree      = flag.String("tree", "outTree", "tree name in ROOT inputs")
	folder    = flag.String("folder", "DF*", "ROOT directory holding the tree, a trailing * matches every prefixed directory")
	packedCol = flag.String("packed", "", "packed per-layer cluster size column, averaged into the y column when set")
	etaCol    = flag.String("eta", "eta", "pseudorapidity column used to correct the cluster size for the track inclination, skipped when missing")
	yCol      = flag.String("y", "clsize", "cluster size column")
	nBinsX    = flag.Int("nbinsx", 15, "number of beta*gamma bins")
	nBinsY    = flag.Int("nbinsy", 90, "number of cluster size bins")
	first     = flag.Int("first", 0, "first fitted beta*gamma bin")
	last      = flag.Int("last", -1, "last fitted beta*gamma bin, negative counts from the end")
	shapes    = flag.String("shapes", "gaus", "comma separated shapes fitted in each slice, signal first")
	mode      = flag.String("mode", "shape", "calibration mode: shape fits kp1-kp3, charge fits the charge exponent kp4")
	charge    = flag.Float64("charge", 1, "particle charge")
	mass      = flag.Float64("mass", 0, "particle mass, overriding the mass column when positive")
	fixKP3    = flag.Bool("fixkp3", false, "hold kp3 at its start value in shape mode")
	name      = flag.String("name", "pi", "calibrated species, used as the database name")
	title     = flag.String("title", "", "plot title")
	output    = flag.String("output", "clustersize", "output file prefix")
	prof      = flag.Bool("profile", false, "write a CPU profile")
	xRange    = calibplot.RangeFlag{Lo: 0.5, Hi: 4.25}
	yRange    = calibplot.RangeFlag{Lo: 0, Hi: 15}
	sigRange  calibplot.RangeFlag
	params    cli.ParamFlags
	kpInit    calibplot.FloatArrayFlags
)

func init() {
	flag.Var(&xRange, "xrange", "beta*gamma range lo:hi")
	flag.Var(&yRange, "yrange", "cluster size range lo:hi")
	flag.Var(&sigRange, "signalrange", "cluster size range used to seed the signal lo:hi")
	flag.Var(&params, "param", "shape parameter override name=value[:lo:hi] (repeatable)")
	flag.Var(&kpInit, "init", "comma separated kp1..kp4, the start values in shape mode and the baseline in charge mode")
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: `+os.Args[0]+` [options] <input-file> [input-file...]

Fits the cluster size distribution in slices of beta*gamma and the slice
means with the simil Bethe-Bloch curve (kp1/bg^kp2+kp3)*charge^kp4.
Inputs are csv, root or proio files.

options:
`,
	)
	flag.PrintDefaults()
}

func main() {
	log.SetPrefix("clustersize: ")
	log.SetFlags(0)

	flag.Usage = printUsage
	flag.Parse()
	if flag.NArg() < 1 {
		printUsage()
		log.Fatal("Invalid arguments")
	}

	var start calib.SimilParams
	if len(kpInit.Array) > 0 {
		if len(kpInit.Array) != 4 {
			log.Fatal("-init needs 4 values")
		}
		a := kpInit.Array
		start = calib.SimilParams{KP1: a[0], KP2: a[1], KP3: a[2], KP4: a[3]}
	}
	var calMode calib.Mode
	switch *mode {
	case "shape":
		calMode = calib.FitShape{Charge: *charge, Init: start, FixKP3: *fixKP3}
	case "charge":
		if start == (calib.SimilParams{}) {
			start = calib.DefaultSimil
		}
		calMode = calib.FitChargeScaling{Baseline: start, Charge: *charge}
	default:
		printUsage()
		log.Fatalf("unknown mode %q", *mode)
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

	if *packedCol != "" {
		data.Assign(*yCol, func(r dataset.Row) float64 {
			avg, n := calib.AverageClusterSize(uint64(r.Get(*packedCol)))
			if n == 0 {
				return math.NaN()
			}
			return avg
		})
	}
	if data.Has(*etaCol) {
		data.Assign(*yCol, func(r dataset.Row) float64 { return r.Get(*yCol) / math.Cosh(r.Get(*etaCol)) })
	}
	if *mass > 0 {
		data.SetConstant("mass", *mass)
	}
	data.Assign("bg", func(r dataset.Row) float64 { return math.Abs(r.Get("p")) / r.Get("mass") })
	data.Filter(func(r dataset.Row) bool {
		return !math.IsNaN(r.Get("bg")) && !math.IsNaN(r.Get(*yCol))
	})
	log.Printf("%d entries", data.Len())

	ax := hist.AxisSpec{Bins: *nBinsX, Min: xRange.Lo, Max: xRange.Hi, Name: "bg", Title: "#beta#gamma"}
	ay := hist.AxisSpec{Bins: *nBinsY, Min: yRange.Lo, Max: yRange.Hi, Name: *yCol, Title: "<cluster size> #times cos#lambda"}
	h2, err := data.BuildH2("bg", *yCol, ax, ay)
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
	copts := calib.Options{
		SignalRange: [2]float64{sigRange.Lo, sigRange.Hi},
		Workers:     cfg.Workers,
		Logger:      log.Default(),
	}
	series, err := calib.FitBySlices(h2, eng, *first, lastBin, ids[0], copts)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(series.Table())

	cal, err := calib.CalibrateClusterSize(series, calMode, copts)
	if err != nil {
		log.Fatal(err)
	}

	data.Assign("nsigma", func(r dataset.Row) float64 { return cal.NSigma(r.Get("bg"), r.Get(*yCol)) })
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
		{"_mean.png", calib.MeanSeries, "<cluster size>", cal.Eval},
		{"_res.png", calib.ResolutionSeries, "#sigma/<cluster size>", func(bg float64) float64 { return calib.Resolution(bg, cal.Resolution) }},
		{"_purity.png", calib.IntegralSeries, "signal fraction", nil},
	}
	for _, pl := range plots {
		w, err := cli.Create(cfg.OutputDir, *output+"_"+*name+pl.suffix)
		if err != nil {
			log.Fatal(err)
		}
		err = calib.PlotSeries(w, series, pl.which, pl.curve, calib.PlotOptions{Title: *title, XTitle: "#beta#gamma", YTitle: pl.ytitle})
		w.Close()
		if err != nil {
			log.Fatal(err)
		}
	}
	w, err := cli.Create(cfg.OutputDir, *output+"_"+*name+"_h2.png")
	if err != nil {
		log.Fatal(err)
	}
	if err := calib.PlotH2(w, h2, calib.PlotOptions{Title: *title, XTitle: "#beta#gamma", YTitle: "cluster size"}); err != nil {
		log.Fatal(err)
	}
	w.Close()

	err = cli.Save(context.Background(), cfg.DSN, store.NewRunID(), "cluster_size", *name, cal.Params(), cal.Chi2, cal.NDF)
	if err != nil {
		log.Fatal(err)
	}
}
