package dataset

import (
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"

	"github.com/proio-org/go-proio"
	"github.com/proio-org/go-proio-pb/model/eic"
	"go-hep.org/x/hep/csvutil"
	"go-hep.org/x/hep/groot"
	"go-hep.org/x/hep/groot/riofs"
	"go-hep.org/x/hep/groot/rtree"
)

var ErrFormat = errors.New("dataset: unsupported input")

// Load reads and concatenates the given files, choosing the reader from
// the file extension.
func Load(paths []string, opts Options) (*Dataset, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no input files", ErrFormat)
	}
	out := &Dataset{}
	for _, path := range paths {
		var (
			d   *Dataset
			err error
		)
		switch strings.ToLower(filepath.Ext(path)) {
		case ".csv":
			d, err = FromCSV(path)
		case ".root":
			d, err = FromROOT(path, opts)
		case ".proio":
			d, err = FromProio(path, opts.Tag)
		default:
			err = fmt.Errorf("%w: %q", ErrFormat, path)
		}
		if err != nil {
			return nil, err
		}
		if err := out.Concat(d); err != nil {
			return nil, fmt.Errorf("dataset: %s: %w", path, err)
		}
	}
	return out, nil
}

// FromCSV reads a comma separated file whose first row names the columns.
func FromCSV(path string) (*Dataset, error) {
	tbl, err := csvutil.Open(path)
	if err != nil {
		return nil, err
	}
	defer tbl.Close()
	tbl.Reader.Comma = ','
	tbl.Reader.Comment = '#'

	rows, err := tbl.ReadRows(0, -1)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		names []string
		cols  [][]float64
		vals  []float64
		ptrs  []interface{}
	)
	for rows.Next() {
		if names == nil {
			names = append([]string(nil), rows.Fields()...)
			for i := range names {
				names[i] = strings.TrimSpace(names[i])
			}
			cols = make([][]float64, len(names))
			vals = make([]float64, len(names))
			ptrs = make([]interface{}, len(names))
			for i := range vals {
				ptrs[i] = &vals[i]
			}
			continue
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("dataset: %s: %w", path, err)
		}
		for i, v := range vals {
			cols[i] = append(cols[i], v)
		}
	}
	if err := rows.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if names == nil {
		return nil, fmt.Errorf("%w: %s has no header", ErrFormat, path)
	}
	return FromColumns(names, cols)
}

// Options select what is read from the input files.
type Options struct {
	// Tree is the tree name.
	Tree string
	// Folder is the directory holding the tree. A trailing '*' reads the
	// tree from every top level directory starting with the prefix. Empty
	// means the file root.
	Folder string
	// Columns restricts the branches read. Nil reads every numeric branch.
	Columns []string
	// Tag selects the proio entries read, GenStable when empty.
	Tag string
}

// FromROOT reads the numeric scalar branches of a tree.
func FromROOT(path string, opts Options) (*Dataset, error) {
	if opts.Tree == "" {
		return nil, fmt.Errorf("%w: no tree name", ErrFormat)
	}
	f, err := groot.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var names []string
	switch {
	case opts.Folder == "":
		names = []string{opts.Tree}
	case strings.HasSuffix(opts.Folder, "*"):
		prefix := strings.TrimSuffix(opts.Folder, "*")
		for _, k := range f.Keys() {
			isDir := k.ClassName() == "TDirectoryFile" || k.ClassName() == "TDirectory"
			if isDir && strings.HasPrefix(k.Name(), prefix) {
				names = append(names, k.Name()+"/"+opts.Tree)
			}
		}
		if len(names) == 0 {
			return nil, fmt.Errorf("dataset: %s: no directory matching %q", path, opts.Folder)
		}
	default:
		names = []string{opts.Folder + "/" + opts.Tree}
	}

	out := &Dataset{}
	for _, name := range names {
		obj, err := riofs.Dir(f).Get(name)
		if err != nil {
			return nil, fmt.Errorf("dataset: %s: %w", path, err)
		}
		t, ok := obj.(rtree.Tree)
		if !ok {
			return nil, fmt.Errorf("%w: %s:%s is a %s, not a tree", ErrFormat, path, name, obj.Class())
		}
		d, err := readTree(t, opts.Columns)
		if err != nil {
			return nil, fmt.Errorf("dataset: %s:%s: %w", path, name, err)
		}
		if err := out.Concat(d); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func readTree(t rtree.Tree, columns []string) (*Dataset, error) {
	want := make(map[string]bool, len(columns))
	for _, c := range columns {
		want[c] = true
	}
	var rvars []rtree.ReadVar
	for _, rv := range rtree.NewReadVars(t) {
		if len(want) > 0 && !want[rv.Name] {
			continue
		}
		if _, ok := toFloat(rv.Value); !ok {
			continue
		}
		rvars = append(rvars, rv)
	}
	for _, c := range columns {
		found := false
		for _, rv := range rvars {
			found = found || rv.Name == c
		}
		if !found {
			return nil, fmt.Errorf("%w: branch %q", ErrUnknownColumn, c)
		}
	}

	r, err := rtree.NewReader(t, rvars)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	cols := make([][]float64, len(rvars))
	err = r.Read(func(ctx rtree.RCtx) error {
		for i, rv := range rvars {
			v, _ := toFloat(rv.Value)
			cols[i] = append(cols[i], v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	names := make([]string, len(rvars))
	for i, rv := range rvars {
		names[i] = rv.Name
	}
	return FromColumns(names, cols)
}

func toFloat(v interface{}) (float64, bool) {
	switch v := v.(type) {
	case *float64:
		return *v, true
	case *float32:
		return float64(*v), true
	case *int64:
		return float64(*v), true
	case *int32:
		return float64(*v), true
	case *int16:
		return float64(*v), true
	case *int8:
		return float64(*v), true
	case *uint64:
		return float64(*v), true
	case *uint32:
		return float64(*v), true
	case *uint16:
		return float64(*v), true
	case *uint8:
		return float64(*v), true
	case *bool:
		if *v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// ParticleColumns are the columns of a dataset read with FromProio.
var ParticleColumns = []string{"event", "p", "pt", "eta", "charge", "mass", "pdg", "bg"}

// FromProio reads the particles tagged tag (GenStable when empty) from a
// proio stream, one row per particle.
func FromProio(path, tag string) (*Dataset, error) {
	if tag == "" {
		tag = "GenStable"
	}
	reader, err := proio.Open(path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	cols := make([][]float64, len(ParticleColumns))
	nEvent := 0
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("dataset: %s: %w", path, err)
		}
		for _, id := range event.TaggedEntries(tag) {
			part, ok := event.GetEntry(id).(*eic.Particle)
			if !ok {
				continue
			}
			px, py, pz := float64(part.GetP().GetX()), float64(part.GetP().GetY()), float64(part.GetP().GetZ())
			pMag := math.Sqrt(px*px + py*py + pz*pz)
			mass := float64(part.GetMass())
			bg := math.NaN()
			if mass > 0 {
				bg = pMag / mass
			}
			row := []float64{
				float64(nEvent),
				pMag,
				math.Hypot(px, py),
				math.Atanh(pz / pMag),
				float64(part.GetCharge()),
				mass,
				float64(part.GetPdg()),
				bg,
			}
			for i, v := range row {
				cols[i] = append(cols[i], v)
			}
		}
		nEvent++
	}
	return FromColumns(ParticleColumns, cols)
}
