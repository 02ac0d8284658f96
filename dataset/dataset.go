// Package dataset holds columnar float64 tables with the selections,
// derived columns and histogram builders used by the calibration workflows.
package dataset

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"go-hep.org/x/hep/hbook"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/decibelcooper/calibplot/hist"
)

var (
	ErrUnknownColumn   = errors.New("dataset: unknown column")
	ErrLength          = errors.New("dataset: column length mismatch")
	ErrDuplicateSubset = errors.New("dataset: subset already exists")
	ErrUnknownSubset   = errors.New("dataset: unknown subset")
)

// Dataset is a table of named float64 columns of equal length.
type Dataset struct {
	names   []string
	cols    map[string][]float64
	n       int
	subsets map[string]func(Row) bool
}

// New returns a dataset holding cols, ordered by column name.
func New(cols map[string][]float64) (*Dataset, error) {
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)
	vals := make([][]float64, len(names))
	for i, name := range names {
		vals[i] = cols[name]
	}
	return FromColumns(names, vals)
}

// FromColumns returns a dataset with the given column order.
func FromColumns(names []string, cols [][]float64) (*Dataset, error) {
	if len(names) != len(cols) {
		return nil, fmt.Errorf("%w: %d names for %d columns", ErrLength, len(names), len(cols))
	}
	d := &Dataset{cols: make(map[string][]float64, len(names))}
	for i, name := range names {
		if _, dup := d.cols[name]; dup {
			return nil, fmt.Errorf("dataset: duplicate column %q", name)
		}
		if i > 0 && len(cols[i]) != d.n {
			return nil, fmt.Errorf("%w: column %q has %d rows, want %d", ErrLength, name, len(cols[i]), d.n)
		}
		d.n = len(cols[i])
		d.names = append(d.names, name)
		d.cols[name] = append([]float64(nil), cols[i]...)
	}
	return d, nil
}

func (d *Dataset) Len() int { return d.n }

// Columns returns the column names in order.
func (d *Dataset) Columns() []string { return append([]string(nil), d.names...) }

func (d *Dataset) Has(name string) bool {
	_, ok := d.cols[name]
	return ok
}

// Column returns the values of name. The slice is shared with d.
func (d *Dataset) Column(name string) ([]float64, error) {
	c, ok := d.cols[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, name)
	}
	return c, nil
}

// Row is a read-only view of one row.
type Row struct {
	d *Dataset
	i int
}

func (r Row) Index() int { return r.i }

// Get returns the value of column name, NaN for unknown columns.
func (r Row) Get(name string) float64 {
	c, ok := r.d.cols[name]
	if !ok {
		return math.NaN()
	}
	return c[r.i]
}

func (d *Dataset) Row(i int) Row { return Row{d: d, i: i} }

// Query returns a copy of d holding the rows for which pred is true.
func (d *Dataset) Query(pred func(Row) bool) *Dataset {
	out := &Dataset{
		names:   append([]string(nil), d.names...),
		cols:    make(map[string][]float64, len(d.names)),
		subsets: d.subsets,
	}
	var keep []int
	for i := 0; i < d.n; i++ {
		if pred(Row{d: d, i: i}) {
			keep = append(keep, i)
		}
	}
	for _, name := range d.names {
		src := d.cols[name]
		dst := make([]float64, len(keep))
		for j, i := range keep {
			dst[j] = src[i]
		}
		out.cols[name] = dst
	}
	out.n = len(keep)
	return out
}

// Filter keeps in place the rows for which pred is true.
func (d *Dataset) Filter(pred func(Row) bool) {
	q := d.Query(pred)
	d.cols, d.n = q.cols, q.n
}

// Assign sets column name to fn evaluated on each row, replacing any
// existing column of that name.
func (d *Dataset) Assign(name string, fn func(Row) float64) {
	vals := make([]float64, d.n)
	for i := range vals {
		vals[i] = fn(Row{d: d, i: i})
	}
	d.set(name, vals)
}

// SetColumn sets column name to a copy of vals.
func (d *Dataset) SetColumn(name string, vals []float64) error {
	if len(vals) != d.n && len(d.names) > 0 {
		return fmt.Errorf("%w: column %q has %d rows, want %d", ErrLength, name, len(vals), d.n)
	}
	d.n = len(vals)
	d.set(name, append([]float64(nil), vals...))
	return nil
}

// SetConstant sets column name to v on every row.
func (d *Dataset) SetConstant(name string, v float64) {
	vals := make([]float64, d.n)
	for i := range vals {
		vals[i] = v
	}
	d.set(name, vals)
}

func (d *Dataset) set(name string, vals []float64) {
	if _, ok := d.cols[name]; !ok {
		d.names = append(d.names, name)
	}
	if d.cols == nil {
		d.cols = make(map[string][]float64)
	}
	d.cols[name] = vals
}

// Select returns a copy of d restricted to the given columns.
func (d *Dataset) Select(names ...string) (*Dataset, error) {
	cols := make([][]float64, len(names))
	for i, name := range names {
		c, err := d.Column(name)
		if err != nil {
			return nil, err
		}
		cols[i] = c
	}
	return FromColumns(names, cols)
}

// AddSubset registers a named selection, evaluated when the subset is
// requested.
func (d *Dataset) AddSubset(name string, pred func(Row) bool) error {
	if _, ok := d.subsets[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateSubset, name)
	}
	subsets := make(map[string]func(Row) bool, len(d.subsets)+1)
	for k, v := range d.subsets {
		subsets[k] = v
	}
	subsets[name] = pred
	d.subsets = subsets
	return nil
}

// Subset returns the rows of the current content selected by the named
// subset.
func (d *Dataset) Subset(name string) (*Dataset, error) {
	pred, ok := d.subsets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSubset, name)
	}
	return d.Query(pred), nil
}

// Concat appends the rows of o, which must hold the same columns.
func (d *Dataset) Concat(o *Dataset) error {
	if len(d.names) == 0 {
		*d = Dataset{names: o.Columns(), cols: make(map[string][]float64), subsets: d.subsets}
		for _, name := range d.names {
			d.cols[name] = append([]float64(nil), o.cols[name]...)
		}
		d.n = o.n
		return nil
	}
	if len(o.names) != len(d.names) {
		return fmt.Errorf("%w: %v vs %v", ErrUnknownColumn, d.names, o.names)
	}
	for _, name := range d.names {
		if !o.Has(name) {
			return fmt.Errorf("%w: %q missing from appended dataset", ErrUnknownColumn, name)
		}
	}
	for _, name := range d.names {
		d.cols[name] = append(d.cols[name], o.cols[name]...)
	}
	d.n += o.n
	return nil
}

// BuildH1 histograms column col along ax.
func (d *Dataset) BuildH1(col string, ax hist.AxisSpec) (*hbook.H1D, error) {
	xs, err := d.Column(col)
	if err != nil {
		return nil, err
	}
	return hist.Build1D(xs, ax)
}

// BuildH2 histograms columns colx and coly along ax and ay.
func (d *Dataset) BuildH2(colx, coly string, ax, ay hist.AxisSpec) (*hbook.H2D, error) {
	xs, err := d.Column(colx)
	if err != nil {
		return nil, err
	}
	ys, err := d.Column(coly)
	if err != nil {
		return nil, err
	}
	return hist.Build2D(xs, ys, ax, ay)
}

// ColumnStats summarises one column. NaN values are ignored.
type ColumnStats struct {
	Name      string
	Count     int
	Mean, Std float64
	Min, Max  float64
}

// Stats returns the summary of every column.
func (d *Dataset) Stats() []ColumnStats {
	out := make([]ColumnStats, 0, len(d.names))
	for _, name := range d.names {
		var vals []float64
		for _, v := range d.cols[name] {
			if !math.IsNaN(v) {
				vals = append(vals, v)
			}
		}
		s := ColumnStats{Name: name, Count: len(vals), Mean: math.NaN(), Std: math.NaN(), Min: math.NaN(), Max: math.NaN()}
		if len(vals) > 0 {
			s.Mean, s.Std = stat.MeanStdDev(vals, nil)
			s.Min, s.Max = floats.Min(vals), floats.Max(vals)
		}
		out = append(out, s)
	}
	return out
}

// Describe renders the column summaries as a text table.
func (d *Dataset) Describe() string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"column", "count", "mean", "std", "min", "max"})
	for _, s := range d.Stats() {
		t.AppendRow(table.Row{s.Name, s.Count, s.Mean, s.Std, s.Min, s.Max})
	}
	t.SetStyle(table.StyleDefault)
	return t.Render()
}
