// Package cli holds the pieces shared by the calibration commands.
package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/decibelcooper/calibplot/fitter"
	"github.com/decibelcooper/calibplot/store"
)

// RegisterShapes registers the comma separated shape families of list on e,
// in order.
func RegisterShapes(e *fitter.Engine, list string) ([]fitter.ShapeID, error) {
	var ids []fitter.ShapeID
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		id, err := e.RegisterByName(name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no shapes in %q", fitter.ErrInvalidShape, list)
	}
	return ids, nil
}

// ParamSetting is one "name=value[:lo:hi]" parameter override.
type ParamSetting struct {
	Name   string
	Value  float64
	Bounds []float64
}

// ParamFlags collects repeated -param flags.
type ParamFlags struct {
	Settings []ParamSetting
}

func (f *ParamFlags) Set(valueStr string) error {
	toks := strings.SplitN(valueStr, "=", 2)
	if len(toks) != 2 || toks[0] == "" {
		return fmt.Errorf("invalid parameter %q, want name=value[:lo:hi]", valueStr)
	}
	var vals []float64
	for _, tok := range strings.Split(toks[1], ":") {
		v, err := strconv.ParseFloat(strings.TrimSpace(tok), 64)
		if err != nil {
			return err
		}
		vals = append(vals, v)
	}
	if len(vals) != 1 && len(vals) != 3 {
		return fmt.Errorf("invalid parameter %q, want name=value[:lo:hi]", valueStr)
	}
	f.Settings = append(f.Settings, ParamSetting{Name: strings.TrimSpace(toks[0]), Value: vals[0], Bounds: vals[1:]})
	return nil
}

func (f *ParamFlags) String() string {
	var toks []string
	for _, s := range f.Settings {
		toks = append(toks, fmt.Sprintf("%s=%g", s.Name, s.Value))
	}
	return strings.Join(toks, ",")
}

// Apply sets the collected parameters on e.
func (f *ParamFlags) Apply(e *fitter.Engine) error {
	for _, s := range f.Settings {
		if err := e.SetParameterByName(s.Name, s.Value, s.Bounds...); err != nil {
			return err
		}
	}
	return nil
}

// Create creates name in dir, creating dir when needed.
func Create(dir, name string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return os.Create(filepath.Join(dir, name))
}

// Save stores params in the database at dsn. An empty dsn does nothing.
func Save(ctx context.Context, dsn, runID, kind, name string, params map[string]float64, chi2 float64, ndf int) error {
	if dsn == "" {
		return nil
	}
	s, err := store.Open(dsn)
	if err != nil {
		return err
	}
	if err := s.Migrate(ctx); err != nil {
		return err
	}
	c, err := s.Save(ctx, runID, kind, name, params, chi2, ndf)
	if err != nil {
		return err
	}
	log.Printf("saved %s calibration %s (run %s)", kind, c.ID, runID)
	return nil
}
