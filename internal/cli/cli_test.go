package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decibelcooper/calibplot/fitter"
)

func TestRegisterShapes(t *testing.T) {
	e, err := fitter.NewEngine(fitter.Observable{Name: "m", Min: 0, Max: 10})
	require.NoError(t, err)

	ids, err := RegisterShapes(e, "gaus, exp")
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, "gaus_0", ids[0].String())
	assert.Equal(t, "exp_1", ids[1].String())

	_, err = RegisterShapes(e, "landau")
	assert.ErrorIs(t, err, fitter.ErrInvalidShape)
	_, err = RegisterShapes(e, " , ")
	assert.ErrorIs(t, err, fitter.ErrInvalidShape)
}

func TestParamFlags(t *testing.T) {
	var f ParamFlags
	require.NoError(t, f.Set("gaus_0_sigma=0.3"))
	require.NoError(t, f.Set("gaus_0_mean=5:4:6"))
	assert.Error(t, f.Set("gaus_0_mean"))
	assert.Error(t, f.Set("gaus_0_mean=1:2"))
	assert.Error(t, f.Set("gaus_0_mean=x"))
	require.Len(t, f.Settings, 2)
	assert.Equal(t, []float64{4, 6}, f.Settings[1].Bounds)
	assert.Equal(t, "gaus_0_sigma=0.3,gaus_0_mean=5", f.String())

	e, err := fitter.NewEngine(fitter.Observable{Name: "m", Min: 0, Max: 10}, fitter.Gaussian)
	require.NoError(t, err)
	require.NoError(t, f.Apply(e))
	p, err := e.Parameter(fitter.ParamKey{Shape: fitter.ShapeID{Family: fitter.Gaussian}, Kind: fitter.Mean})
	require.NoError(t, err)
	assert.Equal(t, 5.0, p.Value)
	assert.Equal(t, 4.0, p.Min)
	assert.Equal(t, 6.0, p.Max)

	var bad ParamFlags
	require.NoError(t, bad.Set("exp_3_alpha=1"))
	assert.ErrorIs(t, bad.Apply(e), fitter.ErrUnknownParameter)
}

func TestCreateAndSave(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plots")
	f, err := Create(dir, "out.png")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	_, err = os.Stat(filepath.Join(dir, "out.png"))
	assert.NoError(t, err)

	assert.NoError(t, Save(context.Background(), "", "run", "energy_loss", "its", nil, 0, 0))
}
