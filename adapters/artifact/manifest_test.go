package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"probecal/domain/calibration"
	"probecal/domain/core"
	"probecal/domain/run"
)

func TestManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sweep := filepath.Join(dir, "sweep.csv")
	require.NoError(t, os.WriteFile(sweep, []byte("alpha,beta,d,u,r,l,c,s\n"), 0o644))

	inputs, err := HashInputs([]string{sweep})
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	assert.Equal(t, core.NewHash([]byte("alpha,beta,d,u,r,l,c,s\n")), inputs[0].Hash)

	settings := run.Settings{Grid: calibration.DefaultGridSpec(), Prefix: "probe", Format: "c", MaxIterations: 200, Tolerance: 1e-10}
	m := run.NewManifest(core.NewRunID(), inputs, settings, "test", core.NewHash([]byte("table")))
	m.Samples = 42

	path := ManifestPath(filepath.Join(dir, "calibration.h"))
	assert.Equal(t, filepath.Join(dir, "calibration.h.manifest.json"), path)
	require.NoError(t, WriteManifest(path, m))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"x_max": 3`)
	assert.NotContains(t, string(raw), "XMax")

	got, err := ReadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, m.RunID, got.RunID)
	assert.Equal(t, m.Inputs, got.Inputs)
	assert.Equal(t, m.Settings, got.Settings)
	assert.Equal(t, m.Fingerprint, got.Fingerprint)
	assert.Equal(t, 42, got.Samples)
	assert.True(t, m.CreatedAt.Equal(got.CreatedAt))
}

func TestWriteManifestRejectsIncomplete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.json")
	err := WriteManifest(path, &run.Manifest{})
	assert.True(t, errors.Is(err, core.ErrSerialization))
	assert.True(t, errors.Is(err, run.ErrIncompleteManifest))
	assert.NoFileExists(t, path)
}

func TestHashInputsMissingFile(t *testing.T) {
	_, err := HashInputs([]string{filepath.Join(t.TempDir(), "absent.csv")})
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
