package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/aoi-engine/internal/boundary"
	"github.com/sells-group/aoi-engine/internal/geometry"
	"github.com/sells-group/aoi-engine/internal/resolver"
)

func TestWriteResolved(t *testing.T) {
	g, err := geometry.New(geometry.BBox{West: 0, South: 0, East: 1, North: 1}.Polygon(), "ds", geometry.LevelCountry)
	require.NoError(t, err)

	var buf bytes.Buffer
	failed := writeResolved(&buf, []resolver.Result{
		{Name: "Here", Geometry: g},
		{Name: "Nowhere", Err: errors.New("not found")},
	})
	assert.Equal(t, 1, failed)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first, second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "Here", first["placeName"])
	assert.Contains(t, first, "geometry")
	assert.Equal(t, "not found", second["error"])
	assert.NotContains(t, second, "geometry")
}

func TestNormalizeInput(t *testing.T) {
	v, err := normalizeInput([]string{"Paris, France"}, "")
	require.NoError(t, err)
	assert.Equal(t, "Paris, France", v)

	path := filepath.Join(t.TempDir(), "aoi.geojson")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"Point","coordinates":[1,2]}`), 0o644))
	v, err = normalizeInput(nil, path)
	require.NoError(t, err)
	assert.IsType(t, json.RawMessage{}, v)

	_, err = normalizeInput([]string{"x"}, path)
	assert.Error(t, err)
	_, err = normalizeInput(nil, "")
	assert.Error(t, err)
	_, err = normalizeInput(nil, filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadPlan(t *testing.T) {
	m, err := loadPlan([]string{"counties.shp"}, "", "TIGER/2018/Counties")
	require.NoError(t, err)
	assert.Equal(t, []boundary.Source{{Dataset: "TIGER/2018/Counties", Path: "counties.shp"}}, m.Sources)

	_, err = loadPlan([]string{"counties.shp"}, "", "")
	assert.ErrorContains(t, err, "--dataset")

	m, err = loadPlan(nil, writeManifest(t), "")
	require.NoError(t, err)
	assert.Len(t, m.Sources, 1)

	_, err = loadPlan([]string{"x.shp"}, "m.yaml", "")
	assert.Error(t, err)
	_, err = loadPlan(nil, "", "")
	assert.Error(t, err)
}

func TestOpenLoadableStore_SQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := testConfig(t)
	c.Store.Driver = "sqlite"
	c.Store.DatabaseURL = filepath.Join(t.TempDir(), "boundaries.db")

	store, closeStore, err := openLoadableStore(ctx, c)
	require.NoError(t, err)

	m, err := boundary.LoadManifest(writeManifest(t))
	require.NoError(t, err)
	n, err := boundary.LoadAll(ctx, store, m, loadOptions(c))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	closeStore()

	// A fresh env over the same database resolves the loaded county.
	env, err := initEnv(ctx, c, nil)
	require.NoError(t, err)
	defer env.Close()
	g, err := env.Resolver.Resolve(ctx, "San Francisco")
	require.NoError(t, err)
	assert.Equal(t, "TIGER/2018/Counties", g.SourceDataset)
}

func TestOpenLoadableStore_RejectsMemory(t *testing.T) {
	_, _, err := openLoadableStore(context.Background(), testConfig(t))
	assert.ErrorContains(t, err, "cannot be loaded")
}
