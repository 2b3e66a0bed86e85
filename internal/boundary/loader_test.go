package boundary

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const countiesGeoJSON = `{"type":"FeatureCollection","features":[
	{"type":"Feature","properties":{"NAME":"San Francisco","STATEFP":"06"},
	 "geometry":{"type":"Polygon","coordinates":[[[-122.5,37.7],[-122.3,37.7],[-122.3,37.8],[-122.5,37.8],[-122.5,37.7]]]}}
]}`

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	manifest := `
datasets:
  - dataset: TIGER/2018/Counties
    path: counties.geojson
  - dataset: FAO/GAUL/2015/level0
    path: https://example.com/gaul0.zip
`
	path := filepath.Join(dir, "datasets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0o644))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, m.Sources, 2)
	assert.Equal(t, filepath.Join(dir, "counties.geojson"), m.Sources[0].Path)
	assert.Equal(t, "https://example.com/gaul0.zip", m.Sources[1].Path)
}

func TestLoadManifest_MissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datasets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("datasets:\n  - path: x.shp\n"), 0o644))
	_, err := LoadManifest(path)
	assert.ErrorContains(t, err, "needs dataset and path")
}

func TestLoad_LocalGeoJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "counties.geojson")
	require.NoError(t, os.WriteFile(path, []byte(countiesGeoJSON), 0o644))

	store := NewMemoryStore()
	n, err := Load(context.Background(), store, Source{Dataset: "TIGER/2018/Counties", Path: path}, LoadOptions{TempDir: dir})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := store.First(context.Background(), Filter{
		Dataset: "TIGER/2018/Counties",
		Clauses: []Clause{Eq("NAME", "San Francisco"), Eq("STATEFP", "06")},
	})
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestLoad_RemoteZip(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("gaul/level0.geojson")
	require.NoError(t, err)
	_, err = w.Write([]byte(countiesGeoJSON))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes()) //nolint:errcheck
	}))
	defer srv.Close()

	store := NewMemoryStore()
	n, err := Load(context.Background(), store,
		Source{Dataset: "GAUL0", Path: srv.URL + "/gaul0.zip"},
		LoadOptions{TempDir: t.TempDir()},
	)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ds, err := store.Datasets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, ds["GAUL0"])
}

func TestLoad_UnsupportedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b"), 0o644))
	_, err := Load(context.Background(), NewMemoryStore(), Source{Dataset: "x", Path: path}, LoadOptions{})
	assert.ErrorContains(t, err, "unsupported dataset file")
}

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.geojson")
	require.NoError(t, os.WriteFile(a, []byte(countiesGeoJSON), 0o644))

	store := NewMemoryStore()
	total, err := LoadAll(context.Background(), store, &Manifest{Sources: []Source{
		{Dataset: "A", Path: a},
		{Dataset: "B", Path: a},
	}}, LoadOptions{TempDir: dir})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}
