package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/aoi-engine/internal/config"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const countiesGeoJSON = `{"type":"FeatureCollection","features":[
	{"type":"Feature","properties":{"NAME":"San Francisco","STATEFP":"06"},
	 "geometry":{"type":"Polygon","coordinates":[[[-122.5,37.7],[-122.3,37.7],[-122.3,37.8],[-122.5,37.8],[-122.5,37.7]]]}}
]}`

// testConfig mirrors the config defaults with a memory store.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Store: config.StoreConfig{Driver: "memory", TempDir: t.TempDir()},
		Resolver: config.ResolverConfig{
			CacheMaxEntries: 200,
			CacheTTLSecs:    3600,
			BufferMeters:    1000,
		},
		Evaluate: config.EvaluateConfig{
			Concurrency:      3,
			PollIntervalMs:   100,
			CacheMaxEntries:  500,
			CacheTTLSecs:     3600,
			PartialTTLSecs:   60,
			DefaultTimeoutMs: 30000,
			BatchChunkSize:   5,
		},
		Progressive: config.ProgressiveConfig{PrimaryTimeoutMs: 5000, FallbackTimeoutMs: 10000},
		Platform: config.PlatformConfig{
			BaseURL:     "http://127.0.0.1:1",
			TimeoutSecs: 1,
			Retry:       config.RetryConfig{MaxAttempts: 1},
		},
	}
}

// writeManifest writes a one-dataset manifest of San Francisco county and returns its path.
func writeManifest(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "counties.geojson"), []byte(countiesGeoJSON), 0o644))
	manifest := "datasets:\n  - dataset: TIGER/2018/Counties\n    path: counties.geojson\n"
	path := filepath.Join(dir, "datasets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0o644))
	return path
}
