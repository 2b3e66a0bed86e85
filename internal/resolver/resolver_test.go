package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/aoi-engine/internal/boundary"
	"github.com/sells-group/aoi-engine/internal/geometry"
	"github.com/sells-group/aoi-engine/internal/observability"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// box returns a distinguishable 1x1 degree square with its south-west corner at lon/lat.
func box(lon, lat float64) *geom.Polygon {
	return geometry.BBox{West: lon, South: lat, East: lon + 1, North: lat + 1}.Polygon()
}

func feat(dataset string, shape geom.T, props ...string) *boundary.Feature {
	m := make(map[string]string, len(props)/2)
	for i := 0; i+1 < len(props); i += 2 {
		m[props[i]] = props[i+1]
	}
	return &boundary.Feature{Dataset: dataset, Properties: m, Shape: shape}
}

func fixtureStore() *boundary.MemoryStore {
	s := boundary.NewMemoryStore()
	s.Add(
		feat("FAO/GAUL/2015/level0", box(2, 46), "ADM0_NAME", "France"),
		feat("USDOS/LSIB_SIMPLE/2017", box(2, 46), "country_na", "France"),
		feat("FAO/GAUL/2015/level1", box(3, 6), "ADM1_NAME", "Lagos", "ADM0_NAME", "Nigeria"),

		feat("FAO/GAUL/2015/level2", box(2, 48), "ADM2_NAME", "Paris", "ADM1_NAME", "Ile-de-France", "ADM0_NAME", "France"),
		feat("FAO/GAUL/2015/level2", box(-96, 33), "ADM2_NAME", "Paris", "ADM1_NAME", "Texas", "ADM0_NAME", "United States of America"),
		feat("FAO/GAUL/2015/level2", box(-90, 39), "ADM2_NAME", "Springfield", "ADM1_NAME", "Illinois", "ADM0_NAME", "United States of America"),
		feat("FAO/GAUL/2015/level2", box(-94, 37), "ADM2_NAME", "Springfield", "ADM1_NAME", "Missouri", "ADM0_NAME", "United States of America"),
		feat("FAO/GAUL/2015/level2", box(-3, 53), "ADM2_NAME", "Manchester", "ADM1_NAME", "England", "ADM0_NAME", "United Kingdom"),
		feat("FAO/GAUL/2015/level2", geom.NewLineStringFlat(geom.XY, []float64{0, 0, 1, 1}), "ADM2_NAME", "Lineland"),

		feat("TIGER/2018/Counties", box(-100, 30), "NAME", "San Francisco", "STATEFP", "48"),
		feat("TIGER/2018/Counties", box(-123, 37), "NAME", "San Francisco", "STATEFP", "06"),
		feat("TIGER/2018/Counties", box(-98, 30), "NAME", "Travis", "STATEFP", "48"),
		feat("TIGER/2018/Counties", box(-123, 45), "NAME", "Multnomah", "STATEFP", "41"),

		feat("WM/geoLab/geoBoundaries/600/ADM1", box(11, 48), "shapeName", "Bavaria"),
	)
	return s
}

// recordingSearcher logs every Count call and can fail chosen datasets.
type recordingSearcher struct {
	inner  boundary.Searcher
	failOn map[string]bool

	mu     sync.Mutex
	counts []string
}

func (r *recordingSearcher) Count(ctx context.Context, f boundary.Filter) (int, error) {
	r.mu.Lock()
	r.counts = append(r.counts, f.Dataset)
	r.mu.Unlock()
	if r.failOn[f.Dataset] {
		return 0, errors.New("platform: 503 service unavailable")
	}
	return r.inner.Count(ctx, f)
}

func (r *recordingSearcher) First(ctx context.Context, f boundary.Filter) (*boundary.Feature, error) {
	return r.inner.First(ctx, f)
}

func (r *recordingSearcher) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.counts...)
}

func TestResolve_Exact(t *testing.T) {
	r := New(fixtureStore())

	g, err := r.Resolve(context.Background(), "france")
	require.NoError(t, err)
	assert.Equal(t, "FAO/GAUL/2015/level0", g.SourceDataset)
	assert.Equal(t, geometry.LevelCountry, g.AdminLevel)
	assert.InDelta(t, 2.5, g.Centroid.Lon, 1e-9)
}

func TestResolve_CacheSharedAcrossSpellings(t *testing.T) {
	rec := &recordingSearcher{inner: fixtureStore()}
	r := New(rec)

	first, err := r.Resolve(context.Background(), "San Francisco")
	require.NoError(t, err)
	probes := len(rec.calls())

	for _, s := range []string{"san francisco ", "SAN FRANCISCO", "  San   Francisco"} {
		g, err := r.Resolve(context.Background(), s)
		require.NoError(t, err)
		assert.Same(t, first, g, s)
	}
	assert.Len(t, rec.calls(), probes, "cached lookups issue no probes")
	assert.Equal(t, 1, r.Cache().Len())
}

func TestResolve_ContextDisambiguates(t *testing.T) {
	r := New(fixtureStore())

	fr, err := r.Resolve(context.Background(), "Paris, France")
	require.NoError(t, err)
	tx, err := r.Resolve(context.Background(), "Paris, Texas")
	require.NoError(t, err)

	assert.NotEqual(t, fr.BoundingBox, tx.BoundingBox)
	assert.InDelta(t, 2.5, fr.Centroid.Lon, 1e-9)
	assert.InDelta(t, -95.5, tx.Centroid.Lon, 1e-9)
	assert.Equal(t, geometry.LevelDistrict, tx.AdminLevel)
	assert.Equal(t, "FAO/GAUL/2015/level2", tx.SourceDataset)
}

func TestResolve_ContextLowercase(t *testing.T) {
	r := New(fixtureStore())
	g, err := r.Resolve(context.Background(), "paris, texas")
	require.NoError(t, err)
	assert.InDelta(t, -95.5, g.Centroid.Lon, 1e-9)
}

func TestResolve_AmbiguousNameIsDeterministic(t *testing.T) {
	for i := 0; i < 3; i++ {
		g, err := New(fixtureStore()).Resolve(context.Background(), "Springfield")
		require.NoError(t, err)
		assert.InDelta(t, -89.5, g.Centroid.Lon, 1e-9, "first matching feature wins")
	}
}

func TestResolve_CountyTable(t *testing.T) {
	m := observability.NewMetricsForTesting()
	r := New(fixtureStore(), WithMetrics(m))

	g, err := r.Resolve(context.Background(), "San Francisco")
	require.NoError(t, err)
	assert.Equal(t, "TIGER/2018/Counties", g.SourceDataset)
	assert.InDelta(t, -122.5, g.Centroid.Lon, 1e-9, "state FIPS selects California")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResolverOutcomes.WithLabelValues(StrategyCounty)))
}

func TestResolve_CountyFuzzyPass(t *testing.T) {
	r := New(fixtureStore())
	g, err := r.Resolve(context.Background(), "travis")
	require.NoError(t, err)
	assert.Equal(t, "TIGER/2018/Counties", g.SourceDataset)
}

func TestResolve_GlobalDatasets(t *testing.T) {
	r := New(fixtureStore())
	g, err := r.Resolve(context.Background(), "bavaria")
	require.NoError(t, err)
	assert.Equal(t, "WM/geoLab/geoBoundaries/600/ADM1", g.SourceDataset)
	assert.Equal(t, geometry.LevelState, g.AdminLevel)
}

func TestResolve_SuffixStrip(t *testing.T) {
	r := New(fixtureStore())
	g, err := r.Resolve(context.Background(), "Lagos State")
	require.NoError(t, err)
	assert.Equal(t, "FAO/GAUL/2015/level1", g.SourceDataset)
}

func TestResolve_Tokens(t *testing.T) {
	r := New(fixtureStore())
	g, err := r.Resolve(context.Background(), "Greater-Manchester area")
	require.NoError(t, err)
	assert.InDelta(t, -2.5, g.Centroid.Lon, 1e-9)
}

func TestResolve_NotFound(t *testing.T) {
	r := New(fixtureStore())
	_, err := r.Resolve(context.Background(), "Atlantis")
	require.Error(t, err)

	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "Atlantis", nf.Input)
	assert.Equal(t, DefaultHint, nf.Hint)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, 0, r.Cache().Len())
}

func TestResolve_EmptyInput(t *testing.T) {
	_, err := New(fixtureStore()).Resolve(context.Background(), "   ")
	assert.True(t, IsNotFound(err))
}

func TestResolve_UnusableShapeIsNoMatch(t *testing.T) {
	_, err := New(fixtureStore()).Resolve(context.Background(), "Lineland")
	assert.True(t, IsNotFound(err))
}

func TestResolve_ProbeOrder(t *testing.T) {
	rec := &recordingSearcher{inner: boundary.NewMemoryStore()}
	_, err := New(rec).Resolve(context.Background(), "nowhere")
	require.True(t, IsNotFound(err))

	// Exact and global probes try three spellings each; the county pass is one probe.
	var want []string
	for _, ds := range []string{
		"FAO/GAUL/2015/level0",
		"USDOS/LSIB_SIMPLE/2017",
		"FAO/GAUL/2015/level1",
		"FAO/GAUL/2015/level2",
		"USDOS/LSIB/2017",
	} {
		want = append(want, ds, ds, ds)
	}
	want = append(want, "TIGER/2018/Counties")
	for _, ds := range []string{
		"WM/geoLab/geoBoundaries/600/ADM2",
		"WM/geoLab/geoBoundaries/600/ADM1",
		"WM/geoLab/geoBoundaries/600/ADM0",
	} {
		want = append(want, ds, ds, ds)
	}
	assert.Equal(t, want, rec.calls())
}

func TestResolve_LiteralSpellingWinsOverTitleCase(t *testing.T) {
	store := boundary.NewMemoryStore()
	store.Add(
		feat("local/towns", box(6, 49), "name", "Metz"),
		feat("local/towns", box(-70, 40), "name", "METZ"),
	)
	cat := &Catalog{Exact: []Probe{{Dataset: "local/towns", Field: "name", Level: geometry.LevelNone}}}

	g, err := New(store, WithCatalog(cat)).Resolve(context.Background(), "METZ")
	require.NoError(t, err)
	assert.InDelta(t, -69.5, g.Centroid.Lon, 1e-9, "the literal form is probed before title case")
}

func TestResolve_CountyTableIgnoresCityWithContext(t *testing.T) {
	r := New(fixtureStore())

	g, err := r.Resolve(context.Background(), "Portland")
	require.NoError(t, err)
	assert.InDelta(t, -122.5, g.Centroid.Lon, 1e-9, "bare city maps through the table")

	_, err = New(fixtureStore()).Resolve(context.Background(), "Portland, Maine")
	assert.True(t, IsNotFound(err), "the Oregon county must not answer for another state")
}

func TestResolve_ProbeErrorsAreSwallowed(t *testing.T) {
	rec := &recordingSearcher{
		inner:  fixtureStore(),
		failOn: map[string]bool{"FAO/GAUL/2015/level0": true},
	}
	g, err := New(rec).Resolve(context.Background(), "France")
	require.NoError(t, err)
	assert.Equal(t, "USDOS/LSIB_SIMPLE/2017", g.SourceDataset)
}

func TestResolve_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(fixtureStore()).Resolve(ctx, "France")
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
	assert.True(t, eris.Is(err, context.Canceled))
}

type stubMatcher struct{ name string }

func (m stubMatcher) Match(_ context.Context, text string) (*geometry.Geometry, error) {
	if text != m.name {
		return nil, nil
	}
	return geometry.New(box(-30, 30), "custom/fuzzy", geometry.LevelNone)
}

func TestResolve_CustomMatcher(t *testing.T) {
	r := New(fixtureStore(), WithMatcher(stubMatcher{name: "Atlantis"}))
	g, err := r.Resolve(context.Background(), "Atlantis")
	require.NoError(t, err)
	assert.Equal(t, "custom/fuzzy", g.SourceDataset)
}

func TestResolve_CustomCatalog(t *testing.T) {
	store := boundary.NewMemoryStore()
	store.Add(feat("local/parks", box(0, 0), "park", "Yosemite"))
	cat := &Catalog{Exact: []Probe{{Dataset: "local/parks", Field: "park", Level: geometry.LevelNone}}}

	g, err := New(store, WithCatalog(cat)).Resolve(context.Background(), "yosemite")
	require.NoError(t, err)
	assert.Equal(t, "local/parks", g.SourceDataset)
}

func TestResolveMany(t *testing.T) {
	r := New(fixtureStore())
	results := r.ResolveMany(context.Background(), []string{"France", "Atlantis", "Bavaria", "Paris, Texas"})
	require.Len(t, results, 4)

	assert.Equal(t, "France", results[0].Name)
	require.NoError(t, results[0].Err)
	assert.Equal(t, geometry.LevelCountry, results[0].Geometry.AdminLevel)

	assert.True(t, IsNotFound(results[1].Err))
	assert.Nil(t, results[1].Geometry)

	require.NoError(t, results[2].Err)
	require.NoError(t, results[3].Err)
	assert.InDelta(t, -95.5, results[3].Geometry.Centroid.Lon, 1e-9)
}
