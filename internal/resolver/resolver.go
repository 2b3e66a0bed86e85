// Package resolver turns free-text place names into boundary geometries by
// walking an ordered chain of search strategies over reference datasets.
package resolver

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/aoi-engine/internal/boundary"
	"github.com/sells-group/aoi-engine/internal/geometry"
	"github.com/sells-group/aoi-engine/internal/observability"
)

// minTokenLen is the shortest token tried on its own by the token strategy.
const minTokenLen = 4

// resolveManyLimit bounds concurrent resolutions in ResolveMany.
const resolveManyLimit = 4

// Strategy names, reported in logs and metrics.
const (
	StrategyCache   = "cache"
	StrategyExact   = "exact"
	StrategyContext = "context"
	StrategyCounty  = "county"
	StrategyGlobal  = "global"
	StrategyFuzzy   = "fuzzy"
	StrategySuffix  = "suffix"
	StrategyTokens  = "tokens"
)

// Matcher is an approximate-match extension point tried after the
// dataset probes. A nil geometry with a nil error means no match.
type Matcher interface {
	Match(ctx context.Context, text string) (*geometry.Geometry, error)
}

type noFuzzy struct{}

func (noFuzzy) Match(context.Context, string) (*geometry.Geometry, error) { return nil, nil }

// Resolver resolves place names against a boundary.Searcher.
type Resolver struct {
	searcher boundary.Searcher
	catalog  *Catalog
	cache    *GeometryCache
	matcher  Matcher
	metrics  *observability.Metrics
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCatalog replaces the built-in dataset catalog.
func WithCatalog(c *Catalog) Option {
	return func(r *Resolver) { r.catalog = c }
}

// WithCache sets the geometry result cache.
func WithCache(c *GeometryCache) Option {
	return func(r *Resolver) { r.cache = c }
}

// WithMatcher sets the fuzzy matcher.
func WithMatcher(m Matcher) Option {
	return func(r *Resolver) { r.matcher = m }
}

// WithMetrics records strategy outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// New creates a Resolver. Without WithCache it gets a private cache with
// default size and TTL.
func New(searcher boundary.Searcher, opts ...Option) *Resolver {
	r := &Resolver{searcher: searcher, matcher: noFuzzy{}}
	for _, o := range opts {
		o(r)
	}
	if r.catalog == nil {
		r.catalog = DefaultCatalog()
	}
	if r.cache == nil {
		r.cache = NewGeometryCache(DefaultCacheEntries, DefaultCacheTTL)
	}
	return r
}

// Cache returns the resolver's geometry result cache.
func (r *Resolver) Cache() *GeometryCache {
	return r.cache
}

type strategy struct {
	name string
	run  func(context.Context, PlaceQuery) (*geometry.Geometry, error)
}

func (r *Resolver) strategies() []strategy {
	return []strategy{
		{StrategyExact, func(ctx context.Context, q PlaceQuery) (*geometry.Geometry, error) { return r.exact(ctx, q) }},
		{StrategyContext, r.byContext},
		{StrategyCounty, r.byCounty},
		{StrategyGlobal, r.global},
		{StrategyFuzzy, func(ctx context.Context, q PlaceQuery) (*geometry.Geometry, error) { return r.fuzzy(ctx, q.Text) }},
		{StrategySuffix, r.bySuffix},
		{StrategyTokens, r.byTokens},
	}
}

// Resolve returns the boundary geometry for placeText. The cache is
// consulted first; every successful resolution is cached. Failing probes
// count as no match, so only exhaustion of every strategy is an error.
func (r *Resolver) Resolve(ctx context.Context, placeText string) (*geometry.Geometry, error) {
	q := ParseQuery(placeText)
	if q.Key == "" {
		return nil, &NotFoundError{Input: placeText, Hint: DefaultHint}
	}

	if e, ok := r.cache.Get(q.Key); ok {
		zap.L().Debug("resolver: cache hit", zap.String("key", q.Key), zap.Int("hits", e.Hits))
		r.metrics.Resolution(StrategyCache)
		return e.Value, nil
	}

	for _, s := range r.strategies() {
		g, err := s.run(ctx, q)
		if err != nil {
			return nil, err
		}
		if g == nil {
			continue
		}
		zap.L().Debug("resolver: resolved",
			zap.String("input", q.Text),
			zap.String("strategy", s.name),
			zap.String("dataset", g.SourceDataset),
		)
		r.metrics.Resolution(s.name)
		r.cache.Set(q.Key, g)
		return g, nil
	}

	r.metrics.Resolution("none")
	return nil, &NotFoundError{Input: q.Text, Hint: DefaultHint}
}

// Result is one outcome of ResolveMany.
type Result struct {
	Name     string
	Geometry *geometry.Geometry
	Err      error
}

// ResolveMany resolves names concurrently. Results keep the input order and
// a failure for one name never affects the others.
func (r *Resolver) ResolveMany(ctx context.Context, names []string) []Result {
	results := make([]Result, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveManyLimit)
	for i, name := range names {
		g.Go(func() error {
			geo, err := r.Resolve(gctx, name)
			results[i] = Result{Name: name, Geometry: geo, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// exact probes every catalog (dataset, field) pair with the literal, title
// and upper forms of the text, in that order.
func (r *Resolver) exact(ctx context.Context, q PlaceQuery) (*geometry.Geometry, error) {
	return r.probeEach(ctx, r.catalog.Exact, q.Variants())
}

// probeEach tries each variant against each probe in turn, so an earlier
// variant always beats a later one within the same dataset field.
func (r *Resolver) probeEach(ctx context.Context, probes []Probe, variants []string) (*geometry.Geometry, error) {
	for _, p := range probes {
		for _, v := range variants {
			g, err := r.probe(ctx, boundary.Filter{
				Dataset: p.Dataset,
				Clauses: []boundary.Clause{boundary.Eq(p.Field, v)},
			}, p.Level)
			if g != nil || err != nil {
				return g, err
			}
		}
	}
	return nil, nil
}

// byContext handles "primary, context": the context is tried as a country
// and then as a sub-national region.
func (r *Resolver) byContext(ctx context.Context, q PlaceQuery) (*geometry.Geometry, error) {
	if q.Context == "" || q.Primary == "" {
		return nil, nil
	}
	d := r.catalog.District
	names := boundary.Eq(d.NameField, distinct(q.Primary, titleCase(q.Primary))...)
	contexts := distinct(q.Context, titleCase(q.Context))

	for _, field := range []string{d.CountryField, d.RegionField} {
		if field == "" {
			continue
		}
		g, err := r.probe(ctx, boundary.Filter{
			Dataset: d.Dataset,
			Clauses: []boundary.Clause{names, boundary.Eq(field, contexts...)},
		}, geometry.LevelDistrict)
		if g != nil || err != nil {
			return g, err
		}
	}
	return nil, nil
}

// byCounty maps known cities to their county; anything not in the table,
// including "city, context" forms, gets a loose pass over the county names.
func (r *Resolver) byCounty(ctx context.Context, q PlaceQuery) (*geometry.Geometry, error) {
	c := r.catalog.Counties
	if c.Dataset == "" {
		return nil, nil
	}

	if county, ok := c.Cities[spaced(q.Key)]; ok {
		return r.probe(ctx, boundary.Filter{
			Dataset: c.Dataset,
			Clauses: []boundary.Clause{
				boundary.Eq(c.NameField, county.Name),
				boundary.Eq(c.StateField, county.StateFP),
			},
		}, geometry.LevelDistrict)
	}

	names := distinct(q.Text, q.Title, q.Text+" County", q.Title+" County")
	return r.probe(ctx, boundary.Filter{
		Dataset: c.Dataset,
		Clauses: []boundary.Clause{boundary.Eq(c.NameField, names...)},
	}, geometry.LevelDistrict)
}

// global probes the multi-level global datasets.
func (r *Resolver) global(ctx context.Context, q PlaceQuery) (*geometry.Geometry, error) {
	return r.probeEach(ctx, r.catalog.Global, distinct(q.Title, q.Upper, q.Text))
}

func (r *Resolver) fuzzy(ctx context.Context, text string) (*geometry.Geometry, error) {
	g, err := r.matcher.Match(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "resolver: fuzzy match")
		}
		zap.L().Debug("resolver: fuzzy match failed", zap.String("text", text), zap.Error(err))
		return nil, nil
	}
	return g, nil
}

func (r *Resolver) bySuffix(ctx context.Context, q PlaceQuery) (*geometry.Geometry, error) {
	if q.Stripped == "" {
		return nil, nil
	}
	return r.exact(ctx, ParseQuery(q.Stripped))
}

// byTokens tries each long-enough token on its own; the first to resolve wins.
func (r *Resolver) byTokens(ctx context.Context, q PlaceQuery) (*geometry.Geometry, error) {
	if len(q.Tokens) < 2 {
		return nil, nil
	}
	for _, tok := range q.Tokens {
		if len([]rune(tok)) < minTokenLen {
			continue
		}
		g, err := r.exact(ctx, ParseQuery(tok))
		if g != nil || err != nil {
			return g, err
		}
		if g, err = r.fuzzy(ctx, tok); g != nil || err != nil {
			return g, err
		}
	}
	return nil, nil
}

// probe counts matches and fetches the first one. Searcher failures are
// logged and treated as no match; only context cancellation aborts.
func (r *Resolver) probe(ctx context.Context, f boundary.Filter, level geometry.AdminLevel) (*geometry.Geometry, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "resolver: probe")
	}

	n, err := r.searcher.Count(ctx, f)
	if err != nil {
		return nil, r.probeFailed(ctx, f, err)
	}
	if n == 0 {
		return nil, nil
	}

	feat, err := r.searcher.First(ctx, f)
	if err != nil {
		return nil, r.probeFailed(ctx, f, err)
	}
	if feat == nil {
		return nil, nil
	}

	g, err := geometry.New(feat.Shape, f.Dataset, level)
	if err != nil {
		zap.L().Debug("resolver: unusable boundary shape", zap.String("dataset", f.Dataset), zap.Error(err))
		return nil, nil
	}
	return g, nil
}

func (r *Resolver) probeFailed(ctx context.Context, f boundary.Filter, err error) error {
	if ctx.Err() != nil {
		return eris.Wrap(ctx.Err(), "resolver: probe")
	}
	zap.L().Debug("resolver: probe failed",
		zap.String("dataset", f.Dataset),
		zap.Error(err),
	)
	return nil
}

// spaced turns a PlaceKey back into the space-separated lowercase form used
// by the city table.
func spaced(key string) string {
	return strings.ReplaceAll(key, "_", " ")
}
