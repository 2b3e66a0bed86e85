package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/aoi-engine/internal/aoi"
	"github.com/sells-group/aoi-engine/internal/boundary"
	"github.com/sells-group/aoi-engine/internal/cache"
	"github.com/sells-group/aoi-engine/internal/config"
	"github.com/sells-group/aoi-engine/internal/db"
	"github.com/sells-group/aoi-engine/internal/evaluate"
	"github.com/sells-group/aoi-engine/internal/fetcher"
	"github.com/sells-group/aoi-engine/internal/observability"
	"github.com/sells-group/aoi-engine/internal/resilience"
	"github.com/sells-group/aoi-engine/internal/resolver"
	"github.com/sells-group/aoi-engine/pkg/platform"
)

// engineEnv holds the components shared by the serve, resolve and
// normalize commands.
type engineEnv struct {
	Searcher    boundary.Searcher
	Resolver    *resolver.Resolver
	Normalizer  *aoi.Normalizer
	Evaluator   *evaluate.Evaluator
	Progressive *evaluate.Progressive

	closers []func()
}

// Close releases the evaluator queue and the boundary store.
func (e *engineEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// initEnv builds the store, resolver, normalizer and evaluator from cfg.
// metrics may be nil. Callers should defer env.Close().
func initEnv(ctx context.Context, c *config.Config, metrics *observability.Metrics) (*engineEnv, error) {
	client := newPlatformClient(c.Platform)

	searcher, closeStore, err := initStore(ctx, c, client)
	if err != nil {
		return nil, err
	}
	env := &engineEnv{Searcher: searcher, closers: []func(){closeStore}}

	catalog := resolver.DefaultCatalog()
	if c.Resolver.CatalogPath != "" {
		catalog, err = resolver.LoadCatalog(c.Resolver.CatalogPath)
		if err != nil {
			env.Close()
			return nil, err
		}
	}
	legacy := aoi.DefaultLegacyTable()
	if c.Resolver.LegacyTablePath != "" {
		legacy, err = aoi.LoadLegacyTable(c.Resolver.LegacyTablePath)
		if err != nil {
			env.Close()
			return nil, err
		}
	}

	env.Resolver = resolver.New(searcher,
		resolver.WithCatalog(catalog),
		resolver.WithCache(resolver.NewGeometryCache(
			c.Resolver.CacheMaxEntries, c.Resolver.CacheTTL(),
			cache.WithObserver("geometry", metrics),
		)),
		resolver.WithMetrics(metrics),
	)
	env.Normalizer = aoi.New(env.Resolver,
		aoi.WithLegacyTable(legacy),
		aoi.WithRegionInference(c.Resolver.RegionInference),
		aoi.WithBufferMeters(c.Resolver.BufferMeters),
	)

	queue := evaluate.NewQueue(c.Evaluate.Concurrency,
		evaluate.WithPollInterval(time.Duration(c.Evaluate.PollIntervalMs)*time.Millisecond),
		evaluate.WithQueueMetrics(metrics),
	)
	env.closers = append(env.closers, queue.Close)
	env.Evaluator = evaluate.NewEvaluator(evaluate.NewPlatformExecutor(client),
		evaluate.WithQueue(queue),
		evaluate.WithCache(cache.New[any](
			c.Evaluate.CacheMaxEntries, c.Evaluate.CacheTTL(),
			cache.WithObserver("evaluation", metrics),
		)),
		evaluate.WithPartialTTL(c.Evaluate.PartialTTL()),
		evaluate.WithDefaultTimeout(time.Duration(c.Evaluate.DefaultTimeoutMs)*time.Millisecond),
		evaluate.WithMetrics(metrics),
	)
	env.Progressive = evaluate.NewProgressive(nil,
		time.Duration(c.Progressive.PrimaryTimeoutMs)*time.Millisecond,
		time.Duration(c.Progressive.FallbackTimeoutMs)*time.Millisecond,
	)

	return env, nil
}

// initStore opens the boundary searcher for the configured driver.
func initStore(ctx context.Context, c *config.Config, client platform.Client) (boundary.Searcher, func(), error) {
	switch c.Store.Driver {
	case "memory":
		store := boundary.NewMemoryStore()
		if c.Store.Manifest != "" {
			m, err := boundary.LoadManifest(c.Store.Manifest)
			if err != nil {
				return nil, nil, err
			}
			n, err := boundary.LoadAll(ctx, store, m, loadOptions(c))
			if err != nil {
				return nil, nil, eris.Wrap(err, "load boundary manifest")
			}
			zap.L().Info("boundary datasets loaded", zap.Int64("features", n))
		}
		return store, func() {}, nil

	case "sqlite":
		store, err := openSQLite(ctx, c)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil

	case "postgres":
		pool, err := db.Connect(ctx, c.Store.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return boundary.NewPostgresStore(pool), pool.Close, nil

	case "platform":
		return boundary.NewPlatformSearcher(client), func() {}, nil

	default:
		return nil, nil, eris.Errorf("unsupported store driver %q", c.Store.Driver)
	}
}

func openSQLite(ctx context.Context, c *config.Config) (*boundary.SQLiteStore, error) {
	if c.Store.DatabaseURL == "" {
		return nil, eris.New("sqlite store needs store.database_url")
	}
	store, err := boundary.NewSQLite(c.Store.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func loadOptions(c *config.Config) boundary.LoadOptions {
	return boundary.LoadOptions{
		TempDir: c.Store.TempDir,
		Fetch: fetcher.Options{
			UserAgent: "aoi-engine/1.0",
			Timeout:   5 * time.Minute,
		},
	}
}

func newPlatformClient(c config.PlatformConfig) platform.Client {
	return platform.NewClient(platform.Config{
		BaseURL:   c.BaseURL,
		Project:   c.Project,
		Token:     c.Token,
		RateLimit: c.RateLimitRPS,
		Timeout:   time.Duration(c.TimeoutSecs) * time.Second,
		Retry:     resilience.FromMillis(c.Retry.MaxAttempts, c.Retry.InitialBackoffMs, c.Retry.MaxBackoffMs),
		Circuit: resilience.CircuitBreakerConfig{
			FailureThreshold: c.Circuit.FailureThreshold,
			ResetTimeout:     time.Duration(c.Circuit.ResetTimeoutSecs) * time.Second,
		},
	})
}
