package resolver

import (
	"strings"
	"time"

	"github.com/sells-group/aoi-engine/internal/cache"
	"github.com/sells-group/aoi-engine/internal/geometry"
)

// Geometry result cache defaults.
const (
	DefaultCacheEntries = 200
	DefaultCacheTTL     = time.Hour
)

// GeometryCache holds resolved geometries keyed by PlaceKey.
type GeometryCache = cache.Cache[*geometry.Geometry]

// NewGeometryCache creates a geometry result cache.
func NewGeometryCache(maxEntries int, ttl time.Duration, opts ...cache.Option) *GeometryCache {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheEntries
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return cache.New[*geometry.Geometry](maxEntries, ttl, opts...)
}

// PlaceKey normalizes a place string for caching: lowercased, trimmed, and
// internal whitespace runs collapsed to a single underscore.
func PlaceKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "_")
}
