// Package aoi turns every accepted area-of-interest input shape into a
// canonical geometry, delegating place names to the resolver.
package aoi

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/aoi-engine/internal/geometry"
	"github.com/sells-group/aoi-engine/internal/resolver"
)

// PlaceResolver resolves free-text place names.
type PlaceResolver interface {
	Resolve(ctx context.Context, placeText string) (*geometry.Geometry, error)
}

// Input is a structured AOI: a place-name hint, a shape, or both. The
// hint wins when present.
type Input struct {
	PlaceName string
	Shape     geom.T
}

// Normalizer converts AOI inputs to geometries.
type Normalizer struct {
	resolver        PlaceResolver
	legacy          *LegacyTable
	hints           []RegionHint
	regionInference bool
	bufferMeters    float64
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithLegacyTable replaces the built-in legacy lookup table.
func WithLegacyTable(t *LegacyTable) Option {
	return func(n *Normalizer) { n.legacy = t }
}

// WithRegionHints replaces the boxes used by region inference.
func WithRegionHints(h []RegionHint) Option {
	return func(n *Normalizer) { n.hints = h }
}

// WithRegionInference enables guessing a place name from the centroid of a
// raw shape. The guess is a heuristic and is off by default.
func WithRegionInference(enabled bool) Option {
	return func(n *Normalizer) { n.regionInference = enabled }
}

// WithBufferMeters sets the radius used for bare "lon, lat" input.
func WithBufferMeters(m float64) Option {
	return func(n *Normalizer) { n.bufferMeters = m }
}

// New creates a Normalizer that delegates names to r.
func New(r PlaceResolver, opts ...Option) *Normalizer {
	n := &Normalizer{
		resolver:     r,
		legacy:       DefaultLegacyTable(),
		hints:        DefaultRegionHints(),
		bufferMeters: geometry.DefaultBufferMeters,
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Normalize accepts a coordinate or place-name string, JSON text, a GeoJSON
// value (geom.T, *geojson.Feature, *geojson.FeatureCollection), a decoded
// JSON object, an Input, or an already resolved *geometry.Geometry.
func (n *Normalizer) Normalize(ctx context.Context, aoi any) (*geometry.Geometry, error) {
	switch v := aoi.(type) {
	case nil:
		return nil, unsupported("nil", "no AOI given")
	case *geometry.Geometry:
		return v, nil
	case string:
		return n.fromString(ctx, v)
	case json.RawMessage:
		return n.fromString(ctx, string(v))
	case []byte:
		return n.fromString(ctx, string(v))
	case map[string]any:
		return n.fromObject(ctx, v)
	case Input:
		return n.fromInput(ctx, v)
	case *Input:
		if v == nil {
			return nil, unsupported("*aoi.Input", "nil input")
		}
		return n.fromInput(ctx, *v)
	case *geojson.Feature:
		return n.fromFeature(ctx, v)
	case *geojson.FeatureCollection:
		return n.fromCollection(ctx, v)
	case geom.T:
		return n.fromShape(ctx, v)
	default:
		return nil, unsupported(fmt.Sprintf("%T", aoi), "expected a string, GeoJSON or {placeName, type, coordinates}")
	}
}

func (n *Normalizer) fromString(ctx context.Context, s string) (*geometry.Geometry, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, unsupported("string", "empty AOI")
	}

	if strings.HasPrefix(s, "{") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(s), &obj); err == nil {
			return n.fromObject(ctx, obj)
		}
	}

	if lon, lat, ok := parseLonLat(s); ok {
		p, err := geometry.BufferedPoint(lon, lat, n.bufferMeters)
		if err != nil {
			return nil, &UnsupportedFormatError{Kind: "coordinates", Reason: err.Error()}
		}
		g, err := geometry.New(p, geometry.SourceUserSupplied, geometry.LevelNone)
		return g, eris.Wrap(err, "aoi: buffered point")
	}

	return n.fromName(ctx, s)
}

// fromName runs the resolver, then the legacy table. The resolver's
// NotFoundError is returned when both miss.
func (n *Normalizer) fromName(ctx context.Context, name string) (*geometry.Geometry, error) {
	g, err := n.resolver.Resolve(ctx, name)
	if err == nil {
		return g, nil
	}
	if !resolver.IsNotFound(err) {
		return nil, err
	}
	if lg, ok := n.legacy.Lookup(name); ok {
		zap.L().Debug("aoi: legacy table hit", zap.String("name", name), zap.String("dataset", lg.SourceDataset))
		return lg, nil
	}
	return nil, err
}

func (n *Normalizer) fromObject(ctx context.Context, obj map[string]any) (*geometry.Geometry, error) {
	if name, ok := obj["placeName"].(string); ok && strings.TrimSpace(name) != "" {
		return n.fromName(ctx, name)
	}

	kind, _ := obj["type"].(string)
	if !recognized(obj) {
		if kind == "" {
			kind = "object"
		}
		return nil, unsupported(kind, "object has neither placeName nor a GeoJSON type")
	}

	data, err := json.Marshal(obj)
	if err != nil {
		return nil, eris.Wrap(err, "aoi: re-encode object")
	}

	switch kind {
	case "Feature":
		var f geojson.Feature
		if err := f.UnmarshalJSON(data); err != nil {
			return nil, unsupported(kind, "decode: %v", err)
		}
		return n.fromFeature(ctx, &f)
	case "FeatureCollection":
		var fc geojson.FeatureCollection
		if err := fc.UnmarshalJSON(data); err != nil {
			return nil, unsupported(kind, "decode: %v", err)
		}
		return n.fromCollection(ctx, &fc)
	default:
		shape, err := geometry.DecodeGeoJSON(data)
		if err != nil {
			return nil, unsupported(kind, "decode: %v", err)
		}
		return n.fromShape(ctx, shape)
	}
}

func (n *Normalizer) fromInput(ctx context.Context, in Input) (*geometry.Geometry, error) {
	if strings.TrimSpace(in.PlaceName) != "" {
		return n.fromName(ctx, in.PlaceName)
	}
	if in.Shape == nil {
		return nil, unsupported("aoi.Input", "neither placeName nor shape set")
	}
	return n.fromShape(ctx, in.Shape)
}

func (n *Normalizer) fromFeature(ctx context.Context, f *geojson.Feature) (*geometry.Geometry, error) {
	if f == nil || f.Geometry == nil {
		return nil, unsupported("Feature", "feature has no geometry")
	}
	return n.fromShape(ctx, f.Geometry)
}

// fromCollection merges the polygonal members of fc into one shape.
func (n *Normalizer) fromCollection(ctx context.Context, fc *geojson.FeatureCollection) (*geometry.Geometry, error) {
	if fc == nil || len(fc.Features) == 0 {
		return nil, unsupported("FeatureCollection", "collection is empty")
	}
	shapes := make([]geom.T, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f != nil && f.Geometry != nil {
			shapes = append(shapes, f.Geometry)
		}
	}
	merged, err := geometry.Merge(shapes)
	if err != nil {
		return nil, unsupported("FeatureCollection", "%v", err)
	}
	return n.fromShape(ctx, merged)
}

// fromShape converts a raw shape, first trying region inference when enabled.
func (n *Normalizer) fromShape(ctx context.Context, shape geom.T) (*geometry.Geometry, error) {
	g, err := geometry.New(shape, geometry.SourceUserSupplied, geometry.LevelNone)
	if err != nil {
		return nil, unsupported(fmt.Sprintf("%T", shape), "%v", err)
	}
	if !n.regionInference {
		return g, nil
	}

	name, ok := inferRegion(n.hints, g.Centroid.Lon, g.Centroid.Lat)
	if !ok {
		return g, nil
	}
	resolved, err := n.resolver.Resolve(ctx, name)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "aoi: region inference")
		}
		zap.L().Debug("aoi: inferred region did not resolve, using raw shape", zap.String("name", name), zap.Error(err))
		return g, nil
	}
	zap.L().Info("aoi: inferred place from centroid",
		zap.String("name", name),
		zap.Float64("lon", g.Centroid.Lon),
		zap.Float64("lat", g.Centroid.Lat),
	)
	return resolved, nil
}

var geoJSONTypes = map[string]bool{
	"Point":             true,
	"MultiPoint":        true,
	"LineString":        true,
	"MultiLineString":   true,
	"Polygon":           true,
	"MultiPolygon":      true,
	"Feature":           true,
	"FeatureCollection": true,
}

// recognized reports whether obj looks like something fromObject handles.
func recognized(obj map[string]any) bool {
	if name, ok := obj["placeName"].(string); ok && strings.TrimSpace(name) != "" {
		return true
	}
	kind, _ := obj["type"].(string)
	return geoJSONTypes[kind]
}

// parseLonLat parses "lon, lat".
func parseLonLat(s string) (float64, float64, bool) {
	a, b, ok := strings.Cut(s, ",")
	if !ok || strings.Contains(b, ",") {
		return 0, 0, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(a), 64)
	if err != nil {
		return 0, 0, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(b), 64)
	if err != nil {
		return 0, 0, false
	}
	return lon, lat, true
}
