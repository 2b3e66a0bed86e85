// Package geometry holds the canonical AOI geometry and the metadata derived from it.
package geometry

import (
	"encoding/json"
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/xy"
)

// SourceUserSupplied marks geometries built directly from caller input.
const SourceUserSupplied = "user-supplied"

// earthRadiusKm is the WGS84 mean radius.
const earthRadiusKm = 6371.0088

// AdminLevel is the administrative level a boundary was matched at.
type AdminLevel string

// Administrative levels.
const (
	LevelCountry  AdminLevel = "country"
	LevelState    AdminLevel = "state"
	LevelDistrict AdminLevel = "district"
	LevelNone     AdminLevel = "none"
)

// BBox is a lon/lat bounding box.
type BBox struct {
	West  float64 `json:"west" yaml:"west"`
	South float64 `json:"south" yaml:"south"`
	East  float64 `json:"east" yaml:"east"`
	North float64 `json:"north" yaml:"north"`
}

// Contains reports whether the point lies inside the box, edges included.
func (b BBox) Contains(lon, lat float64) bool {
	return lon >= b.West && lon <= b.East && lat >= b.South && lat <= b.North
}

// Polygon returns the box as a closed polygon ring.
func (b BBox) Polygon() *geom.Polygon {
	return geom.NewPolygonFlat(geom.XY, []float64{
		b.West, b.South,
		b.East, b.South,
		b.East, b.North,
		b.West, b.North,
		b.West, b.South,
	}, []int{10}).SetSRID(4326)
}

// Point is a lon/lat coordinate.
type Point struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// Geometry is a resolved, immutable AOI. Metadata is computed once in New.
type Geometry struct {
	shape         geom.T
	SourceDataset string     `json:"sourceDataset"`
	AdminLevel    AdminLevel `json:"adminLevel"`
	AreaKm2       float64    `json:"areaKm2"`
	PerimeterKm   float64    `json:"perimeterKm"`
	BoundingBox   BBox       `json:"boundingBox"`
	Centroid      Point      `json:"centroid"`
}

// New wraps a go-geom geometry and derives its metrics.
func New(g geom.T, source string, level AdminLevel) (*Geometry, error) {
	if g == nil {
		return nil, eris.New("geometry: nil shape")
	}
	switch g.(type) {
	case *geom.Point, *geom.Polygon, *geom.MultiPolygon:
	default:
		return nil, eris.Errorf("geometry: unsupported shape %T", g)
	}
	if len(g.FlatCoords()) == 0 {
		return nil, eris.New("geometry: empty shape")
	}
	if level == "" {
		level = LevelNone
	}
	if source == "" {
		source = SourceUserSupplied
	}

	b := g.Bounds()
	out := &Geometry{
		shape:         g,
		SourceDataset: source,
		AdminLevel:    level,
		AreaKm2:       areaKm2(g),
		PerimeterKm:   perimeterKm(g),
		BoundingBox:   BBox{West: b.Min(0), South: b.Min(1), East: b.Max(0), North: b.Max(1)},
	}

	if c, err := xy.Centroid(g); err == nil && len(c) >= 2 && !math.IsNaN(c[0]) {
		out.Centroid = Point{Lon: c[0], Lat: c[1]}
	} else {
		out.Centroid = Point{
			Lon: (out.BoundingBox.West + out.BoundingBox.East) / 2,
			Lat: (out.BoundingBox.South + out.BoundingBox.North) / 2,
		}
	}
	return out, nil
}

// Shape returns the underlying go-geom value. Callers must not mutate it.
func (g *Geometry) Shape() geom.T { return g.shape }

// Type returns the GeoJSON type name of the shape.
func (g *Geometry) Type() string {
	switch g.shape.(type) {
	case *geom.Point:
		return "Point"
	case *geom.Polygon:
		return "Polygon"
	case *geom.MultiPolygon:
		return "MultiPolygon"
	default:
		return "Unknown"
	}
}

// GeoJSON encodes the shape as a GeoJSON geometry object.
func (g *Geometry) GeoJSON() (json.RawMessage, error) {
	data, err := geojson.Marshal(g.shape)
	if err != nil {
		return nil, eris.Wrap(err, "geometry: encode geojson")
	}
	return data, nil
}

// WithSource returns a copy of g attributed to a different dataset and level.
func (g *Geometry) WithSource(source string, level AdminLevel) *Geometry {
	cp := *g
	cp.SourceDataset = source
	cp.AdminLevel = level
	return &cp
}

// MarshalJSON includes the GeoJSON shape next to the metadata.
func (g *Geometry) MarshalJSON() ([]byte, error) {
	shape, err := g.GeoJSON()
	if err != nil {
		return nil, err
	}
	type meta Geometry
	return json.Marshal(struct {
		Type     string          `json:"type"`
		Geometry json.RawMessage `json:"geometry"`
		*meta
	}{
		Type:     g.Type(),
		Geometry: shape,
		meta:     (*meta)(g),
	})
}

// areaKm2 sums ring areas on the sphere: outer rings add, holes subtract.
func areaKm2(g geom.T) float64 {
	switch s := g.(type) {
	case *geom.Polygon:
		return polygonAreaKm2(s)
	case *geom.MultiPolygon:
		var total float64
		for i := 0; i < s.NumPolygons(); i++ {
			total += polygonAreaKm2(s.Polygon(i))
		}
		return total
	default:
		return 0
	}
}

func polygonAreaKm2(p *geom.Polygon) float64 {
	var area float64
	for i := 0; i < p.NumLinearRings(); i++ {
		a := ringAreaKm2(p.LinearRing(i).Coords())
		if i == 0 {
			area += a
		} else {
			area -= a
		}
	}
	return math.Max(area, 0)
}

// ringAreaKm2 is the spherical-excess approximation of a ring's area.
func ringAreaKm2(coords []geom.Coord) float64 {
	n := len(coords)
	if n < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		p1 := coords[i]
		p2 := coords[(i+1)%n]
		sum += radians(p2[0]-p1[0]) * (2 + math.Sin(radians(p1[1])) + math.Sin(radians(p2[1])))
	}
	return math.Abs(sum * earthRadiusKm * earthRadiusKm / 2)
}

func perimeterKm(g geom.T) float64 {
	switch s := g.(type) {
	case *geom.Polygon:
		return polygonPerimeterKm(s)
	case *geom.MultiPolygon:
		var total float64
		for i := 0; i < s.NumPolygons(); i++ {
			total += polygonPerimeterKm(s.Polygon(i))
		}
		return total
	default:
		return 0
	}
}

func polygonPerimeterKm(p *geom.Polygon) float64 {
	var total float64
	for i := 0; i < p.NumLinearRings(); i++ {
		coords := p.LinearRing(i).Coords()
		for j := 1; j < len(coords); j++ {
			total += haversineKm(coords[j-1], coords[j])
		}
	}
	return total
}

func haversineKm(a, b geom.Coord) float64 {
	dLat := radians(b[1] - a[1])
	dLon := radians(b[0] - a[0])
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(a[1]))*math.Cos(radians(b[1]))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
