package geometry

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// DefaultBufferMeters is the radius used when a bare coordinate pair is buffered.
const DefaultBufferMeters = 1000.0

const bufferSegments = 32

// BufferedPoint approximates a circle of radius meters around lon/lat.
func BufferedPoint(lon, lat, meters float64) (*geom.Polygon, error) {
	if err := ValidateLonLat(lon, lat); err != nil {
		return nil, err
	}
	if meters <= 0 {
		meters = DefaultBufferMeters
	}

	dLat := (meters / 1000) / earthRadiusKm * 180 / math.Pi
	dLon := dLat / math.Max(math.Cos(radians(lat)), 1e-6)

	flat := make([]float64, 0, (bufferSegments+1)*2)
	for i := 0; i < bufferSegments; i++ {
		theta := 2 * math.Pi * float64(i) / bufferSegments
		flat = append(flat, lon+dLon*math.Cos(theta), lat+dLat*math.Sin(theta))
	}
	flat = append(flat, flat[0], flat[1])

	return geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)}).SetSRID(4326), nil
}

// ValidateLonLat rejects coordinates outside WGS84 ranges.
func ValidateLonLat(lon, lat float64) error {
	if math.IsNaN(lon) || math.IsNaN(lat) || lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return eris.Errorf("geometry: coordinate out of range (lon=%v, lat=%v)", lon, lat)
	}
	return nil
}

// DecodeGeoJSON decodes a GeoJSON geometry object.
func DecodeGeoJSON(data []byte) (geom.T, error) {
	var g geom.T
	if err := geojson.Unmarshal(data, &g); err != nil {
		return nil, eris.Wrap(err, "geometry: decode geojson")
	}
	return g, nil
}

// Merge collects polygonal members into a single MultiPolygon, skipping
// anything that is not a Polygon or MultiPolygon.
func Merge(shapes []geom.T) (geom.T, error) {
	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	var points []*geom.Point
	for _, s := range shapes {
		switch v := s.(type) {
		case *geom.Polygon:
			if err := mp.Push(force2D(v)); err != nil {
				return nil, eris.Wrap(err, "geometry: merge polygon")
			}
		case *geom.MultiPolygon:
			for i := 0; i < v.NumPolygons(); i++ {
				if err := mp.Push(force2D(v.Polygon(i))); err != nil {
					return nil, eris.Wrap(err, "geometry: merge multipolygon")
				}
			}
		case *geom.Point:
			points = append(points, v)
		}
	}

	switch {
	case mp.NumPolygons() == 1:
		return mp.Polygon(0), nil
	case mp.NumPolygons() > 1:
		return mp, nil
	case len(points) == 1:
		return points[0], nil
	default:
		return nil, eris.New("geometry: no polygonal members to merge")
	}
}

// force2D drops Z/M ordinates so members share the XY layout.
func force2D(p *geom.Polygon) *geom.Polygon {
	if p.Layout() == geom.XY {
		return p
	}
	stride := p.Stride()
	src := p.FlatCoords()
	flat := make([]float64, 0, len(src)/stride*2)
	for i := 0; i < len(src); i += stride {
		flat = append(flat, src[i], src[i+1])
	}
	ends := make([]int, len(p.Ends()))
	for i, e := range p.Ends() {
		ends[i] = e / stride * 2
	}
	return geom.NewPolygonFlat(geom.XY, flat, ends)
}
