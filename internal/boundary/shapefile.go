package boundary

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// ReadShapefile reads every record of a shapefile into features of dataset.
// Attribute names keep their on-disk case (ADM0_NAME, NAME, STATEFP, ...).
// Records with no usable geometry are skipped.
func ReadShapefile(shpPath, dataset string) ([]*Feature, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "boundary: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.TrimRight(f.String(), "\x00")
	}

	var out []*Feature
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()
		g := shapeToGeom(shape)
		if g == nil {
			skipped++
			continue
		}

		props := make(map[string]string, len(names))
		for i, name := range names {
			val := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
			if val != "" {
				props[name] = val
			}
		}
		out = append(out, &Feature{Dataset: dataset, Properties: props, Shape: g})
	}

	if skipped > 0 {
		zap.L().Debug("boundary: skipped shapefile records",
			zap.String("dataset", dataset),
			zap.Int("skipped", skipped),
		)
	}
	return out, nil
}

// shapeToGeom converts a go-shp shape to go-geom. Only points and polygons
// are boundaries; other shape types return nil.
func shapeToGeom(shape shp.Shape) geom.T {
	switch s := shape.(type) {
	case *shp.Point:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y}).SetSRID(4326)
	case *shp.Polygon:
		return polygonToGeom(s)
	default:
		return nil
	}
}

// polygonToGeom groups shapefile rings into polygons. Shapefiles store outer
// rings clockwise and holes counter-clockwise; a hole attaches to the most
// recent outer ring. A single polygon comes back as *geom.Polygon.
func polygonToGeom(p *shp.Polygon) geom.T {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	var polys []*geom.Polygon
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if end-start < 4 {
			zap.L().Debug("boundary: skipping degenerate ring", zap.Int32("part", i))
			continue
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		ring := geom.NewLinearRingFlat(geom.XY, flat)

		if signedArea(flat) < 0 || len(polys) == 0 {
			poly := geom.NewPolygon(geom.XY).SetSRID(4326)
			if err := poly.Push(ring); err != nil {
				zap.L().Debug("boundary: skipping malformed ring", zap.Int32("part", i), zap.Error(err))
				continue
			}
			polys = append(polys, poly)
			continue
		}

		if err := polys[len(polys)-1].Push(ring); err != nil {
			zap.L().Debug("boundary: skipping malformed hole", zap.Int32("part", i), zap.Error(err))
		}
	}

	switch len(polys) {
	case 0:
		return nil
	case 1:
		return polys[0]
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	for _, poly := range polys {
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("boundary: skipping polygon part", zap.Error(err))
		}
	}
	return mp
}

// signedArea is the planar shoelace area; negative means clockwise.
func signedArea(flat []float64) float64 {
	var sum float64
	n := len(flat) / 2
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += flat[2*i]*flat[2*j+1] - flat[2*j]*flat[2*i+1]
	}
	return sum / 2
}
