package aoi

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/aoi-engine/internal/geometry"
)

// Source datasets reported for legacy table hits.
const (
	SourceLegacyCities    = "legacy/cities"
	SourceLegacyRegions   = "legacy/regions"
	SourceLegacyCountries = "legacy/countries"
)

// LegacyTable is the hand-curated fallback consulted when the resolver
// finds nothing: city extents, named regions as literal rings and country
// extents. Keys are lowercase names.
type LegacyTable struct {
	Cities    map[string]geometry.BBox `yaml:"cities"`
	Regions   map[string][][2]float64  `yaml:"regions"`
	Countries map[string]geometry.BBox `yaml:"countries"`
}

// DefaultLegacyTable returns the built-in lookup table.
func DefaultLegacyTable() *LegacyTable {
	return &LegacyTable{
		Cities: map[string]geometry.BBox{
			"san francisco": {West: -122.52, South: 37.70, East: -122.35, North: 37.83},
			"los angeles":   {West: -118.67, South: 33.70, East: -118.15, North: 34.34},
			"new york":      {West: -74.26, South: 40.48, East: -73.70, North: 40.92},
			"london":        {West: -0.51, South: 51.28, East: 0.33, North: 51.69},
			"paris":         {West: 2.22, South: 48.81, East: 2.47, North: 48.90},
			"tokyo":         {West: 139.56, South: 35.53, East: 139.92, North: 35.82},
			"sydney":        {West: 150.52, South: -34.12, East: 151.34, North: -33.58},
			"mumbai":        {West: 72.77, South: 18.89, East: 72.99, North: 19.27},
			"cairo":         {West: 31.13, South: 29.95, East: 31.45, North: 30.15},
			"sao paulo":     {West: -46.83, South: -23.78, East: -46.36, North: -23.36},
		},
		Regions: map[string][][2]float64{
			"alps":      {{5.0, 44.0}, {16.5, 46.0}, {16.0, 48.0}, {6.0, 47.5}, {5.0, 44.0}},
			"himalayas": {{73.0, 35.0}, {80.0, 30.0}, {88.0, 26.5}, {97.0, 28.0}, {95.0, 30.0}, {82.0, 32.5}, {75.0, 36.5}, {73.0, 35.0}},
			"sahara":    {{-17.0, 15.0}, {38.0, 15.0}, {38.0, 30.0}, {-10.0, 33.0}, {-17.0, 21.0}, {-17.0, 15.0}},
			"amazon":    {{-79.0, -15.0}, {-45.0, -15.0}, {-45.0, 5.0}, {-79.0, 5.0}, {-79.0, -15.0}},
		},
		Countries: map[string]geometry.BBox{
			"united states":  {West: -125.0, South: 24.4, East: -66.9, North: 49.4},
			"usa":            {West: -125.0, South: 24.4, East: -66.9, North: 49.4},
			"canada":         {West: -141.0, South: 41.7, East: -52.6, North: 83.1},
			"mexico":         {West: -118.4, South: 14.5, East: -86.7, North: 32.7},
			"brazil":         {West: -73.99, South: -33.75, East: -34.79, North: 5.27},
			"india":          {West: 68.1, South: 6.7, East: 97.4, North: 35.5},
			"china":          {West: 73.5, South: 18.2, East: 134.8, North: 53.6},
			"australia":      {West: 113.3, South: -43.6, East: 153.6, North: -10.7},
			"germany":        {West: 5.9, South: 47.3, East: 15.0, North: 55.1},
			"united kingdom": {West: -8.6, South: 49.9, East: 1.8, North: 60.9},
			"japan":          {West: 129.4, South: 31.0, East: 145.5, North: 45.5},
		},
	}
}

// LoadLegacyTable reads a table from YAML. Sections present in the file
// replace the built-in ones.
func LoadLegacyTable(path string) (*LegacyTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "aoi: read legacy table %s", path)
	}
	var file LegacyTable
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrap(err, "aoi: parse legacy table")
	}

	t := DefaultLegacyTable()
	if file.Cities != nil {
		t.Cities = lowerKeys(file.Cities)
	}
	if file.Regions != nil {
		t.Regions = lowerKeys(file.Regions)
	}
	if file.Countries != nil {
		t.Countries = lowerKeys(file.Countries)
	}
	return t, nil
}

// Lookup finds name in cities, then regions, then countries.
func (t *LegacyTable) Lookup(name string) (*geometry.Geometry, bool) {
	if t == nil {
		return nil, false
	}
	key := strings.Join(strings.Fields(strings.ToLower(name)), " ")

	if b, ok := t.Cities[key]; ok {
		return fromShape(b.Polygon(), SourceLegacyCities, geometry.LevelDistrict)
	}
	if ring, ok := t.Regions[key]; ok && len(ring) >= 4 {
		flat := make([]float64, 0, len(ring)*2)
		for _, c := range ring {
			flat = append(flat, c[0], c[1])
		}
		if ring[0] != ring[len(ring)-1] {
			flat = append(flat, ring[0][0], ring[0][1])
		}
		p := geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)}).SetSRID(4326)
		return fromShape(p, SourceLegacyRegions, geometry.LevelNone)
	}
	if b, ok := t.Countries[key]; ok {
		return fromShape(b.Polygon(), SourceLegacyCountries, geometry.LevelCountry)
	}
	return nil, false
}

func fromShape(g geom.T, source string, level geometry.AdminLevel) (*geometry.Geometry, bool) {
	out, err := geometry.New(g, source, level)
	if err != nil {
		return nil, false
	}
	return out, true
}

// RegionHint ties a bounding box to the place name it most likely denotes.
type RegionHint struct {
	Name string        `yaml:"name"`
	Box  geometry.BBox `yaml:"box"`
}

// DefaultRegionHints returns the built-in centroid inference boxes.
func DefaultRegionHints() []RegionHint {
	return []RegionHint{
		{Name: "San Francisco", Box: geometry.BBox{West: -122.55, South: 37.65, East: -122.3, North: 37.9}},
		{Name: "Los Angeles", Box: geometry.BBox{West: -118.7, South: 33.7, East: -118.1, North: 34.35}},
		{Name: "New York", Box: geometry.BBox{West: -74.3, South: 40.45, East: -73.65, North: 40.95}},
	}
}

// inferRegion returns the first hint whose box contains lon/lat.
func inferRegion(hints []RegionHint, lon, lat float64) (string, bool) {
	for _, h := range hints {
		if h.Box.Contains(lon, lat) {
			return h.Name, true
		}
	}
	return "", false
}

func lowerKeys[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[strings.Join(strings.Fields(strings.ToLower(k)), " ")] = v
	}
	return out
}
