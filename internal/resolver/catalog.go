package resolver

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/aoi-engine/internal/geometry"
)

// Probe is one (dataset, field) pair searched by equality.
type Probe struct {
	Dataset string              `yaml:"dataset"`
	Field   string              `yaml:"field"`
	Level   geometry.AdminLevel `yaml:"level"`
}

// DistrictConfig names the district dataset and the fields used to
// disambiguate "primary, context" input.
type DistrictConfig struct {
	Dataset      string `yaml:"dataset"`
	NameField    string `yaml:"name_field"`
	CountryField string `yaml:"country_field"`
	RegionField  string `yaml:"region_field"`
}

// County is a county name and its state FIPS code.
type County struct {
	Name    string `yaml:"name"`
	StateFP string `yaml:"statefp"`
}

// CountyConfig names the county dataset and the city → county table.
// Cities keys are lowercase city names.
type CountyConfig struct {
	Dataset    string            `yaml:"dataset"`
	NameField  string            `yaml:"name_field"`
	StateField string            `yaml:"state_field"`
	Cities     map[string]County `yaml:"cities"`
}

// Catalog is the lookup data the resolver probes. It is plain data so it
// can be extended without touching the strategy chain.
type Catalog struct {
	Exact    []Probe        `yaml:"exact"`
	District DistrictConfig `yaml:"district"`
	Counties CountyConfig   `yaml:"counties"`
	Global   []Probe        `yaml:"global"`
}

// DefaultCatalog returns the built-in reference dataset catalog.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Exact: []Probe{
			{Dataset: "FAO/GAUL/2015/level0", Field: "ADM0_NAME", Level: geometry.LevelCountry},
			{Dataset: "USDOS/LSIB_SIMPLE/2017", Field: "country_na", Level: geometry.LevelCountry},
			{Dataset: "FAO/GAUL/2015/level1", Field: "ADM1_NAME", Level: geometry.LevelState},
			{Dataset: "FAO/GAUL/2015/level2", Field: "ADM2_NAME", Level: geometry.LevelDistrict},
			{Dataset: "USDOS/LSIB/2017", Field: "COUNTRY_NA", Level: geometry.LevelCountry},
		},
		District: DistrictConfig{
			Dataset:      "FAO/GAUL/2015/level2",
			NameField:    "ADM2_NAME",
			CountryField: "ADM0_NAME",
			RegionField:  "ADM1_NAME",
		},
		Counties: CountyConfig{
			Dataset:    "TIGER/2018/Counties",
			NameField:  "NAME",
			StateField: "STATEFP",
			Cities: map[string]County{
				"san francisco": {Name: "San Francisco", StateFP: "06"},
				"los angeles":   {Name: "Los Angeles", StateFP: "06"},
				"san diego":     {Name: "San Diego", StateFP: "06"},
				"san jose":      {Name: "Santa Clara", StateFP: "06"},
				"oakland":       {Name: "Alameda", StateFP: "06"},
				"sacramento":    {Name: "Sacramento", StateFP: "06"},
				"seattle":       {Name: "King", StateFP: "53"},
				"portland":      {Name: "Multnomah", StateFP: "41"},
				"denver":        {Name: "Denver", StateFP: "08"},
				"phoenix":       {Name: "Maricopa", StateFP: "04"},
				"las vegas":     {Name: "Clark", StateFP: "32"},
				"houston":       {Name: "Harris", StateFP: "48"},
				"dallas":        {Name: "Dallas", StateFP: "48"},
				"austin":        {Name: "Travis", StateFP: "48"},
				"chicago":       {Name: "Cook", StateFP: "17"},
				"miami":         {Name: "Miami-Dade", StateFP: "12"},
				"atlanta":       {Name: "Fulton", StateFP: "13"},
				"boston":        {Name: "Suffolk", StateFP: "25"},
			},
		},
		Global: []Probe{
			{Dataset: "WM/geoLab/geoBoundaries/600/ADM2", Field: "shapeName", Level: geometry.LevelDistrict},
			{Dataset: "WM/geoLab/geoBoundaries/600/ADM1", Field: "shapeName", Level: geometry.LevelState},
			{Dataset: "WM/geoLab/geoBoundaries/600/ADM0", Field: "shapeName", Level: geometry.LevelCountry},
		},
	}
}

// LoadCatalog reads a catalog from a YAML file. Sections left out of the
// file keep their built-in defaults.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "resolver: read catalog %s", path)
	}
	cat := DefaultCatalog()
	var file Catalog
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrap(err, "resolver: parse catalog")
	}

	if len(file.Exact) > 0 {
		cat.Exact = file.Exact
	}
	if file.District.Dataset != "" {
		cat.District = file.District
	}
	if file.Counties.Dataset != "" {
		cities := make(map[string]County, len(file.Counties.Cities))
		for name, c := range file.Counties.Cities {
			cities[strings.ToLower(strings.TrimSpace(name))] = c
		}
		file.Counties.Cities = cities
		cat.Counties = file.Counties
	}
	if len(file.Global) > 0 {
		cat.Global = file.Global
	}
	if err := cat.validate(); err != nil {
		return nil, err
	}
	return cat, nil
}

func (c *Catalog) validate() error {
	for _, p := range append(append([]Probe{}, c.Exact...), c.Global...) {
		if p.Dataset == "" || p.Field == "" {
			return eris.Errorf("resolver: catalog probe needs dataset and field (got %q/%q)", p.Dataset, p.Field)
		}
	}
	return nil
}
