package aoi

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/aoi-engine/internal/geometry"
)

func TestLegacyTable_Lookup(t *testing.T) {
	tbl := DefaultLegacyTable()

	g, ok := tbl.Lookup("San  Francisco")
	require.True(t, ok)
	assert.Equal(t, SourceLegacyCities, g.SourceDataset)
	assert.Equal(t, geometry.LevelDistrict, g.AdminLevel)

	g, ok = tbl.Lookup("Sahara")
	require.True(t, ok)
	assert.Equal(t, geometry.LevelNone, g.AdminLevel)

	_, ok = tbl.Lookup("Narnia")
	assert.False(t, ok)

	var none *LegacyTable
	_, ok = none.Lookup("paris")
	assert.False(t, ok)
}

func TestLoadLegacyTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
regions:
  Great Barrier Reef:
    - [142.5, -10.5]
    - [154.0, -24.5]
    - [152.0, -25.0]
    - [142.0, -11.0]
`), 0o644))

	tbl, err := LoadLegacyTable(path)
	require.NoError(t, err)

	g, ok := tbl.Lookup("great barrier reef")
	require.True(t, ok, "unclosed rings are closed")
	assert.Equal(t, SourceLegacyRegions, g.SourceDataset)

	_, ok = tbl.Lookup("alps")
	assert.False(t, ok, "regions section replaced")
	_, ok = tbl.Lookup("london")
	assert.True(t, ok, "cities section kept")
}

func TestLoadLegacyTable_Errors(t *testing.T) {
	_, err := LoadLegacyTable(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("cities: ["), 0o644))
	_, err = LoadLegacyTable(bad)
	assert.Error(t, err)
}

func TestInferRegion(t *testing.T) {
	name, ok := inferRegion(DefaultRegionHints(), -122.42, 37.77)
	require.True(t, ok)
	assert.Equal(t, "San Francisco", name)

	_, ok = inferRegion(DefaultRegionHints(), 0, 0)
	assert.False(t, ok)
}
