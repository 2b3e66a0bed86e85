package boundary

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/aoi-engine/internal/fetcher"
)

// Source names one dataset file: a local .shp/.geojson path, a .zip
// archive containing one, or an http(s)/ftp URL to any of those.
type Source struct {
	Dataset string `yaml:"dataset"`
	Path    string `yaml:"path"`
}

// Manifest lists the dataset files that make up a reference store.
type Manifest struct {
	Sources []Source `yaml:"datasets"`
}

// LoadManifest reads a YAML manifest. Relative paths resolve against the
// manifest's directory.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "boundary: read manifest %s", path)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrapf(err, "boundary: parse manifest %s", path)
	}

	base := filepath.Dir(path)
	for i, s := range m.Sources {
		if s.Dataset == "" || s.Path == "" {
			return nil, eris.Errorf("boundary: manifest entry %d needs dataset and path", i)
		}
		if !isRemote(s.Path) && !filepath.IsAbs(s.Path) {
			m.Sources[i].Path = filepath.Join(base, s.Path)
		}
	}
	return &m, nil
}

// LoadOptions configures Load.
type LoadOptions struct {
	TempDir string
	Fetch   fetcher.Options
}

// Load reads src and replaces its dataset in store. Returns the number of
// features loaded.
func Load(ctx context.Context, store Store, src Source, opts LoadOptions) (int64, error) {
	if opts.TempDir == "" {
		opts.TempDir = filepath.Join(os.TempDir(), "aoi-engine")
	}
	log := zap.L().With(
		zap.String("component", "boundary.loader"),
		zap.String("dataset", src.Dataset),
	)

	path := src.Path
	if isRemote(path) {
		local, err := download(ctx, path, opts)
		if err != nil {
			return 0, err
		}
		path = local
	}

	if strings.EqualFold(filepath.Ext(path), ".zip") {
		dir := filepath.Join(opts.TempDir, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
		if _, err := fetcher.ExtractZIP(path, dir); err != nil {
			return 0, eris.Wrapf(err, "boundary: extract %s", path)
		}
		found, err := findDatasetFile(dir)
		if err != nil {
			return 0, err
		}
		path = found
	}

	features, err := ReadFile(path, src.Dataset)
	if err != nil {
		return 0, err
	}

	n, err := store.ReplaceDataset(ctx, src.Dataset, features)
	if err != nil {
		return 0, eris.Wrapf(err, "boundary: store %s", src.Dataset)
	}
	log.Info("dataset loaded", zap.String("path", path), zap.Int64("features", n))
	return n, nil
}

// LoadAll loads every manifest source in order, stopping at the first error.
func LoadAll(ctx context.Context, store Store, m *Manifest, opts LoadOptions) (int64, error) {
	var total int64
	for _, src := range m.Sources {
		n, err := Load(ctx, store, src, opts)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// ReadFile reads a .shp or .geojson/.json file into features of dataset.
func ReadFile(path, dataset string) ([]*Feature, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return ReadShapefile(path, dataset)
	case ".geojson", ".json":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "boundary: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		return ReadGeoJSON(f, dataset)
	default:
		return nil, eris.Errorf("boundary: unsupported dataset file %s", path)
	}
}

func download(ctx context.Context, rawURL string, opts LoadOptions) (string, error) {
	f, err := fetcher.New(rawURL, opts.Fetch)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(opts.TempDir, 0o755); err != nil {
		return "", eris.Wrap(err, "boundary: create temp dir")
	}

	dest := filepath.Join(opts.TempDir, fetcher.FileName(rawURL))
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		zap.L().Debug("boundary: archive already downloaded", zap.String("path", dest))
		return dest, nil
	}
	if _, err := fetcher.DownloadToFile(ctx, f, rawURL, dest); err != nil {
		_ = os.Remove(dest)
		return "", eris.Wrapf(err, "boundary: download %s", rawURL)
	}
	return dest, nil
}

func findDatasetFile(dir string) (string, error) {
	for _, ext := range []string{".shp", ".geojson", ".json"} {
		if p, err := fetcher.FindByExt(dir, ext); err == nil {
			return p, nil
		}
	}
	return "", eris.Errorf("boundary: no shapefile or geojson in %s", dir)
}

func isRemote(p string) bool {
	for _, prefix := range []string{"http://", "https://", "ftp://"} {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}
