package boundary

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// MemoryStore keeps features in process, in insertion order per dataset.
type MemoryStore struct {
	mu       sync.RWMutex
	features map[string][]*Feature
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{features: make(map[string][]*Feature)}
}

// Add appends features to their datasets.
func (s *MemoryStore) Add(features ...*Feature) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range features {
		s.features[f.Dataset] = append(s.features[f.Dataset], f)
	}
}

// ReplaceDataset swaps the full contents of a dataset.
func (s *MemoryStore) ReplaceDataset(_ context.Context, dataset string, features []*Feature) (int64, error) {
	cp := make([]*Feature, len(features))
	for i, f := range features {
		g := *f
		g.Dataset = dataset
		cp[i] = &g
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.features[dataset] = cp
	return int64(len(cp)), nil
}

// Datasets lists loaded dataset ids with their feature counts.
func (s *MemoryStore) Datasets(context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.features))
	for ds, fs := range s.features {
		out[ds] = len(fs)
	}
	return out, nil
}

// Count implements Searcher.
func (s *MemoryStore) Count(ctx context.Context, f Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, feat := range s.features[f.Dataset] {
		if f.Matches(feat.Properties) {
			n++
		}
	}
	return n, nil
}

// First implements Searcher.
func (s *MemoryStore) First(ctx context.Context, f Filter) (*Feature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, feat := range s.features[f.Dataset] {
		if f.Matches(feat.Properties) {
			return feat, nil
		}
	}
	return nil, nil
}

// ReadGeoJSON decodes a FeatureCollection into features of dataset. Property
// values are stringified; features without geometry are skipped.
func ReadGeoJSON(r io.Reader, dataset string) ([]*Feature, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "boundary: read geojson")
	}

	var fc geojson.FeatureCollection
	if err := fc.UnmarshalJSON(data); err != nil {
		return nil, eris.Wrap(err, "boundary: decode feature collection")
	}

	out := make([]*Feature, 0, len(fc.Features))
	for _, gf := range fc.Features {
		if gf.Geometry == nil {
			continue
		}
		out = append(out, &Feature{
			Dataset:    dataset,
			Properties: stringProps(gf.Properties),
			Shape:      gf.Geometry,
		})
	}
	return out, nil
}

// WriteGeoJSON encodes features as a FeatureCollection.
func WriteGeoJSON(w io.Writer, features []*Feature) error {
	fc := geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(features))}
	for _, f := range features {
		props := make(map[string]any, len(f.Properties))
		for k, v := range f.Properties {
			props[k] = v
		}
		fc.Features = append(fc.Features, &geojson.Feature{Geometry: f.Shape, Properties: props})
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return eris.Wrap(err, "boundary: encode feature collection")
	}
	_, err = w.Write(data)
	return eris.Wrap(err, "boundary: write geojson")
}

func stringProps(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch t := v.(type) {
		case nil:
			continue
		case string:
			out[k] = t
		case float64:
			// JSON numbers decode as float64; keep integral codes like STATEFP readable.
			if t == float64(int64(t)) {
				out[k] = fmt.Sprintf("%d", int64(t))
			} else {
				out[k] = fmt.Sprint(t)
			}
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	return out
}
