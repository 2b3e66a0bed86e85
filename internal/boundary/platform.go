package boundary

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/aoi-engine/pkg/platform"
)

// PlatformSearcher runs probes remotely as filter graphs over the
// platform's hosted feature collections.
type PlatformSearcher struct {
	client platform.Client
}

// NewPlatformSearcher wraps a platform client.
func NewPlatformSearcher(client platform.Client) *PlatformSearcher {
	return &PlatformSearcher{client: client}
}

func filterGraph(f Filter) *platform.Node {
	collection := platform.LoadTable(f.Dataset)
	if len(f.Clauses) == 0 {
		return collection
	}
	filters := make([]*platform.Node, len(f.Clauses))
	for i, c := range f.Clauses {
		filters[i] = platform.InList(c.Field, c.Values...)
	}
	return platform.Filter(collection, platform.And(filters...))
}

// Count implements Searcher.
func (s *PlatformSearcher) Count(ctx context.Context, f Filter) (int, error) {
	raw, err := s.client.Compute(ctx, platform.Size(filterGraph(f)))
	if err != nil {
		return 0, eris.Wrapf(err, "boundary: remote count %s", f.Dataset)
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, eris.Wrapf(err, "boundary: decode remote count %s", f.Dataset)
	}
	return int(n), nil
}

// First implements Searcher. The platform answers null for an empty collection.
func (s *PlatformSearcher) First(ctx context.Context, f Filter) (*Feature, error) {
	raw, err := s.client.Compute(ctx, platform.First(filterGraph(f)))
	if err != nil {
		return nil, eris.Wrapf(err, "boundary: remote first %s", f.Dataset)
	}
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}

	var gf geojson.Feature
	if err := gf.UnmarshalJSON(raw); err != nil {
		return nil, eris.Wrapf(err, "boundary: decode remote feature %s", f.Dataset)
	}
	if gf.Geometry == nil {
		return nil, nil
	}
	return &Feature{
		Dataset:    f.Dataset,
		Properties: stringProps(gf.Properties),
		Shape:      gf.Geometry,
	}, nil
}
