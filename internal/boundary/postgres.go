package boundary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/aoi-engine/internal/db"
)

var featureColumns = []string{"dataset", "properties", "geom"}

// PostgresStore serves boundary probes from the PostGIS table boundary.features.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore wraps a pool. Run Migrate before first use.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// whereClause renders f as SQL with positional args. Property fields are
// bound as parameters, never interpolated.
func whereClause(f Filter) (string, []any) {
	var b strings.Builder
	args := []any{f.Dataset}
	b.WriteString("dataset = $1")
	for _, c := range f.Clauses {
		args = append(args, c.Field, c.Values)
		fmt.Fprintf(&b, " AND properties->>$%d = ANY($%d)", len(args)-1, len(args))
	}
	return b.String(), args
}

// Count implements Searcher.
func (s *PostgresStore) Count(ctx context.Context, f Filter) (int, error) {
	where, args := whereClause(f)
	var n int64
	err := s.pool.QueryRow(ctx, "SELECT count(*) FROM boundary.features WHERE "+where, args...).Scan(&n)
	if err != nil {
		return 0, eris.Wrapf(err, "boundary: count %s", f.Dataset)
	}
	return int(n), nil
}

// First implements Searcher. Features are ordered by load order.
func (s *PostgresStore) First(ctx context.Context, f Filter) (*Feature, error) {
	where, args := whereClause(f)
	sql := "SELECT dataset, properties, ST_AsGeoJSON(geom) FROM boundary.features WHERE " +
		where + " ORDER BY id LIMIT 1"

	var (
		dataset string
		props   []byte
		shape   string
	)
	err := s.pool.QueryRow(ctx, sql, args...).Scan(&dataset, &props, &shape)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "boundary: first %s", f.Dataset)
	}

	feat := &Feature{Dataset: dataset, Properties: map[string]string{}}
	if len(props) > 0 {
		var raw map[string]any
		if err := json.Unmarshal(props, &raw); err != nil {
			return nil, eris.Wrap(err, "boundary: decode properties")
		}
		feat.Properties = stringProps(raw)
	}
	if err := geojson.Unmarshal([]byte(shape), &feat.Shape); err != nil {
		return nil, eris.Wrap(err, "boundary: decode geometry")
	}
	return feat, nil
}

// ReplaceDataset deletes every feature of dataset and bulk-loads features in
// one transaction. Returns the number of rows copied.
func (s *PostgresStore) ReplaceDataset(ctx context.Context, dataset string, features []*Feature) (int64, error) {
	rows := make([][]any, 0, len(features))
	for _, f := range features {
		wkb, err := ewkb.Marshal(withSRID(f.Shape), ewkb.NDR)
		if err != nil {
			return 0, eris.Wrapf(err, "boundary: encode geometry for %s", dataset)
		}
		props, err := json.Marshal(f.Properties)
		if err != nil {
			return 0, eris.Wrap(err, "boundary: encode properties")
		}
		rows = append(rows, []any{dataset, props, wkb})
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "boundary: begin replace")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "DELETE FROM boundary.features WHERE dataset = $1", dataset); err != nil {
		return 0, eris.Wrapf(err, "boundary: clear dataset %s", dataset)
	}

	var n int64
	if len(rows) > 0 {
		n, err = tx.CopyFrom(ctx, pgx.Identifier{"boundary", "features"}, featureColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return 0, eris.Wrapf(err, "boundary: copy features of %s", dataset)
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO boundary.datasets (dataset, feature_count, loaded_at) VALUES ($1, $2, now())
		ON CONFLICT (dataset) DO UPDATE SET feature_count = EXCLUDED.feature_count, loaded_at = EXCLUDED.loaded_at`,
		dataset, n,
	); err != nil {
		return 0, eris.Wrapf(err, "boundary: record dataset %s", dataset)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "boundary: commit replace")
	}

	zap.L().Info("boundary: dataset loaded",
		zap.String("dataset", dataset),
		zap.Int64("features", n),
	)
	return n, nil
}

// Datasets lists loaded datasets with their feature counts.
func (s *PostgresStore) Datasets(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, "SELECT dataset, feature_count FROM boundary.datasets ORDER BY dataset")
	if err != nil {
		return nil, eris.Wrap(err, "boundary: list datasets")
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			name string
			n    int64
		)
		if err := rows.Scan(&name, &n); err != nil {
			return nil, eris.Wrap(err, "boundary: scan dataset row")
		}
		out[name] = int(n)
	}
	return out, rows.Err()
}

// withSRID stamps WGS84 on shapes decoded without one; the geom column is
// constrained to 4326.
func withSRID(g geom.T) geom.T {
	if g.SRID() != 0 {
		return g
	}
	switch s := g.(type) {
	case *geom.Point:
		return geom.NewPointFlat(s.Layout(), s.FlatCoords()).SetSRID(4326)
	case *geom.Polygon:
		return geom.NewPolygonFlat(s.Layout(), s.FlatCoords(), s.Ends()).SetSRID(4326)
	case *geom.MultiPolygon:
		return geom.NewMultiPolygonFlat(s.Layout(), s.FlatCoords(), s.Endss()).SetSRID(4326)
	default:
		return g
	}
}
