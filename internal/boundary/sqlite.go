package boundary

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	_ "modernc.org/sqlite"
)

// SQLiteStore serves boundary probes from an embedded SQLite file. Shapes
// are stored as GeoJSON text and properties as a JSON object.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS boundary_features (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	dataset    TEXT NOT NULL,
	properties TEXT NOT NULL DEFAULT '{}',
	geometry   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_boundary_features_dataset ON boundary_features(dataset);
`

// Migrate creates the feature table.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqliteWhere renders f with json_extract lookups; field paths are bound
// as parameters.
func sqliteWhere(f Filter) (string, []any) {
	var b strings.Builder
	args := []any{f.Dataset}
	b.WriteString("dataset = ?")
	for _, c := range f.Clauses {
		if len(c.Values) == 0 {
			b.WriteString(" AND 0")
			continue
		}
		args = append(args, fmt.Sprintf(`$."%s"`, strings.ReplaceAll(c.Field, `"`, "")))
		b.WriteString(" AND json_extract(properties, ?) IN (")
		for i, v := range c.Values {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("?")
			args = append(args, v)
		}
		b.WriteString(")")
	}
	return b.String(), args
}

// Count implements Searcher.
func (s *SQLiteStore) Count(ctx context.Context, f Filter) (int, error) {
	where, args := sqliteWhere(f)
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM boundary_features WHERE "+where, args...).Scan(&n); err != nil {
		return 0, eris.Wrapf(err, "sqlite: count %s", f.Dataset)
	}
	return n, nil
}

// First implements Searcher.
func (s *SQLiteStore) First(ctx context.Context, f Filter) (*Feature, error) {
	where, args := sqliteWhere(f)
	row := s.db.QueryRowContext(ctx,
		"SELECT dataset, properties, geometry FROM boundary_features WHERE "+where+" ORDER BY id LIMIT 1",
		args...,
	)

	var dataset, props, shape string
	if err := row.Scan(&dataset, &props, &shape); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: first %s", f.Dataset)
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(props), &raw); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode properties")
	}
	feat := &Feature{Dataset: dataset, Properties: stringProps(raw)}
	if err := geojson.Unmarshal([]byte(shape), &feat.Shape); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode geometry")
	}
	return feat, nil
}

// ReplaceDataset swaps the contents of dataset in one transaction.
func (s *SQLiteStore) ReplaceDataset(ctx context.Context, dataset string, features []*Feature) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin replace")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM boundary_features WHERE dataset = ?`, dataset); err != nil {
		return 0, eris.Wrapf(err, "sqlite: clear dataset %s", dataset)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO boundary_features (dataset, properties, geometry) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert")
	}
	defer stmt.Close()

	var n int64
	for _, f := range features {
		props, err := json.Marshal(f.Properties)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: encode properties")
		}
		shape, err := geojson.Marshal(f.Shape)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: encode geometry")
		}
		if _, err := stmt.ExecContext(ctx, dataset, string(props), string(shape)); err != nil {
			return 0, eris.Wrap(err, "sqlite: insert feature")
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit replace")
	}
	return n, nil
}

// Datasets lists stored datasets with their feature counts.
func (s *SQLiteStore) Datasets(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT dataset, count(*) FROM boundary_features GROUP BY dataset`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list datasets")
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			name string
			n    int
		)
		if err := rows.Scan(&name, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dataset row")
		}
		out[name] = n
	}
	return out, rows.Err()
}
