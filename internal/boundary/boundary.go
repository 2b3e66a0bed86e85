// Package boundary holds the reference administrative-boundary datasets the
// place resolver probes, behind a small query interface that every backing
// store implements.
package boundary

import (
	"context"
	"slices"

	"github.com/twpayne/go-geom"
)

// Feature is one boundary record: its dataset, string-valued attributes and shape.
type Feature struct {
	Dataset    string
	Properties map[string]string
	Shape      geom.T
}

// Clause requires Field to equal any of Values.
type Clause struct {
	Field  string
	Values []string
}

// Eq builds a clause matching field against any of values.
func Eq(field string, values ...string) Clause {
	return Clause{Field: field, Values: values}
}

// Filter selects features of one dataset. All clauses must hold.
type Filter struct {
	Dataset string
	Clauses []Clause
}

// Matches reports whether a feature's properties satisfy every clause.
// Comparison is exact; callers supply the case variants they want.
func (f Filter) Matches(props map[string]string) bool {
	for _, c := range f.Clauses {
		v, ok := props[c.Field]
		if !ok || !slices.Contains(c.Values, v) {
			return false
		}
	}
	return true
}

// Searcher answers the two probe queries the resolver issues: how many
// features match, and the first matching feature. First returns nil, nil
// when nothing matches.
type Searcher interface {
	Count(ctx context.Context, f Filter) (int, error)
	First(ctx context.Context, f Filter) (*Feature, error)
}

// Store is a Searcher that can also be (re)loaded.
type Store interface {
	Searcher
	ReplaceDataset(ctx context.Context, dataset string, features []*Feature) (int64, error)
	Datasets(ctx context.Context) (map[string]int, error)
}
