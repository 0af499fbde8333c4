// Package vectorindex stores content embeddings in named collections and
// answers nearest-neighbour queries with optional metadata filters.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// ErrDimensionMismatch is returned when a vector's width does not match
// its collection.
var ErrDimensionMismatch = errors.New("vectorindex: dimension mismatch")

// Record is one vector with its payload.
type Record struct {
	ID       string
	Vector   []float32
	Metadata map[string]any
	Text     string
}

// Match is a query hit. Distance is cosine distance (1 - similarity).
type Match struct {
	ID       string
	Distance float64
	Metadata map[string]any
	Text     string
}

// Filter matches records whose metadata equals every given value. Keys must
// be plain identifiers; values strings, booleans or integers.
type Filter map[string]any

// Index is a vector index backend.
type Index interface {
	// EnsureCollection creates the collection if missing. An existing
	// collection with a different width is an error.
	EnsureCollection(ctx context.Context, name string, dim int) error
	Upsert(ctx context.Context, collection string, recs []Record) error
	Query(ctx context.Context, collection string, vec []float32, topK int, f Filter) ([]Match, error)
	// Delete removes every record matching f. An empty filter is refused.
	Delete(ctx context.Context, collection string, f Filter) error
	// DeleteCollection drops the collection and all its records. Missing
	// collections are not an error.
	DeleteCollection(ctx context.Context, collection string) error
	Close() error
}

var metaKeyRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (f Filter) validate() error {
	for k, v := range f {
		if !metaKeyRe.MatchString(k) {
			return fmt.Errorf("vectorindex: invalid filter key %q", k)
		}
		switch v.(type) {
		case string, bool, int, int64, float64:
		default:
			return fmt.Errorf("vectorindex: unsupported filter value %T for %q", v, k)
		}
	}
	return nil
}

// matches reports whether meta satisfies f, comparing numbers numerically.
func (f Filter) matches(meta map[string]any) bool {
	for k, want := range f {
		got, ok := meta[k]
		if !ok {
			return false
		}
		wn, wNum := number(want)
		gn, gNum := number(got)
		if wNum && gNum {
			if wn != gn {
				return false
			}
			continue
		}
		if got != want {
			return false
		}
	}
	return true
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}
