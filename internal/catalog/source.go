package catalog

import "context"

// Source materializes catalog snapshots.
//
// Implementations must be safe for concurrent use.
type Source interface {
	// LoadAll loads the full catalog. The returned snapshot is owned by the
	// caller and is never mutated by the source afterwards.
	LoadAll(ctx context.Context) (*Catalog, error)
}

// StaticSource serves a fixed, pre-built snapshot. Intended for tests and
// development setups without a database.
type StaticSource struct {
	Catalog *Catalog
}

// Ensure StaticSource implements Source at compile time.
var _ Source = (*StaticSource)(nil)

// LoadAll returns the configured snapshot, or an empty catalog when none is
// set.
func (s *StaticSource) LoadAll(ctx context.Context) (*Catalog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Catalog == nil {
		return &Catalog{}, nil
	}
	return s.Catalog, nil
}
