package catalog

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// FileSource loads the catalog from a single YAML file. It is the standalone
// deployment option: sites without a catalog database ship a file alongside
// the binary instead.
type FileSource struct {
	path string
}

var _ Source = (*FileSource)(nil)

// NewFileSource creates a source reading from the given path. The file is
// re-read on every LoadAll call so a Refresher picks up edits.
func NewFileSource(path string) (*FileSource, error) {
	if path == "" {
		return nil, fmt.Errorf("catalog: path must not be empty")
	}
	return &FileSource{path: path}, nil
}

// LoadAll parses the YAML file into a catalog snapshot.
func (s *FileSource) LoadAll(ctx context.Context) (*Catalog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", s.path, err)
	}
	defer f.Close()

	c, err := decodeCatalog(f)
	if err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", s.path, err)
	}
	return c, nil
}

func decodeCatalog(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	// Reject unknown keys so typos in hand-edited files surface as errors.
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil {
		if err == io.EOF {
			return &Catalog{}, nil
		}
		return nil, err
	}
	return &c, nil
}
