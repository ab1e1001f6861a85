//go:build !tiledb

package tiledbstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/slide-tiles/server/internal/decoder"
)

// Engine is a stub when built without "-tags tiledb".
type Engine struct{}

// NewEngine creates a TileDB engine (stub).
func NewEngine() *Engine { return &Engine{} }

// Supported reports whether TileDB support is compiled in.
func (e *Engine) Supported() bool { return false }

// Open still validates the store path so config issues surface early, but
// always fails with ErrUnsupported.
func (e *Engine) Open(path string, capture bool) (decoder.Session, error) {
	if _, err := os.Stat(filepath.Join(path, "image.json")); err != nil {
		return nil, fmt.Errorf("tiledbstore: store not found at %s: %w", path, err)
	}
	return nil, ErrUnsupported
}
