// Package tiledbstore implements an optional decoding engine that reads
// pyramid levels from dense TileDB arrays.
//
// Layout: a store directory holds image.json (same series descriptor schema
// as the chunk store, minus compression details) and one 3D dense array per
// series and level at <store>/series_<s>/level_<l>, dimensions (plane, y, x)
// with a "samples" attribute.
//
// TileDB support is compiled in with -tags tiledb; without the tag every
// open fails with ErrUnsupported.
package tiledbstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// ErrUnsupported indicates this binary was built without TileDB support.
var ErrUnsupported = errors.New("tiledb support is not enabled in this build (build server with: go build -tags tiledb)")

// FormatName identifies this engine's container format.
const FormatName = "TileDB Pyramid"

type storeMeta struct {
	FormatVersion string       `json:"format_version"`
	Series        []seriesMeta `json:"series"`
}

type seriesMeta struct {
	Name        string      `json:"name"`
	Thumbnail   bool        `json:"thumbnail"`
	ColorNative bool        `json:"color_native"`
	SampleKind  string      `json:"sample_kind"`
	SizeC       int         `json:"size_c"`
	SizeZ       int         `json:"size_z"`
	SizeT       int         `json:"size_t"`
	Levels      []levelMeta `json:"levels"`
}

type levelMeta struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func loadStoreMeta(base string) (*storeMeta, error) {
	data, err := os.ReadFile(filepath.Join(base, "image.json"))
	if err != nil {
		return nil, fmt.Errorf("tiledbstore: read image.json: %w", err)
	}
	var meta storeMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("tiledbstore: parse image.json: %w", err)
	}
	if len(meta.Series) == 0 {
		return nil, errors.New("tiledbstore: image.json declares no series")
	}
	return &meta, nil
}

func levelURI(base string, series, level int) string {
	return filepath.Join(base,
		"series_"+strconv.Itoa(series),
		"level_"+strconv.Itoa(level))
}
