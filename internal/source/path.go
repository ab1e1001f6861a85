package source

import (
	"os"
	"strings"
)

// Delimiter separates a file path from an embedded sub-image name.
const Delimiter = "::"

// SplitPath splits a path of the form "filepath" or "filepath::subimage"
// into the file part and the sub-image name. The delimiter is only honored
// when the full string does not itself exist as a file, so paths that happen
// to contain "::" still resolve when they name a real file. The sub-image
// name is "" when absent.
func SplitPath(path string) (filePath, subImage string) {
	idx := strings.Index(path, Delimiter)
	if idx <= 0 || idx >= len(path)-len(Delimiter) {
		return path, ""
	}
	if _, err := os.Stat(path); err == nil {
		return path, ""
	}
	return path[:idx], path[idx+len(Delimiter):]
}

// joinSubImagePath builds the canonical "filepath::subimage" form.
func joinSubImagePath(filePath, name string) string {
	return filePath + Delimiter + name
}
