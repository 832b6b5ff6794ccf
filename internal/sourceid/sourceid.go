// Package sourceid derives stable keys for harvested files and the records they produce.
package sourceid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strconv"
	"strings"
)

const prefix = "file:"

// FileKey returns a stable key for the given path. Relative paths are made
// absolute first, so the same file always yields the same key.
func FileKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	hash := sha256.Sum256([]byte(filepath.Clean(path)))
	return prefix + hex.EncodeToString(hash[:])
}

// Stem is the file name without its extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// RecordID is the ID of the i-th item of a list file or the i-th table row.
func RecordID(stem string, i int) string {
	return stem + "_" + strconv.Itoa(i)
}

// ChunkID is the ID of the i-th text chunk of a document.
func ChunkID(stem string, i int) string {
	return stem + "_chunk_" + strconv.Itoa(i)
}
