// Package extract turns dataset files into text or tabular rows.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Kind is how a file is harvested.
type Kind int

const (
	// KindUnsupported files are skipped.
	KindUnsupported Kind = iota
	// KindJSON files hold one item or a list of items.
	KindJSON
	// KindTable files (.csv, .xlsx) hold one item per row.
	KindTable
	// KindText files are extracted to text and chunked.
	KindText
)

// KindOf classifies a path by its lowercase extension.
func KindOf(path string) Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return KindJSON
	case ".csv", ".xlsx":
		return KindTable
	case ".txt", ".md", ".pdf", ".docx":
		return KindText
	default:
		return KindUnsupported
	}
}

// Extractor extracts plain text from document files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, strings.ToLower(filepath.Ext(path)))
}

// ExtractBytes extracts text from content based on the given extension.
// ext should include the leading dot (e.g. ".pdf"). Unknown extensions are read as plain text.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	switch ext {
	case ".pdf":
		return extractPDF(content)
	case ".docx":
		return extractDOCX(content)
	default:
		return extractPlain(content)
	}
}

// Rows reads a .csv or .xlsx file as header-keyed rows.
func (e *Extractor) Rows(path string) ([]map[string]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		return readCSV(content)
	case ".xlsx":
		return readXLSX(content)
	default:
		return nil, fmt.Errorf("no tabular reader for %s", ext)
	}
}
