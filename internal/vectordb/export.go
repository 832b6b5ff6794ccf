package vectordb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/storyforge/internal/models"
)

// BuildExport collects every collection in insertion order. A collection that
// cannot be read is logged and left out of the data section.
func (db *DB) BuildExport(ctx context.Context) *models.Export {
	exp := &models.Export{
		Metadata: models.ExportMetadata{
			CreatedAt:   time.Now(),
			Collections: make(map[string]int64, len(Collections)),
		},
		Data: make(map[string]models.ExportCollection, len(Collections)),
	}
	for _, s := range db.Stats(ctx) {
		if s.Error == "" {
			exp.Metadata.Collections[s.Name] = s.Count
		}
	}
	for _, c := range Collections {
		recs, err := db.store.ListRecords(ctx, c.Name, 0, 0)
		if err != nil {
			db.logger.Error("export collection failed", zap.String("collection", c.Name), zap.Error(err))
			continue
		}
		col := models.ExportCollection{
			Documents: make([]string, 0, len(recs)),
			Metadatas: make([]map[string]string, 0, len(recs)),
			IDs:       make([]string, 0, len(recs)),
		}
		for _, rec := range recs {
			col.Documents = append(col.Documents, rec.Content)
			col.Metadatas = append(col.Metadatas, rec.Metadata)
			col.IDs = append(col.IDs, rec.ID)
		}
		exp.Data[c.Name] = col
	}
	return exp
}

// Export writes the export document as indented JSON.
func (db *DB) Export(ctx context.Context, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(db.BuildExport(ctx)); err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	return nil
}

// ExportFile writes the export to path, creating parent directories.
func (db *DB) ExportFile(ctx context.Context, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	if err := db.Export(ctx, f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close export file: %w", err)
	}
	db.logger.Info("training data exported", zap.String("path", path))
	return nil
}
