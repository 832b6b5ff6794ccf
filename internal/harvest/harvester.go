// Package harvest walks a datasets folder and loads every supported file into the vector DB.
package harvest

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hyperjump/storyforge/internal/extract"
	"github.com/hyperjump/storyforge/internal/models"
	"github.com/hyperjump/storyforge/internal/sourceid"
	"github.com/hyperjump/storyforge/internal/vectordb"
	"go.uber.org/zap"
)

// Sink receives harvested items. *vectordb.DB implements it.
type Sink interface {
	AddItem(ctx context.Context, item vectordb.Item, id, sourceKey string) (*models.AddResult, error)
	AddTextChunk(ctx context.Context, chunk, id, sourceKey string) (*models.AddResult, error)
	RemoveSource(ctx context.Context, sourceKey string) (int, error)
}

// Tracker remembers which files were harvested. storage.Storage implements it.
type Tracker interface {
	GetIngestedFile(ctx context.Context, key string) (*models.IngestedFile, error)
	PutIngestedFile(ctx context.Context, f *models.IngestedFile) error
	DeleteIngestedFile(ctx context.Context, key string) error
}

// Report counts what a harvest did.
type Report struct {
	Files       int `json:"files"`
	Skipped     int `json:"skipped"`
	Unsupported int `json:"unsupported"`
	Failed      int `json:"failed"`
	Added       int `json:"added"`
	Duplicates  int `json:"duplicates"`
	Empty       int `json:"empty"`
}

func (r *Report) merge(o *Report) {
	r.Files += o.Files
	r.Skipped += o.Skipped
	r.Unsupported += o.Unsupported
	r.Failed += o.Failed
	r.Added += o.Added
	r.Duplicates += o.Duplicates
	r.Empty += o.Empty
}

func (r *Report) count(res *models.AddResult) {
	switch res.Outcome {
	case models.AddAdded:
		r.Added++
	case models.AddDuplicate:
		r.Duplicates++
	case models.AddEmpty:
		r.Empty++
	}
}

// Harvester loads dataset files into a Sink.
type Harvester struct {
	sink      Sink
	tracker   Tracker
	extractor *extract.Extractor
	chunker   *Chunker
	logger    *zap.Logger
}

// Option configures a Harvester.
type Option func(*Harvester)

// WithLogger sets the logger used for per-file events.
func WithLogger(l *zap.Logger) Option {
	return func(h *Harvester) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithChunking sets the text chunk size and overlap in words.
func WithChunking(size, overlap int) Option {
	return func(h *Harvester) { h.chunker = NewChunker(size, overlap) }
}

// WithTracker enables incremental harvesting: unchanged files are skipped.
func WithTracker(t Tracker) Option {
	return func(h *Harvester) { h.tracker = t }
}

// New creates a harvester writing into sink.
func New(sink Sink, opts ...Option) *Harvester {
	h := &Harvester{
		sink:      sink,
		extractor: extract.NewExtractor(),
		chunker:   NewChunker(1000, 0),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Harvest walks root recursively and harvests every regular file. A failing file
// is logged and counted; the walk continues. A missing root is an error.
func (h *Harvester) Harvest(ctx context.Context, root string) (*Report, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("datasets folder: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("datasets folder %s is not a directory", root)
	}

	total := &Report{}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			h.logger.Warn("walk error", zap.String("path", path), zap.Error(walkErr))
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rep, err := h.HarvestFile(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			h.logger.Error("failed to harvest file", zap.String("path", path), zap.Error(err))
			total.Failed++
			return nil
		}
		total.merge(rep)
		return nil
	})
	h.logger.Info("harvest finished",
		zap.String("root", root),
		zap.Int("files", total.Files),
		zap.Int("added", total.Added),
		zap.Int("duplicates", total.Duplicates),
		zap.Int("skipped", total.Skipped),
		zap.Int("failed", total.Failed),
	)
	return total, err
}

// HarvestFile harvests one file. Records from a previous harvest of a changed
// file are removed before it is read again.
func (h *Harvester) HarvestFile(ctx context.Context, path string) (*Report, error) {
	rep := &Report{}
	kind := extract.KindOf(path)
	if kind == extract.KindUnsupported {
		h.logger.Info("unsupported file type", zap.String("path", path))
		rep.Unsupported++
		return rep, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}
	key := sourceid.FileKey(path)
	if h.tracker != nil {
		prev, err := h.tracker.GetIngestedFile(ctx, key)
		if err != nil {
			return nil, err
		}
		if prev != nil {
			if prev.ModTime == info.ModTime().UnixNano() && prev.Size == info.Size() {
				h.logger.Debug("skipping unchanged file", zap.String("path", path))
				rep.Skipped++
				return rep, nil
			}
			if _, err := h.sink.RemoveSource(ctx, key); err != nil {
				return nil, fmt.Errorf("remove previous records: %w", err)
			}
		}
	}

	stem := sourceid.Stem(path)
	switch kind {
	case extract.KindJSON:
		err = h.harvestJSON(ctx, path, stem, key, rep)
	case extract.KindTable:
		err = h.harvestTable(ctx, path, stem, key, rep)
	case extract.KindText:
		err = h.harvestText(ctx, path, stem, key, rep)
	}
	if err != nil {
		return nil, err
	}
	rep.Files++

	if h.tracker != nil {
		abs, _ := filepath.Abs(path)
		if err := h.tracker.PutIngestedFile(ctx, &models.IngestedFile{
			Key: key, Path: abs, ModTime: info.ModTime().UnixNano(), Size: info.Size(),
		}); err != nil {
			return nil, fmt.Errorf("record ingested file: %w", err)
		}
	}
	h.logger.Debug("file harvested",
		zap.String("path", path),
		zap.Int("added", rep.Added),
		zap.Int("duplicates", rep.Duplicates),
	)
	return rep, nil
}

// RemoveFile drops every record harvested from path.
func (h *Harvester) RemoveFile(ctx context.Context, path string) (int, error) {
	key := sourceid.FileKey(path)
	n, err := h.sink.RemoveSource(ctx, key)
	if err != nil {
		return 0, err
	}
	if h.tracker != nil {
		if err := h.tracker.DeleteIngestedFile(ctx, key); err != nil {
			return n, err
		}
	}
	h.logger.Debug("file removed", zap.String("path", path), zap.Int("records", n))
	return n, nil
}

func (h *Harvester) harvestJSON(ctx context.Context, path, stem, key string, rep *Report) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse JSON: %w", err)
	}
	switch v := doc.(type) {
	case []any:
		for i, el := range v {
			item, ok := el.(map[string]any)
			if !ok {
				continue
			}
			if err := h.addItem(ctx, item, sourceid.RecordID(stem, i), key, rep); err != nil {
				return err
			}
		}
	case map[string]any:
		return h.addItem(ctx, v, stem, key, rep)
	}
	return nil
}

func (h *Harvester) harvestTable(ctx context.Context, path, stem, key string, rep *Report) error {
	rows, err := h.extractor.Rows(path)
	if err != nil {
		return err
	}
	for i, row := range rows {
		item := make(vectordb.Item, len(row))
		for k, v := range row {
			item[k] = v
		}
		if err := h.addItem(ctx, item, sourceid.RecordID(stem, i), key, rep); err != nil {
			return err
		}
	}
	return nil
}

func (h *Harvester) harvestText(ctx context.Context, path, stem, key string, rep *Report) error {
	text, err := h.extractor.Extract(path)
	if err != nil {
		return err
	}
	for i, chunk := range h.chunker.Chunk(text) {
		res, err := h.sink.AddTextChunk(ctx, chunk, sourceid.ChunkID(stem, i), key)
		if err != nil {
			return fmt.Errorf("add chunk %d: %w", i, err)
		}
		rep.count(res)
	}
	return nil
}

func (h *Harvester) addItem(ctx context.Context, item vectordb.Item, id, key string, rep *Report) error {
	res, err := h.sink.AddItem(ctx, item, id, key)
	if err != nil {
		return fmt.Errorf("add item %s: %w", id, err)
	}
	rep.count(res)
	return nil
}
