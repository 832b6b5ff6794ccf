package vectordb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/storyforge/internal/embedding"
	"github.com/hyperjump/storyforge/internal/keyword"
	"github.com/hyperjump/storyforge/internal/models"
	"github.com/hyperjump/storyforge/internal/storage"
	"github.com/hyperjump/storyforge/internal/vector"
	"github.com/hyperjump/storyforge/pkg/utils"
)

// DB is the semantic store. Records live in storage; each collection has an
// in-memory vector index kept the same size as its record count.
type DB struct {
	store    storage.Storage
	embedder embedding.Embedder
	keyword  keyword.KeywordIndex
	indices  map[string]vector.VectorIndex
	indexDir string
	logger   *zap.Logger
	// mu serialises writes so the duplicate check and insert are atomic.
	mu sync.Mutex
}

// Option configures a DB.
type Option func(*DB)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(db *DB) {
		if logger != nil {
			db.logger = logger
		}
	}
}

// WithKeywordIndex mirrors every record into a full-text index.
func WithKeywordIndex(idx keyword.KeywordIndex) Option {
	return func(db *DB) { db.keyword = idx }
}

// WithIndexDir enables vector index snapshots under dir.
func WithIndexDir(dir string) Option {
	return func(db *DB) { db.indexDir = dir }
}

// Open gets or creates the five collections and restores their vector indices.
// A snapshot is used only when it holds exactly the stored record IDs; otherwise
// the index is rebuilt from stored embeddings, re-embedding records whose
// embedding is missing or has the wrong dimension. The keyword index, when set,
// is reconciled against storage as well.
func Open(ctx context.Context, store storage.Storage, embedder embedding.Embedder, opts ...Option) (*DB, error) {
	if store == nil || embedder == nil {
		return nil, errors.New("vectordb: storage and embedder are required")
	}
	db := &DB{
		store:    store,
		embedder: embedder,
		indices:  make(map[string]vector.VectorIndex, len(Collections)),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(db)
	}
	total := 0
	for _, c := range Collections {
		idx, err := vector.NewMemoryIndex(embedder.Dimensions())
		if err != nil {
			return nil, fmt.Errorf("create index for %s: %w", c.Name, err)
		}
		db.indices[c.Name] = idx
		recs, err := db.restore(ctx, c, idx)
		if err != nil {
			return nil, err
		}
		if db.keyword != nil {
			if err := db.reconcileKeyword(ctx, c, recs); err != nil {
				return nil, err
			}
		}
		total += len(recs)
	}
	if db.keyword != nil {
		if n, err := db.keyword.DocCount(); err == nil && n != uint64(total) {
			db.logger.Warn("keyword index size differs from storage", zap.Uint64("indexed", n), zap.Int("stored", total))
		}
	}
	return db, nil
}

func (db *DB) snapshotPath(c Collection) string {
	if db.indexDir == "" {
		return ""
	}
	return filepath.Join(db.indexDir, c.PhysicalName+".vec")
}

// restore fills idx for c and returns the stored records it was checked against.
func (db *DB) restore(ctx context.Context, c Collection, idx vector.VectorIndex) ([]*models.Record, error) {
	recs, err := db.store.ListRecords(ctx, c.Name, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", c.Name, err)
	}
	if path := db.snapshotPath(c); path != "" {
		if err := idx.Load(path); err != nil {
			db.logger.Warn("vector snapshot ignored", zap.String("collection", c.Name), zap.Error(err))
		} else if holdsExactly(idx, recs) {
			db.logger.Debug("vector snapshot loaded", zap.String("collection", c.Name), zap.Int("size", idx.Size()))
			return recs, nil
		} else if idx.Size() > 0 {
			db.logger.Info("vector snapshot stale", zap.String("collection", c.Name),
				zap.Int("snapshot", idx.Size()), zap.Int("stored", len(recs)))
		}
	}
	idx.Reset()
	ids := make([]string, 0, len(recs))
	vecs := make([][]float32, 0, len(recs))
	reembedded := 0
	for _, rec := range recs {
		emb := rec.Embedding
		if len(emb) != db.embedder.Dimensions() {
			emb, err = db.embedder.Embed(ctx, rec.Content)
			if err != nil {
				return nil, fmt.Errorf("re-embed %s/%s: %w", c.Name, rec.ID, err)
			}
			utils.NormalizeL2(emb)
			reembedded++
		}
		ids = append(ids, rec.ID)
		vecs = append(vecs, emb)
	}
	if err := idx.Add(ctx, ids, vecs); err != nil {
		return nil, fmt.Errorf("rebuild %s index: %w", c.Name, err)
	}
	if len(recs) > 0 {
		db.logger.Info("vector index rebuilt",
			zap.String("collection", c.Name),
			zap.Int("size", len(recs)),
			zap.Int("reembedded", reembedded))
	}
	return recs, nil
}

// holdsExactly reports whether idx contains the IDs of recs and nothing else.
func holdsExactly(idx vector.VectorIndex, recs []*models.Record) bool {
	if idx.Size() != len(recs) {
		return false
	}
	for _, rec := range recs {
		if !idx.Contains(rec.ID) {
			return false
		}
	}
	return true
}

// reconcileKeyword indexes stored records missing from the keyword index and
// drops indexed IDs that storage no longer has.
func (db *DB) reconcileKeyword(ctx context.Context, c Collection, recs []*models.Record) error {
	indexed, err := db.keyword.IDs(ctx, c.Name)
	if err != nil {
		return fmt.Errorf("list keyword ids for %s: %w", c.Name, err)
	}
	have := make(map[string]bool, len(indexed))
	for _, id := range indexed {
		have[id] = true
	}
	stored := make(map[string]bool, len(recs))
	added := 0
	for _, rec := range recs {
		stored[rec.ID] = true
		if have[rec.ID] {
			continue
		}
		if err := db.keyword.Index(ctx, rec); err != nil {
			return fmt.Errorf("keyword index %s/%s: %w", c.Name, rec.ID, err)
		}
		added++
	}
	dropped := 0
	for _, id := range indexed {
		if stored[id] {
			continue
		}
		if err := db.keyword.Delete(ctx, c.Name, id); err != nil {
			return fmt.Errorf("keyword delete %s/%s: %w", c.Name, id, err)
		}
		dropped++
	}
	if added > 0 || dropped > 0 {
		db.logger.Info("keyword index reconciled",
			zap.String("collection", c.Name), zap.Int("indexed", added), zap.Int("dropped", dropped))
	}
	return nil
}

// AddItem routes item and stores it under id unless the ID already exists in the
// target collection or the routed content is blank.
func (db *DB) AddItem(ctx context.Context, item Item, id, sourceKey string) (*models.AddResult, error) {
	return db.add(ctx, Route(item, id), id, sourceKey)
}

// AddTextChunk stores a plain-text chunk in stories.
func (db *DB) AddTextChunk(ctx context.Context, chunk, id, sourceKey string) (*models.AddResult, error) {
	return db.add(ctx, TextChunk(chunk, id), id, sourceKey)
}

func (db *DB) add(ctx context.Context, r Routed, id, sourceKey string) (*models.AddResult, error) {
	res := &models.AddResult{ID: id, Collection: r.Collection}
	if id == "" {
		return nil, errors.New("record id cannot be empty")
	}
	if strings.TrimSpace(r.Content) == "" {
		res.Outcome = models.AddEmpty
		return res, nil
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	exists, err := db.store.HasRecord(ctx, r.Collection, id)
	if err != nil {
		return nil, fmt.Errorf("check %s/%s: %w", r.Collection, id, err)
	}
	if exists {
		res.Outcome = models.AddDuplicate
		return res, nil
	}

	emb, err := db.embedder.Embed(ctx, r.Content)
	if err != nil {
		return nil, fmt.Errorf("embed %s/%s: %w", r.Collection, id, err)
	}
	utils.NormalizeL2(emb)

	rec := &models.Record{
		ID:         id,
		Collection: r.Collection,
		Content:    r.Content,
		Metadata:   r.Metadata,
		Embedding:  emb,
		SourceKey:  sourceKey,
	}
	if err := db.store.CreateRecord(ctx, rec); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			res.Outcome = models.AddDuplicate
			return res, nil
		}
		return nil, fmt.Errorf("store %s/%s: %w", r.Collection, id, err)
	}
	if err := db.indices[r.Collection].Add(ctx, []string{id}, [][]float32{emb}); err != nil {
		_ = db.store.DeleteRecord(ctx, r.Collection, id)
		return nil, fmt.Errorf("index %s/%s: %w", r.Collection, id, err)
	}
	if db.keyword != nil {
		if err := db.keyword.Index(ctx, rec); err != nil {
			db.logger.Warn("keyword index failed", zap.String("collection", r.Collection), zap.String("id", id), zap.Error(err))
		}
	}
	db.logger.Debug("added item", zap.String("collection", r.Collection), zap.String("id", id))
	res.Outcome = models.AddAdded
	return res, nil
}

// Query returns the n records of collection nearest to text by cosine similarity.
func (db *DB) Query(ctx context.Context, text, collection string, n int) ([]*models.QueryResult, error) {
	c, ok := Lookup(collection)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
	if n <= 0 {
		n = models.DefaultResults
	}
	q, err := db.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	utils.NormalizeL2(q)
	hits, err := db.indices[c.Name].Search(ctx, q, n)
	if err != nil {
		return nil, err
	}
	out := make([]*models.QueryResult, 0, len(hits))
	for _, h := range hits {
		rec, err := db.store.GetRecord(ctx, c.Name, h.ID)
		if err != nil {
			db.logger.Warn("indexed record missing from storage", zap.String("collection", c.Name), zap.String("id", h.ID))
			continue
		}
		out = append(out, &models.QueryResult{
			ID:       rec.ID,
			Content:  rec.Content,
			Metadata: rec.Metadata,
			Score:    h.Score,
			Distance: vector.CosineDistance(h.Score),
			Rank:     len(out) + 1,
		})
	}
	return out, nil
}

// KeywordQuery runs a full-text query within collection. Fuzzy matching is retried
// automatically when the exact query finds nothing.
func (db *DB) KeywordQuery(ctx context.Context, text, collection string, n int) ([]*models.QueryResult, error) {
	c, ok := Lookup(collection)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
	if db.keyword == nil {
		return nil, errors.New("keyword index not configured")
	}
	if n <= 0 {
		n = models.DefaultResults
	}
	hits, err := db.keyword.Search(ctx, c.Name, text, n, nil)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		hits, err = db.keyword.Search(ctx, c.Name, text, n, &keyword.SearchOptions{FuzzyEnabled: true})
		if err != nil {
			return nil, err
		}
	}
	out := make([]*models.QueryResult, 0, len(hits))
	for _, h := range hits {
		rec, err := db.store.GetRecord(ctx, c.Name, h.ID)
		if err != nil {
			continue
		}
		out = append(out, &models.QueryResult{
			ID:       rec.ID,
			Content:  rec.Content,
			Metadata: rec.Metadata,
			Score:    h.Score,
			Rank:     len(out) + 1,
		})
	}
	return out, nil
}

// Search validates req and dispatches to Query or KeywordQuery.
func (db *DB) Search(ctx context.Context, req *models.QueryRequest) (*models.QueryResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	var (
		results []*models.QueryResult
		err     error
	)
	if req.Mode == models.QueryKeyword {
		results, err = db.KeywordQuery(ctx, req.Query, req.Collection, req.NResults)
	} else {
		results, err = db.Query(ctx, req.Query, req.Collection, req.NResults)
	}
	if err != nil {
		return nil, err
	}
	return &models.QueryResponse{
		Query:      req.Query,
		Collection: req.Collection,
		Mode:       req.Mode,
		Results:    results,
		Total:      len(results),
		QueryTime:  time.Since(start).Milliseconds(),
	}, nil
}

// Stats returns the record count of every collection. A failing collection
// reports its error instead of a count.
func (db *DB) Stats(ctx context.Context) []models.CollectionStat {
	stats := make([]models.CollectionStat, 0, len(Collections))
	for _, c := range Collections {
		s := models.CollectionStat{Name: c.Name, PhysicalName: c.PhysicalName}
		n, err := db.store.CountRecords(ctx, c.Name)
		if err != nil {
			s.Error = err.Error()
		} else {
			s.Count = n
		}
		stats = append(stats, s)
	}
	return stats
}

// VectorSizes returns the vector index size per collection.
func (db *DB) VectorSizes() map[string]int {
	out := make(map[string]int, len(db.indices))
	for name, idx := range db.indices {
		out[name] = idx.Size()
	}
	return out
}

// RemoveSource deletes every record harvested from sourceKey and returns how many were removed.
func (db *DB) RemoveSource(ctx context.Context, sourceKey string) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	removed, err := db.store.DeleteBySource(ctx, sourceKey)
	if err != nil {
		return 0, err
	}
	byCollection := make(map[string][]string)
	for _, rec := range removed {
		byCollection[rec.Collection] = append(byCollection[rec.Collection], rec.ID)
		if db.keyword != nil {
			if err := db.keyword.Delete(ctx, rec.Collection, rec.ID); err != nil {
				db.logger.Warn("keyword delete failed", zap.String("id", rec.ID), zap.Error(err))
			}
		}
	}
	for name, ids := range byCollection {
		if idx, ok := db.indices[name]; ok {
			_ = idx.Remove(ctx, ids)
		}
	}
	return len(removed), nil
}

// Save snapshots every vector index when an index dir is configured.
func (db *DB) Save() error {
	if db.indexDir == "" {
		return nil
	}
	var errs []error
	for _, c := range Collections {
		if err := db.indices[c.Name].Save(db.snapshotPath(c)); err != nil {
			errs = append(errs, fmt.Errorf("save %s: %w", c.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Close snapshots the vector indices. Storage, embedder and keyword index are
// owned by the caller.
func (db *DB) Close() error {
	return db.Save()
}
