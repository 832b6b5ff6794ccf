package main

import (
	"context"
	"fmt"

	"github.com/hyperjump/storyforge/internal/config"
	"github.com/hyperjump/storyforge/internal/embedding"
	"github.com/hyperjump/storyforge/internal/harvest"
	"github.com/hyperjump/storyforge/internal/keyword"
	"github.com/hyperjump/storyforge/internal/storage"
	"github.com/hyperjump/storyforge/internal/vectordb"
	"go.uber.org/zap"
)

// Components holds initialized services.
type Components struct {
	Storage      storage.Storage
	Embedder     embedding.Embedder
	KeywordIndex keyword.KeywordIndex
	DB           *vectordb.DB
	Harvester    *harvest.Harvester
	logger       *zap.Logger
}

// Close snapshots the vector indices and releases everything in reverse order.
func (c *Components) Close() {
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			c.logger.Warn("vector index save failed", zap.Error(err))
		}
	}
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{logger: logger}
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Storage = store

	c.Embedder = embedding.New(embedding.Options{
		ModelPath:  cfg.Embedding.ModelPath,
		VocabPath:  cfg.Embedding.VocabPath,
		Dimensions: cfg.Embedding.Dimensions,
		MaxTokens:  cfg.Embedding.MaxTokens,
		CacheSize:  cfg.Embedding.CacheSize,
		Pooling:    embedding.Pooling(cfg.Embedding.Pooling),
	}, logger)

	kw, err := keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	c.KeywordIndex = kw

	db, err := vectordb.Open(ctx, store, c.Embedder,
		vectordb.WithLogger(logger),
		vectordb.WithKeywordIndex(kw),
		vectordb.WithIndexDir(cfg.Storage.VectorIndexDir),
	)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open vector db: %w", err)
	}
	c.DB = db
	logger.Info("vector db opened",
		zap.Int("dimensions", c.Embedder.Dimensions()),
		zap.Any("vectors", db.VectorSizes()),
	)

	c.Harvester = harvest.New(db,
		harvest.WithLogger(logger),
		harvest.WithTracker(store),
		harvest.WithChunking(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap),
	)
	return c, nil
}

// newTokenizer returns the WordPiece tokenizer when the vocabulary loads,
// otherwise the hashing fallback.
func newTokenizer(cfg *config.Config, logger *zap.Logger) embedding.Tokenizer {
	if cfg.Embedding.VocabPath != "" {
		tok, err := embedding.LoadWordPieceTokenizer(cfg.Embedding.VocabPath)
		if err == nil {
			return tok
		}
		logger.Debug("vocab not loaded, using simple tokenizer", zap.String("path", cfg.Embedding.VocabPath), zap.Error(err))
	}
	return &embedding.SimpleTokenizer{}
}
