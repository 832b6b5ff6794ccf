// Package embedding provides text embedding via ONNX and caching.
package embedding

import (
	"context"

	"go.uber.org/zap"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// Options configures New.
type Options struct {
	ModelPath  string
	VocabPath  string
	Dimensions int
	MaxTokens  int
	CacheSize  int

	// Pooling is mean (last_hidden_state) or none (pooled output).
	Pooling Pooling
}

// New returns the ONNX embedder when the model can be loaded, otherwise a MockEmbedder.
// A WordPiece vocabulary at VocabPath is used when present.
func New(opts Options, logger *zap.Logger) Embedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	var tok Tokenizer = &SimpleTokenizer{}
	if opts.VocabPath != "" {
		wp, err := LoadWordPieceTokenizer(opts.VocabPath)
		if err != nil {
			logger.Debug("vocab not loaded, using simple tokenizer", zap.String("path", opts.VocabPath), zap.Error(err))
		} else {
			tok = wp
		}
	}
	onnx, err := NewONNXEmbedder(opts, tok)
	if err != nil {
		logger.Warn("ONNX embedder unavailable, using mock embedder",
			zap.String("model_path", opts.ModelPath), zap.Error(err))
		return NewMockEmbedder(opts.Dimensions)
	}
	return onnx
}
