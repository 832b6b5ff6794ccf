//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/hyperjump/storyforge/pkg/utils"
	ort "github.com/yalue/onnxruntime_go"
)

var ortInit struct {
	sync.Once
	err error
}

// bertIO holds the fixed-shape tensors bound to the session. Run reads the
// inputs in place and overwrites output.
type bertIO struct {
	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypeIDs  *ort.Tensor[int64]
	output        *ort.Tensor[float32]
}

func newBertIO(tok Tokenizer, maxTokens, dims int, pooling Pooling) (*bertIO, error) {
	ids, mask, types := tok.Tokenize("", maxTokens)
	shape := ort.NewShape(1, int64(maxTokens))
	io := &bertIO{}
	var err error
	if io.inputIDs, err = ort.NewTensor(shape, ids); err != nil {
		return nil, fmt.Errorf("input_ids tensor: %w", err)
	}
	if io.attentionMask, err = ort.NewTensor(shape, mask); err != nil {
		io.destroy()
		return nil, fmt.Errorf("attention_mask tensor: %w", err)
	}
	if io.tokenTypeIDs, err = ort.NewTensor(shape, types); err != nil {
		io.destroy()
		return nil, fmt.Errorf("token_type_ids tensor: %w", err)
	}
	outShape := ort.NewShape(1, int64(dims))
	if pooling != PoolingNone {
		outShape = ort.NewShape(1, int64(maxTokens), int64(dims))
	}
	if io.output, err = ort.NewTensor(outShape, make([]float32, pooling.outputLen(maxTokens, dims))); err != nil {
		io.destroy()
		return nil, fmt.Errorf("%s tensor: %w", pooling.outputName(), err)
	}
	return io, nil
}

func (b *bertIO) inputs() []ort.ArbitraryTensor {
	return []ort.ArbitraryTensor{b.inputIDs, b.attentionMask, b.tokenTypeIDs}
}

func (b *bertIO) load(ids, mask, types []int64) {
	copy(b.inputIDs.GetData(), ids)
	copy(b.attentionMask.GetData(), mask)
	copy(b.tokenTypeIDs.GetData(), types)
}

func (b *bertIO) destroy() {
	for _, t := range []*ort.Tensor[int64]{b.inputIDs, b.attentionMask, b.tokenTypeIDs} {
		if t != nil {
			_ = t.Destroy()
		}
	}
	if b.output != nil {
		_ = b.output.Destroy()
	}
	*b = bertIO{}
}

// ONNXEmbedder runs a sentence-transformer model with ONNX Runtime. It needs CGO
// and the onnxruntime shared library. Calls are serialised over one session.
type ONNXEmbedder struct {
	mu        sync.Mutex
	session   *ort.AdvancedSession
	io        *bertIO
	tokenizer Tokenizer
	pooling   Pooling
	dims      int
	maxTokens int
	cache     *EmbeddingCache
}

// NewONNXEmbedder loads the model at opts.ModelPath. A nil tokenizer falls back
// to SimpleTokenizer; an empty opts.Pooling means mean pooling.
func NewONNXEmbedder(opts Options, tokenizer Tokenizer) (*ONNXEmbedder, error) {
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, fmt.Errorf("model not found: %w", err)
	}
	if opts.Dimensions <= 0 || opts.MaxTokens <= 0 {
		return nil, fmt.Errorf("dimensions and max tokens must be positive, got %d and %d", opts.Dimensions, opts.MaxTokens)
	}
	ortInit.Do(func() { ortInit.err = ort.InitializeEnvironment() })
	if ortInit.err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", ortInit.err)
	}
	if tokenizer == nil {
		tokenizer = &SimpleTokenizer{}
	}
	pooling := opts.Pooling
	if pooling == "" {
		pooling = PoolingMean
	}

	io, err := newBertIO(tokenizer, opts.MaxTokens, opts.Dimensions, pooling)
	if err != nil {
		return nil, err
	}
	session, err := ort.NewAdvancedSession(opts.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{pooling.outputName()},
		io.inputs(),
		[]ort.ArbitraryTensor{io.output},
		nil,
	)
	if err != nil {
		io.destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return &ONNXEmbedder{
		session:   session,
		io:        io,
		tokenizer: tokenizer,
		pooling:   pooling,
		dims:      opts.Dimensions,
		maxTokens: opts.MaxTokens,
		cache:     NewEmbeddingCache(opts.CacheSize),
	}, nil
}

// Embed returns the unit-length embedding of text.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := cacheKey(text)
	if vec, ok := e.cache.Get(key); ok {
		return vec, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, fmt.Errorf("embedder closed")
	}
	ids, mask, types := e.tokenizer.Tokenize(key, e.maxTokens)
	e.io.load(ids, mask, types)
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	vec := e.pooling.pool(e.io.output.GetData(), mask, e.dims)
	utils.NormalizeL2(vec)
	e.cache.Set(key, vec)
	return vec, nil
}

// EmbedBatch embeds texts one at a time; ONNX inputs are fixed to batch size 1.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}

// Dimensions returns the embedding width.
func (e *ONNXEmbedder) Dimensions() int { return e.dims }

// Close releases the session and its tensors.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	if e.io != nil {
		e.io.destroy()
		e.io = nil
	}
	return err
}
