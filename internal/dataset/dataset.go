package dataset

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/hyperjump/storyforge/internal/embedding"
	"github.com/hyperjump/storyforge/internal/models"
	"github.com/hyperjump/storyforge/internal/vectordb"
	"go.uber.org/zap"
)

// Example is one tokenized training line.
type Example struct {
	Text          string  `json:"text"`
	InputIDs      []int64 `json:"input_ids"`
	AttentionMask []int64 `json:"attention_mask"`
}

// Info describes a prepared dataset directory.
type Info struct {
	Source     string    `json:"source"`
	Train      int       `json:"train"`
	Validation int       `json:"validation"`
	MaxLength  int       `json:"max_length"`
	Tokenizer  string    `json:"tokenizer"`
	Seed       int64     `json:"seed"`
	CreatedAt  time.Time `json:"created_at"`
}

// Options controls Prepare.
type Options struct {
	MaxLength       int
	ValidationSplit float64
	Seed            int64
	Filter          Filter
	Logger          *zap.Logger
}

// DefaultOptions matches the defaults used for the base model.
func DefaultOptions() Options {
	return Options{MaxLength: 1024, ValidationSplit: 0.1, Seed: 42, Filter: DefaultFilter}
}

// Load reads an export file written by the vector DB.
func Load(path string) (*models.Export, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}
	var raw rawExport
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse export: %w", err)
	}
	exp := &models.Export{Metadata: raw.Metadata, Data: make(map[string]models.ExportCollection, len(raw.Data))}
	for name, c := range raw.Data {
		metas := make([]map[string]string, len(c.Metadatas))
		for i, m := range c.Metadatas {
			metas[i] = make(map[string]string, len(m))
			for k, v := range m {
				metas[i][k] = vectordb.Stringify(v)
			}
		}
		exp.Data[name] = models.ExportCollection{Documents: c.Documents, Metadatas: metas, IDs: c.IDs}
	}
	return exp, nil
}

// rawExport accepts exports whose metadata values are numbers or booleans,
// as written by external tools.
type rawExport struct {
	Metadata models.ExportMetadata `json:"metadata"`
	Data     map[string]struct {
		Documents []string         `json:"documents"`
		Metadatas []map[string]any `json:"metadatas"`
		IDs       []string         `json:"ids"`
	} `json:"data"`
}

// Split shuffles texts with seed and holds out ceil(n*fraction) of them for
// validation. Fewer than two texts are all kept for training.
func Split(texts []string, fraction float64, seed int64) (train, val []string) {
	n := len(texts)
	if n < 2 || fraction <= 0 {
		return append([]string(nil), texts...), nil
	}
	nVal := int(math.Ceil(float64(n) * fraction))
	nVal = min(max(nVal, 1), n-1)

	shuffled := append([]string(nil), texts...)
	r := rand.New(rand.NewSource(seed))
	r.Shuffle(n, func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return shuffled[nVal:], shuffled[:nVal]
}

// Tokenize encodes each text, truncated to maxLength tokens and unpadded.
func Tokenize(texts []string, tok embedding.Tokenizer, maxLength int) []Example {
	out := make([]Example, len(texts))
	for i, text := range texts {
		ids := tok.Encode(text, maxLength)
		mask := make([]int64, len(ids))
		for j := range mask {
			mask[j] = 1
		}
		out[i] = Example{Text: text, InputIDs: ids, AttentionMask: mask}
	}
	return out
}

// Prepare loads exportPath, builds, splits and tokenizes the training texts, and
// writes train.jsonl, val.jsonl and dataset_info.json into outDir.
func Prepare(ctx context.Context, exportPath, outDir string, tok embedding.Tokenizer, opts Options) (*Info, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxLength <= 0 {
		opts.MaxLength = 1024
	}

	exp, err := Load(exportPath)
	if err != nil {
		return nil, err
	}
	texts := BuildTexts(exp, opts.Filter)
	if len(texts) == 0 {
		return nil, fmt.Errorf("no training texts in %s", exportPath)
	}
	train, val := Split(texts, opts.ValidationSplit, opts.Seed)
	logger.Info("dataset split", zap.Int("train", len(train)), zap.Int("validation", len(val)))

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if err := writeJSONL(ctx, filepath.Join(outDir, "train.jsonl"), Tokenize(train, tok, opts.MaxLength)); err != nil {
		return nil, err
	}
	if err := writeJSONL(ctx, filepath.Join(outDir, "val.jsonl"), Tokenize(val, tok, opts.MaxLength)); err != nil {
		return nil, err
	}

	info := &Info{
		Source:     exportPath,
		Train:      len(train),
		Validation: len(val),
		MaxLength:  opts.MaxLength,
		Tokenizer:  tok.Name(),
		Seed:       opts.Seed,
		CreatedAt:  time.Now().UTC(),
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(outDir, "dataset_info.json"), data, 0644); err != nil {
		return nil, fmt.Errorf("write dataset info: %w", err)
	}
	logger.Info("tokenized dataset written", zap.String("dir", outDir), zap.String("tokenizer", info.Tokenizer))
	return info, nil
}

func writeJSONL(ctx context.Context, path string, examples []Example) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, ex := range examples {
		if err := ctx.Err(); err != nil {
			f.Close()
			return err
		}
		if err := enc.Encode(ex); err != nil {
			f.Close()
			return fmt.Errorf("write %s: %w", filepath.Base(path), err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
