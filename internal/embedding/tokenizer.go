package embedding

import (
	"hash/fnv"
	"strings"
)

const (
	clsTokenID int64 = 101
	sepTokenID int64 = 102
)

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	// Tokenize returns inputs padded to exactly maxTokens.
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
	// Encode returns the unpadded IDs including the boundary tokens, truncated to maxTokens.
	Encode(text string, maxTokens int) []int64
	Name() string
}

// SimpleTokenizer is a word-split tokenizer with hash-based token IDs (for testing or fallback).
type SimpleTokenizer struct{}

// Name identifies the tokenizer in dataset metadata.
func (t *SimpleTokenizer) Name() string { return "simple-hash" }

// Encode splits text into words and maps each to a hashed ID between [CLS] and [SEP].
func (t *SimpleTokenizer) Encode(text string, maxTokens int) []int64 {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	words := SplitWords(text)
	ids := make([]int64, 0, min(len(words)+2, maxTokens))
	ids = append(ids, clsTokenID)
	for _, word := range words {
		if len(ids) >= maxTokens-1 {
			break
		}
		ids = append(ids, int64(HashString(word)%30000))
	}
	if len(ids) < maxTokens {
		ids = append(ids, sepTokenID)
	}
	return ids
}

// Tokenize splits text into words and produces padded token IDs up to maxTokens.
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	return pad(t.Encode(text, maxTokens), maxTokens, 0)
}

func pad(ids []int64, maxTokens int, padID int64) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)
	for i := range inputIDs {
		if i < len(ids) {
			inputIDs[i] = ids[i]
			attentionMask[i] = 1
		} else {
			inputIDs[i] = padID
		}
	}
	return inputIDs, attentionMask, tokenTypeIDs
}

// SplitWords splits text on whitespace and returns non-empty words.
func SplitWords(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	return words
}

// HashString returns a deterministic non-negative hash for use as a simple token ID.
func HashString(s string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() & 0x7fffffff)
}

// JoinWords joins words with a space.
func JoinWords(words []string) string {
	return strings.Join(words, " ")
}
