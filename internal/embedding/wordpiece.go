package embedding

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
)

const maxWordPieceChars = 100

// WordPieceTokenizer implements BERT uncased WordPiece over a vocab.txt file
// (one token per line, line number is the ID).
type WordPieceTokenizer struct {
	vocab map[string]int64
	cls   int64
	sep   int64
	pad   int64
	unk   int64
}

// LoadWordPieceTokenizer reads a vocab.txt file. The vocabulary must contain
// [CLS], [SEP], [PAD] and [UNK].
func LoadWordPieceTokenizer(path string) (*WordPieceTokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vocab: %w", err)
	}
	defer f.Close()

	vocab := make(map[string]int64)
	scanner := bufio.NewScanner(f)
	var id int64
	for scanner.Scan() {
		tok := strings.TrimRight(scanner.Text(), "\r")
		if _, exists := vocab[tok]; !exists {
			vocab[tok] = id
		}
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vocab: %w", err)
	}
	return NewWordPieceTokenizer(vocab)
}

// NewWordPieceTokenizer builds a tokenizer from an in-memory vocabulary.
func NewWordPieceTokenizer(vocab map[string]int64) (*WordPieceTokenizer, error) {
	t := &WordPieceTokenizer{vocab: vocab}
	for tok, dst := range map[string]*int64{"[CLS]": &t.cls, "[SEP]": &t.sep, "[PAD]": &t.pad, "[UNK]": &t.unk} {
		id, ok := vocab[tok]
		if !ok {
			return nil, fmt.Errorf("vocab is missing %s", tok)
		}
		*dst = id
	}
	return t, nil
}

// Name identifies the tokenizer in dataset metadata.
func (t *WordPieceTokenizer) Name() string { return "wordpiece" }

// Encode returns [CLS] pieces... [SEP], truncated to maxTokens.
func (t *WordPieceTokenizer) Encode(text string, maxTokens int) []int64 {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	ids := []int64{t.cls}
words:
	for _, word := range basicTokenize(text) {
		for _, id := range t.wordPiece(word) {
			if len(ids) >= maxTokens-1 {
				break words
			}
			ids = append(ids, id)
		}
	}
	if len(ids) < maxTokens {
		ids = append(ids, t.sep)
	}
	return ids
}

// Tokenize returns padded model inputs.
func (t *WordPieceTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	return pad(t.Encode(text, maxTokens), maxTokens, t.pad)
}

// wordPiece splits one word by greedy longest match; unknown words map to [UNK].
func (t *WordPieceTokenizer) wordPiece(word string) []int64 {
	runes := []rune(word)
	if len(runes) > maxWordPieceChars {
		return []int64{t.unk}
	}
	var out []int64
	start := 0
	for start < len(runes) {
		end := len(runes)
		var id int64 = -1
		for end > start {
			piece := string(runes[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if v, ok := t.vocab[piece]; ok {
				id = v
				break
			}
			end--
		}
		if id < 0 {
			return []int64{t.unk}
		}
		out = append(out, id)
		start = end
	}
	return out
}

// basicTokenize lowercases and splits on whitespace and punctuation; each
// punctuation rune becomes its own token.
func basicTokenize(text string) []string {
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.Is(unicode.Mn, r):
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			words = append(words, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}
