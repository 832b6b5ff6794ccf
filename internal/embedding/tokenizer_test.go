package embedding

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSimpleTokenizer_Tokenize(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, types := tok.Tokenize("hello world", 10)
	if len(ids) != 10 || len(attn) != 10 || len(types) != 10 {
		t.Fatalf("lengths: ids=%d attn=%d types=%d", len(ids), len(attn), len(types))
	}
	if ids[0] != 101 {
		t.Errorf("expected CLS 101, got %d", ids[0])
	}
	if ids[3] != 102 {
		t.Errorf("expected SEP 102 after two words, got %d", ids[3])
	}
	if attn[3] != 1 || attn[4] != 0 {
		t.Errorf("attention mask should cover CLS, words and SEP only: %v", attn)
	}
}

func TestSimpleTokenizer_EncodeTruncates(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids := tok.Encode(strings.Repeat("word ", 50), 8)
	if len(ids) != 8 {
		t.Fatalf("len = %d, want 8", len(ids))
	}
	if ids[7] != 102 {
		t.Errorf("last token should be SEP, got %d", ids[7])
	}
	if got := tok.Encode("", 8); len(got) != 2 {
		t.Errorf("empty text should encode to CLS SEP, got %v", got)
	}
}

func TestSplitWords(t *testing.T) {
	words := SplitWords("  a  b\tc\n ")
	if len(words) != 3 {
		t.Errorf("expected 3 words, got %v", words)
	}
	if SplitWords("") != nil {
		t.Error("empty string should return nil")
	}
}

func TestHashString(t *testing.T) {
	h := HashString("abc")
	if h == 0 {
		t.Error("hash should be non-zero")
	}
	if HashString("abc") != HashString("abc") {
		t.Error("hash should be deterministic")
	}
	if HashString(strings.Repeat("z", 1000)) < 0 {
		t.Error("hash must be non-negative")
	}
}

func testVocab() map[string]int64 {
	toks := []string{"[PAD]", "[UNK]", "[CLS]", "[SEP]", "the", "dragon", "fly", "##ing", "!", "."}
	v := make(map[string]int64, len(toks))
	for i, tok := range toks {
		v[tok] = int64(i)
	}
	return v
}

func TestWordPieceTokenizer_Encode(t *testing.T) {
	tok, err := NewWordPieceTokenizer(testVocab())
	if err != nil {
		t.Fatal(err)
	}
	got := tok.Encode("The dragon Flying! zebra", 32)
	want := []int64{2, 4, 5, 6, 7, 8, 1, 3}
	if len(got) != len(want) {
		t.Fatalf("Encode = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Encode = %v, want %v", got, want)
		}
	}

	ids, attn, _ := tok.Tokenize("the dragon", 6)
	if ids[4] != 0 || attn[4] != 0 {
		t.Errorf("padding should use [PAD] with zero attention: ids=%v attn=%v", ids, attn)
	}
}

func TestWordPieceTokenizer_MissingSpecialToken(t *testing.T) {
	if _, err := NewWordPieceTokenizer(map[string]int64{"[CLS]": 0}); err == nil {
		t.Error("expected error for vocab without [SEP]/[PAD]/[UNK]")
	}
}

func TestLoadWordPieceTokenizer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.txt")
	content := "[PAD]\n[UNK]\n[CLS]\n[SEP]\nonce\nupon\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	tok, err := LoadWordPieceTokenizer(path)
	if err != nil {
		t.Fatal(err)
	}
	got := tok.Encode("Once upon", 10)
	if len(got) != 4 || got[1] != 4 || got[2] != 5 {
		t.Errorf("Encode = %v", got)
	}
	if _, err := LoadWordPieceTokenizer(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("expected error for missing vocab")
	}
}
