package harvest

import (
	"strings"
	"testing"
)

func TestChunker_Chunk(t *testing.T) {
	tests := []struct {
		name          string
		size, overlap int
		text          string
		want          []string
	}{
		{"exact", 3, 0, "one two three four five six", []string{"one two three", "four five six"}},
		{"remainder", 3, 0, "a b c d", []string{"a b c", "d"}},
		{"overlap", 3, 1, "a b c d e", []string{"a b c", "c d e"}},
		{"whitespace collapsed", 10, 0, "  a\n\tb   c ", []string{"a b c"}},
		{"overlap too large", 2, 5, "a b c", []string{"a b", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewChunker(tt.size, tt.overlap).Chunk(tt.text)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("Chunk() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestChunker_ChunkEmpty(t *testing.T) {
	if chunks := NewChunker(5, 1).Chunk("   \n\t  "); chunks != nil {
		t.Errorf("empty text should return nil, got %v", chunks)
	}
}

func TestChunker_defaultSize(t *testing.T) {
	text := strings.Repeat("word ", 2500)
	chunks := NewChunker(0, 0).Chunk(text)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if n := len(strings.Fields(chunks[2])); n != 500 {
		t.Errorf("last chunk has %d words, want 500", n)
	}
}
