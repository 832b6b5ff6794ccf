package dataset

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/hyperjump/storyforge/internal/embedding"
	"github.com/hyperjump/storyforge/internal/models"
)

const longStory = "Once the river otter decided to build a boat out of leaves and moonlight."

func sampleExport() *models.Export {
	return &models.Export{
		Data: map[string]models.ExportCollection{
			"stories": {
				Documents: []string{longStory, "Too short.", "  " + longStory + " Again.  "},
				Metadatas: []map[string]string{{"age_group": "5-8", "genre": "fantasy"}, {}, {}},
				IDs:       []string{"a", "b", "c"},
			},
			"prompts": {
				Documents: []string{"Write about a lonely lighthouse", "short"},
				Metadatas: []map[string]string{{}, {}},
				IDs:       []string{"p0", "p1"},
			},
			"characters": {Documents: []string{`{"name":"Luna"}`}, IDs: []string{"luna"}},
		},
	}
}

func TestFormatStory(t *testing.T) {
	got := FormatStory("  A tale.  ", map[string]string{"age_group": "5-8", "genre": "fantasy"})
	for _, want := range []string{
		"<|system|>\n",
		"stories for children aged 5-8.",
		"<|user|>\nCreate a fantasy story suitable for children aged 5-8.\n<|end|>",
		"<|assistant|>\nA tale.\n<|end|>",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("FormatStory missing %q in:\n%s", want, got)
		}
	}
}

func TestFormatStory_defaults(t *testing.T) {
	got := FormatStory("x", nil)
	if !strings.Contains(got, "Create a adventure story suitable for children aged 7-10.") {
		t.Errorf("defaults not applied:\n%s", got)
	}
}

func TestFormatPrompt(t *testing.T) {
	got := FormatPrompt(" A dragon who bakes ")
	if !strings.HasSuffix(got, "<|assistant|>\n"+promptCompletion+"\n<|end|>") {
		t.Errorf("FormatPrompt suffix wrong:\n%s", got)
	}
	if !strings.Contains(got, "<|user|>\nA dragon who bakes\n<|end|>") {
		t.Errorf("FormatPrompt user turn wrong:\n%s", got)
	}
}

func TestBuildTexts(t *testing.T) {
	texts := BuildTexts(sampleExport(), DefaultFilter)
	if len(texts) != 3 {
		t.Fatalf("got %d texts, want 3", len(texts))
	}
	if !strings.Contains(texts[0], "aged 5-8") {
		t.Errorf("first story should keep its metadata: %s", texts[0])
	}
	if !strings.Contains(texts[2], "lonely lighthouse") {
		t.Errorf("prompts come after stories: %s", texts[2])
	}
}

func TestSplit(t *testing.T) {
	texts := make([]string, 25)
	for i := range texts {
		texts[i] = string(rune('a' + i))
	}
	train, val := Split(texts, 0.1, 42)
	if len(val) != 3 || len(train) != 22 {
		t.Fatalf("split sizes train=%d val=%d, want 22/3", len(train), len(val))
	}
	train2, val2 := Split(texts, 0.1, 42)
	if strings.Join(val, "") != strings.Join(val2, "") || strings.Join(train, "") != strings.Join(train2, "") {
		t.Error("same seed should give same split")
	}
	all := append(append([]string(nil), train...), val...)
	sort.Strings(all)
	if strings.Join(all, "") != strings.Join(texts, "") {
		t.Error("split lost or duplicated texts")
	}
}

func TestSplit_small(t *testing.T) {
	tests := []struct {
		n, wantVal int
	}{
		{0, 0},
		{1, 0},
		{2, 1},
		{10, 1},
		{11, 2},
	}
	for _, tt := range tests {
		texts := make([]string, tt.n)
		_, val := Split(texts, 0.1, 42)
		if len(val) != tt.wantVal {
			t.Errorf("Split(n=%d) val=%d, want %d", tt.n, len(val), tt.wantVal)
		}
	}
}

func TestTokenize(t *testing.T) {
	tok := &embedding.SimpleTokenizer{}
	examples := Tokenize([]string{"one two three four five"}, tok, 4)
	if len(examples) != 1 {
		t.Fatalf("got %d examples", len(examples))
	}
	ex := examples[0]
	if len(ex.InputIDs) != 4 || len(ex.AttentionMask) != 4 {
		t.Errorf("truncation: ids=%v mask=%v", ex.InputIDs, ex.AttentionMask)
	}
	for _, m := range ex.AttentionMask {
		if m != 1 {
			t.Errorf("attention mask should be all ones: %v", ex.AttentionMask)
		}
	}
}

func TestPrepare(t *testing.T) {
	dir := t.TempDir()
	exportPath := filepath.Join(dir, "processed_data.json")
	data, err := json.Marshal(sampleExport())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(exportPath, data, 0600); err != nil {
		t.Fatal(err)
	}
	outDir := filepath.Join(dir, "tokenized")
	info, err := Prepare(context.Background(), exportPath, outDir, &embedding.SimpleTokenizer{}, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if info.Train != 2 || info.Validation != 1 || info.Tokenizer != "simple-hash" {
		t.Errorf("info = %+v", info)
	}
	if n := countLines(t, filepath.Join(outDir, "train.jsonl")); n != 2 {
		t.Errorf("train.jsonl lines = %d", n)
	}
	if n := countLines(t, filepath.Join(outDir, "val.jsonl")); n != 1 {
		t.Errorf("val.jsonl lines = %d", n)
	}
	if _, err := os.Stat(filepath.Join(outDir, "dataset_info.json")); err != nil {
		t.Errorf("dataset_info.json: %v", err)
	}
}

func TestPrepare_noTexts(t *testing.T) {
	dir := t.TempDir()
	exportPath := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(exportPath, []byte(`{"metadata":{},"data":{}}`), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Prepare(context.Background(), exportPath, dir, &embedding.SimpleTokenizer{}, DefaultOptions()); err == nil {
		t.Error("expected error for export without training texts")
	}
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		var ex Example
		if err := json.Unmarshal(sc.Bytes(), &ex); err != nil {
			t.Fatalf("bad line in %s: %v", path, err)
		}
		n++
	}
	return n
}

func TestLoad_nonStringMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.json")
	raw := `{"metadata":{"collections":{"stories":1}},"data":{"stories":{` +
		`"documents":["A fox found a lantern."],` +
		`"metadatas":[{"title":"Lantern","length":57,"score":0.5,"reviewed":true,"note":null}],` +
		`"ids":["s_0"]}}}`
	if err := os.WriteFile(path, []byte(raw), 0600); err != nil {
		t.Fatal(err)
	}
	exp, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	got := exp.Data["stories"].Metadatas[0]
	want := map[string]string{"title": "Lantern", "length": "57", "score": "0.5", "reviewed": "true", "note": ""}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("metadata[%q] = %q, want %q", k, got[k], v)
		}
	}
	if exp.Metadata.Collections["stories"] != 1 || exp.Data["stories"].IDs[0] != "s_0" {
		t.Errorf("export = %+v", exp)
	}
}
