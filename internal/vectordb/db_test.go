package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hyperjump/storyforge/internal/embedding"
	"github.com/hyperjump/storyforge/internal/keyword"
	"github.com/hyperjump/storyforge/internal/models"
	"github.com/hyperjump/storyforge/internal/storage"
)

type fixture struct {
	dir   string
	store *storage.SQLiteStorage
	emb   *embedding.MockEmbedder
	db    *DB
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "records.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	emb := embedding.NewMockEmbedder(128)
	db, err := Open(context.Background(), store, emb, opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return &fixture{dir: dir, store: store, emb: emb, db: db}
}

func TestDB_AddItemDeduplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.db.AddItem(ctx, Item{"story": "The owl taught the moon to sing."}, "owls_0", "src")
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != models.AddAdded || res.Collection != Stories {
		t.Fatalf("first add: %+v", res)
	}

	res, err = f.db.AddItem(ctx, Item{"story": "A different story with the same id."}, "owls_0", "src")
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != models.AddDuplicate {
		t.Errorf("second add outcome = %s, want duplicate", res.Outcome)
	}

	rec, err := f.store.GetRecord(ctx, Stories, "owls_0")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Content != "The owl taught the moon to sing." {
		t.Errorf("duplicate overwrote content: %q", rec.Content)
	}
	if f.db.VectorSizes()[Stories] != 1 {
		t.Errorf("vector index size = %d, want 1", f.db.VectorSizes()[Stories])
	}

	// The same ID routed to another collection is a distinct record.
	res, _ = f.db.AddItem(ctx, Item{"prompt": "Write about an owl and the moon"}, "owls_0", "src")
	if res.Outcome != models.AddAdded || res.Collection != Prompts {
		t.Errorf("same id in prompts: %+v", res)
	}
}

func TestDB_AddSkipsBlankContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, item := range []Item{{"story": "   "}, {"prompt": ""}, {"text": nil}} {
		res, err := f.db.AddItem(ctx, item, "blank", "")
		if err != nil {
			t.Fatal(err)
		}
		if res.Outcome != models.AddEmpty {
			t.Errorf("item %v: outcome %s, want empty", item, res.Outcome)
		}
	}
	res, _ := f.db.AddTextChunk(ctx, "\n\t", "book_chunk_0", "")
	if res.Outcome != models.AddEmpty {
		t.Errorf("blank chunk outcome = %s", res.Outcome)
	}
	for _, s := range f.db.Stats(ctx) {
		if s.Count != 0 {
			t.Errorf("%s count = %d, want 0", s.Name, s.Count)
		}
	}
	if _, err := f.db.AddItem(ctx, Item{"story": "x"}, "", ""); err == nil {
		t.Error("empty id should be rejected")
	}
}

func TestDB_QueryNearestNeighbours(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stories := map[string]string{
		"s_0": "The dragon guarded a castle full of books",
		"s_1": "A frog hopped across the quiet pond",
		"s_2": "Stars twinkled over the sleepy village",
	}
	for id, text := range stories {
		if _, err := f.db.AddItem(ctx, Item{"story": text}, id, ""); err != nil {
			t.Fatal(err)
		}
	}

	results, err := f.db.Query(ctx, "The dragon guarded a castle full of books", Stories, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "s_0" {
		t.Errorf("top result = %s, want s_0", results[0].ID)
	}
	if results[0].Score < 0.999 || results[0].Distance > 0.001 {
		t.Errorf("exact match score=%f distance=%f", results[0].Score, results[0].Distance)
	}
	if results[0].Rank != 1 || results[1].Rank != 2 {
		t.Errorf("ranks: %d, %d", results[0].Rank, results[1].Rank)
	}
	if results[0].Metadata["type"] != "story" {
		t.Errorf("metadata = %v", results[0].Metadata)
	}

	all, _ := f.db.Query(ctx, "anything", Stories, 0)
	if len(all) != 3 {
		t.Errorf("default n should cap at collection size 3, got %d", len(all))
	}

	empty, err := f.db.Query(ctx, "dragon", Prompts, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Errorf("empty collection returned %d results", len(empty))
	}
}

func TestDB_QueryUnknownCollection(t *testing.T) {
	f := newFixture(t)
	_, err := f.db.Query(context.Background(), "dragon", "poems", 5)
	if !errors.Is(err, ErrUnknownCollection) {
		t.Fatalf("expected ErrUnknownCollection, got %v", err)
	}
	_, err = f.db.Search(context.Background(), &models.QueryRequest{Query: "x", Collection: "poems"})
	if !errors.Is(err, ErrUnknownCollection) {
		t.Fatalf("Search: expected ErrUnknownCollection, got %v", err)
	}
}

func TestDB_KeywordQuery(t *testing.T) {
	kw, err := keyword.NewBleveIndex("")
	if err != nil {
		t.Fatal(err)
	}
	defer kw.Close()
	f := newFixture(t, WithKeywordIndex(kw))
	ctx := context.Background()

	_, _ = f.db.AddItem(ctx, Item{"story": "Penelope the penguin built an igloo"}, "p_0", "")
	_, _ = f.db.AddItem(ctx, Item{"story": "A lion napped in the sun"}, "p_1", "")

	resp, err := f.db.Search(ctx, &models.QueryRequest{Query: "penguin", Mode: models.QueryKeyword})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Results[0].ID != "p_0" {
		t.Errorf("keyword results: %+v", resp.Results)
	}

	// A typo falls back to fuzzy matching.
	results, err := f.db.KeywordQuery(ctx, "pengiun", Stories, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != "p_0" {
		t.Errorf("fuzzy fallback results: %+v", results)
	}

	noKeyword := newFixture(t)
	if _, err := noKeyword.db.KeywordQuery(ctx, "x", Stories, 5); err == nil {
		t.Error("expected error without keyword index")
	}
}

func TestDB_StatsAndExport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _ = f.db.AddItem(ctx, Item{"story": "first story"}, "a_0", "")
	_, _ = f.db.AddItem(ctx, Item{"story": "second story"}, "a_1", "")
	_, _ = f.db.AddItem(ctx, Item{"name": "Pip", "species": "penguin"}, "c_0", "")
	_, _ = f.db.AddItem(ctx, Item{"prompt": "A story about kindness"}, "p_0", "")

	counts := map[string]int64{}
	for _, s := range f.db.Stats(ctx) {
		if s.Error != "" {
			t.Fatalf("stat error: %s", s.Error)
		}
		counts[s.Name] = s.Count
	}
	want := map[string]int64{Stories: 2, Characters: 1, Prompts: 1, Dialogues: 0, Metadata: 0}
	for k, v := range want {
		if counts[k] != v {
			t.Errorf("%s count = %d, want %d", k, counts[k], v)
		}
	}

	var buf bytes.Buffer
	if err := f.db.Export(ctx, &buf); err != nil {
		t.Fatal(err)
	}
	var exp models.Export
	if err := json.Unmarshal(buf.Bytes(), &exp); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if exp.Metadata.CreatedAt.IsZero() {
		t.Error("created_at missing")
	}
	if exp.Metadata.Collections[Stories] != 2 {
		t.Errorf("metadata collections: %v", exp.Metadata.Collections)
	}
	st := exp.Data[Stories]
	if len(st.Documents) != 2 || st.IDs[0] != "a_0" || st.IDs[1] != "a_1" {
		t.Errorf("stories export: %+v", st)
	}
	if len(st.Metadatas) != 2 || st.Metadatas[0]["type"] != "story" {
		t.Errorf("stories metadatas: %+v", st.Metadatas)
	}
	if len(exp.Data) != 5 {
		t.Errorf("expected all 5 collections in data, got %d", len(exp.Data))
	}

	path := filepath.Join(f.dir, "out", "processed_data.json")
	if err := f.db.ExportFile(ctx, path); err != nil {
		t.Fatal(err)
	}
}

func TestDB_RemoveSource(t *testing.T) {
	kw, _ := keyword.NewBleveIndex("")
	defer kw.Close()
	f := newFixture(t, WithKeywordIndex(kw))
	ctx := context.Background()

	_, _ = f.db.AddItem(ctx, Item{"story": "harbour lights"}, "h_0", "file-a")
	_, _ = f.db.AddItem(ctx, Item{"name": "Captain Gull"}, "h_1", "file-a")
	_, _ = f.db.AddItem(ctx, Item{"story": "meadow picnic"}, "m_0", "file-b")

	n, err := f.db.RemoveSource(ctx, "file-a")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("removed %d, want 2", n)
	}
	sizes := f.db.VectorSizes()
	if sizes[Stories] != 1 || sizes[Characters] != 0 {
		t.Errorf("vector sizes after remove: %v", sizes)
	}
	hits, _ := kw.Search(ctx, Stories, "harbour", 5, nil)
	if len(hits) != 0 {
		t.Error("keyword index should drop removed records")
	}

	// A removed ID can be added again.
	res, _ := f.db.AddItem(ctx, Item{"story": "harbour lights again"}, "h_0", "file-a")
	if res.Outcome != models.AddAdded {
		t.Errorf("re-add after remove: %s", res.Outcome)
	}
}

func TestDB_RestoresIndexOnReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	indexDir := filepath.Join(dir, "vectors")
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "records.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	emb := embedding.NewMockEmbedder(64)

	db, err := Open(ctx, store, emb, WithIndexDir(indexDir))
	if err != nil {
		t.Fatal(err)
	}
	_, _ = db.AddItem(ctx, Item{"story": "a cloud that rained lemonade"}, "c_0", "")
	_, _ = db.AddItem(ctx, Item{"story": "the sleepy bear"}, "c_1", "")
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	// Snapshot path.
	reopened, err := Open(ctx, store, emb, WithIndexDir(indexDir))
	if err != nil {
		t.Fatal(err)
	}
	if reopened.VectorSizes()[Stories] != 2 {
		t.Errorf("snapshot restore size = %d", reopened.VectorSizes()[Stories])
	}

	// Rebuild path: the snapshot is stale after a record is added without saving.
	_, _ = reopened.AddItem(ctx, Item{"story": "a third tale"}, "c_2", "")
	rebuilt, err := Open(ctx, store, emb, WithIndexDir(indexDir))
	if err != nil {
		t.Fatal(err)
	}
	if rebuilt.VectorSizes()[Stories] != 3 {
		t.Errorf("rebuilt size = %d, want 3", rebuilt.VectorSizes()[Stories])
	}
	results, _ := rebuilt.Query(ctx, "a third tale", Stories, 1)
	if len(results) != 1 || results[0].ID != "c_2" {
		t.Errorf("query after rebuild: %+v", results)
	}

	// Re-embed path: a different embedding dimension forces re-embedding.
	wider, err := Open(ctx, store, embedding.NewMockEmbedder(96))
	if err != nil {
		t.Fatal(err)
	}
	if wider.VectorSizes()[Stories] != 3 {
		t.Errorf("re-embedded size = %d", wider.VectorSizes()[Stories])
	}
}

func TestOpen_RequiresDependencies(t *testing.T) {
	if _, err := Open(context.Background(), nil, embedding.NewMockEmbedder(8)); err == nil {
		t.Error("expected error without storage")
	}
}

func TestDB_ReopenRebuildsSnapshotWithSameSizeButOtherIDs(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	indexDir := filepath.Join(dir, "vectors")
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "records.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	emb := embedding.NewMockEmbedder(64)

	db, err := Open(ctx, store, emb, WithIndexDir(indexDir))
	if err != nil {
		t.Fatal(err)
	}
	_, _ = db.AddItem(ctx, Item{"story": "a paper boat on the pond"}, "a", "s1")
	_, _ = db.AddItem(ctx, Item{"story": "the owl who could not hoot"}, "b", "s1")
	if err := db.Save(); err != nil {
		t.Fatal(err)
	}

	// Same record count as the snapshot, different IDs, never saved.
	if _, err := db.RemoveSource(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	_, _ = db.AddItem(ctx, Item{"story": "dragons guarding a golden castle"}, "c", "s2")
	_, _ = db.AddItem(ctx, Item{"story": "a lighthouse keeper and her cat"}, "d", "s2")

	reopened, err := Open(ctx, store, emb, WithIndexDir(indexDir))
	if err != nil {
		t.Fatal(err)
	}
	results, err := reopened.Query(ctx, "dragons guarding a golden castle", Stories, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].ID != "c" {
		t.Fatalf("query after reopen: %+v", results)
	}
}

func TestOpen_ReconcilesKeywordIndex(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "records.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	emb := embedding.NewMockEmbedder(32)

	first, _ := keyword.NewBleveIndex("")
	db, err := Open(ctx, store, emb, WithKeywordIndex(first))
	if err != nil {
		t.Fatal(err)
	}
	_, _ = db.AddItem(ctx, Item{"story": "Penelope the penguin built an igloo"}, "p_0", "")
	_ = first.Close()

	// A recreated index that lost p_0 and holds an entry storage never had.
	fresh, _ := keyword.NewBleveIndex("")
	defer fresh.Close()
	_ = fresh.Index(ctx, &models.Record{ID: "ghost", Collection: Stories, Content: "a penguin ghost"})

	reopened, err := Open(ctx, store, emb, WithKeywordIndex(fresh))
	if err != nil {
		t.Fatal(err)
	}
	results, err := reopened.KeywordQuery(ctx, "penguin", Stories, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != "p_0" {
		t.Errorf("keyword results after reopen: %+v", results)
	}
	ids, _ := fresh.IDs(ctx, Stories)
	if len(ids) != 1 || ids[0] != "p_0" {
		t.Errorf("indexed ids = %v, want [p_0]", ids)
	}
}

func TestDB_ConcurrentAddSameIDAddsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		added int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.db.AddItem(ctx, Item{"story": fmt.Sprintf("version %d of the tale", i)}, "race_0", "src")
			if err != nil {
				t.Error(err)
				return
			}
			if res.Outcome == models.AddAdded {
				mu.Lock()
				added++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if added != 1 {
		t.Errorf("added = %d, want 1", added)
	}
	if n, _ := f.store.CountRecords(ctx, Stories); n != 1 {
		t.Errorf("stored = %d, want 1", n)
	}
	if f.db.VectorSizes()[Stories] != 1 {
		t.Errorf("vector size = %d, want 1", f.db.VectorSizes()[Stories])
	}
}
