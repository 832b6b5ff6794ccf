package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hyperjump/storyforge/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStorage_CRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := &models.Record{
		ID:         "fables_0",
		Collection: "stories",
		Content:    "Once upon a time",
		Metadata:   map[string]string{"type": "story", "genre": "fable"},
		Embedding:  []float32{0.5, -0.25, 1},
		SourceKey:  "src1",
	}
	if err := store.CreateRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}

	got, err := store.GetRecord(ctx, "stories", "fables_0")
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "Once upon a time" || got.Metadata["genre"] != "fable" || got.SourceKey != "src1" {
		t.Errorf("got %+v", got)
	}
	if len(got.Embedding) != 3 || got.Embedding[1] != -0.25 {
		t.Errorf("embedding round trip: got %v", got.Embedding)
	}

	ok, err := store.HasRecord(ctx, "stories", "fables_0")
	if err != nil || !ok {
		t.Errorf("HasRecord = %v, %v", ok, err)
	}
	ok, _ = store.HasRecord(ctx, "prompts", "fables_0")
	if ok {
		t.Error("the same ID in another collection should not exist")
	}

	if err := store.DeleteRecord(ctx, "stories", "fables_0"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetRecord(ctx, "stories", "fables_0"); err == nil {
		t.Error("expected error after delete")
	}
}

func TestSQLiteStorage_CreateRecordDuplicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := &models.Record{ID: "a", Collection: "stories", Content: "first"}
	if err := store.CreateRecord(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := &models.Record{ID: "a", Collection: "stories", Content: "second"}
	err := store.CreateRecord(ctx, second)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	got, _ := store.GetRecord(ctx, "stories", "a")
	if got.Content != "first" {
		t.Errorf("duplicate must not overwrite: got %q", got.Content)
	}

	// Same ID, different collection, is allowed.
	if err := store.CreateRecord(ctx, &models.Record{ID: "a", Collection: "prompts", Content: "p"}); err != nil {
		t.Errorf("same ID in other collection: %v", err)
	}
}

// createAll inserts recs and returns how many were new.
func createAll(t *testing.T, store *SQLiteStorage, recs []*models.Record) int {
	t.Helper()
	added := 0
	for _, rec := range recs {
		err := store.CreateRecord(context.Background(), rec)
		switch {
		case err == nil:
			added++
		case errors.Is(err, ErrDuplicate):
		default:
			t.Fatalf("CreateRecord %s/%s: %v", rec.Collection, rec.ID, err)
		}
	}
	return added
}

func TestSQLiteStorage_ListKeepsInsertionOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	added := createAll(t, store, []*models.Record{
		{ID: "c", Collection: "stories", Content: "third"},
		{ID: "a", Collection: "stories", Content: "first"},
		{ID: "a", Collection: "stories", Content: "dup"},
		{ID: "b", Collection: "prompts", Content: "prompt"},
	})
	if added != 3 {
		t.Errorf("added = %d, want 3", added)
	}

	list, err := store.ListRecords(ctx, "stories", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "c" || list[1].ID != "a" {
		t.Errorf("ListRecords should keep insertion order, got %v", ids(list))
	}
	if list[1].Content != "first" {
		t.Errorf("batch duplicate overwrote record: %q", list[1].Content)
	}

	page, err := store.ListRecords(ctx, "stories", 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || page[0].ID != "a" {
		t.Errorf("paged list: got %v", ids(page))
	}
}

func TestSQLiteStorage_DeleteBySource(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	createAll(t, store, []*models.Record{
		{ID: "x_0", Collection: "stories", Content: "a", SourceKey: "file-x"},
		{ID: "x_1", Collection: "characters", Content: "b", SourceKey: "file-x"},
		{ID: "y_0", Collection: "stories", Content: "c", SourceKey: "file-y"},
	})
	removed, err := store.DeleteBySource(ctx, "file-x")
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 2 {
		t.Fatalf("removed %d records, want 2", len(removed))
	}
	if n, _ := store.CountRecords(ctx, "stories"); n != 1 {
		t.Errorf("stories count = %d, want 1", n)
	}
	if n, _ := store.CountRecords(ctx, "characters"); n != 0 {
		t.Errorf("characters count = %d, want 0", n)
	}
	if _, err := store.DeleteBySource(ctx, ""); err == nil {
		t.Error("empty source key should be rejected")
	}
}

func TestSQLiteStorage_IngestedFiles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	got, err := store.GetIngestedFile(ctx, "k")
	if err != nil || got != nil {
		t.Fatalf("unknown key: got %v, %v", got, err)
	}
	f := &models.IngestedFile{Key: "k", Path: "/data/a.json", ModTime: 100, Size: 42}
	if err := store.PutIngestedFile(ctx, f); err != nil {
		t.Fatal(err)
	}
	f.ModTime = 200
	if err := store.PutIngestedFile(ctx, f); err != nil {
		t.Fatal(err)
	}
	got, err = store.GetIngestedFile(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if got.ModTime != 200 || got.Size != 42 {
		t.Errorf("upsert: got %+v", got)
	}
	if err := store.DeleteIngestedFile(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if got, _ := store.GetIngestedFile(ctx, "k"); got != nil {
		t.Error("expected nil after delete")
	}
}

func TestEncodeDecodeEmbedding(t *testing.T) {
	if EncodeEmbedding(nil) != nil {
		t.Error("empty vector should encode to nil")
	}
	if _, err := DecodeEmbedding([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
	vec, err := DecodeEmbedding(EncodeEmbedding([]float32{1.5, 0, -3}))
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 3 || vec[0] != 1.5 || vec[2] != -3 {
		t.Errorf("got %v", vec)
	}
}

func ids(recs []*models.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
