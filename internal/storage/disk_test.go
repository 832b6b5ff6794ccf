package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiskUsageBytes(t *testing.T) {
	dir := t.TempDir()
	write := func(rel string, n int) string {
		t.Helper()
		p := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, make([]byte, n), 0644); err != nil {
			t.Fatal(err)
		}
		return p
	}
	db := write("storyforge.db", 10)
	write("storyforge.db-wal", 4)
	write("storyforge.db-shm", 2)
	vectors := filepath.Join(dir, "indices", "vectors")
	write("indices/vectors/children_stories.vec", 7)
	write("indices/vectors/story_prompts.vec", 3)

	tests := []struct {
		name  string
		paths []string
		want  int64
	}{
		{"database with sidecars", []string{db}, 16},
		{"directory", []string{vectors}, 10},
		{"database and directory", []string{db, vectors}, 26},
		{"missing path skipped", []string{filepath.Join(dir, "bleve"), vectors}, 10},
		{"empty path skipped", []string{"", db}, 16},
		{"nothing", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DiskUsageBytes(tt.paths...)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %d bytes, want %d", got, tt.want)
			}
		})
	}
}
