package main

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"go.uber.org/zap"
)

func TestArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"brave fox", "-n", "3"},
			expected: []string{"-n", "3", "brave fox"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"--collection", "characters", "mouse"},
			expected: []string{"--collection", "characters", "mouse"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"brave fox"},
			expected: []string{"brave fox"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"kind", "dragon", "--output", "json"},
			expected: []string{"--output", "json", "kind", "dragon"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := argsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("argsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestJoinArgs(t *testing.T) {
	tests := []struct {
		args     []string
		expected string
	}{
		{[]string{"dragon"}, "dragon"},
		{[]string{"kind", "dragon"}, "kind dragon"},
		{[]string{"kind dragon"}, "kind dragon"},
		{[]string{}, ""},
		{[]string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		if got := joinArgs(tt.args); got != tt.expected {
			t.Errorf("joinArgs(%v) = %q, want %q", tt.args, got, tt.expected)
		}
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestLoadConfig_prefersCwdConfig(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server:\n  port: 9191\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if filepath.Base(resolved) != "config.yaml" {
		t.Errorf("resolved = %s", resolved)
	}
}

func TestLoadConfig_defaultsWhenNoFile(t *testing.T) {
	if _, err := os.Stat(defaultConfigPath); err == nil {
		t.Skip("a system config exists")
	}
	dir := t.TempDir()
	chdir(t, dir)
	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != "" {
		t.Errorf("resolved = %q, want built-in defaults", resolved)
	}
	if !filepath.IsAbs(cfg.Ingest.DatasetsPath) || filepath.Base(cfg.Ingest.DatasetsPath) != "training-datasets" {
		t.Errorf("datasets path = %s", cfg.Ingest.DatasetsPath)
	}
}

func TestLoadConfig_explicitMissing(t *testing.T) {
	if _, _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for explicit missing config")
	}
}

func TestHarvestable(t *testing.T) {
	for path, want := range map[string]bool{
		"a/tales.json":   true,
		"a/sheet.xlsx":   true,
		"a/notes.md":     true,
		"a/picture.png":  false,
		"a/archive.zip":  false,
		"a/chapter.docx": true,
	} {
		if got := harvestable(path); got != want {
			t.Errorf("harvestable(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestInitializeComponents(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	if _, err := os.Stat(defaultConfigPath); err == nil {
		t.Skip("a system config exists")
	}
	cfg, _, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Embedding.Dimensions = 16
	components, err := initializeComponents(t.Context(), cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer components.Close()
	if components.Embedder.Dimensions() != 16 {
		t.Errorf("dimensions = %d", components.Embedder.Dimensions())
	}
	if len(components.DB.Stats(t.Context())) != 5 {
		t.Error("expected five collections")
	}
}

func TestRun(t *testing.T) {
	if err := run([]string{"version"}); err != nil {
		t.Errorf("version: %v", err)
	}
	if err := run([]string{"frobnicate"}); !errors.Is(err, errUnknownCommand) {
		t.Errorf("unknown command: got %v", err)
	}
	if err := run(nil); err == nil {
		t.Error("expected error without a command")
	}
	if err := run([]string{"generate"}); err == nil {
		t.Error("expected usage error for generate without a prompt")
	}
}

type countingSaver struct{ saves int }

func (c *countingSaver) Save() error {
	c.saves++
	return nil
}

func TestHarvestOnChange_savesAfterChanges(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	if _, err := os.Stat(defaultConfigPath); err == nil {
		t.Skip("a system config exists")
	}
	cfg, _, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Embedding.Dimensions = 16
	components, err := initializeComponents(t.Context(), cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer components.Close()

	saver := &countingSaver{}
	h := &harvestOnChange{harvester: components.Harvester, db: saver, logger: zap.NewNop()}
	path := filepath.Join(dir, "tales.json")
	if err := os.WriteFile(path, []byte(`[{"story": "A snail raced the rain and won."}]`), 0600); err != nil {
		t.Fatal(err)
	}

	h.FileChanged(path)
	if saver.saves != 1 {
		t.Fatalf("saves after harvest = %d, want 1", saver.saves)
	}
	h.FileChanged(path)
	if saver.saves != 1 {
		t.Errorf("unchanged file should not save, saves = %d", saver.saves)
	}
	h.FileRemoved(path)
	if saver.saves != 2 {
		t.Errorf("saves after remove = %d, want 2", saver.saves)
	}
	h.FileRemoved(path)
	if saver.saves != 2 {
		t.Errorf("removing nothing should not save, saves = %d", saver.saves)
	}
}
