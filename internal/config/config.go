// Package config provides configuration loading and structs for StoryForge.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Export     ExportConfig     `yaml:"export"`
	Train      TrainConfig      `yaml:"train"`
	Generation GenerationConfig `yaml:"generation"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the record database and indices.
type StorageConfig struct {
	DatabasePath   string `yaml:"database_path"`
	BleveIndexPath string `yaml:"bleve_index_path"`
	VectorIndexDir string `yaml:"vector_index_dir"`
}

// EmbeddingConfig holds ONNX embedder settings.
type EmbeddingConfig struct {
	ModelPath  string `yaml:"model_path"`
	VocabPath  string `yaml:"vocab_path"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`

	// Pooling is "mean" for models exporting last_hidden_state, "none" for a pooled output.
	Pooling string `yaml:"pooling"`
}

// IngestConfig controls how the datasets folder is harvested.
type IngestConfig struct {
	DatasetsPath string `yaml:"datasets_path"`
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	// Watch enables fsnotify-driven harvesting while the server runs.
	Watch bool `yaml:"watch"`
	// Schedule is a cron spec with a seconds field; empty disables periodic harvests.
	Schedule string `yaml:"schedule"`
}

// ExportConfig holds export and tokenized-dataset settings.
type ExportConfig struct {
	OutputPath      string  `yaml:"output_path"`
	TokenizedDir    string  `yaml:"tokenized_dir"`
	MaxLength       int     `yaml:"max_length"`
	ValidationSplit float64 `yaml:"validation_split"`
	Seed            int64   `yaml:"seed"`
	MinStoryChars   int     `yaml:"min_story_chars"`
	MinPromptChars  int     `yaml:"min_prompt_chars"`
}

// TrainConfig holds fine-tuning hyperparameters and the external trainer command.
type TrainConfig struct {
	BaseModel                 string   `yaml:"base_model"`
	MaxLength                 int      `yaml:"max_length"`
	LearningRate              float64  `yaml:"learning_rate"`
	BatchSize                 int      `yaml:"batch_size"`
	GradientAccumulationSteps int      `yaml:"gradient_accumulation_steps"`
	Epochs                    int      `yaml:"epochs"`
	WarmupSteps               int      `yaml:"warmup_steps"`
	SaveSteps                 int      `yaml:"save_steps"`
	EvalSteps                 int      `yaml:"eval_steps"`
	LoggingSteps              int      `yaml:"logging_steps"`
	OutputDir                 string   `yaml:"output_dir"`
	MergedDir                 string   `yaml:"merged_dir"`
	GGUFPath                  string   `yaml:"gguf_path"`
	LoraR                     int      `yaml:"lora_r"`
	LoraAlpha                 int      `yaml:"lora_alpha"`
	LoraDropout               float64  `yaml:"lora_dropout"`
	TargetModules             []string `yaml:"target_modules"`
	// Device is auto, cuda or cpu.
	Device string `yaml:"device"`
	// Command is the trainer executable and its leading args; plan file paths are appended.
	Command []string `yaml:"command"`
}

// GenerationConfig holds settings for the local model server.
type GenerationConfig struct {
	OllamaURL      string        `yaml:"ollama_url"`
	Model          string        `yaml:"model"`
	Temperature    float64       `yaml:"temperature"`
	TopP           float64       `yaml:"top_p"`
	TopK           int           `yaml:"top_k"`
	RepeatPenalty  float64       `yaml:"repeat_penalty"`
	NumCtx         int           `yaml:"num_ctx"`
	MaxConcurrent  int           `yaml:"max_concurrent"`
	MaxPromptChars int           `yaml:"max_prompt_chars"`
	Timeout        time.Duration `yaml:"timeout"`
}

// RateLimitConfig bounds story generation requests per client.
type RateLimitConfig struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// Load reads and parses the config file at path, applies defaults, and expands paths.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	cfg.ExpandPaths(filepath.Dir(path))
	return &cfg, nil
}

// ExpandPaths resolves every configured path against configDir.
func (c *Config) ExpandPaths(configDir string) {
	for _, p := range []*string{
		&c.Storage.DatabasePath,
		&c.Storage.BleveIndexPath,
		&c.Storage.VectorIndexDir,
		&c.Embedding.ModelPath,
		&c.Embedding.VocabPath,
		&c.Ingest.DatasetsPath,
		&c.Export.OutputPath,
		&c.Export.TokenizedDir,
		&c.Train.OutputDir,
		&c.Train.MergedDir,
		&c.Train.GGUFPath,
	} {
		*p = expandPath(*p, configDir)
	}
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" (or bare relative
// paths without a leading "~/") are relative to configDir; "~/" paths are relative
// to the home directory. Empty paths stay empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
		return path
	}
	return filepath.Join(configDir, path)
}
