package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "./data/storyforge.db"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = "./data/indices/bleve"
	}
	if cfg.Storage.VectorIndexDir == "" {
		cfg.Storage.VectorIndexDir = "./data/indices/vectors"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "./data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.VocabPath == "" {
		cfg.Embedding.VocabPath = "./data/models/vocab.txt"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.Pooling == "" {
		cfg.Embedding.Pooling = "mean"
	}

	if cfg.Ingest.DatasetsPath == "" {
		cfg.Ingest.DatasetsPath = "./training-datasets"
	}
	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = 1000
	}

	if cfg.Export.OutputPath == "" {
		cfg.Export.OutputPath = "./training/processed_data.json"
	}
	if cfg.Export.TokenizedDir == "" {
		cfg.Export.TokenizedDir = "./training/tokenized_dataset"
	}
	if cfg.Export.MaxLength == 0 {
		cfg.Export.MaxLength = 1024
	}
	if cfg.Export.ValidationSplit == 0 {
		cfg.Export.ValidationSplit = 0.1
	}
	if cfg.Export.Seed == 0 {
		cfg.Export.Seed = 42
	}
	if cfg.Export.MinStoryChars == 0 {
		cfg.Export.MinStoryChars = 50
	}
	if cfg.Export.MinPromptChars == 0 {
		cfg.Export.MinPromptChars = 20
	}

	applyTrainDefaults(&cfg.Train)

	if cfg.Generation.OllamaURL == "" {
		cfg.Generation.OllamaURL = "http://localhost:11434"
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = "storyforge"
	}
	if cfg.Generation.Temperature == 0 {
		cfg.Generation.Temperature = 0.7
	}
	if cfg.Generation.TopP == 0 {
		cfg.Generation.TopP = 0.9
	}
	if cfg.Generation.TopK == 0 {
		cfg.Generation.TopK = 40
	}
	if cfg.Generation.RepeatPenalty == 0 {
		cfg.Generation.RepeatPenalty = 1.1
	}
	if cfg.Generation.NumCtx == 0 {
		cfg.Generation.NumCtx = 2048
	}
	if cfg.Generation.MaxConcurrent == 0 {
		cfg.Generation.MaxConcurrent = 5
	}
	if cfg.Generation.MaxPromptChars == 0 {
		cfg.Generation.MaxPromptChars = 4000
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = 2 * time.Minute
	}

	if cfg.RateLimit.Limit == 0 {
		cfg.RateLimit.Limit = 10
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = time.Minute
	}
}

func applyTrainDefaults(t *TrainConfig) {
	if t.BaseModel == "" {
		t.BaseModel = "microsoft/Phi-3.5-mini-instruct"
	}
	if t.MaxLength == 0 {
		t.MaxLength = 2048
	}
	if t.LearningRate == 0 {
		t.LearningRate = 2e-4
	}
	if t.BatchSize == 0 {
		t.BatchSize = 4
	}
	if t.GradientAccumulationSteps == 0 {
		t.GradientAccumulationSteps = 4
	}
	if t.Epochs == 0 {
		t.Epochs = 3
	}
	if t.WarmupSteps == 0 {
		t.WarmupSteps = 100
	}
	if t.SaveSteps == 0 {
		t.SaveSteps = 500
	}
	if t.EvalSteps == 0 {
		t.EvalSteps = 500
	}
	if t.LoggingSteps == 0 {
		t.LoggingSteps = 50
	}
	if t.OutputDir == "" {
		t.OutputDir = "./training/models/storyforge-phi3-fine-tuned"
	}
	if t.MergedDir == "" {
		t.MergedDir = "./training/models/storyforge-merged"
	}
	if t.GGUFPath == "" {
		t.GGUFPath = "./training/models/storyforge.gguf"
	}
	if t.LoraR == 0 {
		t.LoraR = 16
	}
	if t.LoraAlpha == 0 {
		t.LoraAlpha = 32
	}
	if t.LoraDropout == 0 {
		t.LoraDropout = 0.1
	}
	if t.TargetModules == nil {
		t.TargetModules = []string{"q_proj", "k_proj", "v_proj", "o_proj", "gate_proj", "up_proj", "down_proj"}
	}
	if t.Device == "" {
		t.Device = "auto"
	}
	if t.Command == nil {
		t.Command = []string{"python3", "-m", "storyforge_trainer"}
	}
}
