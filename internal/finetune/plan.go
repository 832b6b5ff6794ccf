// Package finetune drives LoRA fine-tuning through an external trainer process
// and prepares the artifacts needed to serve the result with Ollama.
package finetune

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/hyperjump/storyforge/internal/config"
	"go.uber.org/zap"
)

// Device names.
const (
	DeviceAuto = "auto"
	DeviceCUDA = "cuda"
	DeviceCPU  = "cpu"
)

const (
	adapterConfigFile = "adapter_config.json"
	trainingArgsFile  = "training_args.json"
	metricsFile       = "training_metrics.json"
)

// AdapterConfig is the LoRA adapter description handed to the trainer.
type AdapterConfig struct {
	BaseModel     string   `json:"base_model_name_or_path"`
	PeftType      string   `json:"peft_type"`
	TaskType      string   `json:"task_type"`
	R             int      `json:"r"`
	Alpha         int      `json:"lora_alpha"`
	Dropout       float64  `json:"lora_dropout"`
	TargetModules []string `json:"target_modules"`
	Bias          string   `json:"bias"`
}

// TrainingArgs are the trainer hyperparameters.
type TrainingArgs struct {
	OutputDir                 string  `json:"output_dir"`
	DatasetDir                string  `json:"dataset_dir"`
	Device                    string  `json:"device"`
	MaxLength                 int     `json:"max_length"`
	NumTrainEpochs            int     `json:"num_train_epochs"`
	PerDeviceTrainBatchSize   int     `json:"per_device_train_batch_size"`
	PerDeviceEvalBatchSize    int     `json:"per_device_eval_batch_size"`
	GradientAccumulationSteps int     `json:"gradient_accumulation_steps"`
	LearningRate              float64 `json:"learning_rate"`
	WarmupSteps               int     `json:"warmup_steps"`
	LoggingSteps              int     `json:"logging_steps"`
	SaveSteps                 int     `json:"save_steps"`
	EvalSteps                 int     `json:"eval_steps"`
	EvaluationStrategy        string  `json:"evaluation_strategy"`
	SaveStrategy              string  `json:"save_strategy"`
	LoadBestModelAtEnd        bool    `json:"load_best_model_at_end"`
	MetricForBestModel        string  `json:"metric_for_best_model"`
	GreaterIsBetter           bool    `json:"greater_is_better"`
	EarlyStoppingPatience     int     `json:"early_stopping_patience"`
	FP16                      bool    `json:"fp16"`
	RunName                   string  `json:"run_name"`
}

// Plan is a written training plan.
type Plan struct {
	Adapter           AdapterConfig
	Args              TrainingArgs
	AdapterConfigPath string
	TrainingArgsPath  string
}

// Trainer plans and runs fine-tuning jobs.
type Trainer struct {
	cfg      config.TrainConfig
	logger   *zap.Logger
	lookPath func(string) (string, error)
	now      func() time.Time
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithLogger sets the logger that receives trainer output.
func WithLogger(l *zap.Logger) Option {
	return func(t *Trainer) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithLookPath replaces the executable lookup used for GPU detection.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(t *Trainer) { t.lookPath = fn }
}

// NewTrainer creates a trainer for cfg.
func NewTrainer(cfg config.TrainConfig, opts ...Option) *Trainer {
	t := &Trainer{cfg: cfg, logger: zap.NewNop(), lookPath: exec.LookPath, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Device resolves "auto" to cuda when nvidia-smi is on PATH, cpu otherwise.
func (t *Trainer) Device() string {
	switch t.cfg.Device {
	case DeviceCUDA, DeviceCPU:
		return t.cfg.Device
	}
	if _, err := t.lookPath("nvidia-smi"); err == nil {
		return DeviceCUDA
	}
	return DeviceCPU
}

// Effective returns the config with the CPU batch fallback applied.
func (t *Trainer) Effective() config.TrainConfig {
	cfg := t.cfg
	cfg.Device = t.Device()
	if cfg.Device == DeviceCPU {
		cfg.BatchSize = 1
		cfg.GradientAccumulationSteps = 8
	}
	return cfg
}

// Plan writes adapter_config.json and training_args.json into the output dir.
func (t *Trainer) Plan(datasetDir string) (*Plan, error) {
	cfg := t.Effective()
	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("output dir is required")
	}
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	p := &Plan{
		Adapter: AdapterConfig{
			BaseModel:     cfg.BaseModel,
			PeftType:      "LORA",
			TaskType:      "CAUSAL_LM",
			R:             cfg.LoraR,
			Alpha:         cfg.LoraAlpha,
			Dropout:       cfg.LoraDropout,
			TargetModules: cfg.TargetModules,
			Bias:          "none",
		},
		Args: TrainingArgs{
			OutputDir:                 cfg.OutputDir,
			DatasetDir:                datasetDir,
			Device:                    cfg.Device,
			MaxLength:                 cfg.MaxLength,
			NumTrainEpochs:            cfg.Epochs,
			PerDeviceTrainBatchSize:   cfg.BatchSize,
			PerDeviceEvalBatchSize:    cfg.BatchSize,
			GradientAccumulationSteps: cfg.GradientAccumulationSteps,
			LearningRate:              cfg.LearningRate,
			WarmupSteps:               cfg.WarmupSteps,
			LoggingSteps:              cfg.LoggingSteps,
			SaveSteps:                 cfg.SaveSteps,
			EvalSteps:                 cfg.EvalSteps,
			EvaluationStrategy:        "steps",
			SaveStrategy:              "steps",
			LoadBestModelAtEnd:        true,
			MetricForBestModel:        "eval_loss",
			EarlyStoppingPatience:     3,
			FP16:                      cfg.Device == DeviceCUDA,
			RunName:                   "storyforge-phi3-" + t.now().Format("20060102_150405"),
		},
		AdapterConfigPath: filepath.Join(cfg.OutputDir, adapterConfigFile),
		TrainingArgsPath:  filepath.Join(cfg.OutputDir, trainingArgsFile),
	}
	if err := writeJSON(p.AdapterConfigPath, p.Adapter); err != nil {
		return nil, err
	}
	if err := writeJSON(p.TrainingArgsPath, p.Args); err != nil {
		return nil, err
	}
	t.logger.Info("training plan written",
		zap.String("device", cfg.Device),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Int("grad_accum", cfg.GradientAccumulationSteps),
		zap.String("output_dir", cfg.OutputDir),
	)
	return p, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
