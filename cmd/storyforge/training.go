package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/hyperjump/storyforge/internal/dataset"
	"github.com/hyperjump/storyforge/internal/finetune"
	"go.uber.org/zap"
)

func runPrepare(args []string) error {
	fs := flag.NewFlagSet("prepare", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	exportPath := fs.String("export", "", "export JSON to read (default: export.output_path)")
	outDir := fs.String("out", "", "tokenized dataset directory (default: export.tokenized_dir)")
	_ = fs.Parse(args)

	cfg, logger, err := setup(*configPath, *debug)
	if err != nil {
		return err
	}
	defer logger.Sync()
	if *exportPath == "" {
		*exportPath = cfg.Export.OutputPath
	}
	if *outDir == "" {
		*outDir = cfg.Export.TokenizedDir
	}

	ctx, cancel := signalContext()
	defer cancel()
	info, err := dataset.Prepare(ctx, *exportPath, *outDir, newTokenizer(cfg, logger), dataset.Options{
		MaxLength:       cfg.Export.MaxLength,
		ValidationSplit: cfg.Export.ValidationSplit,
		Seed:            cfg.Export.Seed,
		Filter: dataset.Filter{
			MinStoryChars:  cfg.Export.MinStoryChars,
			MinPromptChars: cfg.Export.MinPromptChars,
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("prepare failed: %w", err)
	}
	fmt.Printf("Prepared %d training and %d validation examples in %s (tokenizer: %s)\n",
		info.Train, info.Validation, *outDir, info.Tokenizer)
	return nil
}

func runTrain(args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	datasetDir := fs.String("dataset", "", "tokenized dataset directory (default: export.tokenized_dir)")
	planOnly := fs.Bool("plan-only", false, "write the adapter and training plan without running the trainer")
	_ = fs.Parse(args)

	cfg, logger, err := setup(*configPath, *debug)
	if err != nil {
		return err
	}
	defer logger.Sync()
	if *datasetDir == "" {
		*datasetDir = cfg.Export.TokenizedDir
	}
	if _, err := os.Stat(filepath.Join(*datasetDir, "train.jsonl")); err != nil {
		return fmt.Errorf("dataset not found in %s; run storyforge prepare first", *datasetDir)
	}

	trainer := finetune.NewTrainer(cfg.Train, finetune.WithLogger(logger))
	if *planOnly {
		plan, err := trainer.Plan(*datasetDir)
		if err != nil {
			return fmt.Errorf("plan failed: %w", err)
		}
		fmt.Printf("Adapter config: %s\nTraining args:  %s\nDevice:         %s\n",
			plan.AdapterConfigPath, plan.TrainingArgsPath, plan.Args.Device)
		return nil
	}

	ctx, cancel := signalContext()
	defer cancel()
	metrics, err := trainer.Run(ctx, *datasetDir)
	if err != nil {
		return fmt.Errorf("training failed: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(metrics)
}

func runModelfile(args []string) error {
	fs := flag.NewFlagSet("modelfile", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	out := fs.String("out", "", "Modelfile path (default: next to the GGUF file)")
	model := fs.String("model", "", "Ollama model name (default: generation.model)")
	execute := fs.Bool("run", false, "run the merge, convert and create commands")
	_ = fs.Parse(args)

	cfg, logger, err := setup(*configPath, *debug)
	if err != nil {
		return err
	}
	defer logger.Sync()
	if *out == "" {
		*out = filepath.Join(filepath.Dir(cfg.Train.GGUFPath), "Modelfile")
	}
	if *model == "" {
		*model = cfg.Generation.Model
	}

	text, err := finetune.RenderModelfile(finetune.DefaultModelfileParams(cfg.Train))
	if err != nil {
		return fmt.Errorf("render failed: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(*out), 0755); err != nil {
		return fmt.Errorf("create directory failed: %w", err)
	}
	if err := os.WriteFile(*out, []byte(text), 0644); err != nil {
		return fmt.Errorf("write Modelfile failed: %w", err)
	}
	fmt.Printf("Modelfile written to %s\n", *out)

	cmds := finetune.MergeCommands(cfg.Train, *model, *out)
	if !*execute {
		fmt.Println("\nNext steps:")
		for _, c := range cmds {
			fmt.Printf("  %s\n", strings.Join(c, " "))
		}
		return nil
	}
	ctx, cancel := signalContext()
	defer cancel()
	for _, c := range cmds {
		logger.Info("running", zap.Strings("command", c))
		cmd := exec.CommandContext(ctx, c[0], c[1:]...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("%s failed: %w", c[0], err)
		}
	}
	fmt.Printf("Model %s created\n", *model)
	return nil
}
