// Package main is the StoryForge CLI entry point.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/storyforge/internal/config"
	"github.com/hyperjump/storyforge/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/storyforge/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory wins if it exists, and a missing default file falls back to
// built-in defaults resolved against the current directory.
// Returns the config and the path that was actually loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, "", err
		}
		fallback := filepath.Join(cwd, "config.yaml")
		if _, statErr := os.Stat(fallback); statErr == nil {
			cfg, loadErr := config.Load(fallback)
			if loadErr != nil {
				return nil, "", loadErr
			}
			return cfg, fallback, nil
		}
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			cfg.ExpandPaths(cwd)
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// setup loads config and creates the logger for a subcommand.
func setup(configPath string, debug bool) (*config.Config, *zap.Logger, error) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
	return cfg, logger, nil
}

// argsReorder moves flags given after positional args to the front so that
// "storyforge query brave fox --n 3" parses.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

var errUnknownCommand = errors.New("unknown command")

// commands maps subcommand names to their entry points.
var commands = map[string]func(args []string) error{
	"server":      runServer,
	"harvest":     runHarvest,
	"query":       runQuery,
	"stats":       runStats,
	"export":      runExport,
	"prepare":     runPrepare,
	"train":       runTrain,
	"modelfile":   runModelfile,
	"generate":    runGenerate,
	"interactive": runInteractive,
}

// run dispatches one subcommand and returns its error.
func run(args []string) error {
	if len(args) == 0 {
		printUsage()
		return errors.New("missing command")
	}
	switch args[0] {
	case "version", "--version", "-v":
		fmt.Printf("storyforge version %s\n", version)
		return nil
	case "help", "--help", "-h":
		printUsage()
		return nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		printUsage()
		return fmt.Errorf("%w: %s", errUnknownCommand, args[0])
	}
	return cmd(args[1:])
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`storyforge - children's story dataset and generation pipeline

Usage:
  storyforge server [flags]                 Start the HTTP API (optionally watching the datasets folder)
  storyforge harvest [flags] [dir]          Ingest a datasets folder into the vector DB
  storyforge query [flags] <text>           Nearest-neighbour query against one collection
  storyforge stats [flags]                  Show record counts per collection
  storyforge export [flags] [path]          Write the training export JSON
  storyforge prepare [flags]                Tokenize an export into train/val JSONL
  storyforge train [flags]                  Write a LoRA plan and run the trainer
  storyforge modelfile [flags]              Render the Ollama Modelfile and merge commands
  storyforge generate [flags] <prompt>      Generate a story with the local model
  storyforge interactive [flags] <prompt>   Generate a story that ends with choices
  storyforge version                        Show version
  storyforge help                           Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/storyforge/config.yaml,
                     then ./config.yaml, then built-in defaults)
  --debug            Enable debug logging
  --output string    Output format: text or json (default: text)

Query Flags:
  --collection string  stories, dialogues, characters, prompts or metadata (default: stories)
  --n int              Number of results (default: 5)
  --mode string        semantic or keyword (default: semantic)
  --server string      Server URL; empty queries the local store directly

Generate Flags:
  --age-group string   Target age group (default: 7-10)
  --genre string       Story genre (default: adventure)
  --max-tokens int     Generation cap (default: 800)
  --temperature float  Sampling temperature (default: 0.7)
  --stream             Print the story as it is generated

Examples:
  storyforge harvest ./training-datasets
  storyforge query --collection characters "a curious mouse"
  storyforge query brave dragon --n 3 --output json
  storyforge export && storyforge prepare && storyforge train
  storyforge generate --age-group 4-6 "a turtle who wants to fly"`)
}
