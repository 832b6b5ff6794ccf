package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/hyperjump/storyforge/internal/cli"
	"github.com/hyperjump/storyforge/internal/config"
	"github.com/hyperjump/storyforge/internal/storyteller"
	"go.uber.org/zap"
)

func newStoryteller(cfg *config.Config, logger *zap.Logger) (*storyteller.Client, *storyteller.Teller) {
	client := storyteller.NewClient(cfg.Generation, storyteller.WithClientLogger(logger))
	return client, storyteller.NewTeller(client, logger)
}

func runGenerate(args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	ageGroup := fs.String("age-group", "", "target age group (default: 7-10)")
	genre := fs.String("genre", "", "story genre (default: adventure)")
	maxTokens := fs.Int("max-tokens", 0, "generation cap (default: 800)")
	temperature := fs.Float64("temperature", 0, "sampling temperature (default: 0.7)")
	stream := fs.Bool("stream", false, "print the story as it is generated")
	output := outputFlag(fs)
	_ = fs.Parse(argsReorder(args))
	format, err := cli.ParseOutputFormat(*output)
	if err != nil {
		return err
	}

	prompt := joinArgs(fs.Args())
	if prompt == "" {
		return errors.New("usage: storyforge generate [flags] <prompt>")
	}
	cfg, logger, err := setup(*configPath, *debug)
	if err != nil {
		return err
	}
	defer logger.Sync()
	_, teller := newStoryteller(cfg, logger)

	ctx, cancel := signalContext()
	defer cancel()
	req := storyteller.StoryRequest{
		Prompt:      prompt,
		AgeGroup:    *ageGroup,
		Genre:       *genre,
		MaxTokens:   *maxTokens,
		Temperature: *temperature,
	}
	if *stream {
		err := teller.StreamStory(ctx, req, func(chunk string) error {
			_, err := fmt.Print(chunk)
			return err
		})
		fmt.Println()
		if err != nil {
			return fmt.Errorf("generation failed: %w", err)
		}
		return nil
	}
	story, err := teller.GenerateStory(ctx, req)
	if err != nil {
		return fmt.Errorf("generation failed: %w", err)
	}
	if err := cli.WriteStory(os.Stdout, story, nil, format); err != nil {
		return fmt.Errorf("output failed: %w", err)
	}
	return nil
}

func runInteractive(args []string) error {
	fs := flag.NewFlagSet("interactive", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	ageGroup := fs.String("age-group", "", "target age group (default: 7-10)")
	output := outputFlag(fs)
	_ = fs.Parse(argsReorder(args))
	format, err := cli.ParseOutputFormat(*output)
	if err != nil {
		return err
	}

	prompt := joinArgs(fs.Args())
	if prompt == "" {
		return errors.New("usage: storyforge interactive [flags] <prompt>")
	}
	cfg, logger, err := setup(*configPath, *debug)
	if err != nil {
		return err
	}
	defer logger.Sync()
	_, teller := newStoryteller(cfg, logger)

	ctx, cancel := signalContext()
	defer cancel()
	story, err := teller.GenerateInteractive(ctx, prompt, *ageGroup)
	if err != nil {
		return fmt.Errorf("generation failed: %w", err)
	}
	if err := cli.WriteStory(os.Stdout, &story.Story, story.Choices, format); err != nil {
		return fmt.Errorf("output failed: %w", err)
	}
	return nil
}
