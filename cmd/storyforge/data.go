package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hyperjump/storyforge/internal/cli"
	"github.com/hyperjump/storyforge/internal/models"
	"go.uber.org/zap"
)

func outputFlag(fs *flag.FlagSet) *string {
	return fs.String("output", "text", "output format: text or json")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runHarvest(args []string) error {
	fs := flag.NewFlagSet("harvest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	output := outputFlag(fs)
	_ = fs.Parse(argsReorder(args))
	format, err := cli.ParseOutputFormat(*output)
	if err != nil {
		return err
	}

	cfg, logger, err := setup(*configPath, *debug)
	if err != nil {
		return err
	}
	defer logger.Sync()
	root := cfg.Ingest.DatasetsPath
	if fs.NArg() > 0 {
		root = fs.Arg(0)
	}

	ctx, cancel := signalContext()
	defer cancel()
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer components.Close()

	report, err := components.Harvester.Harvest(ctx, root)
	if err != nil {
		return fmt.Errorf("harvest failed: %w", err)
	}
	return cli.WriteReport(os.Stdout, report, format)
}

func runQuery(args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	serverURL := fs.String("server", "", "server URL (empty = query the local store directly)")
	collection := fs.String("collection", "stories", "collection to query")
	n := fs.Int("n", models.DefaultResults, "number of results")
	mode := fs.String("mode", string(models.QuerySemantic), "semantic or keyword")
	output := outputFlag(fs)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: storyforge query [flags] <text>\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(argsReorder(args))
	format, err := cli.ParseOutputFormat(*output)
	if err != nil {
		return err
	}

	req := &models.QueryRequest{
		Query:      joinArgs(fs.Args()),
		Collection: *collection,
		NResults:   *n,
		Mode:       models.QueryMode(*mode),
	}
	if err := req.Validate(); err != nil {
		fs.Usage()
		return err
	}

	var resp *models.QueryResponse
	if *serverURL != "" {
		resp, err = queryViaHTTP(*serverURL, req)
	} else {
		resp, err = queryLocal(*configPath, *debug, req)
	}
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	return cli.WriteQueryResults(os.Stdout, resp, format)
}

func queryLocal(configPath string, debug bool, req *models.QueryRequest) (*models.QueryResponse, error) {
	cfg, logger, err := setup(configPath, debug)
	if err != nil {
		return nil, err
	}
	defer logger.Sync()
	ctx, cancel := signalContext()
	defer cancel()
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	defer components.Close()
	return components.DB.Search(ctx, req)
}

func queryViaHTTP(serverURL string, req *models.QueryRequest) (*models.QueryResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/query", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var out models.QueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	output := outputFlag(fs)
	_ = fs.Parse(args)
	format, err := cli.ParseOutputFormat(*output)
	if err != nil {
		return err
	}

	cfg, logger, err := setup(*configPath, *debug)
	if err != nil {
		return err
	}
	defer logger.Sync()
	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer components.Close()

	return cli.WriteStats(os.Stdout, components.DB.Stats(ctx), components.DB.VectorSizes(), format)
}

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(argsReorder(args))

	cfg, logger, err := setup(*configPath, *debug)
	if err != nil {
		return err
	}
	defer logger.Sync()
	path := cfg.Export.OutputPath
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}

	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer components.Close()

	if err := components.DB.ExportFile(ctx, path); err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	logger.Info("export written", zap.String("path", path))
	fmt.Printf("Export written to %s\n", path)
	return nil
}
