// Package storyteller generates children's stories with a local Ollama model.
package storyteller

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hyperjump/storyforge/internal/config"
	"go.uber.org/zap"
)

var (
	// ErrEmptyPrompt is returned for blank prompts.
	ErrEmptyPrompt = errors.New("prompt cannot be empty")
	// ErrPromptTooLong is returned when a prompt exceeds the configured limit.
	ErrPromptTooLong = errors.New("prompt too long")
	// ErrTooManyRequests is returned when every generation slot is busy.
	ErrTooManyRequests = errors.New("maximum concurrent requests exceeded, please try again later")
	// ErrEmptyResponse is returned when the model answers with no text.
	ErrEmptyResponse = errors.New("invalid response from Ollama")
)

// Options are per-request sampling settings. Zero values use the client defaults.
type Options struct {
	Model         string
	Temperature   float64
	TopP          float64
	TopK          int
	RepeatPenalty float64
	NumCtx        int
	// NumPredict caps generated tokens; 0 lets the model decide.
	NumPredict int
	// Raw sends the prompt without the model's own template.
	Raw bool
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Raw     bool           `json:"raw,omitempty"`
	Options map[string]any `json:"options"`
}

// Response is a completed generation.
type Response struct {
	Model           string `json:"model"`
	CreatedAt       string `json:"created_at"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	TotalDuration   int64  `json:"total_duration,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
}

// Chunk is one NDJSON line of a streamed generation.
type Chunk struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Status describes the model server.
type Status struct {
	Connected             bool     `json:"connected"`
	Models                []string `json:"models"`
	ActiveRequests        int      `json:"active_requests"`
	MaxConcurrentRequests int      `json:"max_concurrent_requests"`
}

// Client talks to the Ollama HTTP API with a bounded number of in-flight generations.
type Client struct {
	baseURL        string
	defaults       Options
	maxPromptChars int
	http           *http.Client
	slots          chan struct{}
	logger         *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.http = c }
}

// WithClientLogger sets the logger.
func WithClientLogger(l *zap.Logger) ClientOption {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

// NewClient creates a client from generation settings.
func NewClient(cfg config.GenerationConfig, opts ...ClientOption) *Client {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	maxPrompt := cfg.MaxPromptChars
	if maxPrompt <= 0 {
		maxPrompt = 4000
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	c := &Client{
		baseURL: strings.TrimRight(cfg.OllamaURL, "/"),
		defaults: Options{
			Model:         cfg.Model,
			Temperature:   cfg.Temperature,
			TopP:          cfg.TopP,
			TopK:          cfg.TopK,
			RepeatPenalty: cfg.RepeatPenalty,
			NumCtx:        cfg.NumCtx,
		},
		maxPromptChars: maxPrompt,
		http:           &http.Client{Timeout: timeout},
		slots:          make(chan struct{}, maxConcurrent),
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model is the default model name.
func (c *Client) Model() string { return c.defaults.Model }

func (c *Client) acquire() error {
	select {
	case c.slots <- struct{}{}:
		return nil
	default:
		return ErrTooManyRequests
	}
}

func (c *Client) release() { <-c.slots }

func (c *Client) validate(prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", ErrEmptyPrompt
	}
	if utf8.RuneCountInString(prompt) > c.maxPromptChars {
		return "", fmt.Errorf("%w: maximum %d characters allowed", ErrPromptTooLong, c.maxPromptChars)
	}
	return prompt, nil
}

func (c *Client) request(prompt string, o Options, stream bool) generateRequest {
	d := c.defaults
	pick := func(v, def float64) float64 {
		if v != 0 {
			return v
		}
		return def
	}
	pickInt := func(v, def int) int {
		if v != 0 {
			return v
		}
		return def
	}
	model := o.Model
	if model == "" {
		model = d.Model
	}
	options := map[string]any{
		"temperature":    pick(o.Temperature, d.Temperature),
		"top_p":          pick(o.TopP, d.TopP),
		"top_k":          pickInt(o.TopK, d.TopK),
		"repeat_penalty": pick(o.RepeatPenalty, d.RepeatPenalty),
		"num_ctx":        pickInt(o.NumCtx, d.NumCtx),
	}
	if o.NumPredict > 0 {
		options["num_predict"] = o.NumPredict
	}
	return generateRequest{Model: model, Prompt: prompt, Stream: stream, Raw: o.Raw, Options: options}
}

func (c *Client) post(ctx context.Context, body generateRequest) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama API error: %d - %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

// Generate runs a non-streaming generation.
func (c *Client) Generate(ctx context.Context, prompt string, o Options) (*Response, error) {
	prompt, err := c.validate(prompt)
	if err != nil {
		return nil, err
	}
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.release()

	start := time.Now()
	resp, err := c.post(ctx, c.request(prompt, o, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if out.Response == "" {
		return nil, ErrEmptyResponse
	}
	c.logger.Debug("generation finished",
		zap.String("model", out.Model),
		zap.Int("eval_count", out.EvalCount),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &out, nil
}

// GenerateStream runs a streaming generation and calls fn for every chunk until
// the model reports done. Lines that are not valid JSON are skipped. An error
// from fn stops the stream.
func (c *Client) GenerateStream(ctx context.Context, prompt string, o Options, fn func(Chunk) error) error {
	prompt, err := c.validate(prompt)
	if err != nil {
		return err
	}
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()

	resp, err := c.post(ctx, c.request(prompt, o, true))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var ch Chunk
		if err := json.Unmarshal(line, &ch); err != nil {
			continue
		}
		if err := fn(ch); err != nil {
			return err
		}
		if ch.Done {
			return nil
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

// Models lists the models installed on the server.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to Ollama server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch models: %s", resp.Status)
	}
	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("failed to decode models: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Ping reports whether the server answers.
func (c *Client) Ping(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("ollama ping failed", zap.Error(err))
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Status reports connectivity, installed models and slot usage.
func (c *Client) Status(ctx context.Context) Status {
	s := Status{
		Connected:             c.Ping(ctx),
		Models:                []string{},
		ActiveRequests:        len(c.slots),
		MaxConcurrentRequests: cap(c.slots),
	}
	if s.Connected {
		if models, err := c.Models(ctx); err == nil {
			s.Models = models
		} else {
			c.logger.Warn("failed to get models for status", zap.Error(err))
		}
	}
	return s
}
