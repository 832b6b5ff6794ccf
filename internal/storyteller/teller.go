package storyteller

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultAgeGroup  = "7-10"
	defaultGenre     = "adventure"
	defaultMaxTokens = 800
	interactiveMax   = 600
	choicesMaxTokens = 200
	choicesCount     = 3
	storyPreviewLen  = 200

	shortStoryTail    = " The adventure continued with many exciting discoveries ahead!"
	interactiveSuffix = " Make this an interactive story that ends with choices for the reader."
)

var defaultChoices = []string{
	"Continue the adventure",
	"Explore a different path",
	"Ask for help from a friend",
}

// LLM is the model server a Teller talks to. *Client implements it.
type LLM interface {
	Generate(ctx context.Context, prompt string, o Options) (*Response, error)
	GenerateStream(ctx context.Context, prompt string, o Options, fn func(Chunk) error) error
}

// StoryRequest asks for one story. Empty fields take defaults.
type StoryRequest struct {
	Prompt      string  `json:"prompt"`
	AgeGroup    string  `json:"age_group,omitempty"`
	Genre       string  `json:"genre,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

func (r *StoryRequest) applyDefaults() {
	if r.AgeGroup == "" {
		r.AgeGroup = defaultAgeGroup
	}
	if r.Genre == "" {
		r.Genre = defaultGenre
	}
	if r.MaxTokens <= 0 {
		r.MaxTokens = defaultMaxTokens
	}
	if r.Temperature <= 0 {
		r.Temperature = 0.7
	}
}

// Story is a generated story with its safety report.
type Story struct {
	Story       string       `json:"story"`
	AgeGroup    string       `json:"age_group"`
	Genre       string       `json:"genre"`
	Model       string       `json:"model,omitempty"`
	Safety      SafetyReport `json:"safety"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// InteractiveStory is a story that ends with reader choices.
type InteractiveStory struct {
	Story
	Choices []string `json:"choices"`
}

// Teller formats prompts, generates and cleans up stories.
type Teller struct {
	llm    LLM
	logger *zap.Logger
}

// NewTeller creates a Teller. logger may be nil.
func NewTeller(llm LLM, logger *zap.Logger) *Teller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Teller{llm: llm, logger: logger}
}

// FormatStoryPrompt builds the chat prompt for a story request, ending at the assistant turn.
func FormatStoryPrompt(prompt, ageGroup, genre string) string {
	return fmt.Sprintf(`<|system|>
You are a helpful AI assistant that creates engaging, age-appropriate stories for children aged %s. Your stories should be safe, educational, and entertaining.
<|end|>
<|user|>
Create a %s story suitable for children aged %s. %s
<|end|>
<|assistant|>`, ageGroup, genre, ageGroup, prompt)
}

func formatChoicesPrompt(story, ageGroup string) string {
	preview := []rune(story)
	if len(preview) > storyPreviewLen {
		preview = preview[:storyPreviewLen]
	}
	return fmt.Sprintf(`<|system|>
You are creating choices for an interactive children's story. Generate exactly %d appropriate choices.
<|end|>
<|user|>
Based on this story: "%s..."
Create %d exciting but age-appropriate choices for children aged %s.
<|end|>
<|assistant|>
Here are the choices:
A)`, choicesCount, string(preview), choicesCount, ageGroup)
}

// GenerateStory generates and post-processes one story.
func (t *Teller) GenerateStory(ctx context.Context, req StoryRequest) (*Story, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	req.applyDefaults()
	formatted := FormatStoryPrompt(req.Prompt, req.AgeGroup, req.Genre)
	resp, err := t.llm.Generate(ctx, formatted, Options{
		Temperature: req.Temperature,
		NumPredict:  req.MaxTokens,
		Raw:         true,
	})
	if err != nil {
		return nil, err
	}
	text := PostProcess(ExtractStory(resp.Response, formatted))
	safety := ValidateContentSafety(text)
	if !safety.Safe {
		t.logger.Warn("generated story failed safety check", zap.Strings("issues", safety.Issues))
	}
	return &Story{
		Story:       text,
		AgeGroup:    req.AgeGroup,
		Genre:       req.Genre,
		Model:       resp.Model,
		Safety:      safety,
		GeneratedAt: time.Now(),
	}, nil
}

// GenerateInteractive generates a story and three choices for what happens next.
func (t *Teller) GenerateInteractive(ctx context.Context, prompt, ageGroup string) (*InteractiveStory, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	story, err := t.GenerateStory(ctx, StoryRequest{
		Prompt:    prompt + interactiveSuffix,
		AgeGroup:  ageGroup,
		Genre:     defaultGenre,
		MaxTokens: interactiveMax,
	})
	if err != nil {
		return nil, err
	}
	resp, err := t.llm.Generate(ctx, formatChoicesPrompt(story.Story, story.AgeGroup), Options{
		Temperature: 0.8,
		NumPredict:  choicesMaxTokens,
		Raw:         true,
	})
	var choices []string
	if err != nil {
		t.logger.Warn("choice generation failed, using defaults", zap.Error(err))
	} else {
		choices = ExtractChoices("A)" + resp.Response)
	}
	return &InteractiveStory{Story: *story, Choices: padChoices(choices)}, nil
}

// StreamStory streams the raw story text for req to fn, chunk by chunk.
func (t *Teller) StreamStory(ctx context.Context, req StoryRequest, fn func(string) error) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return ErrEmptyPrompt
	}
	req.applyDefaults()
	formatted := FormatStoryPrompt(req.Prompt, req.AgeGroup, req.Genre)
	return t.llm.GenerateStream(ctx, formatted, Options{
		Temperature: req.Temperature,
		NumPredict:  req.MaxTokens,
		Raw:         true,
	}, func(ch Chunk) error {
		if ch.Response == "" {
			return nil
		}
		return fn(strings.ReplaceAll(ch.Response, "<|end|>", ""))
	})
}

// ExtractStory removes an echoed prompt and end tokens from model output.
func ExtractStory(output, prompt string) string {
	story := output
	if strings.Contains(output, prompt) {
		story = strings.ReplaceAll(output, prompt, "")
	}
	story = strings.ReplaceAll(strings.TrimSpace(story), "<|end|>", "")
	return strings.TrimSpace(story)
}

// PostProcess drops template and role lines, separates the rest with blank
// lines, and pads stories with fewer than three sentences.
func PostProcess(story string) string {
	var kept []string
	for _, line := range strings.Split(story, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "<|") ||
			strings.HasPrefix(line, "Human:") || strings.HasPrefix(line, "Assistant:") {
			continue
		}
		kept = append(kept, line)
	}
	out := strings.Join(kept, "\n\n")
	if len(strings.Split(out, ".")) < 3 {
		out += shortStoryTail
	}
	return strings.TrimSpace(out)
}

// ExtractChoices pulls up to three lettered or numbered choices from text,
// padding with defaults.
func ExtractChoices(text string) []string {
	var choices []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !hasChoicePrefix(line) {
			continue
		}
		if c := strings.TrimSpace(line[2:]); c != "" {
			choices = append(choices, c)
		}
	}
	return padChoices(choices)
}

func hasChoicePrefix(line string) bool {
	for _, p := range []string{"A)", "B)", "C)", "D)", "1.", "2.", "3.", "4."} {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

func padChoices(choices []string) []string {
	if len(choices) < choicesCount {
		choices = append(choices, defaultChoices[:choicesCount-len(choices)]...)
	}
	return choices[:choicesCount]
}
