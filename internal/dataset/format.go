// Package dataset turns a vector DB export into tokenized fine-tuning data.
package dataset

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/storyforge/internal/models"
)

const (
	defaultAgeGroup = "7-10"
	defaultGenre    = "adventure"

	promptCompletion = "Once upon a time, there was a magical adventure waiting to unfold..."
)

// FormatStory renders a story as a chat-template training example.
func FormatStory(story string, meta map[string]string) string {
	age := metaOr(meta, "age_group", defaultAgeGroup)
	genre := metaOr(meta, "genre", defaultGenre)
	return fmt.Sprintf(`<|system|>
You are a helpful AI assistant that creates engaging, age-appropriate stories for children aged %s. Your stories should be safe, educational, and entertaining.
<|end|>
<|user|>
Create a %s story suitable for children aged %s.
<|end|>
<|assistant|>
%s
<|end|>`, age, genre, age, strings.TrimSpace(story))
}

// FormatPrompt renders a writing prompt as a training example with a fixed opening.
func FormatPrompt(prompt string) string {
	return fmt.Sprintf(`<|system|>
You are a helpful AI assistant that creates engaging, age-appropriate stories for children. Always ensure content is safe and suitable for young readers.
<|end|>
<|user|>
%s
<|end|>
<|assistant|>
%s
<|end|>`, strings.TrimSpace(prompt), promptCompletion)
}

// Filter is the minimum trimmed length, in characters, a document must exceed.
type Filter struct {
	MinStoryChars  int
	MinPromptChars int
}

// DefaultFilter keeps stories longer than 50 characters and prompts longer than 20.
var DefaultFilter = Filter{MinStoryChars: 50, MinPromptChars: 20}

// BuildTexts formats the stories and prompts of an export, stories first.
func BuildTexts(exp *models.Export, f Filter) []string {
	var texts []string
	if stories, ok := exp.Data["stories"]; ok {
		for i, doc := range stories.Documents {
			if trimmedLen(doc) > f.MinStoryChars {
				texts = append(texts, FormatStory(doc, metaAt(stories.Metadatas, i)))
			}
		}
	}
	if prompts, ok := exp.Data["prompts"]; ok {
		for _, doc := range prompts.Documents {
			if trimmedLen(doc) > f.MinPromptChars {
				texts = append(texts, FormatPrompt(doc))
			}
		}
	}
	return texts
}

func trimmedLen(s string) int {
	return utf8.RuneCountInString(strings.TrimSpace(s))
}

func metaAt(metas []map[string]string, i int) map[string]string {
	if i < len(metas) {
		return metas[i]
	}
	return nil
}

func metaOr(meta map[string]string, key, def string) string {
	if v, ok := meta[key]; ok && v != "" {
		return v
	}
	return def
}
