package storyteller

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// SafetyReport lists content problems found in generated text.
type SafetyReport struct {
	Safe   bool     `json:"safe"`
	Issues []string `json:"issues"`
}

var inappropriateWords = []string{
	"murder", "suicide", "torture", "abuse", "rape", "drug", "alcohol",
	"hate speech", "racist", "sexist", "explicit", "pornographic",
	"violent death", "graphic violence", "blood and gore",
}

var sentenceEnd = regexp.MustCompile(`[.!?]+`)

const (
	maxStoryChars     = 10000
	minStoryChars     = 30
	minUniqueSentence = 0.7
)

// ValidateContentSafety checks text for unsuitable words, length and repetition.
func ValidateContentSafety(text string) SafetyReport {
	issues := []string{}
	lower := strings.ToLower(text)
	for _, w := range inappropriateWords {
		if strings.Contains(lower, w) {
			issues = append(issues, "Contains inappropriate content: "+w)
		}
	}

	n := utf8.RuneCountInString(text)
	if n > maxStoryChars {
		issues = append(issues, "Story is too long for target age group")
	}
	if n < minStoryChars {
		issues = append(issues, "Story is too short to be meaningful")
	}

	var sentences []string
	for _, s := range sentenceEnd.Split(text, -1) {
		if s = strings.TrimSpace(s); len(s) > 5 {
			sentences = append(sentences, strings.ToLower(s))
		}
	}
	if len(sentences) > 0 {
		unique := make(map[string]struct{}, len(sentences))
		for _, s := range sentences {
			unique[s] = struct{}{}
		}
		if float64(len(unique))/float64(len(sentences)) < minUniqueSentence {
			issues = append(issues, "Story contains excessive repetition")
		}
	}
	return SafetyReport{Safe: len(issues) == 0, Issues: issues}
}
