// Package cli provides CLI output helpers for StoryForge.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hyperjump/storyforge/internal/harvest"
	"github.com/hyperjump/storyforge/internal/models"
	"github.com/hyperjump/storyforge/internal/storyteller"
	"github.com/hyperjump/storyforge/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text" or "json".
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (use text or json)", s)
	}
}

const separator = "─────────────────────────────────────────────────────────"

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// WriteQueryResults writes query results to w in the given format.
func WriteQueryResults(w io.Writer, resp *models.QueryResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	fmt.Fprintf(w, "\nFound %d results in %s (%s) in %dms\n\n",
		resp.Total, resp.Collection, resp.Mode, resp.QueryTime)
	for _, r := range resp.Results {
		fmt.Fprintln(w, separator)
		fmt.Fprintf(w, "Rank: %d | Score: %.4f | Distance: %.4f\n", r.Rank, r.Score, r.Distance)
		fmt.Fprintf(w, "ID: %s\n", r.ID)
		if meta := formatMetadata(r.Metadata); meta != "" {
			fmt.Fprintf(w, "Metadata: %s\n", meta)
		}
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(r.Content, 200))
	}
	return nil
}

func formatMetadata(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+m[k])
	}
	return strings.Join(parts, " ")
}

type statsOutput struct {
	Collections []models.CollectionStat `json:"collections"`
	VectorSizes map[string]int          `json:"vector_sizes"`
	Total       int64                   `json:"total"`
}

// WriteStats writes collection counts and vector index sizes.
func WriteStats(w io.Writer, stats []models.CollectionStat, sizes map[string]int, format OutputFormat) error {
	out := statsOutput{Collections: stats, VectorSizes: sizes}
	for _, s := range stats {
		out.Total += s.Count
	}
	if format == OutputJSON {
		return writeJSON(w, out)
	}
	fmt.Fprintln(w, "Collections:")
	for _, s := range stats {
		if s.Error != "" {
			fmt.Fprintf(w, "  %-12s (%s)  error: %s\n", s.Name, s.PhysicalName, s.Error)
			continue
		}
		fmt.Fprintf(w, "  %-12s (%s)  %d records, %d vectors\n", s.Name, s.PhysicalName, s.Count, sizes[s.Name])
	}
	fmt.Fprintf(w, "Total: %d records\n", out.Total)
	return nil
}

// WriteReport writes a harvest report.
func WriteReport(w io.Writer, rep *harvest.Report, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, rep)
	}
	fmt.Fprintf(w, "Harvested %d files: %d added, %d duplicates, %d empty\n",
		rep.Files, rep.Added, rep.Duplicates, rep.Empty)
	fmt.Fprintf(w, "Skipped %d unchanged, %d unsupported, %d failed\n",
		rep.Skipped, rep.Unsupported, rep.Failed)
	return nil
}

// WriteStory writes a generated story and, for interactive stories, its choices.
func WriteStory(w io.Writer, story *storyteller.Story, choices []string, format OutputFormat) error {
	if format == OutputJSON {
		if choices != nil {
			return writeJSON(w, storyteller.InteractiveStory{Story: *story, Choices: choices})
		}
		return writeJSON(w, story)
	}
	fmt.Fprintf(w, "%s\n", story.Story)
	if len(choices) > 0 {
		fmt.Fprintln(w, "\nWhat happens next?")
		for i, c := range choices {
			fmt.Fprintf(w, "  %c) %s\n", 'A'+i, c)
		}
	}
	if !story.Safety.Safe {
		fmt.Fprintf(w, "\nwarning: safety check flagged: %s\n", strings.Join(story.Safety.Issues, ", "))
	}
	return nil
}
