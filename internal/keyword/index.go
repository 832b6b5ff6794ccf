// Package keyword provides full-text search over collection records.
package keyword

import (
	"context"

	"github.com/hyperjump/storyforge/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// FuzzyEnabled matches terms within Fuzziness edits for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum Levenshtein edit distance (1 or 2). Default 2.
	Fuzziness int
}

// KeywordIndex defines keyword search operations. Records are keyed by collection and ID.
type KeywordIndex interface {
	Index(ctx context.Context, rec *models.Record) error
	Search(ctx context.Context, collection, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	Delete(ctx context.Context, collection, id string) error
	// IDs lists every record ID indexed for collection.
	IDs(ctx context.Context, collection string) ([]string, error)
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit.
type KeywordResult struct {
	ID    string
	Score float64
}
