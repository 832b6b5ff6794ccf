package models

import (
	"fmt"
	"strings"
)

// QueryMode selects how a query is matched against a collection.
type QueryMode string

const (
	QuerySemantic QueryMode = "semantic"
	QueryKeyword  QueryMode = "keyword"
)

// DefaultResults is the number of results returned when none is requested.
const DefaultResults = 5

// MaxResults caps the number of results per query.
const MaxResults = 100

// QueryRequest is a similarity query against one collection.
type QueryRequest struct {
	Query      string    `json:"query"`
	Collection string    `json:"collection,omitempty"`
	NResults   int       `json:"n_results,omitempty"`
	Mode       QueryMode `json:"mode,omitempty"`
}

// Validate ensures the query has valid fields and sets defaults.
// Returns an error if the query text is empty or the mode is unknown.
func (q *QueryRequest) Validate() error {
	if strings.TrimSpace(q.Query) == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.Collection == "" {
		q.Collection = "stories"
	}
	if q.NResults <= 0 {
		q.NResults = DefaultResults
	}
	if q.NResults > MaxResults {
		q.NResults = MaxResults
	}
	switch q.Mode {
	case "":
		q.Mode = QuerySemantic
	case QuerySemantic, QueryKeyword:
	default:
		return fmt.Errorf("unknown query mode %q", q.Mode)
	}
	return nil
}
