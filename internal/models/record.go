// Package models defines core data structures for records, queries, and exports.
package models

import "time"

// Record is one entry of a collection: the text that was embedded plus its metadata.
type Record struct {
	ID         string            `json:"id" db:"id"`
	Collection string            `json:"collection" db:"collection"`
	Content    string            `json:"content" db:"content"`
	Metadata   map[string]string `json:"metadata" db:"metadata"`
	Embedding  []float32         `json:"-" db:"embedding"`
	SourceKey  string            `json:"source_key,omitempty" db:"source_key"`
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
}

// RecordInput is the API input for adding one heterogeneous source item.
// An empty ID is replaced with a generated one.
type RecordInput struct {
	ID   string         `json:"id,omitempty"`
	Item map[string]any `json:"item"`
}

// AddOutcome reports what happened to a single item on ingestion.
type AddOutcome string

const (
	// AddAdded means a new record was stored.
	AddAdded AddOutcome = "added"
	// AddDuplicate means the ID already existed in the target collection.
	AddDuplicate AddOutcome = "duplicate"
	// AddEmpty means the routed content was blank and nothing was stored.
	AddEmpty AddOutcome = "empty"
)

// AddResult is returned for every ingested item.
type AddResult struct {
	ID         string     `json:"id"`
	Collection string     `json:"collection"`
	Outcome    AddOutcome `json:"outcome"`
}

// IngestedFile tracks a harvested source file for incremental re-harvesting.
type IngestedFile struct {
	Key     string `db:"key"`
	Path    string `db:"path"`
	ModTime int64  `db:"mod_time"`
	Size    int64  `db:"size"`
}
