package models

import "time"

// QueryResult is a single nearest-neighbour hit.
// Distance is 1 - Score for semantic queries; keyword hits carry the Bleve score.
type QueryResult struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
	Score    float64           `json:"score"`
	Distance float64           `json:"distance"`
	Rank     int               `json:"rank"`
}

// QueryResponse is the response for a query request.
type QueryResponse struct {
	Query      string         `json:"query"`
	Collection string         `json:"collection"`
	Mode       QueryMode      `json:"mode"`
	Results    []*QueryResult `json:"results"`
	Total      int            `json:"total"`
	QueryTime  int64          `json:"query_time_ms"`
}

// CollectionStat is the record count of one collection. Error is set instead
// of Count when the collection could not be counted.
type CollectionStat struct {
	Name         string `json:"name"`
	PhysicalName string `json:"physical_name"`
	Count        int64  `json:"count"`
	Error        string `json:"error,omitempty"`
}

// ExportMetadata heads an export document.
type ExportMetadata struct {
	CreatedAt   time.Time        `json:"created_at"`
	Collections map[string]int64 `json:"collections"`
}

// ExportCollection holds the parallel document, metadata and ID lists of one collection.
type ExportCollection struct {
	Documents []string            `json:"documents"`
	Metadatas []map[string]string `json:"metadatas"`
	IDs       []string            `json:"ids"`
}

// Export is the full training export of the store.
type Export struct {
	Metadata ExportMetadata              `json:"metadata"`
	Data     map[string]ExportCollection `json:"data"`
}
