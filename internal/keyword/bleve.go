package keyword

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/storyforge/internal/models"
)

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

func newMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer: lowercase and tokenize without stemming, so names match exactly.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", textFieldMapping)

	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	for _, f := range []string{"collection", "record_id", "type", "genre", "age_group"} {
		docMapping.AddFieldMappingsAt(f, keywordFieldMapping)
	}
	im.AddDocumentMapping("record", docMapping)
	im.DefaultType = "record"
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path creates an
// in-memory index. An existing index is reopened as-is; remove its directory after
// changing the mapping.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if path == "" {
		index, err := bleve.NewMemOnly(newMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func docKey(collection, id string) string {
	return collection + "/" + id
}

// Index adds or replaces the record in the index.
func (b *BleveIndex) Index(ctx context.Context, rec *models.Record) error {
	doc := map[string]interface{}{
		"collection": rec.Collection,
		"record_id":  rec.ID,
		"content":    rec.Content,
	}
	for _, f := range []string{"type", "genre", "age_group"} {
		if v, ok := rec.Metadata[f]; ok {
			doc[f] = v
		}
	}
	return b.index.Index(docKey(rec.Collection, rec.ID), doc)
}

// Search runs a match (or fuzzy) query over content restricted to one collection.
// Result IDs are record IDs within that collection.
func (b *BleveIndex) Search(ctx context.Context, collection, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	if limit <= 0 {
		limit = 10
	}
	var textQuery blevequery.Query
	if opts != nil && opts.FuzzyEnabled {
		fuzziness := opts.Fuzziness
		if fuzziness <= 0 {
			fuzziness = 2
		}
		textQuery = buildFuzzyQuery(query, fuzziness)
	} else {
		mq := bleve.NewMatchQuery(query)
		mq.SetField("content")
		textQuery = mq
	}
	cq := bleve.NewTermQuery(collection)
	cq.SetField("collection")

	req := bleve.NewSearchRequest(bleve.NewConjunctionQuery(textQuery, cq))
	req.Size = limit
	req.Fields = []string{"record_id"}
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	prefix := collection + "/"
	out := make([]*KeywordResult, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = &KeywordResult{ID: strings.TrimPrefix(hit.ID, prefix), Score: hit.Score}
	}
	return out, nil
}

// tokenizeQuery splits query into lowercase terms.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// buildFuzzyQuery ORs a FuzzyQuery per term over the content field.
func buildFuzzyQuery(queryStr string, fuzziness int) blevequery.Query {
	terms := tokenizeQuery(queryStr)
	if len(terms) == 0 {
		mq := bleve.NewMatchQuery(queryStr)
		mq.SetField("content")
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField("content")
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// Delete removes a record from the index.
func (b *BleveIndex) Delete(ctx context.Context, collection, id string) error {
	return b.index.Delete(docKey(collection, id))
}

// IDs returns the record IDs indexed under collection.
func (b *BleveIndex) IDs(ctx context.Context, collection string) ([]string, error) {
	total, err := b.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("Bleve doc count failed: %w", err)
	}
	if total == 0 {
		return nil, nil
	}
	cq := bleve.NewTermQuery(collection)
	cq.SetField("collection")
	req := bleve.NewSearchRequest(cq)
	req.Size = int(total)
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	prefix := collection + "/"
	ids := make([]string, 0, len(results.Hits))
	for _, hit := range results.Hits {
		ids = append(ids, strings.TrimPrefix(hit.ID, prefix))
	}
	return ids, nil
}

// DocCount returns the total number of records in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
