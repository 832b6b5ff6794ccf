// Package vectordb is the StoryForge semantic store: five fixed collections of
// embedded records with deduplicated ingestion and nearest-neighbour queries.
package vectordb

import "errors"

// ErrUnknownCollection is returned for a collection name outside the fixed set.
var ErrUnknownCollection = errors.New("unknown collection")

// Short collection names.
const (
	Stories    = "stories"
	Dialogues  = "dialogues"
	Characters = "characters"
	Prompts    = "prompts"
	Metadata   = "metadata"
)

// Collection names one partition of the store.
type Collection struct {
	Name         string
	PhysicalName string
}

// Collections is the fixed set in canonical order.
var Collections = []Collection{
	{Name: Stories, PhysicalName: "children_stories"},
	{Name: Dialogues, PhysicalName: "story_dialogues"},
	{Name: Characters, PhysicalName: "character_descriptions"},
	{Name: Prompts, PhysicalName: "story_prompts"},
	{Name: Metadata, PhysicalName: "training_metadata"},
}

// Lookup resolves a short or physical collection name.
func Lookup(name string) (Collection, bool) {
	for _, c := range Collections {
		if c.Name == name || c.PhysicalName == name {
			return c, true
		}
	}
	return Collection{}, false
}
