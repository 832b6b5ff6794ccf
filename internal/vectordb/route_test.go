package vectordb

import "testing"

func TestRoute(t *testing.T) {
	tests := []struct {
		name        string
		item        Item
		wantColl    string
		wantType    string
		wantContent string
	}{
		{"story key", Item{"story": "Once upon a time", "genre": "fable"}, Stories, "story", "Once upon a time"},
		{"text key", Item{"text": "A windy day"}, Stories, "story", "A windy day"},
		{"content key", Item{"content": "Moon song"}, Stories, "story", "Moon song"},
		{"story wins over text", Item{"story": "first", "text": "second"}, Stories, "story", "first"},
		{"present but empty story wins", Item{"story": "", "text": "second"}, Stories, "story", ""},
		{"character", Item{"character": "Pip", "trait": "curious"}, Characters, "character", `{"character":"Pip","trait":"curious"}`},
		{"name", Item{"name": "Ember"}, Characters, "character", `{"name":"Ember"}`},
		{"story beats name", Item{"name": "Ember", "story": "Ember flew"}, Stories, "story", "Ember flew"},
		{"prompt", Item{"prompt": "Write about a brave mouse"}, Prompts, "prompt", "Write about a brave mouse"},
		{"name beats prompt", Item{"prompt": "p", "name": "n"}, Characters, "character", `{"name":"n","prompt":"p"}`},
		{"dialogue", Item{"dialogue": "Hello, owl!"}, Dialogues, "dialogue", "Hello, owl!"},
		{"general", Item{"moral": "Be kind", "pages": float64(3)}, Stories, "general", `{"moral":"Be kind","pages":3}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Route(tt.item, "src_0")
			if got.Collection != tt.wantColl {
				t.Errorf("collection = %s, want %s", got.Collection, tt.wantColl)
			}
			if got.Metadata["type"] != tt.wantType {
				t.Errorf("type = %s, want %s", got.Metadata["type"], tt.wantType)
			}
			if got.Content != tt.wantContent {
				t.Errorf("content = %q, want %q", got.Content, tt.wantContent)
			}
			if got.Metadata["source_id"] != "src_0" {
				t.Errorf("source_id = %q", got.Metadata["source_id"])
			}
		})
	}
}

func TestRoute_StoryMetadataDefaults(t *testing.T) {
	got := Route(Item{"story": "Tiny tale"}, "x")
	if got.Metadata["age_group"] != "unknown" || got.Metadata["genre"] != "unknown" {
		t.Errorf("defaults: %v", got.Metadata)
	}
	if got.Metadata["length"] != "9" {
		t.Errorf("length = %s, want 9", got.Metadata["length"])
	}

	got = Route(Item{"story": "Añoranza", "age_group": "3-5", "genre": "bedtime"}, "y")
	if got.Metadata["age_group"] != "3-5" || got.Metadata["genre"] != "bedtime" {
		t.Errorf("explicit metadata: %v", got.Metadata)
	}
	if got.Metadata["length"] != "8" {
		t.Errorf("length should count runes, got %s", got.Metadata["length"])
	}
}

func TestTextChunk(t *testing.T) {
	got := TextChunk("some words here", "book_chunk_0")
	if got.Collection != Stories || got.Metadata["type"] != "text_chunk" || got.Metadata["length"] != "15" {
		t.Errorf("got %+v", got)
	}
}

func TestStringify(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"plain", "plain"},
		{true, "true"},
		{float64(7), "7"},
		{1.5, "1.5"},
		{[]any{"a", float64(1)}, `["a",1]`},
		{map[string]any{"b": 1, "a": "<x>"}, `{"a":"<x>","b":1}`},
	}
	for _, tt := range tests {
		if got := Stringify(tt.in); got != tt.want {
			t.Errorf("Stringify(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLookup(t *testing.T) {
	if c, ok := Lookup("stories"); !ok || c.PhysicalName != "children_stories" {
		t.Errorf("short name lookup: %+v %v", c, ok)
	}
	if c, ok := Lookup("story_prompts"); !ok || c.Name != Prompts {
		t.Errorf("physical name lookup: %+v %v", c, ok)
	}
	if _, ok := Lookup("poems"); ok {
		t.Error("unknown collection should not resolve")
	}
	if len(Collections) != 5 {
		t.Errorf("expected 5 collections, got %d", len(Collections))
	}
}
