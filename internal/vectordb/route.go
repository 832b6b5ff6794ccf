package vectordb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Item is one heterogeneous source record as decoded from JSON, CSV or a spreadsheet row.
type Item = map[string]any

// Routed is an item after schema normalisation.
type Routed struct {
	Collection string
	Content    string
	Metadata   map[string]string
}

// Route picks the collection, content and metadata for item by key presence:
// story/text/content, then character/name, then prompt, then dialogue; anything
// else is stored as a general story.
func Route(item Item, id string) Routed {
	if key, ok := firstKey(item, "story", "text", "content"); ok {
		content := Stringify(item[key])
		return Routed{
			Collection: Stories,
			Content:    content,
			Metadata: map[string]string{
				"type":      "story",
				"age_group": stringOr(item, "age_group", "unknown"),
				"genre":     stringOr(item, "genre", "unknown"),
				"length":    strconv.Itoa(utf8.RuneCountInString(content)),
				"source_id": id,
			},
		}
	}
	if _, ok := firstKey(item, "character", "name"); ok {
		return Routed{
			Collection: Characters,
			Content:    Canonical(item),
			Metadata:   map[string]string{"type": "character", "source_id": id},
		}
	}
	if _, ok := item["prompt"]; ok {
		return Routed{
			Collection: Prompts,
			Content:    Stringify(item["prompt"]),
			Metadata:   map[string]string{"type": "prompt", "source_id": id},
		}
	}
	if _, ok := item["dialogue"]; ok {
		return Routed{
			Collection: Dialogues,
			Content:    Stringify(item["dialogue"]),
			Metadata:   map[string]string{"type": "dialogue", "source_id": id},
		}
	}
	return Routed{
		Collection: Stories,
		Content:    Canonical(item),
		Metadata:   map[string]string{"type": "general", "source_id": id},
	}
}

// TextChunk routes a plain-text chunk into stories.
func TextChunk(chunk, id string) Routed {
	return Routed{
		Collection: Stories,
		Content:    chunk,
		Metadata: map[string]string{
			"type":      "text_chunk",
			"length":    strconv.Itoa(utf8.RuneCountInString(chunk)),
			"source_id": id,
		},
	}
}

func firstKey(item Item, keys ...string) (string, bool) {
	for _, k := range keys {
		if _, ok := item[k]; ok {
			return k, true
		}
	}
	return "", false
}

func stringOr(item Item, key, def string) string {
	v, ok := item[key]
	if !ok || v == nil {
		return def
	}
	return Stringify(v)
}

// Stringify renders a decoded value as text: strings as-is, numbers without a
// trailing ".0", nil as empty, and composite values as JSON.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case json.Number:
		return x.String()
	default:
		return marshal(x)
	}
}

// Canonical renders the whole item as JSON with sorted keys.
func Canonical(item Item) string {
	return marshal(item)
}

func marshal(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
