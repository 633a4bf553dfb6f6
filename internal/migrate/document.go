// Package migrate runs versioned transformations over JSON configuration
// documents. A Registry holds the ordered, contiguous chain of steps for one
// document family; a Runner moves documents up or down that chain.
package migrate

import (
	"encoding/json"
	"fmt"
)

// VersionKey is the only top-level field the engine itself relies on.
const VersionKey = "version"

// Document is a JSON-compatible nested record.
type Document map[string]any

// Parse decodes raw JSON into a Document. Numbers are kept as float64.
func Parse(raw []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("decode document: not a JSON object")
	}
	return doc, nil
}

// Version returns the document's declared version.
func (d Document) Version() (string, bool) {
	v, ok := d[VersionKey].(string)
	return v, ok
}

// SetVersion stamps the document with v.
func (d Document) SetVersion(v string) {
	d[VersionKey] = v
}

// Clone returns a deep copy. Values that are not JSON-shaped are shared.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return Document(CloneValue(map[string]any(d)).(map[string]any))
}

// CloneValue deep-copies maps and slices of a decoded JSON value.
func CloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = CloneValue(item)
		}
		return out
	case Document:
		return map[string]any(v.Clone())
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = CloneValue(item)
		}
		return out
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	default:
		return v
	}
}

// Object returns d[key] as an object when it is one.
func (d Document) Object(key string) (map[string]any, bool) {
	return AsObject(d[key])
}

// AsObject converts a decoded JSON value into an object when possible.
func AsObject(value any) (map[string]any, bool) {
	switch v := value.(type) {
	case map[string]any:
		return v, true
	case Document:
		return map[string]any(v), true
	default:
		return nil, false
	}
}

// AsString returns value as a string when it is one.
func AsString(value any) (string, bool) {
	s, ok := value.(string)
	return s, ok
}

// AsList returns value as a JSON array when it is one.
func AsList(value any) ([]any, bool) {
	list, ok := value.([]any)
	return list, ok
}
