package rewrite

import (
	"strconv"
	"strings"

	"github.com/visualize-admin/visualization-tool-sub010/internal/migrate"
)

// JoinReferencesKey records the global references that named a join member
// other than the first one, so expanding the join binds them to the same cube
// again.
const JoinReferencesKey = "joinByReferences"

// joinReference is one rewritten reference site. Path is a JSON pointer to the
// slot now holding Placeholder. For key sites the last path segment is the
// placeholder key itself.
type joinReference struct {
	Path        string
	Placeholder string
	ComponentID string
	Key         bool
}

// memberReferences lists the global reference sites that the collapse will
// rewrite from a non-first member to its placeholder.
func memberReferences(doc migrate.Document, layout Layout, joins Joins, global Mapping) []joinReference {
	first := make(map[string]string, len(joins))
	for ph, members := range joins {
		if len(members) > 0 {
			first[ph] = members[0].ComponentID
		}
	}
	rebound := func(id string) (string, bool) {
		ph, ok := global[id]
		if !ok {
			return "", false
		}
		head, joined := first[ph]
		return ph, joined && head != id
	}

	var refs []joinReference
	walkGlobal(doc, layout, func(_ string, path []string, obj map[string]any) {
		for _, key := range sortedKeys(obj) {
			if ph, ok := rebound(key); ok {
				refs = append(refs, joinReference{Path: pointer(at(path, ph)), Placeholder: ph, ComponentID: key, Key: true})
			}
		}
	}, func(path []string, obj map[string]any, key string) {
		id, _ := obj[key].(string)
		if ph, ok := rebound(id); ok {
			refs = append(refs, joinReference{Path: pointer(at(path, key)), Placeholder: ph, ComponentID: id})
		}
	}, func(path []string, list []any) {
		for i, item := range list {
			id, _ := item.(string)
			if ph, ok := rebound(id); ok {
				refs = append(refs, joinReference{Path: pointer(at(path, strconv.Itoa(i))), Placeholder: ph, ComponentID: id})
			}
		}
	})
	return refs
}

// keepRewritten drops references whose site was not rewritten, such as a key
// rename skipped because of a collision.
func keepRewritten(doc migrate.Document, refs []joinReference) []joinReference {
	out := refs[:0]
	for _, ref := range refs {
		parent, last, ok := resolveParent(doc, ref.Path)
		if !ok {
			continue
		}
		switch container := parent.(type) {
		case map[string]any:
			if ref.Key {
				_, moved := container[ref.Placeholder]
				_, stayed := container[ref.ComponentID]
				if moved && !stayed {
					out = append(out, ref)
				}
			} else if container[last] == ref.Placeholder {
				out = append(out, ref)
			}
		case []any:
			if i, err := strconv.Atoi(last); err == nil && i >= 0 && i < len(container) && container[i] == ref.Placeholder {
				out = append(out, ref)
			}
		}
	}
	return out
}

func restoreReference(doc migrate.Document, ref joinReference) {
	parent, last, ok := resolveParent(doc, ref.Path)
	if !ok {
		return
	}
	switch container := parent.(type) {
	case map[string]any:
		if ref.Key {
			value, moved := container[ref.Placeholder]
			if _, taken := container[ref.ComponentID]; moved && !taken && last == ref.Placeholder {
				delete(container, ref.Placeholder)
				container[ref.ComponentID] = value
			}
			return
		}
		if container[last] == ref.Placeholder {
			container[last] = ref.ComponentID
		}
	case []any:
		if i, err := strconv.Atoi(last); err == nil && i >= 0 && i < len(container) && container[i] == ref.Placeholder {
			container[i] = ref.ComponentID
		}
	}
}

func encodeReferences(refs []joinReference) []any {
	out := make([]any, len(refs))
	for i, ref := range refs {
		entry := map[string]any{
			"path":        ref.Path,
			"placeholder": ref.Placeholder,
			"componentId": ref.ComponentID,
		}
		if ref.Key {
			entry["key"] = true
		}
		out[i] = entry
	}
	return out
}

// readReferences decodes JoinReferencesKey. Malformed entries are skipped.
func readReferences(doc migrate.Document) []joinReference {
	list, ok := migrate.AsList(doc[JoinReferencesKey])
	if !ok {
		return nil
	}
	refs := make([]joinReference, 0, len(list))
	for _, item := range list {
		obj, ok := migrate.AsObject(item)
		if !ok {
			continue
		}
		path, _ := obj["path"].(string)
		ph, _ := obj["placeholder"].(string)
		id, _ := obj["componentId"].(string)
		key, _ := obj["key"].(bool)
		if path == "" || ph == "" || id == "" {
			continue
		}
		refs = append(refs, joinReference{Path: path, Placeholder: ph, ComponentID: id, Key: key})
	}
	return refs
}

// pointer encodes path as a JSON pointer (RFC 6901).
func pointer(path []string) string {
	var b strings.Builder
	for _, segment := range path {
		b.WriteByte('/')
		segment = strings.ReplaceAll(segment, "~", "~0")
		b.WriteString(strings.ReplaceAll(segment, "/", "~1"))
	}
	return b.String()
}

func splitPointer(ptr string) ([]string, bool) {
	if !strings.HasPrefix(ptr, "/") {
		return nil, false
	}
	parts := strings.Split(ptr[1:], "/")
	for i, part := range parts {
		part = strings.ReplaceAll(part, "~1", "/")
		parts[i] = strings.ReplaceAll(part, "~0", "~")
	}
	return parts, true
}

// resolveParent returns the object or list holding the last segment of ptr.
func resolveParent(doc migrate.Document, ptr string) (any, string, bool) {
	parts, ok := splitPointer(ptr)
	if !ok || len(parts) == 0 {
		return nil, "", false
	}
	var node any = map[string]any(doc)
	for _, part := range parts[:len(parts)-1] {
		switch container := node.(type) {
		case map[string]any:
			node, ok = container[part]
			if !ok {
				return nil, "", false
			}
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(container) {
				return nil, "", false
			}
			node = container[i]
		default:
			return nil, "", false
		}
	}
	return node, parts[len(parts)-1], true
}
