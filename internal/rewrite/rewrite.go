// Package rewrite renames identifier references inside chart configuration
// documents when the identifier encoding changes between schema versions.
//
// A reference site is any place a document names a dimension or measure:
// cube filter keys and joinBy entries, field encodings, color mappings, the
// interactive filters configuration, sort orders and limits. Rewrites are
// plain substitutions; identifiers missing from a mapping are left alone.
package rewrite

import (
	"sort"
	"strconv"
	"strings"

	"github.com/visualize-admin/visualization-tool-sub010/internal/migrate"
)

const colorMappingSite = "fields.colorMapping"

// ScopeSeparator joins a cube iri and a dimension name in a scoped identifier.
const ScopeSeparator = "::"

// Mapping maps old identifiers to new ones.
type Mapping map[string]string

// Layout describes chart-type specific reference sites.
type Layout struct {
	// FieldsKeyedByComponent is set when the fields object itself is keyed by
	// component identifier, as it is for tables.
	FieldsKeyedByComponent bool
}

// Rewrite is a set of substitutions. PerCube mappings apply to a cube's own
// filters and joinBy entries; cubes without one use Global.
type Rewrite struct {
	Global  Mapping
	PerCube map[string]Mapping
	// KeepJoinBy leaves the cubes' joinBy lists as they are.
	KeepJoinBy bool
}

// Collision is a rename that was skipped because the target key already
// existed in the same object.
type Collision struct {
	Site   string
	From   string
	Target string
}

// Stats summarizes an Apply call.
type Stats struct {
	Renamed    int
	Collisions []Collision
}

// ScopedID returns the cube-qualified form of a dimension name.
func ScopedID(cubeIri, name string) string {
	return cubeIri + ScopeSeparator + name
}

// SplitScopedID splits id into the cube iri and name when it is scoped to one
// of cubeIris. The longest matching iri wins.
func SplitScopedID(id string, cubeIris []string) (cubeIri, name string, ok bool) {
	for _, iri := range cubeIris {
		prefix := iri + ScopeSeparator
		if strings.HasPrefix(id, prefix) && len(iri) > len(cubeIri) {
			cubeIri, name, ok = iri, id[len(prefix):], true
		}
	}
	return cubeIri, name, ok
}

// Rescope substitutes identifiers across every reference site with one mapping.
func Rescope(doc migrate.Document, mapping Mapping, layout Layout) Stats {
	return Apply(doc, Rewrite{Global: mapping}, layout)
}

// Apply rewrites doc in place.
func Apply(doc migrate.Document, rw Rewrite, layout Layout) Stats {
	var st Stats
	for _, cube := range Cubes(doc) {
		m := rw.Global
		if per, ok := rw.PerCube[cube.Iri]; ok {
			m = per
		}
		if filters, ok := migrate.AsObject(cube.Object["filters"]); ok {
			renameKeys(&st, "cubes.filters", filters, m)
		}
		if joinBy, ok := migrate.AsList(cube.Object["joinBy"]); ok && !rw.KeepJoinBy {
			renameList(&st, joinBy, m)
		}
	}
	walkGlobal(doc, layout, func(site string, _ []string, obj map[string]any) {
		renameKeys(&st, site, obj, rw.Global)
	}, func(_ []string, obj map[string]any, key string) {
		renameValue(&st, obj, key, rw.Global)
	}, func(_ []string, list []any) {
		renameList(&st, list, rw.Global)
	})
	return st
}

// CollectIDs lists the identifiers found at reference sites, in a stable
// order: cubes first in declaration order, then the remaining sites. Color
// mapping keys are left out since they may hold dimension values; Apply still
// renames them when a mapping names them.
func CollectIDs(doc migrate.Document, layout Layout) []string {
	return collect(doc, layout, false)
}

// CollectAllIDs is CollectIDs including color mapping keys.
func CollectAllIDs(doc migrate.Document, layout Layout) []string {
	return collect(doc, layout, true)
}

func collect(doc migrate.Document, layout Layout, colorKeys bool) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0)
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, cube := range Cubes(doc) {
		if filters, ok := migrate.AsObject(cube.Object["filters"]); ok {
			for _, key := range sortedKeys(filters) {
				add(key)
			}
		}
		if joinBy, ok := migrate.AsList(cube.Object["joinBy"]); ok {
			for _, item := range joinBy {
				if s, ok := item.(string); ok {
					add(s)
				}
			}
		}
	}
	walkGlobal(doc, layout, func(site string, _ []string, obj map[string]any) {
		if site == colorMappingSite && !colorKeys {
			return
		}
		for _, key := range sortedKeys(obj) {
			add(key)
		}
	}, func(_ []string, obj map[string]any, key string) {
		if s, ok := obj[key].(string); ok {
			add(s)
		}
	}, func(_ []string, list []any) {
		for _, item := range list {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	})
	return out
}

// Cube is a cube entry of a document.
type Cube struct {
	Iri    string
	Object map[string]any
}

// Cubes returns the well-formed cube entries in declaration order. Entries
// that are not objects or have no iri are skipped.
func Cubes(doc migrate.Document) []Cube {
	list, ok := migrate.AsList(doc["cubes"])
	if !ok {
		return nil
	}
	out := make([]Cube, 0, len(list))
	for _, item := range list {
		obj, ok := migrate.AsObject(item)
		if !ok {
			continue
		}
		iri, ok := obj["iri"].(string)
		if !ok || iri == "" {
			continue
		}
		out = append(out, Cube{Iri: iri, Object: obj})
	}
	return out
}

// CubeIris lists the iris of Cubes(doc).
func CubeIris(doc migrate.Document) []string {
	cubes := Cubes(doc)
	out := make([]string, len(cubes))
	for i, c := range cubes {
		out[i] = c.Iri
	}
	return out
}

// walkGlobal visits every reference site outside the cubes list. keys is
// called for objects keyed by identifiers, value for string fields holding an
// identifier and list for lists of identifiers. Each callback gets the path of
// the object or list it is handed.
func walkGlobal(doc migrate.Document, layout Layout, keys func(site string, path []string, obj map[string]any), value func(path []string, obj map[string]any, key string), list func(path []string, l []any)) {
	if fields, ok := doc.Object("fields"); ok {
		for _, name := range sortedKeys(fields) {
			field, ok := migrate.AsObject(fields[name])
			if !ok {
				continue
			}
			value(at(nil, "fields", name), field, "componentId")
			if ids, ok := migrate.AsList(field["componentIds"]); ok {
				list(at(nil, "fields", name, "componentIds"), ids)
			}
			if colors, ok := migrate.AsObject(field["colorMapping"]); ok {
				keys(colorMappingSite, at(nil, "fields", name, "colorMapping"), colors)
			}
		}
		if layout.FieldsKeyedByComponent {
			keys("fields", at(nil, "fields"), fields)
		}
	}

	if ifc, ok := doc.Object("interactiveFiltersConfig"); ok {
		base := at(nil, "interactiveFiltersConfig")
		if legend, ok := migrate.AsObject(ifc["legend"]); ok {
			value(at(base, "legend"), legend, "componentId")
		}
		if timeRange, ok := migrate.AsObject(ifc["timeRange"]); ok {
			value(at(base, "timeRange"), timeRange, "componentId")
		}
		if dataFilters, ok := migrate.AsObject(ifc["dataFilters"]); ok {
			if ids, ok := migrate.AsList(dataFilters["componentIds"]); ok {
				list(at(base, "dataFilters", "componentIds"), ids)
			}
		}
	}

	if sorting, ok := migrate.AsList(doc["sorting"]); ok {
		for i, item := range sorting {
			if obj, ok := migrate.AsObject(item); ok {
				value(at(nil, "sorting", strconv.Itoa(i)), obj, "componentId")
			}
		}
	}

	if limits, ok := doc.Object("limits"); ok {
		for _, measure := range sortedKeys(limits) {
			entries, ok := migrate.AsList(limits[measure])
			if !ok {
				continue
			}
			for i, entry := range entries {
				obj, ok := migrate.AsObject(entry)
				if !ok {
					continue
				}
				related, ok := migrate.AsList(obj["related"])
				if !ok {
					continue
				}
				for j, rel := range related {
					if relObj, ok := migrate.AsObject(rel); ok {
						value(at(nil, "limits", measure, strconv.Itoa(i), "related", strconv.Itoa(j)), relObj, "dimensionId")
					}
				}
			}
		}
		keys("limits", at(nil, "limits"), limits)
	}
}

// at returns a fresh path of base followed by segments.
func at(base []string, segments ...string) []string {
	out := make([]string, 0, len(base)+len(segments))
	out = append(out, base...)
	return append(out, segments...)
}

func renameValue(st *Stats, obj map[string]any, key string, m Mapping) {
	id, ok := obj[key].(string)
	if !ok {
		return
	}
	if next, ok := m[id]; ok && next != id {
		obj[key] = next
		st.Renamed++
	}
}

func renameList(st *Stats, list []any, m Mapping) {
	for i, item := range list {
		id, ok := item.(string)
		if !ok {
			continue
		}
		if next, ok := m[id]; ok && next != id {
			list[i] = next
			st.Renamed++
		}
	}
}

// renameKeys renames the keys of obj in place. Keys that stay put are placed
// first, so a rename never overwrites an existing entry; such a rename is
// recorded as a collision and the entry keeps its old key.
func renameKeys(st *Stats, site string, obj map[string]any, m Mapping) {
	if len(m) == 0 || len(obj) == 0 {
		return
	}
	renamed := make([]string, 0)
	for key := range obj {
		if next, ok := m[key]; ok && next != key {
			renamed = append(renamed, key)
		}
	}
	if len(renamed) == 0 {
		return
	}
	sort.Strings(renamed)

	moved := make(map[string]any, len(renamed))
	for _, key := range renamed {
		moved[key] = obj[key]
		delete(obj, key)
	}
	for _, key := range renamed {
		target := m[key]
		if _, taken := obj[target]; taken {
			st.Collisions = append(st.Collisions, Collision{Site: site, From: key, Target: target})
			obj[key] = moved[key]
			continue
		}
		obj[target] = moved[key]
		st.Renamed++
	}
}

func sortedKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for key := range obj {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
