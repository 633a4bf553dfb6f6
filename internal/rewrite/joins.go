package rewrite

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/visualize-admin/visualization-tool-sub010/internal/migrate"
)

// JoinMappingKey holds the reverse mapping of collapsed join dimensions.
const JoinMappingKey = "joinByMapping"

const joinPlaceholderPrefix = "joinBy__"

// JoinedDimension is one cube's member of a collapsed join.
type JoinedDimension struct {
	CubeIri     string `json:"cubeIri"`
	ComponentID string `json:"componentId"`
}

// Joins maps a placeholder to its members in cube declaration order.
type Joins map[string][]JoinedDimension

// Placeholders returns the placeholders in positional order.
func (j Joins) Placeholders() []string {
	out := make([]string, 0, len(j))
	for ph := range j {
		out = append(out, ph)
	}
	sort.Slice(out, func(a, b int) bool {
		ia, _ := joinPosition(out[a])
		ib, _ := joinPosition(out[b])
		if ia != ib {
			return ia < ib
		}
		return out[a] < out[b]
	})
	return out
}

// JoinByPlaceholder names the joined dimension at joinBy position i.
func JoinByPlaceholder(i int) string {
	return joinPlaceholderPrefix + strconv.Itoa(i)
}

// IsJoinByPlaceholder reports whether id names a collapsed join.
func IsJoinByPlaceholder(id string) bool {
	_, ok := joinPosition(id)
	return ok
}

func joinPosition(id string) (int, bool) {
	if !strings.HasPrefix(id, joinPlaceholderPrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(id[len(joinPlaceholderPrefix):])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// CollapseJoins replaces the dimensions that cubes are joined on with one
// placeholder per joinBy position, so the joined cubes share a single filter
// and every global reference names the join. The joinBy lists themselves are
// kept so the join can be expanded again. Members are taken in cube
// declaration order, which makes the outcome independent of map iteration.
//
// When two cubes filter the joined dimension differently the first cube's
// filter is kept and a "join-filter-conflict" warning is recorded. Fewer than
// two joining cubes leaves the document unchanged.
func CollapseJoins(doc migrate.Document, layout Layout, env *migrate.Env) Joins {
	if _, exists := doc[JoinMappingKey]; exists {
		env.Warn("join-already-collapsed", "document already carries a join mapping", nil)
		return nil
	}

	cubes := Cubes(doc)
	iris := make([]string, len(cubes))
	for i, c := range cubes {
		iris[i] = c.Iri
	}

	type joining struct {
		cube   Cube
		joinBy []any
	}
	var members []joining
	width := 0
	for _, c := range cubes {
		list, ok := migrate.AsList(c.Object["joinBy"])
		if !ok || len(list) == 0 {
			continue
		}
		members = append(members, joining{cube: c, joinBy: list})
		if len(list) > width {
			width = len(list)
		}
	}
	if len(members) < 2 {
		return nil
	}

	joins := Joins{}
	rw := Rewrite{Global: Mapping{}, PerCube: map[string]Mapping{}, KeepJoinBy: true}
	for k := 0; k < width; k++ {
		ph := JoinByPlaceholder(k)
		for _, m := range members {
			if k >= len(m.joinBy) {
				continue
			}
			id, ok := m.joinBy[k].(string)
			if !ok || id == "" {
				env.Warn("join-invalid-entry", "joinBy entry is not an identifier", map[string]any{
					"cubeIri":  m.cube.Iri,
					"position": k,
				})
				continue
			}
			if strings.Contains(id, ScopeSeparator) {
				if _, _, known := SplitScopedID(id, iris); !known {
					env.Warn("join-unknown-cube", "joinBy entry is scoped to a cube that is not in the document", map[string]any{
						"cubeIri":     m.cube.Iri,
						"componentId": id,
					})
					continue
				}
			}
			joins[ph] = append(joins[ph], JoinedDimension{CubeIri: m.cube.Iri, ComponentID: id})
			if rw.PerCube[m.cube.Iri] == nil {
				rw.PerCube[m.cube.Iri] = Mapping{}
			}
			rw.PerCube[m.cube.Iri][id] = ph
			if _, taken := rw.Global[id]; !taken {
				rw.Global[id] = ph
			}
		}
		if len(joins[ph]) < 2 {
			delete(joins, ph)
			for _, m := range members {
				for id, target := range rw.PerCube[m.cube.Iri] {
					if target == ph {
						delete(rw.PerCube[m.cube.Iri], id)
					}
				}
			}
			for id, target := range rw.Global {
				if target == ph {
					delete(rw.Global, id)
				}
			}
		}
	}
	if len(joins) == 0 {
		return nil
	}

	byIri := make(map[string]Cube, len(cubes))
	for _, c := range cubes {
		byIri[c.Iri] = c
		if rw.PerCube[c.Iri] == nil {
			rw.PerCube[c.Iri] = Mapping{}
		}
	}
	shared := map[string]any{}
	for _, ph := range joins.Placeholders() {
		var kept *JoinedDimension
		for i, member := range joins[ph] {
			filters, ok := migrate.AsObject(byIri[member.CubeIri].Object["filters"])
			if !ok {
				continue
			}
			filter, ok := filters[member.ComponentID]
			if !ok {
				continue
			}
			if kept == nil {
				kept = &joins[ph][i]
				shared[ph] = migrate.CloneValue(filter)
				continue
			}
			if !reflect.DeepEqual(shared[ph], filter) {
				env.Warn("join-filter-conflict", fmt.Sprintf("cubes filter %s differently, keeping the first", ph), map[string]any{
					"placeholder":   ph,
					"keptCube":      kept.CubeIri,
					"discardedCube": member.CubeIri,
				})
			}
		}
	}

	refs := memberReferences(doc, layout, joins, rw.Global)
	Apply(doc, rw, layout)
	refs = keepRewritten(doc, refs)

	for ph, filter := range shared {
		for _, member := range joins[ph] {
			filters, ok := migrate.AsObject(byIri[member.CubeIri].Object["filters"])
			if !ok {
				continue
			}
			if _, has := filters[ph]; has {
				filters[ph] = migrate.CloneValue(filter)
			}
		}
	}

	doc[JoinMappingKey] = joins.encode()
	if len(refs) > 0 {
		doc[JoinReferencesKey] = encodeReferences(refs)
	}
	return joins
}

// ExpandJoins undoes CollapseJoins using the stored reverse mapping. Global
// references recorded under JoinReferencesKey get their original member back;
// any other global reference to a placeholder is expanded to its first
// member. It reports whether the document carried a mapping.
func ExpandJoins(doc migrate.Document, layout Layout) bool {
	joins, ok := ReadJoins(doc)
	if !ok {
		return false
	}
	for _, ref := range readReferences(doc) {
		restoreReference(doc, ref)
	}
	delete(doc, JoinReferencesKey)
	rw := Rewrite{Global: Mapping{}, PerCube: map[string]Mapping{}, KeepJoinBy: true}
	for ph, members := range joins {
		for i, member := range members {
			if i == 0 {
				rw.Global[ph] = member.ComponentID
			}
			if rw.PerCube[member.CubeIri] == nil {
				rw.PerCube[member.CubeIri] = Mapping{}
			}
			rw.PerCube[member.CubeIri][ph] = member.ComponentID
		}
	}
	for _, iri := range CubeIris(doc) {
		if _, ok := rw.PerCube[iri]; !ok {
			rw.PerCube[iri] = Mapping{}
		}
	}
	Apply(doc, rw, layout)
	delete(doc, JoinMappingKey)
	return true
}

// ReadJoins decodes the stored reverse mapping. Malformed members are skipped.
func ReadJoins(doc migrate.Document) (Joins, bool) {
	raw, ok := doc.Object(JoinMappingKey)
	if !ok {
		return nil, false
	}
	joins := Joins{}
	for ph, value := range raw {
		list, ok := migrate.AsList(value)
		if !ok {
			continue
		}
		for _, item := range list {
			obj, ok := migrate.AsObject(item)
			if !ok {
				continue
			}
			iri, _ := obj["cubeIri"].(string)
			id, _ := obj["componentId"].(string)
			if iri == "" || id == "" {
				continue
			}
			joins[ph] = append(joins[ph], JoinedDimension{CubeIri: iri, ComponentID: id})
		}
	}
	return joins, true
}

func (j Joins) encode() map[string]any {
	out := make(map[string]any, len(j))
	for ph, members := range j {
		list := make([]any, len(members))
		for i, m := range members {
			list[i] = map[string]any{"cubeIri": m.CubeIri, "componentId": m.ComponentID}
		}
		out[ph] = list
	}
	return out
}
