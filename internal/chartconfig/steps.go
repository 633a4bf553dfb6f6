package chartconfig

import (
	"context"
	"sort"

	"github.com/visualize-admin/visualization-tool-sub010/internal/migrate"
	"github.com/visualize-admin/visualization-tool-sub010/internal/rewrite"
)

// Locales are the languages a localized string carries.
var Locales = []string{"de", "fr", "it", "en"}

// Time units attached to range filters.
const (
	TimeUnitYear  = "Year"
	TimeUnitMonth = "Month"
	TimeUnitDay   = "Day"
)

func steps() []migrate.Step {
	return []migrate.Step{
		{From: "1.0.0", To: "1.1.0", Name: "interactive filters", Up: addInteractiveFilters, Down: removeInteractiveFilters},
		{From: "1.1.0", To: "1.2.0", Name: "localized meta", Up: localizeMeta},
		{From: "1.2.0", To: "2.0.0", Name: "cubes", Up: dataSetToCubes, Down: cubesToDataSet},
		{From: "2.0.0", To: "3.0.0", Name: "scoped identifiers", Up: scopeIdentifiers, Down: unscopeIdentifiers},
		{From: "3.0.0", To: "3.1.0", Name: "time units", Up: addTimeUnits, Down: removeTimeUnits},
		{From: "3.1.0", To: "4.0.0", Name: "joined dimensions", Up: collapseJoins, Down: expandJoins},
	}
}

func addInteractiveFilters(_ context.Context, env *migrate.Env, doc migrate.Document) (migrate.Document, error) {
	doc.SetVersion("1.1.0")
	ct, ok := ChartTypeOf(doc)
	if !ok {
		env.Warn("unknown-chart-type", "chart type not recognised, interactive filters not added", map[string]any{"chartType": doc["chartType"]})
		return doc, nil
	}
	support := interactive.Get(ct)
	if !support.filters {
		return doc, nil
	}
	if _, exists := doc["interactiveFiltersConfig"]; exists {
		return doc, nil
	}

	timeRange := map[string]any{"active": false, "componentId": ""}
	if support.timeRange {
		if x, ok := fieldComponent(doc, "x"); ok {
			timeRange["componentId"] = x
		}
	}
	legend := map[string]any{"active": false, "componentId": ""}
	if segment, ok := fieldComponent(doc, "segment"); ok {
		legend["componentId"] = segment
	}
	doc["interactiveFiltersConfig"] = map[string]any{
		"legend":      legend,
		"timeRange":   timeRange,
		"dataFilters": map[string]any{"active": false, "componentIds": []any{}},
	}
	return doc, nil
}

func removeInteractiveFilters(_ context.Context, _ *migrate.Env, doc migrate.Document) (migrate.Document, error) {
	doc.SetVersion("1.0.0")
	delete(doc, "interactiveFiltersConfig")
	return doc, nil
}

func fieldComponent(doc migrate.Document, name string) (string, bool) {
	fields, ok := doc.Object("fields")
	if !ok {
		return "", false
	}
	field, ok := migrate.AsObject(fields[name])
	if !ok {
		return "", false
	}
	id, ok := field["componentId"].(string)
	return id, ok && id != ""
}

func localizeMeta(_ context.Context, env *migrate.Env, doc migrate.Document) (migrate.Document, error) {
	doc.SetVersion("1.2.0")
	meta, ok := doc.Object("meta")
	if !ok {
		if _, present := doc["meta"]; present {
			env.Warn("malformed-meta", "meta is not an object, replaced with empty texts", nil)
		}
		meta = map[string]any{}
		doc["meta"] = meta
	}
	for _, key := range []string{"title", "description"} {
		switch v := meta[key].(type) {
		case string:
			meta[key] = localized(v)
		case map[string]any:
			for _, locale := range Locales {
				if _, ok := v[locale].(string); !ok {
					v[locale] = ""
				}
			}
		default:
			meta[key] = localized("")
		}
	}
	return doc, nil
}

func localized(s string) map[string]any {
	out := make(map[string]any, len(Locales))
	for _, locale := range Locales {
		out[locale] = s
	}
	return out
}

func dataSetToCubes(_ context.Context, env *migrate.Env, doc migrate.Document) (migrate.Document, error) {
	doc.SetVersion("2.0.0")
	dataSet, _ := doc["dataSet"].(string)
	filters, ok := doc.Object("filters")
	if !ok {
		filters = map[string]any{}
	}
	delete(doc, "dataSet")
	delete(doc, "filters")

	if dataSet == "" {
		env.Warn("missing-dataset", "document has no dataSet, no cube created", map[string]any{"droppedFilters": len(filters)})
		doc["cubes"] = []any{}
		return doc, nil
	}
	doc["cubes"] = []any{map[string]any{"iri": dataSet, "filters": filters}}
	return doc, nil
}

func cubesToDataSet(_ context.Context, env *migrate.Env, doc migrate.Document) (migrate.Document, error) {
	doc.SetVersion("1.2.0")
	cubes := rewrite.Cubes(doc)
	delete(doc, "cubes")
	if len(cubes) == 0 {
		doc["filters"] = map[string]any{}
		return doc, nil
	}
	if len(cubes) > 1 {
		dropped := make([]any, 0, len(cubes)-1)
		for _, c := range cubes[1:] {
			dropped = append(dropped, c.Iri)
		}
		env.Warn("cubes-dropped", "only the first cube survives a downgrade below 2.0.0", map[string]any{"cubes": dropped})
	}
	first := cubes[0]
	doc["dataSet"] = first.Iri
	if filters, ok := migrate.AsObject(first.Object["filters"]); ok {
		doc["filters"] = filters
	} else {
		doc["filters"] = map[string]any{}
	}
	return doc, nil
}

// scopeIdentifiers qualifies every identifier with the cube it belongs to.
// Cube filters and joinBy entries belong to their own cube. Other references
// go to the first cube that filters on them, then to the first cube the
// resolver knows them in, then to the first cube.
func scopeIdentifiers(ctx context.Context, env *migrate.Env, doc migrate.Document) (migrate.Document, error) {
	doc.SetVersion("3.0.0")
	cubes := rewrite.Cubes(doc)
	if len(cubes) == 0 {
		return doc, nil
	}
	iris := rewrite.CubeIris(doc)
	scoped := func(id string) bool {
		if rewrite.IsJoinByPlaceholder(id) {
			return true
		}
		_, _, ok := rewrite.SplitScopedID(id, iris)
		return ok
	}

	rw := rewrite.Rewrite{Global: rewrite.Mapping{}, PerCube: map[string]rewrite.Mapping{}}
	owner := map[string]string{}
	for _, c := range cubes {
		m := rewrite.Mapping{}
		single := migrate.Document{"cubes": []any{c.Object}}
		for _, id := range rewrite.CollectIDs(single, rewrite.Layout{}) {
			if scoped(id) {
				continue
			}
			m[id] = rewrite.ScopedID(c.Iri, id)
			if _, taken := owner[id]; !taken {
				owner[id] = c.Iri
			}
		}
		rw.PerCube[c.Iri] = m
	}

	layout := LayoutOf(doc)
	for _, id := range rewrite.CollectIDs(doc, layout) {
		if scoped(id) {
			continue
		}
		if _, done := rw.Global[id]; done {
			continue
		}
		iri, ok := owner[id]
		if !ok {
			iri = resolveOwner(ctx, env, cubes, id)
		}
		rw.Global[id] = rewrite.ScopedID(iri, id)
	}

	st := rewrite.Apply(doc, rw, layout)
	warnCollisions(env, st)
	return doc, nil
}

func resolveOwner(ctx context.Context, env *migrate.Env, cubes []rewrite.Cube, id string) string {
	if len(cubes) == 1 {
		return cubes[0].Iri
	}
	for _, c := range cubes {
		if _, ok := env.ResolveDimension(ctx, c.Iri, id); ok {
			return c.Iri
		}
	}
	env.Warn("ambiguous-reference", "identifier not found in any cube, assigned to the first cube", map[string]any{
		"componentId": id,
		"cubeIri":     cubes[0].Iri,
	})
	return cubes[0].Iri
}

func unscopeIdentifiers(_ context.Context, env *migrate.Env, doc migrate.Document) (migrate.Document, error) {
	doc.SetVersion("2.0.0")
	cubes := rewrite.Cubes(doc)
	if len(cubes) == 0 {
		return doc, nil
	}
	iris := rewrite.CubeIris(doc)
	strip := func(ids []string, only string) rewrite.Mapping {
		m := rewrite.Mapping{}
		for _, id := range ids {
			iri, name, ok := rewrite.SplitScopedID(id, iris)
			if !ok || (only != "" && iri != only) {
				continue
			}
			m[id] = name
		}
		return m
	}

	rw := rewrite.Rewrite{PerCube: map[string]rewrite.Mapping{}}
	for _, c := range cubes {
		single := migrate.Document{"cubes": []any{c.Object}}
		rw.PerCube[c.Iri] = strip(rewrite.CollectAllIDs(single, rewrite.Layout{}), c.Iri)
	}
	layout := LayoutOf(doc)
	rw.Global = strip(rewrite.CollectAllIDs(doc, layout), "")

	st := rewrite.Apply(doc, rw, layout)
	warnCollisions(env, st)
	return doc, nil
}

func warnCollisions(env *migrate.Env, st rewrite.Stats) {
	for _, c := range st.Collisions {
		env.Warn("rename-collision", "identifier not renamed, target already present", map[string]any{
			"site":   c.Site,
			"from":   c.From,
			"target": c.Target,
		})
	}
}

func addTimeUnits(ctx context.Context, env *migrate.Env, doc migrate.Document) (migrate.Document, error) {
	doc.SetVersion("3.1.0")
	for _, c := range rewrite.Cubes(doc) {
		filters, ok := migrate.AsObject(c.Object["filters"])
		if !ok {
			continue
		}
		ids := make([]string, 0, len(filters))
		for id := range filters {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			filter, ok := migrate.AsObject(filters[id])
			if !ok || filter["type"] != "range" {
				continue
			}
			if _, has := filter["timeUnit"]; has {
				continue
			}
			name := id
			if _, bare, ok := rewrite.SplitScopedID(id, []string{c.Iri}); ok {
				name = bare
			}
			from, _ := filter["from"].(string)
			if meta, ok := env.ResolveDimension(ctx, c.Iri, name); ok && meta.TimeUnit != "" {
				if knownTimeUnit(meta.TimeUnit) {
					filter["timeUnit"] = meta.TimeUnit
					continue
				}
				env.Warn("unsupported-time-unit", "resolved time unit is not supported, inferred from the value", map[string]any{
					"cubeIri":     c.Iri,
					"dimensionId": name,
					"timeUnit":    meta.TimeUnit,
				})
			}
			filter["timeUnit"] = inferTimeUnit(from)
		}
	}
	return doc, nil
}

func knownTimeUnit(unit string) bool {
	switch unit {
	case TimeUnitYear, TimeUnitMonth, TimeUnitDay:
		return true
	}
	return false
}

// inferTimeUnit guesses the unit from an ISO date value: "2020", "2020-05"
// or "2020-05-17".
func inferTimeUnit(value string) string {
	switch len(value) {
	case 4:
		return TimeUnitYear
	case 7:
		return TimeUnitMonth
	default:
		return TimeUnitDay
	}
}

func removeTimeUnits(_ context.Context, _ *migrate.Env, doc migrate.Document) (migrate.Document, error) {
	doc.SetVersion("3.0.0")
	for _, c := range rewrite.Cubes(doc) {
		filters, ok := migrate.AsObject(c.Object["filters"])
		if !ok {
			continue
		}
		for _, value := range filters {
			if filter, ok := migrate.AsObject(value); ok && filter["type"] == "range" {
				delete(filter, "timeUnit")
			}
		}
	}
	return doc, nil
}

func collapseJoins(_ context.Context, env *migrate.Env, doc migrate.Document) (migrate.Document, error) {
	doc.SetVersion("4.0.0")
	rewrite.CollapseJoins(doc, LayoutOf(doc), env)
	return doc, nil
}

func expandJoins(_ context.Context, _ *migrate.Env, doc migrate.Document) (migrate.Document, error) {
	doc.SetVersion("3.1.0")
	rewrite.ExpandJoins(doc, LayoutOf(doc))
	return doc, nil
}
