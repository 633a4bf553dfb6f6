package appstate

import (
	"context"

	"github.com/visualize-admin/visualization-tool-sub010/internal/chartconfig"
	"github.com/visualize-admin/visualization-tool-sub010/internal/migrate"
	"github.com/visualize-admin/visualization-tool-sub010/internal/version"
)

func steps() []migrate.Step {
	return []migrate.Step{
		{From: "1.0.0", To: "2.0.0", Name: "multiple charts", Up: chartListUp, Down: chartListDown},
		{From: "2.0.0", To: "3.0.0", Name: "per-chart data sets", Up: dropDataSetUp, Down: dropDataSetDown},
		{From: "3.0.0", To: "3.1.0", Name: "layout", Up: layoutUp, Down: layoutDown},
	}
}

func chartListUp(_ context.Context, env *migrate.Env, doc migrate.Document) (migrate.Document, error) {
	doc.SetVersion("2.0.0")
	raw, present := doc["chartConfig"]
	delete(doc, "chartConfig")
	chart, ok := migrate.AsObject(raw)
	if !ok {
		if present {
			env.Warn("malformed-chart", "chartConfig is not an object and was dropped", nil)
		}
		doc["chartConfigs"] = []any{}
		doc["activeChartKey"] = ""
		return doc, nil
	}
	key, _ := chart["key"].(string)
	if key == "" {
		key = DefaultChartKey
		chart["key"] = key
	}
	doc["chartConfigs"] = []any{chart}
	doc["activeChartKey"] = key
	return doc, nil
}

func chartListDown(_ context.Context, env *migrate.Env, doc migrate.Document) (migrate.Document, error) {
	doc.SetVersion("1.0.0")
	charts := chartList(doc)
	active, _ := doc["activeChartKey"].(string)
	delete(doc, "chartConfigs")
	delete(doc, "activeChartKey")
	if len(charts) == 0 {
		return doc, nil
	}
	keep := 0
	for i, c := range charts {
		if key, _ := c["key"].(string); key == active {
			keep = i
			break
		}
	}
	if len(charts) > 1 {
		dropped := make([]any, 0, len(charts)-1)
		for i, c := range charts {
			if i != keep {
				dropped = append(dropped, c["key"])
			}
		}
		env.Warn("charts-dropped", "only the active chart survives a downgrade below 2.0.0", map[string]any{"charts": dropped})
	}
	doc["chartConfig"] = charts[keep]
	return doc, nil
}

func dropDataSetUp(ctx context.Context, env *migrate.Env, doc migrate.Document) (migrate.Document, error) {
	doc.SetVersion("3.0.0")
	dataSet, _ := doc["dataSet"].(string)
	delete(doc, "dataSet")
	if dataSet != "" {
		for _, chart := range chartList(doc) {
			if _, has := chart["dataSet"]; has {
				continue
			}
			v, _ := chart[migrate.VersionKey].(string)
			if order, err := version.Compare(v, "2.0.0"); err == nil && order == version.Before {
				chart["dataSet"] = dataSet
			}
		}
	}
	if err := migrateCharts(ctx, env, doc, "2.0.0"); err != nil {
		return nil, err
	}
	return doc, nil
}

func dropDataSetDown(ctx context.Context, env *migrate.Env, doc migrate.Document) (migrate.Document, error) {
	doc.SetVersion("2.0.0")
	if err := migrateCharts(ctx, env, doc, "1.2.0"); err != nil {
		return nil, err
	}
	charts := chartList(doc)
	active, _ := doc["activeChartKey"].(string)
	var dataSet string
	for _, c := range charts {
		ds, _ := c["dataSet"].(string)
		if ds == "" {
			continue
		}
		if dataSet == "" {
			dataSet = ds
		}
		if key, _ := c["key"].(string); key == active {
			dataSet = ds
			break
		}
	}
	if dataSet != "" {
		doc["dataSet"] = dataSet
	}
	return doc, nil
}

func layoutUp(ctx context.Context, env *migrate.Env, doc migrate.Document) (migrate.Document, error) {
	doc.SetVersion("3.1.0")
	if _, has := doc["layout"]; !has {
		doc["layout"] = map[string]any{"type": "tab"}
	}
	if err := migrateCharts(ctx, env, doc, chartconfig.CurrentVersion()); err != nil {
		return nil, err
	}
	return doc, nil
}

func layoutDown(ctx context.Context, env *migrate.Env, doc migrate.Document) (migrate.Document, error) {
	doc.SetVersion("3.0.0")
	delete(doc, "layout")
	if err := migrateCharts(ctx, env, doc, "2.0.0"); err != nil {
		return nil, err
	}
	return doc, nil
}

func chartList(doc migrate.Document) []map[string]any {
	list, ok := migrate.AsList(doc["chartConfigs"])
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if chart, ok := migrate.AsObject(item); ok {
			out = append(out, chart)
		}
	}
	return out
}

// migrateCharts moves every embedded chart to target with a nested chart
// runner. A chart that cannot be migrated is left as it is and reported as a
// warning; broken invariants abort the whole step.
func migrateCharts(ctx context.Context, env *migrate.Env, doc migrate.Document, target string) error {
	list, ok := migrate.AsList(doc["chartConfigs"])
	if !ok {
		return nil
	}
	runner := migrate.NewRunner(chartconfig.Registry, env.Inherit()...)
	for i, item := range list {
		chart, ok := migrate.AsObject(item)
		if !ok {
			env.Warn("malformed-chart", "chart entry is not an object", map[string]any{"index": i})
			continue
		}
		key, _ := chart["key"].(string)
		res, err := runner.Migrate(ctx, migrate.Document(chart), migrate.Options{ToVersion: target})
		if err != nil {
			if !migrate.Recoverable(err) {
				return err
			}
			env.Warn("chart-migration-failed", err.Error(), map[string]any{"chartKey": key, "index": i})
			continue
		}
		for _, w := range res.Warnings {
			details := map[string]any{"chartKey": key, "chartStep": w.Step}
			for k, v := range w.Details {
				details[k] = v
			}
			env.Warn(w.Code, w.Message, details)
		}
		list[i] = map[string]any(res.Document)
	}
	return nil
}
