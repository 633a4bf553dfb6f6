// Package appstate holds the whole-application-state document family. An app
// state embeds chart configurations and migrates them with the chart runner
// as part of its own steps.
package appstate

import (
	"context"

	"github.com/visualize-admin/visualization-tool-sub010/internal/chartconfig"
	"github.com/visualize-admin/visualization-tool-sub010/internal/migrate"
)

// Family names application state documents.
const Family = "app-state"

// DefaultChartKey is given to the only chart of a state whose chart has no key.
const DefaultChartKey = "chart-1"

// Registry is the app state migration chain.
var Registry = migrate.MustRegistry(Family, steps())

// CurrentVersion is the version running code expects.
func CurrentVersion() string { return Registry.CurrentVersion() }

// NewRunner returns a runner over Registry whose decoder also validates the
// embedded charts.
func NewRunner(opts ...migrate.Option) *migrate.Runner {
	dec := NewDecoder(chartconfig.NewDecoder())
	return migrate.NewRunner(Registry, append([]migrate.Option{migrate.WithDecoder(dec)}, opts...)...)
}

// Migrate moves doc to toVersion, or to the current version when empty.
func Migrate(ctx context.Context, doc migrate.Document, toVersion string, opts ...migrate.Option) (migrate.Result, error) {
	return NewRunner(opts...).Migrate(ctx, doc, migrate.Options{ToVersion: toVersion})
}
