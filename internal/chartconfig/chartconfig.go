// Package chartconfig holds the chart configuration document family: its
// migration steps, its chart-type dispatch tables and its schema decoder.
package chartconfig

import (
	"context"

	"github.com/visualize-admin/visualization-tool-sub010/internal/migrate"
)

// Family names chart configuration documents.
const Family = "chart-config"

// Registry is the chart configuration migration chain.
var Registry = migrate.MustRegistry(Family, steps())

// CurrentVersion is the version running code expects.
func CurrentVersion() string { return Registry.CurrentVersion() }

// NewRunner returns a runner over Registry with the schema decoder installed.
// Later options win.
func NewRunner(opts ...migrate.Option) *migrate.Runner {
	return migrate.NewRunner(Registry, append([]migrate.Option{migrate.WithDecoder(NewDecoder())}, opts...)...)
}

// Migrate moves doc to toVersion, or to the current version when empty.
func Migrate(ctx context.Context, doc migrate.Document, toVersion string, opts ...migrate.Option) (migrate.Result, error) {
	return NewRunner(opts...).Migrate(ctx, doc, migrate.Options{ToVersion: toVersion})
}
