package chartconfig

import (
	"fmt"

	"github.com/visualize-admin/visualization-tool-sub010/internal/migrate"
	"github.com/visualize-admin/visualization-tool-sub010/internal/rewrite"
)

// ChartType names a chart variant.
type ChartType string

const (
	Column      ChartType = "column"
	Line        ChartType = "line"
	Area        ChartType = "area"
	Pie         ChartType = "pie"
	Scatterplot ChartType = "scatterplot"
	Map         ChartType = "map"
	Table       ChartType = "table"
)

// ChartTypes lists every variant.
var ChartTypes = []ChartType{Column, Line, Area, Pie, Scatterplot, Map, Table}

// ParseChartType reports whether s names a known chart type.
func ParseChartType(s string) (ChartType, bool) {
	for _, ct := range ChartTypes {
		if string(ct) == s {
			return ct, true
		}
	}
	return "", false
}

// ChartTypeOf reads the chart type of a document.
func ChartTypeOf(doc migrate.Document) (ChartType, bool) {
	s, ok := doc["chartType"].(string)
	if !ok {
		return "", false
	}
	return ParseChartType(s)
}

// Variants holds one value per chart type. NewVariants refuses a table that
// misses a variant, so adding a chart type fails at start-up until every
// dispatch table handles it.
type Variants[T any] struct {
	byType map[ChartType]T
}

// NewVariants panics unless m covers every chart type exactly.
func NewVariants[T any](name string, m map[ChartType]T) Variants[T] {
	for _, ct := range ChartTypes {
		if _, ok := m[ct]; !ok {
			panic(fmt.Sprintf("chartconfig: %s has no entry for chart type %q", name, ct))
		}
	}
	if len(m) != len(ChartTypes) {
		panic(fmt.Sprintf("chartconfig: %s has entries for unknown chart types", name))
	}
	byType := make(map[ChartType]T, len(m))
	for ct, v := range m {
		byType[ct] = v
	}
	return Variants[T]{byType: byType}
}

// Get returns the value for ct.
func (v Variants[T]) Get(ct ChartType) T {
	return v.byType[ct]
}

var layouts = NewVariants("layouts", map[ChartType]rewrite.Layout{
	Column:      {},
	Line:        {},
	Area:        {},
	Pie:         {},
	Scatterplot: {},
	Map:         {},
	Table:       {FieldsKeyedByComponent: true},
})

type interactiveSupport struct {
	filters   bool
	timeRange bool
}

var interactive = NewVariants("interactive", map[ChartType]interactiveSupport{
	Column:      {filters: true, timeRange: true},
	Line:        {filters: true, timeRange: true},
	Area:        {filters: true, timeRange: true},
	Pie:         {filters: true},
	Scatterplot: {filters: true},
	Map:         {filters: true},
	Table:       {},
})

// LayoutOf returns the reference-site layout of a document. Documents with an
// unknown chart type get the default layout.
func LayoutOf(doc migrate.Document) rewrite.Layout {
	ct, ok := ChartTypeOf(doc)
	if !ok {
		return rewrite.Layout{}
	}
	return layouts.Get(ct)
}
