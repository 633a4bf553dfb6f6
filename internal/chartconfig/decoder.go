package chartconfig

import (
	_ "embed"

	"github.com/visualize-admin/visualization-tool-sub010/internal/migrate"
	"github.com/visualize-admin/visualization-tool-sub010/internal/validate"
)

//go:embed schema/chart-config.json
var schemaJSON []byte

var schema = validate.MustCompile("chart-config.json", schemaJSON)

// Decoder validates documents against the current chart configuration schema.
type Decoder struct {
	schema *validate.Schema
}

func NewDecoder() *Decoder {
	return &Decoder{schema: schema}
}

// Decode returns a *migrate.ValidationError when doc does not match.
func (d *Decoder) Decode(doc migrate.Document) error {
	v, _ := doc.Version()
	problems, err := d.schema.Problems(map[string]any(doc))
	if err != nil {
		return &migrate.ValidationError{Family: Family, Version: v, Err: err}
	}
	if len(problems) > 0 {
		return &migrate.ValidationError{Family: Family, Version: v, Problems: problems}
	}
	return nil
}
