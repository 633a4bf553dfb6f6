package appstate

import (
	_ "embed"
	"errors"
	"fmt"

	"github.com/visualize-admin/visualization-tool-sub010/internal/migrate"
	"github.com/visualize-admin/visualization-tool-sub010/internal/validate"
)

//go:embed schema/app-state.json
var schemaJSON []byte

var schema = validate.MustCompile("app-state.json", schemaJSON)

// Decoder validates app states and, through the chart decoder, every chart
// they embed.
type Decoder struct {
	schema *validate.Schema
	charts migrate.Decoder
}

// NewDecoder wraps the chart decoder. A nil chart decoder skips chart checks.
func NewDecoder(charts migrate.Decoder) *Decoder {
	return &Decoder{schema: schema, charts: charts}
}

func (d *Decoder) Decode(doc migrate.Document) error {
	v, _ := doc.Version()
	problems, err := d.schema.Problems(map[string]any(doc))
	if err != nil {
		return &migrate.ValidationError{Family: Family, Version: v, Err: err}
	}
	if d.charts != nil {
		for i, chart := range chartList(doc) {
			err := d.charts.Decode(migrate.Document(chart))
			if err == nil {
				continue
			}
			var verr *migrate.ValidationError
			if !errors.As(err, &verr) {
				return err
			}
			prefix := fmt.Sprintf("/chartConfigs/%d", i)
			if len(verr.Problems) == 0 {
				problems = append(problems, prefix+": "+verr.Error())
			}
			for _, p := range verr.Problems {
				problems = append(problems, prefix+p)
			}
		}
	}
	if len(problems) > 0 {
		return &migrate.ValidationError{Family: Family, Version: v, Problems: problems}
	}
	return nil
}
