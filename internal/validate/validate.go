// Package validate checks documents against embedded JSON Schemas.
package validate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema is a compiled JSON Schema.
type Schema struct {
	name string
	sch  *jsonschema.Schema
}

// Compile compiles raw, registered under name.
func Compile(name string, raw []byte) (*Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	sch, err := c.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &Schema{name: name, sch: sch}, nil
}

// MustCompile is Compile for embedded schemas.
func MustCompile(name string, raw []byte) *Schema {
	s, err := Compile(name, raw)
	if err != nil {
		panic(err)
	}
	return s
}

// Problems validates value and lists what is wrong with it, one entry per
// failing location. An empty list means the value is valid. The error is only
// set when value cannot be encoded as JSON.
func (s *Schema) Problems(value any) ([]string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	err = s.sch.Validate(inst)
	if err == nil {
		return nil, nil
	}
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}, nil
	}
	problems := collect(verr.BasicOutput())
	if len(problems) == 0 {
		problems = []string{verr.Error()}
	}
	return problems, nil
}

func collect(unit *jsonschema.OutputUnit) []string {
	seen := map[string]struct{}{}
	var out []string
	var walk func(u jsonschema.OutputUnit)
	walk = func(u jsonschema.OutputUnit) {
		if u.Error != nil {
			loc := u.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			msg := loc + ": " + u.Error.String()
			if _, dup := seen[msg]; !dup {
				seen[msg] = struct{}{}
				out = append(out, msg)
			}
		}
		for _, child := range u.Errors {
			walk(child)
		}
	}
	walk(*unit)
	sort.Strings(out)
	return out
}
