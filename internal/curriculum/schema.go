package curriculum

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Validator checks raw structure documents against the embedded JSON Schema.
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator compiles the embedded structure schema.
func NewValidator() (*Validator, error) {
	data, err := builtinFS.ReadFile("data/structure.schema.json")
	if err != nil {
		return nil, fmt.Errorf("reading structure schema: %w", err)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("compiling structure schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate checks a decoded YAML document. The document must be made of
// plain maps, slices and scalars as produced by yaml.v3.
func (v *Validator) Validate(doc any) error {
	result, err := v.schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validating structure: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("structure does not match schema: %s", strings.Join(msgs, "; "))
}
