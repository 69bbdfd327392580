package corpus

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var useCaseSchema string

const schemaURL = "https://semreq.c360studio.dev/schemas/usecase.json"

// Validator checks decoded YAML documents against the use case schema.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the embedded use case schema.
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(useCaseSchema)); err != nil {
		return nil, fmt.Errorf("add use case schema: %w", err)
	}
	schema, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile use case schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate checks a YAML-decoded value. The value is round-tripped through
// JSON so YAML integers and timestamps reach the validator as JSON types.
func (v *Validator) Validate(doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	var normalized any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&normalized); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := v.schema.Validate(normalized); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}
