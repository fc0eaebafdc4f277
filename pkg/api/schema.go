package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator checks decoded JSON documents against a compiled schema.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles a Draft 2020-12 schema registered under name.
func NewValidator(name, schema string) (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true
	url := fmt.Sprintf("https://fourotwo.xyz/schemas/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("schema load failed: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema compile failed: %w", err)
	}
	return &Validator{schema: compiled}, nil
}

// MustValidator is NewValidator for schemas embedded in the binary.
func MustValidator(name, schema string) *Validator {
	v, err := NewValidator(name, schema)
	if err != nil {
		panic(err)
	}
	return v
}

// ValidateJSON decodes raw and validates it. The returned error is safe to
// show to clients.
func (v *Validator) ValidateJSON(raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("request body is not valid JSON")
	}
	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON document")
	}
	if err := v.schema.Validate(doc); err != nil {
		return describe(err)
	}
	return nil
}

func describe(err error) error {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err
	}
	leaf := verr
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	loc := leaf.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return fmt.Errorf("%s: %s", loc, leaf.Message)
}
