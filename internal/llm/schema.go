package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema checks model output against a JSON Schema contract.
type Schema struct {
	schema *jsonschema.Schema
}

// MustCompileSchema compiles a schema document and panics on error. For package-level schemas.
func MustCompileSchema(name, source string) *Schema {
	return &Schema{schema: jsonschema.MustCompileString(name, source)}
}

// Validate checks a JSON document against the schema.
func (s *Schema) Validate(doc string) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(doc)))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("decode for schema validation: %w", err)
	}
	if err := s.schema.Validate(v); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
