package message

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ArgSpec declares one argument of a tool.
type ArgSpec struct {
	Name     string
	Type     ArgType
	Required bool

	// JSONSchema optionally constrains ArgJSON values (JSON Schema draft-7).
	JSONSchema interface{}
}

// Schema is a tool's declared argument list. Arguments not declared are
// accepted so older servers tolerate newer clients.
type Schema struct {
	specs    []ArgSpec
	compiled map[string]*gojsonschema.Schema
}

// NewSchema compiles the JSON schemas of specs.
func NewSchema(specs ...ArgSpec) (*Schema, error) {
	s := &Schema{specs: specs, compiled: make(map[string]*gojsonschema.Schema)}
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("argument spec with empty name")
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("argument '%s' declared twice", spec.Name)
		}
		seen[spec.Name] = true

		if spec.JSONSchema == nil {
			continue
		}
		if spec.Type != ArgJSON {
			return nil, fmt.Errorf("argument '%s': JSON schema requires type json, got %s", spec.Name, spec.Type)
		}
		schemaBytes, err := json.Marshal(spec.JSONSchema)
		if err != nil {
			return nil, fmt.Errorf("argument '%s': marshal schema: %w", spec.Name, err)
		}
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaBytes))
		if err != nil {
			return nil, fmt.Errorf("argument '%s': compile schema: %w", spec.Name, err)
		}
		s.compiled[spec.Name] = compiled
	}
	return s, nil
}

// MustSchema is NewSchema that panics on error, for static tool tables.
func MustSchema(specs ...ArgSpec) *Schema {
	s, err := NewSchema(specs...)
	if err != nil {
		panic(err)
	}
	return s
}

// Specs returns the declared arguments.
func (s *Schema) Specs() []ArgSpec {
	if s == nil {
		return nil
	}
	return s.specs
}

// Validate checks args against the schema. A nil schema accepts anything.
// Failures are *DecodeError with KindSchemaViolation.
func (s *Schema) Validate(args Args) error {
	if s == nil {
		return nil
	}
	for _, spec := range s.specs {
		arg, ok := args.Get(spec.Name)
		if !ok {
			if spec.Required {
				return schemaViolation(spec.Name, "required argument missing")
			}
			continue
		}
		if arg.Type != spec.Type {
			return schemaViolation(spec.Name, "type tag %s does not match declared %s", arg.Type, spec.Type)
		}
		if compiled, ok := s.compiled[spec.Name]; ok {
			if err := validateJSON(compiled, arg); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateJSON(schema *gojsonschema.Schema, arg Arg) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(arg.Value))
	if err != nil {
		return schemaViolation(arg.Name, "invalid JSON: %v", err)
	}
	if !result.Valid() {
		var details []string
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return schemaViolation(arg.Name, "%s", strings.Join(details, "; "))
	}
	return nil
}
