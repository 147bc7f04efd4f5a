package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rendis/flowforge/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// flowSchemaJSON is the JSON Schema for the top-level shape of a flow
// document. Nested bodies live inside step inputs and are checked by the
// semantic pass.
const flowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://flowforge.dev/schemas/flow.json",
  "type": "object",
  "required": ["steps"],
  "properties": {
    "id": { "type": "string" },
    "name": { "type": "string" },
    "description": { "type": "string" },
    "steps": {
      "type": "array",
      "items": { "$ref": "#/$defs/step" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["id", "action"],
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1
        },
        "action": {
          "type": "string",
          "pattern": "^[A-Za-z_][A-Za-z0-9_]*(\\.[A-Za-z_][A-Za-z0-9_]*)+$"
        },
        "inputs": { "type": "object" }
      },
      "additionalProperties": false
    }
  }
}`

const flowSchemaURL = "https://flowforge.dev/schemas/flow.json"

// JSONSchemaValidator validates flow documents and action payloads with
// JSON Schema Draft 2020-12. It is safe for concurrent use.
type JSONSchemaValidator struct {
	flowSchema *jsonschema.Schema

	// mu guards the cache and compiler for dynamic schema compilation.
	mu       sync.RWMutex
	compiler *jsonschema.Compiler
	cache    map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with the flow schema
// pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(flowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal flow schema: %w", err)
	}
	if err := c.AddResource(flowSchemaURL, schemaDoc); err != nil {
		return nil, fmt.Errorf("add flow schema resource: %w", err)
	}

	flowSchema, err := c.Compile(flowSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile flow schema: %w", err)
	}

	return &JSONSchemaValidator{
		flowSchema: flowSchema,
		compiler:       newInputCompiler(),
		cache:          make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateDefinition checks the document shape of def.
func (v *JSONSchemaValidator) ValidateDefinition(def *schema.FlowDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "flow definition is nil")
	}

	doc, err := toJSONValue(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize flow definition").WithCause(err)
	}

	if err := v.flowSchema.Validate(doc); err != nil {
		return toFlowError(err)
	}
	return nil
}

// ValidateInput validates input data against a JSON Schema provided as raw bytes.
// The schema is compiled and cached for subsequent calls with the same schema.
func (v *JSONSchemaValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	if input == nil {
		return schema.NewError(schema.ErrCodeValidation, "input is nil")
	}
	if len(inputSchema) == 0 {
		return nil // no schema means no validation needed
	}

	compiled, err := v.getOrCompile(inputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid input schema").WithCause(err)
	}

	// Convert input to JSON-compatible value (json.Number for numbers).
	doc, err := toJSONValue(input)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize input").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toFlowError(err)
	}

	return nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each dynamic schema gets a unique URL to avoid collisions in the compiler.
	url := fmt.Sprintf("flowforge://input-schema/%d", len(v.cache))

	// Use a fresh compiler per dynamic schema to avoid resource collision.
	c := newInputCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

// newInputCompiler creates a Compiler configured for input/output validation.
func newInputCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toFlowError converts a jsonschema.ValidationError into a FlowError that
// lists every leaf violation.
func toFlowError(err error) *schema.FlowError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
