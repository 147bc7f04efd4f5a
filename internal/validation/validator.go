package validation

import "github.com/rendis/flowforge/pkg/schema"

// Validator checks flow definitions before execution and validates action
// payloads against JSON Schema (Draft 2020-12).
type Validator interface {
	ValidateDefinition(def *schema.FlowDefinition) error
	ValidateInput(input map[string]any, inputSchema []byte) error
}

// ActionLookup reports whether an action name is registered.
type ActionLookup interface {
	Has(name string) bool
}
