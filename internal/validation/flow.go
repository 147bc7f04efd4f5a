package validation

import "github.com/rendis/flowforge/pkg/schema"

// FlowValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (ids, jump/retry targets, bodies, actions)
// 3. Graph (recursive body cycles)
type FlowValidator struct {
	jsonSchema *JSONSchemaValidator
	actions    ActionLookup
}

// NewFlowValidator creates a FlowValidator.
// lookup may be nil to skip action existence checks.
func NewFlowValidator(lookup ActionLookup) (*FlowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &FlowValidator{
		jsonSchema: jsv,
		actions:    lookup,
	}, nil
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit the later stages.
func (fv *FlowValidator) Validate(def *schema.FlowDefinition) *schema.ValidationResult {
	if def == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "flow definition is nil")
		return r
	}

	result := validateStructural(fv.jsonSchema, def)
	if !result.Valid() {
		return result
	}

	semantic, graph := validateSemantic(def, fv.actions)
	result.Merge(semantic)

	// The graph is incomplete when references are broken.
	if result.Valid() {
		result.Merge(validateGraph(def, graph))
	}
	return result
}

// ValidateDefinition satisfies the Validator interface.
func (fv *FlowValidator) ValidateDefinition(def *schema.FlowDefinition) error {
	return fv.Validate(def).ToError()
}

// ValidateInput delegates to the underlying JSONSchemaValidator.
func (fv *FlowValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	return fv.jsonSchema.ValidateInput(input, inputSchema)
}

// Schema exposes the payload validator shared with actions.
func (fv *FlowValidator) Schema() *JSONSchemaValidator {
	return fv.jsonSchema
}

func validateStructural(v *JSONSchemaValidator, def *schema.FlowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateDefinition(def)
	if err == nil {
		return result
	}

	fe, ok := err.(*schema.FlowError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}

	if violations, ok := fe.Details["violations"].([]string); ok {
		for _, v := range violations {
			result.AddError("/", schema.ErrCodeValidation, v)
		}
		return result
	}
	result.AddError("/", schema.ErrCodeValidation, fe.Message)
	return result
}

var _ Validator = (*FlowValidator)(nil)
