package actions

import "github.com/rendis/flowforge/internal/validation"

// RegisterBuiltins registers all built-in actions in the given registry and
// enables input schema checks with validator.
func RegisterBuiltins(reg *Registry, validator *validation.JSONSchemaValidator) error {
	reg.UseSchemaValidator(validator)

	exprActions, err := ExprActions()
	if err != nil {
		return err
	}

	all := make([]Action, 0, 16)
	all = append(all, BasicActions()...)
	all = append(all, exprActions...)
	all = append(all, AssertActions(validator)...)

	for _, a := range all {
		if err := reg.Register(a); err != nil {
			return err
		}
	}
	return nil
}

// NewBuiltinRegistry returns a registry holding every built-in action.
func NewBuiltinRegistry() (*Registry, error) {
	v, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	reg := NewRegistry()
	if err := RegisterBuiltins(reg, v); err != nil {
		return nil, err
	}
	return reg, nil
}
