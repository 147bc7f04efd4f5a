package actions

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/rendis/flowforge/internal/expressions"
	"github.com/rendis/flowforge/internal/validation"
	"github.com/rendis/flowforge/pkg/schema"
)

// AssertActions returns assert.equals, assert.contains, assert.matches and
// assert.schema. A failed assertion is an ASSERTION_FAILED error, so a
// try_catch around it sees that type. Every one accepts an optional
// 'message' that replaces the default failure text.
func AssertActions(validator *validation.JSONSchemaValidator) []Action {
	return []Action{
		&funcAction{
			name:  "assert.equals",
			desc:  "Fail unless 'actual' equals 'expected'",
			input: requiredParams("expected", "actual"),
			exec:  assertEquals,
		},
		&funcAction{
			name:  "assert.contains",
			desc:  "Fail unless 'haystack' (string, list or mapping keys) contains 'needle'",
			input: requiredParams("haystack", "needle"),
			exec:  assertContains,
		},
		&funcAction{
			name: "assert.matches",
			desc: "Fail unless the string 'value' matches the regular expression 'pattern'",
			input: []byte(`{"type":"object","required":["value","pattern"],"properties":{` +
				`"value":{"type":"string"},"pattern":{"type":"string","minLength":1}}}`),
			exec: assertMatches,
		},
		&funcAction{
			name:  "assert.schema",
			desc:  "Fail unless the object 'data' conforms to the JSON Schema 'schema'",
			input: requiredParams("data", "schema"),
			exec: func(_ context.Context, in map[string]any) (any, error) {
				return assertSchema(validator, in)
			},
		},
	}
}

func requiredParams(names ...string) []byte {
	b, _ := json.Marshal(map[string]any{"type": "object", "required": names})
	return b
}

// assertionFailed builds the error for a failed check. details are the
// operands as the step received them.
func assertionFailed(in map[string]any, def string, details map[string]any) error {
	msg := def
	if m, ok := in["message"].(string); ok && m != "" {
		msg = m
	}
	return schema.NewError(schema.ErrCodeAssertionFailed, msg).WithDetails(details)
}

// operand brings a resolved input into comparable form. Numbers become
// float64 so 3 and 3.0 agree, and mappings get string keys. Text that holds
// a JSON collection, which is how a template embeds a list or mapping, is
// decoded when decodeText is set.
func operand(v any, decodeText bool) any {
	switch val := v.(type) {
	case string:
		if decodeText {
			if decoded, ok := decodeCollection(val); ok {
				return operand(decoded, false)
			}
		}
		return val
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[any]any:
		return operand(schema.StringKeys(val), false)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = operand(item, false)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = operand(item, false)
		}
		return out
	}
	if f, ok := expressions.ToFloat(v); ok && isNumber(v) {
		return f
	}
	return v
}

func isNumber(v any) bool {
	switch v.(type) {
	case float32, float64:
		return true
	}
	return isInt(v)
}

func decodeCollection(s string) (any, bool) {
	t := strings.TrimSpace(s)
	if t == "" || (t[0] != '{' && t[0] != '[') {
		return nil, false
	}
	var out any
	if err := json.Unmarshal([]byte(t), &out); err != nil {
		return nil, false
	}
	return out, true
}

func isCollection(v any) bool {
	switch v.(type) {
	case map[string]any, map[any]any, []any:
		return true
	}
	return false
}

func assertEquals(_ context.Context, in map[string]any) (any, error) {
	expected, actual := in["expected"], in["actual"]
	// Text is decoded only when the other side is a real collection.
	e := operand(expected, isCollection(actual))
	a := operand(actual, isCollection(expected))
	if reflect.DeepEqual(e, a) {
		return map[string]any{"pass": true}, nil
	}
	return nil, assertionFailed(in, "assertion failed: values are not equal",
		map[string]any{"expected": expected, "actual": actual})
}

func assertContains(_ context.Context, in map[string]any) (any, error) {
	haystack, needle := in["haystack"], in["needle"]
	fail := func() error {
		return assertionFailed(in, "assertion failed: value not found",
			map[string]any{"haystack": haystack, "needle": needle})
	}

	switch hs := operand(haystack, true).(type) {
	case string:
		if strings.Contains(hs, expressions.Stringify(needle)) {
			return map[string]any{"pass": true}, nil
		}
		return nil, fail()
	case []any:
		want := operand(needle, false)
		for i, item := range hs {
			if reflect.DeepEqual(item, want) {
				return map[string]any{"pass": true, "index": i}, nil
			}
		}
		return nil, fail()
	case map[string]any:
		if _, ok := hs[expressions.Stringify(needle)]; ok {
			return map[string]any{"pass": true}, nil
		}
		return nil, fail()
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"assert.contains: haystack must be a string, list or mapping, got %T", haystack)
	}
}

func assertMatches(_ context.Context, in map[string]any) (any, error) {
	value, _ := in["value"].(string)
	pattern, _ := in["pattern"].(string)

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "assert.matches: invalid pattern: %s", err).WithCause(err)
	}
	m := re.FindStringSubmatch(value)
	if m == nil {
		return nil, assertionFailed(in, "assertion failed: value does not match pattern",
			map[string]any{"value": value, "pattern": pattern})
	}
	groups := make([]any, len(m)-1)
	for i, g := range m[1:] {
		groups[i] = g
	}
	return map[string]any{"pass": true, "matches": m[0], "groups": groups}, nil
}

func assertSchema(v *validation.JSONSchemaValidator, in map[string]any) (any, error) {
	data, ok := operand(in["data"], true).(map[string]any)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"assert.schema: data must be an object, got %T", in["data"])
	}
	rawSchema := in["schema"]
	if s, isText := rawSchema.(string); isText {
		if decoded, ok := decodeCollection(s); ok {
			rawSchema = decoded
		}
	}
	schemaBytes, err := json.Marshal(operand(rawSchema, false))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "assert.schema: schema is not serializable: %s", err)
	}

	if err := v.ValidateInput(data, schemaBytes); err != nil {
		var fe *schema.FlowError
		if !errors.As(err, &fe) || fe.Cause != nil {
			// The schema itself did not compile.
			return nil, err
		}
		details := map[string]any{"error": err.Error()}
		if fe.Details != nil {
			details["violations"] = fe.Details["violations"]
		}
		return nil, assertionFailed(in, "assertion failed: data does not match schema", details)
	}
	return map[string]any{"pass": true}, nil
}
