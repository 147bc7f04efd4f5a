package expressions

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

// Scope is the read-only view of execution state a Resolver works against.
// Loop iteration contexts are ordinary step results keyed by the loop's id.
type Scope interface {
	StepResult(id string) (any, bool)
	Variable(name string) (any, bool)
	Variables() map[string]any
	EnvValue(name string) (string, bool)
}

var (
	directRefPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*\.[A-Za-z_][A-Za-z0-9_]*$`)
	placeholderRegex = regexp.MustCompile(`\{\{([\s\S]+?)\}\}|\{([\s\S]+?)\}`)
)

// Resolver turns raw step inputs into concrete values: literals pass
// through, direct references keep their type, and template strings are
// rendered. Resolution never fails; anything unresolvable stays literal.
type Resolver struct {
	cond   *ConditionEvaluator
	logger *slog.Logger
}

// NewResolver creates a Resolver that evaluates template expressions with
// cond. A nil logger discards output.
func NewResolver(cond *ConditionEvaluator, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cond == nil {
		cond = NewConditionEvaluator(logger)
	}
	return &Resolver{cond: cond, logger: logger}
}

// ResolveInputs resolves every value of a step's input mapping. The input
// is never mutated.
func (r *Resolver) ResolveInputs(ctx context.Context, inputs map[string]any, scope Scope) map[string]any {
	out := make(map[string]any, len(inputs))
	for k, v := range inputs {
		out[k] = r.Resolve(ctx, v, scope)
	}
	return out
}

// Resolve resolves a single input value.
func (r *Resolver) Resolve(ctx context.Context, value any, scope Scope) any {
	switch v := value.(type) {
	case string:
		return r.resolveString(ctx, v, scope)
	case map[string]any:
		if name, ok := envRef(v); ok {
			env, _ := scope.EnvValue(name)
			return env
		}
		return r.ResolveInputs(ctx, v, scope)
	case map[any]any:
		out := make(map[any]any, len(v))
		for k, item := range v {
			out[k] = r.Resolve(ctx, item, scope)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = r.Resolve(ctx, item, scope)
		}
		return out
	default:
		return value
	}
}

// envRef recognizes {"$ref": "env.NAME"}.
func envRef(m map[string]any) (string, bool) {
	if len(m) != 1 {
		return "", false
	}
	ref, ok := m["$ref"].(string)
	if !ok {
		return "", false
	}
	name, found := strings.CutPrefix(ref, "env.")
	return name, found
}

func (r *Resolver) resolveString(ctx context.Context, s string, scope Scope) any {
	if directRefPattern.MatchString(s) {
		if v, ok := r.directRef(s, scope); ok {
			return v
		}
		return s
	}
	if !strings.Contains(s, "{") || !strings.Contains(s, "}") {
		return s
	}

	matches := placeholderRegex.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		placeholder := s[m[0]:m[1]]
		var (
			text string
			ok   bool
		)
		if m[2] >= 0 {
			text, ok = r.resolveDouble(strings.TrimSpace(s[m[2]:m[3]]), scope)
		} else {
			text, ok = r.resolveSingle(strings.TrimSpace(s[m[4]:m[5]]), scope)
		}
		if !ok {
			r.logger.DebugContext(ctx, "unresolved template placeholder",
				"placeholder", placeholder,
				"template", s,
			)
			text = placeholder
		}
		b.WriteString(text)
		last = m[1]
	}
	b.WriteString(s[last:])
	out := b.String()

	if out != s && len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		return CoerceScalar(out)
	}
	return out
}

// directRef resolves "left.field". Step results (loop contexts included)
// take priority over the env/var/local prefixes.
func (r *Resolver) directRef(s string, scope Scope) (any, bool) {
	left, field, _ := strings.Cut(s, ".")
	if v, ok := stepField(scope, left, field); ok {
		return v, true
	}
	switch left {
	case "env":
		env, _ := scope.EnvValue(field)
		return env, true
	case "var", "local":
		v, _ := scope.Variable(field)
		return v, true
	}
	return nil, false
}

func (r *Resolver) resolveDouble(content string, scope Scope) (string, bool) {
	if name, ok := strings.CutPrefix(content, "env."); ok {
		env, _ := scope.EnvValue(name)
		return env, true
	}
	for _, prefix := range []string{"var.", "local."} {
		if name, ok := strings.CutPrefix(content, prefix); ok {
			v, _ := scope.Variable(name)
			return Stringify(v), true
		}
	}
	if v, ok := scope.Variable(content); ok {
		return Stringify(v), true
	}

	if left, field, hasDot := strings.Cut(content, "."); hasDot {
		if v, ok := stepField(scope, left, field); ok {
			return Stringify(v), true
		}
	} else if v, err := r.cond.Value(content, scope.Variables()); err == nil && v != nil {
		return Stringify(v), true
	}

	if v, ok := scope.StepResult(content); ok && v != nil {
		return Stringify(v), true
	}
	return "", false
}

func (r *Resolver) resolveSingle(content string, scope Scope) (string, bool) {
	left, field, hasDot := strings.Cut(content, ".")
	if !hasDot {
		return "", false
	}
	if v, ok := stepField(scope, left, field); ok {
		return Stringify(v), true
	}
	return "", false
}

func stepField(scope Scope, id, field string) (any, bool) {
	res, ok := scope.StepResult(id)
	if !ok {
		return nil, false
	}
	switch m := res.(type) {
	case map[string]any:
		v, ok := m[field]
		return v, ok
	case map[any]any:
		v, ok := m[field]
		return v, ok
	}
	return nil, false
}

// MapScope is a Scope over plain maps.
type MapScope struct {
	Results map[string]any
	Vars    map[string]any
	Env     map[string]string
}

func (s MapScope) StepResult(id string) (any, bool) {
	v, ok := s.Results[id]
	return v, ok
}

func (s MapScope) Variable(name string) (any, bool) {
	v, ok := s.Vars[name]
	return v, ok
}

func (s MapScope) Variables() map[string]any {
	return s.Vars
}

func (s MapScope) EnvValue(name string) (string, bool) {
	v, ok := s.Env[name]
	return v, ok
}
