package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testScope() MapScope {
	return MapScope{
		Results: map[string]any{
			"A":     map[string]any{"count": 5, "name": "widget", "ok": true, "ratio": 2.5},
			"loop":  map[string]any{"value": "x", "index": 1},
			"plain": 7,
		},
		Vars: map[string]any{"total": 10, "label": "hi", "flag": false},
		Env:  map[string]string{"HOME": "/home/u"},
	}
}

func TestResolve_Scalars(t *testing.T) {
	r := NewResolver(nil, nil)
	ctx := context.Background()
	s := testScope()

	assert.Equal(t, 42, r.Resolve(ctx, 42, s))
	assert.Nil(t, r.Resolve(ctx, nil, s))
	assert.Equal(t, true, r.Resolve(ctx, true, s))
	assert.Equal(t, "plain text", r.Resolve(ctx, "plain text", s))
}

func TestResolve_DirectReference(t *testing.T) {
	r := NewResolver(nil, nil)
	ctx := context.Background()
	s := testScope()

	assert.Equal(t, 5, r.Resolve(ctx, "A.count", s))
	assert.Equal(t, true, r.Resolve(ctx, "A.ok", s))
	assert.Equal(t, "x", r.Resolve(ctx, "loop.value", s))
	assert.Equal(t, "/home/u", r.Resolve(ctx, "env.HOME", s))
	assert.Equal(t, "", r.Resolve(ctx, "env.MISSING", s))
	assert.Equal(t, 10, r.Resolve(ctx, "var.total", s))
	assert.Equal(t, "hi", r.Resolve(ctx, "local.label", s))
	assert.Nil(t, r.Resolve(ctx, "var.nope", s))
}

func TestResolve_DirectReferenceFallsBackToLiteral(t *testing.T) {
	r := NewResolver(nil, nil)
	ctx := context.Background()
	s := testScope()

	assert.Equal(t, "A.missing", r.Resolve(ctx, "A.missing", s))
	assert.Equal(t, "unknown.count", r.Resolve(ctx, "unknown.count", s))
	assert.Equal(t, "example.com", r.Resolve(ctx, "example.com", s))
	assert.Equal(t, "'A.count'", r.Resolve(ctx, "'A.count'", s))
}

func TestResolve_NilVariableRendersEmpty(t *testing.T) {
	r := NewResolver(nil, nil)
	ctx := context.Background()
	s := MapScope{Vars: map[string]any{"empty": nil}}

	assert.Equal(t, "", r.Resolve(ctx, "{{empty}}", s))
	assert.Equal(t, "[]", r.Resolve(ctx, "[{{empty}}]", s))
	assert.Equal(t, "", r.Resolve(ctx, "{{var.empty}}", s))
}

func TestResolve_EnvRefMapping(t *testing.T) {
	r := NewResolver(nil, nil)
	ctx := context.Background()
	s := testScope()

	assert.Equal(t, "/home/u", r.Resolve(ctx, map[string]any{"$ref": "env.HOME"}, s))
	assert.Equal(t, "", r.Resolve(ctx, map[string]any{"$ref": "env.NOPE"}, s))
}

func TestResolve_TemplateStringifies(t *testing.T) {
	r := NewResolver(nil, nil)
	ctx := context.Background()
	s := testScope()

	assert.Equal(t, "count=5", r.Resolve(ctx, "count={{A.count}}", s))
	assert.Equal(t, "name is widget", r.Resolve(ctx, "name is {A.name}", s))
	assert.Equal(t, "home /home/u", r.Resolve(ctx, "home {{ env.HOME }}", s))
	assert.Equal(t, "t=10 l=hi", r.Resolve(ctx, "t={{var.total}} l={{label}}", s))
	assert.Equal(t, "missing=", r.Resolve(ctx, "missing={{var.nope}}", s))
}

func TestResolve_TemplateExpression(t *testing.T) {
	r := NewResolver(nil, nil)
	ctx := context.Background()
	s := testScope()

	assert.Equal(t, "next=11", r.Resolve(ctx, "next={{total + 1}}", s))
	assert.Equal(t, 20, r.Resolve(ctx, "{{total * 2}}", s))
}

func TestResolve_WholePlaceholderCoercion(t *testing.T) {
	r := NewResolver(nil, nil)
	ctx := context.Background()
	s := testScope()

	assert.Equal(t, 5, r.Resolve(ctx, "{{A.count}}", s))
	assert.Equal(t, 2.5, r.Resolve(ctx, "{{A.ratio}}", s))
	assert.Equal(t, true, r.Resolve(ctx, "{A.ok}", s))
	assert.Equal(t, false, r.Resolve(ctx, "{{flag}}", s))
	assert.Equal(t, "widget", r.Resolve(ctx, "{{A.name}}", s))
	// Two placeholders are never coerced.
	assert.Equal(t, "55", r.Resolve(ctx, "{{A.count}}{{A.count}}", s))
}

func TestResolve_UnresolvedLeftVerbatim(t *testing.T) {
	r := NewResolver(nil, nil)
	ctx := context.Background()
	s := testScope()

	assert.Equal(t, "x={{ghost.field}}", r.Resolve(ctx, "x={{ghost.field}}", s))
	assert.Equal(t, "{undefined}", r.Resolve(ctx, "{undefined}", s))
	assert.Equal(t, `{"k": 1}`, r.Resolve(ctx, `{"k": 1}`, s))
}

func TestResolve_WholeStepResult(t *testing.T) {
	r := NewResolver(nil, nil)
	ctx := context.Background()

	assert.Equal(t, "v=7", r.Resolve(ctx, "v={{plain}}", testScope()))
}

func TestResolve_Nested(t *testing.T) {
	r := NewResolver(nil, nil)
	ctx := context.Background()
	s := testScope()

	in := map[string]any{
		"list": []any{"A.count", "{{var.total}}", 3},
		"obj":  map[string]any{"inner": "A.name"},
		"yaml": map[any]any{"k": "env.HOME"},
	}
	out := r.ResolveInputs(ctx, in, s)

	assert.Equal(t, []any{5, 10, 3}, out["list"])
	assert.Equal(t, map[string]any{"inner": "widget"}, out["obj"])
	assert.Equal(t, map[any]any{"k": "/home/u"}, out["yaml"])
	// Input untouched.
	assert.Equal(t, "A.count", in["list"].([]any)[0])
}

func TestResolve_Idempotent(t *testing.T) {
	r := NewResolver(nil, nil)
	ctx := context.Background()
	s := testScope()

	in := map[string]any{"a": "A.count", "b": "n={{A.count}}", "c": "{{A.ok}}"}
	first := r.ResolveInputs(ctx, in, s)
	second := r.ResolveInputs(ctx, in, s)
	assert.Equal(t, first, second)
}
