package engine

import (
	"testing"

	"github.com/rendis/flowforge/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultStore_SetField(t *testing.T) {
	s := NewResultStore()
	original := map[string]any{"total": 1, "other": "x"}
	s.Set("counter", original)

	require.True(t, s.SetField("counter", "total", 2))
	got, _ := s.Get("counter")
	assert.Equal(t, map[string]any{"total": 2, "other": "x"}, got)
	assert.Equal(t, 1, original["total"], "earlier readers must not observe the write")

	require.True(t, s.SetField("fresh", "value", 7))
	got, _ = s.Get("fresh")
	assert.Equal(t, map[string]any{"value": 7}, got)

	s.Set("scalar", 42)
	assert.False(t, s.SetField("scalar", "value", 1))
}

func TestVarStore(t *testing.T) {
	seed := map[string]any{"a": 1}
	v := NewVarStore(seed)
	v.Set("b", 2)
	v.Merge(map[string]any{"a": 10, "c": 3})
	v.Delete("c")

	assert.Equal(t, map[string]any{"a": 10, "b": 2}, v.Snapshot())
	assert.Equal(t, map[string]any{"a": 1}, seed, "seed map is copied")
}

func TestHaltSignal_FirstMessageWins(t *testing.T) {
	var h haltSignal
	assert.False(t, h.Terminated())

	h.Terminate("first")
	h.Terminate("second")

	terminated, msg := h.State()
	assert.True(t, terminated)
	assert.Equal(t, "first", msg)
}

func TestFlowIndex(t *testing.T) {
	flow := &schema.FlowDefinition{ID: "f", Steps: []schema.StepDefinition{
		{ID: "a"}, {ID: "b"}, {ID: "c"},
	}}
	idx, err := newFlowIndex(flow)
	require.NoError(t, err)

	assert.Equal(t, "b", idx.next("a"))
	assert.Equal(t, "c", idx.next("b"))
	assert.Empty(t, idx.next("c"))
	assert.Empty(t, idx.next("missing"))
}

func TestFlowIndex_Invalid(t *testing.T) {
	_, err := newFlowIndex(&schema.FlowDefinition{ID: "f", Steps: []schema.StepDefinition{{ID: "a"}, {ID: "a"}}})
	assert.True(t, schema.HasCode(err, schema.ErrCodeFlowStructure))

	_, err = newFlowIndex(&schema.FlowDefinition{ID: "f", Steps: []schema.StepDefinition{{Action: "x"}}})
	assert.True(t, schema.HasCode(err, schema.ErrCodeFlowStructure))
}

func TestExecutionState_ForkIsolation(t *testing.T) {
	idx, err := newFlowIndex(&schema.FlowDefinition{ID: "f", Steps: []schema.StepDefinition{{ID: "a"}}})
	require.NoError(t, err)
	st := newExecutionState("run", idx, NewVarStore(map[string]any{"n": 1}), nil)
	st.results.Set("a", map[string]any{"list": []any{1}})

	fork := st.fork()
	fork.vars.Set("n", 2)
	fork.results.Set("b", true)
	res, _ := fork.results.Get("a")
	res.(map[string]any)["list"] = []any{1, 2}

	n, _ := st.vars.Get("n")
	assert.Equal(t, 1, n)
	_, ok := st.results.Get("b")
	assert.False(t, ok)
	orig, _ := st.results.Get("a")
	assert.Equal(t, []any{1}, orig.(map[string]any)["list"])

	fork.halt.Terminate("stop")
	terminated, _ := st.Terminated()
	assert.True(t, terminated, "termination is shared with forks")
}
