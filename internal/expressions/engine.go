package expressions

import (
	"context"
	"sync"
)

// Engine evaluates a named expression language against a data map.
// Implementations back the expr.eval, cel.eval and jq.transform actions.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// programCache memoizes compiled programs keyed by source text.
// Safe for concurrent use; compile runs under the write lock so each
// expression is compiled at most once.
type programCache[P any] struct {
	mu    sync.RWMutex
	items map[string]P
}

func newProgramCache[P any]() *programCache[P] {
	return &programCache[P]{items: make(map[string]P)}
}

func (c *programCache[P]) get(key string, compile func() (P, error)) (P, error) {
	c.mu.RLock()
	if p, ok := c.items[key]; ok {
		c.mu.RUnlock()
		return p, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock.
	if p, ok := c.items[key]; ok {
		return p, nil
	}
	p, err := compile()
	if err != nil {
		var zero P
		return zero, err
	}
	c.items[key] = p
	return p, nil
}

func (c *programCache[P]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
