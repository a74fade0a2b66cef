package engine

import (
	"context"
	"fmt"

	"github.com/seantiz/bulkq/internal/model"
)

// Group holds the engines of one host, one per scope.
type Group struct {
	engines []*Engine
	byScope map[model.Scope]*Engine
}

// NewGroup creates a group. Scopes must be distinct.
func NewGroup(engines ...*Engine) (*Group, error) {
	g := &Group{byScope: make(map[model.Scope]*Engine)}
	for _, e := range engines {
		if _, dup := g.byScope[e.Scope()]; dup {
			return nil, fmt.Errorf("duplicate scope %s", e.Scope())
		}
		g.byScope[e.Scope()] = e
		g.engines = append(g.engines, e)
	}
	return g, nil
}

// Engine returns the engine serving scope.
func (g *Group) Engine(scope model.Scope) (*Engine, bool) {
	e, ok := g.byScope[scope]
	return e, ok
}

// Engines returns every engine in registration order.
func (g *Group) Engines() []*Engine {
	return g.engines
}

// PollAll runs one cycle on every engine in turn.
func (g *Group) PollAll(ctx context.Context) []PollResult {
	results := make([]PollResult, 0, len(g.engines))
	for _, e := range g.engines {
		if ctx.Err() != nil {
			break
		}
		results = append(results, e.Poll(ctx))
	}
	return results
}
