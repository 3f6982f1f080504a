// Package graph is a small state machine runner: nodes return partial state updates,
// edges pick the successor and a checkpointer persists the state of each thread.
package graph

import (
	"context"
	"errors"
	"fmt"
)

const (
	START = "__start__"
	END   = "__end__"

	DefaultRecursionLimit = 50
)

// NodeFunc runs one step and returns the update to merge into the state.
type NodeFunc[S any] func(ctx context.Context, state S) (S, error)

// RouterFunc picks the next node after the one it is attached to.
type RouterFunc[S any] func(ctx context.Context, state S) (string, error)

// Reducer merges a node update into the current state.
type Reducer[S any] func(current, update S) S

// Graph is the builder. It is not safe for concurrent use; compile it once and share the Runnable.
type Graph[S any] struct {
	reducer     Reducer[S]
	nodes       map[string]NodeFunc[S]
	edges       map[string]string
	conditional map[string]RouterFunc[S]
	errs        []error
}

func New[S any](reducer Reducer[S]) *Graph[S] {
	return &Graph[S]{
		reducer:     reducer,
		nodes:       make(map[string]NodeFunc[S]),
		edges:       make(map[string]string),
		conditional: make(map[string]RouterFunc[S]),
	}
}

func (g *Graph[S]) AddNode(name string, fn NodeFunc[S]) *Graph[S] {
	switch {
	case name == "" || name == START || name == END:
		g.errs = append(g.errs, fmt.Errorf("invalid node name %q", name))
	case fn == nil:
		g.errs = append(g.errs, fmt.Errorf("node %q has no function", name))
	default:
		if _, ok := g.nodes[name]; ok {
			g.errs = append(g.errs, fmt.Errorf("node %q already exists", name))
			return g
		}
		g.nodes[name] = fn
	}
	return g
}

func (g *Graph[S]) AddEdge(from, to string) *Graph[S] {
	if _, ok := g.edges[from]; ok {
		g.errs = append(g.errs, fmt.Errorf("node %q already has an edge", from))
		return g
	}
	g.edges[from] = to
	return g
}

func (g *Graph[S]) AddConditionalEdges(from string, router RouterFunc[S]) *Graph[S] {
	if router == nil {
		g.errs = append(g.errs, fmt.Errorf("conditional edge from %q has no router", from))
		return g
	}
	if _, ok := g.conditional[from]; ok {
		g.errs = append(g.errs, fmt.Errorf("node %q already has a conditional edge", from))
		return g
	}
	g.conditional[from] = router
	return g
}

func (g *Graph[S]) SetEntryPoint(name string) *Graph[S] {
	return g.AddEdge(START, name)
}

// Compile validates the wiring and returns an executable graph.
func (g *Graph[S]) Compile(opts ...Option[S]) (*Runnable[S], error) {
	errs := append([]error(nil), g.errs...)
	if g.reducer == nil {
		errs = append(errs, errors.New("reducer is required"))
	}
	if _, ok := g.edges[START]; !ok {
		errs = append(errs, errors.New("entry point is not set"))
	}
	for from, to := range g.edges {
		if from != START && !g.known(from) {
			errs = append(errs, fmt.Errorf("edge from unknown node %q", from))
		}
		if to != END && !g.known(to) {
			errs = append(errs, fmt.Errorf("edge to unknown node %q", to))
		}
		if _, ok := g.conditional[from]; ok {
			errs = append(errs, fmt.Errorf("node %q has both an edge and a conditional edge", from))
		}
	}
	for from := range g.conditional {
		if !g.known(from) {
			errs = append(errs, fmt.Errorf("conditional edge from unknown node %q", from))
		}
	}
	for name := range g.nodes {
		_, plain := g.edges[name]
		_, cond := g.conditional[name]
		if !plain && !cond {
			errs = append(errs, fmt.Errorf("node %q has no outgoing edge", name))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("compile graph: %w", err)
	}

	r := &Runnable[S]{
		reducer:        g.reducer,
		nodes:          copyMap(g.nodes),
		edges:          copyMap(g.edges),
		conditional:    copyMap(g.conditional),
		recursionLimit: DefaultRecursionLimit,
		locks:          newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (g *Graph[S]) known(name string) bool {
	_, ok := g.nodes[name]
	return ok
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
