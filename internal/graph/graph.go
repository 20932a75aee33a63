// Package graph is a small state-graph executor: named nodes return partial
// updates that are merged into a shared state, and edges (static or
// state-dependent) pick the next node until END is reached.
package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// END is the terminal pseudo-node.
const END = "__end__"

var (
	// ErrUnknownNode indicates an edge or route that points at a missing node.
	ErrUnknownNode = errors.New("unknown node")
	// ErrNoEntry indicates the graph has no entry node.
	ErrNoEntry = errors.New("no entry node")
	// ErrNoOutgoingEdge indicates a node that can never hand over control.
	ErrNoOutgoingEdge = errors.New("node has no outgoing edge")
)

// Node does the work of one step and returns the partial update to merge.
type Node[S, P any] func(ctx context.Context, state S) (P, error)

// Router picks the next node from the merged state.
type Router[S any] func(ctx context.Context, state S) (string, error)

// Graph holds the topology. Edges and routers live in tables, so the shape
// of a workflow is data rather than branching code.
type Graph[S, P any] struct {
	merge   func(S, P) S
	nodes   map[string]Node[S, P]
	edges   map[string]string
	routers map[string]Router[S]
	entry   string
}

// New creates an empty graph using merge as the state reducer.
func New[S, P any](merge func(S, P) S) *Graph[S, P] {
	return &Graph[S, P]{
		merge:   merge,
		nodes:   map[string]Node[S, P]{},
		edges:   map[string]string{},
		routers: map[string]Router[S]{},
	}
}

func (g *Graph[S, P]) AddNode(name string, fn Node[S, P]) *Graph[S, P] {
	g.nodes[name] = fn
	return g
}

// AddEdge adds a static transition. A node with a router ignores it.
func (g *Graph[S, P]) AddEdge(from, to string) *Graph[S, P] {
	g.edges[from] = to
	return g
}

func (g *Graph[S, P]) AddConditionalEdge(from string, r Router[S]) *Graph[S, P] {
	g.routers[from] = r
	return g
}

func (g *Graph[S, P]) SetEntry(name string) *Graph[S, P] {
	g.entry = name
	return g
}

// Entry returns the configured entry node.
func (g *Graph[S, P]) Entry() string { return g.entry }

// Nodes returns the node names in sorted order.
func (g *Graph[S, P]) Nodes() []string {
	out := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Validate checks that every edge resolves and every node can hand over.
func (g *Graph[S, P]) Validate() error {
	if g.entry == "" {
		return ErrNoEntry
	}
	if _, ok := g.nodes[g.entry]; !ok {
		return fmt.Errorf("%w: entry %s", ErrUnknownNode, g.entry)
	}
	for from, to := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			return fmt.Errorf("%w: %s -> %s", ErrUnknownNode, from, to)
		}
		if !g.known(to) {
			return fmt.Errorf("%w: %s -> %s", ErrUnknownNode, from, to)
		}
	}
	for from := range g.routers {
		if _, ok := g.nodes[from]; !ok {
			return fmt.Errorf("%w: router on %s", ErrUnknownNode, from)
		}
	}
	for _, name := range g.Nodes() {
		_, hasEdge := g.edges[name]
		_, hasRouter := g.routers[name]
		if !hasEdge && !hasRouter {
			return fmt.Errorf("%w: %s", ErrNoOutgoingEdge, name)
		}
	}
	return nil
}

func (g *Graph[S, P]) known(name string) bool {
	if name == END {
		return true
	}
	_, ok := g.nodes[name]
	return ok
}

func (g *Graph[S, P]) next(ctx context.Context, from string, state S) (string, error) {
	if r, ok := g.routers[from]; ok {
		to, err := r(ctx, state)
		if err != nil {
			return "", fmt.Errorf("route from %s: %w", from, err)
		}
		if !g.known(to) {
			return "", fmt.Errorf("%w: %s -> %q", ErrUnknownNode, from, to)
		}
		return to, nil
	}
	if to, ok := g.edges[from]; ok {
		return to, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNoOutgoingEdge, from)
}
