// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"fmt"
	"sort"
	"time"
)

// Default configuration values.
const (
	DefaultMaxNodes = 100_000
	DefaultMaxEdges = 1_000_000
)

// Options configures Builder limits.
type Options struct {
	// MaxNodes is the maximum number of nodes. Zero uses DefaultMaxNodes.
	MaxNodes int

	// MaxEdges is the maximum number of edges. Zero uses DefaultMaxEdges.
	MaxEdges int
}

// Option is a functional option for configuring Builder.
type Option func(*Options)

// WithMaxNodes sets the maximum number of nodes the graph can hold.
func WithMaxNodes(n int) Option {
	return func(o *Options) {
		o.MaxNodes = n
	}
}

// WithMaxEdges sets the maximum number of edges the graph can hold.
func WithMaxEdges(n int) Option {
	return func(o *Options) {
		o.MaxEdges = n
	}
}

type edgeKey struct {
	from, to SymbolID
}

// Builder assembles a call graph.
//
// Description:
//
//	Nodes are keyed by SymbolID, so adding the same declaration twice
//	reuses the first node. Edges are keyed by (caller, callee), so adding
//	the same pair twice merges call sites into one edge.
//
// Thread Safety:
//
//	NOT safe for concurrent use.
type Builder struct {
	opts   Options
	nodes  map[SymbolID]*Node
	edges  map[edgeKey]*Edge
	frozen bool
}

// NewBuilder creates an empty builder.
//
// Example:
//
//	b := graph.NewBuilder(graph.WithMaxNodes(10_000))
func NewBuilder(opts ...Option) *Builder {
	o := Options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.MaxNodes <= 0 {
		o.MaxNodes = DefaultMaxNodes
	}
	if o.MaxEdges <= 0 {
		o.MaxEdges = DefaultMaxEdges
	}
	return &Builder{
		opts:  o,
		nodes: make(map[SymbolID]*Node),
		edges: make(map[edgeKey]*Edge),
	}
}

// AddNode inserts n unless a node with the same ID exists.
//
// Outputs:
//
//	bool - True if n was inserted, false if an existing node was reused.
//	error - ErrGraphFrozen or ErrMaxNodesExceeded.
func (b *Builder) AddNode(n Node) (bool, error) {
	if b.frozen {
		return false, ErrGraphFrozen
	}
	if _, ok := b.nodes[n.ID]; ok {
		return false, nil
	}
	if len(b.nodes) >= b.opts.MaxNodes {
		return false, fmt.Errorf("%w: limit %d", ErrMaxNodesExceeded, b.opts.MaxNodes)
	}
	node := n
	b.nodes[n.ID] = &node
	return true, nil
}

// HasNode reports whether a node with id exists.
func (b *Builder) HasNode(id SymbolID) bool {
	_, ok := b.nodes[id]
	return ok
}

// AddEdge records a call from one node to another, merging call sites into
// an existing edge for the same pair. Duplicate call sites are dropped.
//
// Outputs:
//
//	bool - True if a new edge was created.
//	error - ErrGraphFrozen, ErrNodeNotFound or ErrMaxEdgesExceeded.
func (b *Builder) AddEdge(from, to SymbolID, sites ...Location) (bool, error) {
	if b.frozen {
		return false, ErrGraphFrozen
	}
	if _, ok := b.nodes[from]; !ok {
		return false, fmt.Errorf("%w: source %s", ErrNodeNotFound, from)
	}
	if _, ok := b.nodes[to]; !ok {
		return false, fmt.Errorf("%w: target %s", ErrNodeNotFound, to)
	}

	key := edgeKey{from: from, to: to}
	edge, ok := b.edges[key]
	created := false
	if !ok {
		if len(b.edges) >= b.opts.MaxEdges {
			return false, fmt.Errorf("%w: limit %d", ErrMaxEdgesExceeded, b.opts.MaxEdges)
		}
		edge = &Edge{From: from, To: to}
		b.edges[key] = edge
		created = true
	}

	for _, site := range sites {
		if !containsLocation(edge.CallSites, site) {
			edge.CallSites = append(edge.CallSites, site)
		}
	}
	return created, nil
}

func containsLocation(locs []Location, loc Location) bool {
	for _, l := range locs {
		if l == loc {
			return true
		}
	}
	return false
}

// NodeCount returns the number of nodes added so far.
func (b *Builder) NodeCount() int {
	return len(b.nodes)
}

// EdgeCount returns the number of distinct edges added so far.
func (b *Builder) EdgeCount() int {
	return len(b.edges)
}

// Freeze validates the graph and returns the immutable CallGraph.
//
// Description:
//
//	Checks that entry is a node and that every node is reachable from entry
//	along the traversal direction: callee edges for DirectionOutgoing,
//	caller edges for DirectionIncoming. After Freeze the builder rejects
//	further changes.
//
// Outputs:
//
//	*CallGraph - The frozen graph.
//	error - ErrNodeNotFound or ErrNotReachableClosed.
func (b *Builder) Freeze(entry SymbolID, meta Meta) (*CallGraph, error) {
	g := b.build(entry, meta, false)
	if err := g.Validate(); err != nil {
		return nil, err
	}
	b.frozen = true
	return g, nil
}

// Snapshot returns the graph as it stands, marked partial and without
// validation. The builder stays usable.
func (b *Builder) Snapshot(entry SymbolID, meta Meta) *CallGraph {
	return b.build(entry, meta, true)
}

func (b *Builder) build(entry SymbolID, meta Meta, partial bool) *CallGraph {
	g := &CallGraph{
		entry:   entry,
		meta:    meta,
		partial: partial,
		builtAt: time.Now(),
		nodes:   make([]Node, 0, len(b.nodes)),
		edges:   make([]Edge, 0, len(b.edges)),
		index:   make(map[SymbolID]int, len(b.nodes)),
		out:     make(map[SymbolID][]int),
		in:      make(map[SymbolID][]int),
	}

	for _, n := range b.nodes {
		g.nodes = append(g.nodes, *n)
	}
	sort.Slice(g.nodes, func(i, j int) bool { return g.nodes[i].ID.Less(g.nodes[j].ID) })
	for i, n := range g.nodes {
		g.index[n.ID] = i
	}

	for _, e := range b.edges {
		sites := append([]Location(nil), e.CallSites...)
		sort.Slice(sites, func(i, j int) bool { return locationLess(sites[i], sites[j]) })
		g.edges = append(g.edges, Edge{From: e.From, To: e.To, CallSites: sites})
	}
	sort.Slice(g.edges, func(i, j int) bool {
		a, c := g.edges[i], g.edges[j]
		if a.From != c.From {
			return a.From.Less(c.From)
		}
		return a.To.Less(c.To)
	})
	for i, e := range g.edges {
		g.out[e.From] = append(g.out[e.From], i)
		g.in[e.To] = append(g.in[e.To], i)
	}
	return g
}
