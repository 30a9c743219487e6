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
	"time"
)

// CallGraph is an immutable call graph rooted at an entry node.
//
// Description:
//
//	Nodes are ordered by SymbolID and edges by (caller, callee), so two
//	graphs with the same content enumerate identically regardless of the
//	order traversal discovered them in. Accessors return copies.
//
// Thread Safety:
//
//	Safe for concurrent use.
type CallGraph struct {
	entry   SymbolID
	meta    Meta
	partial bool
	builtAt time.Time

	nodes []Node
	edges []Edge
	index map[SymbolID]int
	out   map[SymbolID][]int
	in    map[SymbolID][]int
}

// Entry returns the entry node identity.
func (g *CallGraph) Entry() SymbolID {
	return g.entry
}

// EntryNode returns the entry node.
func (g *CallGraph) EntryNode() Node {
	n, _ := g.Node(g.entry)
	return n
}

// Meta returns how the graph was produced.
func (g *CallGraph) Meta() Meta {
	return g.meta
}

// Partial reports whether the graph is a snapshot of an aborted traversal.
func (g *CallGraph) Partial() bool {
	return g.partial
}

// BuiltAt returns when the graph was assembled.
func (g *CallGraph) BuiltAt() time.Time {
	return g.builtAt
}

// Node returns the node with the given identity.
func (g *CallGraph) Node(id SymbolID) (Node, bool) {
	i, ok := g.index[id]
	if !ok {
		return Node{}, false
	}
	return g.nodes[i], true
}

// NodeCount returns the number of nodes.
func (g *CallGraph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *CallGraph) EdgeCount() int {
	return len(g.edges)
}

// Nodes returns every node, ordered by identity.
func (g *CallGraph) Nodes() []Node {
	return append([]Node(nil), g.nodes...)
}

// Edges returns every edge, ordered by (caller, callee).
func (g *CallGraph) Edges() []Edge {
	edges := make([]Edge, len(g.edges))
	for i, e := range g.edges {
		edges[i] = copyEdge(e)
	}
	return edges
}

// Outgoing returns the edges whose caller is id.
func (g *CallGraph) Outgoing(id SymbolID) []Edge {
	return g.pick(g.out[id])
}

// Incoming returns the edges whose callee is id.
func (g *CallGraph) Incoming(id SymbolID) []Edge {
	return g.pick(g.in[id])
}

// Edge returns the edge between a caller and a callee.
func (g *CallGraph) Edge(from, to SymbolID) (Edge, bool) {
	for _, i := range g.out[from] {
		if g.edges[i].To == to {
			return copyEdge(g.edges[i]), true
		}
	}
	return Edge{}, false
}

func (g *CallGraph) pick(indexes []int) []Edge {
	edges := make([]Edge, 0, len(indexes))
	for _, i := range indexes {
		edges = append(edges, copyEdge(g.edges[i]))
	}
	return edges
}

func copyEdge(e Edge) Edge {
	e.CallSites = append([]Location(nil), e.CallSites...)
	return e
}

// Groups returns the distinct node groups in order of first appearance in
// Nodes.
func (g *CallGraph) Groups() []string {
	seen := make(map[string]bool)
	var groups []string
	for _, n := range g.nodes {
		if !seen[n.Group] {
			seen[n.Group] = true
			groups = append(groups, n.Group)
		}
	}
	return groups
}

// Stats summarises the graph.
func (g *CallGraph) Stats() Stats {
	s := Stats{Nodes: len(g.nodes), Edges: len(g.edges), Groups: len(g.Groups())}
	for _, e := range g.edges {
		s.CallSites += len(e.CallSites)
	}
	for _, n := range g.nodes {
		if n.Depth > s.MaxDepth {
			s.MaxDepth = n.Depth
		}
	}
	return s
}

// Validate checks the reachable-closed property.
//
// Description:
//
//	Every edge endpoint must be a node, and every node must be reachable
//	from the entry. For DirectionOutgoing reachability follows caller to
//	callee; for DirectionIncoming it follows callee to caller. Together
//	these imply every non-entry node has an edge linking it towards the
//	entry.
//
// Outputs:
//
//	error - ErrNodeNotFound or ErrNotReachableClosed, nil when valid.
func (g *CallGraph) Validate() error {
	if _, ok := g.index[g.entry]; !ok {
		return fmt.Errorf("%w: entry %s", ErrNodeNotFound, g.entry)
	}
	for _, e := range g.edges {
		if _, ok := g.index[e.From]; !ok {
			return fmt.Errorf("%w: edge source %s", ErrNodeNotFound, e.From)
		}
		if _, ok := g.index[e.To]; !ok {
			return fmt.Errorf("%w: edge target %s", ErrNodeNotFound, e.To)
		}
	}

	reached := make(map[SymbolID]bool, len(g.nodes))
	reached[g.entry] = true
	queue := []SymbolID{g.entry}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		var next []int
		if g.meta.Direction == DirectionIncoming {
			next = g.in[id]
		} else {
			next = g.out[id]
		}
		for _, i := range next {
			other := g.edges[i].To
			if g.meta.Direction == DirectionIncoming {
				other = g.edges[i].From
			}
			if !reached[other] {
				reached[other] = true
				queue = append(queue, other)
			}
		}
	}

	for _, n := range g.nodes {
		if !reached[n.ID] {
			return fmt.Errorf("%w: %s (%s) unreachable", ErrNotReachableClosed, n.Name, n.ID)
		}
	}
	return nil
}
