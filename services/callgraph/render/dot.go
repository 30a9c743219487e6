// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package render

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/AleutianAI/callgraph/services/callgraph/graph"
)

// DOT renders Graphviz source.
//
// Description:
//
//	Layout is left to right with one cluster per group. Clusters are
//	numbered in group-name order and drawn light gray; nodes inside a
//	cluster are ordered by id and edges by (from, to). Node identifiers
//	are SymbolID strings, so they are unique even when labels collide.
type DOT struct{}

// Name returns "dot".
func (DOT) Name() string { return "dot" }

// Extension returns ".dot".
func (DOT) Extension() string { return ".dot" }

// ContentType returns the Graphviz media type.
func (DOT) ContentType() string { return "text/vnd.graphviz; charset=utf-8" }

// Render writes g as a digraph named callgraph.
func (DOT) Render(w io.Writer, g *graph.CallGraph) error {
	bw := bufio.NewWriter(w)

	bw.WriteString("digraph callgraph {\n")
	bw.WriteString("  rankdir=LR;\n")
	bw.WriteString("  compound=true;\n")
	if g.Partial() {
		bw.WriteString("  // partial: traversal aborted before completion\n")
	}

	groups, nodes := grouped(g)
	for idx, group := range groups {
		fmt.Fprintf(bw, "  subgraph \"cluster_%d\" {\n", idx)
		fmt.Fprintf(bw, "    label=\"%s\";\n", escapeDOT(group))
		bw.WriteString("    color=lightgray;\n")
		for _, n := range nodes[group] {
			fmt.Fprintf(bw, "    \"%s\" [label=\"%s\"];\n", escapeDOT(n.ID.String()), escapeDOT(n.Label))
		}
		bw.WriteString("  }\n")
	}

	for _, e := range sortedEdges(g) {
		fmt.Fprintf(bw, "  \"%s\" -> \"%s\";\n", escapeDOT(e.From.String()), escapeDOT(e.To.String()))
	}

	bw.WriteString("}\n")
	return bw.Flush()
}

var dotEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func escapeDOT(s string) string {
	return dotEscaper.Replace(s)
}
