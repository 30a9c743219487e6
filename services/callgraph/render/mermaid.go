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

// Mermaid renders a left-to-right flowchart with one subgraph per group.
//
// Mermaid ids cannot hold file paths, so nodes are numbered n0, n1, ... in
// the same order DOT clusters them; the SymbolID survives in a comment.
type Mermaid struct {
	// Fenced wraps the output in a ```mermaid block for Markdown.
	Fenced bool
}

// Name returns "mermaid".
func (Mermaid) Name() string { return "mermaid" }

// Extension returns ".mmd".
func (Mermaid) Extension() string { return ".mmd" }

// ContentType returns the Mermaid media type.
func (Mermaid) ContentType() string { return "text/vnd.mermaid; charset=utf-8" }

// Render writes g as a flowchart.
func (m Mermaid) Render(w io.Writer, g *graph.CallGraph) error {
	bw := bufio.NewWriter(w)
	if m.Fenced {
		bw.WriteString("```mermaid\n")
	}
	bw.WriteString("flowchart LR\n")
	if g.Partial() {
		bw.WriteString("    %% partial: traversal aborted before completion\n")
	}

	ids := make(map[graph.SymbolID]string, g.NodeCount())
	groups, nodes := grouped(g)
	for gi, group := range groups {
		fmt.Fprintf(bw, "    subgraph g%d[\"%s\"]\n", gi, escapeMermaid(group))
		for _, n := range nodes[group] {
			id := fmt.Sprintf("n%d", len(ids))
			ids[n.ID] = id
			fmt.Fprintf(bw, "        %%%% %s\n", n.ID)
			fmt.Fprintf(bw, "        %s[\"%s\"]\n", id, escapeMermaid(n.Label))
		}
		bw.WriteString("    end\n")
	}

	for _, e := range sortedEdges(g) {
		arrow := "-->"
		if len(e.CallSites) > 1 {
			arrow = fmt.Sprintf("-->|%d|", len(e.CallSites))
		}
		fmt.Fprintf(bw, "    %s %s %s\n", ids[e.From], arrow, ids[e.To])
	}

	entry := ids[g.Entry()]
	if entry != "" {
		fmt.Fprintf(bw, "    style %s stroke-width:3px\n", entry)
	}
	if m.Fenced {
		bw.WriteString("```\n")
	}
	return bw.Flush()
}

var mermaidEscaper = strings.NewReplacer(`"`, "#quot;", "\n", " ", "<", "#lt;", ">", "#gt;")

func escapeMermaid(s string) string {
	return mermaidEscaper.Replace(s)
}
