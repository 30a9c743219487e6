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
	"encoding/json"
	"io"
	"time"

	"github.com/AleutianAI/callgraph/services/callgraph/graph"
)

// Document is the JSON shape of a call graph.
type Document struct {
	RunID     string          `json:"run_id"`
	Root      string          `json:"root"`
	Direction graph.Direction `json:"direction"`
	MaxDepth  int             `json:"max_depth"`
	Partial   bool            `json:"partial"`
	BuiltAt   time.Time       `json:"built_at"`
	Entry     graph.SymbolID  `json:"entry"`
	Stats     graph.Stats     `json:"stats"`
	Nodes     []graph.Node    `json:"nodes"`
	Edges     []graph.Edge    `json:"edges"`
}

// NewDocument converts g. Nodes keep discovery order; edges are sorted by
// (from, to).
func NewDocument(g *graph.CallGraph) Document {
	meta := g.Meta()
	return Document{
		RunID:     meta.RunID,
		Root:      meta.Root,
		Direction: meta.Direction,
		MaxDepth:  meta.MaxDepth,
		Partial:   g.Partial(),
		BuiltAt:   g.BuiltAt().UTC(),
		Entry:     g.Entry(),
		Stats:     g.Stats(),
		Nodes:     g.Nodes(),
		Edges:     sortedEdges(g),
	}
}

// JSON renders a Document.
type JSON struct {
	// Indent pretty-prints with two spaces.
	Indent bool
}

// Name returns "json".
func (JSON) Name() string { return "json" }

// Extension returns ".json".
func (JSON) Extension() string { return ".json" }

// ContentType returns the JSON media type.
func (JSON) ContentType() string { return "application/json; charset=utf-8" }

// Render writes g as one JSON document followed by a newline.
func (j JSON) Render(w io.Writer, g *graph.CallGraph) error {
	enc := json.NewEncoder(w)
	if j.Indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(NewDocument(g))
}
