// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package render serialises call graphs as Graphviz DOT, JSON or Mermaid.
//
// Every renderer is deterministic: the same graph always produces the same
// bytes, so outputs can be diffed between runs.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/callgraph/services/callgraph/graph"
)

// ErrUnknownFormat is returned for an unsupported output format.
var ErrUnknownFormat = errors.New("unknown output format")

// Renderer writes a call graph in one format.
type Renderer interface {
	// Name is the format name used in configuration ("dot", ...).
	Name() string

	// Extension is the conventional file extension, with the dot.
	Extension() string

	// ContentType is the HTTP media type of the output.
	ContentType() string

	// Render writes g to w.
	Render(w io.Writer, g *graph.CallGraph) error
}

var renderers = []Renderer{
	DOT{},
	JSON{Indent: true},
	Mermaid{},
}

// New returns the renderer for format.
func New(format string) (Renderer, error) {
	for _, r := range renderers {
		if r.Name() == strings.ToLower(format) {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %q (want one of %s)", ErrUnknownFormat, format, strings.Join(Formats(), ", "))
}

// ForPath picks a renderer from the extension of path, falling back to DOT.
func ForPath(path string) Renderer {
	ext := strings.ToLower(filepath.Ext(path))
	for _, r := range renderers {
		if r.Extension() == ext {
			return r
		}
	}
	if ext == ".mermaid" || ext == ".md" {
		return Mermaid{Fenced: ext == ".md"}
	}
	return DOT{}
}

// Formats lists the supported format names.
func Formats() []string {
	names := make([]string, len(renderers))
	for i, r := range renderers {
		names[i] = r.Name()
	}
	return names
}

// Bytes renders g into memory, recording a span and metrics.
func Bytes(ctx context.Context, r Renderer, g *graph.CallGraph) ([]byte, error) {
	ctx, span := startRenderSpan(ctx, r.Name(), g.NodeCount(), g.EdgeCount())
	start := time.Now()

	var buf bytes.Buffer
	err := r.Render(&buf, g)
	endRenderSpan(span, buf.Len(), err)
	recordRender(ctx, r.Name(), time.Since(start), buf.Len(), err == nil)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", r.Name(), err)
	}
	return buf.Bytes(), nil
}

// grouped returns the group names sorted and each group's nodes sorted by
// id.
func grouped(g *graph.CallGraph) ([]string, map[string][]graph.Node) {
	byGroup := make(map[string][]graph.Node)
	for _, n := range g.Nodes() {
		byGroup[n.Group] = append(byGroup[n.Group], n)
	}
	names := make([]string, 0, len(byGroup))
	for name, nodes := range byGroup {
		names = append(names, name)
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID.Less(nodes[j].ID) })
	}
	sort.Strings(names)
	return names, byGroup
}

// sortedEdges returns the edges ordered by (from, to).
func sortedEdges(g *graph.CallGraph) []graph.Edge {
	edges := g.Edges()
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From.Less(edges[j].From)
		}
		return edges[i].To.Less(edges[j].To)
	})
	return edges
}
