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
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/callgraph/services/callgraph/graph"
)

func sid(file string, line int) graph.SymbolID {
	return graph.SymbolID{File: file, Range: graph.Range{
		Start: graph.Position{Line: line},
		End:   graph.Position{Line: line + 2, Character: 1},
	}}
}

func site(file string, line int) graph.Location {
	return graph.Location{File: file, Range: graph.Range{
		Start: graph.Position{Line: line, Character: 4},
		End:   graph.Position{Line: line, Character: 9},
	}}
}

// sampleGraph is main -> parse (twice), main -> App::run, App::run -> parse.
func sampleGraph(t *testing.T) *graph.CallGraph {
	t.Helper()
	main := sid("src/main.rs", 0)
	parse := sid("src/parse.rs", 3)
	run := sid("src/app.rs", 10)

	b := graph.NewBuilder()
	for _, n := range []graph.Node{
		{ID: main, Name: "main", Kind: "function", Group: "my_crate", Label: "my_crate::main"},
		{ID: parse, Name: "parse", Kind: "function", Group: "parse", Label: "parse::parse", Depth: 1},
		{ID: run, Name: "run", Kind: "method", Group: "App", Label: `App::run "quoted"`, Depth: 1},
	} {
		_, err := b.AddNode(n)
		require.NoError(t, err)
	}
	_, err := b.AddEdge(main, parse, site("src/main.rs", 1), site("src/main.rs", 2))
	require.NoError(t, err)
	_, err = b.AddEdge(main, run, site("src/main.rs", 3))
	require.NoError(t, err)
	_, err = b.AddEdge(run, parse, site("src/app.rs", 11))
	require.NoError(t, err)

	g, err := b.Freeze(main, graph.Meta{RunID: "run-1", Root: "/ws"})
	require.NoError(t, err)
	return g
}

func TestDOT_Layout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, DOT{}.Render(&buf, sampleGraph(t)))

	want := `digraph callgraph {
  rankdir=LR;
  compound=true;
  subgraph "cluster_0" {
    label="App";
    color=lightgray;
    "src/app.rs:11:0-13:1" [label="App::run \"quoted\""];
  }
  subgraph "cluster_1" {
    label="my_crate";
    color=lightgray;
    "src/main.rs:1:0-3:1" [label="my_crate::main"];
  }
  subgraph "cluster_2" {
    label="parse";
    color=lightgray;
    "src/parse.rs:4:0-6:1" [label="parse::parse"];
  }
  "src/app.rs:11:0-13:1" -> "src/parse.rs:4:0-6:1";
  "src/main.rs:1:0-3:1" -> "src/app.rs:11:0-13:1";
  "src/main.rs:1:0-3:1" -> "src/parse.rs:4:0-6:1";
}
`
	assert.Equal(t, want, buf.String())
}

func TestDOT_PartialAndEscaping(t *testing.T) {
	b := graph.NewBuilder()
	id := sid(`dir\with"quote.rs`, 0)
	_, err := b.AddNode(graph.Node{ID: id, Name: "f", Group: "line\nbreak", Label: "f"})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, DOT{}.Render(&buf, b.Snapshot(id, graph.Meta{})))

	out := buf.String()
	assert.Contains(t, out, "// partial")
	assert.Contains(t, out, `label="line\nbreak";`)
	assert.Contains(t, out, `"dir\\with\"quote.rs:1:0-3:1"`)
}

func TestJSON_Document(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSON{}.Render(&buf, sampleGraph(t)))

	var doc Document
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "run-1", doc.RunID)
	assert.Equal(t, graph.DirectionOutgoing, doc.Direction)
	assert.False(t, doc.Partial)
	assert.Equal(t, "src/main.rs", doc.Entry.File)
	assert.Len(t, doc.Nodes, 3)
	require.Len(t, doc.Edges, 3)
	assert.Equal(t, "src/app.rs", doc.Edges[0].From.File)
	assert.Equal(t, graph.Stats{Nodes: 3, Edges: 3, CallSites: 4, MaxDepth: 1, Groups: 3}, doc.Stats)
	assert.Contains(t, buf.String(), `"direction":"outgoing"`)
}

func TestMermaid_Flowchart(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Mermaid{Fenced: true}.Render(&buf, sampleGraph(t)))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "```mermaid\nflowchart LR\n"))
	assert.True(t, strings.HasSuffix(out, "```\n"))
	assert.Contains(t, out, `subgraph g0["App"]`)
	assert.Contains(t, out, `n0["App::run #quot;quoted#quot;"]`)
	assert.Contains(t, out, "n1 -->|2| n2")
	assert.Contains(t, out, "n1 --> n0")
	assert.Contains(t, out, "style n1 stroke-width:3px")
}

func TestRenderers_Deterministic(t *testing.T) {
	g := sampleGraph(t)
	for _, name := range Formats() {
		r, err := New(name)
		require.NoError(t, err)
		first, err := Bytes(context.Background(), r, g)
		require.NoError(t, err)
		second, err := Bytes(context.Background(), r, g)
		require.NoError(t, err)
		assert.Equal(t, first, second, name)
	}
}

func TestNewAndForPath(t *testing.T) {
	_, err := New("svg")
	assert.ErrorIs(t, err, ErrUnknownFormat)

	r, err := New("JSON")
	require.NoError(t, err)
	assert.Equal(t, "json", r.Name())

	assert.Equal(t, "dot", ForPath("out/callgraph.dot").Name())
	assert.Equal(t, "json", ForPath("graph.JSON").Name())
	assert.Equal(t, "mermaid", ForPath("graph.mmd").Name())
	assert.Equal(t, Mermaid{Fenced: true}, ForPath("README.md"))
	assert.Equal(t, "dot", ForPath("graph").Name())
}
