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
	"strings"
)

// Direction is the call hierarchy direction a graph was built in.
type Direction int

const (
	// DirectionOutgoing expands callees, starting from the entry caller.
	DirectionOutgoing Direction = iota

	// DirectionIncoming expands callers, starting from the entry callee.
	DirectionIncoming
)

// String returns "outgoing" or "incoming".
func (d Direction) String() string {
	if d == DirectionIncoming {
		return "incoming"
	}
	return "outgoing"
}

// ParseDirection maps a direction name to a Direction.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "", "outgoing", "out", "callees":
		return DirectionOutgoing, nil
	case "incoming", "in", "callers":
		return DirectionIncoming, nil
	}
	return DirectionOutgoing, fmt.Errorf("unknown direction %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(text []byte) error {
	parsed, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Position is a 0-based line and character offset.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a half-open span in a file.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Location is a range in a file.
type Location struct {
	File  string `json:"file"`
	Range Range  `json:"range"`
}

// SymbolID identifies a declaration by its file and range. Two symbols with
// equal SymbolIDs are the same program entity.
type SymbolID struct {
	File  string `json:"file"`
	Range Range  `json:"range"`
}

// String renders the id as file:line:char-line:char with 1-based lines.
func (id SymbolID) String() string {
	return fmt.Sprintf("%s:%d:%d-%d:%d",
		id.File,
		id.Range.Start.Line+1, id.Range.Start.Character,
		id.Range.End.Line+1, id.Range.End.Character,
	)
}

// Less orders ids by file, then start, then end.
func (id SymbolID) Less(other SymbolID) bool {
	if id.File != other.File {
		return id.File < other.File
	}
	return rangeLess(id.Range, other.Range)
}

func rangeLess(a, b Range) bool {
	if a.Start != b.Start {
		return positionLess(a.Start, b.Start)
	}
	return positionLess(a.End, b.End)
}

func positionLess(a, b Position) bool {
	if a.Line != b.Line {
		return a.Line < b.Line
	}
	return a.Character < b.Character
}

func locationLess(a, b Location) bool {
	if a.File != b.File {
		return a.File < b.File
	}
	return rangeLess(a.Range, b.Range)
}

// Node is one declaration in the call graph.
type Node struct {
	// ID is the declaration's identity.
	ID SymbolID `json:"id"`

	// Name is the bare symbol name.
	Name string `json:"name"`

	// Kind is the symbol kind name (function, method, ...).
	Kind string `json:"kind"`

	// Detail is the server-provided detail string, if any.
	Detail string `json:"detail,omitempty"`

	// Group is the owner the node is clustered under (type, module, ...).
	Group string `json:"group"`

	// Label is the display name, usually group::name.
	Label string `json:"label"`

	// Depth is the BFS distance from the entry node.
	Depth int `json:"depth"`
}

// Edge is a caller to callee relationship with every call site between the
// pair.
type Edge struct {
	From      SymbolID   `json:"from"`
	To        SymbolID   `json:"to"`
	CallSites []Location `json:"call_sites"`
}

// Meta describes how a graph was produced.
type Meta struct {
	// RunID uniquely identifies the analysis run.
	RunID string `json:"run_id"`

	// Root is the workspace root.
	Root string `json:"root"`

	// Direction is the traversal direction.
	Direction Direction `json:"direction"`

	// MaxDepth is the depth limit in force. Zero means unlimited.
	MaxDepth int `json:"max_depth"`
}

// Stats summarises a graph.
type Stats struct {
	Nodes     int `json:"nodes"`
	Edges     int `json:"edges"`
	CallSites int `json:"call_sites"`
	MaxDepth  int `json:"max_depth"`
	Groups    int `json:"groups"`
}
