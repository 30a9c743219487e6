// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph provides the call graph value produced by the analyzer.
//
// Nodes are declarations identified by (file, range); edges point from a
// caller to a callee and carry every call site between the pair.
//
// # Thread Safety
//
// Builder is NOT safe for concurrent use. It is designed for a single
// writer during traversal. CallGraph is immutable and safe to read from
// multiple goroutines.
//
// # Lifecycle
//
//  1. Create with NewBuilder()
//  2. Build with AddNode() and AddEdge() calls
//  3. Call Freeze() to validate and obtain a CallGraph
//  4. Hand the CallGraph to renderers; the Builder is then discarded
package graph

import "errors"

// Sentinel errors for graph operations.
var (
	// ErrGraphFrozen is returned when modifying a builder after Freeze.
	ErrGraphFrozen = errors.New("graph is frozen and cannot be modified")

	// ErrNodeNotFound is returned when an edge or the entry references a
	// node that was never added.
	ErrNodeNotFound = errors.New("node not found")

	// ErrMaxNodesExceeded is returned when the builder is at node capacity.
	ErrMaxNodesExceeded = errors.New("maximum node count exceeded")

	// ErrMaxEdgesExceeded is returned when the builder is at edge capacity.
	ErrMaxEdgesExceeded = errors.New("maximum edge count exceeded")

	// ErrNotReachableClosed is returned by Freeze when some node cannot be
	// reached from the entry node.
	ErrNotReachableClosed = errors.New("graph is not reachable-closed from entry")
)
