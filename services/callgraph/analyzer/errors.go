// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyzer

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/callgraph/services/callgraph/graph"
	"github.com/AleutianAI/callgraph/services/callgraph/lsp"
)

// Sentinel errors for analysis.
var (
	// ErrEntryNotFound is returned when the entry locator matches no symbol.
	ErrEntryNotFound = errors.New("entry symbol not found")

	// ErrTraversalAborted is returned when a call hierarchy request fails
	// mid-traversal. The AnalysisError carries the partial graph.
	ErrTraversalAborted = errors.New("traversal aborted")

	// ErrInvalidOptions is returned when analysis options are unusable.
	ErrInvalidOptions = errors.New("invalid analysis options")
)

// Kind classifies an error for callers that map failures to exit codes or
// HTTP statuses.
type Kind int

const (
	KindUnknown Kind = iota
	KindProcessSpawn
	KindTransportClosed
	KindFrameCorrupt
	KindRequestTimeout
	KindNotReady
	KindNotReadyTimeout
	KindUnexpectedResponse
	KindEntryNotFound
	KindTraversalAborted
	KindCanceled
	KindInvalidInput
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown",
	KindProcessSpawn:       "process_spawn",
	KindTransportClosed:    "transport_closed",
	KindFrameCorrupt:       "frame_corrupt",
	KindRequestTimeout:     "request_timeout",
	KindNotReady:           "not_ready",
	KindNotReadyTimeout:    "not_ready_timeout",
	KindUnexpectedResponse: "unexpected_response",
	KindEntryNotFound:      "entry_not_found",
	KindTraversalAborted:   "traversal_aborted",
	KindCanceled:           "canceled",
	KindInvalidInput:       "invalid_input",
}

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// AnalysisError is a terminal analysis failure.
//
// Description:
//
//	For KindTraversalAborted, Partial holds the graph built before the
//	failure and Symbol names the node whose expansion failed. Err is the
//	underlying client error.
type AnalysisError struct {
	Kind    Kind
	Message string
	Symbol  string
	Partial *graph.CallGraph
	Err     error
}

// Error implements error.
func (e *AnalysisError) Error() string {
	msg := e.Message
	if e.Symbol != "" {
		msg = fmt.Sprintf("%s at %s", msg, e.Symbol)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinel so errors.Is(err, ErrEntryNotFound) works.
func (e *AnalysisError) Is(target error) bool {
	switch target {
	case ErrEntryNotFound:
		return e.Kind == KindEntryNotFound
	case ErrTraversalAborted:
		return e.Kind == KindTraversalAborted
	}
	return false
}

// PartialGraph returns the partial graph carried by err, if any.
func PartialGraph(err error) (*graph.CallGraph, bool) {
	var ae *AnalysisError
	if errors.As(err, &ae) && ae.Partial != nil {
		return ae.Partial, true
	}
	return nil, false
}

// KindOf classifies any error produced by the analyzer or the lsp package.
//
// Description:
//
//	An AnalysisError reports its own kind unless it is TraversalAborted, in
//	which case the kind stays TraversalAborted regardless of cause. Other
//	errors are classified by the lsp sentinel they wrap. The more specific
//	NotReadyTimeout is checked before NotReady.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ae *AnalysisError
	if errors.As(err, &ae) && ae.Kind != KindUnknown {
		return ae.Kind
	}

	switch {
	case errors.Is(err, lsp.ErrProcessSpawn):
		return KindProcessSpawn
	case errors.Is(err, lsp.ErrFrameCorrupt):
		return KindFrameCorrupt
	case errors.Is(err, lsp.ErrTransportClosed):
		return KindTransportClosed
	case errors.Is(err, lsp.ErrRequestTimeout):
		return KindRequestTimeout
	case errors.Is(err, lsp.ErrNotReadyTimeout):
		return KindNotReadyTimeout
	case errors.Is(err, lsp.ErrNotReady):
		return KindNotReady
	case errors.Is(err, lsp.ErrUnexpectedResponse), errors.Is(err, lsp.ErrInvalidResponse):
		return KindUnexpectedResponse
	case errors.Is(err, lsp.ErrInvalidParams), errors.Is(err, ErrInvalidOptions):
		return KindInvalidInput
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	}
	return KindUnknown
}
