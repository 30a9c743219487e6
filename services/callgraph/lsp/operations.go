// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// =============================================================================
// PATH HELPERS
// =============================================================================

// PathToURI converts an absolute or relative file path to a file:// URI.
func PathToURI(path string) string {
	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	u := &url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String()
}

// URIToPath converts a file:// URI to a file path, decoding escapes.
// Non-file URIs are returned unchanged.
func URIToPath(uri string) string {
	if u, err := url.Parse(uri); err == nil && u.Scheme == "file" {
		return filepath.FromSlash(u.Path)
	}
	return uri
}

// =============================================================================
// SYMBOL OPERATIONS
// =============================================================================

// WorkspaceSymbols searches symbols across the workspace.
//
// Description:
//
//	An empty answer before the server reports it is ready is treated as
//	not ready and retried, since rust-analyzer answers workspace/symbol with
//	an empty list until its index is built. A server that never reports
//	readiness gets its empty answer accepted once the retry budget is spent.
func (c *Client) WorkspaceSymbols(ctx context.Context, query string) ([]SymbolInformation, error) {
	return c.workspaceSymbols(ctx, "WorkspaceSymbols", query, func(raw json.RawMessage) bool {
		return !isEmptyResult(raw)
	})
}

func (c *Client) workspaceSymbols(ctx context.Context, op, query string, settled func(json.RawMessage) bool) ([]SymbolInformation, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	ctx, span := startOperationSpan(ctx, op, "")

	var symbols []SymbolInformation
	err := c.call(ctx, "workspace/symbol", WorkspaceSymbolParams{Query: query}, &symbols, callOptions{settled: settled})
	endOperationSpan(span, len(symbols), err)
	if err != nil {
		return nil, fmt.Errorf("workspace symbols %q: %w", query, err)
	}
	return symbols, nil
}

// FindFunction looks a callable symbol up by name.
//
// Description:
//
//	Queries workspace/symbol with name and keeps functions, methods and
//	constructors that accept allows (nil allows all). An exact name match
//	wins over a partial one; when file is set, matches in that file win
//	over matches elsewhere. Until the server reports it is ready, an answer
//	with no acceptable match is retried like a not-ready error.
//
// Outputs:
//
//	*SymbolInformation - The best match, or nil when nothing matches.
//	error - Non-nil only when the request itself failed.
func (c *Client) FindFunction(ctx context.Context, name, file string, accept func(SymbolInformation) bool) (*SymbolInformation, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty function name", ErrInvalidParams)
	}
	symbols, err := c.workspaceSymbols(ctx, "FindFunction", name, func(raw json.RawMessage) bool {
		var candidates []SymbolInformation
		if err := json.Unmarshal(raw, &candidates); err != nil {
			return true
		}
		return pickFunction(candidates, name, file, accept) != nil
	})
	if err != nil {
		return nil, err
	}
	return pickFunction(symbols, name, file, accept), nil
}

// pickFunction ranks accepted candidates: exact+file, exact, partial+file,
// partial. Ties keep server order.
func pickFunction(symbols []SymbolInformation, name, file string, accept func(SymbolInformation) bool) *SymbolInformation {
	var wantURI string
	if file != "" {
		wantURI = PathToURI(file)
	}

	best := -1
	bestRank := 0
	for i, sym := range symbols {
		if !sym.Kind.IsCallable() {
			continue
		}
		if accept != nil && !accept(sym) {
			continue
		}
		rank := 0
		switch {
		case sym.Name == name:
			rank = 3
		case strings.Contains(sym.Name, name):
			rank = 1
		default:
			continue
		}
		if wantURI != "" && sym.Location.URI == wantURI {
			rank++
		}
		if rank > bestRank {
			best, bestRank = i, rank
		}
	}
	if best < 0 {
		return nil
	}
	sym := symbols[best]
	return &sym
}

// =============================================================================
// CALL HIERARCHY OPERATIONS
// =============================================================================

// PrepareCallHierarchy returns the call hierarchy items at a position.
func (c *Client) PrepareCallHierarchy(ctx context.Context, path string, pos Position) ([]CallHierarchyItem, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	ctx, span := startOperationSpan(ctx, "PrepareCallHierarchy", path)

	params := CallHierarchyPrepareParams{
		TextDocumentPositionParams: TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: PathToURI(path)},
			Position:     pos,
		},
	}
	var items []CallHierarchyItem
	err := c.Call(ctx, "textDocument/prepareCallHierarchy", params, &items)
	endOperationSpan(span, len(items), err)
	if err != nil {
		return nil, fmt.Errorf("prepare call hierarchy %s:%d:%d: %w", path, pos.Line, pos.Character, err)
	}
	return items, nil
}

// ResolveSymbolAt returns the declaration at a position.
//
// Outputs:
//
//	*CallHierarchyItem - The first item the server returned, or nil when
//	                     the position holds no callable symbol.
//	error - Non-nil only when the request itself failed.
func (c *Client) ResolveSymbolAt(ctx context.Context, path string, pos Position) (*CallHierarchyItem, error) {
	items, err := c.PrepareCallHierarchy(ctx, path, pos)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

// OutgoingCalls returns the callees of item with their call sites, in server
// order.
func (c *Client) OutgoingCalls(ctx context.Context, item CallHierarchyItem) ([]CallHierarchyOutgoingCall, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	ctx, span := startOperationSpan(ctx, "OutgoingCalls", URIToPath(item.URI))

	var calls []CallHierarchyOutgoingCall
	err := c.Call(ctx, "callHierarchy/outgoingCalls", CallHierarchyCallsParams{Item: item}, &calls)
	endOperationSpan(span, len(calls), err)
	if err != nil {
		return nil, fmt.Errorf("outgoing calls of %s: %w", item.Name, err)
	}
	return calls, nil
}

// IncomingCalls returns the callers of item with their call sites, in server
// order.
func (c *Client) IncomingCalls(ctx context.Context, item CallHierarchyItem) ([]CallHierarchyIncomingCall, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	ctx, span := startOperationSpan(ctx, "IncomingCalls", URIToPath(item.URI))

	var calls []CallHierarchyIncomingCall
	err := c.Call(ctx, "callHierarchy/incomingCalls", CallHierarchyCallsParams{Item: item}, &calls)
	endOperationSpan(span, len(calls), err)
	if err != nil {
		return nil, fmt.Errorf("incoming calls of %s: %w", item.Name, err)
	}
	return calls, nil
}

// =============================================================================
// WORKSPACE NOTIFICATIONS
// =============================================================================

// DidChangeWatchedFiles tells the server that files changed on disk.
func (c *Client) DidChangeWatchedFiles(changes []FileEvent) error {
	if len(changes) == 0 {
		return nil
	}
	return c.Notify("workspace/didChangeWatchedFiles", DidChangeWatchedFilesParams{Changes: changes})
}
