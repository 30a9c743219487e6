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
	"errors"
	"fmt"
)

// Sentinel errors for the protocol layer.
var (
	// ErrProcessSpawn indicates the language server executable is missing
	// or could not be started.
	ErrProcessSpawn = errors.New("lsp process spawn failed")

	// ErrTransportClosed indicates the peer closed its end of the pipe pair.
	ErrTransportClosed = errors.New("lsp transport closed")

	// ErrFrameCorrupt indicates a frame that can never be decoded. The stream
	// is out of sync and the session must be restarted.
	ErrFrameCorrupt = errors.New("lsp frame corrupt")

	// ErrRequestTimeout indicates no response arrived within the per-attempt
	// deadline, after the single timeout retry.
	ErrRequestTimeout = errors.New("lsp request timeout")

	// ErrNotReady indicates the server is still indexing. Never surfaced to
	// callers of Call; it is retried until ErrNotReadyTimeout.
	ErrNotReady = errors.New("lsp server not ready")

	// ErrNotReadyTimeout indicates the server stayed not ready past the
	// retry policy bounds.
	ErrNotReadyTimeout = errors.New("lsp server not ready after retries")

	// ErrUnexpectedResponse indicates a response whose id matches no
	// pending request.
	ErrUnexpectedResponse = errors.New("unexpected lsp response")

	// ErrInvalidParams indicates a message that cannot be built.
	ErrInvalidParams = errors.New("invalid lsp params")

	// ErrInvalidResponse indicates a result payload that does not match the
	// expected shape.
	ErrInvalidResponse = errors.New("invalid lsp response")

	// ErrInitializeFailed indicates the initialize handshake failed.
	ErrInitializeFailed = errors.New("lsp initialize failed")

	// ErrUnsupportedLanguage indicates no server preset exists for the language.
	ErrUnsupportedLanguage = errors.New("no lsp configuration for language")

	// ErrClientStarted indicates Start was called twice on the same client.
	ErrClientStarted = errors.New("lsp client already started")
)

// JSON-RPC and LSP error codes the client inspects.
const (
	CodeParseError           = -32700
	CodeInvalidRequest       = -32600
	CodeMethodNotFound       = -32601
	CodeInvalidParams        = -32602
	CodeInternalError        = -32603
	CodeServerNotInitialized = -32002
	CodeServerNotInitLegacy  = -32802
	CodeContentModified      = -32801
	CodeRequestCancelled     = -32800
	CodeConnectionClosed     = -32099
)

// LSPError represents an error returned by the language server via JSON-RPC.
//
// LSP error codes follow the JSON-RPC spec plus LSP-specific codes:
//   - -32700: Parse error
//   - -32601: Method not found
//   - -32602: Invalid params
//   - -32002: Server not initialized
//   - -32802: Server not initialized (pre-3.16 servers)
//   - -32801: Content modified, rust-analyzer sends this while indexing
//   - -32800: Request cancelled
type LSPError struct {
	// Method is the request method that produced the error.
	Method string

	// Code is the JSON-RPC error code.
	Code int

	// Message is the error message from the server.
	Message string

	// Data contains optional additional data about the error.
	Data interface{}
}

// Error implements the error interface.
func (e *LSPError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("LSP error %d on %s: %s (data: %v)", e.Code, e.Method, e.Message, e.Data)
	}
	return fmt.Sprintf("LSP error %d on %s: %s", e.Code, e.Method, e.Message)
}

// IsMethodNotFound returns true if the method is not supported by the server.
func (e *LSPError) IsMethodNotFound() bool {
	return e.Code == CodeMethodNotFound
}

// IsRequestCancelled returns true if the request was cancelled.
func (e *LSPError) IsRequestCancelled() bool {
	return e.Code == CodeRequestCancelled
}

// IsNotReady returns true if the server refused the request because it has
// not finished initialising or indexing.
func (e *LSPError) IsNotReady() bool {
	switch e.Code {
	case CodeContentModified, CodeServerNotInitialized, CodeServerNotInitLegacy:
		return true
	}
	return false
}

// Is lets errors.Is(err, ErrNotReady) match not-ready server errors.
func (e *LSPError) Is(target error) bool {
	return target == ErrNotReady && e.IsNotReady()
}
