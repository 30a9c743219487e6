// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"github.com/AleutianAI/callgraph/services/callgraph/runner"
)

// Response headers set on graph responses.
const (
	HeaderRequestID = "X-Request-ID"
	HeaderNodes     = "X-Callgraph-Nodes"
	HeaderEdges     = "X-Callgraph-Edges"
	HeaderPartial   = "X-Callgraph-Partial"
	HeaderAbort     = "X-Callgraph-Abort-Reason"
	HeaderDuration  = "X-Callgraph-Duration-Ms"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeEntryNotFound  = "ENTRY_NOT_FOUND"
	CodeNotReady       = "SERVER_NOT_READY"
	CodeTimeout        = "TIMEOUT"
	CodeBusy           = "TOO_MANY_RUNS"
	CodeInternal       = "ANALYSIS_FAILED"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the machine-readable error code.
	Code string `json:"code,omitempty"`

	// Details provides additional context (optional).
	Details string `json:"details,omitempty"`
}

// HealthResponse is the body of GET /v1/health.
type HealthResponse struct {
	Status    string `json:"status"`
	Session   string `json:"session"`
	Readiness string `json:"readiness"`
	Health    string `json:"health,omitempty"`
	Server    string `json:"server,omitempty"`
	Language  string `json:"language,omitempty"`
	Workspace string `json:"workspace"`
	Version   string `json:"version,omitempty"`
	UptimeSec int64  `json:"uptime_sec"`
}

// SymbolsResponse is the body of GET /v1/symbols.
type SymbolsResponse struct {
	Query   string          `json:"query"`
	Count   int             `json:"count"`
	Symbols []runner.Symbol `json:"symbols"`
}
