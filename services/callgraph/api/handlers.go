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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/callgraph/services/callgraph/analyzer"
	"github.com/AleutianAI/callgraph/services/callgraph/graph"
	"github.com/AleutianAI/callgraph/services/callgraph/lsp"
	"github.com/AleutianAI/callgraph/services/callgraph/render"
	"github.com/AleutianAI/callgraph/services/callgraph/runner"
)

var errBusy = errors.New("too many graph runs in progress")

// HandleHealth handles GET /v1/health.
//
// Description:
//
//	Reports the session state and the server's indexing readiness. Returns
//	503 until the session is ready. An indexing server is still healthy;
//	graph requests wait for it.
func (s *Server) HandleHealth(c *gin.Context) {
	session := s.runner.Session()
	readiness := session.Client().Readiness()

	resp := HealthResponse{
		Status:    "ok",
		Session:   session.State().String(),
		Readiness: readiness.State.String(),
		Health:    readiness.Health,
		Server:    session.ServerName(),
		Language:  session.Language(),
		Workspace: session.RootPath(),
		Version:   s.opts.Version,
		UptimeSec: int64(time.Since(s.started).Seconds()),
	}
	status := http.StatusOK
	if session.State() != lsp.SessionStateReady {
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

// HandleCallGraph handles GET /v1/callgraph.
//
// Description:
//
//	Analyzes from an entry point and returns the rendered graph with the
//	renderer's content type. Nothing is written to disk.
//
// Query Parameters:
//
//	entry     - Entry function name. Defaults to the configured entry.
//	file      - File of the entry, relative to the workspace.
//	line      - 1-based line of the entry. Requires file.
//	character - 0-based column of the entry.
//	direction - outgoing (default) or incoming.
//	depth     - Maximum depth. 0 means unlimited.
//	format    - dot (default), json or mermaid.
//
// Responses:
//
//	200 - Graph. X-Callgraph-Partial is true for an aborted traversal.
//	400 - Invalid parameters.
//	404 - Entry not found.
//	429 - Too many runs in progress.
//	503 - Server still indexing.
//	504 - Run timed out.
func (s *Server) HandleCallGraph(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := s.logger.With(slog.String("request_id", requestID))

	req, err := s.parseRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeInvalidRequest})
		return
	}

	v, runErr, shared := s.flights.Do(requestKey(req), func() (interface{}, error) {
		return s.run(c.Request.Context(), req)
	})
	if runErr != nil {
		if errors.Is(runErr, errBusy) {
			c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: runErr.Error(), Code: CodeBusy})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: runErr.Error(), Code: CodeInternal})
		return
	}
	res := v.(*runner.Result)

	logger.Info("call graph request",
		slog.String("entry", req.Entry.String()),
		slog.String("format", req.Format),
		slog.Int("exit_code", res.ExitCode),
		slog.Bool("shared", shared),
		slog.Duration("duration", res.Duration),
	)

	if res.Graph == nil || res.Data == nil {
		s.writeError(c, res.Err)
		return
	}

	c.Header(HeaderNodes, strconv.Itoa(res.Graph.NodeCount()))
	c.Header(HeaderEdges, strconv.Itoa(res.Graph.EdgeCount()))
	c.Header(HeaderPartial, strconv.FormatBool(res.Graph.Partial()))
	c.Header(HeaderDuration, strconv.FormatInt(res.Duration.Milliseconds(), 10))
	if res.Err != nil {
		c.Header(HeaderAbort, headerSafe(res.Err.Error()))
	}
	c.Data(http.StatusOK, res.Renderer.ContentType(), res.Data)
}

// run performs one admitted graph run. Shared callers all receive its
// result, so the run is detached from the first caller's cancellation and
// bounded by RunTimeout instead.
func (s *Server) run(ctx context.Context, req runner.Request) (*runner.Result, error) {
	if !s.sem.TryAcquire(1) {
		return nil, errBusy
	}
	defer s.sem.Release(1)

	ctx = context.WithoutCancel(ctx)
	if s.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RunTimeout)
		defer cancel()
	}
	return s.runner.Generate(ctx, req), nil
}

func (s *Server) parseRequest(c *gin.Context) (runner.Request, error) {
	req := runner.Request{
		Entry: analyzer.Entry{
			Name: c.Query("entry"),
			File: c.Query("file"),
		},
		Direction: c.Query("direction"),
		Format:    strings.ToLower(c.DefaultQuery("format", s.runner.Config().Output.Format)),
	}

	var err error
	if req.Entry.Line, err = intQuery(c, "line"); err != nil {
		return req, err
	}
	if req.Entry.Character, err = intQuery(c, "character"); err != nil {
		return req, err
	}
	if req.Entry.Line > 0 && req.Entry.File == "" {
		return req, errors.New("line requires file")
	}
	if req.Entry.Name != "" && req.Entry.Line > 0 {
		return req, errors.New("entry and line are mutually exclusive")
	}
	if req.Entry != (analyzer.Entry{}) {
		if err := req.Entry.Validate(); err != nil {
			return req, err
		}
	}

	if req.Direction != "" {
		if _, err := graph.ParseDirection(req.Direction); err != nil {
			return req, err
		}
	}
	if raw, ok := c.GetQuery("depth"); ok {
		depth, err := strconv.Atoi(raw)
		if err != nil || depth < 0 {
			return req, fmt.Errorf("depth must be a non-negative integer, got %q", raw)
		}
		req.MaxDepth = &depth
	}
	if req.Format == "" {
		req.Format = "dot"
	}
	if _, err := render.New(req.Format); err != nil {
		return req, err
	}
	return req, nil
}

// HandleSymbols handles GET /v1/symbols.
//
// Query Parameters:
//
//	query - Workspace symbol query. Empty lists every function the server
//	        returns.
func (s *Server) HandleSymbols(c *gin.Context) {
	getOrCreateRequestID(c)
	query := c.Query("query")

	symbols, err := s.runner.Symbols(c.Request.Context(), query)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, SymbolsResponse{Query: query, Count: len(symbols), Symbols: symbols})
}

// writeError maps an analysis failure to a status and error code.
func (s *Server) writeError(c *gin.Context, err error) {
	if err == nil {
		err = errors.New("no graph produced")
	}
	status, code := http.StatusInternalServerError, CodeInternal
	switch analyzer.KindOf(err) {
	case analyzer.KindEntryNotFound:
		status, code = http.StatusNotFound, CodeEntryNotFound
	case analyzer.KindInvalidInput:
		status, code = http.StatusBadRequest, CodeInvalidRequest
	case analyzer.KindNotReady, analyzer.KindNotReadyTimeout:
		status, code = http.StatusServiceUnavailable, CodeNotReady
	case analyzer.KindRequestTimeout, analyzer.KindCanceled:
		status, code = http.StatusGatewayTimeout, CodeTimeout
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("call graph request failed", slog.String("error", err.Error()), slog.Int("status", status))
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

// requestKey identifies requests that can share one run.
func requestKey(req runner.Request) string {
	depth := "-"
	if req.MaxDepth != nil {
		depth = strconv.Itoa(*req.MaxDepth)
	}
	return strings.Join([]string{
		req.Entry.Name,
		req.Entry.File,
		strconv.Itoa(req.Entry.Line),
		strconv.Itoa(req.Entry.Character),
		req.Direction,
		depth,
		req.Format,
	}, "\x00")
}

func intQuery(c *gin.Context, name string) (int, error) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", name, raw)
	}
	return v, nil
}

// headerSafe flattens a message to one header line.
func headerSafe(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		return r
	}, s)
	if len(s) > 512 {
		s = s[:512]
	}
	return s
}

// getOrCreateRequestID returns the caller's X-Request-ID or a new one, and
// echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader(HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header(HeaderRequestID, requestID)
	return requestID
}
