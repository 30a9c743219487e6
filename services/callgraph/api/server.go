// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api serves call graphs over HTTP from one long-lived language
// server session.
//
// # Endpoints
//
//	GET /v1/health     Session and indexing state.
//	GET /v1/callgraph  Analyze and render a graph.
//	GET /v1/symbols    List workspace functions.
//	GET /metrics       Prometheus metrics, when enabled.
//
// # Admission
//
// Concurrent graph runs are bounded by a weighted semaphore. Identical
// requests in flight share one run.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/callgraph/services/callgraph/runner"
)

// ServiceName identifies the server in traces.
const ServiceName = "callgraph-server"

// Options configures a Server.
type Options struct {
	// Addr is the listen address. Default: 127.0.0.1:8089.
	Addr string

	// MaxConcurrentRuns bounds graph runs in flight. Default: 2.
	MaxConcurrentRuns int64

	// RunTimeout bounds one graph run. Zero means no limit beyond the
	// request context.
	RunTimeout time.Duration

	// Metrics serves GET /metrics when non-nil.
	Metrics http.Handler

	// Version is reported by the health endpoint.
	Version string

	Logger *slog.Logger
}

// Server is the HTTP front end of a Runner.
//
// Thread Safety:
//
//	Safe for concurrent use. Handlers share the Runner, which multiplexes
//	requests over one session.
type Server struct {
	runner  *runner.Runner
	opts    Options
	logger  *slog.Logger
	sem     *semaphore.Weighted
	flights singleflight.Group
	router  *gin.Engine
	started time.Time
}

// New builds a Server and its routes. It does not listen; call
// ListenAndServe or use Handler.
func New(r *runner.Runner, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:8089"
	}
	if opts.MaxConcurrentRuns <= 0 {
		opts.MaxConcurrentRuns = 2
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{
		runner:  r,
		opts:    opts,
		logger:  opts.Logger.With(slog.String("component", "api")),
		sem:     semaphore.NewWeighted(opts.MaxConcurrentRuns),
		started: time.Now(),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(ServiceName))
	s.RegisterRoutes(router.Group("/v1"))
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}
	s.router = router
	return s
}

// RegisterRoutes mounts the API under rg.
func (s *Server) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/health", s.HandleHealth)
	rg.GET("/callgraph", s.HandleCallGraph)
	rg.GET("/symbols", s.HandleSymbols)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is done, then shuts down gracefully,
// giving in-flight requests up to grace to finish.
func (s *Server) ListenAndServe(ctx context.Context, grace time.Duration) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln, grace)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener, grace time.Duration) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("serving call graphs", slog.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
