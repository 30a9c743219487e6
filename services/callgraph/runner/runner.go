// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runner ties one language server session to the analyzer,
// renderers and output writer.
//
// A run is analyze, then render, then write. Commands (generate, watch,
// serve) share a Runner so the server is initialized and indexes the
// workspace once, however many graphs are produced from it.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/AleutianAI/callgraph/services/callgraph/analyzer"
	"github.com/AleutianAI/callgraph/services/callgraph/config"
	"github.com/AleutianAI/callgraph/services/callgraph/graph"
	"github.com/AleutianAI/callgraph/services/callgraph/lsp"
	"github.com/AleutianAI/callgraph/services/callgraph/output"
	"github.com/AleutianAI/callgraph/services/callgraph/render"
)

// Exit codes reported by commands.
const (
	ExitOK            = 0
	ExitError         = 1
	ExitPartial       = 2
	ExitEntryNotFound = 3
)

// ExitCode maps a run error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch analyzer.KindOf(err) {
	case analyzer.KindEntryNotFound:
		return ExitEntryNotFound
	case analyzer.KindTraversalAborted:
		if _, ok := analyzer.PartialGraph(err); ok {
			return ExitPartial
		}
	}
	return ExitError
}

// Request overrides the configured run for one graph. Zero fields use the
// Runner's configuration.
type Request struct {
	Entry     analyzer.Entry
	Direction string
	MaxDepth  *int

	// Format names a renderer. Empty picks one from Output, then DOT.
	Format string

	// Output is the file to write. Empty renders without writing.
	Output string
}

// Result is the outcome of one run.
type Result struct {
	// Graph is the complete graph, or the partial graph of an aborted
	// traversal. Nil when no graph was produced.
	Graph *graph.CallGraph

	// Data is the rendered Graph.
	Data []byte

	// Renderer produced Data.
	Renderer render.Renderer

	// Path is where Data was written, if anywhere.
	Path string

	// Kind classifies Err. KindUnknown when Err is nil.
	Kind analyzer.Kind

	Err      error
	ExitCode int
	Duration time.Duration
}

// Runner performs runs over one session.
//
// Thread Safety:
//
//	Safe for concurrent use. Concurrent runs share the session's client,
//	which multiplexes their requests.
type Runner struct {
	cfg     *config.Config
	session *lsp.Session
	logger  *slog.Logger
}

// Start spawns the configured language server and returns a Runner that
// owns it.
func Start(ctx context.Context, cfg *config.Config, registry *lsp.Registry, version string, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = lsp.NewRegistry()
	}
	opts, err := cfg.SessionOptions(registry, version, logger)
	if err != nil {
		return nil, err
	}
	session, err := lsp.StartSession(ctx, opts)
	if err != nil {
		return nil, err
	}
	return New(session, cfg, logger), nil
}

// New wraps an initialized session. The Runner takes ownership; Close
// shuts the session down.
func New(session *lsp.Session, cfg *config.Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, session: session, logger: logger}
}

// Config returns the runner's configuration.
func (r *Runner) Config() *config.Config { return r.cfg }

// Session returns the underlying session.
func (r *Runner) Session() *lsp.Session { return r.session }

// DefaultRequest returns the run described by the configuration alone.
func (r *Runner) DefaultRequest() Request {
	return Request{
		Entry:  r.cfg.EntryPoint(),
		Format: r.cfg.Output.Format,
		Output: r.cfg.Output.Path,
	}
}

// Generate analyzes, renders and optionally writes one graph.
//
// Description:
//
//	A traversal aborted midway still renders and writes its partial graph
//	and reports ExitPartial. An unknown entry reports ExitEntryNotFound
//	and writes nothing. Every failure is carried in the Result, never
//	returned separately.
func (r *Runner) Generate(ctx context.Context, req Request) *Result {
	start := time.Now()
	res, delivered := r.generate(ctx, req)
	res.Duration = time.Since(start)
	res.ExitCode = ExitCode(res.Err)
	if !delivered && res.ExitCode == ExitPartial {
		res.ExitCode = ExitError
	}
	if res.Err != nil {
		res.Kind = analyzer.KindOf(res.Err)
	}
	return res
}

// generate reports whether the graph, if any, was rendered and written as
// requested.
func (r *Runner) generate(ctx context.Context, req Request) (*Result, bool) {
	res := &Result{}

	renderer, err := r.renderer(req)
	if err != nil {
		res.Err = fmt.Errorf("%w: %v", analyzer.ErrInvalidOptions, err)
		return res, false
	}
	res.Renderer = renderer

	opts, err := r.analyzerOptions(req)
	if err != nil {
		res.Err = err
		return res, false
	}
	a, err := analyzer.New(r.session.Client(), opts)
	if err != nil {
		res.Err = err
		return res, false
	}

	entry := req.Entry
	if entry == (analyzer.Entry{}) {
		entry = r.cfg.EntryPoint()
	}

	if err := r.awaitIndex(ctx); err != nil {
		res.Err = err
		return res, false
	}

	g, runErr := a.Analyze(ctx, entry)
	if runErr != nil {
		partial, ok := analyzer.PartialGraph(runErr)
		if !ok {
			res.Err = runErr
			return res, false
		}
		g = partial
	}
	res.Graph = g
	res.Err = runErr

	data, err := render.Bytes(ctx, renderer, g)
	if err != nil {
		res.Err = errors.Join(runErr, err)
		return res, false
	}
	res.Data = data

	if req.Output != "" {
		if err := output.WriteFile(ctx, req.Output, data); err != nil {
			res.Err = errors.Join(runErr, err)
			return res, false
		}
		res.Path = req.Output
		r.logger.Info("call graph written",
			slog.String("path", req.Output),
			slog.String("format", renderer.Name()),
			slog.Int("nodes", g.NodeCount()),
			slog.Int("edges", g.EdgeCount()),
			slog.Bool("partial", g.Partial()),
		)
	}
	return res, true
}

// awaitIndex holds a run while the server reports it is indexing, for at
// most the retry budget. A server still indexing after that is queried
// anyway; its requests fall back on the retry policy.
func (r *Runner) awaitIndex(ctx context.Context) error {
	waitCtx, cancel := ctx, context.CancelFunc(func() {})
	if bound := r.cfg.Retry.MaxElapsed; bound > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, bound)
	}
	defer cancel()

	err := r.session.Client().WaitReady(waitCtx)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		r.logger.Warn("language server still indexing, running anyway",
			slog.Duration("waited", r.cfg.Retry.MaxElapsed))
		return nil
	default:
		return err
	}
}

func (r *Runner) renderer(req Request) (render.Renderer, error) {
	if req.Format != "" {
		return render.New(req.Format)
	}
	if req.Output != "" {
		return render.ForPath(req.Output), nil
	}
	return render.DOT{}, nil
}

func (r *Runner) analyzerOptions(req Request) (analyzer.Options, error) {
	cfg := *r.cfg
	if req.Direction != "" {
		cfg.Direction = req.Direction
	}
	if req.MaxDepth != nil {
		cfg.MaxDepth = *req.MaxDepth
	}
	opts, err := cfg.AnalyzerOptions(r.session.RootPath(), r.logger)
	if err != nil {
		return analyzer.Options{}, fmt.Errorf("%w: %v", analyzer.ErrInvalidOptions, err)
	}
	return opts, nil
}

// Symbol is one workspace function for listing.
type Symbol struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Container string `json:"container,omitempty"`
	File      string `json:"file"`
	Line      int    `json:"line"`
}

// Symbols lists callable workspace symbols matching query, sorted by name
// then file. Symbols outside the workspace are skipped.
func (r *Runner) Symbols(ctx context.Context, query string) ([]Symbol, error) {
	filter, err := analyzer.NewFilter(r.session.RootPath(), analyzer.FilterOptions{})
	if err != nil {
		return nil, err
	}
	infos, err := r.session.Client().WorkspaceSymbols(ctx, query)
	if err != nil {
		return nil, err
	}

	symbols := make([]Symbol, 0, len(infos))
	for _, info := range infos {
		if !info.Kind.IsCallable() {
			continue
		}
		rel, ok := filter.Relative(lsp.URIToPath(info.Location.URI))
		if !ok {
			continue
		}
		symbols = append(symbols, Symbol{
			Name:      info.Name,
			Kind:      info.Kind.String(),
			Container: info.ContainerName,
			File:      rel,
			Line:      info.Location.Range.Start.Line + 1,
		})
	}
	sort.SliceStable(symbols, func(i, j int) bool {
		if symbols[i].Name != symbols[j].Name {
			return symbols[i].Name < symbols[j].Name
		}
		if symbols[i].File != symbols[j].File {
			return symbols[i].File < symbols[j].File
		}
		return symbols[i].Line < symbols[j].Line
	})
	return symbols, nil
}

// FilesChanged forwards file change events to the server.
func (r *Runner) FilesChanged(events []lsp.FileEvent) error {
	return r.session.Client().DidChangeWatchedFiles(events)
}

// Close shuts the session down.
func (r *Runner) Close(ctx context.Context) error {
	return r.session.Shutdown(ctx)
}
