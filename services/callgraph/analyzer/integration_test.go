// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyzer_test

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/callgraph/services/callgraph/analyzer"
	"github.com/AleutianAI/callgraph/services/callgraph/graph"
	"github.com/AleutianAI/callgraph/services/callgraph/lsp"
	"github.com/AleutianAI/callgraph/services/callgraph/lsp/lsptest"
)

func testPolicy() lsp.RetryPolicy {
	return lsp.RetryPolicy{
		MaxAttempts:    5,
		Delay:          time.Millisecond,
		Multiplier:     1,
		AttemptTimeout: 2 * time.Second,
		TimeoutRetries: 1,
	}
}

func startSession(t *testing.T, srv *lsptest.Server, root string) *lsp.Session {
	t.Helper()
	sess, err := srv.Start(context.Background(), root, lsp.ClientOptions{Policy: testPolicy()})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sess.Shutdown(ctx)
		srv.Close()
	})
	return sess
}

// crateProgram is a small crate:
//
//	main -> parse (twice), run
//	run  -> parse, helper, vendored
//	helper -> run (cycle)
func crateProgram(root string) *lsptest.Program {
	return lsptest.NewProgram(root).
		Func("main", "src/main.rs", 0).
		Func("parse", "src/parse.rs", 0).
		Add(lsptest.Func{Name: "run", File: "src/app.rs", Line: 0, Kind: lsp.SymbolKindMethod, Container: "App"}).
		Func("helper", "src/app.rs", 10).
		Func("vendored", "vendor/dep/src/lib.rs", 0).
		Call("main", "parse", 1, 4).
		Call("main", "parse", 2, 4).
		Call("main", "run", 3, 4).
		Call("run", "parse", 1, 8).
		Call("run", "helper", 2, 8).
		Call("run", "vendored", 3, 8).
		Call("helper", "run", 11, 4)
}

func TestAnalyzer_EndToEndOverSession(t *testing.T) {
	root := t.TempDir()
	srv := lsptest.NewServer()
	prog := crateProgram(root)
	prog.SplitCallSites = true
	prog.Install(srv)
	sess := startSession(t, srv, root)

	a, err := analyzer.New(sess.Client(), analyzer.Options{
		Root:   root,
		Filter: analyzer.FilterOptions{Exclude: []string{"vendor/*"}},
	})
	require.NoError(t, err)

	g, err := a.Analyze(context.Background(), analyzer.Entry{Name: "main"})
	require.NoError(t, err)

	labels := make(map[graph.SymbolID]string)
	for _, n := range g.Nodes() {
		labels[n.ID] = n.Label
	}
	edges := make(map[string]int)
	for _, e := range g.Edges() {
		edges[labels[e.From]+" -> "+labels[e.To]] = len(e.CallSites)
	}

	crate := analyzer.NewLabeler(root, nil, nil).Group(context.Background(), prog.Item("main"))
	assert.Equal(t, map[string]int{
		crate + "::main -> parse::parse": 2,
		crate + "::main -> App::run":     1,
		"App::run -> parse::parse":       1,
		"App::run -> app::helper":        1,
		"app::helper -> App::run":        1,
	}, edges)

	// Each reachable function is expanded exactly once.
	assert.Equal(t, 4, srv.Count("callHierarchy/outgoingCalls"))
	assert.Equal(t, analyzer.StateDone, a.State())
}

func TestAnalyzer_EntryNotFoundOverSession(t *testing.T) {
	root := t.TempDir()
	srv := lsptest.NewServer()
	crateProgram(root).Install(srv)
	sess := startSession(t, srv, root)

	a, err := analyzer.New(sess.Client(), analyzer.Options{Root: root})
	require.NoError(t, err)

	_, err = a.Analyze(context.Background(), analyzer.Entry{Name: "does_not_exist"})
	assert.Equal(t, analyzer.KindEntryNotFound, analyzer.KindOf(err))
	assert.Zero(t, srv.Count("textDocument/prepareCallHierarchy"))
	assert.Zero(t, srv.Count("callHierarchy/outgoingCalls"))
}

func TestAnalyzer_EmptyEntryLookupBeforeReadinessIsRetried(t *testing.T) {
	root := t.TempDir()
	srv := lsptest.NewServer()
	crateProgram(root).Install(srv)

	// A freshly initialized server answers before its index exists.
	var lookups int32
	symbols := srv.Handler("workspace/symbol")
	srv.Handle("workspace/symbol", func(req *lsp.Message) lsptest.Reply {
		if atomic.AddInt32(&lookups, 1) == 1 {
			return lsptest.Reply{Result: []lsp.SymbolInformation{}}
		}
		return symbols(req)
	})
	sess := startSession(t, srv, root)
	require.Equal(t, lsp.ReadinessUnknown, sess.Client().Readiness().State)

	a, err := analyzer.New(sess.Client(), analyzer.Options{Root: root, SkipContainers: true})
	require.NoError(t, err)

	g, err := a.Analyze(context.Background(), analyzer.Entry{Name: "main"})
	require.NoError(t, err)
	assert.Equal(t, "main", g.EntryNode().Name)
	assert.Equal(t, 2, srv.Count("workspace/symbol"))
}

func TestAnalyzer_MissingEntryWhileIndexingIsNotReadyTimeout(t *testing.T) {
	root := t.TempDir()
	srv := lsptest.NewServer()
	crateProgram(root).Install(srv)
	sess := startSession(t, srv, root)

	require.NoError(t, srv.Notify("experimental/serverStatus", lsp.ServerStatusParams{Health: "ok", Quiescent: false}))
	require.Eventually(t, func() bool {
		return sess.Client().Readiness().State == lsp.ReadinessIndexing
	}, time.Second, 5*time.Millisecond)

	a, err := analyzer.New(sess.Client(), analyzer.Options{Root: root, SkipContainers: true})
	require.NoError(t, err)

	_, err = a.Analyze(context.Background(), analyzer.Entry{Name: "does_not_exist"})
	assert.ErrorIs(t, err, lsp.ErrNotReadyTimeout)
	assert.Equal(t, testPolicy().MaxAttempts, srv.Count("workspace/symbol"))
	assert.Zero(t, srv.Count("textDocument/prepareCallHierarchy"))
}

func TestAnalyzer_ExternalEntryListedFirstIsSkipped(t *testing.T) {
	root := t.TempDir()
	external := t.TempDir()
	srv := lsptest.NewServer()
	crateProgram(root).Install(srv)

	symbols := srv.Handler("workspace/symbol")
	srv.Handle("workspace/symbol", func(req *lsp.Message) lsptest.Reply {
		reply := symbols(req)
		found, _ := reply.Result.([]lsp.SymbolInformation)
		std := lsp.SymbolInformation{
			Name:     "main",
			Kind:     lsp.SymbolKindFunction,
			Location: lsp.Location{URI: lsp.PathToURI(filepath.Join(external, "std", "rt.rs"))},
		}
		return lsptest.Reply{Result: append([]lsp.SymbolInformation{std}, found...)}
	})
	sess := startSession(t, srv, root)

	a, err := analyzer.New(sess.Client(), analyzer.Options{Root: root, SkipContainers: true})
	require.NoError(t, err)

	g, err := a.Analyze(context.Background(), analyzer.Entry{Name: "main"})
	require.NoError(t, err)
	entry := g.EntryNode()
	assert.Equal(t, "main", entry.Name)
	assert.Equal(t, "src/main.rs", entry.ID.File)
}

func TestAnalyzer_NotReadyDuringTraversalIsRetried(t *testing.T) {
	root := t.TempDir()
	srv := lsptest.NewServer()
	prog := crateProgram(root)
	prog.Install(srv)

	// The first two outgoing call requests hit a server still indexing.
	var refused int32
	outgoing := srv.Handler("callHierarchy/outgoingCalls")
	srv.Handle("callHierarchy/outgoingCalls", func(req *lsp.Message) lsptest.Reply {
		if atomic.AddInt32(&refused, 1) <= 2 {
			return lsptest.Reply{Err: &lsp.ResponseError{Code: lsp.CodeContentModified, Message: "content modified"}}
		}
		return outgoing(req)
	})
	sess := startSession(t, srv, root)

	a, err := analyzer.New(sess.Client(), analyzer.Options{Root: root, FanOut: 1})
	require.NoError(t, err)

	g, err := a.Analyze(context.Background(), analyzer.Entry{Name: "main"})
	require.NoError(t, err)
	assert.Equal(t, 5, g.NodeCount(), "vendored is inside the workspace when not excluded")
}

func TestAnalyzer_ProtocolErrorAbortsWithPartialGraph(t *testing.T) {
	root := t.TempDir()
	srv := lsptest.NewServer()
	prog := crateProgram(root)
	prog.Install(srv)

	outgoing := srv.Handler("callHierarchy/outgoingCalls")
	srv.Handle("callHierarchy/outgoingCalls", func(req *lsp.Message) lsptest.Reply {
		var params lsp.CallHierarchyCallsParams
		_ = lsptest.DecodeParams(req, &params)
		if params.Item.Name == "run" {
			return lsptest.Reply{Err: &lsp.ResponseError{Code: lsp.CodeInternalError, Message: "panic in analysis"}}
		}
		return outgoing(req)
	})
	sess := startSession(t, srv, root)

	a, err := analyzer.New(sess.Client(), analyzer.Options{Root: root})
	require.NoError(t, err)

	_, err = a.Analyze(context.Background(), analyzer.Entry{Name: "main"})
	require.Error(t, err)
	assert.Equal(t, analyzer.KindTraversalAborted, analyzer.KindOf(err))

	partial, ok := analyzer.PartialGraph(err)
	require.True(t, ok)
	assert.True(t, partial.Partial())
	assert.GreaterOrEqual(t, partial.NodeCount(), 3)

	var lspErr *lsp.LSPError
	assert.ErrorAs(t, err, &lspErr)
}
