// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/callgraph/services/callgraph/lsp"
	"github.com/AleutianAI/callgraph/services/callgraph/lsp/lsptest"
)

func fastPolicy() lsp.RetryPolicy {
	return lsp.RetryPolicy{
		MaxAttempts:    5,
		Delay:          time.Millisecond,
		Multiplier:     1,
		AttemptTimeout: 2 * time.Second,
		TimeoutRetries: 1,
	}
}

func newClient(t *testing.T, srv *lsptest.Server, policy lsp.RetryPolicy) *lsp.Client {
	t.Helper()
	c := lsp.NewClient(srv.Transport(), lsp.ClientOptions{Policy: policy})
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = c.Close(ctx)
		srv.Close()
	})
	return c
}

type echoParams struct {
	N int `json:"n"`
}

func TestClient_ConcurrentCallsCorrelatedByID(t *testing.T) {
	srv := lsptest.NewServer()
	const n = 40
	srv.Handle("test/echo", func(req *lsp.Message) lsptest.Reply {
		var p echoParams
		_ = lsptest.DecodeParams(req, &p)
		// Later requests answer first.
		return lsptest.Reply{Result: p, Delay: time.Duration(n-p.N) * time.Millisecond}
	})
	c := newClient(t, srv, fastPolicy())

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var out echoParams
			err := c.Call(context.Background(), "test/echo", echoParams{N: i}, &out)
			assert.NoError(t, err)
			assert.Equal(t, i, out.N)
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, r := range srv.Requests() {
		assert.False(t, seen[r.ID], "id %d issued twice", r.ID)
		seen[r.ID] = true
	}
	assert.Len(t, seen, n)
	assert.Zero(t, c.PendingCount())
}

func notReadyAfter(k int32, counter *int32) lsptest.Handler {
	return func(*lsp.Message) lsptest.Reply {
		if atomic.AddInt32(counter, 1) <= k {
			return lsptest.Reply{Err: &lsp.ResponseError{Code: lsp.CodeContentModified, Message: "content modified"}}
		}
		return lsptest.Reply{Result: []string{"ok"}}
	}
}

func TestClient_NotReadyRetriedUntilSuccess(t *testing.T) {
	srv := lsptest.NewServer()
	var calls int32
	srv.Handle("test/op", notReadyAfter(3, &calls))
	c := newClient(t, srv, fastPolicy())

	var out []string
	err := c.Call(context.Background(), "test/op", nil, &out)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, out)
	assert.Equal(t, 4, srv.Count("test/op"))
}

func TestClient_NotReadyExhaustsAttempts(t *testing.T) {
	srv := lsptest.NewServer()
	var calls int32
	srv.Handle("test/op", notReadyAfter(1000, &calls))
	c := newClient(t, srv, fastPolicy())

	err := c.Call(context.Background(), "test/op", nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, lsp.ErrNotReadyTimeout), "got %v", err)
	assert.False(t, errors.Is(err, lsp.ErrTransportClosed))
	assert.Equal(t, 5, srv.Count("test/op"))
}

func TestClient_NotReadyBoundedByElapsed(t *testing.T) {
	srv := lsptest.NewServer()
	var calls int32
	srv.Handle("test/op", notReadyAfter(1<<30, &calls))

	policy := fastPolicy()
	policy.MaxAttempts = 1 << 20
	policy.Delay = 20 * time.Millisecond
	policy.MaxElapsed = 100 * time.Millisecond
	c := newClient(t, srv, policy)

	start := time.Now()
	err := c.Call(context.Background(), "test/op", nil, nil)
	assert.ErrorIs(t, err, lsp.ErrNotReadyTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Less(t, srv.Count("test/op"), 10)
}

func TestClient_TimeoutRetriedOnce(t *testing.T) {
	srv := lsptest.NewServer()
	srv.Handle("test/slow", func(*lsp.Message) lsptest.Reply { return lsptest.Reply{Drop: true} })

	policy := fastPolicy()
	policy.AttemptTimeout = 50 * time.Millisecond
	c := newClient(t, srv, policy)

	err := c.Call(context.Background(), "test/slow", nil, nil)
	assert.ErrorIs(t, err, lsp.ErrRequestTimeout)
	assert.Equal(t, 2, srv.Count("test/slow"))
	assert.Zero(t, c.PendingCount())
}

func TestClient_ProtocolErrorNotRetried(t *testing.T) {
	srv := lsptest.NewServer()
	srv.Handle("test/op", func(*lsp.Message) lsptest.Reply {
		return lsptest.Reply{Err: &lsp.ResponseError{Code: lsp.CodeInternalError, Message: "boom"}}
	})
	c := newClient(t, srv, fastPolicy())

	err := c.Call(context.Background(), "test/op", nil, nil)
	var lspErr *lsp.LSPError
	require.True(t, errors.As(err, &lspErr))
	assert.Equal(t, lsp.CodeInternalError, lspErr.Code)
	assert.Equal(t, 1, srv.Count("test/op"))
}

func TestClient_UnknownMethod(t *testing.T) {
	srv := lsptest.NewServer()
	c := newClient(t, srv, fastPolicy())

	err := c.Call(context.Background(), "test/missing", nil, nil)
	var lspErr *lsp.LSPError
	require.True(t, errors.As(err, &lspErr))
	assert.True(t, lspErr.IsMethodNotFound())
}

func TestClient_CancellationReleasesSlotAndDiscardsLateResponse(t *testing.T) {
	srv := lsptest.NewServer()
	srv.Handle("test/slow", func(*lsp.Message) lsptest.Reply { return lsptest.Reply{Drop: true} })
	srv.Handle("test/fast", func(*lsp.Message) lsptest.Reply { return lsptest.Reply{Result: 1} })
	c := newClient(t, srv, fastPolicy())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := c.Call(ctx, "test/slow", nil, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, errors.Is(err, lsp.ErrRequestTimeout))
	assert.Zero(t, c.PendingCount())

	reqs := srv.Requests()
	require.NotEmpty(t, reqs)
	require.NoError(t, srv.Reply(reqs[len(reqs)-1].ID, "late"))

	var out int
	require.NoError(t, c.Call(context.Background(), "test/fast", nil, &out))
	assert.Equal(t, 1, out)
}

func TestClient_TransportClosureFailsInFlight(t *testing.T) {
	srv := lsptest.NewServer()
	srv.Handle("test/slow", func(*lsp.Message) lsptest.Reply { return lsptest.Reply{Drop: true} })
	c := newClient(t, srv, fastPolicy())

	errc := make(chan error, 1)
	go func() { errc <- c.Call(context.Background(), "test/slow", nil, nil) }()

	require.Eventually(t, func() bool { return srv.Count("test/slow") == 1 }, time.Second, 5*time.Millisecond)
	srv.Crash()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, lsp.ErrTransportClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("call did not return after transport closed")
	}

	err := c.Call(context.Background(), "test/slow", nil, nil)
	assert.ErrorIs(t, err, lsp.ErrTransportClosed)
}

func TestClient_CorruptFrameIsFatal(t *testing.T) {
	srv := lsptest.NewServer()
	srv.Handle("test/slow", func(*lsp.Message) lsptest.Reply { return lsptest.Reply{Drop: true} })
	c := newClient(t, srv, fastPolicy())

	errc := make(chan error, 1)
	go func() { errc <- c.Call(context.Background(), "test/slow", nil, nil) }()
	require.Eventually(t, func() bool { return srv.Count("test/slow") == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, srv.SendRaw([]byte("Content-Length: bogus\r\n\r\n")))

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, lsp.ErrFrameCorrupt)
	case <-time.After(2 * time.Second):
		t.Fatal("call did not return after corrupt frame")
	}
	assert.ErrorIs(t, c.Err(), lsp.ErrFrameCorrupt)
}

func TestClient_AnswersServerRequests(t *testing.T) {
	srv := lsptest.NewServer()
	_ = newClient(t, srv, fastPolicy())

	require.NoError(t, srv.Request("p1", "window/workDoneProgress/create", map[string]string{"token": "t"}))
	require.NoError(t, srv.Request("c1", "workspace/configuration", map[string]interface{}{
		"items": []map[string]string{{"section": "a"}, {"section": "b"}},
	}))
	require.NoError(t, srv.Request("x1", "custom/unknown", nil))

	require.Eventually(t, func() bool { return len(srv.Responses()) == 3 }, time.Second, 5*time.Millisecond)

	byID := make(map[string]*lsp.Message)
	for _, r := range srv.Responses() {
		byID[r.ID.String()] = r
	}
	assert.Equal(t, json.RawMessage("null"), byID[`"p1"`].Result)
	assert.Equal(t, json.RawMessage("[null,null]"), byID[`"c1"`].Result)
	require.NotNil(t, byID[`"x1"`].Error)
	assert.Equal(t, lsp.CodeMethodNotFound, byID[`"x1"`].Error.Code)
}

// heldTransport blocks writes of frames containing hold until release is
// closed.
type heldTransport struct {
	lsp.Transport
	hold    []byte
	release chan struct{}
}

func (h *heldTransport) Write(frame []byte) error {
	if bytes.Contains(frame, h.hold) {
		<-h.release
	}
	return h.Transport.Write(frame)
}

func TestClient_ServerRequestReplyDoesNotBlockReads(t *testing.T) {
	srv := lsptest.NewServer()
	srv.Handle("test/op", func(*lsp.Message) lsptest.Reply { return lsptest.Reply{Result: true} })

	held := &heldTransport{Transport: srv.Transport(), hold: []byte(`"id":"held"`), release: make(chan struct{})}
	c := lsp.NewClient(held, lsp.ClientOptions{Policy: fastPolicy()})
	require.NoError(t, c.Start(context.Background()))
	released := false
	release := func() {
		if !released {
			released = true
			close(held.release)
		}
	}
	t.Cleanup(func() {
		release()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = c.Close(ctx)
		srv.Close()
	})

	require.NoError(t, srv.Request("held", "window/workDoneProgress/create", map[string]string{"token": "t"}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var ok bool
	require.NoError(t, c.Call(ctx, "test/op", nil, &ok))
	assert.True(t, ok)
	assert.Empty(t, srv.Responses())

	release()
	require.Eventually(t, func() bool { return len(srv.Responses()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestClient_ReadinessFromServerStatus(t *testing.T) {
	srv := lsptest.NewServer()
	var calls int32
	srv.Handle("workspace/symbol", func(*lsp.Message) lsptest.Reply {
		if atomic.AddInt32(&calls, 1) <= 2 {
			return lsptest.Reply{Result: []lsp.SymbolInformation{}}
		}
		return lsptest.Reply{Result: []lsp.SymbolInformation{{Name: "main", Kind: lsp.SymbolKindFunction}}}
	})
	c := newClient(t, srv, fastPolicy())
	assert.Equal(t, lsp.ReadinessUnknown, c.Readiness().State)

	require.NoError(t, srv.Notify("experimental/serverStatus", lsp.ServerStatusParams{Health: "ok", Quiescent: false}))
	require.Eventually(t, func() bool { return c.Readiness().State == lsp.ReadinessIndexing }, time.Second, 5*time.Millisecond)

	symbols, err := c.WorkspaceSymbols(context.Background(), "main")
	require.NoError(t, err)
	require.Len(t, symbols, 1)
	assert.Equal(t, 3, srv.Count("workspace/symbol"))

	waitErr := make(chan error, 1)
	go func() { waitErr <- c.WaitReady(context.Background()) }()
	require.NoError(t, srv.Notify("experimental/serverStatus", lsp.ServerStatusParams{Health: "ok", Quiescent: true}))

	select {
	case err := <-waitErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitReady did not return")
	}
	assert.Equal(t, lsp.ReadinessReady, c.Readiness().State)
}

func TestClient_EmptySymbolsRetriedWhileReadinessUnknown(t *testing.T) {
	srv := lsptest.NewServer()
	var calls int32
	srv.Handle("workspace/symbol", func(*lsp.Message) lsptest.Reply {
		if atomic.AddInt32(&calls, 1) == 1 {
			return lsptest.Reply{Result: []lsp.SymbolInformation{}}
		}
		return lsptest.Reply{Result: []lsp.SymbolInformation{{Name: "main", Kind: lsp.SymbolKindFunction}}}
	})
	c := newClient(t, srv, fastPolicy())
	require.Equal(t, lsp.ReadinessUnknown, c.Readiness().State)

	sym, err := c.FindFunction(context.Background(), "main", "", nil)
	require.NoError(t, err)
	require.NotNil(t, sym)
	assert.Equal(t, "main", sym.Name)
	assert.Equal(t, 2, srv.Count("workspace/symbol"))
}

func TestClient_EmptySymbolsAcceptedAfterRetriesWhenReadinessUnknown(t *testing.T) {
	srv := lsptest.NewServer()
	srv.Handle("workspace/symbol", func(*lsp.Message) lsptest.Reply {
		return lsptest.Reply{Result: []lsp.SymbolInformation{}}
	})
	c := newClient(t, srv, fastPolicy())

	symbols, err := c.WorkspaceSymbols(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Empty(t, symbols)
	assert.Equal(t, fastPolicy().MaxAttempts, srv.Count("workspace/symbol"))
}

func TestClient_EmptySymbolsAuthoritativeWhenReady(t *testing.T) {
	srv := lsptest.NewServer()
	srv.Handle("workspace/symbol", func(*lsp.Message) lsptest.Reply {
		return lsptest.Reply{Result: []lsp.SymbolInformation{}}
	})
	c := newClient(t, srv, fastPolicy())
	require.NoError(t, srv.Notify("experimental/serverStatus", lsp.ServerStatusParams{Health: "ok", Quiescent: true}))
	require.Eventually(t, func() bool { return c.Readiness().State == lsp.ReadinessReady }, time.Second, 5*time.Millisecond)

	sym, err := c.FindFunction(context.Background(), "main", "", nil)
	require.NoError(t, err)
	assert.Nil(t, sym)
	assert.Equal(t, 1, srv.Count("workspace/symbol"))
}

func TestClient_UnmatchedLookupWhileIndexingTimesOut(t *testing.T) {
	srv := lsptest.NewServer()
	srv.Handle("workspace/symbol", func(*lsp.Message) lsptest.Reply {
		// Symbols exist, but none is the function asked for.
		return lsptest.Reply{Result: []lsp.SymbolInformation{{Name: "Main", Kind: lsp.SymbolKindStruct}}}
	})
	c := newClient(t, srv, fastPolicy())
	require.NoError(t, srv.Notify("experimental/serverStatus", lsp.ServerStatusParams{Health: "ok", Quiescent: false}))
	require.Eventually(t, func() bool { return c.Readiness().State == lsp.ReadinessIndexing }, time.Second, 5*time.Millisecond)

	_, err := c.FindFunction(context.Background(), "main", "", nil)
	assert.ErrorIs(t, err, lsp.ErrNotReadyTimeout)
	assert.Equal(t, fastPolicy().MaxAttempts, srv.Count("workspace/symbol"))
}

func TestClient_ReadinessFromProgress(t *testing.T) {
	srv := lsptest.NewServer()
	c := newClient(t, srv, fastPolicy())

	begin := map[string]interface{}{"token": "idx", "value": map[string]string{"kind": "begin", "title": "Indexing"}}
	end := map[string]interface{}{"token": "idx", "value": map[string]string{"kind": "end"}}

	require.NoError(t, srv.Notify("$/progress", begin))
	require.Eventually(t, func() bool { return c.Readiness().State == lsp.ReadinessIndexing }, time.Second, 5*time.Millisecond)

	require.NoError(t, srv.Notify("$/progress", end))
	require.Eventually(t, func() bool { return c.Readiness().State == lsp.ReadinessReady }, time.Second, 5*time.Millisecond)
}

func TestClient_StartTwice(t *testing.T) {
	srv := lsptest.NewServer()
	c := newClient(t, srv, fastPolicy())
	assert.ErrorIs(t, c.Start(context.Background()), lsp.ErrClientStarted)
}

func TestClient_InvalidParamsSendsNothing(t *testing.T) {
	srv := lsptest.NewServer()
	c := newClient(t, srv, fastPolicy())

	err := c.Call(context.Background(), "", nil, nil)
	assert.ErrorIs(t, err, lsp.ErrInvalidParams)
	assert.Empty(t, srv.Requests())
}

func TestClient_Paced(t *testing.T) {
	srv := lsptest.NewServer()
	srv.Handle("test/op", func(*lsp.Message) lsptest.Reply { return lsptest.Reply{Result: true} })
	c := lsp.NewClient(srv.Transport(), lsp.ClientOptions{Policy: fastPolicy(), RequestsPerSecond: 50, Burst: 1})
	require.NoError(t, c.Start(context.Background()))
	defer func() {
		_ = c.Close(context.Background())
		srv.Close()
	}()

	start := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, c.Call(context.Background(), "test/op", nil, nil))
	}
	// Three waits of 20ms after the initial burst token.
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}
