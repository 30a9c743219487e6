// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/callgraph/services/callgraph/lsp"
	"github.com/AleutianAI/callgraph/services/callgraph/runner"
)

// batches collects handled batches for assertions.
type batches struct {
	mu  sync.Mutex
	got [][]lsp.FileEvent
}

func (b *batches) handle(_ context.Context, events []lsp.FileEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.got = append(b.got, events)
}

func (b *batches) snapshot() [][]lsp.FileEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]lsp.FileEvent(nil), b.got...)
}

func startWatcher(t *testing.T, root string, opts Options, handle Handler) {
	t.Helper()
	w, err := New(root, opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, handle) }()
	t.Cleanup(func() {
		cancel()
		_ = w.Close()
		<-done
	})
	// Give Run time to register the directory tree.
	time.Sleep(50 * time.Millisecond)
}

func TestWatcher_DebouncesIntoOneBatch(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	main := filepath.Join(root, "src", "main.rs")
	require.NoError(t, os.WriteFile(main, []byte("fn main() {}\n"), 0o644))

	var b batches
	startWatcher(t, root, Options{Debounce: 100 * time.Millisecond, Extensions: []string{".rs"}}, b.handle)

	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(main, []byte("fn main() { }\n"), 0o644))
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))

	require.Eventually(t, func() bool { return len(b.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)

	got := b.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, []lsp.FileEvent{{URI: lsp.PathToURI(main), Type: lsp.FileChanged}}, got[0])
}

func TestWatcher_IgnoresPatternsAndSkippedPaths(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "target", "debug"), 0o755))
	out := filepath.Join(root, "callgraph.dot")

	w, err := New(root, Options{Debounce: 50 * time.Millisecond})
	require.NoError(t, err)
	defer w.Close()
	w.Skip(out)

	assert.True(t, w.ignored(out, false))
	assert.True(t, w.ignored(filepath.Join(root, "target"), true))
	assert.True(t, w.ignored(filepath.Join(root, "callgraph.dot.lock"), false))
	assert.True(t, w.ignored(filepath.Join(root, "callgraph.dot.tmp.123"), false))
	assert.False(t, w.ignored(filepath.Join(root, "src", "lib.rs"), false))
}

func TestWatcher_NewDirectoriesAreWatched(t *testing.T) {
	root := t.TempDir()
	var b batches
	startWatcher(t, root, Options{Debounce: 50 * time.Millisecond, Extensions: []string{".go"}, Manifests: []string{"go.mod"}}, b.handle)

	dir := filepath.Join(root, "pkg", "x")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.go"), []byte("package x\n"), 0o644))

	require.Eventually(t, func() bool {
		for _, batch := range b.snapshot() {
			for _, e := range batch {
				if e.URI == lsp.PathToURI(filepath.Join(dir, "x.go")) {
					return true
				}
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMerge(t *testing.T) {
	assert.Equal(t, lsp.FileCreated, merge(0, lsp.FileCreated))
	assert.Equal(t, lsp.FileCreated, merge(lsp.FileCreated, lsp.FileChanged))
	assert.Equal(t, lsp.FileDeleted, merge(lsp.FileCreated, lsp.FileDeleted))
	assert.Equal(t, lsp.FileChanged, merge(lsp.FileDeleted, lsp.FileCreated))
	assert.Equal(t, lsp.FileChanged, merge(lsp.FileChanged, lsp.FileChanged))
}

func TestWatcher_RunTwice(t *testing.T) {
	w, err := New(t.TempDir(), Options{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, func(context.Context, []lsp.FileEvent) {}) }()
	time.Sleep(20 * time.Millisecond)

	assert.ErrorIs(t, w.Run(ctx, nil), ErrAlreadyRunning)
	cancel()
	assert.NoError(t, <-done)
	_ = w.Close()
}

type fakeGenerator struct {
	mu       sync.Mutex
	runs     int
	notified [][]lsp.FileEvent
}

func (g *fakeGenerator) Generate(context.Context, runner.Request) *runner.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.runs++
	return &runner.Result{}
}

func (g *fakeGenerator) FilesChanged(events []lsp.FileEvent) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.notified = append(g.notified, events)
	return nil
}

func TestLoop_RegeneratesAfterChanges(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, Options{Debounce: 50 * time.Millisecond})
	require.NoError(t, err)
	defer w.Close()

	gen := &fakeGenerator{}
	reports := make(chan []lsp.FileEvent, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	out := filepath.Join(root, "callgraph.dot")
	go func() {
		done <- Loop(ctx, w, gen, runner.Request{Output: out}, func(_ *runner.Result, events []lsp.FileEvent) {
			reports <- events
		}, nil)
	}()

	assert.Nil(t, <-reports, "initial run has no events")
	time.Sleep(50 * time.Millisecond)

	// The graph itself is skipped; the source file triggers a run.
	require.NoError(t, os.WriteFile(out, []byte("digraph {}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "lib.rs"), []byte("fn f() {}"), 0o644))

	select {
	case events := <-reports:
		require.Len(t, events, 1)
		assert.Equal(t, lsp.PathToURI(filepath.Join(root, "lib.rs")), events[0].URI)
	case <-time.After(2 * time.Second):
		t.Fatal("no regeneration after change")
	}

	cancel()
	assert.NoError(t, <-done)

	gen.mu.Lock()
	defer gen.mu.Unlock()
	assert.Equal(t, 2, gen.runs)
	assert.Len(t, gen.notified, 1)
}
