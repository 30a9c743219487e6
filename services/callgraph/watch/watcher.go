// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch regenerates call graphs when workspace files change.
//
// # Debouncing
//
// File events are collected until the debounce window passes without a
// new event, then delivered as one batch with one event per path. An
// editor saving a file (write, chmod, rename dance) therefore triggers a
// single regeneration.
//
// # Thread Safety
//
// Watcher.Run must be called once. Batches are handled on the Run
// goroutine, so regenerations never overlap.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/AleutianAI/callgraph/services/callgraph/lsp"
)

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("watcher already running")

// DefaultIgnore lists directories and files never worth a regeneration.
var DefaultIgnore = []string{".git/", "target/", "node_modules/", ".idea/", ".vscode/", "*.swp", "*.tmp", "*.tmp.*", "*~", "*.lock"}

// Options configures a Watcher.
type Options struct {
	// Debounce is the quiet period that ends a batch. Default: 300ms.
	Debounce time.Duration

	// Ignore holds gitignore-style patterns relative to the root. Nil uses
	// DefaultIgnore.
	Ignore []string

	// Extensions limits events to these file extensions (".rs"). Empty
	// accepts every file.
	Extensions []string

	// Manifests are file names accepted regardless of extension
	// ("Cargo.toml", "go.mod").
	Manifests []string

	// Logger receives watcher logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// Handler receives one debounced batch.
type Handler func(ctx context.Context, events []lsp.FileEvent)

// Watcher watches a workspace recursively.
type Watcher struct {
	root      string
	fsw       *fsnotify.Watcher
	debounce  time.Duration
	ignore    *ignore.GitIgnore
	exts      map[string]bool
	manifests map[string]bool
	logger    *slog.Logger

	mu      sync.Mutex
	skip    map[string]bool
	running bool
}

// New creates a Watcher for root. Call Run to start watching.
func New(root string, opts Options) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve watch root: %w", err)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 300 * time.Millisecond
	}
	if opts.Ignore == nil {
		opts.Ignore = DefaultIgnore
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		root:      abs,
		fsw:       fsw,
		debounce:  opts.Debounce,
		ignore:    ignore.CompileIgnoreLines(opts.Ignore...),
		exts:      make(map[string]bool),
		manifests: make(map[string]bool),
		logger:    opts.Logger,
		skip:      make(map[string]bool),
	}
	for _, ext := range opts.Extensions {
		w.exts[strings.ToLower(ext)] = true
	}
	for _, name := range opts.Manifests {
		w.manifests[name] = true
	}
	return w, nil
}

// Skip excludes an exact path, typically the graph being written, so
// writing output does not trigger another run.
func (w *Watcher) Skip(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.skip[abs] = true
}

// Close stops the underlying fsnotify watcher. Run returns afterwards.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Run watches until ctx is done or the watcher is closed, calling handle
// with each debounced batch. A pending batch is dropped on shutdown.
func (w *Watcher) Run(ctx context.Context, handle Handler) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return ErrAlreadyRunning
	}
	w.running = true
	w.mu.Unlock()

	if err := w.addRecursive(w.root); err != nil {
		return err
	}
	w.logger.Info("watching workspace", slog.String("root", w.root), slog.Duration("debounce", w.debounce))

	var (
		pending = make(map[string]lsp.FileChangeType)
		order   []string
		timer   *time.Timer
		timerC  <-chan time.Time
	)
	reset := func() {
		if timer == nil {
			timer = time.NewTimer(w.debounce)
			timerC = timer.C
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(w.debounce)
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !w.ignored(event.Name, true) {
					_ = w.addRecursive(event.Name)
				}
			}
			change, ok := w.convert(event)
			if !ok {
				continue
			}
			if _, seen := pending[event.Name]; !seen {
				order = append(order, event.Name)
			}
			pending[event.Name] = merge(pending[event.Name], change)
			reset()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))

		case <-timerC:
			timer, timerC = nil, nil
			events := make([]lsp.FileEvent, 0, len(order))
			for _, path := range order {
				events = append(events, lsp.FileEvent{URI: lsp.PathToURI(path), Type: pending[path]})
			}
			pending = make(map[string]lsp.FileChangeType)
			order = nil
			handle(ctx, events)
		}
	}
}

// merge folds a new change for a path into the pending one. A create
// followed by writes stays a create; anything followed by a delete is a
// delete; a delete followed by a create is a change.
func merge(prev, next lsp.FileChangeType) lsp.FileChangeType {
	switch {
	case prev == 0:
		return next
	case next == lsp.FileDeleted:
		return lsp.FileDeleted
	case prev == lsp.FileDeleted:
		return lsp.FileChanged
	case prev == lsp.FileCreated:
		return lsp.FileCreated
	}
	return next
}

func (w *Watcher) convert(event fsnotify.Event) (lsp.FileChangeType, bool) {
	if w.ignored(event.Name, false) || !w.relevant(event.Name) {
		return 0, false
	}
	switch {
	case event.Has(fsnotify.Create):
		return lsp.FileCreated, true
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		return lsp.FileDeleted, true
	case event.Has(fsnotify.Write):
		return lsp.FileChanged, true
	}
	// Chmod alone changes nothing a server cares about.
	return 0, false
}

func (w *Watcher) relevant(path string) bool {
	if len(w.exts) == 0 {
		return true
	}
	if w.manifests[filepath.Base(path)] {
		return true
	}
	return w.exts[strings.ToLower(filepath.Ext(path))]
}

func (w *Watcher) ignored(path string, dir bool) bool {
	w.mu.Lock()
	skipped := w.skip[path]
	w.mu.Unlock()
	if skipped {
		return true
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return false
	}
	rel = filepath.ToSlash(rel)
	if dir {
		rel += "/"
	}
	return w.ignore.MatchesPath(rel)
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.ignored(path, true) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}
