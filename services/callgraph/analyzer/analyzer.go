// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analyzer builds call graphs by walking a language server's call
// hierarchy from an entry function.
//
// # Lifecycle
//
// One Analyze call moves through
//
//	ResolvingEntry -> Traversing -> Finalizing -> Done
//
// and ends early in EntryNotFound when the entry matches nothing, or in
// TraversalAborted when a request fails mid-walk. An aborted run returns
// an *AnalysisError carrying the partial graph.
//
// # Traversal
//
// Traversal is breadth first, one level at a time. The expansions of one
// level run concurrently with bounded fan-out and are merged by a single
// goroutine in frontier order, so the graph is the same regardless of
// which response arrives first. A symbol is marked visited when it is
// enqueued, so each declaration is expanded at most once and cycles
// terminate; revisiting a symbol still records the edge.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/callgraph/services/callgraph/graph"
	"github.com/AleutianAI/callgraph/services/callgraph/lsp"
)

// DefaultFanOut is the default number of concurrent expansions per level.
const DefaultFanOut = 8

// CallHierarchyClient is the subset of *lsp.Client the analyzer needs.
type CallHierarchyClient interface {
	WorkspaceSymbols(ctx context.Context, query string) ([]lsp.SymbolInformation, error)
	FindFunction(ctx context.Context, name, file string, accept func(lsp.SymbolInformation) bool) (*lsp.SymbolInformation, error)
	ResolveSymbolAt(ctx context.Context, path string, pos lsp.Position) (*lsp.CallHierarchyItem, error)
	OutgoingCalls(ctx context.Context, item lsp.CallHierarchyItem) ([]lsp.CallHierarchyOutgoingCall, error)
	IncomingCalls(ctx context.Context, item lsp.CallHierarchyItem) ([]lsp.CallHierarchyIncomingCall, error)
}

// State is the lifecycle state of an analysis.
type State int32

const (
	StateIdle State = iota
	StateResolvingEntry
	StateTraversing
	StateFinalizing
	StateDone
	StateEntryNotFound
	StateTraversalAborted
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:             "idle",
	StateResolvingEntry:   "resolving_entry",
	StateTraversing:       "traversing",
	StateFinalizing:       "finalizing",
	StateDone:             "done",
	StateEntryNotFound:    "entry_not_found",
	StateTraversalAborted: "traversal_aborted",
	StateFailed:           "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Entry locates the function a graph is rooted at.
//
// Either Name is set, optionally scoped to File, or File and Line point at
// the declaration. Line is 1-based, Character 0-based. A relative File is
// resolved against the workspace root.
type Entry struct {
	Name      string `json:"name,omitempty"`
	File      string `json:"file,omitempty"`
	Line      int    `json:"line,omitempty"`
	Character int    `json:"character,omitempty"`
}

// ByPosition reports whether the entry is located by file and line.
func (e Entry) ByPosition() bool {
	return e.File != "" && e.Line > 0
}

// Validate checks that the entry can be located.
func (e Entry) Validate() error {
	if e.Name == "" && !e.ByPosition() {
		return fmt.Errorf("%w: entry needs a name or a file and line", ErrInvalidOptions)
	}
	if e.Line < 0 || e.Character < 0 {
		return fmt.Errorf("%w: entry position must not be negative", ErrInvalidOptions)
	}
	return nil
}

func (e Entry) String() string {
	if e.ByPosition() {
		return fmt.Sprintf("%s:%d:%d", e.File, e.Line, e.Character)
	}
	if e.File != "" {
		return fmt.Sprintf("%s (%s)", e.Name, e.File)
	}
	return e.Name
}

// Options configures an Analyzer.
type Options struct {
	// Root is the workspace root. Required.
	Root string

	// Direction selects callee (outgoing) or caller (incoming) discovery.
	Direction graph.Direction

	// MaxDepth limits how many call levels are expanded from the entry.
	// Zero means unlimited.
	MaxDepth int

	// FanOut bounds concurrent expansions per level. Zero uses
	// DefaultFanOut.
	FanOut int

	// Filter selects which discovered symbols become nodes.
	Filter FilterOptions

	// MaxNodes and MaxEdges bound the graph size. Zero uses the graph
	// package defaults.
	MaxNodes int
	MaxEdges int

	// SkipContainers disables the workspace/symbol lookup used to group
	// nodes by container name.
	SkipContainers bool

	// Logger receives state transitions. Nil uses slog.Default().
	Logger *slog.Logger
}

// Analyzer builds call graphs over one language server client.
//
// Thread Safety:
//
//	Analyze may be called concurrently; each call is an independent run.
//	State reports the state of the most recent transition of any run.
type Analyzer struct {
	client CallHierarchyClient
	opts   Options
	filter *Filter
	logger *slog.Logger
	state  atomic.Int32
}

// New creates an analyzer.
//
// Outputs:
//
//	*Analyzer - The analyzer, in StateIdle.
//	error - ErrInvalidOptions if client is nil or the options are unusable.
func New(client CallHierarchyClient, opts Options) (*Analyzer, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: client must not be nil", ErrInvalidOptions)
	}
	if opts.Root == "" {
		return nil, fmt.Errorf("%w: workspace root must not be empty", ErrInvalidOptions)
	}
	if opts.MaxDepth < 0 {
		return nil, fmt.Errorf("%w: max depth must not be negative", ErrInvalidOptions)
	}
	if opts.FanOut <= 0 {
		opts.FanOut = DefaultFanOut
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	filter, err := NewFilter(opts.Root, opts.Filter)
	if err != nil {
		return nil, err
	}
	opts.Root = filter.Root()

	return &Analyzer{
		client: client,
		opts:   opts,
		filter: filter,
		logger: opts.Logger,
	}, nil
}

// State returns the most recent lifecycle state.
func (a *Analyzer) State() State {
	return State(a.state.Load())
}

// Options returns the effective options.
func (a *Analyzer) Options() Options {
	return a.opts
}

func (a *Analyzer) setState(s State, logger *slog.Logger) {
	prev := State(a.state.Swap(int32(s)))
	logger.Debug("analysis state changed",
		slog.String("from", prev.String()),
		slog.String("to", s.String()))
}

// Analyze builds the call graph rooted at entry.
//
// Description:
//
//	Resolves the entry, walks the call hierarchy breadth first in the
//	configured direction, and freezes the result. Every run gets a fresh
//	run id recorded in the graph metadata and in log lines.
//
// Outputs:
//
//	*graph.CallGraph - The complete graph on success.
//	error - *AnalysisError with KindEntryNotFound when no symbol matches
//	        (no call hierarchy request is issued), or KindTraversalAborted
//	        with the partial graph when a request fails mid-walk. Errors
//	        during entry resolution are returned wrapped.
func (a *Analyzer) Analyze(ctx context.Context, entry Entry) (*graph.CallGraph, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if err := entry.Validate(); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger := a.logger.With(slog.String("run_id", runID))
	ctx, span := startAnalysisSpan(ctx, runID, entry.String(), a.opts.Direction.String())
	start := time.Now()

	g, err := a.run(ctx, runID, entry, logger)

	nodes, edges := 0, 0
	if g != nil {
		nodes, edges = g.NodeCount(), g.EdgeCount()
	}
	endAnalysisSpan(span, nodes, edges, err)
	recordAnalysis(ctx, a.opts.Direction.String(), time.Since(start), nodes, edges, KindOf(err), err == nil)

	if err != nil {
		logger.Warn("call graph analysis failed",
			slog.String("entry", entry.String()),
			slog.String("kind", KindOf(err).String()),
			slog.String("error", err.Error()))
		return nil, err
	}
	logger.Info("call graph built",
		slog.String("entry", entry.String()),
		slog.String("direction", a.opts.Direction.String()),
		slog.Int("nodes", nodes),
		slog.Int("edges", edges),
		slog.Duration("duration", time.Since(start)))
	return g, nil
}

func (a *Analyzer) run(ctx context.Context, runID string, entry Entry, logger *slog.Logger) (*graph.CallGraph, error) {
	a.setState(StateResolvingEntry, logger)
	item, err := a.resolveEntry(ctx, entry)
	if err != nil {
		if KindOf(err) == KindEntryNotFound {
			a.setState(StateEntryNotFound, logger)
		} else {
			a.setState(StateFailed, logger)
		}
		return nil, err
	}

	labeler := NewLabeler(a.opts.Root, a.containerSymbols(ctx, logger), logger)
	builder := graph.NewBuilder(graph.WithMaxNodes(a.opts.MaxNodes), graph.WithMaxEdges(a.opts.MaxEdges))
	meta := graph.Meta{
		RunID:     runID,
		Root:      a.opts.Root,
		Direction: a.opts.Direction,
		MaxDepth:  a.opts.MaxDepth,
	}

	root := queued{item: *item, id: a.symbolID(*item), depth: 0}
	group, label := labeler.Label(ctx, root.item)
	if _, err := builder.AddNode(a.node(root.item, root.id, group, label, 0)); err != nil {
		a.setState(StateFailed, logger)
		return nil, fmt.Errorf("add entry node: %w", err)
	}

	a.setState(StateTraversing, logger)
	if err := a.traverse(ctx, builder, labeler, root, logger); err != nil {
		a.setState(StateTraversalAborted, logger)
		ae := &AnalysisError{
			Kind:    KindTraversalAborted,
			Message: "traversal aborted",
			Partial: builder.Snapshot(root.id, meta),
			Err:     err,
		}
		var tf *traversalFailure
		if errors.As(err, &tf) {
			ae.Symbol = tf.symbol
			ae.Err = tf.err
		}
		return nil, ae
	}

	a.setState(StateFinalizing, logger)
	g, err := builder.Freeze(root.id, meta)
	if err != nil {
		a.setState(StateFailed, logger)
		return nil, fmt.Errorf("finalize call graph: %w", err)
	}
	a.setState(StateDone, logger)
	return g, nil
}

// resolveEntry finds the call hierarchy item for the entry.
func (a *Analyzer) resolveEntry(ctx context.Context, entry Entry) (*lsp.CallHierarchyItem, error) {
	file := entry.File
	if file != "" && !filepath.IsAbs(file) {
		file = filepath.Join(a.opts.Root, file)
	}

	if entry.ByPosition() {
		pos := lsp.Position{Line: entry.Line - 1, Character: entry.Character}
		item, err := a.client.ResolveSymbolAt(ctx, file, pos)
		if err != nil {
			return nil, fmt.Errorf("resolve entry %s: %w", entry, err)
		}
		if item == nil {
			return nil, entryNotFound(entry, "no callable symbol at position")
		}
		return item, nil
	}

	inWorkspace := func(sym lsp.SymbolInformation) bool {
		return a.filter.Check(lsp.URIToPath(sym.Location.URI), sym.Kind) != ReasonExternal
	}
	sym, err := a.client.FindFunction(ctx, entry.Name, file, inWorkspace)
	if err != nil {
		return nil, fmt.Errorf("find entry %s: %w", entry, err)
	}
	if sym == nil {
		return nil, entryNotFound(entry, "no matching function in the workspace")
	}
	path := lsp.URIToPath(sym.Location.URI)

	item, err := a.client.ResolveSymbolAt(ctx, path, sym.Location.Range.Start)
	if err != nil {
		return nil, fmt.Errorf("resolve entry %s: %w", entry, err)
	}
	if item == nil {
		return nil, entryNotFound(entry, "no call hierarchy item at symbol location")
	}
	return item, nil
}

func entryNotFound(entry Entry, detail string) error {
	return &AnalysisError{
		Kind:    KindEntryNotFound,
		Message: fmt.Sprintf("entry %s not found: %s", entry, detail),
	}
}

// containerSymbols fetches the workspace functions used for grouping. A
// failed lookup degrades grouping and is not fatal.
func (a *Analyzer) containerSymbols(ctx context.Context, logger *slog.Logger) []lsp.SymbolInformation {
	if a.opts.SkipContainers {
		return nil
	}
	symbols, err := a.client.WorkspaceSymbols(ctx, "")
	if err != nil {
		logger.Warn("workspace symbol lookup failed, grouping without container names",
			slog.String("error", err.Error()))
		return nil
	}
	return symbols
}

// queued is a symbol waiting to be expanded.
type queued struct {
	item  lsp.CallHierarchyItem
	id    graph.SymbolID
	depth int
}

// discovered is one neighbour reported for a queued symbol. Sites are
// ranges in siteURI, which is always the caller's file.
type discovered struct {
	item    lsp.CallHierarchyItem
	sites   []lsp.Range
	siteURI string
}

// expandFailure marks which frontier member failed.
type expandFailure struct {
	index int
	err   error
}

func (e *expandFailure) Error() string { return e.err.Error() }
func (e *expandFailure) Unwrap() error { return e.err }

// traversalFailure names the symbol whose expansion failed.
type traversalFailure struct {
	symbol string
	err    error
}

func (e *traversalFailure) Error() string {
	return fmt.Sprintf("expand %s: %v", e.symbol, e.err)
}
func (e *traversalFailure) Unwrap() error { return e.err }

func (a *Analyzer) traverse(ctx context.Context, b *graph.Builder, labeler *Labeler, root queued, logger *slog.Logger) error {
	visited := map[graph.SymbolID]bool{root.id: true}
	frontier := []queued{root}

	for level := 0; len(frontier) > 0; level++ {
		results := make([][]discovered, len(frontier))

		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(a.opts.FanOut)
		for i, q := range frontier {
			i, q := i, q
			eg.Go(func() error {
				found, err := a.expand(egCtx, q)
				if err != nil {
					return &expandFailure{index: i, err: err}
				}
				results[i] = found
				return nil
			})
		}
		waitErr := eg.Wait()

		// Merge every completed expansion, including those of a failed
		// level, so the partial graph keeps what was learned.
		var next []queued
		for i, q := range frontier {
			for _, d := range results[i] {
				nq, enqueue, err := a.merge(ctx, b, labeler, q, d, visited, logger)
				if err != nil {
					return &traversalFailure{symbol: describe(q), err: err}
				}
				if enqueue {
					visited[nq.id] = true
					next = append(next, nq)
				}
			}
		}

		if waitErr != nil {
			var f *expandFailure
			if errors.As(waitErr, &f) {
				return &traversalFailure{symbol: describe(frontier[f.index]), err: f.err}
			}
			return waitErr
		}

		logger.Debug("traversal level complete",
			slog.Int("level", level),
			slog.Int("expanded", len(frontier)),
			slog.Int("next", len(next)),
			slog.Int("nodes", b.NodeCount()),
			slog.Int("edges", b.EdgeCount()))
		frontier = next
	}
	return nil
}

// expand fetches the neighbours of q in the configured direction.
func (a *Analyzer) expand(ctx context.Context, q queued) ([]discovered, error) {
	if a.opts.Direction == graph.DirectionIncoming {
		calls, err := a.client.IncomingCalls(ctx, q.item)
		if err != nil {
			return nil, err
		}
		found := make([]discovered, 0, len(calls))
		for _, c := range calls {
			found = append(found, discovered{item: c.From, sites: c.FromRanges, siteURI: c.From.URI})
		}
		return found, nil
	}

	calls, err := a.client.OutgoingCalls(ctx, q.item)
	if err != nil {
		return nil, err
	}
	found := make([]discovered, 0, len(calls))
	for _, c := range calls {
		found = append(found, discovered{item: c.To, sites: c.FromRanges, siteURI: q.item.URI})
	}
	return found, nil
}

// merge records one discovered neighbour and reports whether it should be
// expanded at the next level.
func (a *Analyzer) merge(ctx context.Context, b *graph.Builder, labeler *Labeler, q queued, d discovered, visited map[graph.SymbolID]bool, logger *slog.Logger) (queued, bool, error) {
	path := lsp.URIToPath(d.item.URI)
	if reason := a.filter.Check(path, d.item.Kind); reason != ReasonAllowed {
		recordFiltered(ctx, reason)
		logger.Debug("symbol filtered",
			slog.String("symbol", d.item.Name),
			slog.String("file", path),
			slog.String("reason", string(reason)))
		return queued{}, false, nil
	}

	id := a.symbolID(d.item)
	depth := q.depth + 1
	if !b.HasNode(id) {
		group, label := labeler.Label(ctx, d.item)
		if _, err := b.AddNode(a.node(d.item, id, group, label, depth)); err != nil {
			return queued{}, false, err
		}
	}

	from, to := q.id, id
	if a.opts.Direction == graph.DirectionIncoming {
		from, to = id, q.id
	}
	siteFile := a.relFile(lsp.URIToPath(d.siteURI))
	sites := make([]graph.Location, 0, len(d.sites))
	for _, r := range d.sites {
		sites = append(sites, graph.Location{File: siteFile, Range: toRange(r)})
	}
	if _, err := b.AddEdge(from, to, sites...); err != nil {
		return queued{}, false, err
	}

	if visited[id] {
		return queued{}, false, nil
	}
	if a.opts.MaxDepth > 0 && depth >= a.opts.MaxDepth {
		return queued{}, false, nil
	}
	return queued{item: d.item, id: id, depth: depth}, true, nil
}

func (a *Analyzer) node(item lsp.CallHierarchyItem, id graph.SymbolID, group, label string, depth int) graph.Node {
	return graph.Node{
		ID:     id,
		Name:   item.Name,
		Kind:   item.Kind.String(),
		Detail: item.Detail,
		Group:  group,
		Label:  label,
		Depth:  depth,
	}
}

// symbolID identifies an item by its file, relative to the workspace when
// inside it, and its declaration range.
func (a *Analyzer) symbolID(item lsp.CallHierarchyItem) graph.SymbolID {
	return graph.SymbolID{
		File:  a.relFile(lsp.URIToPath(item.URI)),
		Range: toRange(item.Range),
	}
}

func (a *Analyzer) relFile(path string) string {
	if rel, ok := a.filter.Relative(path); ok {
		return rel
	}
	return filepath.ToSlash(path)
}

func toRange(r lsp.Range) graph.Range {
	return graph.Range{
		Start: graph.Position{Line: r.Start.Line, Character: r.Start.Character},
		End:   graph.Position{Line: r.End.Line, Character: r.End.Character},
	}
}

func describe(q queued) string {
	return fmt.Sprintf("%s (%s)", q.item.Name, q.id)
}
