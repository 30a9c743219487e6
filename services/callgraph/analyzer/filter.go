// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyzer

import (
	"fmt"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/AleutianAI/callgraph/services/callgraph/lsp"
)

// Reason explains why a filter dropped a symbol.
type Reason string

const (
	ReasonAllowed     Reason = ""
	ReasonExternal    Reason = "external"
	ReasonExcluded    Reason = "excluded"
	ReasonNotIncluded Reason = "not_included"
	ReasonKind        Reason = "kind"
)

// FilterOptions configures which discovered symbols become nodes.
type FilterOptions struct {
	// IncludeExternal keeps symbols whose file is outside the workspace
	// root, such as standard library or dependency sources.
	IncludeExternal bool

	// Include lists gitignore-style patterns, relative to the workspace.
	// A pattern with a slash before its end is anchored at the root, as in
	// .gitignore. When non-empty, only matching files are kept.
	Include []string

	// Exclude lists gitignore-style patterns, relative to the workspace.
	// Matching files are dropped. Exclude wins over Include.
	Exclude []string

	// Kinds lists the symbol kinds to keep. Empty keeps every kind.
	Kinds []lsp.SymbolKind
}

// Filter decides whether a discovered symbol becomes a node.
//
// Thread Safety:
//
//	Safe for concurrent use after construction.
type Filter struct {
	root            string
	includeExternal bool
	include         *ignore.GitIgnore
	exclude         *ignore.GitIgnore
	kinds           map[lsp.SymbolKind]bool
}

// NewFilter compiles the filter for a workspace root.
func NewFilter(root string, opts FilterOptions) (*Filter, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: workspace root %q: %v", ErrInvalidOptions, root, err)
	}
	f := &Filter{root: filepath.Clean(abs), includeExternal: opts.IncludeExternal}
	if patterns := nonBlank(opts.Include); len(patterns) > 0 {
		f.include = ignore.CompileIgnoreLines(anchored(patterns)...)
	}
	if patterns := nonBlank(opts.Exclude); len(patterns) > 0 {
		f.exclude = ignore.CompileIgnoreLines(anchored(patterns)...)
	}
	if len(opts.Kinds) > 0 {
		f.kinds = make(map[lsp.SymbolKind]bool, len(opts.Kinds))
		for _, k := range opts.Kinds {
			f.kinds[k] = true
		}
	}
	return f, nil
}

func nonBlank(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// anchored prefixes "/" to patterns with a slash at the start or middle.
// go-gitignore only anchors some of those itself, so "vendor/*" would
// otherwise also match "src/vendor/x.go".
func anchored(patterns []string) []string {
	out := make([]string, len(patterns))
	for i, p := range patterns {
		negate := strings.HasPrefix(p, "!")
		body := strings.TrimPrefix(p, "!")
		if !strings.HasPrefix(body, "/") && !strings.HasPrefix(body, "**/") &&
			strings.Contains(strings.TrimSuffix(body, "/"), "/") {
			body = "/" + body
		}
		if negate {
			body = "!" + body
		}
		out[i] = body
	}
	return out
}

// Root returns the absolute workspace root.
func (f *Filter) Root() string {
	return f.root
}

// Relative returns path relative to the workspace root with forward
// slashes, and whether path lies inside the workspace.
func (f *Filter) Relative(path string) (string, bool) {
	rel, err := filepath.Rel(f.root, filepath.Clean(path))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// Check returns ReasonAllowed when a symbol of kind declared in path should
// become a node, or the reason it is dropped.
//
// Description:
//
//	Path patterns only apply to files inside the workspace. An external
//	symbol kept by IncludeExternal is still subject to the kind filter.
func (f *Filter) Check(path string, kind lsp.SymbolKind) Reason {
	rel, inside := f.Relative(path)
	if !inside {
		if !f.includeExternal {
			return ReasonExternal
		}
	} else {
		if f.exclude != nil && f.exclude.MatchesPath(rel) {
			return ReasonExcluded
		}
		if f.include != nil && !f.include.MatchesPath(rel) {
			return ReasonNotIncluded
		}
	}
	if f.kinds != nil && !f.kinds[kind] {
		return ReasonKind
	}
	return ReasonAllowed
}

// Allow reports whether Check returns ReasonAllowed.
func (f *Filter) Allow(path string, kind lsp.SymbolKind) bool {
	return f.Check(path, kind) == ReasonAllowed
}
