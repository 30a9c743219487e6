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
	"context"
	"log/slog"
	"strings"

	"github.com/AleutianAI/callgraph/services/callgraph/lsp"
)

// GlobalGroup is the group of symbols with no recognisable owner.
const GlobalGroup = "global"

// Labeler assigns each node a group (its owning type or module) and a
// display label.
//
// Description:
//
//	The group is resolved from, in order:
//	  1. The container name the server reported for the symbol in
//	     workspace/symbol, matched by name and file, nearest line wins.
//	  2. The item detail when it reads "impl Trait for Type" or "impl Type".
//	  3. The enclosing Rust impl block or Go method receiver, found by
//	     parsing the declaring file.
//	  4. The module the file belongs to (Rust module path or Go import
//	     path).
//	Symbols matching none of these fall into GlobalGroup and are labelled
//	by bare name; all others are labelled group::name.
//
// Thread Safety:
//
//	NOT safe for concurrent use. Parsed files and module lookups are cached.
type Labeler struct {
	containers map[containerKey][]lsp.SymbolInformation
	owners     *ownerIndex
	modules    *moduleIndex
	logger     *slog.Logger
}

type containerKey struct {
	name, uri string
}

// NewLabeler creates a labeler for a workspace.
//
// Inputs:
//
//	root - Absolute workspace root.
//	symbols - Workspace symbols to take container names from. May be nil.
//	logger - Logger for parse failures. Nil uses slog.Default().
func NewLabeler(root string, symbols []lsp.SymbolInformation, logger *slog.Logger) *Labeler {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Labeler{
		containers: make(map[containerKey][]lsp.SymbolInformation),
		owners:     newOwnerIndex(logger),
		modules:    newModuleIndex(root),
		logger:     logger,
	}
	for _, s := range symbols {
		if !s.Kind.IsCallable() || strings.TrimSpace(s.ContainerName) == "" {
			continue
		}
		key := containerKey{name: s.Name, uri: s.Location.URI}
		l.containers[key] = append(l.containers[key], s)
	}
	return l
}

// Label returns the group and display label for item.
func (l *Labeler) Label(ctx context.Context, item lsp.CallHierarchyItem) (group, label string) {
	group = l.Group(ctx, item)
	if group == GlobalGroup {
		return group, item.Name
	}
	return group, group + "::" + item.Name
}

// Group returns the owner item is clustered under.
func (l *Labeler) Group(ctx context.Context, item lsp.CallHierarchyItem) string {
	if g := l.containerOf(item); g != "" {
		return g
	}
	if g := implOwner(item.Detail); g != "" {
		return g
	}
	path := lsp.URIToPath(item.URI)
	if g := l.owners.ownerAt(ctx, path, item.SelectionRange.Start.Line); g != "" {
		return g
	}
	if g := l.modules.module(path); g != "" {
		return g
	}
	return GlobalGroup
}

func (l *Labeler) containerOf(item lsp.CallHierarchyItem) string {
	candidates := l.containers[containerKey{name: item.Name, uri: item.URI}]
	best := ""
	bestDist := -1
	for _, s := range candidates {
		dist := s.Location.Range.Start.Line - item.SelectionRange.Start.Line
		if dist < 0 {
			dist = -dist
		}
		if bestDist < 0 || dist < bestDist {
			best, bestDist = strings.TrimSpace(s.ContainerName), dist
		}
	}
	return best
}

// implOwner extracts the implementing type from an "impl ..." header.
//
// Example:
//
//	implOwner("impl Display for Point<T>") // "Point"
//	implOwner("impl<T> Stack<T>")          // "Stack"
func implOwner(header string) string {
	header = strings.TrimSpace(header)
	header = strings.TrimPrefix(header, "unsafe ")
	rest, ok := strings.CutPrefix(header, "impl")
	if !ok {
		return ""
	}
	if rest != "" && rest[0] != ' ' && rest[0] != '<' {
		return ""
	}
	rest = strings.TrimSpace(rest)

	if i := strings.Index(rest, " for "); i >= 0 {
		rest = rest[i+len(" for "):]
	} else if strings.HasPrefix(rest, "<") {
		if end := matchingAngle(rest); end > 0 {
			rest = rest[end+1:]
		}
	}
	return baseTypeName(rest)
}

// matchingAngle returns the index of the '>' closing the '<' at s[0].
func matchingAngle(s string) int {
	depth := 0
	for i, r := range s {
		switch r {
		case '<':
			depth++
		case '>':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// baseTypeName reduces a type expression to its bare name: references,
// pointers, lifetimes and generic arguments are dropped.
func baseTypeName(s string) string {
	s = strings.TrimSpace(s)
	for {
		trimmed := strings.TrimLeft(s, "&*( ")
		if strings.HasPrefix(trimmed, "'") {
			if i := strings.IndexByte(trimmed, ' '); i > 0 {
				trimmed = trimmed[i+1:]
			}
		}
		trimmed = strings.TrimPrefix(trimmed, "mut ")
		trimmed = strings.TrimPrefix(trimmed, "dyn ")
		if trimmed == s {
			break
		}
		s = trimmed
	}
	if fields := strings.Fields(s); len(fields) > 0 {
		s = fields[0]
	}
	if i := strings.IndexAny(s, "<[{()"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
