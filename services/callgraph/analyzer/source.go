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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/rust"
)

// maxSourceBytes bounds the files parsed for owner inference.
const maxSourceBytes = 4 << 20

// ownerSpan is a line range whose functions belong to owner.
type ownerSpan struct {
	startLine, endLine int
	owner              string
}

// ownerIndex finds the type owning a function by parsing its file.
//
// Rust functions are owned by the type of their enclosing impl block; Go
// methods by their receiver type. Each file is parsed at most once.
type ownerIndex struct {
	files  map[string][]ownerSpan
	logger *slog.Logger
}

func newOwnerIndex(logger *slog.Logger) *ownerIndex {
	return &ownerIndex{files: make(map[string][]ownerSpan), logger: logger}
}

// ownerAt returns the owner of the declaration on line (0-based) of path,
// or "" when the line is not inside an impl block or method.
func (o *ownerIndex) ownerAt(ctx context.Context, path string, line int) string {
	spans, ok := o.files[path]
	if !ok {
		var err error
		spans, err = parseOwners(ctx, path)
		if err != nil {
			o.logger.Debug("owner inference skipped",
				slog.String("file", path),
				slog.String("error", err.Error()))
		}
		o.files[path] = spans
	}

	// Innermost span wins.
	best := ""
	bestSize := -1
	for _, s := range spans {
		if line < s.startLine || line > s.endLine {
			continue
		}
		if size := s.endLine - s.startLine; bestSize < 0 || size < bestSize {
			best, bestSize = s.owner, size
		}
	}
	return best
}

// parseOwners extracts owner spans from a Rust or Go source file. Other
// languages yield no spans.
func parseOwners(ctx context.Context, path string) ([]ownerSpan, error) {
	var lang *sitter.Language
	var collect func(n *sitter.Node, src []byte) (ownerSpan, bool)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".rs":
		lang, collect = rust.GetLanguage(), rustImplSpan
	case ".go":
		lang, collect = golang.GetLanguage(), goMethodSpan
	default:
		return nil, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxSourceBytes {
		return nil, fmt.Errorf("file too large to parse: %d bytes", info.Size())
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// New parser per call; parsers are not safe to share.
	parser := sitter.NewParser()
	parser.SetLanguage(lang)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, fmt.Errorf("tree-sitter returned nil root node")
	}

	var spans []ownerSpan
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if span, ok := collect(n, src); ok {
			spans = append(spans, span)
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(root)
	return spans, nil
}

// rustImplSpan handles impl_item nodes: impl Type { ... } and
// impl Trait for Type { ... } are both owned by Type.
func rustImplSpan(n *sitter.Node, src []byte) (ownerSpan, bool) {
	if n.Type() != "impl_item" {
		return ownerSpan{}, false
	}
	typeNode := n.ChildByFieldName("type")
	if typeNode == nil {
		return ownerSpan{}, false
	}
	owner := baseTypeName(typeNode.Content(src))
	if owner == "" {
		return ownerSpan{}, false
	}
	return ownerSpan{
		startLine: int(n.StartPoint().Row),
		endLine:   int(n.EndPoint().Row),
		owner:     owner,
	}, true
}

// goMethodSpan handles method_declaration nodes, owned by the receiver type.
func goMethodSpan(n *sitter.Node, src []byte) (ownerSpan, bool) {
	if n.Type() != "method_declaration" {
		return ownerSpan{}, false
	}
	receiver := n.ChildByFieldName("receiver")
	if receiver == nil {
		return ownerSpan{}, false
	}
	owner := receiverTypeName(receiver.Content(src))
	if owner == "" {
		return ownerSpan{}, false
	}
	return ownerSpan{
		startLine: int(n.StartPoint().Row),
		endLine:   int(n.EndPoint().Row),
		owner:     owner,
	}, true
}

// receiverTypeName extracts the type name from a Go receiver list.
//
// Example:
//
//	receiverTypeName("(s *Server)")     // "Server"
//	receiverTypeName("(c Cache[K, V])") // "Cache"
func receiverTypeName(receiver string) string {
	receiver = strings.TrimSpace(receiver)
	receiver = strings.TrimPrefix(receiver, "(")
	receiver = strings.TrimSuffix(receiver, ")")
	if i := strings.IndexByte(receiver, '['); i >= 0 {
		receiver = receiver[:i]
	}
	parts := strings.Fields(receiver)
	if len(parts) == 0 {
		return ""
	}
	return strings.TrimLeft(parts[len(parts)-1], "*")
}
