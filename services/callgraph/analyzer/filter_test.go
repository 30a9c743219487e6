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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/callgraph/services/callgraph/lsp"
)

func TestFilter_Check(t *testing.T) {
	root := t.TempDir()
	f, err := NewFilter(root, FilterOptions{
		Include: []string{"src/", "lib/*.rs", "  "},
		Exclude: []string{"src/generated/", "*_test.rs"},
		Kinds:   []lsp.SymbolKind{lsp.SymbolKindFunction, lsp.SymbolKindMethod},
	})
	require.NoError(t, err)

	fn := lsp.SymbolKindFunction
	tests := []struct {
		path string
		kind lsp.SymbolKind
		want Reason
	}{
		{"src/main.rs", fn, ReasonAllowed},
		{"src/net/http.rs", lsp.SymbolKindMethod, ReasonAllowed},
		{"lib/util.rs", fn, ReasonAllowed},
		{"src/generated/api.rs", fn, ReasonExcluded},
		{"src/parse_test.rs", fn, ReasonExcluded},
		{"benches/b.rs", fn, ReasonNotIncluded},
		{"src/main.rs", lsp.SymbolKindStruct, ReasonKind},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, f.Check(filepath.Join(root, tt.path), tt.kind), tt.path)
	}

	outside := filepath.Join(filepath.Dir(root), "elsewhere", "x.rs")
	assert.Equal(t, ReasonExternal, f.Check(outside, fn))
	assert.False(t, f.Allow(outside, fn))
}

func TestFilter_PatternsWithSlashAreAnchored(t *testing.T) {
	root := t.TempDir()
	f, err := NewFilter(root, FilterOptions{
		Exclude: []string{"vendor/*", "gen/api/", "**/testdata/", "*.pb.rs"},
	})
	require.NoError(t, err)

	tests := []struct {
		path string
		want Reason
	}{
		{"vendor/x.go", ReasonExcluded},
		{"src/vendor/x.go", ReasonAllowed},
		{"gen/api/types.rs", ReasonExcluded},
		{"src/gen/api/types.rs", ReasonAllowed},
		{"testdata/a.rs", ReasonExcluded},
		{"src/parse/testdata/a.rs", ReasonExcluded},
		{"src/msg.pb.rs", ReasonExcluded},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, f.Check(filepath.Join(root, tt.path), lsp.SymbolKindFunction), tt.path)
	}
}

func TestAnchored(t *testing.T) {
	assert.Equal(t,
		[]string{"/vendor/*", "/src/gen/", "target/", "*.rs", "/abs/x", "**/deep/x", "!/keep/me.rs"},
		anchored([]string{"vendor/*", "src/gen/", "target/", "*.rs", "/abs/x", "**/deep/x", "!keep/me.rs"}),
	)
}

func TestFilter_IncludeExternalSkipsPathPatterns(t *testing.T) {
	root := t.TempDir()
	f, err := NewFilter(root, FilterOptions{
		IncludeExternal: true,
		Include:         []string{"src/"},
		Kinds:           []lsp.SymbolKind{lsp.SymbolKindFunction},
	})
	require.NoError(t, err)

	outside := filepath.Join(filepath.Dir(root), "registry", "serde", "de.rs")
	assert.True(t, f.Allow(outside, lsp.SymbolKindFunction))
	assert.Equal(t, ReasonKind, f.Check(outside, lsp.SymbolKindClass))
}

func TestFilter_EmptyAllowsEverythingInWorkspace(t *testing.T) {
	root := t.TempDir()
	f, err := NewFilter(root, FilterOptions{})
	require.NoError(t, err)

	assert.True(t, f.Allow(filepath.Join(root, "vendor", "x.go"), lsp.SymbolKindVariable))
	assert.True(t, f.Allow(root, lsp.SymbolKindFunction))
}

func TestFilter_Relative(t *testing.T) {
	root := t.TempDir()
	f, err := NewFilter(root, FilterOptions{})
	require.NoError(t, err)

	rel, ok := f.Relative(filepath.Join(root, "a", "b.go"))
	assert.True(t, ok)
	assert.Equal(t, "a/b.go", rel)

	_, ok = f.Relative(filepath.Join(root, "..", "sibling", "c.go"))
	assert.False(t, ok)

	// A sibling directory sharing the root's name as a prefix is outside.
	_, ok = f.Relative(root + "-other/d.go")
	assert.False(t, ok)
}
