// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsptest

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/AleutianAI/callgraph/services/callgraph/lsp"
)

// Func is a function declared in a Program.
type Func struct {
	Name      string
	File      string // relative to the program root
	Line      int
	Kind      lsp.SymbolKind
	Container string
	Detail    string
}

type call struct {
	from, to string
	site     lsp.Range
}

// Program is a fake codebase answering call hierarchy requests.
//
// Functions are identified by name, which must be unique in a Program.
type Program struct {
	Root string

	// SplitCallSites reports every call site as its own entry instead of
	// grouping sites per callee, the way some servers do.
	SplitCallSites bool

	mu     sync.Mutex
	funcs  []*Func
	byName map[string]*Func
	calls  []call
}

// NewProgram creates an empty program rooted at root.
func NewProgram(root string) *Program {
	return &Program{Root: root, byName: make(map[string]*Func)}
}

// Func declares a function at the given 0-based line of file.
func (p *Program) Func(name, file string, line int) *Program {
	return p.Add(Func{Name: name, File: file, Line: line, Kind: lsp.SymbolKindFunction})
}

// Add declares a function with every field set by the caller.
func (p *Program) Add(f Func) *Program {
	p.mu.Lock()
	defer p.mu.Unlock()
	if f.Kind == 0 {
		f.Kind = lsp.SymbolKindFunction
	}
	fn := f
	p.funcs = append(p.funcs, &fn)
	p.byName[f.Name] = &fn
	return p
}

// Call records a call from one function to another on the given line of
// the caller's file.
func (p *Program) Call(from, to string, line, character int) *Program {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call{
		from: from,
		to:   to,
		site: lsp.Range{
			Start: lsp.Position{Line: line, Character: character},
			End:   lsp.Position{Line: line, Character: character + len(to)},
		},
	})
	return p
}

// Path returns the absolute path of a program file.
func (p *Program) Path(file string) string {
	return filepath.Join(p.Root, file)
}

// Item returns the call hierarchy item for a declared function.
func (p *Program) Item(name string) lsp.CallHierarchyItem {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.item(p.byName[name])
}

func (p *Program) item(f *Func) lsp.CallHierarchyItem {
	return lsp.CallHierarchyItem{
		Name:   f.Name,
		Kind:   f.Kind,
		Detail: f.Detail,
		URI:    lsp.PathToURI(p.Path(f.File)),
		Range: lsp.Range{
			Start: lsp.Position{Line: f.Line, Character: 0},
			End:   lsp.Position{Line: f.Line + 2, Character: 1},
		},
		SelectionRange: lsp.Range{
			Start: lsp.Position{Line: f.Line, Character: 3},
			End:   lsp.Position{Line: f.Line, Character: 3 + len(f.Name)},
		},
	}
}

// Install registers workspace/symbol and call hierarchy handlers on s.
func (p *Program) Install(s *Server) {
	s.Handle("workspace/symbol", p.workspaceSymbol)
	s.Handle("textDocument/prepareCallHierarchy", p.prepare)
	s.Handle("callHierarchy/outgoingCalls", p.outgoing)
	s.Handle("callHierarchy/incomingCalls", p.incoming)
}

func (p *Program) workspaceSymbol(req *Message) Reply {
	var params lsp.WorkspaceSymbolParams
	if err := DecodeParams(req, &params); err != nil {
		return invalidParams(err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	symbols := []lsp.SymbolInformation{}
	for _, f := range p.funcs {
		if !strings.Contains(f.Name, params.Query) {
			continue
		}
		item := p.item(f)
		symbols = append(symbols, lsp.SymbolInformation{
			Name:          f.Name,
			Kind:          f.Kind,
			Location:      lsp.Location{URI: item.URI, Range: item.Range},
			ContainerName: f.Container,
		})
	}
	return Reply{Result: symbols}
}

func (p *Program) prepare(req *Message) Reply {
	var params lsp.CallHierarchyPrepareParams
	if err := DecodeParams(req, &params); err != nil {
		return invalidParams(err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	items := []lsp.CallHierarchyItem{}
	for _, f := range p.funcs {
		item := p.item(f)
		line := params.Position.Line
		if item.URI == params.TextDocument.URI && line >= item.Range.Start.Line && line <= item.Range.End.Line {
			items = append(items, item)
			break
		}
	}
	return Reply{Result: items}
}

func (p *Program) outgoing(req *Message) Reply {
	var params lsp.CallHierarchyCallsParams
	if err := DecodeParams(req, &params); err != nil {
		return invalidParams(err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	out := []lsp.CallHierarchyOutgoingCall{}
	index := make(map[string]int)
	for _, c := range p.calls {
		if c.from != params.Item.Name {
			continue
		}
		callee, ok := p.byName[c.to]
		if !ok {
			continue
		}
		if i, seen := index[c.to]; seen && !p.SplitCallSites {
			out[i].FromRanges = append(out[i].FromRanges, c.site)
			continue
		}
		index[c.to] = len(out)
		out = append(out, lsp.CallHierarchyOutgoingCall{To: p.item(callee), FromRanges: []lsp.Range{c.site}})
	}
	return Reply{Result: out}
}

func (p *Program) incoming(req *Message) Reply {
	var params lsp.CallHierarchyCallsParams
	if err := DecodeParams(req, &params); err != nil {
		return invalidParams(err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	in := []lsp.CallHierarchyIncomingCall{}
	index := make(map[string]int)
	for _, c := range p.calls {
		if c.to != params.Item.Name {
			continue
		}
		caller, ok := p.byName[c.from]
		if !ok {
			continue
		}
		if i, seen := index[c.from]; seen && !p.SplitCallSites {
			in[i].FromRanges = append(in[i].FromRanges, c.site)
			continue
		}
		index[c.from] = len(in)
		in = append(in, lsp.CallHierarchyIncomingCall{From: p.item(caller), FromRanges: []lsp.Range{c.site}})
	}
	return Reply{Result: in}
}

// Message aliases lsp.Message for handler signatures.
type Message = lsp.Message

func invalidParams(err error) Reply {
	return Reply{Err: &lsp.ResponseError{Code: lsp.CodeInvalidParams, Message: err.Error()}}
}
