// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import "encoding/json"

// =============================================================================
// POSITION & RANGE TYPES
// =============================================================================

// Position represents a position in a text document.
// Line and character are 0-indexed per LSP specification.
type Position struct {
	// Line is the 0-indexed line number.
	Line int `json:"line"`

	// Character is the 0-indexed character offset within the line.
	Character int `json:"character"`
}

// Range represents a range in a text document.
type Range struct {
	// Start is the inclusive start position.
	Start Position `json:"start"`

	// End is the exclusive end position.
	End Position `json:"end"`
}

// Location represents a location in a document.
type Location struct {
	// URI is the document URI (file:// scheme).
	URI string `json:"uri"`

	// Range is the range within the document.
	Range Range `json:"range"`
}

// =============================================================================
// DOCUMENT IDENTIFIERS
// =============================================================================

// TextDocumentIdentifier identifies a text document by URI.
type TextDocumentIdentifier struct {
	URI string `json:"uri"`
}

// TextDocumentPositionParams identifies a position in a text document.
type TextDocumentPositionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Position     Position               `json:"position"`
}

// FileChangeType is the kind of a watched-file event.
type FileChangeType int

// File change types as defined by the LSP specification.
const (
	FileCreated FileChangeType = 1
	FileChanged FileChangeType = 2
	FileDeleted FileChangeType = 3
)

// FileEvent describes one watched-file change.
type FileEvent struct {
	URI  string         `json:"uri"`
	Type FileChangeType `json:"type"`
}

// DidChangeWatchedFilesParams contains params for
// workspace/didChangeWatchedFiles.
type DidChangeWatchedFilesParams struct {
	Changes []FileEvent `json:"changes"`
}

// =============================================================================
// SYMBOL TYPES
// =============================================================================

// WorkspaceSymbolParams contains workspace symbol query parameters.
type WorkspaceSymbolParams struct {
	Query string `json:"query"`
}

// SymbolInformation represents information about a symbol.
type SymbolInformation struct {
	// Name is the symbol's name.
	Name string `json:"name"`

	// Kind is the symbol kind (function, class, etc.).
	Kind SymbolKind `json:"kind"`

	// Location is where the symbol is defined.
	Location Location `json:"location"`

	// ContainerName is the name of the containing symbol.
	ContainerName string `json:"containerName,omitempty"`
}

// SymbolKind represents the kind of a symbol.
type SymbolKind int

// Symbol kinds as defined by the LSP specification.
const (
	SymbolKindFile          SymbolKind = 1
	SymbolKindModule        SymbolKind = 2
	SymbolKindNamespace     SymbolKind = 3
	SymbolKindPackage       SymbolKind = 4
	SymbolKindClass         SymbolKind = 5
	SymbolKindMethod        SymbolKind = 6
	SymbolKindProperty      SymbolKind = 7
	SymbolKindField         SymbolKind = 8
	SymbolKindConstructor   SymbolKind = 9
	SymbolKindEnum          SymbolKind = 10
	SymbolKindInterface     SymbolKind = 11
	SymbolKindFunction      SymbolKind = 12
	SymbolKindVariable      SymbolKind = 13
	SymbolKindConstant      SymbolKind = 14
	SymbolKindString        SymbolKind = 15
	SymbolKindNumber        SymbolKind = 16
	SymbolKindBoolean       SymbolKind = 17
	SymbolKindArray         SymbolKind = 18
	SymbolKindObject        SymbolKind = 19
	SymbolKindKey           SymbolKind = 20
	SymbolKindNull          SymbolKind = 21
	SymbolKindEnumMember    SymbolKind = 22
	SymbolKindStruct        SymbolKind = 23
	SymbolKindEvent         SymbolKind = 24
	SymbolKindOperator      SymbolKind = 25
	SymbolKindTypeParameter SymbolKind = 26
)

var symbolKindNames = map[SymbolKind]string{
	SymbolKindFile:          "file",
	SymbolKindModule:        "module",
	SymbolKindNamespace:     "namespace",
	SymbolKindPackage:       "package",
	SymbolKindClass:         "class",
	SymbolKindMethod:        "method",
	SymbolKindProperty:      "property",
	SymbolKindField:         "field",
	SymbolKindConstructor:   "constructor",
	SymbolKindEnum:          "enum",
	SymbolKindInterface:     "interface",
	SymbolKindFunction:      "function",
	SymbolKindVariable:      "variable",
	SymbolKindConstant:      "constant",
	SymbolKindString:        "string",
	SymbolKindNumber:        "number",
	SymbolKindBoolean:       "boolean",
	SymbolKindArray:         "array",
	SymbolKindObject:        "object",
	SymbolKindKey:           "key",
	SymbolKindNull:          "null",
	SymbolKindEnumMember:    "enum_member",
	SymbolKindStruct:        "struct",
	SymbolKindEvent:         "event",
	SymbolKindOperator:      "operator",
	SymbolKindTypeParameter: "type_parameter",
}

// String returns the lower-case kind name, or "unknown".
func (k SymbolKind) String() string {
	if name, ok := symbolKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseSymbolKind maps a kind name back to its SymbolKind.
func ParseSymbolKind(name string) (SymbolKind, bool) {
	for kind, n := range symbolKindNames {
		if n == name {
			return kind, true
		}
	}
	return 0, false
}

// IsCallable reports whether symbols of this kind can appear in a call
// hierarchy as callers.
func (k SymbolKind) IsCallable() bool {
	switch k {
	case SymbolKindFunction, SymbolKindMethod, SymbolKindConstructor:
		return true
	}
	return false
}

// =============================================================================
// CALL HIERARCHY TYPES
// =============================================================================

// CallHierarchyPrepareParams contains textDocument/prepareCallHierarchy params.
type CallHierarchyPrepareParams struct {
	TextDocumentPositionParams
}

// CallHierarchyItem is a located declaration returned by the call hierarchy
// requests.
type CallHierarchyItem struct {
	Name           string          `json:"name"`
	Kind           SymbolKind      `json:"kind"`
	Detail         string          `json:"detail,omitempty"`
	URI            string          `json:"uri"`
	Range          Range           `json:"range"`
	SelectionRange Range           `json:"selectionRange"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// CallHierarchyCallsParams contains callHierarchy/outgoingCalls and
// callHierarchy/incomingCalls params.
type CallHierarchyCallsParams struct {
	Item CallHierarchyItem `json:"item"`
}

// CallHierarchyOutgoingCall is one callee of an item. FromRanges are the call
// sites inside the caller.
type CallHierarchyOutgoingCall struct {
	To         CallHierarchyItem `json:"to"`
	FromRanges []Range           `json:"fromRanges"`
}

// CallHierarchyIncomingCall is one caller of an item. FromRanges are the call
// sites inside the caller.
type CallHierarchyIncomingCall struct {
	From       CallHierarchyItem `json:"from"`
	FromRanges []Range           `json:"fromRanges"`
}

// =============================================================================
// INITIALIZE TYPES
// =============================================================================

// InitializeParams contains initialization parameters.
type InitializeParams struct {
	ProcessID             int                `json:"processId"`
	ClientInfo            *ClientInfo        `json:"clientInfo,omitempty"`
	RootURI               string             `json:"rootUri"`
	RootPath              string             `json:"rootPath,omitempty"`
	Capabilities          ClientCapabilities `json:"capabilities"`
	InitializationOptions interface{}        `json:"initializationOptions,omitempty"`
	WorkspaceFolders      []WorkspaceFolder  `json:"workspaceFolders,omitempty"`
}

// ClientInfo names the client to the server.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// WorkspaceFolder represents a workspace folder.
type WorkspaceFolder struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

// ClientCapabilities describes what the client supports.
type ClientCapabilities struct {
	Workspace    WorkspaceClientCapabilities    `json:"workspace"`
	TextDocument TextDocumentClientCapabilities `json:"textDocument"`
	Window       WindowClientCapabilities       `json:"window"`
	Experimental map[string]interface{}         `json:"experimental,omitempty"`
}

// WorkspaceClientCapabilities describes workspace capabilities.
type WorkspaceClientCapabilities struct {
	Symbol                *DynamicCapability `json:"symbol,omitempty"`
	DidChangeWatchedFiles *DynamicCapability `json:"didChangeWatchedFiles,omitempty"`
	WorkspaceFolders      bool               `json:"workspaceFolders"`
	Configuration         bool               `json:"configuration"`
}

// TextDocumentClientCapabilities describes text document capabilities.
type TextDocumentClientCapabilities struct {
	CallHierarchy  *DynamicCapability        `json:"callHierarchy,omitempty"`
	DocumentSymbol *DocumentSymbolCapability `json:"documentSymbol,omitempty"`
}

// DocumentSymbolCapability describes documentSymbol support.
type DocumentSymbolCapability struct {
	DynamicRegistration               bool `json:"dynamicRegistration"`
	HierarchicalDocumentSymbolSupport bool `json:"hierarchicalDocumentSymbolSupport"`
}

// WindowClientCapabilities describes window capabilities.
type WindowClientCapabilities struct {
	WorkDoneProgress bool `json:"workDoneProgress"`
}

// DynamicCapability is the common shape of capabilities with only a
// dynamicRegistration flag.
type DynamicCapability struct {
	DynamicRegistration bool `json:"dynamicRegistration"`
}

// InitializeResult contains the server's response to initialize.
type InitializeResult struct {
	Capabilities ServerCapabilities `json:"capabilities"`
	ServerInfo   *ServerInfo        `json:"serverInfo,omitempty"`
}

// ServerInfo names the server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// ServerCapabilities describes what the server supports. Provider fields are
// either a bool or an options object, so they are kept raw.
type ServerCapabilities struct {
	CallHierarchyProvider   json.RawMessage `json:"callHierarchyProvider,omitempty"`
	WorkspaceSymbolProvider json.RawMessage `json:"workspaceSymbolProvider,omitempty"`
}

// HasCallHierarchy returns true if the server advertises call hierarchy.
func (c ServerCapabilities) HasCallHierarchy() bool {
	return providerEnabled(c.CallHierarchyProvider)
}

// HasWorkspaceSymbol returns true if the server advertises workspace symbols.
func (c ServerCapabilities) HasWorkspaceSymbol() bool {
	return providerEnabled(c.WorkspaceSymbolProvider)
}

func providerEnabled(raw json.RawMessage) bool {
	if len(raw) == 0 || string(raw) == "null" || string(raw) == "false" {
		return false
	}
	return true
}

// =============================================================================
// NOTIFICATION PAYLOADS
// =============================================================================

// ServerStatusParams is the payload of rust-analyzer's
// experimental/serverStatus notification.
type ServerStatusParams struct {
	Health    string `json:"health"`
	Quiescent bool   `json:"quiescent"`
	Message   string `json:"message,omitempty"`
}

// ProgressParams is the payload of $/progress.
type ProgressParams struct {
	Token json.RawMessage `json:"token"`
	Value struct {
		Kind    string `json:"kind"`
		Title   string `json:"title,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"value"`
}

// LogMessageParams is the payload of window/logMessage.
type LogMessageParams struct {
	Type    int    `json:"type"`
	Message string `json:"message"`
}

// ConfigurationParams is the payload of workspace/configuration.
type ConfigurationParams struct {
	Items []json.RawMessage `json:"items"`
}
