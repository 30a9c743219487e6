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

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SessionState represents the lifecycle state of a session.
type SessionState int

const (
	// SessionStateStarting means the handshake is in progress.
	SessionStateStarting SessionState = iota

	// SessionStateReady means the server accepted initialize.
	SessionStateReady

	// SessionStateStopping means shutdown is in progress.
	SessionStateStopping

	// SessionStateStopped means the server has been shut down.
	SessionStateStopped
)

// String returns the string representation of the state.
func (s SessionState) String() string {
	switch s {
	case SessionStateStarting:
		return "starting"
	case SessionStateReady:
		return "ready"
	case SessionStateStopping:
		return "stopping"
	case SessionStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// SessionOptions configures a session.
type SessionOptions struct {
	// Server describes the language server process.
	Server ServerConfig

	// RootPath is the absolute workspace root.
	RootPath string

	// Client configures the protocol client.
	Client ClientOptions

	// InitTimeout bounds the initialize handshake. Zero means 2 minutes.
	InitTimeout time.Duration

	// ShutdownTimeout bounds the shutdown request. Zero means 5 seconds.
	ShutdownTimeout time.Duration

	// ClientVersion is reported in clientInfo.
	ClientVersion string

	// Logger receives session logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// Session is one initialized language server.
//
// Description:
//
//	A session owns exactly one server process, spoken to by one Client.
//	StartSession spawns the process and runs the initialize handshake;
//	Shutdown runs shutdown/exit and tears the process down.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Session struct {
	opts      SessionOptions
	transport Transport
	client    *Client
	logger    *slog.Logger

	mu           sync.RWMutex
	state        SessionState
	capabilities ServerCapabilities
	serverInfo   *ServerInfo
}

// StartSession spawns the configured server and initializes it.
//
// Outputs:
//
//	*Session - Ready session. Shutdown must be called.
//	error - ErrProcessSpawn, ErrInitializeFailed, or a transport error.
func StartSession(ctx context.Context, opts SessionOptions) (*Session, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	root, err := filepath.Abs(opts.RootPath)
	if err != nil {
		return nil, fmt.Errorf("resolve root path: %w", err)
	}
	opts.RootPath = root

	t, err := StartProcess(ctx, opts.Server, root, opts.Logger)
	if err != nil {
		return nil, err
	}
	return Attach(ctx, t, opts)
}

// Attach initializes a server reachable over an existing transport.
// On failure the transport is closed.
func Attach(ctx context.Context, t Transport, opts SessionOptions) (*Session, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Client.Logger == nil {
		opts.Client.Logger = opts.Logger
	}
	if opts.Client.Language == "" {
		opts.Client.Language = opts.Server.Language
	}

	s := &Session{
		opts:      opts,
		transport: t,
		client:    NewClient(t, opts.Client),
		logger:    opts.Logger.With(slog.String("language", opts.Server.Language)),
		state:     SessionStateStarting,
	}
	if err := s.client.Start(ctx); err != nil {
		_ = t.Close(ctx)
		return nil, err
	}
	if err := s.initialize(ctx); err != nil {
		_ = s.client.Close(ctx)
		s.setState(SessionStateStopped)
		return nil, fmt.Errorf("%w: %v", ErrInitializeFailed, err)
	}

	s.setState(SessionStateReady)
	s.logger.Info("language server ready",
		slog.String("root_path", opts.RootPath),
		slog.String("server", s.ServerName()),
		slog.Bool("call_hierarchy", s.capabilities.HasCallHierarchy()),
		slog.Bool("workspace_symbol", s.capabilities.HasWorkspaceSymbol()),
	)
	return s, nil
}

func (s *Session) initialize(ctx context.Context) error {
	timeout := s.opts.InitTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	root := s.opts.RootPath
	params := InitializeParams{
		ProcessID:  os.Getpid(),
		ClientInfo: &ClientInfo{Name: "callgraph", Version: s.opts.ClientVersion},
		RootURI:    PathToURI(root),
		RootPath:   root,
		Capabilities: ClientCapabilities{
			Workspace: WorkspaceClientCapabilities{
				Symbol:                &DynamicCapability{},
				DidChangeWatchedFiles: &DynamicCapability{},
				WorkspaceFolders:      true,
				Configuration:         true,
			},
			TextDocument: TextDocumentClientCapabilities{
				CallHierarchy: &DynamicCapability{},
				DocumentSymbol: &DocumentSymbolCapability{
					HierarchicalDocumentSymbolSupport: true,
				},
			},
			Window: WindowClientCapabilities{WorkDoneProgress: true},
			Experimental: map[string]interface{}{
				"serverStatusNotification": true,
			},
		},
		InitializationOptions: s.opts.Server.InitializationOptions,
		WorkspaceFolders: []WorkspaceFolder{
			{URI: PathToURI(root), Name: filepath.Base(root)},
		},
	}

	var result InitializeResult
	if err := s.client.Call(ctx, "initialize", params, &result); err != nil {
		return err
	}
	if !result.Capabilities.HasCallHierarchy() {
		return fmt.Errorf("server does not support call hierarchy")
	}

	s.mu.Lock()
	s.capabilities = result.Capabilities
	s.serverInfo = result.ServerInfo
	s.mu.Unlock()

	return s.client.Notify("initialized", struct{}{})
}

// Shutdown runs the shutdown/exit exchange and tears the transport down.
// Errors from a server that has already gone are ignored.
func (s *Session) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.state == SessionStateStopped || s.state == SessionStateStopping {
		s.mu.Unlock()
		return nil
	}
	s.state = SessionStateStopping
	s.mu.Unlock()
	defer s.setState(SessionStateStopped)

	s.logger.Info("shutting down language server")

	timeout := s.opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.client.Call(shutdownCtx, "shutdown", nil, nil); err != nil {
		s.logger.Debug("shutdown request failed", slog.String("error", err.Error()))
	}
	_ = s.client.Notify("exit", nil)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), timeout+DefaultShutdownGrace)
	defer closeCancel()
	return s.client.Close(closeCtx)
}

// Client returns the session's protocol client.
func (s *Session) Client() *Client {
	return s.client
}

// RootPath returns the absolute workspace root.
func (s *Session) RootPath() string {
	return s.opts.RootPath
}

// Language returns the server's language identifier.
func (s *Session) Language() string {
	return s.opts.Server.Language
}

// Capabilities returns the server capabilities from initialize.
func (s *Session) Capabilities() ServerCapabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capabilities
}

// ServerName returns the name the server reported, or the command.
func (s *Session) ServerName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.serverInfo != nil && s.serverInfo.Name != "" {
		return s.serverInfo.Name
	}
	return s.opts.Server.Command
}

// State returns the session state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
