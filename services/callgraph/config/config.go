// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates callgraph run configuration.
//
// Configuration comes from three layers, later layers winning:
//
//  1. Default()
//  2. A YAML file, by default .callgraph.yaml in the workspace
//  3. Command-line flags, applied by the caller on the loaded Config
//
// Durations are written as Go duration strings ("500ms", "1m").
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/callgraph/services/callgraph/analyzer"
	"github.com/AleutianAI/callgraph/services/callgraph/graph"
	"github.com/AleutianAI/callgraph/services/callgraph/lsp"
)

// FileName is the workspace-local config file looked up by LoadWorkspace.
const FileName = ".callgraph.yaml"

// ErrInvalidConfig is returned when a configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete configuration of one callgraph run.
type Config struct {
	// Workspace is the project root handed to the language server.
	Workspace string `yaml:"workspace" validate:"required"`

	// Entry locates the symbol traversal starts from.
	Entry EntryConfig `yaml:"entry"`

	// Direction is "outgoing" (callees) or "incoming" (callers).
	Direction string `yaml:"direction" validate:"oneof=outgoing incoming"`

	// MaxDepth limits expansion from the entry. Zero means unlimited.
	MaxDepth int `yaml:"max_depth" validate:"gte=0"`

	Include         []string `yaml:"include,omitempty"`
	Exclude         []string `yaml:"exclude,omitempty"`
	Kinds           []string `yaml:"kinds,omitempty" validate:"dive,symbolkind"`
	IncludeExternal bool     `yaml:"include_external"`

	// FanOut bounds concurrent expansions per BFS level.
	FanOut int `yaml:"fan_out" validate:"gte=1,lte=64"`

	MaxNodes int `yaml:"max_nodes" validate:"gte=0"`
	MaxEdges int `yaml:"max_edges" validate:"gte=0"`

	Output    OutputConfig    `yaml:"output"`
	Server    ServerConfig    `yaml:"server"`
	Request   RequestConfig   `yaml:"request"`
	Retry     RetryConfig     `yaml:"retry"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
	Serve     ServeConfig     `yaml:"serve"`
	Watch     WatchConfig     `yaml:"watch"`
}

// EntryConfig locates the entry symbol by name or by position.
type EntryConfig struct {
	Name string `yaml:"name,omitempty"`

	// File and Line (1-based) select the symbol at a position.
	File      string `yaml:"file,omitempty"`
	Line      int    `yaml:"line,omitempty" validate:"gte=0"`
	Character int    `yaml:"character,omitempty" validate:"gte=0"`
}

// OutputConfig selects where and how the graph is written.
type OutputConfig struct {
	Path   string `yaml:"path"`
	Format string `yaml:"format" validate:"omitempty,oneof=dot json mermaid"`
}

// ServerConfig overrides the language server preset.
type ServerConfig struct {
	// Language picks a preset. Empty detects it from the workspace.
	Language string `yaml:"language,omitempty"`

	// Command replaces the preset executable when set.
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`
	Env     []string `yaml:"env,omitempty"`

	InitializationOptions map[string]interface{} `yaml:"initialization_options,omitempty"`

	ShutdownGrace time.Duration `yaml:"shutdown_grace" validate:"gte=0"`
	InitTimeout   time.Duration `yaml:"init_timeout" validate:"gte=0"`
}

// RequestConfig bounds individual protocol requests.
type RequestConfig struct {
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
	Burst             int           `yaml:"burst" validate:"gte=0"`
}

// RetryConfig bounds retries of NotReady answers.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" validate:"gte=1"`
	MaxElapsed     time.Duration `yaml:"max_elapsed" validate:"gte=0"`
	Delay          time.Duration `yaml:"delay" validate:"gte=0"`
	Multiplier     float64       `yaml:"multiplier" validate:"gte=1"`
	MaxDelay       time.Duration `yaml:"max_delay" validate:"gte=0"`
	TimeoutRetries int           `yaml:"timeout_retries" validate:"gte=0"`
}

// TelemetryConfig selects OpenTelemetry exporters.
type TelemetryConfig struct {
	Traces       string `yaml:"traces" validate:"oneof=none stdout otlp"`
	Metrics      string `yaml:"metrics" validate:"oneof=none stdout prometheus"`
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty" validate:"required_if=Traces otlp"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"oneof=auto text json"`
	Dir    string `yaml:"dir,omitempty"`
}

// ServeConfig configures the HTTP API.
type ServeConfig struct {
	Addr              string        `yaml:"addr" validate:"required"`
	MaxConcurrentRuns int64         `yaml:"max_concurrent_runs" validate:"gte=1"`
	RunTimeout        time.Duration `yaml:"run_timeout" validate:"gte=0"`
}

// WatchConfig configures the watch command.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce" validate:"gt=0"`
}

// Default returns the configuration used when nothing is set.
//
// Description:
//
//	Mirrors the positional defaults of the generate command: the current
//	directory, entry "main", output "callgraph.dot". Retry values follow
//	lsp.DefaultRetryPolicy.
func Default() *Config {
	policy := lsp.DefaultRetryPolicy()
	return &Config{
		Workspace: ".",
		Entry:     EntryConfig{Name: "main"},
		Direction: graph.DirectionOutgoing.String(),
		FanOut:    analyzer.DefaultFanOut,
		Output:    OutputConfig{Path: "callgraph.dot"},
		Server:    ServerConfig{ShutdownGrace: 5 * time.Second, InitTimeout: 2 * time.Minute},
		Request:   RequestConfig{Timeout: policy.AttemptTimeout},
		Retry: RetryConfig{
			MaxAttempts:    policy.MaxAttempts,
			MaxElapsed:     policy.MaxElapsed,
			Delay:          policy.Delay,
			Multiplier:     policy.Multiplier,
			MaxDelay:       policy.MaxDelay,
			TimeoutRetries: policy.TimeoutRetries,
		},
		Telemetry: TelemetryConfig{Traces: "none", Metrics: "none"},
		Logging:   LoggingConfig{Level: "info", Format: "auto"},
		Serve:     ServeConfig{Addr: "127.0.0.1:8089", MaxConcurrentRuns: 2, RunTimeout: 10 * time.Minute},
		Watch:     WatchConfig{Debounce: 300 * time.Millisecond},
	}
}

// Load reads path over Default() and validates the result.
//
// Outputs:
//
//	*Config - The merged configuration.
//	error - Read, parse or validation failure. Validation failures wrap
//	ErrInvalidConfig.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.mergeFile(path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWorkspace reads FileName from workspace when it exists, otherwise
// returns Default() with Workspace set. The result is not validated, so
// flags can still be applied.
func LoadWorkspace(workspace string) (*Config, error) {
	cfg := Default()
	path := filepath.Join(workspace, FileName)
	if _, err := os.Stat(path); err == nil {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if cfg.Workspace == "" || cfg.Workspace == "." {
		cfg.Workspace = workspace
	} else if !filepath.IsAbs(cfg.Workspace) {
		cfg.Workspace = filepath.Join(workspace, cfg.Workspace)
	}
	return cfg, nil
}

// mergeFile decodes a YAML file over the receiver. Keys absent from the
// file keep their current values.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks struct tags and cross-field rules.
//
// Description:
//
//	The entry needs either a name or a file with a 1-based line. An
//	entry given both ways is rejected as ambiguous.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	e := c.Entry
	byPosition := e.File != "" || e.Line != 0
	switch {
	case e.Name == "" && !byPosition:
		return fmt.Errorf("%w: entry needs a name or a file and line", ErrInvalidConfig)
	case e.Name != "" && byPosition:
		return fmt.Errorf("%w: entry has both a name and a position", ErrInvalidConfig)
	case byPosition && (e.File == "" || e.Line < 1):
		return fmt.Errorf("%w: entry position needs a file and a line >= 1", ErrInvalidConfig)
	}
	if c.Retry.MaxDelay > 0 && c.Retry.MaxDelay < c.Retry.Delay {
		return fmt.Errorf("%w: retry.max_delay is below retry.delay", ErrInvalidConfig)
	}
	return nil
}

// EntryPoint converts the entry locator for the analyzer. Relative files
// are resolved against the workspace.
func (c *Config) EntryPoint() analyzer.Entry {
	file := c.Entry.File
	if file != "" && !filepath.IsAbs(file) {
		file = filepath.Join(c.Workspace, file)
	}
	return analyzer.Entry{
		Name:      c.Entry.Name,
		File:      file,
		Line:      c.Entry.Line,
		Character: c.Entry.Character,
	}
}

// RetryPolicy converts the retry and request settings.
func (c *Config) RetryPolicy() lsp.RetryPolicy {
	return lsp.RetryPolicy{
		MaxAttempts:    c.Retry.MaxAttempts,
		MaxElapsed:     c.Retry.MaxElapsed,
		Delay:          c.Retry.Delay,
		Multiplier:     c.Retry.Multiplier,
		MaxDelay:       c.Retry.MaxDelay,
		AttemptTimeout: c.Request.Timeout,
		TimeoutRetries: c.Retry.TimeoutRetries,
	}
}

// ClientOptions converts the protocol client settings.
func (c *Config) ClientOptions(logger *slog.Logger) lsp.ClientOptions {
	return lsp.ClientOptions{
		Policy:            c.RetryPolicy(),
		RequestsPerSecond: c.Request.RequestsPerSecond,
		Burst:             c.Request.Burst,
		Language:          c.Server.Language,
		Logger:            logger,
	}
}

// ResolveServer picks the server preset from registry and applies the
// overrides. A command override with no known language is accepted as a
// custom server.
func (c *Config) ResolveServer(registry *lsp.Registry) (lsp.ServerConfig, error) {
	var server lsp.ServerConfig
	preset, err := registry.Resolve(c.Server.Language, c.Workspace)
	switch {
	case err == nil:
		server = preset
	case c.Server.Command != "":
		server = lsp.ServerConfig{Language: c.Server.Language}
	default:
		return lsp.ServerConfig{}, err
	}

	if c.Server.Command != "" {
		server.Command = c.Server.Command
		server.Args = c.Server.Args
	} else if len(c.Server.Args) > 0 {
		server.Args = c.Server.Args
	}
	if len(c.Server.Env) > 0 {
		server.Env = append(append([]string(nil), server.Env...), c.Server.Env...)
	}
	if c.Server.InitializationOptions != nil {
		server.InitializationOptions = c.Server.InitializationOptions
	}
	if c.Server.ShutdownGrace > 0 {
		server.ShutdownGrace = c.Server.ShutdownGrace
	}
	return server, nil
}

// SessionOptions builds the options for lsp.StartSession.
func (c *Config) SessionOptions(registry *lsp.Registry, version string, logger *slog.Logger) (lsp.SessionOptions, error) {
	server, err := c.ResolveServer(registry)
	if err != nil {
		return lsp.SessionOptions{}, err
	}
	root, err := filepath.Abs(c.Workspace)
	if err != nil {
		return lsp.SessionOptions{}, fmt.Errorf("resolve workspace: %w", err)
	}
	client := c.ClientOptions(logger)
	client.Language = server.Language
	return lsp.SessionOptions{
		Server:        server,
		RootPath:      root,
		Client:        client,
		InitTimeout:   c.Server.InitTimeout,
		ClientVersion: version,
		Logger:        logger,
	}, nil
}

// AnalyzerOptions converts traversal and filter settings.
func (c *Config) AnalyzerOptions(root string, logger *slog.Logger) (analyzer.Options, error) {
	direction, err := graph.ParseDirection(c.Direction)
	if err != nil {
		return analyzer.Options{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	kinds := make([]lsp.SymbolKind, 0, len(c.Kinds))
	for _, name := range c.Kinds {
		kind, ok := lsp.ParseSymbolKind(name)
		if !ok {
			return analyzer.Options{}, fmt.Errorf("%w: unknown symbol kind %q", ErrInvalidConfig, name)
		}
		kinds = append(kinds, kind)
	}
	return analyzer.Options{
		Root:      root,
		Direction: direction,
		MaxDepth:  c.MaxDepth,
		FanOut:    c.FanOut,
		Filter: analyzer.FilterOptions{
			IncludeExternal: c.IncludeExternal,
			Include:         c.Include,
			Exclude:         c.Exclude,
			Kinds:           kinds,
		},
		MaxNodes: c.MaxNodes,
		MaxEdges: c.MaxEdges,
		Logger:   logger,
	}, nil
}
