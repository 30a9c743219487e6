// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/callgraph/services/callgraph/config"
)

// globalFlags are shared by every command.
type globalFlags struct {
	config       string
	logLevel     string
	logFormat    string
	logDir       string
	traces       string
	metrics      string
	otlpEndpoint string
	style        string
}

var globals globalFlags

func (g *globalFlags) register(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVarP(&g.config, "config", "c", "", "config file (default: <workspace>/"+config.FileName+" when present)")
	f.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")
	f.StringVar(&g.logFormat, "log-format", "", "log format: auto, text, json")
	f.StringVar(&g.logDir, "log-dir", "", "also write JSON logs to a daily file in this directory")
	f.StringVar(&g.traces, "traces", "", "trace exporter: none, stdout, otlp")
	f.StringVar(&g.metrics, "metrics", "", "metric exporter: none, stdout, prometheus")
	f.StringVar(&g.otlpEndpoint, "otlp-endpoint", "", "OTLP gRPC collector address")
	f.StringVar(&g.style, "output-style", "", "output style: standard, minimal, machine (default: detect)")
}

func (g *globalFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("log-level") {
		cfg.Logging.Level = g.logLevel
	}
	if f.Changed("log-format") {
		cfg.Logging.Format = g.logFormat
	}
	if f.Changed("log-dir") {
		cfg.Logging.Dir = g.logDir
	}
	if f.Changed("traces") {
		cfg.Telemetry.Traces = g.traces
	}
	if f.Changed("metrics") {
		cfg.Telemetry.Metrics = g.metrics
	}
	if f.Changed("otlp-endpoint") {
		cfg.Telemetry.OTLPEndpoint = g.otlpEndpoint
	}
}

// serverFlags select and tune the language server.
type serverFlags struct {
	language      string
	command       string
	args          []string
	timeout       time.Duration
	rps           float64
	retryAttempts int
	retryElapsed  time.Duration
	shutdownGrace time.Duration
	initTimeout   time.Duration
}

func (s *serverFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&s.language, "language", "l", "", "language server preset (default: detect from workspace)")
	f.StringVar(&s.command, "server", "", "language server executable, replacing the preset's")
	f.StringSliceVar(&s.args, "server-arg", nil, "language server argument (repeatable)")
	f.DurationVar(&s.timeout, "request-timeout", 0, "timeout for each protocol request")
	f.Float64Var(&s.rps, "requests-per-second", 0, "pace protocol requests (0 = unlimited)")
	f.IntVar(&s.retryAttempts, "retry-attempts", 0, "attempts per request while the server is not ready")
	f.DurationVar(&s.retryElapsed, "retry-max-elapsed", 0, "total time to keep retrying a not-ready server")
	f.DurationVar(&s.shutdownGrace, "shutdown-grace", 0, "wait before killing the server on exit")
	f.DurationVar(&s.initTimeout, "init-timeout", 0, "timeout for the initialize handshake")
}

func (s *serverFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("language") {
		cfg.Server.Language = s.language
	}
	if f.Changed("server") {
		cfg.Server.Command = s.command
	}
	if f.Changed("server-arg") {
		cfg.Server.Args = s.args
	}
	if f.Changed("request-timeout") {
		cfg.Request.Timeout = s.timeout
	}
	if f.Changed("requests-per-second") {
		cfg.Request.RequestsPerSecond = s.rps
	}
	if f.Changed("retry-attempts") {
		cfg.Retry.MaxAttempts = s.retryAttempts
	}
	if f.Changed("retry-max-elapsed") {
		cfg.Retry.MaxElapsed = s.retryElapsed
	}
	if f.Changed("shutdown-grace") {
		cfg.Server.ShutdownGrace = s.shutdownGrace
	}
	if f.Changed("init-timeout") {
		cfg.Server.InitTimeout = s.initTimeout
	}
}

// graphFlags shape the traversal and output.
type graphFlags struct {
	file            string
	line            int
	character       int
	direction       string
	depth           int
	include         []string
	exclude         []string
	kinds           []string
	includeExternal bool
	fanOut          int
	maxNodes        int
	maxEdges        int
	output          string
	format          string
}

func (g *graphFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&g.file, "file", "", "entry file, with --line, instead of an entry name")
	f.IntVar(&g.line, "line", 0, "1-based entry line in --file")
	f.IntVar(&g.character, "character", 0, "0-based entry column in --file")
	f.StringVarP(&g.direction, "direction", "d", "", "outgoing (callees) or incoming (callers)")
	f.IntVar(&g.depth, "depth", 0, "maximum traversal depth (0 = unlimited)")
	f.StringSliceVar(&g.include, "include", nil, "only keep symbols under these gitignore-style paths")
	f.StringSliceVar(&g.exclude, "exclude", nil, "drop symbols under these gitignore-style paths")
	f.StringSliceVar(&g.kinds, "kind", nil, "symbol kinds to keep (function, method, constructor, ...)")
	f.BoolVar(&g.includeExternal, "include-external", false, "keep symbols outside the workspace")
	f.IntVar(&g.fanOut, "fan-out", 0, "concurrent expansions per level")
	f.IntVar(&g.maxNodes, "max-nodes", 0, "stop after this many nodes (0 = unlimited)")
	f.IntVar(&g.maxEdges, "max-edges", 0, "stop after this many edges (0 = unlimited)")
	f.StringVarP(&g.output, "output", "o", "", "output file, - for stdout")
	f.StringVarP(&g.format, "format", "f", "", "dot, json or mermaid (default: from the output extension)")
}

func (g *graphFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("file") || f.Changed("line") || f.Changed("character") {
		cfg.Entry = config.EntryConfig{File: g.file, Line: g.line, Character: g.character}
	}
	if f.Changed("direction") {
		cfg.Direction = g.direction
	}
	if f.Changed("depth") {
		cfg.MaxDepth = g.depth
	}
	if f.Changed("include") {
		cfg.Include = g.include
	}
	if f.Changed("exclude") {
		cfg.Exclude = g.exclude
	}
	if f.Changed("kind") {
		cfg.Kinds = g.kinds
	}
	if f.Changed("include-external") {
		cfg.IncludeExternal = g.includeExternal
	}
	if f.Changed("fan-out") {
		cfg.FanOut = g.fanOut
	}
	if f.Changed("max-nodes") {
		cfg.MaxNodes = g.maxNodes
	}
	if f.Changed("max-edges") {
		cfg.MaxEdges = g.maxEdges
	}
	if f.Changed("output") {
		cfg.Output.Path = g.output
	}
	if f.Changed("format") {
		cfg.Output.Format = g.format
	}
}

// applyPositional applies the [entry] [output] arguments that follow the
// workspace. An entry argument replaces any configured entry.
func applyPositional(cfg *config.Config, args []string) {
	if len(args) > 1 && args[1] != "" {
		cfg.Entry = config.EntryConfig{Name: args[1]}
	}
	if len(args) > 2 && args[2] != "" {
		cfg.Output.Path = args[2]
	}
}
