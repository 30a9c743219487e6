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
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/callgraph/pkg/logging"
	"github.com/AleutianAI/callgraph/pkg/ux"
	"github.com/AleutianAI/callgraph/services/callgraph/config"
	"github.com/AleutianAI/callgraph/services/callgraph/lsp"
	"github.com/AleutianAI/callgraph/services/callgraph/runner"
	"github.com/AleutianAI/callgraph/services/callgraph/telemetry"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "callgraph",
		Short: "Build call graphs from a language server",
		Long: `callgraph starts the language server for a workspace, walks the call
hierarchy from an entry function and writes the graph as DOT, JSON or
Mermaid.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	globals.register(root)

	root.AddCommand(
		newGenerateCmd(),
		newSymbolsCmd(),
		newWatchCmd(),
		newServeCmd(),
		newVersionCmd(),
	)
	return root
}

// app holds what a command needs once its configuration is settled.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Provider
	printer   *ux.Printer
	registry  *lsp.Registry
}

// setup loads configuration for the workspace in args[0], applies flags,
// validates, and starts logging and telemetry.
func setup(cmd *cobra.Command, args []string, apply ...func(*cobra.Command, *config.Config)) (*app, error) {
	cfg, err := loadConfig(cmd, args, apply...)
	if err != nil {
		return nil, usageError(err)
	}

	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, usageError(err)
	}

	provider, err := telemetry.Init(cmd.Context(), telemetry.Config{
		ServiceName:    "callgraph",
		ServiceVersion: version,
		TraceExporter:  cfg.Telemetry.Traces,
		MetricExporter: cfg.Telemetry.Metrics,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   true,
		Writer:         cmd.ErrOrStderr(),
	})
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		telemetry: provider,
		printer:   ux.NewPrinter(cmd.OutOrStdout(), ux.DetectPersonality(globals.style, cmd.OutOrStdout())),
		registry:  lsp.NewRegistry(),
	}, nil
}

func loadConfig(cmd *cobra.Command, args []string, apply ...func(*cobra.Command, *config.Config)) (*config.Config, error) {
	workspace := "."
	if len(args) > 0 && args[0] != "" {
		workspace = args[0]
	}

	var (
		cfg *config.Config
		err error
	)
	if globals.config != "" {
		cfg, err = config.Load(globals.config)
		if err != nil {
			return nil, err
		}
		if len(args) > 0 && args[0] != "" {
			cfg.Workspace = workspace
		}
	} else {
		cfg, err = config.LoadWorkspace(workspace)
		if err != nil {
			return nil, err
		}
	}

	globals.apply(cmd, cfg)
	for _, fn := range apply {
		fn(cmd, cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, stderr io.Writer) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Config{
		Level:   level,
		Format:  logging.Format(cfg.Logging.Format),
		LogDir:  cfg.Logging.Dir,
		Service: "callgraph",
		Output:  stderr,
	}), nil
}

// startRunner spawns the language server.
func (a *app) startRunner(ctx context.Context) (*runner.Runner, error) {
	a.logger.Info("starting language server", slog.String("workspace", a.cfg.Workspace), slog.String("language", a.cfg.Server.Language))
	r, err := runner.Start(ctx, a.cfg, a.registry, version, a.logger.Slog())
	if err != nil {
		return nil, &exitError{code: runner.ExitError, err: fmt.Errorf("start language server: %w", err)}
	}
	return r, nil
}

// close shuts down the runner, when given, then telemetry and logging.
// It runs on a fresh context so an interrupt still flushes exporters.
func (a *app) close(r *runner.Runner) {
	grace := a.cfg.Server.ShutdownGrace + 5*time.Second
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if r != nil {
		if err := r.Close(ctx); err != nil {
			a.logger.Warn("language server shutdown", slog.String("error", err.Error()))
		}
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown", slog.String("error", err.Error()))
	}
	_ = a.logger.Close()
}

// summarize prints a run's outcome and converts it to the command error.
func (a *app) summarize(res *runner.Result, direction string) error {
	if res.Graph != nil && res.Data != nil {
		s := ux.RunSummary{
			Entry:     res.Graph.EntryNode().Name,
			Direction: direction,
			Format:    res.Renderer.Name(),
			Path:      res.Path,
			Nodes:     res.Graph.NodeCount(),
			Edges:     res.Graph.EdgeCount(),
			Groups:    len(res.Graph.Groups()),
			Partial:   res.Graph.Partial(),
			Duration:  res.Duration,
		}
		if res.Err != nil {
			s.Reason = res.Err.Error()
		}
		a.printer.Summary(s)
	}
	if res.ExitCode == runner.ExitOK {
		return nil
	}
	if res.ExitCode != runner.ExitPartial {
		a.printer.Error(res.Err.Error())
	}
	return &exitError{code: res.ExitCode, err: res.Err, reported: true}
}

func usageError(err error) error {
	return &exitError{code: runner.ExitError, err: err}
}
