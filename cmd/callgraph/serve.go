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

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/callgraph/services/callgraph/api"
	"github.com/AleutianAI/callgraph/services/callgraph/config"
	"github.com/AleutianAI/callgraph/services/callgraph/runner"
)

func newServeCmd() *cobra.Command {
	var (
		server     serverFlags
		graph      graphFlags
		addr       string
		maxRuns    int64
		runTimeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve [workspace]",
		Short: "Serve call graphs over HTTP",
		Long: `Keeps one language server session open and answers:

  GET /v1/health
  GET /v1/callgraph?entry=&file=&line=&character=&direction=&depth=&format=
  GET /v1/symbols?query=
  GET /metrics            (with --metrics prometheus)

Graph flags set the defaults for parameters a request leaves out.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, args, server.apply, graph.apply, func(c *cobra.Command, cfg *config.Config) {
				if c.Flags().Changed("addr") {
					cfg.Serve.Addr = addr
				}
				if c.Flags().Changed("max-runs") {
					cfg.Serve.MaxConcurrentRuns = maxRuns
				}
				if c.Flags().Changed("run-timeout") {
					cfg.Serve.RunTimeout = runTimeout
				}
			})
			if err != nil {
				return err
			}
			r, err := a.startRunner(cmd.Context())
			if err != nil {
				a.close(nil)
				return err
			}
			defer a.close(r)

			gin.SetMode(gin.ReleaseMode)
			srv := api.New(r, api.Options{
				Addr:              a.cfg.Serve.Addr,
				MaxConcurrentRuns: a.cfg.Serve.MaxConcurrentRuns,
				RunTimeout:        a.cfg.Serve.RunTimeout,
				Metrics:           a.telemetry.MetricsHandler(),
				Version:           version,
				Logger:            a.logger.Slog(),
			})
			a.printer.Success("serving call graphs on http://" + a.cfg.Serve.Addr)
			if err := srv.ListenAndServe(cmd.Context(), 10*time.Second); err != nil {
				return &exitError{code: runner.ExitError, err: err}
			}
			return nil
		},
	}
	server.register(cmd)
	graph.register(cmd)
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default 127.0.0.1:8089)")
	cmd.Flags().Int64Var(&maxRuns, "max-runs", 0, "graph runs served concurrently")
	cmd.Flags().DurationVar(&runTimeout, "run-timeout", 0, "timeout for one graph run")
	return cmd
}
