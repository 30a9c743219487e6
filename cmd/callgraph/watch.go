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
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/callgraph/services/callgraph/config"
	"github.com/AleutianAI/callgraph/services/callgraph/lsp"
	"github.com/AleutianAI/callgraph/services/callgraph/runner"
	"github.com/AleutianAI/callgraph/services/callgraph/watch"
)

func newWatchCmd() *cobra.Command {
	var (
		server   serverFlags
		graph    graphFlags
		debounce time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch [workspace] [entry] [output]",
		Short: "Regenerate the call graph whenever workspace files change",
		Long: `Generates like "generate", then keeps the language server running and
regenerates after each burst of file changes. Changes are forwarded to
the server so it re-indexes before the next run. Stop with Ctrl-C.`,
		Args: cobra.MaximumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, args, server.apply, graph.apply, func(c *cobra.Command, cfg *config.Config) {
				applyPositional(cfg, args)
				if c.Flags().Changed("debounce") {
					cfg.Watch.Debounce = debounce
				}
			})
			if err != nil {
				return err
			}
			if a.cfg.Output.Path == stdoutPath || a.cfg.Output.Path == "" {
				a.close(nil)
				return usageError(errors.New("watch needs an output file"))
			}

			r, err := a.startRunner(cmd.Context())
			if err != nil {
				a.close(nil)
				return err
			}
			defer a.close(r)

			preset, _ := a.registry.Get(r.Session().Language())
			w, err := watch.New(r.Session().RootPath(), watch.Options{
				Debounce:   a.cfg.Watch.Debounce,
				Extensions: preset.Extensions,
				Manifests:  preset.RootFiles,
				Logger:     a.logger.Slog(),
			})
			if err != nil {
				return &exitError{code: runner.ExitError, err: err}
			}
			defer w.Close()

			report := func(res *runner.Result, events []lsp.FileEvent) {
				if events != nil {
					a.printer.Info(fmt.Sprintf("%d file(s) changed", len(events)))
				}
				_ = a.summarize(res, a.cfg.Direction)
			}
			if err := watch.Loop(cmd.Context(), w, r, r.DefaultRequest(), report, a.logger.Slog()); err != nil {
				return &exitError{code: runner.ExitError, err: err}
			}
			return nil
		},
	}
	server.register(cmd)
	graph.register(cmd)
	cmd.Flags().DurationVar(&debounce, "debounce", 0, "quiet period before regenerating (default 300ms)")
	return cmd
}
