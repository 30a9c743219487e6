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
	"github.com/spf13/cobra"

	"github.com/AleutianAI/callgraph/pkg/ux"
	"github.com/AleutianAI/callgraph/services/callgraph/config"
	"github.com/AleutianAI/callgraph/services/callgraph/runner"
)

// stdoutPath as the output writes the graph to stdout.
const stdoutPath = "-"

func newGenerateCmd() *cobra.Command {
	var (
		server serverFlags
		graph  graphFlags
	)
	cmd := &cobra.Command{
		Use:   "generate [workspace] [entry] [output]",
		Short: "Write the call graph of one entry function",
		Long: `Starts the language server for the workspace, walks the call hierarchy
from the entry function and writes the graph.

Defaults: workspace ".", entry "main", output "callgraph.dot". The format
follows the output extension (.dot, .json, .mmd) unless --format is set.
Use - as the output to write to stdout.

Exit codes: 0 success, 1 error, 2 traversal aborted (partial graph
written), 3 entry not found.`,
		Aliases: []string{"gen"},
		Args:    cobra.MaximumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, args, server.apply, graph.apply, func(_ *cobra.Command, cfg *config.Config) {
				applyPositional(cfg, args)
			})
			if err != nil {
				return err
			}

			toStdout := a.cfg.Output.Path == stdoutPath
			if toStdout {
				a.printer = ux.NewPrinter(cmd.ErrOrStderr(), ux.DetectPersonality(globals.style, cmd.ErrOrStderr()))
			}

			r, err := a.startRunner(cmd.Context())
			if err != nil {
				a.close(nil)
				return err
			}
			defer a.close(r)

			req := r.DefaultRequest()
			if toStdout {
				req.Output = ""
			}
			res := r.Generate(cmd.Context(), req)
			if toStdout && res.Data != nil {
				if _, err := cmd.OutOrStdout().Write(res.Data); err != nil {
					return &exitError{code: runner.ExitError, err: err}
				}
			}
			return a.summarize(res, a.cfg.Direction)
		},
	}
	server.register(cmd)
	graph.register(cmd)
	return cmd
}
