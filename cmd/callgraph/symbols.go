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
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/callgraph/pkg/ux"
	"github.com/AleutianAI/callgraph/services/callgraph/runner"
)

func newSymbolsCmd() *cobra.Command {
	var (
		server serverFlags
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "symbols [workspace] [query]",
		Short: "List the workspace functions usable as an entry",
		Long: `Lists functions, methods and constructors the language server reports
for the query, limited to files inside the workspace. An empty query
lists everything the server returns.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, args, server.apply)
			if err != nil {
				return err
			}
			r, err := a.startRunner(cmd.Context())
			if err != nil {
				a.close(nil)
				return err
			}
			defer a.close(r)

			query := ""
			if len(args) > 1 {
				query = args[1]
			}
			symbols, err := r.Symbols(cmd.Context(), query)
			if err != nil {
				return &exitError{code: runner.ExitCode(err), err: err}
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(symbols)
			}
			rows := make([]ux.Row, 0, len(symbols))
			for _, s := range symbols {
				rows = append(rows, ux.Row{s.Name, s.Kind, fmt.Sprintf("%s:%d", s.File, s.Line), s.Container})
			}
			a.printer.Table(ux.Row{"NAME", "KIND", "LOCATION", "CONTAINER"}, rows)
			return nil
		},
	}
	server.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print symbols as JSON")
	return cmd
}
