// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watch

import (
	"context"
	"log/slog"

	"github.com/AleutianAI/callgraph/services/callgraph/lsp"
	"github.com/AleutianAI/callgraph/services/callgraph/runner"
)

// Generator is the part of runner.Runner the loop drives.
type Generator interface {
	Generate(ctx context.Context, req runner.Request) *runner.Result
	FilesChanged(events []lsp.FileEvent) error
}

// Report receives the result of every run, including the initial one.
type Report func(res *runner.Result, events []lsp.FileEvent)

// Loop generates once, then regenerates after every debounced batch.
//
// Description:
//
//	Each batch is forwarded to the server as
//	workspace/didChangeWatchedFiles before the run starts, so the server
//	re-indexes against the new file contents. The server may answer
//	content-modified while it catches up; the client retries those. A
//	failed run is reported and the loop keeps watching.
//
// Outputs:
//
//	error - From Watcher.Run. nil when ctx is canceled.
func Loop(ctx context.Context, w *Watcher, gen Generator, req runner.Request, report Report, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if req.Output != "" {
		w.Skip(req.Output)
		w.Skip(req.Output + ".lock")
	}

	report(gen.Generate(ctx, req), nil)

	return w.Run(ctx, func(ctx context.Context, events []lsp.FileEvent) {
		logger.Info("workspace changed", slog.Int("files", len(events)))
		if err := gen.FilesChanged(events); err != nil {
			logger.Warn("notify server of changes", slog.String("error", err.Error()))
		}
		report(gen.Generate(ctx, req), events)
	})
}
