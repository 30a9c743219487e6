// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command callgraph builds call graphs by driving a language server.
//
// Usage:
//
//	callgraph generate [workspace] [entry] [output]
//	callgraph symbols  [workspace] [query]
//	callgraph watch    [workspace] [entry] [output]
//	callgraph serve    [workspace]
//	callgraph version
//
// Exit codes: 0 success, 1 error, 2 partial graph written, 3 entry not
// found.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/callgraph/pkg/ux"
	"github.com/AleutianAI/callgraph/services/callgraph/runner"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return runner.ExitOK
	}

	var exit *exitError
	if errors.As(err, &exit) {
		if exit.err != nil && !exit.reported {
			ux.NewPrinter(os.Stderr, ux.DetectPersonality(globals.style, os.Stderr)).Error(exit.err.Error())
		}
		return exit.code
	}
	ux.NewPrinter(os.Stderr, ux.DetectPersonality(globals.style, os.Stderr)).Error(err.Error())
	return runner.ExitError
}

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error

	// reported means the command already printed err.
	reported bool
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit code %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }
