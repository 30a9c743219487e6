// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lsp talks to an external language server over stdio.
//
// # Architecture
//
// The layers stack bottom-up and each only uses the one below it:
//
//	┌──────────────────────────────────────────────────────────────┐
//	│ Session    spawn, initialize/initialized, shutdown/exit      │
//	├──────────────────────────────────────────────────────────────┤
//	│ Client     typed ops, pending table, read loop, retry policy │
//	├──────────────────────────────────────────────────────────────┤
//	│ Builder    requests with fresh ids, notifications, replies   │
//	├──────────────────────────────────────────────────────────────┤
//	│ Codec      Content-Length frames <-> Message                 │
//	├──────────────────────────────────────────────────────────────┤
//	│ Transport  child process stdin/stdout, teardown              │
//	└──────────────────────────────────────────────────────────────┘
//
// # Retry Policy
//
// Servers answer with ContentModified or ServerNotInitialized while they
// are indexing. The client treats those as NotReady and re-issues the
// request with backoff until RetryPolicy is exhausted, which yields
// ErrNotReadyTimeout. A timed-out attempt is retried once and then yields
// ErrRequestTimeout. Every other error is returned as is.
//
// # Thread Safety
//
// Client and Session are safe for concurrent use. Many typed operations may
// be in flight at once; responses are matched to callers by id.
//
// # Example
//
//	sess, err := lsp.StartSession(ctx, lsp.SessionOptions{
//	    Server:   cfg,
//	    RootPath: "/path/to/workspace",
//	    Client:   lsp.DefaultClientOptions(),
//	})
//	if err != nil {
//	    return err
//	}
//	defer sess.Shutdown(context.Background())
//
//	item, err := sess.Client().ResolveSymbolAt(ctx, "/path/to/main.rs", lsp.Position{Line: 3, Character: 3})
package lsp
