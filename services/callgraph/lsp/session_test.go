// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/callgraph/services/callgraph/lsp"
	"github.com/AleutianAI/callgraph/services/callgraph/lsp/lsptest"
)

func TestSession_Handshake(t *testing.T) {
	srv := lsptest.NewServer()
	defer srv.Close()
	root := t.TempDir()

	sess, err := srv.Start(context.Background(), root, lsp.ClientOptions{Policy: fastPolicy()})
	require.NoError(t, err)
	assert.Equal(t, lsp.SessionStateReady, sess.State())
	assert.Equal(t, "lsptest", sess.ServerName())
	assert.True(t, sess.Capabilities().HasCallHierarchy())

	reqs := srv.Requests()
	require.NotEmpty(t, reqs)
	assert.Equal(t, "initialize", reqs[0].Method)

	var params lsp.InitializeParams
	require.NoError(t, json.Unmarshal(reqs[0].Params, &params))
	assert.Equal(t, lsp.PathToURI(root), params.RootURI)
	require.Len(t, params.WorkspaceFolders, 1)
	assert.Equal(t, filepath.Base(root), params.WorkspaceFolders[0].Name)
	assert.NotNil(t, params.Capabilities.TextDocument.CallHierarchy)
	assert.Equal(t, true, params.Capabilities.Experimental["serverStatusNotification"])

	require.Eventually(t, func() bool {
		for _, n := range srv.Notifications() {
			if n.Method == "initialized" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, sess.Shutdown(context.Background()))
	assert.Equal(t, lsp.SessionStateStopped, sess.State())
	assert.Equal(t, 1, srv.Count("shutdown"))

	// Second shutdown is a no-op.
	require.NoError(t, sess.Shutdown(context.Background()))
}

func TestSession_RequiresCallHierarchy(t *testing.T) {
	srv := lsptest.NewServer()
	defer srv.Close()
	srv.Handle("initialize", func(*lsp.Message) lsptest.Reply {
		return lsptest.Reply{Result: map[string]interface{}{"capabilities": map[string]interface{}{}}}
	})

	_, err := srv.Start(context.Background(), t.TempDir(), lsp.ClientOptions{Policy: fastPolicy()})
	assert.ErrorIs(t, err, lsp.ErrInitializeFailed)
}

func TestSession_InitializeRejected(t *testing.T) {
	srv := lsptest.NewServer()
	defer srv.Close()
	srv.Handle("initialize", func(*lsp.Message) lsptest.Reply {
		return lsptest.Reply{Err: &lsp.ResponseError{Code: lsp.CodeInternalError, Message: "no workspace"}}
	})

	_, err := srv.Start(context.Background(), t.TempDir(), lsp.ClientOptions{Policy: fastPolicy()})
	assert.ErrorIs(t, err, lsp.ErrInitializeFailed)
}

func TestStartSession_MissingExecutable(t *testing.T) {
	_, err := lsp.StartSession(context.Background(), lsp.SessionOptions{
		Server:   lsp.ServerConfig{Language: "rust", Command: "definitely-not-a-language-server-binary"},
		RootPath: t.TempDir(),
	})
	assert.ErrorIs(t, err, lsp.ErrProcessSpawn)
}
