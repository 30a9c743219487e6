// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingReader blocks on Read until closed.
type blockingReader struct {
	ch chan struct{}
}

func (r *blockingReader) Read(p []byte) (int, error) {
	<-r.ch
	return 0, io.EOF
}

func (r *blockingReader) Close() error {
	select {
	case <-r.ch:
	default:
		close(r.ch)
	}
	return nil
}

type nopWriteCloser struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *nopWriteCloser) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *nopWriteCloser) Close() error { return nil }

func TestStreamTransport_ConcurrentWritesDoNotInterleave(t *testing.T) {
	w := &nopWriteCloser{}
	tr := NewStreamTransport(&blockingReader{ch: make(chan struct{})}, w)

	b := NewBuilder()
	var frames [][]byte
	for i := 0; i < 50; i++ {
		msg, err := b.Request("workspace/symbol", WorkspaceSymbolParams{Query: "some_long_query_name"})
		require.NoError(t, err)
		frame, err := Encode(msg)
		require.NoError(t, err)
		frames = append(frames, frame)
	}

	var wg sync.WaitGroup
	for _, f := range frames {
		wg.Add(1)
		go func(f []byte) {
			defer wg.Done()
			assert.NoError(t, tr.Write(f))
		}(f)
	}
	wg.Wait()

	msgs, rest, err := DecodeStream(w.buf.Bytes())
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Len(t, msgs, len(frames))
}

func TestStreamTransport_EOFIsClosed(t *testing.T) {
	tr := NewStreamTransport(bytes.NewReader([]byte("abc")), &nopWriteCloser{})

	chunk, err := tr.ReadChunk()
	require.NoError(t, err)
	assert.Equal(t, "abc", string(chunk))

	_, err = tr.ReadChunk()
	assert.ErrorIs(t, err, ErrTransportClosed)
}

func TestStreamTransport_WriteAfterClose(t *testing.T) {
	r := &blockingReader{ch: make(chan struct{})}
	tr := NewStreamTransport(r, &nopWriteCloser{})

	require.NoError(t, tr.Close(context.Background()))
	assert.ErrorIs(t, tr.Write([]byte("x")), ErrTransportClosed)

	_, err := tr.ReadChunk()
	assert.ErrorIs(t, err, ErrTransportClosed)

	// Idempotent.
	assert.NoError(t, tr.Close(context.Background()))
}

func TestStreamTransport_WriteToClosedPeer(t *testing.T) {
	pr, pw := io.Pipe()
	tr := NewStreamTransport(&blockingReader{ch: make(chan struct{})}, pw)
	_ = pr.Close()

	assert.ErrorIs(t, tr.Write([]byte("x")), ErrTransportClosed)
}

func TestStartProcess_Missing(t *testing.T) {
	_, err := StartProcess(context.Background(), ServerConfig{Command: "no-such-lsp-binary-xyz"}, t.TempDir(), nil)
	assert.ErrorIs(t, err, ErrProcessSpawn)
}

func TestProcessTransport_EchoAndTeardown(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}

	tr, err := StartProcess(context.Background(), ServerConfig{Language: "echo", Command: "cat", ShutdownGrace: time.Second}, t.TempDir(), nil)
	require.NoError(t, err)

	frame, err := Encode(&Message{JSONRPC: "2.0", Method: "exit"})
	require.NoError(t, err)
	require.NoError(t, tr.Write(frame))

	var dec Decoder
	var msgs []*Message
	for len(msgs) == 0 {
		chunk, err := tr.ReadChunk()
		require.NoError(t, err)
		got, err := dec.Feed(chunk)
		require.NoError(t, err)
		msgs = append(msgs, got...)
	}
	assert.Equal(t, "exit", msgs[0].Method)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Close(ctx))

	select {
	case <-tr.Exited():
	default:
		t.Fatal("process still running after Close")
	}
	assert.ErrorIs(t, tr.Write(frame), ErrTransportClosed)
}
