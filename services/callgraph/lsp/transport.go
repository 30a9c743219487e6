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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// readChunkSize is the size of a single read from the server's stdout.
const readChunkSize = 32 * 1024

// DefaultShutdownGrace is how long Close waits for the process to exit after
// signalling it before killing it.
const DefaultShutdownGrace = 5 * time.Second

// Transport moves raw frames to and from the language server. It has no
// protocol knowledge.
type Transport interface {
	// Write writes one complete frame. Concurrent writers never interleave.
	Write(frame []byte) error

	// ReadChunk returns the next available bytes. The slice is only valid
	// until the next call. Returns ErrTransportClosed at end of stream.
	ReadChunk() ([]byte, error)

	// Close tears the transport down. Safe to call more than once.
	Close(ctx context.Context) error
}

// =============================================================================
// STREAM TRANSPORT
// =============================================================================

// StreamTransport is a Transport over an arbitrary reader and writer.
//
// Thread Safety:
//
//	Write is safe for concurrent use. ReadChunk must only be called from one
//	goroutine at a time.
type StreamTransport struct {
	r io.Reader
	w io.WriteCloser

	writeMu sync.Mutex
	buf     []byte
	closed  atomic.Bool
	once    sync.Once
}

// NewStreamTransport creates a transport reading from r and writing to w.
func NewStreamTransport(r io.Reader, w io.WriteCloser) *StreamTransport {
	return &StreamTransport{
		r:   r,
		w:   w,
		buf: make([]byte, readChunkSize),
	}
}

// Write implements Transport.
func (t *StreamTransport) Write(frame []byte) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.w.Write(frame); err != nil {
		return fmt.Errorf("%w: write: %v", ErrTransportClosed, err)
	}
	return nil
}

// ReadChunk implements Transport.
func (t *StreamTransport) ReadChunk() ([]byte, error) {
	for {
		n, err := t.r.Read(t.buf)
		if n > 0 {
			return t.buf[:n], nil
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) || t.closed.Load() {
			return nil, ErrTransportClosed
		}
		return nil, fmt.Errorf("%w: read: %v", ErrTransportClosed, err)
	}
}

// Close implements Transport. It closes the write side and, when the reader
// is closable, the read side.
func (t *StreamTransport) Close(_ context.Context) error {
	var err error
	t.once.Do(func() {
		t.closed.Store(true)
		err = t.w.Close()
		if rc, ok := t.r.(io.Closer); ok {
			if cerr := rc.Close(); err == nil {
				err = cerr
			}
		}
	})
	return err
}

// =============================================================================
// PROCESS TRANSPORT
// =============================================================================

// ProcessTransport is a Transport over a child process's stdin and stdout.
//
// Description:
//
//	The child's stdout is an os.Pipe owned by this transport rather than
//	cmd.StdoutPipe, so cmd.Wait never closes it underneath the read loop and
//	every byte the server wrote before exiting is still readable.
type ProcessTransport struct {
	*StreamTransport

	cmd    *exec.Cmd
	grace  time.Duration
	exited chan struct{}

	waitErr error
	logger  *slog.Logger
}

// StartProcess launches the language server described by cfg in rootPath.
//
// Outputs:
//
//	*ProcessTransport - Live transport. Close must be called.
//	error - ErrProcessSpawn if the executable is missing, not executable,
//	        or fails to start.
func StartProcess(ctx context.Context, cfg ServerConfig, rootPath string, logger *slog.Logger) (*ProcessTransport, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	path, err := exec.LookPath(cfg.Command)
	if err != nil {
		logger.Warn("language server not installed",
			slog.String("language", cfg.Language),
			slog.String("command", cfg.Command),
		)
		return nil, fmt.Errorf("%w: %s: %v", ErrProcessSpawn, cfg.Command, err)
	}

	// The process outlives ctx; teardown goes through Close.
	cmd := exec.Command(path, cfg.Args...)
	cmd.Dir = rootPath
	cmd.Env = append(os.Environ(), cfg.Env...)
	cmd.Stderr = &stderrLogger{logger: logger.With(slog.String("stream", "stderr"))}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", ErrProcessSpawn, err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrProcessSpawn, err)
	}
	cmd.Stdout = stdoutW

	if err := cmd.Start(); err != nil {
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrProcessSpawn, path, err)
	}
	// The child holds its own copy of the write end.
	_ = stdoutW.Close()

	recordServerSpawn(ctx, cfg.Language)
	logger.Info("language server started",
		slog.String("language", cfg.Language),
		slog.String("command", path),
		slog.Int("pid", cmd.Process.Pid),
		slog.String("root_path", rootPath),
	)

	grace := cfg.ShutdownGrace
	if grace <= 0 {
		grace = DefaultShutdownGrace
	}

	t := &ProcessTransport{
		StreamTransport: NewStreamTransport(stdoutR, stdin),
		cmd:             cmd,
		grace:           grace,
		exited:          make(chan struct{}),
		logger:          logger,
	}
	go func() {
		t.waitErr = cmd.Wait()
		close(t.exited)
	}()
	return t, nil
}

// Pid returns the child process id.
func (t *ProcessTransport) Pid() int {
	return t.cmd.Process.Pid
}

// Exited is closed once the child process has exited.
func (t *ProcessTransport) Exited() <-chan struct{} {
	return t.exited
}

// Close closes stdin, signals the process with SIGTERM, waits up to the
// shutdown grace period (or until ctx is done) and then kills it.
func (t *ProcessTransport) Close(ctx context.Context) error {
	// Closing stdin first lets servers that exit on EOF do so cleanly.
	_ = t.StreamTransport.w.Close()
	t.StreamTransport.closed.Store(true)

	select {
	case <-t.exited:
	default:
		_ = t.cmd.Process.Signal(syscall.SIGTERM)

		timer := time.NewTimer(t.grace)
		defer timer.Stop()

		select {
		case <-t.exited:
		case <-timer.C:
			t.logger.Warn("language server did not exit, killing",
				slog.Int("pid", t.cmd.Process.Pid),
				slog.Duration("grace", t.grace),
			)
			_ = t.cmd.Process.Kill()
			<-t.exited
		case <-ctx.Done():
			_ = t.cmd.Process.Kill()
			<-t.exited
		}
	}

	// Unblocks the read loop if it is still waiting.
	_ = t.StreamTransport.Close(ctx)
	return nil
}

// ExitErr returns the process exit error once Exited is closed.
func (t *ProcessTransport) ExitErr() error {
	select {
	case <-t.exited:
		return t.waitErr
	default:
		return nil
	}
}

// stderrLogger forwards the server's stderr to the debug log, one record per
// line.
type stderrLogger struct {
	logger *slog.Logger
	mu     sync.Mutex
	buf    []byte
}

func (s *stderrLogger) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf = append(s.buf, p...)
	for {
		i := bytes.IndexByte(s.buf, '\n')
		if i < 0 {
			break
		}
		if line := bytes.TrimSpace(s.buf[:i]); len(line) > 0 {
			s.logger.Debug("language server output", slog.String("line", string(line)))
		}
		s.buf = s.buf[i+1:]
	}
	return len(p), nil
}
