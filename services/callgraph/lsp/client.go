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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ClientOptions configures a Client.
type ClientOptions struct {
	// Policy bounds retries and per-attempt deadlines.
	Policy RetryPolicy

	// RequestsPerSecond paces outgoing requests. Zero disables pacing.
	RequestsPerSecond float64

	// Burst is the limiter burst when pacing is enabled. Defaults to 1.
	Burst int

	// Language labels spans and metrics.
	Language string

	// Logger receives client logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultClientOptions returns the default retry policy and no pacing.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{Policy: DefaultRetryPolicy()}
}

// Client multiplexes typed requests over one Transport.
//
// Description:
//
//	Each request gets a fresh id from the Builder and a completion slot in
//	the pending table. A single read loop, started by Start, is the only
//	reader of the Transport; it fulfils slots by id, tracks server
//	readiness from notifications, and answers server-initiated requests.
//	Responses are correlated by id only, never by order.
//
// Thread Safety:
//
//	Safe for concurrent use once Start has returned.
type Client struct {
	transport Transport
	builder   *Builder
	decoder   Decoder
	opts      ClientOptions
	limiter   *rate.Limiter
	logger    *slog.Logger

	mu       sync.Mutex
	pending  map[int64]chan *Message
	started  bool
	closeErr error
	done     chan struct{}

	readiness readinessTracker

	// Test hooks.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client over t. Call Start before issuing requests.
func NewClient(t Transport, opts ClientOptions) *Client {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Client{
		transport: t,
		builder:   NewBuilder(),
		opts:      opts,
		logger:    opts.Logger,
		pending:   make(map[int64]chan *Message),
		done:      make(chan struct{}),
		now:       time.Now,
		sleep:     sleepCtx,
	}
	c.readiness.init()
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return c
}

// Start launches the read loop. The loop stops when the transport closes or
// the stream becomes corrupt; ctx only carries values for logging.
func (c *Client) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrClientStarted
	}
	c.started = true
	go c.readLoop(ctx)
	return nil
}

// Done is closed when the read loop has stopped.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that stopped the read loop, or nil while running.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// Readiness returns the latest readiness reported by the server.
func (c *Client) Readiness() ReadinessState {
	return c.readiness.get()
}

// WaitReady blocks until the server reports itself ready, readiness becomes
// unknowable, or ctx is done. Servers that never report status return
// immediately.
func (c *Client) WaitReady(ctx context.Context) error {
	for {
		state, changed := c.readiness.snapshot()
		if state.State != ReadinessIndexing {
			return nil
		}
		select {
		case <-changed:
		case <-c.done:
			return c.Err()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// PendingCount returns the number of outstanding requests.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close closes the transport and waits for the read loop to stop.
func (c *Client) Close(ctx context.Context) error {
	err := c.transport.Close(ctx)

	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return err
	}

	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// =============================================================================
// REQUESTS
// =============================================================================

// callOptions tweaks how one call classifies answers.
type callOptions struct {
	// settled reports whether a result is final. Until the server reports
	// it is ready, an unsettled result counts as NotReady. If the retry
	// budget runs out while readiness was never reported, the last
	// unsettled result is returned as final.
	settled func(raw json.RawMessage) bool
}

// Call sends a request and decodes the result into result (may be nil).
//
// Description:
//
//	Applies the retry policy: NotReady answers are retried with backoff
//	until ErrNotReadyTimeout, a timed-out attempt is retried once before
//	ErrRequestTimeout, and every other error returns immediately.
//
// Inputs:
//
//	ctx - Caller context. Cancellation releases the pending slot at once.
//	method - LSP method name.
//	params - Request params, marshalled to JSON.
//	result - Pointer to decode the result into, or nil.
//
// Outputs:
//
//	error - Nil, *LSPError, or one of the package sentinels.
func (c *Client) Call(ctx context.Context, method string, params, result interface{}) error {
	return c.call(ctx, method, params, result, callOptions{})
}

func (c *Client) call(ctx context.Context, method string, params, result interface{}, co callOptions) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}

	start := c.now()
	r := &retrier{
		policy: c.opts.Policy,
		method: method,
		now:    c.now,
		sleep:  c.sleep,
		onWait: func(reason string, attempt int, delay time.Duration, err error) {
			recordRetry(ctx, method, reason)
			c.logger.Debug("retrying lsp request",
				slog.String("method", method),
				slog.String("reason", reason),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)
		},
	}

	var (
		raw          json.RawMessage
		unsettled    json.RawMessage
		hasUnsettled bool
	)
	attempts, err := r.run(ctx, func(actx context.Context) error {
		hasUnsettled = false
		if err := c.pace(ctx); err != nil {
			return err
		}
		resp, err := c.roundTrip(actx, method, params)
		if err != nil {
			return err
		}
		if err := resp.Err(method); err != nil {
			return err
		}
		if co.settled != nil && !co.settled(resp.Result) {
			if state := c.readiness.get().State; state != ReadinessReady {
				unsettled, hasUnsettled = resp.Result, true
				return fmt.Errorf("%w: unsettled %s result while readiness is %s", ErrNotReady, method, state)
			}
		}
		raw = resp.Result
		return nil
	})
	if errors.Is(err, ErrNotReadyTimeout) && hasUnsettled && c.readiness.get().State == ReadinessUnknown {
		c.logger.Debug("language server never reported readiness, accepting result",
			slog.String("method", method),
			slog.Int("attempts", attempts),
		)
		raw, err = unsettled, nil
	}

	recordRequest(ctx, method, c.opts.Language, c.now().Sub(start), attempts, err == nil)
	if err != nil {
		return err
	}
	if result == nil || isNullResult(raw) {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidResponse, method, err)
	}
	return nil
}

// Notify sends a notification. No response is expected.
func (c *Client) Notify(method string, params interface{}) error {
	msg, err := c.builder.Notification(method, params)
	if err != nil {
		return err
	}
	return c.send(msg)
}

// roundTrip performs one attempt: register, write, wait.
func (c *Client) roundTrip(ctx context.Context, method string, params interface{}) (*Message, error) {
	req, err := c.builder.Request(method, params)
	if err != nil {
		return nil, err
	}
	frame, err := Encode(req)
	if err != nil {
		return nil, err
	}
	id, _ := req.ID.Int()

	ch := make(chan *Message, 1)
	c.mu.Lock()
	if c.closeErr != nil {
		err := c.closeErr
		c.mu.Unlock()
		return nil, err
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer c.release(id)

	if err := c.transport.Write(frame); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		c.logger.Debug("lsp request abandoned",
			slog.String("method", method),
			slog.Int64("id", id),
			slog.String("reason", ctx.Err().Error()),
		)
		return nil, ctx.Err()
	case <-c.done:
		// The response may have landed just before the loop stopped.
		select {
		case resp := <-ch:
			return resp, nil
		default:
		}
		return nil, c.Err()
	}
}

// release removes a pending slot. A late response for the id is then
// discarded by the read loop.
func (c *Client) release(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// send encodes and writes a message that expects no reply.
func (c *Client) send(msg *Message) error {
	frame, err := Encode(msg)
	if err != nil {
		return err
	}
	return c.transport.Write(frame)
}

func (c *Client) pace(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// =============================================================================
// READ LOOP
// =============================================================================

// readLoop is the only reader of the transport.
func (c *Client) readLoop(ctx context.Context) {
	var stopErr error
	defer func() {
		c.mu.Lock()
		c.closeErr = stopErr
		c.mu.Unlock()
		c.readiness.stop()
		close(c.done)
	}()

	for {
		chunk, err := c.transport.ReadChunk()
		if err != nil {
			stopErr = err
			c.logger.Debug("lsp read loop stopped", slog.String("error", err.Error()))
			return
		}

		msgs, err := c.decoder.Feed(chunk)
		for _, msg := range msgs {
			c.dispatch(ctx, msg)
		}
		if err != nil {
			stopErr = err
			c.logger.Error("lsp stream corrupt", slog.String("error", err.Error()))
			// A desynchronised stream cannot carry further messages.
			_ = c.transport.Close(context.Background())
			return
		}
	}
}

// dispatch routes one decoded message.
func (c *Client) dispatch(ctx context.Context, msg *Message) {
	switch msg.Kind() {
	case KindResponse:
		c.fulfil(ctx, msg)
	case KindNotification:
		c.handleNotification(msg)
	case KindRequest:
		// The reply is written off the read loop: a server blocked writing
		// to us may not be reading its stdin.
		go c.handleServerRequest(msg)
	default:
		c.logger.Warn("ignoring malformed lsp message")
	}
}

func (c *Client) fulfil(ctx context.Context, msg *Message) {
	id, ok := msg.ID.Int()
	var ch chan *Message
	if ok {
		c.mu.Lock()
		ch, ok = c.pending[id]
		if ok {
			delete(c.pending, id)
		}
		c.mu.Unlock()
	}
	if !ok {
		recordUnexpectedResponse(ctx)
		c.logger.Warn("discarding lsp response",
			slog.String("id", msg.ID.String()),
			slog.String("error", ErrUnexpectedResponse.Error()),
		)
		return
	}
	ch <- msg
}

func (c *Client) handleNotification(msg *Message) {
	switch msg.Method {
	case "experimental/serverStatus":
		var p ServerStatusParams
		if err := json.Unmarshal(msg.Params, &p); err == nil {
			c.readiness.setStatus(p)
			c.logger.Debug("language server status",
				slog.String("health", p.Health),
				slog.Bool("quiescent", p.Quiescent),
			)
		}
	case "$/progress":
		var p ProgressParams
		if err := json.Unmarshal(msg.Params, &p); err == nil {
			c.readiness.setProgress(string(p.Token), p.Value.Kind, p.Value.Title)
		}
	case "window/logMessage", "window/showMessage":
		var p LogMessageParams
		if err := json.Unmarshal(msg.Params, &p); err == nil {
			c.logger.Debug("language server message",
				slog.Int("type", p.Type),
				slog.String("message", p.Message),
			)
		}
	}
}

// handleServerRequest answers requests the server sends to the client.
func (c *Client) handleServerRequest(msg *Message) {
	var reply *Message
	var err error

	switch msg.Method {
	case "window/workDoneProgress/create", "client/registerCapability", "client/unregisterCapability":
		reply, err = c.builder.Response(*msg.ID, nil)
	case "workspace/configuration":
		var p ConfigurationParams
		_ = json.Unmarshal(msg.Params, &p)
		reply, err = c.builder.Response(*msg.ID, make([]interface{}, len(p.Items)))
	default:
		reply = c.builder.ErrorResponse(*msg.ID, CodeMethodNotFound, "method not supported: "+msg.Method)
	}
	if err == nil {
		err = c.send(reply)
	}
	if err != nil && !errors.Is(err, ErrTransportClosed) {
		c.logger.Warn("failed to answer server request",
			slog.String("method", msg.Method),
			slog.String("error", err.Error()),
		)
	}
}

func isNullResult(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func isEmptyResult(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return isNullResult(trimmed) || bytes.Equal(trimmed, []byte("[]"))
}
