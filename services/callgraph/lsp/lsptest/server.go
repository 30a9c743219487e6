// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lsptest provides an in-memory language server for tests.
//
// The server speaks the real frame codec over io.Pipe, so a client under
// test exercises the same bytes it would exchange with a real server.
package lsptest

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/AleutianAI/callgraph/services/callgraph/lsp"
)

// Reply is what a handler answers with.
type Reply struct {
	// Result is marshalled as the success payload.
	Result interface{}

	// Err, when set, is sent instead of Result.
	Err *lsp.ResponseError

	// Drop suppresses the reply entirely.
	Drop bool

	// Delay postpones the reply.
	Delay time.Duration
}

// Handler answers one request.
type Handler func(req *lsp.Message) Reply

// Recorded is a request or notification the server received.
type Recorded struct {
	Method string
	ID     int64
	Params json.RawMessage
}

// Server is a scripted language server.
//
// Thread Safety:
//
//	Safe for concurrent use. Handlers run on their own goroutines, so
//	replies to concurrent requests may arrive in any order.
type Server struct {
	clientR *io.PipeReader
	clientW *io.PipeWriter
	serverR *io.PipeReader
	serverW *io.PipeWriter

	writeMu sync.Mutex

	mu            sync.Mutex
	handlers      map[string]Handler
	requests      []Recorded
	notifications []Recorded
	responses     []*lsp.Message

	wg   sync.WaitGroup
	done chan struct{}
}

// NewServer starts a server with handlers for initialize and shutdown.
func NewServer() *Server {
	cr, sw := io.Pipe()
	sr, cw := io.Pipe()
	s := &Server{
		clientR:  cr,
		clientW:  cw,
		serverR:  sr,
		serverW:  sw,
		handlers: make(map[string]Handler),
		done:     make(chan struct{}),
	}
	s.Handle("initialize", func(*lsp.Message) Reply {
		return Reply{Result: map[string]interface{}{
			"capabilities": map[string]interface{}{
				"callHierarchyProvider":   true,
				"workspaceSymbolProvider": true,
			},
			"serverInfo": map[string]string{"name": "lsptest"},
		}}
	})
	s.Handle("shutdown", func(*lsp.Message) Reply { return Reply{Result: nil} })
	go s.serve()
	return s
}

// Transport returns the client side of the pipe pair.
func (s *Server) Transport() *lsp.StreamTransport {
	return lsp.NewStreamTransport(s.clientR, s.clientW)
}

// Handle registers h for method, replacing any earlier handler.
func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Handler returns the handler registered for method, or nil.
func (s *Server) Handler(method string) Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handlers[method]
}

// Notify pushes a notification to the client.
func (s *Server) Notify(method string, params interface{}) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return s.write(&lsp.Message{JSONRPC: "2.0", Method: method, Params: raw})
}

// SendRaw writes bytes to the client verbatim.
func (s *Server) SendRaw(b []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.serverW.Write(b)
	return err
}

// Reply sends a response with an arbitrary id, matching nothing in
// particular.
func (s *Server) Reply(id int64, result interface{}) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	mid := lsp.NewIntID(id)
	return s.write(&lsp.Message{JSONRPC: "2.0", ID: &mid, Result: raw})
}

// Requests returns every request received so far.
func (s *Server) Requests() []Recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Recorded(nil), s.requests...)
}

// Notifications returns every notification received so far.
func (s *Server) Notifications() []Recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Recorded(nil), s.notifications...)
}

// Responses returns every response the client sent to server requests.
func (s *Server) Responses() []*lsp.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*lsp.Message(nil), s.responses...)
}

// Count returns how many requests for method were received.
func (s *Server) Count(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.Method == method {
			n++
		}
	}
	return n
}

// Crash closes the server side as if the process died.
func (s *Server) Crash() {
	_ = s.serverW.Close()
	_ = s.serverR.Close()
}

// Close stops the server and waits for handlers to finish.
func (s *Server) Close() {
	s.Crash()
	<-s.done
	s.wg.Wait()
}

// Request sends a server-initiated request to the client.
func (s *Server) Request(id string, method string, params interface{}) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	mid := lsp.NewStringID(id)
	return s.write(&lsp.Message{JSONRPC: "2.0", ID: &mid, Method: method, Params: raw})
}

func (s *Server) serve() {
	defer close(s.done)

	var dec lsp.Decoder
	buf := make([]byte, 32*1024)
	for {
		n, err := s.serverR.Read(buf)
		if n > 0 {
			msgs, derr := dec.Feed(buf[:n])
			for _, m := range msgs {
				s.dispatch(m)
			}
			if derr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) dispatch(m *lsp.Message) {
	switch m.Kind() {
	case lsp.KindNotification:
		s.mu.Lock()
		s.notifications = append(s.notifications, Recorded{Method: m.Method, Params: m.Params})
		s.mu.Unlock()
	case lsp.KindResponse:
		s.mu.Lock()
		s.responses = append(s.responses, m)
		s.mu.Unlock()
	case lsp.KindRequest:
		id, _ := m.ID.Int()
		s.mu.Lock()
		s.requests = append(s.requests, Recorded{Method: m.Method, ID: id, Params: m.Params})
		h := s.handlers[m.Method]
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.answer(m, h)
		}()
	}
}

func (s *Server) answer(req *lsp.Message, h Handler) {
	reply := Reply{Err: &lsp.ResponseError{Code: lsp.CodeMethodNotFound, Message: "no handler for " + req.Method}}
	if h != nil {
		reply = h(req)
	}
	if reply.Drop {
		return
	}
	if reply.Delay > 0 {
		select {
		case <-time.After(reply.Delay):
		case <-s.done:
			return
		}
	}

	resp := &lsp.Message{JSONRPC: "2.0", ID: req.ID}
	if reply.Err != nil {
		resp.Error = reply.Err
	} else {
		raw, err := json.Marshal(reply.Result)
		if err != nil {
			resp.Error = &lsp.ResponseError{Code: lsp.CodeInternalError, Message: err.Error()}
		} else {
			resp.Result = raw
		}
	}
	_ = s.write(resp)
}

func (s *Server) write(m *lsp.Message) error {
	frame, err := lsp.Encode(m)
	if err != nil {
		return err
	}
	return s.SendRaw(frame)
}

// DecodeParams unmarshals a request's params into v.
func DecodeParams(req *lsp.Message, v interface{}) error {
	return json.Unmarshal(req.Params, v)
}

// Start attaches a session to the server with the given client options.
func (s *Server) Start(ctx context.Context, root string, opts lsp.ClientOptions) (*lsp.Session, error) {
	return lsp.Attach(ctx, s.Transport(), lsp.SessionOptions{
		Server:   lsp.ServerConfig{Language: "test", Command: "lsptest"},
		RootPath: root,
		Client:   opts,
	})
}
