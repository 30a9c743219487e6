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
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
)

// jsonrpcVersion is the only JSON-RPC version LSP speaks.
const jsonrpcVersion = "2.0"

// =============================================================================
// MESSAGE KINDS
// =============================================================================

// MessageKind classifies a decoded message.
type MessageKind int

const (
	// KindInvalid is a message that is none of the three shapes.
	KindInvalid MessageKind = iota

	// KindRequest carries an id and a method and expects a response.
	KindRequest

	// KindResponse carries an id and a result or an error.
	KindResponse

	// KindNotification carries a method and no id.
	KindNotification
)

// String returns the kind name.
func (k MessageKind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	default:
		return "invalid"
	}
}

// =============================================================================
// CORRELATION ID
// =============================================================================

// ID is a JSON-RPC correlation id. The client only ever allocates integer
// ids, but servers may use strings for their own requests.
type ID struct {
	num   int64
	str   string
	isStr bool
}

// NewIntID returns an integer id.
func NewIntID(n int64) ID { return ID{num: n} }

// NewStringID returns a string id.
func NewStringID(s string) ID { return ID{str: s, isStr: true} }

// Int returns the integer value and whether the id is an integer.
func (id ID) Int() (int64, bool) { return id.num, !id.isStr }

// String renders the id for logs.
func (id ID) String() string {
	if id.isStr {
		return strconv.Quote(id.str)
	}
	return strconv.FormatInt(id.num, 10)
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.isStr {
		return json.Marshal(id.str)
	}
	return []byte(strconv.FormatInt(id.num, 10)), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = NewStringID(s)
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("id %q is neither integer nor string", data)
	}
	*id = NewIntID(n)
	return nil
}

// =============================================================================
// MESSAGE
// =============================================================================

// Message is one JSON-RPC 2.0 message. Exactly one of the request, response
// or notification shapes is populated; Kind tells which.
//
// Params and Result are kept raw so that decode(encode(m)) reproduces m and
// typed decoding happens only where the caller knows the shape.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// ResponseError is the error member of a Response.
type ResponseError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Kind classifies the message by the fields present.
func (m *Message) Kind() MessageKind {
	switch {
	case m.ID != nil && m.Method != "":
		return KindRequest
	case m.ID != nil && (m.Result != nil || m.Error != nil):
		return KindResponse
	case m.ID == nil && m.Method != "":
		return KindNotification
	default:
		return KindInvalid
	}
}

// Err converts the error member to an *LSPError, or nil on success.
func (m *Message) Err(method string) error {
	if m.Error == nil {
		return nil
	}
	var data interface{}
	if len(m.Error.Data) > 0 {
		_ = json.Unmarshal(m.Error.Data, &data)
	}
	return &LSPError{
		Method:  method,
		Code:    m.Error.Code,
		Message: m.Error.Message,
		Data:    data,
	}
}

// =============================================================================
// BUILDER
// =============================================================================

// Builder constructs well-formed messages.
//
// Description:
//
//	Builder owns the correlation id counter. Ids start at 1 and increase
//	monotonically, so an id is never reused within the lifetime of the
//	Builder and therefore never collides with a still-pending request.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Builder struct {
	nextID atomic.Int64
}

// NewBuilder returns a Builder whose first id is 1.
func NewBuilder() *Builder {
	return &Builder{}
}

// Request builds a request with a fresh id.
//
// Outputs:
//
//	*Message - The request.
//	error - ErrInvalidParams if method is empty or params cannot be marshalled.
//	        No id is consumed in that case.
func (b *Builder) Request(method string, params interface{}) (*Message, error) {
	raw, err := marshalParams(method, params)
	if err != nil {
		return nil, err
	}
	id := NewIntID(b.nextID.Add(1))
	return &Message{JSONRPC: jsonrpcVersion, ID: &id, Method: method, Params: raw}, nil
}

// Notification builds a notification, which carries no id.
func (b *Builder) Notification(method string, params interface{}) (*Message, error) {
	raw, err := marshalParams(method, params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: jsonrpcVersion, Method: method, Params: raw}, nil
}

// Response builds a success response to a server-initiated request. A nil
// result is sent as JSON null.
func (b *Builder) Response(id ID, result interface{}) (*Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("%w: result: %v", ErrInvalidParams, err)
	}
	return &Message{JSONRPC: jsonrpcVersion, ID: &id, Result: raw}, nil
}

// ErrorResponse builds an error response to a server-initiated request.
func (b *Builder) ErrorResponse(id ID, code int, message string) *Message {
	return &Message{
		JSONRPC: jsonrpcVersion,
		ID:      &id,
		Error:   &ResponseError{Code: code, Message: message},
	}
}

func marshalParams(method string, params interface{}) (json.RawMessage, error) {
	if method == "" {
		return nil, fmt.Errorf("%w: empty method", ErrInvalidParams)
	}
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidParams, method, err)
	}
	return raw, nil
}
