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
	"strings"
)

// Frame limits. A header block or body larger than these can never be
// satisfied by a well-behaved server, so the stream is declared corrupt.
const (
	// MaxHeaderBytes bounds the header block including its terminator.
	MaxHeaderBytes = 8 * 1024

	// MaxFrameBytes bounds a single message body.
	MaxFrameBytes = 64 * 1024 * 1024
)

var headerTerminator = []byte("\r\n\r\n")

// Encode serializes a message to a Content-Length framed byte slice.
//
// Description:
//
//	The body is the compact JSON encoding of msg. Struct fields encode in
//	declaration order and raw payloads are compacted, so the same message
//	always yields identical bytes.
//
// Outputs:
//
//	[]byte - Header plus body.
//	error - ErrInvalidParams if the message cannot be marshalled.
func Encode(msg *Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %v", ErrInvalidParams, err)
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + 32)
	buf.WriteString("Content-Length: ")
	buf.WriteString(strconv.Itoa(len(body)))
	buf.Write(headerTerminator)
	buf.Write(body)
	return buf.Bytes(), nil
}

// DecodeStream parses every complete frame at the front of buf.
//
// Description:
//
//	buf may hold zero, one or many complete frames followed by a partial
//	frame. Complete frames are decoded in arrival order; the partial tail is
//	returned untouched so the caller can prepend it to the next read.
//
// Outputs:
//
//	[]*Message - Decoded messages, in stream order.
//	[]byte - Unconsumed bytes. Aliases buf.
//	error - ErrFrameCorrupt if a frame can never be decoded. Messages
//	        decoded before the corrupt frame are still returned.
func DecodeStream(buf []byte) ([]*Message, []byte, error) {
	var msgs []*Message
	for {
		msg, n, err := decodeFrame(buf)
		if err != nil {
			return msgs, buf, err
		}
		if n == 0 {
			return msgs, buf, nil
		}
		msgs = append(msgs, msg)
		buf = buf[n:]
	}
}

// decodeFrame decodes the first frame of buf. n == 0 with a nil error means
// buf does not yet hold a complete frame.
func decodeFrame(buf []byte) (msg *Message, n int, err error) {
	end := bytes.Index(buf, headerTerminator)
	if end < 0 {
		if len(buf) > MaxHeaderBytes {
			return nil, 0, fmt.Errorf("%w: header exceeds %d bytes", ErrFrameCorrupt, MaxHeaderBytes)
		}
		return nil, 0, nil
	}
	if end+len(headerTerminator) > MaxHeaderBytes {
		return nil, 0, fmt.Errorf("%w: header exceeds %d bytes", ErrFrameCorrupt, MaxHeaderBytes)
	}

	length, err := parseContentLength(buf[:end])
	if err != nil {
		return nil, 0, err
	}

	start := end + len(headerTerminator)
	if len(buf)-start < length {
		return nil, 0, nil
	}

	body := buf[start : start+length]
	msg = &Message{}
	if err := json.Unmarshal(body, msg); err != nil {
		return nil, 0, fmt.Errorf("%w: body: %v", ErrFrameCorrupt, err)
	}
	if msg.JSONRPC != jsonrpcVersion {
		return nil, 0, fmt.Errorf("%w: jsonrpc version %q", ErrFrameCorrupt, msg.JSONRPC)
	}
	return msg, start + length, nil
}

// parseContentLength extracts Content-Length from a header block. Header
// names are case-insensitive; unknown headers are ignored.
func parseContentLength(header []byte) (int, error) {
	length := -1
	for _, line := range strings.Split(string(header), "\r\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return 0, fmt.Errorf("%w: malformed header line %q", ErrFrameCorrupt, line)
		}
		if !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, fmt.Errorf("%w: invalid content length %q", ErrFrameCorrupt, value)
		}
		if n <= 0 || n > MaxFrameBytes {
			return 0, fmt.Errorf("%w: content length %d out of range", ErrFrameCorrupt, n)
		}
		length = n
	}
	if length < 0 {
		return 0, fmt.Errorf("%w: missing Content-Length header", ErrFrameCorrupt)
	}
	return length, nil
}

// Decoder accumulates chunks from a byte stream and yields complete messages.
//
// Thread Safety:
//
//	Not safe for concurrent use. The client read loop is its only user.
type Decoder struct {
	buf []byte
	err error
}

// Feed appends chunk and returns every message completed by it.
//
// Once a corrupt frame has been seen, every later call returns the same
// error; the stream cannot resynchronise.
func (d *Decoder) Feed(chunk []byte) ([]*Message, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.buf = append(d.buf, chunk...)
	msgs, rest, err := DecodeStream(d.buf)
	if err != nil {
		d.err = err
		d.buf = nil
		return msgs, err
	}
	// Copy the tail down so the backing array does not grow without bound.
	d.buf = append(d.buf[:0], rest...)
	return msgs, nil
}

// Buffered returns the number of bytes held back as a partial frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}
