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
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_RequestIDsMonotonic(t *testing.T) {
	b := NewBuilder()

	var last int64
	for i := 0; i < 10; i++ {
		msg, err := b.Request("workspace/symbol", WorkspaceSymbolParams{Query: "main"})
		require.NoError(t, err)
		id, ok := msg.ID.Int()
		require.True(t, ok)
		assert.Greater(t, id, last)
		last = id
	}
}

func TestBuilder_ConcurrentIDsUnique(t *testing.T) {
	b := NewBuilder()
	const n = 200

	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg, err := b.Request("m", nil)
			if err != nil {
				t.Errorf("Request() error = %v", err)
				return
			}
			id, _ := msg.ID.Int()
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestBuilder_InvalidParams(t *testing.T) {
	b := NewBuilder()

	t.Run("empty method", func(t *testing.T) {
		_, err := b.Request("", nil)
		assert.True(t, errors.Is(err, ErrInvalidParams))
	})

	t.Run("unmarshalable params", func(t *testing.T) {
		_, err := b.Request("m", map[string]interface{}{"ch": make(chan int)})
		assert.True(t, errors.Is(err, ErrInvalidParams))
	})

	t.Run("failed build consumes no id", func(t *testing.T) {
		b := NewBuilder()
		_, _ = b.Request("", nil)
		msg, err := b.Request("m", nil)
		require.NoError(t, err)
		id, _ := msg.ID.Int()
		assert.Equal(t, int64(1), id)
	})
}

func TestBuilder_NotificationHasNoID(t *testing.T) {
	msg, err := NewBuilder().Notification("exit", nil)
	require.NoError(t, err)
	assert.Nil(t, msg.ID)
	assert.Nil(t, msg.Params)
	assert.Equal(t, KindNotification, msg.Kind())
}

func TestID_JSON(t *testing.T) {
	tests := []struct {
		name string
		id   ID
		json string
	}{
		{"int", NewIntID(42), "42"},
		{"string", NewStringID("req-1"), `"req-1"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.json, string(data))

			var got ID
			require.NoError(t, json.Unmarshal(data, &got))
			assert.Equal(t, tt.id, got)
		})
	}

	var bad ID
	assert.Error(t, json.Unmarshal([]byte("1.5"), &bad))
}

func TestMessage_Err(t *testing.T) {
	msg := &Message{Error: &ResponseError{Code: CodeContentModified, Message: "content modified"}}

	err := msg.Err("callHierarchy/outgoingCalls")
	var lspErr *LSPError
	require.True(t, errors.As(err, &lspErr))
	assert.Equal(t, CodeContentModified, lspErr.Code)
	assert.Equal(t, "callHierarchy/outgoingCalls", lspErr.Method)
	assert.True(t, errors.Is(err, ErrNotReady))

	assert.NoError(t, (&Message{}).Err("m"))
}

func TestLSPError_NotReadyCodes(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{CodeContentModified, true},
		{CodeServerNotInitialized, true},
		{CodeServerNotInitLegacy, true},
		{CodeMethodNotFound, false},
		{CodeInternalError, false},
		{CodeRequestCancelled, false},
	}
	for _, tt := range tests {
		err := &LSPError{Code: tt.code}
		assert.Equal(t, tt.want, err.IsNotReady(), "code %d", tt.code)
		assert.Equal(t, tt.want, errors.Is(err, ErrNotReady), "code %d", tt.code)
	}
}
