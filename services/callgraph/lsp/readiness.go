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
	"sync"
	"time"
)

// Readiness is the server's indexing state as seen by the client.
type Readiness int

const (
	// ReadinessUnknown means the server has not reported any status.
	ReadinessUnknown Readiness = iota

	// ReadinessIndexing means the server reported work in progress.
	ReadinessIndexing

	// ReadinessReady means the server reported it is quiescent.
	ReadinessReady
)

// String returns the readiness name.
func (r Readiness) String() string {
	switch r {
	case ReadinessIndexing:
		return "indexing"
	case ReadinessReady:
		return "ready"
	default:
		return "unknown"
	}
}

// ReadinessState is a point-in-time view of readiness.
type ReadinessState struct {
	State   Readiness
	Health  string
	Message string
	Since   time.Time
}

// readinessTracker holds readiness. Only the read loop writes; any caller
// reads.
type readinessTracker struct {
	mu      sync.RWMutex
	state   ReadinessState
	changed chan struct{}

	// statusSeen pins readiness to serverStatus once it has been seen, since
	// it is more precise than progress tokens.
	statusSeen bool
	progress   map[string]string
}

func (t *readinessTracker) init() {
	t.changed = make(chan struct{})
	t.progress = make(map[string]string)
	t.state = ReadinessState{State: ReadinessUnknown, Since: time.Now()}
}

func (t *readinessTracker) get() ReadinessState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// snapshot returns the state and a channel closed on the next change.
func (t *readinessTracker) snapshot() (ReadinessState, <-chan struct{}) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state, t.changed
}

func (t *readinessTracker) setStatus(p ServerStatusParams) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.statusSeen = true
	next := ReadinessIndexing
	if p.Quiescent {
		next = ReadinessReady
	}
	t.update(next, p.Health, p.Message)
}

func (t *readinessTracker) setProgress(token, kind, title string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch kind {
	case "begin":
		t.progress[token] = title
	case "end":
		delete(t.progress, token)
	default:
		return
	}
	if t.statusSeen {
		return
	}
	if len(t.progress) > 0 {
		t.update(ReadinessIndexing, t.state.Health, title)
		return
	}
	t.update(ReadinessReady, t.state.Health, "")
}

// stop marks readiness unknowable and wakes every waiter.
func (t *readinessTracker) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.update(ReadinessUnknown, t.state.Health, "stopped")
}

// update must be called with mu held.
func (t *readinessTracker) update(next Readiness, health, message string) {
	if t.state.State == next && t.state.Health == health && t.state.Message == message {
		return
	}
	since := t.state.Since
	if t.state.State != next {
		since = time.Now()
	}
	t.state = ReadinessState{State: next, Health: health, Message: message, Since: since}
	close(t.changed)
	t.changed = make(chan struct{})
}
