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
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Backoff(t *testing.T) {
	t.Run("fixed", func(t *testing.T) {
		p := RetryPolicy{Delay: 100 * time.Millisecond, Multiplier: 1}
		for attempt := 1; attempt <= 5; attempt++ {
			assert.Equal(t, 100*time.Millisecond, p.backoff(attempt))
		}
	})

	t.Run("exponential capped", func(t *testing.T) {
		p := RetryPolicy{Delay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}
		assert.Equal(t, 100*time.Millisecond, p.backoff(1))
		assert.Equal(t, 200*time.Millisecond, p.backoff(2))
		assert.Equal(t, 400*time.Millisecond, p.backoff(3))
		assert.Equal(t, 800*time.Millisecond, p.backoff(4))
		assert.Equal(t, time.Second, p.backoff(5))
		assert.Equal(t, time.Second, p.backoff(50))
	})
}

func TestRetryPolicy_Normalized(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 0, Multiplier: 0, TimeoutRetries: -3}.normalized()
	assert.Equal(t, 1, p.MaxAttempts)
	assert.Equal(t, 1.0, p.Multiplier)
	assert.Equal(t, 0, p.TimeoutRetries)
}

// fakeClock advances only when the retrier sleeps.
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func newTestRetrier(p RetryPolicy, clock *fakeClock) *retrier {
	return &retrier{policy: p, method: "test", now: clock.Now, sleep: clock.Sleep}
}

func TestRetrier_MaxElapsedStopsBeforeOvershoot(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	r := newTestRetrier(RetryPolicy{
		MaxAttempts: 100,
		MaxElapsed:  time.Second,
		Delay:       300 * time.Millisecond,
		Multiplier:  1,
	}, clock)

	attempts, err := r.run(context.Background(), func(context.Context) error { return ErrNotReady })
	assert.ErrorIs(t, err, ErrNotReadyTimeout)
	// Waits at 0.3, 0.6, 0.9s; a fourth would end at 1.2s.
	assert.Equal(t, 4, attempts)
	assert.Len(t, clock.sleeps, 3)
}

func TestRetrier_TimeoutBudgetIndependentOfNotReady(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	r := newTestRetrier(RetryPolicy{MaxAttempts: 10, Delay: time.Millisecond, TimeoutRetries: 1}, clock)

	results := []error{ErrNotReady, context.DeadlineExceeded, ErrNotReady, nil}
	i := 0
	attempts, err := r.run(context.Background(), func(context.Context) error {
		err := results[i]
		i++
		return err
	})
	assert.NoError(t, err)
	assert.Equal(t, 4, attempts)
}

func TestRetrier_CallerCancelNotRetried(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	r := newTestRetrier(RetryPolicy{MaxAttempts: 10, Delay: time.Millisecond}, clock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attempts, err := r.run(ctx, func(context.Context) error { return context.Canceled })
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, attempts)
}
