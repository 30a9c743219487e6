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
	"fmt"
	"time"
)

// RetryPolicy bounds how the client re-issues requests.
//
// Description:
//
//	NotReady answers are retried after Delay, growing by Multiplier per
//	attempt up to MaxDelay, until MaxAttempts attempts have been made or the
//	next wait would pass MaxElapsed. A per-attempt timeout is a separate
//	budget: it is retried TimeoutRetries times, then ErrRequestTimeout.
//	Every other error is returned immediately.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts for NotReady answers.
	MaxAttempts int

	// MaxElapsed bounds the wall-clock time spent retrying NotReady.
	// Zero means no time bound.
	MaxElapsed time.Duration

	// Delay is the wait before the first retry.
	Delay time.Duration

	// Multiplier scales Delay per retry. 1 gives a fixed delay.
	Multiplier float64

	// MaxDelay caps the grown delay. Zero means no cap.
	MaxDelay time.Duration

	// AttemptTimeout is the deadline for a single attempt.
	AttemptTimeout time.Duration

	// TimeoutRetries is how often a timed-out attempt is re-issued.
	TimeoutRetries int
}

// DefaultRetryPolicy returns a fixed 500ms delay with at most 20 attempts
// over at most one minute, and a 30s per-attempt deadline retried once.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    20,
		MaxElapsed:     time.Minute,
		Delay:          500 * time.Millisecond,
		Multiplier:     1,
		MaxDelay:       5 * time.Second,
		AttemptTimeout: 30 * time.Second,
		TimeoutRetries: 1,
	}
}

// normalized fills zero fields with usable values.
func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.TimeoutRetries < 0 {
		p.TimeoutRetries = 0
	}
	return p
}

// backoff returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := float64(p.Delay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	return time.Duration(d)
}

// attemptFunc performs one attempt under ctx.
type attemptFunc func(ctx context.Context) error

// retrier runs attempts for one logical request.
type retrier struct {
	policy RetryPolicy
	method string
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	onWait func(reason string, attempt int, delay time.Duration, err error)
}

// run executes attempt under the policy.
//
// Outputs:
//
//	int - Attempts made.
//	error - nil, ErrNotReadyTimeout, ErrRequestTimeout, the caller's context
//	        error, or the first non-retryable error.
func (r *retrier) run(ctx context.Context, attempt attemptFunc) (int, error) {
	p := r.policy.normalized()
	start := r.now()
	notReady := 0
	timeouts := 0

	for n := 1; ; n++ {
		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		err := attempt(attemptCtx)
		cancel()

		switch {
		case err == nil:
			return n, nil

		case ctx.Err() != nil:
			return n, ctx.Err()

		case errors.Is(err, context.DeadlineExceeded):
			timeouts++
			if timeouts > p.TimeoutRetries {
				return n, fmt.Errorf("%w: %s after %s", ErrRequestTimeout, r.method, p.AttemptTimeout)
			}
			r.wait("timeout", n, 0, err)

		case errors.Is(err, ErrNotReady):
			notReady++
			if notReady >= p.MaxAttempts {
				return n, fmt.Errorf("%w: %s after %d attempts: %v", ErrNotReadyTimeout, r.method, notReady, err)
			}
			delay := p.backoff(notReady)
			if p.MaxElapsed > 0 && r.now().Sub(start)+delay > p.MaxElapsed {
				return n, fmt.Errorf("%w: %s after %s: %v", ErrNotReadyTimeout, r.method, r.now().Sub(start), err)
			}
			r.wait("not_ready", n, delay, err)
			if err := r.sleep(ctx, delay); err != nil {
				return n, err
			}

		default:
			return n, err
		}
	}
}

func (r *retrier) wait(reason string, attempt int, delay time.Duration, err error) {
	if r.onWait != nil {
		r.onWait(reason, attempt, delay, err)
	}
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
