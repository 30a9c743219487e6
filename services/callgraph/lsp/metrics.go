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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for LSP operations.
var (
	tracer = otel.Tracer("callgraph.lsp")
	meter  = otel.Meter("callgraph.lsp")
)

// Metrics for LSP operations.
var (
	requestLatency      metric.Float64Histogram
	requestTotal        metric.Int64Counter
	requestAttempts     metric.Int64Histogram
	retryTotal          metric.Int64Counter
	unexpectedResponses metric.Int64Counter
	serverSpawns        metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		requestLatency, err = meter.Float64Histogram(
			"lsp_request_duration_seconds",
			metric.WithDescription("Duration of LSP requests including retries"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		requestTotal, err = meter.Int64Counter(
			"lsp_request_total",
			metric.WithDescription("Total number of LSP requests"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		requestAttempts, err = meter.Int64Histogram(
			"lsp_request_attempts",
			metric.WithDescription("Attempts per LSP request"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		retryTotal, err = meter.Int64Counter(
			"lsp_retry_total",
			metric.WithDescription("Total number of LSP request retries by reason"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		unexpectedResponses, err = meter.Int64Counter(
			"lsp_unexpected_response_total",
			metric.WithDescription("Responses whose id matched no pending request"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		serverSpawns, err = meter.Int64Counter(
			"lsp_server_spawns_total",
			metric.WithDescription("Total number of LSP server spawns"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startOperationSpan creates a span for a typed client operation.
func startOperationSpan(ctx context.Context, operation, filePath string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Client."+operation,
		trace.WithAttributes(
			attribute.String("lsp.operation", operation),
			attribute.String("lsp.file_path", filePath),
		),
	)
}

// endOperationSpan records the outcome on an operation span and ends it.
func endOperationSpan(span trace.Span, resultCnt int, err error) {
	span.SetAttributes(
		attribute.Int("lsp.result_count", resultCnt),
		attribute.Bool("lsp.success", err == nil),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func recordRequest(ctx context.Context, method, language string, duration time.Duration, attempts int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("language", language),
		attribute.Bool("success", success),
	)
	requestLatency.Record(ctx, duration.Seconds(), attrs)
	requestTotal.Add(ctx, 1, attrs)
	requestAttempts.Record(ctx, int64(attempts), attrs)
}

func recordRetry(ctx context.Context, method, reason string) {
	if err := initMetrics(); err != nil {
		return
	}
	retryTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("reason", reason),
	))
}

func recordUnexpectedResponse(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	unexpectedResponses.Add(ctx, 1)
}

func recordServerSpawn(ctx context.Context, language string) {
	if err := initMetrics(); err != nil {
		return
	}
	serverSpawns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("language", language),
	))
}
