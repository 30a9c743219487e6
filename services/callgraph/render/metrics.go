// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package render

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

var (
	tracer = otel.Tracer("callgraph.render")
	meter  = otel.Meter("callgraph.render")
)

var (
	renderLatency metric.Float64Histogram
	renderBytes   metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		renderLatency, err = meter.Float64Histogram(
			"callgraph_render_duration_seconds",
			metric.WithDescription("Duration of graph rendering by format"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		renderBytes, err = meter.Int64Histogram(
			"callgraph_render_bytes",
			metric.WithDescription("Size of rendered graphs by format"),
			metric.WithUnit("By"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startRenderSpan(ctx context.Context, format string, nodes, edges int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "render.Bytes",
		trace.WithAttributes(
			attribute.String("render.format", format),
			attribute.Int("callgraph.nodes", nodes),
			attribute.Int("callgraph.edges", edges),
		),
	)
}

func endRenderSpan(span trace.Span, size int, err error) {
	span.SetAttributes(attribute.Int("render.bytes", size))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func recordRender(ctx context.Context, format string, duration time.Duration, size int, ok bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("format", format),
		attribute.Bool("success", ok),
	)
	renderLatency.Record(ctx, duration.Seconds(), attrs)
	if ok {
		renderBytes.Record(ctx, int64(size), attrs)
	}
}
