// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyzer

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
	tracer = otel.Tracer("callgraph.analyzer")
	meter  = otel.Meter("callgraph.analyzer")
)

var (
	analysisLatency metric.Float64Histogram
	analysisTotal   metric.Int64Counter
	graphNodes      metric.Int64Histogram
	graphEdges      metric.Int64Histogram
	filteredTotal   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		analysisLatency, err = meter.Float64Histogram(
			"callgraph_analysis_duration_seconds",
			metric.WithDescription("Duration of call graph analyses"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		analysisTotal, err = meter.Int64Counter(
			"callgraph_analysis_total",
			metric.WithDescription("Total number of call graph analyses by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		graphNodes, err = meter.Int64Histogram(
			"callgraph_graph_nodes",
			metric.WithDescription("Nodes per produced call graph"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		graphEdges, err = meter.Int64Histogram(
			"callgraph_graph_edges",
			metric.WithDescription("Edges per produced call graph"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		filteredTotal, err = meter.Int64Counter(
			"callgraph_filtered_symbols_total",
			metric.WithDescription("Discovered symbols dropped by filters, by reason"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startAnalysisSpan(ctx context.Context, runID, entry, direction string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Analyzer.Analyze",
		trace.WithAttributes(
			attribute.String("callgraph.run_id", runID),
			attribute.String("callgraph.entry", entry),
			attribute.String("callgraph.direction", direction),
		),
	)
}

func endAnalysisSpan(span trace.Span, nodes, edges int, err error) {
	span.SetAttributes(
		attribute.Int("callgraph.nodes", nodes),
		attribute.Int("callgraph.edges", edges),
		attribute.Bool("callgraph.success", err == nil),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func recordAnalysis(ctx context.Context, direction string, duration time.Duration, nodes, edges int, outcome Kind, ok bool) {
	if err := initMetrics(); err != nil {
		return
	}
	result := "ok"
	if !ok {
		result = outcome.String()
	}
	attrs := metric.WithAttributes(
		attribute.String("direction", direction),
		attribute.String("outcome", result),
	)
	analysisLatency.Record(ctx, duration.Seconds(), attrs)
	analysisTotal.Add(ctx, 1, attrs)
	if ok {
		graphNodes.Record(ctx, int64(nodes))
		graphEdges.Record(ctx, int64(edges))
	}
}

func recordFiltered(ctx context.Context, reason Reason) {
	if err := initMetrics(); err != nil {
		return
	}
	filteredTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", string(reason)),
	))
}
