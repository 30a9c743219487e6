// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

// restoreGlobals puts the global providers back after a test installs its
// own.
func restoreGlobals(t *testing.T) {
	tp := otel.GetTracerProvider()
	mp := otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
	})
}

func TestInit_NilContext(t *testing.T) {
	//nolint:staticcheck // nil context is the point of the test
	_, err := Init(nil, Config{})
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestInit_NoneInstallsNothing(t *testing.T) {
	restoreGlobals(t)
	before := otel.GetTracerProvider()

	p, err := Init(context.Background(), Config{TraceExporter: "none"})
	require.NoError(t, err)
	assert.Nil(t, p.MetricsHandler())
	assert.Equal(t, before, otel.GetTracerProvider())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_UnknownExporter(t *testing.T) {
	restoreGlobals(t)

	_, err := Init(context.Background(), Config{TraceExporter: "zipkin"})
	assert.ErrorIs(t, err, ErrUnknownExporter)

	_, err = Init(context.Background(), Config{MetricExporter: "statsd"})
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInit_StdoutTracesToWriter(t *testing.T) {
	restoreGlobals(t)
	var buf bytes.Buffer

	p, err := Init(context.Background(), Config{TraceExporter: "stdout", Writer: &buf})
	require.NoError(t, err)

	_, span := otel.Tracer("callgraph.test").Start(context.Background(), "analyze")
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), `"Name":"analyze"`)
}

func TestInit_PrometheusServesMetrics(t *testing.T) {
	restoreGlobals(t)

	p, err := Init(context.Background(), Config{MetricExporter: "prometheus"})
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	counter, err := otel.Meter("callgraph.test").Int64Counter("callgraph_test_runs_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	handler := p.MetricsHandler()
	require.NotNil(t, handler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "callgraph_test_runs_total")

	// A second Init uses a fresh registry.
	again, err := Init(context.Background(), Config{MetricExporter: "prometheus"})
	require.NoError(t, err)
	defer again.Shutdown(context.Background())
}

func TestProvider_NilSafe(t *testing.T) {
	var p *Provider
	assert.Nil(t, p.MetricsHandler())
	assert.NoError(t, p.Shutdown(context.Background()))
}
