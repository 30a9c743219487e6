// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires the OpenTelemetry SDK for callgraph commands.
//
// Library packages (lsp, analyzer, render) only use the otel API through
// otel.Tracer and otel.Meter. Until Init installs providers those calls
// are no-ops, so tests and embedders pay nothing.
//
//	provider, err := telemetry.Init(ctx, telemetry.Config{
//	    ServiceName:    "callgraph",
//	    TraceExporter:  "stdout",
//	    MetricExporter: "prometheus",
//	})
//	if err != nil {
//	    return err
//	}
//	defer provider.Shutdown(context.Background())
//	router.GET("/metrics", gin.WrapH(provider.MetricsHandler()))
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var (
	// ErrNilContext is returned when Init is called with a nil context.
	ErrNilContext = errors.New("telemetry: nil context")

	// ErrUnknownExporter is returned for an unrecognised exporter name.
	ErrUnknownExporter = errors.New("telemetry: unknown exporter")
)

// Config selects exporters.
type Config struct {
	// ServiceName identifies this process in traces and metrics.
	ServiceName string

	// ServiceVersion is reported as service.version.
	ServiceVersion string

	// TraceExporter is "otlp", "stdout" or "none". Empty means "none".
	TraceExporter string

	// MetricExporter is "prometheus", "stdout" or "none". Empty means
	// "none".
	MetricExporter string

	// OTLPEndpoint is the gRPC collector address for the otlp exporter.
	OTLPEndpoint string

	// OTLPInsecure disables TLS to the collector.
	OTLPInsecure bool

	// Writer receives stdout exporter output. Default: os.Stderr, so the
	// graph written to stdout stays clean.
	Writer io.Writer
}

// Provider owns the installed SDK providers.
//
// Thread Safety: Safe for concurrent use after Init returns.
type Provider struct {
	tracer   *sdktrace.TracerProvider
	meter    *sdkmetric.MeterProvider
	registry *prometheus.Registry
}

// Init installs global tracer and meter providers per cfg.
//
// Description:
//
//	The prometheus exporter registers on a private registry, so Init can
//	run more than once in a process without duplicate registration.
//	Exporters set to "none" leave the corresponding global provider
//	untouched.
//
// Outputs:
//
//	*Provider - Call Shutdown on exit to flush exporters.
//	error - ErrUnknownExporter or an exporter construction failure.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "callgraph"
	}
	if cfg.Writer == nil {
		cfg.Writer = os.Stderr
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	p := &Provider{}
	tp, err := newTracerProvider(ctx, cfg, res)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	if tp != nil {
		p.tracer = tp
		otel.SetTracerProvider(tp)
	}

	mp, registry, err := newMeterProvider(cfg, res)
	if err != nil {
		if tp != nil {
			_ = tp.Shutdown(ctx)
		}
		return nil, fmt.Errorf("init meter: %w", err)
	}
	if mp != nil {
		p.meter = mp
		p.registry = registry
		otel.SetMeterProvider(mp)
	}
	return p, nil
}

func newTracerProvider(ctx context.Context, cfg Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch cfg.TraceExporter {
	case "", "none":
		return nil, nil
	case "otlp":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(cfg.Writer))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.TraceExporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s exporter: %w", cfg.TraceExporter, err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}

func newMeterProvider(cfg Config, res *resource.Resource) (*sdkmetric.MeterProvider, *prometheus.Registry, error) {
	switch cfg.MetricExporter {
	case "", "none":
		return nil, nil, nil
	case "prometheus":
		registry := prometheus.NewRegistry()
		exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
		if err != nil {
			return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		return sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		), registry, nil
	case "stdout":
		exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(cfg.Writer))
		if err != nil {
			return nil, nil, fmt.Errorf("create stdout metric exporter: %w", err)
		}
		return sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		), nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.MetricExporter)
	}
}

// MetricsHandler returns the /metrics handler, or nil when the prometheus
// exporter is not in use.
func (p *Provider) MetricsHandler() http.Handler {
	if p == nil || p.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the installed providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.tracer != nil {
		if err := p.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer: %w", err))
		}
	}
	if p.meter != nil {
		if err := p.meter.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter: %w", err))
		}
	}
	return errors.Join(errs...)
}
