// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package telemetry wires the daemon's OpenTelemetry trace export. Only
// framesd enables it; the library paths never touch the tracer directly and
// pick up spans through otelhttp at the HTTP boundary.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config selects the exporter and identifies the service on every span.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// ExporterType is "grpc" (collector on :4317) or "http" (:4318).
	ExporterType string
	Endpoint     string

	// SamplingRate in [0,1]; values at or beyond the bounds pin the
	// sampler to never/always.
	SamplingRate float64
}

// Provider owns the installed tracer provider; nil tp means tracing is off.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// newExporter maps the configured transport onto an OTLP span exporter.
func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.ExporterType {
	case "grpc":
		// Plaintext: the collector is assumed local or mesh-secured.
		return otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
	case "http":
		return otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("telemetry exporter %q not one of grpc, http", cfg.ExporterType)
	}
}

// samplerFor clamps the configured rate into a sampler.
func samplerFor(rate float64) sdktrace.Sampler {
	if rate <= 0 {
		return sdktrace.NeverSample()
	}
	if rate >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.TraceIDRatioBased(rate)
}

// NewProvider installs the global tracer provider and W3C propagators.
// With Enabled unset it installs a noop provider so instrumented code needs
// no conditionals.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return &Provider{}, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// Schemaless: merging against the SDK default resource trips schema-URL
	// conflicts across semconv versions.
	res := resource.NewSchemaless(
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SamplingRate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{tp: tp}, nil
}

// Shutdown flushes buffered spans. Bounded so daemon shutdown cannot hang on
// an unreachable collector.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.tp.Shutdown(ctx)
}
