// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tracing

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures a Provider.
type Config struct {
	// ServiceName identifies this process in traces and metrics.
	ServiceName string

	// ServiceVersion is the application version.
	ServiceVersion string

	// Exporter receives finished spans. Nil disables span export; spans are
	// still created so parent links stay intact.
	Exporter sdktrace.SpanExporter

	// SetGlobal installs the tracer provider as the otel global.
	SetGlobal bool
}

// Provider owns the tracer and meter providers for a process.
type Provider struct {
	tp       *sdktrace.TracerProvider
	mp       *sdkmetric.MeterProvider
	registry *prometheus.Registry

	metrics *MetricsCollector
	calls   *CallTracer
}

// NewProvider creates a Provider with a Prometheus metric reader and the
// configured span exporter.
func NewProvider(cfg Config, opts ...sdktrace.TracerProviderOption) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "callstep"
	}

	// No schema URL, so the merge with the default resource cannot conflict.
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	allOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.Exporter != nil {
		allOpts = append(allOpts, sdktrace.WithBatcher(cfg.Exporter))
	}
	allOpts = append(allOpts, opts...)
	tp := sdktrace.NewTracerProvider(allOpts...)

	if cfg.SetGlobal {
		otel.SetTracerProvider(tp)
	}

	registry := prometheus.NewRegistry()
	reader, err := promexporter.New(promexporter.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)

	metrics, err := NewMetricsCollector(mp)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics collector: %w", err)
	}

	return &Provider{
		tp:       tp,
		mp:       mp,
		registry: registry,
		metrics:  metrics,
		calls:    NewCallTracer(tp.Tracer("callstep")),
	}, nil
}

// Tracer returns a tracer for the given instrumentation scope.
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tp.Tracer(name)
}

// MetricsCollector returns the session metrics collector.
func (p *Provider) MetricsCollector() *MetricsCollector {
	return p.metrics
}

// CallTracer returns the per-call span recorder.
func (p *Provider) CallTracer() *CallTracer {
	return p.calls
}

// MetricsHandler serves the provider's metrics in Prometheus text format.
func (p *Provider) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// ForceFlush exports all pending spans synchronously.
func (p *Provider) ForceFlush(ctx context.Context) error {
	return errors.Join(p.tp.ForceFlush(ctx), p.mp.ForceFlush(ctx))
}

// Shutdown flushes pending spans and releases resources.
func (p *Provider) Shutdown(ctx context.Context) error {
	return errors.Join(p.tp.Shutdown(ctx), p.mp.Shutdown(ctx))
}
