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

// Package export builds span exporters for external observability platforms.
package export

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc/credentials"
)

// Exporter types.
const (
	TypeNone     = "none"
	TypeStdout   = "stdout"
	TypeOTLPGRPC = "otlp-grpc"
	TypeOTLPHTTP = "otlp-http"
)

// Config selects and configures a span exporter.
type Config struct {
	// Type is one of the Type constants. Empty means none.
	Type string

	// Endpoint is the OTLP receiver, host:port.
	Endpoint string

	// Insecure disables TLS for OTLP (for development only).
	Insecure bool

	// Headers are sent with each OTLP request.
	Headers map[string]string

	// Timeout bounds each export.
	Timeout time.Duration

	// Writer is the stdout exporter destination (default: os.Stdout).
	Writer io.Writer

	// PrettyPrint formats stdout output for humans.
	PrettyPrint bool
}

// New creates the exporter described by cfg. It returns nil, nil for the
// none type.
func New(ctx context.Context, cfg Config) (trace.SpanExporter, error) {
	switch cfg.Type {
	case TypeNone, "":
		return nil, nil
	case TypeStdout:
		return newStdout(cfg)
	case TypeOTLPGRPC:
		return newOTLPGRPC(ctx, cfg)
	case TypeOTLPHTTP:
		return newOTLPHTTP(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.Type)
	}
}

func newStdout(cfg Config) (trace.SpanExporter, error) {
	writer := cfg.Writer
	if writer == nil {
		writer = os.Stdout
	}

	opts := []stdouttrace.Option{stdouttrace.WithWriter(writer)}
	if cfg.PrettyPrint {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}

	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}
	return exporter, nil
}

func newOTLPGRPC(ctx context.Context, cfg Config) (trace.SpanExporter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("otlp-grpc exporter requires an endpoint")
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewTLS(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})))
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, otlptracegrpc.WithTimeout(cfg.Timeout))
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP gRPC exporter: %w", err)
	}
	return exporter, nil
}

func newOTLPHTTP(ctx context.Context, cfg Config) (trace.SpanExporter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("otlp-http exporter requires an endpoint")
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	} else {
		opts = append(opts, otlptracehttp.WithTLSClientConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		}))
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, otlptracehttp.WithTimeout(cfg.Timeout))
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP HTTP exporter: %w", err)
	}
	return exporter, nil
}
