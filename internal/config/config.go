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

// Package config loads callstep settings from YAML and the environment.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/callstep/internal/log"
	cerrors "github.com/tombee/callstep/pkg/errors"
)

// Config is the complete callstep configuration.
type Config struct {
	Log           LogConfig           `yaml:"log"`
	Server        ServerConfig        `yaml:"server"`
	Engine        EngineConfig        `yaml:"engine"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is json or text.
	Format string `yaml:"format"`

	// AddSource adds file and line to each record.
	AddSource bool `yaml:"add_source"`
}

// ServerConfig configures the SSE debug transport.
type ServerConfig struct {
	// Addr is the listen address, host:port.
	Addr string `yaml:"addr"`

	// HeartbeatInterval is the keep-alive period on event streams.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// ReplayBuffer is how many recent events a reconnecting client receives.
	ReplayBuffer int `yaml:"replay_buffer"`

	// CommandRate is the sustained number of commands accepted per second.
	CommandRate float64 `yaml:"command_rate"`

	// CommandBurst is the number of commands accepted in a burst.
	CommandBurst int `yaml:"command_burst"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// AllowedOrigins lists browser origins allowed to reach the API and
	// event stream. "*.example.com" matches any subdomain. Empty disables CORS.
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

// EngineConfig tunes the instrumentation session.
type EngineConfig struct {
	// SyncDelay is how long SYNC waits for further changes.
	SyncDelay time.Duration `yaml:"sync_delay"`

	// Story is the story the host runs at startup.
	Story string `yaml:"story"`
}

// StorageConfig configures run persistence.
type StorageConfig struct {
	// Path is the SQLite database file. Empty disables persistence.
	Path string `yaml:"path"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	// Metrics exposes /metrics on the server.
	Metrics bool `yaml:"metrics"`

	// ServiceName identifies this process in traces and metrics.
	ServiceName string `yaml:"service_name"`

	// Exporter selects the span exporter.
	Exporter ExporterConfig `yaml:"exporter"`
}

// ExporterConfig defines a span export destination.
type ExporterConfig struct {
	// Type is none, stdout, otlp-grpc or otlp-http.
	Type string `yaml:"type"`

	// Endpoint is the OTLP receiver, host:port.
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure disables TLS for OTLP.
	Insecure bool `yaml:"insecure"`

	// Headers are added to every OTLP request.
	Headers map[string]string `yaml:"headers,omitempty"`

	// TimeoutSeconds is the export timeout.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
}

// Exporter types.
const (
	ExporterNone     = "none"
	ExporterStdout   = "stdout"
	ExporterOTLPGRPC = "otlp-grpc"
	ExporterOTLPHTTP = "otlp-http"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Server: ServerConfig{
			Addr:              "127.0.0.1:6007",
			HeartbeatInterval: 30 * time.Second,
			ReplayBuffer:      256,
			CommandRate:       20,
			CommandBurst:      10,
			ShutdownTimeout:   5 * time.Second,
		},
		Engine: EngineConfig{
			SyncDelay: 16 * time.Millisecond,
		},
		Storage: StorageConfig{
			Path: filepath.Join(defaultDataDir(), "runs.db"),
		},
		Observability: ObservabilityConfig{
			Metrics:     true,
			ServiceName: "callstep",
			Exporter: ExporterConfig{
				Type:           ExporterNone,
				TimeoutSeconds: 10,
			},
		},
	}
}

// Load reads configPath, if given, applies environment overrides and
// validates the result. Environment variables take precedence over the file.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &cerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &cerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

func (c *Config) loadFromEnv() {
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("CALLSTEP_LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = val == "1" || strings.ToLower(val) == "true"
	}
	if val := os.Getenv("CALLSTEP_DEBUG"); val == "1" || val == "true" {
		c.Log.Level = "debug"
		c.Log.AddSource = true
	}

	if val := os.Getenv("CALLSTEP_ADDR"); val != "" {
		c.Server.Addr = val
	}
	if val := os.Getenv("CALLSTEP_ALLOWED_ORIGINS"); val != "" {
		c.Server.AllowedOrigins = strings.Split(val, ",")
	}
	if val := os.Getenv("CALLSTEP_COMMAND_RATE"); val != "" {
		if rate, err := strconv.ParseFloat(val, 64); err == nil {
			c.Server.CommandRate = rate
		}
	}
	if val := os.Getenv("CALLSTEP_SYNC_DELAY"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Engine.SyncDelay = d
		}
	}
	if val := os.Getenv("CALLSTEP_STORY"); val != "" {
		c.Engine.Story = val
	}
	if val, ok := os.LookupEnv("CALLSTEP_DB"); ok {
		c.Storage.Path = val
	}

	if val := os.Getenv("CALLSTEP_METRICS"); val != "" {
		c.Observability.Metrics = val == "1" || strings.ToLower(val) == "true"
	}
	if val := os.Getenv("CALLSTEP_TRACE_EXPORTER"); val != "" {
		c.Observability.Exporter.Type = strings.ToLower(val)
	}
	if val := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); val != "" {
		c.Observability.Exporter.Endpoint = val
	}
	if val := os.Getenv("OTEL_SERVICE_NAME"); val != "" {
		c.Observability.ServiceName = val
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []string

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, error], got %q", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		errs = append(errs, fmt.Sprintf("server.addr must be host:port, got %q", c.Server.Addr))
	}
	if c.Server.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Sprintf("server.heartbeat_interval must be positive, got %v", c.Server.HeartbeatInterval))
	}
	if c.Server.ReplayBuffer < 0 {
		errs = append(errs, fmt.Sprintf("server.replay_buffer must be non-negative, got %d", c.Server.ReplayBuffer))
	}
	if c.Server.CommandRate <= 0 {
		errs = append(errs, fmt.Sprintf("server.command_rate must be positive, got %v", c.Server.CommandRate))
	}
	if c.Server.CommandBurst < 1 {
		errs = append(errs, fmt.Sprintf("server.command_burst must be at least 1, got %d", c.Server.CommandBurst))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("server.shutdown_timeout must be positive, got %v", c.Server.ShutdownTimeout))
	}

	if c.Engine.SyncDelay < 0 {
		errs = append(errs, fmt.Sprintf("engine.sync_delay must be non-negative, got %v", c.Engine.SyncDelay))
	}

	switch c.Observability.Exporter.Type {
	case ExporterNone, ExporterStdout:
	case ExporterOTLPGRPC, ExporterOTLPHTTP:
		if c.Observability.Exporter.Endpoint == "" {
			errs = append(errs, fmt.Sprintf("observability.exporter.endpoint is required for %s", c.Observability.Exporter.Type))
		}
	default:
		errs = append(errs, fmt.Sprintf("observability.exporter.type must be one of [none, stdout, otlp-grpc, otlp-http], got %q", c.Observability.Exporter.Type))
	}

	if len(errs) > 0 {
		return &cerrors.ValidationError{
			Message: "\n  - " + strings.Join(errs, "\n  - "),
			Hint:    "check the config file and CALLSTEP_* environment variables",
		}
	}
	return nil
}

// LoggerConfig converts the log section for internal/log.
func (c *Config) LoggerConfig() *log.Config {
	return &log.Config{
		Level:     c.Log.Level,
		Format:    log.Format(c.Log.Format),
		Output:    os.Stderr,
		AddSource: c.Log.AddSource,
	}
}
