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

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/tombee/callstep/pkg/errors"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LOG_LEVEL", "LOG_FORMAT", "LOG_SOURCE", "CALLSTEP_LOG_LEVEL", "CALLSTEP_DEBUG",
		"CALLSTEP_ADDR", "CALLSTEP_ALLOWED_ORIGINS", "CALLSTEP_COMMAND_RATE", "CALLSTEP_DB", "CALLSTEP_SYNC_DELAY", "CALLSTEP_STORY",
		"CALLSTEP_METRICS", "CALLSTEP_TRACE_EXPORTER", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_SERVICE_NAME",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "127.0.0.1:6007", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.Server.HeartbeatInterval)
	assert.Equal(t, 16*time.Millisecond, cfg.Engine.SyncDelay)
	assert.Equal(t, ExporterNone, cfg.Observability.Exporter.Type)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
log:
  level: debug
  format: text
server:
  addr: 0.0.0.0:9000
  command_rate: 5
engine:
  sync_delay: 50ms
  story: login
storage:
  path: /tmp/runs.db
observability:
  exporter:
    type: otlp-grpc
    endpoint: localhost:4317
    insecure: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
	assert.Equal(t, float64(5), cfg.Server.CommandRate)
	assert.Equal(t, 10, cfg.Server.CommandBurst, "unset fields keep defaults")
	assert.Equal(t, 50*time.Millisecond, cfg.Engine.SyncDelay)
	assert.Equal(t, "login", cfg.Engine.Story)
	assert.Equal(t, "/tmp/runs.db", cfg.Storage.Path)
	assert.Equal(t, ExporterOTLPGRPC, cfg.Observability.Exporter.Type)
	assert.True(t, cfg.Observability.Exporter.Insecure)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: 127.0.0.1:1000\n"), 0600))

	t.Setenv("CALLSTEP_ADDR", "127.0.0.1:2000")
	t.Setenv("CALLSTEP_SYNC_DELAY", "0s")
	t.Setenv("CALLSTEP_DB", "")
	t.Setenv("CALLSTEP_DEBUG", "1")
	t.Setenv("CALLSTEP_ALLOWED_ORIGINS", "http://localhost:6006,*.example.com")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:2000", cfg.Server.Addr)
	assert.Equal(t, time.Duration(0), cfg.Engine.SyncDelay)
	assert.Empty(t, cfg.Storage.Path, "an empty CALLSTEP_DB disables persistence")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.AddSource)
	assert.Equal(t, []string{"http://localhost:6006", "*.example.com"}, cfg.Server.AllowedOrigins)
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	var cfgErr *cerrors.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "config_file", cfgErr.Key)
}

func TestLoadInvalid(t *testing.T) {
	clearEnv(t)
	t.Setenv("CALLSTEP_TRACE_EXPORTER", "zipkin")

	_, err := Load("")
	require.Error(t, err)

	var validation *cerrors.ValidationError
	require.True(t, errors.As(err, &validation))
	assert.Contains(t, validation.Message, "observability.exporter.type")
	assert.NotEmpty(t, validation.Suggestion())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults",
			modify: func(*Config) {},
		},
		{
			name:    "bad level",
			modify:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: "log.level",
		},
		{
			name:    "bad format",
			modify:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: "log.format",
		},
		{
			name:    "addr without port",
			modify:  func(c *Config) { c.Server.Addr = "localhost" },
			wantErr: "server.addr",
		},
		{
			name:    "zero heartbeat",
			modify:  func(c *Config) { c.Server.HeartbeatInterval = 0 },
			wantErr: "server.heartbeat_interval",
		},
		{
			name:    "zero burst",
			modify:  func(c *Config) { c.Server.CommandBurst = 0 },
			wantErr: "server.command_burst",
		},
		{
			name:    "negative sync delay",
			modify:  func(c *Config) { c.Engine.SyncDelay = -time.Millisecond },
			wantErr: "engine.sync_delay",
		},
		{
			name:    "otlp without endpoint",
			modify:  func(c *Config) { c.Observability.Exporter.Type = ExporterOTLPHTTP },
			wantErr: "observability.exporter.endpoint",
		},
		{
			name: "otlp with endpoint",
			modify: func(c *Config) {
				c.Observability.Exporter.Type = ExporterOTLPHTTP
				c.Observability.Exporter.Endpoint = "localhost:4318"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigDirRespectsXDG(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", base)

	dir, err := ConfigDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "callstep"), dir)
	assert.DirExists(t, dir)

	path, err := ConfigPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "callstep", "config.yaml"), path)
}

func TestLoggerConfig(t *testing.T) {
	cfg := Default()
	cfg.Log.Format = "text"

	lc := cfg.LoggerConfig()
	assert.Equal(t, "info", lc.Level)
	assert.Equal(t, "text", string(lc.Format))
}
