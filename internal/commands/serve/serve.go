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

// Package serve implements `callstep serve`, which hosts the demo stories,
// the debug channel and the REST API in one process.
package serve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tombee/callstep/internal/api"
	"github.com/tombee/callstep/internal/channel"
	"github.com/tombee/callstep/internal/commands/shared"
	"github.com/tombee/callstep/internal/config"
	"github.com/tombee/callstep/internal/harness"
	"github.com/tombee/callstep/internal/instrument"
	"github.com/tombee/callstep/internal/log"
	"github.com/tombee/callstep/internal/storage"
	"github.com/tombee/callstep/internal/tracing"
	"github.com/tombee/callstep/internal/tracing/export"
)

// NewCommand creates the serve command.
func NewCommand() *cobra.Command {
	var (
		addr      string
		story     string
		dbPath    string
		noPersist bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Host stories and the debug channel",
		Long: `Start the callstep server.

The server renders stories, runs their play functions through the
instrumented testing library and exposes the debug channel over HTTP:

  GET  /v1/debug/events            event stream (server-sent events)
  POST /v1/debug/commands/{event}  START, BACK, GOTO, NEXT, END, FORCE_REMOUNT

Finished runs are stored in a local SQLite database unless --no-persist is set.`,
		Example: `  # Serve on the configured address
  callstep serve

  # Play a story as soon as the server is up
  callstep serve --story counter--default

  # Keep runs in memory only
  callstep serve --no-persist --addr 127.0.0.1:7000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := shared.LoadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if story != "" {
				cfg.Engine.Story = story
			}
			if dbPath != "" {
				cfg.Storage.Path = dbPath
			}
			if noPersist {
				cfg.Storage.Path = ""
			}
			if err := cfg.Validate(); err != nil {
				return shared.NewUsageError("invalid configuration", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, shared.Logger(cfg))
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Address to listen on (host:port)")
	cmd.Flags().StringVar(&story, "story", "", "Story to play on startup")
	cmd.Flags().StringVar(&dbPath, "db", "", "Path to the runs database")
	cmd.Flags().BoolVar(&noPersist, "no-persist", false, "Do not store finished runs")

	return cmd
}

// server is the wired set of components behind `callstep serve`.
type server struct {
	cfg      *config.Config
	logger   *slog.Logger
	provider *tracing.Provider
	store    *storage.RunStore
	ch       *channel.Channel
	session  *instrument.Session
	registry *harness.Registry
	runner   *harness.Runner
	sse      *channel.Server
	detach   func()
	handler  http.Handler
}

func newServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*server, error) {
	v, _, _ := shared.GetVersion()

	exporter, err := export.New(ctx, export.Config{
		Type:     cfg.Observability.Exporter.Type,
		Endpoint: cfg.Observability.Exporter.Endpoint,
		Insecure: cfg.Observability.Exporter.Insecure,
		Headers:  cfg.Observability.Exporter.Headers,
		Timeout:  time.Duration(cfg.Observability.Exporter.TimeoutSeconds) * time.Second,
		Writer:   os.Stderr,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create span exporter: %w", err)
	}

	provider, err := tracing.NewProvider(tracing.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: v,
		Exporter:       exporter,
		SetGlobal:      true,
	})
	if err != nil {
		return nil, err
	}

	s := &server{cfg: cfg, logger: logger, provider: provider}

	if cfg.Storage.Path != "" {
		s.store, err = storage.New(storage.Config{Path: cfg.Storage.Path})
		if err != nil {
			_ = provider.Shutdown(context.Background())
			return nil, err
		}
	}

	s.registry, err = harness.NewRegistry(harness.DemoStories()...)
	if err != nil {
		s.close(context.Background())
		return nil, err
	}

	metrics := provider.MetricsCollector()
	s.ch = channel.New(logger)
	s.detach = s.ch.Attach(eventCounter{metrics: metrics})
	s.session = instrument.NewSession(s.ch,
		instrument.WithLogger(logger),
		instrument.WithSyncDelay(cfg.Engine.SyncDelay),
		instrument.WithObserver(instrument.Observers(metrics, provider.CallTracer())),
	)

	runnerOpts := []harness.RunnerOption{
		harness.WithRunnerLogger(logger),
		harness.WithRunRecorder(metrics),
	}
	if s.store != nil {
		runnerOpts = append(runnerOpts, harness.WithStore(s.store))
	}
	s.runner = harness.NewRunner(s.session, s.ch, s.registry, runnerOpts...)

	s.sse = channel.NewServer(s.ch, channel.ServerConfig{
		HeartbeatInterval: cfg.Server.HeartbeatInterval,
		BufferSize:        cfg.Server.ReplayBuffer,
		CommandRate:       rate.Limit(cfg.Server.CommandRate),
		CommandBurst:      cfg.Server.CommandBurst,
	}, logger)

	mux := http.NewServeMux()
	s.sse.RegisterRoutes(mux)
	var runs api.RunReader
	if s.store != nil {
		runs = s.store
	}
	api.NewHandler(s.runner, s.registry, s.session, runs, logger).RegisterRoutes(mux)
	if cfg.Observability.Metrics {
		mux.Handle("GET /metrics", provider.MetricsHandler())
	}
	s.handler = api.CORS(api.CORSConfig{AllowedOrigins: cfg.Server.AllowedOrigins}, mux)

	return s, nil
}

// close releases components in reverse order of construction.
func (s *server) close(ctx context.Context) {
	if s.sse != nil {
		s.sse.Close()
	}
	if s.runner != nil {
		s.runner.Close()
	}
	if s.session != nil {
		s.session.Close()
	}
	if s.detach != nil {
		s.detach()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("failed to close run store", log.Error(err))
		}
	}
	if err := s.provider.Shutdown(ctx); err != nil {
		s.logger.Warn("failed to shut down telemetry", log.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	s, err := newServer(ctx, cfg, logger)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		s.close(context.Background())
		return shared.NewUnavailableError("failed to listen on "+cfg.Server.Addr, err)
	}
	return s.serve(ctx, ln)
}

// serve runs the HTTP server on ln until ctx is cancelled.
func (s *server) serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	v, _, _ := shared.GetVersion()
	s.logger.Info("callstep ready",
		"version", v,
		"addr", ln.Addr().String(),
		"stories", len(s.registry.IDs()),
		"persist", s.store != nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()

		// Streams only end once the SSE server is closed.
		s.sse.Close()
		err := httpServer.Shutdown(shutdownCtx)
		s.close(shutdownCtx)
		if err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	})

	if id := s.cfg.Engine.Story; id != "" {
		if err := s.runner.Play(id); err != nil {
			s.logger.Error("failed to play startup story", log.StoryIDKey, id, log.Error(err))
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	s.logger.Info("shutdown complete")
	return nil
}

// eventCounter counts every message emitted on the channel.
type eventCounter struct {
	metrics *tracing.MetricsCollector
}

func (e eventCounter) Send(msg channel.Message) {
	e.metrics.RecordEvent(context.Background(), string(msg.Event))
}
