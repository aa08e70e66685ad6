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

package serve

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tombee/callstep/internal/client"
	"github.com/tombee/callstep/internal/config"
	"github.com/tombee/callstep/internal/log"
	"github.com/tombee/callstep/internal/storage"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Storage.Path = ":memory:"
	cfg.Engine.SyncDelay = time.Millisecond
	cfg.Server.ShutdownTimeout = 2 * time.Second
	return cfg
}

func TestNewCommand(t *testing.T) {
	cmd := NewCommand()

	if cmd.Use != "serve" {
		t.Errorf("expected use 'serve', got %q", cmd.Use)
	}
	for _, name := range []string{"addr", "story", "db", "no-persist"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("--%s flag not defined", name)
		}
	}
}

func TestServerPlaysAndPersists(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := newServer(ctx, testConfig(), log.Discard())
	if err != nil {
		t.Fatalf("newServer failed: %v", err)
	}
	defer s.close(context.Background())

	ts := httptest.NewServer(s.handler)
	defer ts.Close()

	c, err := client.New(ts.URL)
	if err != nil {
		t.Fatalf("client.New failed: %v", err)
	}

	stories, err := c.Stories(ctx)
	if err != nil {
		t.Fatalf("Stories failed: %v", err)
	}
	if len(stories.Stories) != 3 {
		t.Errorf("expected 3 demo stories, got %d", len(stories.Stories))
	}

	if err := c.Play(ctx, "counter--default"); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	res, err := s.runner.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if res.Status != storage.RunCompleted {
		t.Fatalf("expected completed run, got %s (%s)", res.Status, res.Error)
	}

	runs, err := c.ListRuns(ctx, "counter--default", 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 stored run, got %d", len(runs))
	}
	stored, err := c.GetRun(ctx, runs[0].ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if len(stored.Log) != len(res.Log) {
		t.Errorf("expected stored log of %d items, got %d", len(res.Log), len(stored.Log))
	}

	if err := c.Play(ctx, "missing"); !client.IsNotFound(err) {
		t.Errorf("expected not found for unknown story, got %v", err)
	}

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, name := range []string{"callstep_runs_total", "callstep_events_total"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("expected metric %s in /metrics output", name)
		}
	}
}

func TestServerWithoutPersistence(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Path = ""
	cfg.Observability.Metrics = false

	s, err := newServer(context.Background(), cfg, log.Discard())
	if err != nil {
		t.Fatalf("newServer failed: %v", err)
	}
	defer s.close(context.Background())

	ts := httptest.NewServer(s.handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/runs")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without persistence, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected /metrics to be disabled, got %d", resp.StatusCode)
	}
}

func TestServerAllowedOrigins(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Path = ""
	cfg.Server.AllowedOrigins = []string{"http://localhost:6006"}

	s, err := newServer(context.Background(), cfg, log.Discard())
	if err != nil {
		t.Fatalf("newServer failed: %v", err)
	}
	defer s.close(context.Background())

	ts := httptest.NewServer(s.handler)
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:6006")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:6006" {
		t.Errorf("expected origin to be allowed, got %q", got)
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.Story = "login--success"

	ctx, cancel := context.WithCancel(context.Background())
	s, err := newServer(ctx, cfg, log.Discard())
	if err != nil {
		t.Fatalf("newServer failed: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.serve(ctx, ln) }()

	c, err := client.New(ln.Addr().String())
	if err != nil {
		t.Fatalf("client.New failed: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		if health, err := c.Health(context.Background()); err == nil {
			if health.Checks["story"] != "login--success" {
				t.Errorf("expected startup story to be rendered, got %q", health.Checks["story"])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("server did not become healthy")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
