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

package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tombee/callstep/internal/storage"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(server.URL, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return client
}

func TestNewNormalizesBaseURL(t *testing.T) {
	client, err := New("127.0.0.1:6007/")
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	if client.BaseURL() != "http://127.0.0.1:6007" {
		t.Errorf("Expected normalized base URL, got %s", client.BaseURL())
	}

	if _, err := New(""); err == nil {
		t.Error("Expected error for empty base URL")
	}
}

func TestClientHealth(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/health" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "healthy",
			"timestamp": "2025-01-01T00:00:00Z",
			"uptime":    "1h0m0s",
		})
	}))

	health, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Status != "healthy" {
		t.Errorf("Expected status 'healthy', got %s", health.Status)
	}
	if err := client.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestClientStoriesAndPlay(t *testing.T) {
	var played string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/stories", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"stories": []map[string]string{{"id": "counter--default", "title": "Counter/Default"}},
			"current": "counter--default",
		})
	})
	mux.HandleFunc("POST /v1/stories/{id}/play", func(w http.ResponseWriter, r *http.Request) {
		played = r.PathValue("id")
		w.WriteHeader(http.StatusAccepted)
	})
	client := newTestClient(t, mux)

	stories, err := client.Stories(context.Background())
	if err != nil {
		t.Fatalf("Stories failed: %v", err)
	}
	if len(stories.Stories) != 1 || stories.Stories[0].Title != "Counter/Default" {
		t.Errorf("Unexpected stories: %+v", stories.Stories)
	}

	if err := client.Play(context.Background(), "counter--default"); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if played != "counter--default" {
		t.Errorf("Expected play of counter--default, got %q", played)
	}
}

func TestClientSession(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"storyId":"s","isDebugging":true,"pendingCallIds":["1-click"],"calls":[],"log":[{"callId":"1-click","state":"pending"}]}`))
	}))

	session, err := client.Session(context.Background())
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	if !session.IsDebugging || len(session.PendingCallIDs) != 1 {
		t.Errorf("Unexpected session: %+v", session)
	}
	if len(session.Log) != 1 || session.Log[0].CallID != "1-click" {
		t.Errorf("Unexpected log: %+v", session.Log)
	}
}

func TestClientRuns(t *testing.T) {
	var query string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/runs", func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		json.NewEncoder(w).Encode(map[string]any{
			"runs":  []*storage.Run{{ID: "r1", Status: storage.RunCompleted}},
			"count": 1,
		})
	})
	mux.HandleFunc("GET /v1/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "r1" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"run not found: missing"}`))
			return
		}
		json.NewEncoder(w).Encode(&storage.Run{ID: "r1", Status: storage.RunErrored})
	})
	client := newTestClient(t, mux)

	runs, err := client.ListRuns(context.Background(), "counter--default", 5)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "r1" {
		t.Errorf("Unexpected runs: %+v", runs)
	}
	if query != "limit=5&story=counter--default" {
		t.Errorf("Unexpected query: %s", query)
	}

	run, err := client.GetRun(context.Background(), "r1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != storage.RunErrored {
		t.Errorf("Expected errored run, got %s", run.Status)
	}

	_, err = client.GetRun(context.Background(), "missing")
	if !IsNotFound(err) {
		t.Fatalf("Expected not found error, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "run not found: missing" {
		t.Errorf("Expected decoded error message, got %v", err)
	}
}

func TestClientWithAPIKey(t *testing.T) {
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	}))
	defer server.Close()

	client, err := New(server.URL, WithAPIKey("secret"))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	if auth != "Bearer secret" {
		t.Errorf("Expected bearer auth header, got %q", auth)
	}
}

func TestClientUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client, err := New(url)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	if err := client.Ping(context.Background()); !errors.Is(err, ErrUnreachable) {
		t.Errorf("Expected ErrUnreachable, got %v", err)
	}
}
