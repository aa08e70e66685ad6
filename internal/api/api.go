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

// Package api serves the read and control endpoints of `callstep serve`
// that sit beside the debug channel: health, stories, the live session and
// persisted runs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/tombee/callstep/internal/instrument"
	"github.com/tombee/callstep/internal/log"
	"github.com/tombee/callstep/internal/storage"
	"github.com/tombee/callstep/pkg/call"
	cerrors "github.com/tombee/callstep/pkg/errors"
)

// Player renders and plays stories.
type Player interface {
	Play(storyID string) error
	StoryID() string
}

// Catalog lists the stories a player can run.
type Catalog interface {
	IDs() []string
	Title(id string) string
}

// SessionView exposes the live session state.
type SessionView interface {
	Snapshot() instrument.Snapshot
	Log() []call.LogItem
}

// RunReader reads persisted runs.
type RunReader interface {
	ListRuns(ctx context.Context, opts storage.ListOptions) ([]*storage.Run, error)
	GetRun(ctx context.Context, id string) (*storage.Run, error)
}

// HealthResponse is the response format for /v1/health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Uptime    string            `json:"uptime,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// StoryInfo describes one story.
type StoryInfo struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

// StoriesResponse is the response format for /v1/stories.
type StoriesResponse struct {
	Stories []StoryInfo `json:"stories"`
	Current string      `json:"current,omitempty"`
}

// SessionResponse is the response format for /v1/session.
type SessionResponse struct {
	StoryID        string         `json:"storyId,omitempty"`
	IsDebugging    bool           `json:"isDebugging"`
	PlayUntil      string         `json:"playUntil,omitempty"`
	PendingCallIDs []string       `json:"pendingCallIds,omitempty"`
	Calls          []call.Call    `json:"calls"`
	Log            []call.LogItem `json:"log"`
}

// RunsResponse is the response format for /v1/runs.
type RunsResponse struct {
	Runs  []*storage.Run `json:"runs"`
	Count int            `json:"count"`
}

// Handler serves the API.
type Handler struct {
	player  Player
	catalog Catalog
	session SessionView
	runs    RunReader
	logger  *slog.Logger
	started time.Time
}

// NewHandler creates a handler. runs may be nil when persistence is disabled.
func NewHandler(player Player, catalog Catalog, session SessionView, runs RunReader, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = log.Discard()
	}
	return &Handler{
		player:  player,
		catalog: catalog,
		session: session,
		runs:    runs,
		logger:  log.WithComponent(logger, "api"),
		started: time.Now(),
	}
}

// RegisterRoutes registers the API routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/health", h.handleHealth)
	mux.HandleFunc("GET /v1/stories", h.handleStories)
	mux.HandleFunc("POST /v1/stories/{id}/play", h.handlePlay)
	mux.HandleFunc("GET /v1/session", h.handleSession)
	mux.HandleFunc("GET /v1/runs", h.handleListRuns)
	mux.HandleFunc("GET /v1/runs/{id}", h.handleGetRun)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	checks := map[string]string{
		"api":     "ok",
		"runtime": runtime.Version(),
		"storage": "disabled",
	}
	if h.runs != nil {
		checks["storage"] = "ok"
	}
	if id := h.player.StoryID(); id != "" {
		checks["story"] = id
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Checks:    checks,
	})
}

func (h *Handler) handleStories(w http.ResponseWriter, _ *http.Request) {
	resp := StoriesResponse{Stories: []StoryInfo{}, Current: h.player.StoryID()}
	for _, id := range h.catalog.IDs() {
		resp.Stories = append(resp.Stories, StoryInfo{ID: id, Title: h.catalog.Title(id)})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handlePlay(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.player.Play(id); err != nil {
		var notFound *cerrors.NotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error("play failed", log.StoryIDKey, id, log.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to play story")
		return
	}
	h.logger.Info("story play requested", log.StoryIDKey, id)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "playing", "storyId": id})
}

func (h *Handler) handleSession(w http.ResponseWriter, _ *http.Request) {
	snap := h.session.Snapshot()
	resp := SessionResponse{
		StoryID:        snap.StoryID,
		IsDebugging:    snap.IsDebugging,
		PlayUntil:      snap.PlayUntil,
		PendingCallIDs: snap.PendingCallIDs,
		Calls:          snap.Calls,
		Log:            h.session.Log(),
	}
	if resp.Calls == nil {
		resp.Calls = []call.Call{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run persistence is disabled")
		return
	}

	opts := storage.ListOptions{StoryID: r.URL.Query().Get("story")}
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		opts.Limit = n
	}

	runs, err := h.runs.ListRuns(r.Context(), opts)
	if err != nil {
		h.logger.Error("list runs failed", log.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*storage.Run{}
	}
	writeJSON(w, http.StatusOK, RunsResponse{Runs: runs, Count: len(runs)})
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run persistence is disabled")
		return
	}

	run, err := h.runs.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		var notFound *cerrors.NotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error("get run failed", log.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
