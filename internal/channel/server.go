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

package channel

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tombee/callstep/internal/log"
)

// ServerConfig tunes the SSE bridge.
type ServerConfig struct {
	// HeartbeatInterval is the period between keep-alive frames.
	HeartbeatInterval time.Duration

	// BufferSize is the number of recent messages replayed to reconnecting clients.
	BufferSize int

	// ClientBuffer is the per-client queue length. Slow clients drop messages
	// once it is full.
	ClientBuffer int

	// CommandRate and CommandBurst bound POSTed commands across all clients.
	CommandRate  rate.Limit
	CommandBurst int

	// MaxBodyBytes caps the size of a command payload.
	MaxBodyBytes int64
}

// DefaultServerConfig returns the settings used by `callstep serve`.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HeartbeatInterval: 30 * time.Second,
		BufferSize:        256,
		ClientBuffer:      64,
		CommandRate:       20,
		CommandBurst:      10,
		MaxBodyBytes:      64 << 10,
	}
}

// Server exposes a Channel over HTTP. Locally emitted messages stream to
// clients on GET /v1/debug/events and commands are accepted on
// POST /v1/debug/commands/{event}.
type Server struct {
	ch      *Channel
	cfg     ServerConfig
	logger  *slog.Logger
	limiter *rate.Limiter
	cmdlog  *log.CommandMiddleware
	detach  func()

	mu      sync.Mutex
	clients map[string]chan Message
	buffer  []Message
	closed  chan struct{}
	once    sync.Once
}

// NewServer creates a server and attaches it to ch as a transport.
func NewServer(ch *Channel, cfg ServerConfig, logger *slog.Logger) *Server {
	def := DefaultServerConfig()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = def.ClientBuffer
	}
	if cfg.CommandRate <= 0 {
		cfg.CommandRate = def.CommandRate
	}
	if cfg.CommandBurst <= 0 {
		cfg.CommandBurst = def.CommandBurst
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if logger == nil {
		logger = log.Discard()
	}
	logger = log.WithComponent(logger, "sse")

	s := &Server{
		ch:      ch,
		cfg:     cfg,
		logger:  logger,
		limiter: rate.NewLimiter(cfg.CommandRate, cfg.CommandBurst),
		cmdlog:  log.NewCommandMiddleware(logger),
		clients: make(map[string]chan Message),
		closed:  make(chan struct{}),
	}
	s.detach = ch.Attach(s)
	return s
}

// RegisterRoutes registers the event stream and command routes on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/debug/events", s.handleEvents)
	mux.HandleFunc("POST /v1/debug/commands/{event}", s.handleCommand)
}

// Send buffers msg for replay and queues it for every connected client.
func (s *Server) Send(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buffer = append(s.buffer, msg)
	if over := len(s.buffer) - s.cfg.BufferSize; over > 0 {
		s.buffer = append([]Message(nil), s.buffer[over:]...)
	}

	for id, q := range s.clients {
		select {
		case q <- msg:
		default:
			s.logger.Warn("client queue full, dropping message", "client", id, log.EventKey, msg.Event)
		}
	}
}

// ClientCount returns the number of connected streams.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close detaches the server from its channel and ends every open stream.
func (s *Server) Close() {
	s.once.Do(func() {
		s.detach()
		close(s.closed)
	})
}

// replay returns buffered messages after lastID, or all of them when lastID
// is unknown.
func (s *Server) replay(lastID string) []Message {
	if lastID != "" {
		for i, msg := range s.buffer {
			if msg.ID == lastID {
				return append([]Message(nil), s.buffer[i+1:]...)
			}
		}
	}
	return append([]Message(nil), s.buffer...)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	lastID := r.Header.Get("Last-Event-ID")
	if q := r.URL.Query().Get("last_event_id"); q != "" {
		lastID = q
	}

	clientID := uuid.NewString()
	queue := make(chan Message, s.cfg.ClientBuffer)

	s.mu.Lock()
	backlog := s.replay(lastID)
	s.clients[clientID] = queue
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, clientID)
		s.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.logger.Debug("client connected", "client", clientID, "backlog", len(backlog))

	write := func(msg Message) bool {
		frame, err := msg.ToSSE()
		if err != nil {
			s.logger.Warn("failed to encode message", log.Error(err))
			return true
		}
		if _, err := io.WriteString(w, frame); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	for _, msg := range backlog {
		if !write(msg) {
			return
		}
	}

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("client disconnected", "client", clientID)
			return
		case <-s.closed:
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": %s %d\n\n", EventHeartbeat, time.Now().Unix()); err != nil {
				return
			}
			flusher.Flush()
		case msg := <-queue:
			if !write(msg) {
				return
			}
		}
	}
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	event := Event(r.PathValue("event"))
	req := &log.CommandRequest{Event: string(event), RemoteAddr: r.RemoteAddr}

	status := http.StatusAccepted
	err := s.cmdlog.Handle(req, func() error {
		if !s.limiter.Allow() {
			status = http.StatusTooManyRequests
			return fmt.Errorf("command rate exceeded")
		}
		if !IsCommand(event) {
			status = http.StatusBadRequest
			return fmt.Errorf("invalid command: %s", event)
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
		if err != nil {
			status = http.StatusRequestEntityTooLarge
			return fmt.Errorf("failed to read request body: %w", err)
		}
		if len(body) == 0 {
			body = []byte("{}")
		}

		var probe struct {
			StoryID string `json:"storyId"`
		}
		if err := json.Unmarshal(body, &probe); err != nil {
			status = http.StatusBadRequest
			return fmt.Errorf("invalid command payload: %w", err)
		}
		req.StoryID = probe.StoryID

		msg := Message{
			ID:        uuid.NewString(),
			Event:     event,
			Timestamp: time.Now().UTC(),
			Data:      json.RawMessage(body),
		}
		s.ch.Inject(msg)
		return nil
	})
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "acknowledged",
		"command": string(event),
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
