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
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, cfg ServerConfig) (*Channel, *Server, *httptest.Server) {
	t.Helper()

	ch := New(nil)
	srv := NewServer(ch, cfg, nil)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)

	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return ch, srv, ts
}

func TestServerCommandInjectsIntoChannel(t *testing.T) {
	ch, _, ts := newTestServer(t, ServerConfig{})

	got := make(chan GotoPayload, 1)
	ch.On(EventGoto, func(m Message) {
		var p GotoPayload
		if err := m.Decode(&p); err == nil {
			got <- p
		}
	})

	resp, err := http.Post(ts.URL+"/v1/debug/commands/GOTO", "application/json",
		strings.NewReader(`{"storyId":"form","callId":"3-click"}`))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	select {
	case p := <-got:
		assert.Equal(t, GotoPayload{StoryID: "form", CallID: "3-click"}, p)
	case <-time.After(time.Second):
		t.Fatal("command was not delivered")
	}
}

func TestServerRejectsBadCommands(t *testing.T) {
	_, _, ts := newTestServer(t, ServerConfig{})

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"unknown event", "/v1/debug/commands/CALL", `{}`, http.StatusBadRequest},
		{"malformed payload", "/v1/debug/commands/START", `{"storyId":`, http.StatusBadRequest},
		{"empty body is accepted", "/v1/debug/commands/NEXT", ``, http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+tt.path, "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestServerRateLimitsCommands(t *testing.T) {
	_, _, ts := newTestServer(t, ServerConfig{CommandRate: 0.001, CommandBurst: 1})

	first, err := http.Post(ts.URL+"/v1/debug/commands/NEXT", "application/json", nil)
	require.NoError(t, err)
	first.Body.Close()
	second, err := http.Post(ts.URL+"/v1/debug/commands/NEXT", "application/json", nil)
	require.NoError(t, err)
	second.Body.Close()

	assert.Equal(t, http.StatusAccepted, first.StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
}

func TestServerReplaysBufferAfterLastEventID(t *testing.T) {
	ch, srv, _ := newTestServer(t, ServerConfig{BufferSize: 2})

	require.NoError(t, ch.Emit(EventLock, true))
	require.NoError(t, ch.Emit(EventLock, false))
	require.NoError(t, ch.Emit(EventSync, []string{}))

	srv.mu.Lock()
	defer srv.mu.Unlock()
	require.Len(t, srv.buffer, 2)

	all := srv.replay("unknown")
	assert.Len(t, all, 2)

	after := srv.replay(srv.buffer[0].ID)
	require.Len(t, after, 1)
	assert.Equal(t, EventSync, after[0].Event)
}

func TestClientStreamAndSend(t *testing.T) {
	ch, srv, ts := newTestServer(t, ServerConfig{})

	var mu sync.Mutex
	var starts []StartPayload
	ch.On(EventStart, func(m Message) {
		var p StartPayload
		if m.Decode(&p) == nil {
			mu.Lock()
			starts = append(starts, p)
			mu.Unlock()
		}
	})

	client := NewClient(ts.URL, WithReconnectDelay(10*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errStop := errors.New("stop")
	received := make(chan Message, 4)
	done := make(chan error, 1)
	go func() {
		done <- client.Stream(ctx, func(m Message) error {
			received <- m
			if m.Event == EventForceRemount {
				return errStop
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, client.Send(ctx, EventStart, StartPayload{StoryID: "login"}))
	require.NoError(t, ch.Emit(EventForceRemount, RemountPayload{StoryID: "login", IsDebugging: true}))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, errStop)
	case <-ctx.Done():
		t.Fatal("stream did not stop")
	}

	var last Message
	for len(received) > 0 {
		last = <-received
	}
	assert.Equal(t, EventForceRemount, last.Event)
	var p RemountPayload
	require.NoError(t, last.Decode(&p))
	assert.True(t, p.IsDebugging)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []StartPayload{{StoryID: "login"}}, starts)
}

func TestClientSendRejectsNonCommands(t *testing.T) {
	client := NewClient("http://127.0.0.1:1")
	err := client.Send(context.Background(), EventSync, nil)
	assert.ErrorContains(t, err, "invalid command")
}
