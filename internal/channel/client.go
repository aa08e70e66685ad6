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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tombee/callstep/internal/log"
)

// ErrStreamClosed is returned by a single stream attempt when the server
// ends the response.
var ErrStreamClosed = errors.New("stream closed")

// Client consumes a Server's event stream and posts commands to it.
type Client struct {
	baseURL        string
	http           *http.Client
	logger         *slog.Logger
	reconnectDelay time.Duration
	lastEventID    string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client. Streams need a client without a
// response timeout.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithClientLogger sets the client logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithReconnectDelay sets the pause between reconnect attempts.
func WithReconnectDelay(d time.Duration) ClientOption {
	return func(c *Client) { c.reconnectDelay = d }
}

// NewClient creates a client for the server rooted at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &http.Client{},
		logger:         log.Discard(),
		reconnectDelay: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stream calls handler for every message until ctx is cancelled or handler
// returns an error. Dropped connections are retried and resume after the last
// message seen.
func (c *Client) Stream(ctx context.Context, handler func(Message) error) error {
	for {
		err := c.streamOnce(ctx, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var herr handlerError
		if errors.As(err, &herr) {
			return herr.err
		}

		c.logger.Warn("event stream lost, reconnecting", log.Error(err), "delay", c.reconnectDelay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.reconnectDelay):
		}
	}
}

type handlerError struct{ err error }

func (e handlerError) Error() string { return e.err.Error() }

func (c *Client) streamOnce(ctx context.Context, handler func(Message) error) error {
	u := c.baseURL + "/v1/debug/events"
	if c.lastEventID != "" {
		u += "?last_event_id=" + url.QueryEscape(c.lastEventID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream returned %s", resp.Status)
	}

	reader := bufio.NewReader(resp.Body)
	var data string

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ErrStreamClosed
			}
			return fmt.Errorf("read error: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if data == "" {
				continue
			}
			var msg Message
			if err := json.Unmarshal([]byte(data), &msg); err != nil {
				c.logger.Warn("failed to parse event data", log.Error(err))
				data = ""
				continue
			}
			data = ""
			c.lastEventID = msg.ID
			if err := handler(msg); err != nil {
				return handlerError{err}
			}
			continue
		}

		// comment lines carry heartbeats
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if field == "data" {
			data = strings.TrimPrefix(value, " ")
		}
	}
}

// Send posts a command to the server.
func (c *Client) Send(ctx context.Context, event Event, payload any) error {
	if !IsCommand(event) {
		return fmt.Errorf("invalid command: %s", event)
	}

	body := []byte("{}")
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("marshal %s payload: %w", event, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/debug/commands/"+url.PathEscape(string(event)), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return fmt.Errorf("command %s rejected: %s", event, apiErr.Error)
	}
	return nil
}
