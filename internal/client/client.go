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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tombee/callstep/internal/api"
	"github.com/tombee/callstep/internal/storage"
)

// ErrUnreachable is wrapped by errors for requests that never got a response.
var ErrUnreachable = errors.New("server unreachable")

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned error %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client is a client for the callstep API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	c := &Client{baseURL: strings.TrimRight(baseURL, "/")}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return c, nil
}

// Option configures a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = client
		return nil
	}
}

// WithTransport sets a custom transport.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{Transport: transport}
		return nil
	}
}

// WithAPIKey sets the API key for authentication.
func WithAPIKey(apiKey string) Option {
	return func(c *Client) error {
		c.apiKey = apiKey
		return nil
	}
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health returns the server health status.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var health api.HealthResponse
	if err := c.getJSON(ctx, "/v1/health", &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// Ping checks if the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Health(ctx)
	return err
}

// Stories lists the stories the server can play.
func (c *Client) Stories(ctx context.Context) (*api.StoriesResponse, error) {
	var stories api.StoriesResponse
	if err := c.getJSON(ctx, "/v1/stories", &stories); err != nil {
		return nil, err
	}
	return &stories, nil
}

// Play asks the server to render and play a story.
func (c *Client) Play(ctx context.Context, storyID string) error {
	resp, err := c.do(ctx, http.MethodPost, "/v1/stories/"+url.PathEscape(storyID)+"/play", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Session returns the live session state.
func (c *Client) Session(ctx context.Context) (*api.SessionResponse, error) {
	var session api.SessionResponse
	if err := c.getJSON(ctx, "/v1/session", &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// ListRuns lists persisted runs, newest first.
func (c *Client) ListRuns(ctx context.Context, storyID string, limit int) ([]*storage.Run, error) {
	q := url.Values{}
	if storyID != "" {
		q.Set("story", storyID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/runs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var runs api.RunsResponse
	if err := c.getJSON(ctx, path, &runs); err != nil {
		return nil, err
	}
	return runs.Runs, nil
}

// GetRun loads one persisted run.
func (c *Client) GetRun(ctx context.Context, id string) (*storage.Run, error) {
	var run storage.Run
	if err := c.getJSON(ctx, "/v1/runs/"+url.PathEscape(id), &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.addAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
		}
		return nil, apiErr
	}

	return resp, nil
}

// addAuth adds authentication headers to the request if configured.
func (c *Client) addAuth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
