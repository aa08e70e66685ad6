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

package log

import (
	"context"
	"log/slog"
	"time"
)

// CommandRequest describes an inbound debugger command for logging purposes.
type CommandRequest struct {
	// Event is the channel event name (START, GOTO, ...).
	Event string

	// StoryID is the story the command targets, when the payload carries one.
	StoryID string

	// RemoteAddr is the remote address of the client, empty for in-process commands.
	RemoteAddr string

	// Metadata contains additional request fields.
	Metadata map[string]any
}

// CommandResult describes how a command was handled.
type CommandResult struct {
	Success    bool
	Error      string
	DurationMs int64
}

// LogCommandRequest logs an incoming debugger command.
func LogCommandRequest(logger *slog.Logger, req *CommandRequest) {
	attrs := []any{
		EventKey, "command_request",
		"command", req.Event,
	}
	if req.StoryID != "" {
		attrs = append(attrs, StoryIDKey, req.StoryID)
	}
	if req.RemoteAddr != "" {
		attrs = append(attrs, "remote", req.RemoteAddr)
	}
	for k, v := range req.Metadata {
		attrs = append(attrs, k, v)
	}

	logger.Debug("debugger command received", attrs...)
}

// LogCommandResult logs the outcome of a debugger command.
func LogCommandResult(logger *slog.Logger, req *CommandRequest, res *CommandResult) {
	attrs := []any{
		EventKey, "command_result",
		"command", req.Event,
		"success", res.Success,
		DurationKey, res.DurationMs,
	}
	if req.StoryID != "" {
		attrs = append(attrs, StoryIDKey, req.StoryID)
	}
	if res.Error != "" {
		attrs = append(attrs, "error", res.Error)
	}

	level := slog.LevelDebug
	message := "debugger command handled"
	if !res.Success {
		level = slog.LevelWarn
		message = "debugger command rejected"
	}

	logger.Log(context.Background(), level, message, attrs...)
}

// CommandMiddleware wraps command handling with request and result logging.
type CommandMiddleware struct {
	logger *slog.Logger
}

// NewCommandMiddleware creates a new command logging middleware.
func NewCommandMiddleware(logger *slog.Logger) *CommandMiddleware {
	return &CommandMiddleware{logger: logger}
}

// Handle logs req, runs handler and logs its result.
func (m *CommandMiddleware) Handle(req *CommandRequest, handler func() error) error {
	start := time.Now()
	LogCommandRequest(m.logger, req)

	err := handler()

	res := &CommandResult{
		Success:    err == nil,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		res.Error = err.Error()
	}
	LogCommandResult(m.logger, req, res)

	return err
}
