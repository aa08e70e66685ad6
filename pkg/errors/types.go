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

package errors

import (
	"fmt"
)

// ValidationError represents invalid input: configuration values, command
// payloads or inspector filters.
type ValidationError struct {
	// Field identifies which input failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Hint provides actionable guidance for fixing the error
	Hint string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// IsUserVisible implements UserVisibleError.
func (e *ValidationError) IsUserVisible() bool { return true }

// UserMessage implements UserVisibleError.
func (e *ValidationError) UserMessage() string { return e.Error() }

// Suggestion implements UserVisibleError.
func (e *ValidationError) Suggestion() string { return e.Hint }

// NotFoundError represents a resource not found error.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "run", "call", "story")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ConfigError represents configuration problems.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "server.addr")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config error: %s", e.Reason)
	if e.Key != "" {
		msg = fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// StorageError represents a failed run store operation.
type StorageError struct {
	// Op is the store operation (e.g., "save", "list").
	Op string

	// Cause is the underlying driver error
	Cause error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *StorageError) Unwrap() error {
	return e.Cause
}
