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

// Package jq evaluates jq expressions over run records for the command line.
package jq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/itchyny/gojq"
)

const (
	// DefaultTimeout bounds a single evaluation.
	DefaultTimeout = 1 * time.Second

	// DefaultMaxInputSize is the largest encoded input accepted (10MB).
	DefaultMaxInputSize = 10 * 1024 * 1024
)

// Executor evaluates jq expressions with a timeout and an input size limit.
type Executor struct {
	timeout      time.Duration
	maxInputSize int
}

// NewExecutor creates an executor. Zero values select the defaults.
func NewExecutor(timeout time.Duration, maxInputSize int) *Executor {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if maxInputSize == 0 {
		maxInputSize = DefaultMaxInputSize
	}
	return &Executor{timeout: timeout, maxInputSize: maxInputSize}
}

// Execute runs expression against data. data may be any JSON-encodable value;
// it is converted to plain maps and slices first. A single result is returned
// as is, several as a slice. An empty expression returns the converted data.
func (e *Executor) Execute(ctx context.Context, expression string, data any) (any, error) {
	input, err := e.normalize(data)
	if err != nil {
		return nil, err
	}
	if expression == "" {
		return input, nil
	}

	code, err := compile(expression)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var results []any
	iter := code.RunWithContext(ctx, input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("execution timeout after %v", e.timeout)
			}
			return nil, err
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	}
	return results, nil
}

// Validate reports whether expression compiles.
func (e *Executor) Validate(expression string) error {
	if expression == "" {
		return nil
	}
	_, err := compile(expression)
	return err
}

func compile(expression string) (*gojq.Code, error) {
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid jq expression: %w", err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("jq compilation failed: %w", err)
	}
	return code, nil
}

// normalize round-trips data through JSON so gojq sees only the value types
// it supports.
func (e *Executor) normalize(data any) (any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal data: %w", err)
	}
	if len(raw) > e.maxInputSize {
		return nil, fmt.Errorf("data size (%d bytes) exceeds maximum (%d bytes)", len(raw), e.maxInputSize)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode data: %w", err)
	}
	return out, nil
}
