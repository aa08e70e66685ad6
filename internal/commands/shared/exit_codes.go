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

package shared

import (
	"errors"
	"fmt"
	"io"
	"os"

	pkgerrors "github.com/tombee/callstep/pkg/errors"
)

// Exit codes
const (
	ExitSuccess    = 0
	ExitFailed     = 1
	ExitUsage      = 2
	ExitRunErrored = 3
	// ExitUnavailable means the debug server could not be reached (EX_UNAVAILABLE from sysexits.h).
	ExitUnavailable = 69
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewUsageError reports invalid flags or arguments.
func NewUsageError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitUsage, Message: msg, Cause: cause}
}

// NewRunErroredError reports a story run that finished with an error.
func NewRunErroredError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitRunErrored, Message: msg, Cause: cause}
}

// NewUnavailableError reports an unreachable debug server.
func NewUnavailableError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitUnavailable, Message: msg, Cause: cause}
}

// HandleExitError prints err and exits with its code.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	os.Exit(ReportError(os.Stderr, err))
}

// ReportError writes err, and a suggestion when one is available, to w and
// returns the exit code for it.
func ReportError(w io.Writer, err error) int {
	if err == nil {
		return ExitSuccess
	}
	fmt.Fprintln(w, "Error:", err.Error())
	printUserVisibleSuggestion(w, err)

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailed
}

// printUserVisibleSuggestion prints the suggestion of the first
// UserVisibleError in err's chain.
func printUserVisibleSuggestion(w io.Writer, err error) {
	var userErr pkgerrors.UserVisibleError
	if !errors.As(err, &userErr) || !userErr.IsUserVisible() {
		return
	}
	if suggestion := userErr.Suggestion(); suggestion != "" {
		fmt.Fprintf(w, "\nSuggestion: %s\n", suggestion)
	}
}
