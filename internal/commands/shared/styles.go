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
	"github.com/charmbracelet/lipgloss"

	"github.com/tombee/callstep/internal/storage"
	"github.com/tombee/callstep/pkg/call"
)

// CLI style colors using lipgloss
var (
	// StatusOK styles success indicators
	StatusOK = lipgloss.NewStyle().Foreground(lipgloss.Color("42")) // green

	// StatusWarn styles warning indicators
	StatusWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // orange

	// StatusError styles error indicators
	StatusError = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // red

	// Muted styles secondary/less important text
	Muted = lipgloss.NewStyle().Foreground(lipgloss.Color("245")) // gray

	// Header styles section headers
	Header = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")) // blue bold
)

// Symbols for status indicators
const (
	SymbolOK      = "✓"
	SymbolError   = "✗"
	SymbolPending = "→"
	SymbolAborted = "·"
)

// RenderOK renders a success message with green checkmark
func RenderOK(msg string) string {
	return StatusOK.Render(SymbolOK) + " " + msg
}

// RenderError renders an error message with red X
func RenderError(msg string) string {
	return StatusError.Render(SymbolError) + " " + msg
}

// RenderRunStatus renders a run status word, colored when styled is true.
func RenderRunStatus(status storage.RunStatus, styled bool) string {
	s := string(status)
	if !styled {
		return s
	}
	switch status {
	case storage.RunCompleted:
		return StatusOK.Render(s)
	case storage.RunErrored:
		return StatusError.Render(s)
	}
	return Muted.Render(s)
}

// RenderCallState renders the marker for a call or log entry state.
func RenderCallState(state call.State, styled bool) string {
	var mark string
	style := Muted
	switch state {
	case call.StateDone:
		mark, style = SymbolOK, StatusOK
	case call.StateError:
		mark, style = SymbolError, StatusError
	case call.StatePending:
		mark, style = SymbolPending, StatusWarn
	default:
		mark = SymbolAborted
	}
	if !styled {
		return mark
	}
	return style.Render(mark)
}
