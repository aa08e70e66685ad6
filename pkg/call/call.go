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

// Package call defines the data shapes recorded by the instrumentation engine.
//
// A Call is one recorded invocation of an instrumented function. Values that
// cannot cross the debug channel directly (results of earlier calls, DOM-like
// elements, functions) are replaced in Call.Args by serializable stand-ins,
// see Arg.
package call

import (
	"strconv"
	"strings"
)

// State is the lifecycle state of a recorded call.
type State string

const (
	// StateDone indicates the call returned normally.
	StateDone State = "done"

	// StateError indicates the call returned an error.
	StateError State = "error"

	// StatePending indicates the call is deferred or has not run yet.
	StatePending State = "pending"
)

// Exception describes an error returned by an instrumented function.
type Exception struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack"`
}

// CallRef stands in for a value that is the result of an earlier call.
type CallRef struct {
	CallID string `json:"__callId__"`
	Retain bool   `json:"retain"`
}

// Call is one recorded invocation.
type Call struct {
	// ID has the form "<index>-<method>" where index is assigned at
	// invocation time.
	ID string `json:"id"`

	// Path describes how the function was reached from the instrumented root.
	Path []PathElem `json:"path"`

	// Method is the property name that was invoked.
	Method string `json:"method"`

	// Args are the mapped, serializable arguments.
	Args []Arg `json:"args"`

	// Interceptable calls take part in step debugging and the visible log.
	Interceptable bool `json:"interceptable"`

	// Retain marks calls that survive a session reset.
	Retain bool `json:"retain"`

	State     State      `json:"state,omitempty"`
	Exception *Exception `json:"exception,omitempty"`

	// ParentID is the call whose callback contained this call.
	ParentID string `json:"parentId,omitempty"`
}

// NewID formats a call id from its invocation index and method name.
func NewID(index int, method string) string {
	return strconv.Itoa(index) + "-" + method
}

// Index returns the numeric invocation index encoded in the call id, or -1
// if the id is malformed.
func (c Call) Index() int {
	return IndexOf(c.ID)
}

// IndexOf parses the invocation index from a call id.
func IndexOf(id string) int {
	prefix, _, ok := strings.Cut(id, "-")
	if !ok {
		return -1
	}
	n, err := strconv.Atoi(prefix)
	if err != nil {
		return -1
	}
	return n
}

// Ref returns a reference to this call.
func (c Call) Ref() CallRef {
	return CallRef{CallID: c.ID, Retain: c.Retain}
}

// WithState returns a copy of the call with the given state.
func (c Call) WithState(s State) Call {
	c.State = s
	return c
}

// Clone returns a copy that shares no slices with c.
func (c Call) Clone() Call {
	c.Path = append([]PathElem(nil), c.Path...)
	c.Args = append([]Arg(nil), c.Args...)
	if c.Exception != nil {
		e := *c.Exception
		c.Exception = &e
	}
	return c
}

// ReferencedIDs returns the ids of calls referenced from this call's
// arguments and path, in that order.
func (c Call) ReferencedIDs() []string {
	var ids []string
	for _, a := range c.Args {
		if a.Kind == KindCallRef && a.Ref != nil {
			ids = append(ids, a.Ref.CallID)
		}
	}
	for _, p := range c.Path {
		if p.Ref != nil {
			ids = append(ids, p.Ref.CallID)
		}
	}
	return ids
}

// LogItem is one row of the projected call log.
type LogItem struct {
	CallID string `json:"callId"`
	State  State  `json:"state,omitempty"`
}

// RenderPhase is the host's rendering lifecycle phase.
type RenderPhase string

const (
	PhaseLoading   RenderPhase = "loading"
	PhaseRendering RenderPhase = "rendering"
	PhasePlaying   RenderPhase = "playing"
	PhaseCompleted RenderPhase = "completed"
	PhaseErrored   RenderPhase = "errored"
)
