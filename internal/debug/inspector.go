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

package debug

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/tombee/callstep/pkg/call"
	cerrors "github.com/tombee/callstep/pkg/errors"
)

// Inspector provides utilities for inspecting recorded calls.
type Inspector struct {
	calls []call.Call
	log   []call.LogItem

	cache map[string]*vm.Program
	mu    sync.RWMutex
}

// NewInspector creates an inspector over calls and their projected log.
func NewInspector(calls []call.Call, log []call.LogItem) *Inspector {
	return &Inspector{
		calls: calls,
		log:   log,
		cache: make(map[string]*vm.Program),
	}
}

// Get returns the call with the given id.
func (i *Inspector) Get(id string) (call.Call, bool) {
	for _, c := range i.calls {
		if c.ID == id {
			return c, true
		}
	}
	return call.Call{}, false
}

// Filter returns the calls for which expression evaluates to true, in
// recorded order. An empty expression matches every call.
func (i *Inspector) Filter(expression string) ([]call.Call, error) {
	if strings.TrimSpace(expression) == "" {
		return i.calls, nil
	}

	program, err := i.compile(expression)
	if err != nil {
		return nil, &cerrors.ValidationError{
			Field:   "filter",
			Message: err.Error(),
			Hint:    `filters are expr expressions, e.g. state == "error" && method == "click"`,
		}
	}

	var out []call.Call
	for _, c := range i.calls {
		result, err := expr.Run(program, Env(c))
		if err != nil {
			return nil, fmt.Errorf("filter evaluation failed on %s: %w", c.ID, err)
		}
		if matched, _ := result.(bool); matched {
			out = append(out, c)
		}
	}
	return out, nil
}

func (i *Inspector) compile(expression string) (*vm.Program, error) {
	i.mu.RLock()
	if prog, ok := i.cache[expression]; ok {
		i.mu.RUnlock()
		return prog, nil
	}
	i.mu.RUnlock()

	prog, err := expr.Compile(expression, expr.Env(Env(call.Call{})), expr.AsBool())
	if err != nil {
		return nil, err
	}

	i.mu.Lock()
	i.cache[expression] = prog
	i.mu.Unlock()
	return prog, nil
}

// Env returns the expression environment for a call.
func Env(c call.Call) map[string]any {
	exception := map[string]any{"name": "", "message": ""}
	if c.Exception != nil {
		exception["name"] = c.Exception.Name
		exception["message"] = c.Exception.Message
	}
	return map[string]any{
		"id":            c.ID,
		"index":         c.Index(),
		"method":        c.Method,
		"path":          call.FormatPath(c.Path),
		"state":         string(c.State),
		"interceptable": c.Interceptable,
		"retain":        c.Retain,
		"parentId":      c.ParentID,
		"pending":       c.State == call.StatePending,
		"exception":     exception,
		"args":          plainArgs(c.Args),
	}
}

// plainArgs converts arguments to the JSON shapes a controller would see.
func plainArgs(args []call.Arg) []any {
	out := make([]any, 0, len(args))
	for _, a := range args {
		if a.Kind == call.KindPrimitive || a.Kind == "" {
			out = append(out, a.Value)
			continue
		}
		data, err := json.Marshal(a)
		if err != nil {
			out = append(out, nil)
			continue
		}
		var v any
		_ = json.Unmarshal(data, &v)
		out = append(out, v)
	}
	return out
}

// Format formats a value for display.
func (i *Inspector) Format(value any) (string, error) {
	bytes, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to format value: %w", err)
	}
	return string(bytes), nil
}

// Summary renders the log one entry per line. Entries whose call was not
// recorded are shown by id only.
func (i *Inspector) Summary() string {
	if len(i.log) == 0 {
		return "  (no calls)\n"
	}
	var b strings.Builder
	for _, item := range i.log {
		c, ok := i.Get(item.CallID)
		if !ok {
			fmt.Fprintf(&b, "  %s %s\n", stateMark(item.State), item.CallID)
			continue
		}
		fmt.Fprintf(&b, "  %s %-14s %s\n", stateMark(item.State), c.ID, Describe(c))
	}
	return b.String()
}

// Describe renders a call as path.method(args).
func Describe(c call.Call) string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = describeArg(a)
	}
	name := c.Method
	if path := call.FormatPath(c.Path); path != "" {
		name = path + "." + c.Method
	}
	return name + "(" + strings.Join(args, ", ") + ")"
}

func describeArg(a call.Arg) string {
	switch a.Kind {
	case call.KindCallRef:
		return "<" + a.Ref.CallID + ">"
	case call.KindElement:
		s := a.Element.LocalName
		if a.Element.ID != "" {
			s += "#" + a.Element.ID
		}
		return "<" + s + ">"
	case call.KindOpaque:
		return "[" + a.Opaque + "]"
	default:
		data, err := json.Marshal(a.Value)
		if err != nil {
			return fmt.Sprintf("%v", a.Value)
		}
		return string(data)
	}
}

func stateMark(s call.State) string {
	switch s {
	case call.StateDone:
		return "✓"
	case call.StateError:
		return "✗"
	case call.StatePending:
		return "→"
	default:
		return "·"
	}
}
