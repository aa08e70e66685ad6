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

package harness

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/tombee/callstep/internal/instrument"
	"github.com/tombee/callstep/pkg/call"
)

// Default waitFor timing.
const (
	DefaultWaitTimeout  = time.Second
	DefaultWaitInterval = 20 * time.Millisecond
)

// ElementError reports a query that matched no element, or several.
type ElementError struct {
	Message string
}

func (e *ElementError) Error() string { return e.Message }

// Name is the exception name shown in the call log.
func (e *ElementError) Name() string { return "TestingLibraryElementError" }

// AssertionError reports a failed expect matcher.
type AssertionError struct {
	Matcher  string
	Expected any
	Actual   any
	Negated  bool
}

func (e *AssertionError) Error() string {
	not := ""
	if e.Negated {
		not = "not."
	}
	return fmt.Sprintf("expect(received).%s%s(expected)\n\nExpected: %s%s\nReceived: %s",
		not, e.Matcher, notPrefix(e.Negated), format(e.Expected), format(e.Actual))
}

// Name is the exception name shown in the call log.
func (e *AssertionError) Name() string { return "AssertionError" }

func notPrefix(negated bool) string {
	if negated {
		return "not "
	}
	return ""
}

func format(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", x)
	case *Node:
		if x == nil {
			return "null"
		}
		return "<" + x.Tag + ">" + x.TextContent()
	}
	return fmt.Sprintf("%v", v)
}

// Interceptable selects which library functions take part in step
// debugging: user events, waitFor and expect matchers.
func Interceptable(method string, path []call.PathElem) bool {
	if len(path) > 0 && path[0].Key == "userEvent" {
		return true
	}
	return method == "waitFor" || strings.HasPrefix(method, "to")
}

// Library returns the uninstrumented testing library. Queries on screen run
// against the document returned by root at call time.
func Library(root func() *Node) instrument.Object {
	return instrument.Object{
		"screen": queries(root),
		"within": instrument.Func(func(args ...any) (any, error) {
			el, err := nodeArg("within", args, 0)
			if err != nil {
				return nil, err
			}
			return queries(func() *Node { return el }), nil
		}),
		"userEvent": instrument.Object{
			"click": instrument.Func(click),
			"type":  instrument.Func(typeText),
			"clear": instrument.Func(clearInput),
		},
		"expect":  instrument.Func(expect),
		"waitFor": instrument.Func(waitFor),
	}
}

func queries(root func() *Node) instrument.Object {
	return instrument.Object{
		"getByText": instrument.Func(func(args ...any) (any, error) {
			text, err := stringArg("getByText", args, 0)
			if err != nil {
				return nil, err
			}
			return getOne(root(), "text", text, byText(text))
		}),
		"queryByText": instrument.Func(func(args ...any) (any, error) {
			text, err := stringArg("queryByText", args, 0)
			if err != nil {
				return nil, err
			}
			return queryOne(root(), "text", text, byText(text))
		}),
		"getByTestId": instrument.Func(func(args ...any) (any, error) {
			id, err := stringArg("getByTestId", args, 0)
			if err != nil {
				return nil, err
			}
			return getOne(root(), "data-testid", id, func(n *Node) bool { return n.TestID == id })
		}),
		"getByRole": instrument.Func(func(args ...any) (any, error) {
			role, err := stringArg("getByRole", args, 0)
			if err != nil {
				return nil, err
			}
			return getOne(root(), "role", role, func(n *Node) bool { return n.Role == role })
		}),
	}
}

// byText matches the innermost nodes whose text content equals text.
func byText(text string) func(*Node) bool {
	return func(n *Node) bool {
		if n.TextContent() != text {
			return false
		}
		for _, c := range n.Children() {
			if c.TextContent() == text {
				return false
			}
		}
		return true
	}
}

func findAll(root *Node, match func(*Node) bool) []*Node {
	if root == nil {
		return nil
	}
	var out []*Node
	root.Walk(func(n *Node) bool {
		if match(n) {
			out = append(out, n)
		}
		return true
	})
	return out
}

func queryOne(root *Node, kind, want string, match func(*Node) bool) (any, error) {
	found := findAll(root, match)
	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		return found[0], nil
	}
	return nil, &ElementError{Message: fmt.Sprintf("Found multiple elements with the %s: %s", kind, want)}
}

func getOne(root *Node, kind, want string, match func(*Node) bool) (any, error) {
	n, err := queryOne(root, kind, want, match)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, &ElementError{Message: fmt.Sprintf("Unable to find an element with the %s: %s", kind, want)}
	}
	return n, nil
}

func click(args ...any) (any, error) {
	el, err := nodeArg("click", args, 0)
	if err != nil {
		return nil, err
	}
	if err := interactive(el); err != nil {
		return nil, err
	}
	el.dispatchClick()
	return nil, nil
}

func typeText(args ...any) (any, error) {
	el, err := nodeArg("type", args, 0)
	if err != nil {
		return nil, err
	}
	text, err := stringArg("type", args, 1)
	if err != nil {
		return nil, err
	}
	if err := interactive(el); err != nil {
		return nil, err
	}
	for _, r := range text {
		el.SetValue(el.Value() + string(r))
		if el.OnInput != nil {
			el.OnInput(el)
		}
	}
	return nil, nil
}

func clearInput(args ...any) (any, error) {
	el, err := nodeArg("clear", args, 0)
	if err != nil {
		return nil, err
	}
	if err := interactive(el); err != nil {
		return nil, err
	}
	el.SetValue("")
	if el.OnInput != nil {
		el.OnInput(el)
	}
	return nil, nil
}

func interactive(el *Node) error {
	if !el.Visible() {
		return &ElementError{Message: fmt.Sprintf("Unable to perform pointer interaction as the element <%s> is not visible", el.Tag)}
	}
	if !el.Enabled() {
		return &ElementError{Message: fmt.Sprintf("Unable to perform pointer interaction as the element <%s> is disabled", el.Tag)}
	}
	return nil
}

// waitFor retries a func() error callback until it succeeds or the timeout
// passes. An optional second argument overrides the timeout.
func waitFor(args ...any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("waitFor requires a callback")
	}
	cb, ok := args[0].(func() error)
	if !ok {
		return nil, fmt.Errorf("waitFor callback must be func() error, got %T", args[0])
	}
	timeout := DefaultWaitTimeout
	if len(args) > 1 {
		if d, ok := args[1].(time.Duration); ok && d > 0 {
			timeout = d
		}
	}

	deadline := time.Now().Add(timeout)
	for {
		err := cb()
		if err == nil {
			return nil, nil
		}
		if stopped(err) || time.Now().After(deadline) {
			return nil, err
		}
		time.Sleep(DefaultWaitInterval)
	}
}

// stopped reports whether err ends a run rather than failing one attempt.
func stopped(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ignored *instrument.IgnoredError
	return errors.As(err, &ignored) && ignored.Abandoned
}

func expect(args ...any) (any, error) {
	var actual any
	if len(args) > 0 {
		actual = args[0]
	}
	m := matchers(actual, false)
	m["not"] = matchers(actual, true)
	return m, nil
}

func matchers(actual any, negated bool) instrument.Object {
	check := func(name string, expected any, pass bool) error {
		if pass != negated {
			return nil
		}
		return &AssertionError{Matcher: name, Expected: expected, Actual: actual, Negated: negated}
	}

	return instrument.Object{
		"toBe": instrument.Func(func(args ...any) (any, error) {
			expected := argOrNil(args, 0)
			return nil, check("toBe", expected, same(actual, expected))
		}),
		"toEqual": instrument.Func(func(args ...any) (any, error) {
			expected := argOrNil(args, 0)
			return nil, check("toEqual", expected, reflect.DeepEqual(actual, expected))
		}),
		"toHaveTextContent": instrument.Func(func(args ...any) (any, error) {
			text, err := stringArg("toHaveTextContent", args, 0)
			if err != nil {
				return nil, err
			}
			n, ok := actual.(*Node)
			if !ok || n == nil {
				return nil, fmt.Errorf("toHaveTextContent: received value must be an element, got %T", actual)
			}
			return nil, check("toHaveTextContent", text, strings.Contains(n.TextContent(), text))
		}),
		"toHaveValue": instrument.Func(func(args ...any) (any, error) {
			value, err := stringArg("toHaveValue", args, 0)
			if err != nil {
				return nil, err
			}
			n, ok := actual.(*Node)
			if !ok || n == nil {
				return nil, fmt.Errorf("toHaveValue: received value must be an element, got %T", actual)
			}
			return nil, check("toHaveValue", value, n.Value() == value)
		}),
		"toBeVisible": instrument.Func(func(args ...any) (any, error) {
			n, ok := actual.(*Node)
			return nil, check("toBeVisible", "visible", ok && n != nil && n.Visible())
		}),
		"toBeInTheDocument": instrument.Func(func(args ...any) (any, error) {
			n, ok := actual.(*Node)
			return nil, check("toBeInTheDocument", "in the document", ok && n != nil)
		}),
	}
}

// same is strict equality: == for comparable values, identity otherwise.
func same(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch va.Kind() {
	case reflect.Slice, reflect.Map, reflect.Func:
		return va.Pointer() == vb.Pointer()
	}
	return false
}

func argOrNil(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

func stringArg(fn string, args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("%s: missing argument %d", fn, i+1)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("%s: argument %d must be a string, got %T", fn, i+1, args[i])
	}
	return s, nil
}

func nodeArg(fn string, args []any, i int) (*Node, error) {
	if i >= len(args) {
		return nil, fmt.Errorf("%s: missing element argument", fn)
	}
	n, ok := args[i].(*Node)
	if !ok || n == nil {
		return nil, fmt.Errorf("%s: argument %d must be an element, got %T", fn, i+1, args[i])
	}
	return n, nil
}
