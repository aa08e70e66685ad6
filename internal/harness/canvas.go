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
	"fmt"
	"time"

	"github.com/tombee/callstep/internal/instrument"
)

// Canvas is the typed view a play function drives. Every method goes through
// the instrumented library, so each one is recorded as a call and
// interceptable ones can be suspended by the debugger.
type Canvas struct {
	ctx  context.Context
	lib  instrument.Object
	root *Node
}

func newCanvas(ctx context.Context, lib instrument.Object, root *Node) *Canvas {
	return &Canvas{ctx: ctx, lib: lib, root: root}
}

// Context is cancelled when the run is superseded.
func (c *Canvas) Context() context.Context { return c.ctx }

// Root returns the rendered document.
func (c *Canvas) Root() *Node { return c.root }

// invoke calls a member of recv. A failure the engine handed back as a value
// is returned as an error.
func (c *Canvas) invoke(recv any, name string, args ...any) (any, error) {
	if err := c.ctx.Err(); err != nil {
		return nil, err
	}
	v, err := instrument.InvokeMember(c.ctx, recv, name, args...)
	if err != nil {
		return nil, err
	}
	if e, ok := v.(error); ok {
		return nil, e
	}
	return v, nil
}

// Screen returns queries over the whole document.
func (c *Canvas) Screen() Queries {
	return Queries{c: c, obj: c.lib["screen"]}
}

// Within returns queries scoped to el.
func (c *Canvas) Within(el *Node) (Queries, error) {
	v, err := c.invoke(c.lib, "within", el)
	if err != nil {
		return Queries{}, err
	}
	return Queries{c: c, obj: v}, nil
}

// Click clicks el.
func (c *Canvas) Click(el *Node) error {
	_, err := c.invoke(c.lib["userEvent"], "click", el)
	return err
}

// Type types text into el one character at a time.
func (c *Canvas) Type(el *Node, text string) error {
	_, err := c.invoke(c.lib["userEvent"], "type", el, text)
	return err
}

// Clear empties el's value.
func (c *Canvas) Clear(el *Node) error {
	_, err := c.invoke(c.lib["userEvent"], "clear", el)
	return err
}

// WaitFor retries fn until it returns nil or timeout passes. A zero timeout
// uses DefaultWaitTimeout. Inside fn use the QueryBy queries, since a failed
// GetBy query is also reported to the next call.
func (c *Canvas) WaitFor(fn func() error, timeout time.Duration) error {
	args := []any{fn}
	if timeout > 0 {
		args = append(args, timeout)
	}
	_, err := c.invoke(c.lib, "waitFor", args...)
	return err
}

// Expect starts an assertion on actual.
func (c *Canvas) Expect(actual any) Expectation {
	v, err := c.invoke(c.lib, "expect", actual)
	return Expectation{c: c, obj: v, err: err}
}

// Queries finds elements. GetBy queries fail when nothing matches; QueryBy
// queries return nil instead.
type Queries struct {
	c   *Canvas
	obj any
}

func (q Queries) node(name string, arg string) (*Node, error) {
	if q.c == nil {
		return nil, fmt.Errorf("%s: queries are not bound to a canvas", name)
	}
	v, err := q.c.invoke(q.obj, name, arg)
	if err != nil || v == nil {
		return nil, err
	}
	n, ok := v.(*Node)
	if !ok {
		return nil, fmt.Errorf("%s returned %T, want *Node", name, v)
	}
	return n, nil
}

// GetByText returns the single element whose text is text.
func (q Queries) GetByText(text string) (*Node, error) { return q.node("getByText", text) }

// QueryByText is GetByText returning nil when nothing matches.
func (q Queries) QueryByText(text string) (*Node, error) { return q.node("queryByText", text) }

// GetByTestID returns the single element with the given test id.
func (q Queries) GetByTestID(id string) (*Node, error) { return q.node("getByTestId", id) }

// GetByRole returns the single element with the given role.
func (q Queries) GetByRole(role string) (*Node, error) { return q.node("getByRole", role) }

// Expectation runs matchers against a value.
type Expectation struct {
	c   *Canvas
	obj any
	err error
}

// Not negates the following matcher.
func (e Expectation) Not() Expectation {
	if e.err != nil {
		return e
	}
	return Expectation{c: e.c, obj: instrument.Member(e.obj, "not")}
}

func (e Expectation) match(name string, args ...any) error {
	if e.err != nil {
		return e.err
	}
	_, err := e.c.invoke(e.obj, name, args...)
	return err
}

func (e Expectation) ToBe(expected any) error { return e.match("toBe", expected) }

func (e Expectation) ToEqual(expected any) error { return e.match("toEqual", expected) }

func (e Expectation) ToHaveTextContent(text string) error {
	return e.match("toHaveTextContent", text)
}

func (e Expectation) ToHaveValue(value string) error { return e.match("toHaveValue", value) }

func (e Expectation) ToBeVisible() error { return e.match("toBeVisible") }

func (e Expectation) ToBeInTheDocument() error { return e.match("toBeInTheDocument") }
