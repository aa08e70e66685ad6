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
	"strings"
	"sync"
)

// Node is an element in the in-memory document a story renders.
type Node struct {
	Tag     string
	ID      string
	Classes []string
	Role    string
	TestID  string

	// Text is the node's own text, excluding children.
	Text string

	Hidden   bool
	Disabled bool

	// OnClick runs when the node or a descendant is clicked.
	OnClick func(n *Node)
	// OnInput runs after user input changes Value.
	OnInput func(n *Node)

	mu       sync.RWMutex
	value    string
	parent   *Node
	children []*Node
}

// El creates a node with the given tag and children.
func El(tag string, children ...*Node) *Node {
	n := &Node{Tag: tag}
	n.Append(children...)
	return n
}

// Text creates a text-bearing span.
func Text(s string) *Node {
	return &Node{Tag: "span", Text: s}
}

// Append adds children to n and returns n.
func (n *Node) Append(children ...*Node) *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, c := range children {
		if c == nil {
			continue
		}
		c.mu.Lock()
		c.parent = n
		c.mu.Unlock()
		n.children = append(n.children, c)
	}
	return n
}

// Remove detaches child from n.
func (n *Node) Remove(child *Node) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, c := range n.children {
		if c == child {
			n.children = append(n.children[:i:i], n.children[i+1:]...)
			c.mu.Lock()
			c.parent = nil
			c.mu.Unlock()
			return
		}
	}
}

// Children returns a snapshot of n's children.
func (n *Node) Children() []*Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]*Node(nil), n.children...)
}

// Parent returns the node n is attached to, or nil.
func (n *Node) Parent() *Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.parent
}

// Value returns the current input value.
func (n *Node) Value() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.value
}

// SetValue replaces the input value without firing OnInput.
func (n *Node) SetValue(v string) {
	n.mu.Lock()
	n.value = v
	n.mu.Unlock()
}

// SetText replaces the node's own text.
func (n *Node) SetText(s string) {
	n.mu.Lock()
	n.Text = s
	n.mu.Unlock()
}

func (n *Node) ownText() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.Text
}

// TextContent returns the text of n and its descendants joined by spaces.
func (n *Node) TextContent() string {
	var parts []string
	n.Walk(func(d *Node) bool {
		if t := strings.TrimSpace(d.ownText()); t != "" {
			parts = append(parts, t)
		}
		return true
	})
	return strings.Join(parts, " ")
}

// Walk visits n and its descendants depth first until fn returns false.
func (n *Node) Walk(fn func(*Node) bool) bool {
	if !fn(n) {
		return false
	}
	for _, c := range n.Children() {
		if !c.Walk(fn) {
			return false
		}
	}
	return true
}

// SetHidden shows or hides the node.
func (n *Node) SetHidden(hidden bool) {
	n.mu.Lock()
	n.Hidden = hidden
	n.mu.Unlock()
}

func (n *Node) hidden() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.Hidden
}

// Visible reports whether neither n nor an ancestor is hidden.
func (n *Node) Visible() bool {
	for cur := n; cur != nil; cur = cur.Parent() {
		if cur.hidden() {
			return false
		}
	}
	return true
}

// SetDisabled enables or disables the node.
func (n *Node) SetDisabled(disabled bool) {
	n.mu.Lock()
	n.Disabled = disabled
	n.mu.Unlock()
}

// Enabled reports whether neither n nor an ancestor is disabled.
func (n *Node) Enabled() bool {
	for cur := n; cur != nil; cur = cur.Parent() {
		cur.mu.RLock()
		disabled := cur.Disabled
		cur.mu.RUnlock()
		if disabled {
			return false
		}
	}
	return true
}

// Contains reports whether d is n or one of its descendants.
func (n *Node) Contains(d *Node) bool {
	for cur := d; cur != nil; cur = cur.Parent() {
		if cur == n {
			return true
		}
	}
	return false
}

// TagName implements call.Element.
func (n *Node) TagName() string { return n.Tag }

// ElementID implements call.Element.
func (n *Node) ElementID() string { return n.ID }

// ClassList implements call.Element.
func (n *Node) ClassList() []string { return n.Classes }

// InnerText implements call.Element.
func (n *Node) InnerText() string { return n.TextContent() }

// dispatchClick runs click handlers from n up to the root.
func (n *Node) dispatchClick() {
	for cur := n; cur != nil; cur = cur.Parent() {
		if cur.OnClick != nil {
			cur.OnClick(n)
		}
	}
}
