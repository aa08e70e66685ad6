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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/callstep/pkg/call"
)

func TestTextContent(t *testing.T) {
	root := El("div", Text("Hello"), El("p", Text("  world ")), &Node{Tag: "i"})
	assert.Equal(t, "Hello world", root.TextContent())

	root.SetText("Greeting:")
	assert.Equal(t, "Greeting: Hello world", root.TextContent())
}

func TestVisibilityIsInherited(t *testing.T) {
	leaf := Text("inner")
	section := El("section", leaf)
	root := El("div", section)

	assert.True(t, leaf.Visible())
	section.SetHidden(true)
	assert.False(t, leaf.Visible())
	assert.True(t, root.Visible())
}

func TestEnabledIsInherited(t *testing.T) {
	label := Text("Save")
	button := El("button", label)

	assert.True(t, label.Enabled())
	button.SetDisabled(true)
	assert.False(t, label.Enabled())
}

func TestClickBubbles(t *testing.T) {
	var order []string
	label := Text("Go")
	button := El("button", label)
	form := El("form", button)

	button.OnClick = func(target *Node) {
		assert.Same(t, label, target)
		order = append(order, "button")
	}
	form.OnClick = func(*Node) { order = append(order, "form") }

	label.dispatchClick()
	assert.Equal(t, []string{"button", "form"}, order)
}

func TestRemoveDetaches(t *testing.T) {
	child := Text("x")
	root := El("div", child)
	require.True(t, root.Contains(child))

	root.Remove(child)
	assert.False(t, root.Contains(child))
	assert.Nil(t, child.Parent())
	assert.Empty(t, root.Children())
}

func TestNodeDescribesAsElement(t *testing.T) {
	n := El("button", Text("Submit"))
	n.ID = "submit"
	n.Classes = []string{"primary"}

	assert.Equal(t, call.ElementDescriptor{
		LocalName:  "button",
		ID:         "submit",
		ClassNames: []string{"primary"},
		InnerText:  "Submit",
	}, call.Describe(n))
}
