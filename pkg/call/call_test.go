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

package call

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeElement struct{}

func (fakeElement) TagName() string     { return "button" }
func (fakeElement) ElementID() string   { return "submit" }
func (fakeElement) ClassList() []string { return []string{"btn", "primary"} }
func (fakeElement) InnerText() string   { return "Submit" }

func TestIndexOf(t *testing.T) {
	tests := []struct {
		id   string
		want int
	}{
		{"0-getByText", 0},
		{"12-toBe", 12},
		{"3-some-dashed-name", 3},
		{"getByText", -1},
		{"x-getByText", -1},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.want, IndexOf(tt.id))
		})
	}

	assert.Equal(t, "7-click", NewID(7, "click"))
}

func TestCallJSONShape(t *testing.T) {
	c := Call{
		ID:     "1-toBe",
		Path:   []PathElem{Key("expect"), RefElem(CallRef{CallID: "0-expect"})},
		Method: "toBe",
		Args: []Arg{
			Primitive("foo"),
			RefArg(CallRef{CallID: "0-expect"}),
			ElementArg(fakeElement{}),
			OpaqueArg("func()"),
		},
		Interceptable: true,
	}

	data, err := json.Marshal(c)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"id": "1-toBe",
		"path": ["expect", {"__callId__": "0-expect", "retain": false}],
		"method": "toBe",
		"args": [
			"foo",
			{"__callId__": "0-expect", "retain": false},
			{"__element__": {"localName": "button", "id": "submit", "classNames": ["btn", "primary"], "innerText": "Submit"}},
			{"__opaque__": "func()"}
		],
		"interceptable": true,
		"retain": false
	}`, string(data))

	var decoded Call
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, KindCallRef, decoded.Args[1].Kind)
	assert.Equal(t, "0-expect", decoded.Args[1].Ref.CallID)
	assert.Equal(t, KindElement, decoded.Args[2].Kind)
	assert.Equal(t, "submit", decoded.Args[2].Element.ID)
	assert.Equal(t, KindOpaque, decoded.Args[3].Kind)
	assert.Equal(t, "expect", decoded.Path[0].Key)
	require.NotNil(t, decoded.Path[1].Ref)
	assert.Equal(t, "0-expect", decoded.Path[1].Ref.CallID)
}

func TestReferencedIDs(t *testing.T) {
	c := Call{
		ID:   "4-click",
		Path: []PathElem{Key("userEvent"), RefElem(CallRef{CallID: "2-setup"})},
		Args: []Arg{RefArg(CallRef{CallID: "3-getByText"}), Primitive(1)},
	}
	assert.Equal(t, []string{"3-getByText", "2-setup"}, c.ReferencedIDs())
}

func TestClone(t *testing.T) {
	c := Call{
		ID:        "0-fn",
		Args:      []Arg{Primitive(1)},
		Exception: &Exception{Name: "Error", Message: "Boom!"},
	}
	cp := c.Clone()
	cp.Args[0] = Primitive(2)
	cp.Exception.Message = "changed"

	assert.Equal(t, 1, c.Args[0].Value)
	assert.Equal(t, "Boom!", c.Exception.Message)
}

func TestFormatPath(t *testing.T) {
	path := []PathElem{RefElem(CallRef{CallID: "0-within"}), Key("user")}
	assert.Equal(t, "<0-within>.user", FormatPath(path))
	assert.Equal(t, "", FormatPath(nil))
}
