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
	"fmt"
	"strings"
)

// PathElem is one segment of a call path: either a property name or a
// reference to the call whose result the method was reached through.
type PathElem struct {
	Key string
	Ref *CallRef
}

// Key returns a property-name path element.
func Key(k string) PathElem {
	return PathElem{Key: k}
}

// RefElem returns a call-reference path element.
func RefElem(ref CallRef) PathElem {
	return PathElem{Ref: &ref}
}

// String implements fmt.Stringer.
func (p PathElem) String() string {
	if p.Ref != nil {
		return "<" + p.Ref.CallID + ">"
	}
	return p.Key
}

// FormatPath renders a path as dot-separated segments, e.g. "<0-within>.user".
func FormatPath(path []PathElem) string {
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = p.String()
	}
	return strings.Join(parts, ".")
}

// MarshalJSON encodes a key as a JSON string and a reference as an object.
func (p PathElem) MarshalJSON() ([]byte, error) {
	if p.Ref != nil {
		return json.Marshal(p.Ref)
	}
	return json.Marshal(p.Key)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *PathElem) UnmarshalJSON(data []byte) error {
	var key string
	if err := json.Unmarshal(data, &key); err == nil {
		*p = PathElem{Key: key}
		return nil
	}
	var ref CallRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return fmt.Errorf("path element must be a string or call reference: %w", err)
	}
	*p = PathElem{Ref: &ref}
	return nil
}
