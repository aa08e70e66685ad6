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
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind tags the variant held by an Arg.
type Kind string

const (
	// KindPrimitive is plain serializable data passed through unchanged.
	KindPrimitive Kind = "primitive"

	// KindCallRef is the result of an earlier tracked call.
	KindCallRef Kind = "callref"

	// KindElement is a DOM-element-like value reduced to a descriptor.
	KindElement Kind = "element"

	// KindOpaque is a value that cannot be serialized (functions, channels).
	KindOpaque Kind = "opaque"
)

// Element is implemented by DOM-element-like values. Arguments implementing
// it are recorded as an ElementDescriptor instead of the live value.
type Element interface {
	TagName() string
	ElementID() string
	ClassList() []string
	InnerText() string
}

// ElementDescriptor is the serializable form of an Element.
type ElementDescriptor struct {
	LocalName  string   `json:"localName"`
	ID         string   `json:"id"`
	ClassNames []string `json:"classNames"`
	InnerText  string   `json:"innerText"`
}

// Describe builds the descriptor for an element.
func Describe(e Element) ElementDescriptor {
	classes := append([]string{}, e.ClassList()...)
	return ElementDescriptor{
		LocalName:  e.TagName(),
		ID:         e.ElementID(),
		ClassNames: classes,
		InnerText:  e.InnerText(),
	}
}

// Arg is a recorded argument. Exactly one variant is populated, selected by
// Kind.
type Arg struct {
	Kind    Kind
	Value   any
	Ref     *CallRef
	Element *ElementDescriptor
	Opaque  string
}

// Primitive wraps plain data.
func Primitive(v any) Arg {
	return Arg{Kind: KindPrimitive, Value: v}
}

// RefArg wraps a call reference.
func RefArg(ref CallRef) Arg {
	return Arg{Kind: KindCallRef, Ref: &ref}
}

// ElementArg wraps an element descriptor.
func ElementArg(e Element) Arg {
	d := Describe(e)
	return Arg{Kind: KindElement, Element: &d}
}

// OpaqueArg records only the Go type name of a value.
func OpaqueArg(typeName string) Arg {
	return Arg{Kind: KindOpaque, Opaque: typeName}
}

type elementEnvelope struct {
	Element ElementDescriptor `json:"__element__"`
}

type opaqueEnvelope struct {
	Opaque string `json:"__opaque__"`
}

// MarshalJSON implements json.Marshaler.
func (a Arg) MarshalJSON() ([]byte, error) {
	switch a.Kind {
	case KindCallRef:
		return json.Marshal(a.Ref)
	case KindElement:
		return json.Marshal(elementEnvelope{Element: *a.Element})
	case KindOpaque:
		return json.Marshal(opaqueEnvelope{Opaque: a.Opaque})
	case KindPrimitive, "":
		return json.Marshal(a.Value)
	default:
		return nil, fmt.Errorf("unknown argument kind %q", a.Kind)
	}
}

// UnmarshalJSON implements json.Unmarshaler. Objects carrying one of the
// reserved keys decode to their variant; everything else is primitive data.
func (a *Arg) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &probe); err != nil {
			return err
		}
		if _, ok := probe["__callId__"]; ok {
			var ref CallRef
			if err := json.Unmarshal(trimmed, &ref); err != nil {
				return err
			}
			*a = RefArg(ref)
			return nil
		}
		if raw, ok := probe["__element__"]; ok {
			var d ElementDescriptor
			if err := json.Unmarshal(raw, &d); err != nil {
				return err
			}
			*a = Arg{Kind: KindElement, Element: &d}
			return nil
		}
		if raw, ok := probe["__opaque__"]; ok {
			var name string
			if err := json.Unmarshal(raw, &name); err != nil {
				return err
			}
			*a = OpaqueArg(name)
			return nil
		}
	}

	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return err
	}
	*a = Primitive(v)
	return nil
}
