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

package instrument

import (
	"encoding/json"
	"reflect"

	"github.com/tombee/callstep/pkg/call"
)

// identity keys a call result by reference. Only values with reference
// semantics have one; primitives and structs held by value are never tracked.
type identity struct {
	typ reflect.Type
	ptr uintptr
	n   int
}

// trackedResult holds the value itself so its address cannot be reused while
// it is tracked.
type trackedResult struct {
	ref   call.CallRef
	value any
}

func identityOf(v any) (identity, bool) {
	if v == nil {
		return identity{}, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.UnsafePointer:
		if rv.IsNil() {
			return identity{}, false
		}
		return identity{typ: rv.Type(), ptr: rv.Pointer()}, true
	case reflect.Slice:
		// empty slices may share a backing address
		if rv.Len() == 0 {
			return identity{}, false
		}
		return identity{typ: rv.Type(), ptr: rv.Pointer(), n: rv.Len()}, true
	}
	return identity{}, false
}

// trackResult remembers that v was produced by ref.
func (st *state) trackResult(v any, ref call.CallRef) {
	if id, ok := identityOf(v); ok {
		st.callRefsByResult[id] = trackedResult{ref: ref, value: v}
	}
}

func (st *state) refFor(v any) (call.CallRef, bool) {
	id, ok := identityOf(v)
	if !ok {
		return call.CallRef{}, false
	}
	tr, ok := st.callRefsByResult[id]
	return tr.ref, ok
}

// refsFor resolves call references for args. It only inspects identities
// and is safe to run under the session lock.
func (st *state) refsFor(args []any) []*call.CallRef {
	refs := make([]*call.CallRef, len(args))
	for i, a := range args {
		if ref, ok := st.refFor(a); ok {
			refs[i] = &ref
		}
	}
	return refs
}

// mapArgs converts live arguments into their serializable form. refs holds
// the references found by refsFor, which take precedence.
func mapArgs(args []any, refs []*call.CallRef) []call.Arg {
	out := make([]call.Arg, len(args))
	for i, a := range args {
		if refs[i] != nil {
			out[i] = call.RefArg(*refs[i])
			continue
		}
		out[i] = mapArg(a)
	}
	return out
}

func mapArg(v any) call.Arg {
	if v == nil {
		return call.Primitive(nil)
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return call.Primitive(nil)
	}
	if el, ok := v.(call.Element); ok {
		return call.ElementArg(el)
	}

	switch o := v.(type) {
	case *Wrapped:
		return call.OpaqueArg("func " + o.method)
	case *FuncObject, *Promise:
		return call.OpaqueArg(reflect.TypeOf(v).String())
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return call.OpaqueArg(rv.Type().String())
	}
	if _, err := json.Marshal(v); err != nil {
		return call.OpaqueArg(rv.Type().String())
	}
	return call.Primitive(v)
}
