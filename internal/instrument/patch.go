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
	"slices"

	"github.com/tombee/callstep/pkg/call"
)

// Instrument patches every function reachable from obj through plain objects
// and function namespaces. Unless opts.Mutate is set, objects are copied and
// obj is left untouched. Values that are not objects are returned unchanged,
// as are functions that are already instrumented.
func (s *Session) Instrument(obj any, opts Options) any {
	switch v := obj.(type) {
	case Object:
		return s.walk(v, opts)
	case map[string]any:
		return map[string]any(s.walk(Object(v), opts))
	case *FuncObject:
		return s.patchNamespace(v, opts)
	}
	return obj
}

func (s *Session) walk(obj Object, opts Options) Object {
	out := obj
	if !opts.Mutate {
		out = make(Object, len(obj))
	}
	for key, value := range obj {
		out[key] = s.patch(key, value, opts)
	}
	return out
}

func (s *Session) patch(key string, value any, opts Options) any {
	switch v := value.(type) {
	case *Wrapped:
		return v
	case Func:
		return s.wrap(key, v, nil, opts)
	case func(...any) (any, error):
		return s.wrap(key, Func(v), nil, opts)
	case *FuncObject:
		var props Object
		if len(v.Props) > 0 {
			props = s.walk(v.Props, opts.child(key))
		}
		return s.wrap(key, v.Fn, props, opts)
	case Object:
		return s.walk(v, opts.child(key))
	case map[string]any:
		return map[string]any(s.walk(Object(v), opts.child(key)))
	}
	return value
}

func (s *Session) patchNamespace(fo *FuncObject, opts Options) *FuncObject {
	out := fo
	if !opts.Mutate {
		out = &FuncObject{Fn: fo.Fn}
	}
	if len(fo.Props) > 0 {
		out.Props = s.walk(fo.Props, opts)
	}
	return out
}

func (s *Session) wrap(method string, fn Func, props Object, opts Options) *Wrapped {
	opts.Path = slices.Clone(opts.Path)
	return &Wrapped{
		session:  s,
		method:   method,
		original: fn,
		props:    props,
		opts:     opts,
	}
}

// resultOptions are used to instrument the value returned by a call, so that
// calls chained on it record a path starting at the producing call.
func resultOptions(opts Options, ref call.CallRef) Options {
	opts.Mutate = true
	opts.Path = []call.PathElem{call.RefElem(ref)}
	return opts
}
