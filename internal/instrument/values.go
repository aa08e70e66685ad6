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
	"context"
	"fmt"
	"slices"

	"github.com/tombee/callstep/pkg/call"
)

// Func is the calling convention of instrumentable functions.
type Func func(args ...any) (any, error)

// Object is a plain object whose members are patched recursively.
type Object map[string]any

// FuncObject is a function that also acts as a namespace, such as a
// matcher with helper members.
type FuncObject struct {
	Fn    Func
	Props Object
}

// Options controls how a value is instrumented.
type Options struct {
	// Intercept marks every patched function interceptable.
	Intercept bool

	// InterceptFunc decides interceptability per method when Intercept is
	// false. path is the member path leading to the method.
	InterceptFunc func(method string, path []call.PathElem) bool

	// Retain keeps the recorded calls across resets.
	Retain bool

	// Mutate patches objects in place instead of copying them.
	Mutate bool

	// Path is prepended to the member path of every patched function.
	Path []call.PathElem
}

func (o Options) interceptable(method string) bool {
	if o.Intercept {
		return true
	}
	if o.InterceptFunc != nil {
		return o.InterceptFunc(method, o.Path)
	}
	return false
}

func (o Options) child(key string) Options {
	o.Path = append(slices.Clone(o.Path), call.Key(key))
	return o
}

// Wrapped is an instrumented function. Calling it records a call and may
// suspend the caller while the session is debugging.
type Wrapped struct {
	session  *Session
	method   string
	original Func
	props    Object
	opts     Options
}

// Original returns the unpatched function.
func (w *Wrapped) Original() Func { return w.original }

// Props returns the patched members carried by the function, if any.
func (w *Wrapped) Props() Object { return w.props }

// Method returns the member name the function was found under.
func (w *Wrapped) Method() string { return w.method }

// Call invokes the function without a cancellation context.
func (w *Wrapped) Call(args ...any) (any, error) {
	return w.CallContext(context.Background(), args...)
}

// CallContext invokes the function. If the call is suspended and ctx ends
// first, ctx.Err() is returned and the call never runs.
func (w *Wrapped) CallContext(ctx context.Context, args ...any) (any, error) {
	return w.session.track(ctx, w.method, w.original, args, w.opts)
}

// Invoke calls fn, which may be a *Wrapped, a Func, a *FuncObject or a plain
// func(...any) (any, error).
func Invoke(fn any, args ...any) (any, error) {
	return InvokeContext(context.Background(), fn, args...)
}

// InvokeContext is Invoke with a context for suspended calls.
func InvokeContext(ctx context.Context, fn any, args ...any) (any, error) {
	switch f := fn.(type) {
	case *Wrapped:
		return f.CallContext(ctx, args...)
	case Func:
		return f(args...)
	case func(...any) (any, error):
		return f(args...)
	case *FuncObject:
		return InvokeContext(ctx, f.Fn, args...)
	case nil:
		return nil, fmt.Errorf("instrument: invoke of nil")
	default:
		return nil, fmt.Errorf("instrument: %T is not callable", fn)
	}
}

// Member returns the named member of an Object, a plain map, a *FuncObject
// or a *Wrapped carrying props. It returns nil when there is none.
func Member(v any, name string) any {
	switch o := v.(type) {
	case Object:
		return o[name]
	case map[string]any:
		return o[name]
	case *FuncObject:
		return o.Props[name]
	case *Wrapped:
		return o.props[name]
	}
	return nil
}

// InvokeMember calls the named member of v.
func InvokeMember(ctx context.Context, v any, name string, args ...any) (any, error) {
	m := Member(v, name)
	if m == nil {
		return nil, fmt.Errorf("instrument: no member %q on %T", name, v)
	}
	return InvokeContext(ctx, m, args...)
}
