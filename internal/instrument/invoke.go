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
	"errors"
	"reflect"
	"runtime/debug"
	"time"

	"github.com/tombee/callstep/internal/channel"
	"github.com/tombee/callstep/internal/log"
	"github.com/tombee/callstep/pkg/call"
)

// invoke runs fn and records how it settled.
func (s *Session) invoke(c call.Call, fn Func, args []any) result {
	var forwarded error
	s.setState(func(st *state) {
		forwarded, st.forwardedException = st.forwardedException, nil
	})
	if forwarded != nil {
		s.logger.Debug("raising forwarded exception", log.CallIDKey, c.ID, log.Error(forwarded))
		return s.fail(c, forwarded, 0)
	}

	start := time.Now()
	value, err := fn(s.liveArgs(c.ID, args)...)
	if err != nil {
		return s.fail(c, err, time.Since(start))
	}
	if p, ok := value.(*Promise); ok {
		return s.await(c, p, start)
	}

	s.setState(func(st *state) { st.trackResult(value, c.Ref()) })
	done := c.WithState(call.StateDone)
	s.update(done)
	s.observer.CallSettled(done, time.Since(start))
	return result{value: value}
}

// fail records c as failed with err. Interceptable calls turn the failure
// into a stop signal; other calls forward it to the next interceptable call
// and hand it back as their value.
func (s *Session) fail(c call.Call, err error, elapsed time.Duration) result {
	failed := c.WithState(call.StateError)
	failed.Exception = newException(err)

	if errors.Is(err, ErrIgnored) {
		// a nested call already recorded the real failure
		s.update(failed)
		s.observer.CallSettled(failed, elapsed)
		return result{failure: &failure{callID: c.ID, passthrough: err}}
	}

	s.setState(func(st *state) { st.trackResult(err, c.Ref()) })
	s.update(failed)
	s.observer.CallSettled(failed, elapsed)

	if c.Interceptable {
		return result{failure: &failure{callID: c.ID, cause: err}}
	}

	s.setState(func(st *state) { st.forwardedException = err })
	return result{value: err}
}

// await settles c when p does. The caller receives a derived promise that
// rejects with a stop signal where a synchronous failure would have returned
// one.
func (s *Session) await(c call.Call, p *Promise, start time.Time) result {
	out := NewPromise()
	s.setState(func(st *state) {
		st.trackResult(p, c.Ref())
		st.trackResult(out, c.Ref())
	})
	s.emit(channel.EventLock, true)

	go func() {
		select {
		case <-p.Done():
		case <-s.closed:
			out.Reject(&IgnoredError{CallID: c.ID, Abandoned: true})
			return
		}
		s.emit(channel.EventLock, false)

		if p.err != nil {
			r := s.fail(c, p.err, time.Since(start))
			if r.failure != nil {
				out.Reject(r.failure.err())
			} else {
				out.Resolve(r.value)
			}
			return
		}

		s.setState(func(st *state) { st.trackResult(p.value, c.Ref()) })
		done := c.WithState(call.StateDone)
		s.update(done)
		s.observer.CallSettled(done, time.Since(start))
		out.Resolve(p.value)
	}()

	return result{value: out}
}

// liveArgs wraps function arguments so that calls made while they run record
// parentID as their parent.
func (s *Session) liveArgs(parentID string, args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = s.wrapCallback(parentID, a)
	}
	return out
}

func (s *Session) wrapCallback(parentID string, a any) any {
	if a == nil {
		return nil
	}
	fn := reflect.ValueOf(a)
	if fn.Kind() != reflect.Func || fn.IsNil() {
		return a
	}

	variadic := fn.Type().IsVariadic()
	wrapped := reflect.MakeFunc(fn.Type(), func(in []reflect.Value) []reflect.Value {
		var prev string
		s.setState(func(st *state) {
			prev, st.parentCallID = st.parentCallID, parentID
		})
		restore := func() {
			s.setState(func(st *state) { st.parentCallID = prev })
		}

		deferred := false
		defer func() {
			if !deferred {
				restore()
			}
		}()

		var out []reflect.Value
		if variadic {
			out = fn.CallSlice(in)
		} else {
			out = fn.Call(in)
		}

		// an async callback keeps its calls parented until it settles
		for _, v := range out {
			if !v.IsValid() || !v.CanInterface() {
				continue
			}
			if p, ok := v.Interface().(*Promise); ok && p != nil {
				deferred = true
				go func() {
					select {
					case <-p.Done():
					case <-s.closed:
					}
					restore()
				}()
				break
			}
		}
		return out
	})
	return wrapped.Interface()
}

// newException describes err. The stack is the current goroutine's, prefixed
// with the error's name and message.
func newException(err error) *call.Exception {
	name := errorName(err)
	msg := err.Error()
	return &call.Exception{
		Name:    name,
		Message: msg,
		Stack:   name + ": " + msg + "\n" + string(debug.Stack()),
	}
}

func errorName(err error) string {
	var named interface{ Name() string }
	if errors.As(err, &named) {
		if n := named.Name(); n != "" {
			return n
		}
	}

	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch name := t.Name(); {
	case name == "", t.PkgPath() == "errors", t.PkgPath() == "fmt":
		return "Error"
	default:
		return name
	}
}
