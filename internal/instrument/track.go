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
	"log/slog"
	"slices"

	"github.com/tombee/callstep/internal/log"
	"github.com/tombee/callstep/pkg/call"
)

// result is the outcome of a tracked call. Failures stay out of the Go error
// path until track hands them to the caller.
type result struct {
	value   any
	failure *failure
}

type failure struct {
	callID    string
	cause     error
	abandoned bool
	cancelled bool
	// passthrough is returned unchanged, for stop signals raised by nested calls.
	passthrough error
}

func (f *failure) err() error {
	switch {
	case f.passthrough != nil:
		return f.passthrough
	case f.cancelled:
		return f.cause
	}
	return &IgnoredError{CallID: f.callID, Cause: f.cause, Abandoned: f.abandoned}
}

// track records one invocation of an instrumented function and runs, defers
// or fails it.
func (s *Session) track(ctx context.Context, method string, fn Func, args []any, opts Options) (any, error) {
	interceptable := opts.interceptable(method)

	var (
		c    call.Call
		refs []*call.CallRef
	)
	s.setState(func(st *state) {
		c = call.Call{
			ID:            call.NewID(st.cursor, method),
			Path:          slices.Clone(opts.Path),
			Method:        method,
			Interceptable: interceptable,
			Retain:        opts.Retain,
			ParentID:      st.parentCallID,
		}
		st.cursor++

		// A call on a call result runs its receiver immediately on every
		// later run, so the mark must exist before any deferral decision.
		for _, p := range c.Path {
			if p.Ref != nil {
				st.chainedCallIDs[p.Ref.CallID] = struct{}{}
			}
		}
		refs = st.refsFor(args)
	})
	c.Args = mapArgs(args, refs)

	s.observer.CallStarted(c)
	log.Trace(s.logger, "call tracked",
		slog.String(log.CallIDKey, c.ID),
		slog.Bool("interceptable", interceptable),
		slog.Int("args", len(args)))

	var r result
	if interceptable {
		r = s.intercept(ctx, c, fn, args)
	} else {
		r = s.invoke(c, fn, args)
	}

	if r.failure != nil {
		return nil, r.failure.err()
	}
	if _, ok := r.value.(*Promise); ok {
		return r.value, nil
	}
	return s.Instrument(r.value, resultOptions(opts, c.Ref())), nil
}
