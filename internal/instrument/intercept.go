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
	"sync"

	"github.com/tombee/callstep/internal/log"
	"github.com/tombee/callstep/pkg/call"
)

// resolver releases one suspended call.
type resolver struct {
	ch   chan struct{}
	once sync.Once
}

func newResolver() *resolver {
	return &resolver{ch: make(chan struct{})}
}

func (r *resolver) release() {
	r.once.Do(func() { close(r.ch) })
}

// drainResolvers empties the pending map and returns what it held, to be
// released once the lock is dropped.
func (st *state) drainResolvers() []*resolver {
	out := make([]*resolver, 0, len(st.resolvers))
	for _, r := range st.resolvers {
		out = append(out, r)
	}
	st.resolvers = make(map[string]*resolver)
	return out
}

func releaseAll(rs []*resolver) {
	for _, r := range rs {
		r.release()
	}
}

// intercept runs an interceptable call at once, or suspends it until the
// debugger releases it.
func (s *Session) intercept(ctx context.Context, c call.Call, fn Func, args []any) result {
	var (
		immediate bool
		res       *resolver
		epoch     chan struct{}
	)
	s.setState(func(st *state) {
		_, chained := st.chainedCallIDs[c.ID]
		if !st.isDebugging || chained || st.playUntil != "" {
			immediate = true
			return
		}
		res = newResolver()
		st.resolvers[c.ID] = res
		epoch = st.epoch
	})

	if immediate {
		r := s.invoke(c, fn, args)
		s.setState(func(st *state) {
			if st.playUntil == c.ID {
				st.playUntil = ""
			}
		})
		return r
	}

	pending := c.WithState(call.StatePending)
	s.update(pending)
	s.observer.CallDeferred(pending)
	s.logger.Debug("call deferred", log.CallIDKey, c.ID, log.MethodKey, c.Method)

	forget := func() {
		s.setState(func(st *state) {
			if st.resolvers[c.ID] == res {
				delete(st.resolvers, c.ID)
			}
		})
	}

	select {
	case <-res.ch:
	case <-epoch:
		return result{failure: &failure{callID: c.ID, abandoned: true}}
	case <-ctx.Done():
		forget()
		return result{failure: &failure{callID: c.ID, cause: ctx.Err(), cancelled: true}}
	}

	// a reset racing the release wins
	select {
	case <-epoch:
		return result{failure: &failure{callID: c.ID, abandoned: true}}
	default:
	}
	forget()

	s.logger.Debug("call released", log.CallIDKey, c.ID)
	return s.invoke(c, fn, args)
}
