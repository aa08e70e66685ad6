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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tombee/callstep/internal/channel"
	"github.com/tombee/callstep/pkg/call"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recorder collects what a session publishes.
type recorder struct {
	mu       sync.Mutex
	calls    []call.Call
	syncs    [][]call.LogItem
	locks    []bool
	remounts []channel.RemountPayload
}

func newRecorder(t *testing.T, ch *channel.Channel) *recorder {
	t.Helper()
	r := &recorder{}
	ch.On(channel.EventCall, func(m channel.Message) {
		var c call.Call
		assert.NoError(t, m.Decode(&c))
		r.mu.Lock()
		r.calls = append(r.calls, c)
		r.mu.Unlock()
	})
	ch.On(channel.EventSync, func(m channel.Message) {
		var items []call.LogItem
		assert.NoError(t, m.Decode(&items))
		r.mu.Lock()
		r.syncs = append(r.syncs, items)
		r.mu.Unlock()
	})
	ch.On(channel.EventLock, func(m channel.Message) {
		var locked bool
		assert.NoError(t, m.Decode(&locked))
		r.mu.Lock()
		r.locks = append(r.locks, locked)
		r.mu.Unlock()
	})
	ch.On(channel.EventForceRemount, func(m channel.Message) {
		var p channel.RemountPayload
		assert.NoError(t, m.Decode(&p))
		r.mu.Lock()
		r.remounts = append(r.remounts, p)
		r.mu.Unlock()
	})
	return r
}

// last returns the most recent CALL event for id.
func (r *recorder) last(id string) (call.Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.calls) - 1; i >= 0; i-- {
		if r.calls[i].ID == id {
			return r.calls[i], true
		}
	}
	return call.Call{}, false
}

func (r *recorder) lastSync() []call.LogItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.syncs) == 0 {
		return nil
	}
	return r.syncs[len(r.syncs)-1]
}

func (r *recorder) lockEvents() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.locks)
}

func (r *recorder) remountEvents() []channel.RemountPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.remounts)
}

func newTestSession(t *testing.T) (*Session, *channel.Channel, *recorder) {
	t.Helper()
	ch := channel.New(nil)
	rec := newRecorder(t, ch)
	s := NewSession(ch, WithSyncDelay(time.Millisecond))
	t.Cleanup(s.Close)
	return s, ch, rec
}

func waitPending(t *testing.T, s *Session, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return slices.Contains(s.Snapshot().PendingCallIDs, id)
	}, 2*time.Second, time.Millisecond, "call %s never suspended", id)
}

// identity returns its first argument.
func identityFn(args ...any) (any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	return args[0], nil
}

// callsBack invokes a func() argument, if any.
func callsBack(args ...any) (any, error) {
	if len(args) > 0 {
		if cb, ok := args[0].(func()); ok {
			cb()
		}
	}
	return nil, nil
}

// story runs the named members of lib in order, like a play function.
func story(lib Object, methods ...string) <-chan error {
	done := make(chan error, 1)
	go func() {
		for _, m := range methods {
			if _, err := Invoke(lib[m]); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish")
		return nil
	}
}
