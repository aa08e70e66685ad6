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
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/tombee/callstep/internal/channel"
	"github.com/tombee/callstep/internal/log"
	"github.com/tombee/callstep/pkg/call"
)

// DefaultSyncDelay is how long SYNC waits for further changes before it is
// published.
const DefaultSyncDelay = 16 * time.Millisecond

type state struct {
	storyID     string
	isDebugging bool
	cursor      int

	calls       []call.Call
	shadowCalls []call.Call

	callRefsByResult map[identity]trackedResult
	chainedCallIDs   map[string]struct{}
	resolvers        map[string]*resolver

	parentCallID       string
	playUntil          string
	forwardedException error

	// epoch is closed when the state is reset, abandoning suspended calls.
	epoch chan struct{}
}

func newState() state {
	return state{
		callRefsByResult: make(map[identity]trackedResult),
		chainedCallIDs:   make(map[string]struct{}),
		resolvers:        make(map[string]*resolver),
		epoch:            make(chan struct{}),
	}
}

// Session is one engine instance bound to a channel. It is safe for
// concurrent use.
type Session struct {
	mu sync.Mutex
	st state

	ch        *channel.Channel
	logger    *slog.Logger
	observer  Observer
	syncDelay time.Duration

	syncMu    sync.Mutex
	syncTimer *time.Timer

	subs      []*channel.Subscription
	closeOnce sync.Once
	closed    chan struct{}
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithObserver sets the observer notified of calls, commands and resets.
func WithObserver(o Observer) Option {
	return func(s *Session) { s.observer = o }
}

// WithSyncDelay sets the SYNC debounce delay.
func WithSyncDelay(d time.Duration) Option {
	return func(s *Session) { s.syncDelay = d }
}

// NewSession creates a session and subscribes it to the debugger commands and
// lifecycle events on ch.
func NewSession(ch *channel.Channel, opts ...Option) *Session {
	s := &Session{
		st:        newState(),
		ch:        ch,
		logger:    log.Discard(),
		observer:  NopObserver{},
		syncDelay: DefaultSyncDelay,
		closed:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.WithComponent(s.logger, "instrument")
	s.subscribe()
	return s
}

// Close unsubscribes from the channel and abandons every suspended call.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		for _, sub := range s.subs {
			sub.Cancel()
		}
		s.setState(func(st *state) {
			close(st.epoch)
			st.epoch = make(chan struct{})
			st.resolvers = make(map[string]*resolver)
		})
		s.syncMu.Lock()
		if s.syncTimer != nil {
			s.syncTimer.Stop()
		}
		s.syncMu.Unlock()
		close(s.closed)
	})
}

// setState is the only way state is mutated. fn must not call user code or
// emit on the channel.
func (s *Session) setState(fn func(*state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.st)
}

// Snapshot is a read-only view of the session state.
type Snapshot struct {
	StoryID            string
	IsDebugging        bool
	PlayUntil          string
	ParentCallID       string
	Calls              []call.Call
	ShadowCalls        []call.Call
	ChainedCallIDs     []string
	PendingCallIDs     []string
	ForwardedException error
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		StoryID:            s.st.storyID,
		IsDebugging:        s.st.isDebugging,
		PlayUntil:          s.st.playUntil,
		ParentCallID:       s.st.parentCallID,
		Calls:              cloneCalls(s.st.calls),
		ShadowCalls:        cloneCalls(s.st.shadowCalls),
		ForwardedException: s.st.forwardedException,
	}
	for id := range s.st.chainedCallIDs {
		snap.ChainedCallIDs = append(snap.ChainedCallIDs, id)
	}
	for id := range s.st.resolvers {
		snap.PendingCallIDs = append(snap.PendingCallIDs, id)
	}
	sort.Strings(snap.ChainedCallIDs)
	sort.Slice(snap.PendingCallIDs, func(i, j int) bool {
		return call.IndexOf(snap.PendingCallIDs[i]) < call.IndexOf(snap.PendingCallIDs[j])
	})
	return snap
}

// Calls returns the calls recorded so far, ordered by index.
func (s *Session) Calls() []call.Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneCalls(s.st.calls)
}

// Log returns the current projected log.
func (s *Session) Log() []call.LogItem {
	s.mu.Lock()
	shadow, calls := s.st.shadowCalls, s.st.calls
	s.mu.Unlock()
	return Project(shadow, calls)
}

func cloneCalls(calls []call.Call) []call.Call {
	if calls == nil {
		return nil
	}
	out := make([]call.Call, len(calls))
	for i, c := range calls {
		out[i] = c.Clone()
	}
	return out
}

// update records c, replacing any call with the same id, publishes it and
// schedules a SYNC.
func (s *Session) update(c call.Call) {
	s.emit(channel.EventCall, c)
	s.setState(func(st *state) {
		calls := make([]call.Call, 0, len(st.calls)+1)
		replaced := false
		for _, existing := range st.calls {
			if existing.ID == c.ID {
				calls = append(calls, c)
				replaced = true
				continue
			}
			calls = append(calls, existing)
		}
		if !replaced {
			calls = append(calls, c)
		}
		slices.SortStableFunc(calls, func(a, b call.Call) int {
			return a.Index() - b.Index()
		})
		st.calls = calls
	})
	s.scheduleSync()
}

func (s *Session) emit(event channel.Event, payload any) {
	if err := s.ch.Emit(event, payload); err != nil {
		s.logger.Warn("emit failed", log.EventKey, event, log.Error(err))
	}
}

// scheduleSync publishes the log once changes have settled for syncDelay.
func (s *Session) scheduleSync() {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	select {
	case <-s.closed:
		return
	default:
	}

	if s.syncTimer != nil {
		s.syncTimer.Stop()
	}
	s.syncTimer = time.AfterFunc(s.syncDelay, func() {
		s.emit(channel.EventSync, s.Log())
	})
}
