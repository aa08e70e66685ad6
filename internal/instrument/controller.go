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
	"github.com/tombee/callstep/internal/channel"
	"github.com/tombee/callstep/internal/log"
	"github.com/tombee/callstep/pkg/call"
)

// Start enters debugging, or restarts it, and asks the host to remount.
// The re-run executes immediately up to and including playUntil; when
// playUntil is empty it runs up to where execution currently stands.
func (s *Session) Start(storyID, playUntil string) {
	s.start(storyID, playUntil, playUntil != "")
	s.observer.CommandHandled("start")
}

// start with explicit set uses playUntil as given, even when empty.
func (s *Session) start(storyID, playUntil string, explicit bool) {
	s.setState(func(st *state) {
		if storyID == "" {
			storyID = st.storyID
		}
		st.storyID = storyID

		if !st.isDebugging {
			shadow := make([]call.Call, len(st.calls))
			for i, c := range st.calls {
				shadow[i] = c.Clone().WithState(call.StatePending)
			}
			st.shadowCalls = shadow
			st.calls = nil
			st.isDebugging = true
		}

		if !explicit {
			playUntil = defaultPlayUntil(st.shadowCalls, st.calls)
		}
		st.playUntil = playUntil
	})

	s.logger.Info("debugging started", log.StoryIDKey, storyID, "play_until", playUntil)
	s.emit(channel.EventForceRemount, channel.RemountPayload{StoryID: storyID, IsDebugging: true})
}

// Back restarts so that execution stops one log entry before the current
// one. Stepping back from the first two entries stops at the first.
func (s *Session) Back(storyID string) {
	var (
		target string
		ok     bool
	)
	s.setState(func(st *state) {
		items := Project(st.shadowCalls, st.calls)
		next := len(items)
		if st.isDebugging {
			if i := firstPending(items); i >= 0 {
				next = i
			}
		}
		if next >= 2 {
			target, ok = items[next-2].CallID, true
		}
	})

	s.start(storyID, target, true)
	s.logger.Debug("stepped back", "play_until", target, "found", ok)
	s.observer.CommandHandled("back")
}

// Goto moves execution to callID. A call that already ran is reached by a
// full re-run; a call still ahead is reached by letting the current run
// continue through it.
func (s *Session) Goto(storyID, callID string) {
	var (
		restart  bool
		released []*resolver
	)
	s.setState(func(st *state) {
		live, inCalls := findCall(st.calls, callID)
		_, inShadow := findCall(st.shadowCalls, callID)

		executed := inCalls && live.State != call.StatePending
		if executed || (!inCalls && !inShadow) || len(st.resolvers) == 0 {
			restart = true
			return
		}

		items := Project(st.shadowCalls, st.calls)
		if i := firstPending(items); i < 0 || items[i].CallID != callID {
			st.playUntil = callID
		}
		released = st.drainResolvers()
	})

	if restart {
		s.start(storyID, callID, true)
	} else {
		releaseAll(released)
	}
	s.logger.Debug("goto", log.CallIDKey, callID, "restart", restart)
	s.observer.CommandHandled("goto")
}

// Next releases the suspended call.
func (s *Session) Next() {
	var released []*resolver
	s.setState(func(st *state) { released = st.drainResolvers() })
	releaseAll(released)
	s.observer.CommandHandled("next")
}

// End leaves debugging and lets the run finish.
func (s *Session) End() {
	var released []*resolver
	s.setState(func(st *state) {
		st.playUntil = ""
		st.isDebugging = false
		released = st.drainResolvers()
	})
	releaseAll(released)
	s.logger.Info("debugging ended")
	s.observer.CommandHandled("end")
}

// Cleanup discards all state, abandons suspended calls and publishes an
// empty log.
func (s *Session) Cleanup() {
	s.syncMu.Lock()
	if s.syncTimer != nil {
		s.syncTimer.Stop()
	}
	s.syncMu.Unlock()

	s.setState(func(st *state) {
		close(st.epoch)
		*st = newState()
	})
	s.emit(channel.EventSync, []call.LogItem{})
	s.observer.SessionReset(false)
}

// reset starts a new run. Retained calls and their results survive. The
// shadow run, chained marks and playUntil survive only while debugging.
func (s *Session) reset(isDebugging bool) {
	s.setState(func(st *state) {
		close(st.epoch)
		st.epoch = make(chan struct{})

		var retained []call.Call
		for _, c := range st.calls {
			if c.Retain {
				retained = append(retained, c)
			}
		}
		refs := make(map[identity]trackedResult)
		for id, tr := range st.callRefsByResult {
			if tr.ref.Retain {
				refs[id] = tr
			}
		}

		st.calls = retained
		st.callRefsByResult = refs
		st.isDebugging = isDebugging
		st.resolvers = make(map[string]*resolver)
		// Retained calls keep their indices; new calls number after them.
		st.cursor = len(retained)
		st.parentCallID = ""
		st.forwardedException = nil

		if !isDebugging {
			st.shadowCalls = nil
			st.chainedCallIDs = make(map[string]struct{})
			st.playUntil = ""
		}
	})

	s.logger.Debug("session reset", "debugging", isDebugging)
	s.observer.SessionReset(isDebugging)
	s.scheduleSync()
}

// renderPhase applies a host lifecycle change.
func (s *Session) renderPhase(p channel.RenderPhasePayload) {
	switch p.NewPhase {
	case call.PhaseLoading:
		var debugging bool
		s.setState(func(st *state) {
			if p.StoryID != "" {
				st.storyID = p.StoryID
			}
			debugging = st.isDebugging
		})
		s.reset(debugging)

	case call.PhaseCompleted:
		var forwarded error
		s.setState(func(st *state) {
			st.isDebugging = false
			forwarded, st.forwardedException = st.forwardedException, nil
		})
		if forwarded != nil {
			s.logger.Warn("run completed with an unsurfaced failure", log.Error(forwarded))
		}
	}
}

func (s *Session) subscribe() {
	on := func(event channel.Event, payload func() any, apply func(any)) *channel.Subscription {
		return s.ch.On(event, func(m channel.Message) {
			v := payload()
			if len(m.Data) > 0 {
				if err := m.Decode(v); err != nil {
					s.logger.Warn("ignoring malformed command", log.EventKey, event, log.Error(err))
					return
				}
			}
			apply(v)
		})
	}

	s.subs = append(s.subs,
		on(channel.EventStart, func() any { return &channel.StartPayload{} }, func(v any) {
			p := v.(*channel.StartPayload)
			s.Start(p.StoryID, p.PlayUntil)
		}),
		on(channel.EventBack, func() any { return &channel.BackPayload{} }, func(v any) {
			s.Back(v.(*channel.BackPayload).StoryID)
		}),
		on(channel.EventGoto, func() any { return &channel.GotoPayload{} }, func(v any) {
			p := v.(*channel.GotoPayload)
			s.Goto(p.StoryID, p.CallID)
		}),
		on(channel.EventNext, func() any { return &channel.NextPayload{} }, func(any) {
			s.Next()
		}),
		on(channel.EventEnd, func() any { return &channel.EndPayload{} }, func(any) {
			s.End()
		}),
		on(channel.EventForceRemount, func() any { return &channel.RemountPayload{} }, func(v any) {
			s.reset(v.(*channel.RemountPayload).IsDebugging)
		}),
		on(channel.EventRenderPhase, func() any { return &channel.RenderPhasePayload{} }, func(v any) {
			s.renderPhase(*v.(*channel.RenderPhasePayload))
		}),
	)
}
