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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/callstep/internal/channel"
	"github.com/tombee/callstep/pkg/call"
)

func stepLib(s *Session) Object {
	return s.Instrument(Object{
		"a": Func(identityFn), "b": Func(identityFn), "c": Func(identityFn),
	}, Options{Intercept: true}).(Object)
}

// debugAt finishes one plain run, starts debugging and steps until the
// run is suspended at id.
func debugAt(t *testing.T, s *Session, lib Object, id string) <-chan error {
	t.Helper()
	require.NoError(t, waitDone(t, story(lib, "a", "b", "c")))

	s.Start("story", "")
	done := story(lib, "a", "b", "c")
	for _, step := range []string{"0-a", "1-b", "2-c"} {
		waitPending(t, s, step)
		if step == id {
			return done
		}
		s.Next()
	}
	t.Fatalf("never reached %s", id)
	return nil
}

func TestStartSnapshotsShadowCalls(t *testing.T) {
	s, _, rec := newTestSession(t)
	lib := stepLib(s)

	require.NoError(t, waitDone(t, story(lib, "a", "b", "c")))
	s.Start("story", "")

	snap := s.Snapshot()
	assert.True(t, snap.IsDebugging)
	assert.Empty(t, snap.Calls)
	require.Len(t, snap.ShadowCalls, 3)
	for _, c := range snap.ShadowCalls {
		assert.Equal(t, call.StatePending, c.State)
	}
	assert.Empty(t, snap.PlayUntil, "the first entry is already pending")
	assert.Equal(t, []channel.RemountPayload{{StoryID: "story", IsDebugging: true}}, rec.remountEvents())

	assert.Equal(t, []call.LogItem{
		{CallID: "0-a", State: call.StatePending},
		{CallID: "1-b", State: call.StatePending},
		{CallID: "2-c", State: call.StatePending},
	}, s.Log())
}

func TestStartWhileDebuggingResumesAtCurrentCall(t *testing.T) {
	s, _, _ := newTestSession(t)
	lib := stepLib(s)

	done := debugAt(t, s, lib, "2-c")
	s.Start("story", "")
	assert.ErrorIs(t, waitDone(t, done), ErrIgnored)
	assert.Equal(t, "1-b", s.Snapshot().PlayUntil)

	done = story(lib, "a", "b", "c")
	waitPending(t, s, "2-c")
	s.End()
	require.NoError(t, waitDone(t, done))
}

func TestBack(t *testing.T) {
	tests := []struct {
		name      string
		at        string
		playUntil string
		pauseAt   string
	}{
		{"from third entry", "2-c", "0-a", "1-b"},
		{"from second entry", "1-b", "", "0-a"},
		{"from first entry", "0-a", "", "0-a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, _ := newTestSession(t)
			lib := stepLib(s)

			done := debugAt(t, s, lib, tt.at)
			s.Back("story")
			assert.ErrorIs(t, waitDone(t, done), ErrIgnored)
			assert.Equal(t, tt.playUntil, s.Snapshot().PlayUntil)

			done = story(lib, "a", "b", "c")
			waitPending(t, s, tt.pauseAt)
			s.End()
			require.NoError(t, waitDone(t, done))
		})
	}
}

func TestBackWhenNotDebugging(t *testing.T) {
	s, _, _ := newTestSession(t)
	lib := stepLib(s)

	require.NoError(t, waitDone(t, story(lib, "a", "b", "c")))
	s.Back("story")

	snap := s.Snapshot()
	assert.True(t, snap.IsDebugging)
	assert.Equal(t, "1-b", snap.PlayUntil, "second-to-last entry")
}

func TestGotoAheadLetsTheRunContinue(t *testing.T) {
	s, _, rec := newTestSession(t)
	lib := stepLib(s)

	done := debugAt(t, s, lib, "0-a")
	remounts := len(rec.remountEvents())

	s.Goto("story", "2-c")
	require.NoError(t, waitDone(t, done))

	assert.Empty(t, s.Snapshot().PlayUntil, "cleared once 2-c ran")
	assert.Len(t, rec.remountEvents(), remounts, "no re-run")
}

func TestGotoNextPendingOnlyReleases(t *testing.T) {
	s, _, _ := newTestSession(t)
	lib := stepLib(s)

	done := debugAt(t, s, lib, "1-b")
	s.Goto("story", "1-b")

	waitPending(t, s, "2-c")
	assert.Empty(t, s.Snapshot().PlayUntil)
	s.Next()
	require.NoError(t, waitDone(t, done))
}

func TestGotoExecutedCallRestarts(t *testing.T) {
	s, _, rec := newTestSession(t)
	lib := stepLib(s)

	done := debugAt(t, s, lib, "2-c")
	s.Goto("story", "0-a")
	assert.ErrorIs(t, waitDone(t, done), ErrIgnored)

	assert.Equal(t, "0-a", s.Snapshot().PlayUntil)
	remounts := rec.remountEvents()
	assert.Equal(t, channel.RemountPayload{StoryID: "story", IsDebugging: true}, remounts[len(remounts)-1])

	done = story(lib, "a", "b", "c")
	waitPending(t, s, "1-b")
	s.End()
	require.NoError(t, waitDone(t, done))
}

func TestGotoUnknownCallRestarts(t *testing.T) {
	s, _, rec := newTestSession(t)

	s.Goto("story", "9-missing")

	snap := s.Snapshot()
	assert.True(t, snap.IsDebugging)
	assert.Equal(t, "9-missing", snap.PlayUntil)
	assert.Len(t, rec.remountEvents(), 1)
}

func TestEndRunsToCompletion(t *testing.T) {
	s, _, _ := newTestSession(t)
	lib := stepLib(s)

	done := debugAt(t, s, lib, "1-b")
	s.End()
	require.NoError(t, waitDone(t, done))

	snap := s.Snapshot()
	assert.False(t, snap.IsDebugging)
	assert.Empty(t, snap.PlayUntil)
	assert.Empty(t, snap.PendingCallIDs)
	for _, c := range snap.Calls {
		assert.Equal(t, call.StateDone, c.State, c.ID)
	}
}

func TestCommandsArriveOverTheChannel(t *testing.T) {
	s, ch, _ := newTestSession(t)
	lib := stepLib(s)

	require.NoError(t, waitDone(t, story(lib, "a", "b", "c")))
	require.NoError(t, ch.Emit(channel.EventStart, channel.StartPayload{StoryID: "story"}))

	done := story(lib, "a", "b", "c")
	waitPending(t, s, "0-a")
	require.NoError(t, ch.Emit(channel.EventNext, channel.NextPayload{}))
	waitPending(t, s, "1-b")
	require.NoError(t, ch.Emit(channel.EventGoto, channel.GotoPayload{StoryID: "story", CallID: "2-c"}))
	require.NoError(t, waitDone(t, done))

	// malformed payloads are dropped
	ch.Inject(channel.Message{Event: channel.EventGoto, Data: []byte(`{"callId":`)})
	assert.Empty(t, s.Snapshot().PlayUntil)

	require.NoError(t, ch.Emit(channel.EventEnd, channel.EndPayload{}))
	assert.False(t, s.Snapshot().IsDebugging)
}

func TestExternalRemountLeavesDebugging(t *testing.T) {
	s, ch, _ := newTestSession(t)
	lib := stepLib(s)

	done := debugAt(t, s, lib, "1-b")
	require.NoError(t, ch.Emit(channel.EventForceRemount, channel.RemountPayload{StoryID: "story"}))
	assert.ErrorIs(t, waitDone(t, done), ErrIgnored)

	snap := s.Snapshot()
	assert.False(t, snap.IsDebugging)
	assert.Empty(t, snap.ShadowCalls)
	assert.Empty(t, snap.ChainedCallIDs)
}

func TestRenderPhaseCompleted(t *testing.T) {
	s, ch, _ := newTestSession(t)

	lib := s.Instrument(Object{
		"within": Func(func(...any) (any, error) { return nil, errors.New("detached") }),
	}, Options{}).(Object)

	_, err := Invoke(lib["within"])
	require.NoError(t, err)
	s.setState(func(st *state) { st.isDebugging = true })

	require.NoError(t, ch.Emit(channel.EventRenderPhase, channel.RenderPhasePayload{NewPhase: call.PhaseCompleted}))

	snap := s.Snapshot()
	assert.False(t, snap.IsDebugging)
	assert.Nil(t, snap.ForwardedException)
}

func TestRetainedCallsSurviveReset(t *testing.T) {
	s, ch, _ := newTestSession(t)

	global := s.Instrument(Object{
		"fn": Func(func(...any) (any, error) { return &widget{}, nil }),
	}, Options{Retain: true}).(Object)
	local := s.Instrument(Object{"use": Func(identityFn)}, Options{}).(Object)

	w, err := Invoke(global["fn"])
	require.NoError(t, err)
	_, err = Invoke(local["use"], 1)
	require.NoError(t, err)

	require.NoError(t, ch.Emit(channel.EventForceRemount, channel.RemountPayload{}))

	calls := s.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "0-fn", calls[0].ID)
	assert.True(t, calls[0].Retain)

	_, err = Invoke(local["use"], w)
	require.NoError(t, err)
	c, ok := findCall(s.Calls(), "1-use")
	require.True(t, ok, "new calls are numbered after retained ones")
	assert.Equal(t, &call.CallRef{CallID: "0-fn", Retain: true}, c.Args[0].Ref)
}

func TestRetainedCallKeepsIDAfterReset(t *testing.T) {
	s, ch, _ := newTestSession(t)

	global := s.Instrument(Object{"fn": Func(identityFn)}, Options{Retain: true}).(Object)
	local := s.Instrument(Object{"fn": Func(identityFn)}, Options{}).(Object)

	_, err := Invoke(global["fn"], 1)
	require.NoError(t, err)

	require.NoError(t, ch.Emit(channel.EventForceRemount, channel.RemountPayload{}))

	_, err = Invoke(local["fn"], 2)
	require.NoError(t, err)

	calls := s.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "0-fn", calls[0].ID)
	assert.True(t, calls[0].Retain)
	assert.Equal(t, "1-fn", calls[1].ID)
	assert.False(t, calls[1].Retain)
}

func TestSyncIsDebounced(t *testing.T) {
	s, _, rec := newTestSession(t)
	lib := stepLib(s)

	require.NoError(t, waitDone(t, story(lib, "a", "b", "c")))

	require.Eventually(t, func() bool { return len(rec.lastSync()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []call.LogItem{
		{CallID: "0-a", State: call.StateDone},
		{CallID: "1-b", State: call.StateDone},
		{CallID: "2-c", State: call.StateDone},
	}, rec.lastSync())
}

func TestCleanup(t *testing.T) {
	s, _, rec := newTestSession(t)
	lib := stepLib(s)

	done := debugAt(t, s, lib, "1-b")
	s.Cleanup()
	assert.ErrorIs(t, waitDone(t, done), ErrIgnored)

	snap := s.Snapshot()
	assert.False(t, snap.IsDebugging)
	assert.Empty(t, snap.Calls)
	assert.Empty(t, snap.ShadowCalls)
	assert.Empty(t, snap.StoryID)
	assert.Equal(t, []call.LogItem{}, rec.lastSync())
}
