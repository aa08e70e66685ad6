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

package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/callstep/pkg/call"
	cerrors "github.com/tombee/callstep/pkg/errors"
)

func newTestStore(t *testing.T) *RunStore {
	t.Helper()
	store, err := New(Config{Path: filepath.Join(t.TempDir(), "runs.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleRun(storyID string, started time.Time) *Run {
	calls := []call.Call{
		{
			ID:     "0-getByText",
			Method: "getByText",
			Path:   []call.PathElem{call.Key("screen")},
			Args:   []call.Arg{call.Primitive("Submit")},
			State:  call.StateDone,
		},
		{
			ID:            "1-click",
			Method:        "click",
			Path:          []call.PathElem{call.Key("userEvent")},
			Args:          []call.Arg{call.RefArg(call.CallRef{CallID: "0-getByText"})},
			Interceptable: true,
			State:         call.StateError,
			Exception:     &call.Exception{Name: "Error", Message: "not clickable"},
		},
	}
	return &Run{
		StoryID:   storyID,
		Status:    RunErrored,
		Error:     "not clickable",
		StartedAt: started,
		EndedAt:   started.Add(250 * time.Millisecond),
		Calls:     calls,
		Log:       []call.LogItem{{CallID: "1-click", State: call.StateError}},
	}
}

func TestSaveAndGetRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := sampleRun("login", time.Unix(1700000000, 0))
	require.NoError(t, store.SaveRun(ctx, run))
	require.NotEmpty(t, run.ID, "SaveRun assigns an id")
	assert.Equal(t, 2, run.CallCount)

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)

	assert.Equal(t, "login", got.StoryID)
	assert.Equal(t, RunErrored, got.Status)
	assert.Equal(t, "not clickable", got.Error)
	assert.Equal(t, 250*time.Millisecond, got.Duration())
	assert.True(t, run.StartedAt.Equal(got.StartedAt))
	assert.Equal(t, run.Calls, got.Calls)
	assert.Equal(t, run.Log, got.Log)
}

func TestSaveRunReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := sampleRun("login", time.Now())
	require.NoError(t, store.SaveRun(ctx, run))

	run.Status = RunCompleted
	run.Error = ""
	run.Calls = run.Calls[:1]
	require.NoError(t, store.SaveRun(ctx, run))

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, got.Status)
	assert.Empty(t, got.Error)
	assert.Len(t, got.Calls, 1)
}

func TestListRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	for i, story := range []string{"login", "signup", "login"} {
		require.NoError(t, store.SaveRun(ctx, sampleRun(story, base.Add(time.Duration(i)*time.Minute))))
	}

	all, err := store.ListRuns(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].StartedAt.After(all[1].StartedAt), "newest first")
	assert.Equal(t, 2, all[0].CallCount)
	assert.Nil(t, all[0].Calls, "list does not load calls")

	logins, err := store.ListRuns(ctx, ListOptions{StoryID: "login"})
	require.NoError(t, err)
	assert.Len(t, logins, 2)

	limited, err := store.ListRuns(ctx, ListOptions{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestGetRunNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetRun(context.Background(), "missing")
	require.Error(t, err)

	var notFound *cerrors.NotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "run", notFound.Resource)
}

func TestDeleteRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := sampleRun("login", time.Now())
	require.NoError(t, store.SaveRun(ctx, run))
	require.NoError(t, store.DeleteRun(ctx, run.ID))

	_, err := store.GetRun(ctx, run.ID)
	var notFound *cerrors.NotFoundError
	assert.True(t, errors.As(err, &notFound))

	err = store.DeleteRun(ctx, run.ID)
	assert.True(t, errors.As(err, &notFound))
}

func TestSaveRunValidation(t *testing.T) {
	store := newTestStore(t)

	err := store.SaveRun(context.Background(), &Run{})
	var validation *cerrors.ValidationError
	require.True(t, errors.As(err, &validation))
	assert.Equal(t, "run.storyId", validation.Field)

	_, err = New(Config{})
	assert.True(t, errors.As(err, &validation))
}

func TestInMemoryStore(t *testing.T) {
	store, err := New(Config{Path: ":memory:"})
	require.NoError(t, err)
	defer store.Close()

	run := sampleRun("login", time.Now())
	require.NoError(t, store.SaveRun(context.Background(), run))

	got, err := store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Len(t, got.Calls, 2)
}
