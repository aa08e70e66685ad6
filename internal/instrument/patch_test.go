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
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/callstep/pkg/call"
)

func TestInstrumentIsIdempotent(t *testing.T) {
	s, _, _ := newTestSession(t)

	orig := Func(identityFn)
	once := s.Instrument(Object{"fn": orig}, Options{}).(Object)
	twice := s.Instrument(once, Options{}).(Object)

	w1, ok := once["fn"].(*Wrapped)
	require.True(t, ok)
	w2, ok := twice["fn"].(*Wrapped)
	require.True(t, ok)

	assert.Same(t, w1, w2)
	assert.Equal(t, reflect.ValueOf(orig).Pointer(), reflect.ValueOf(w1.Original()).Pointer())
}

func TestInstrumentCopiesUnlessMutating(t *testing.T) {
	s, _, _ := newTestSession(t)

	src := Object{"fn": Func(identityFn), "n": 3}
	out := s.Instrument(src, Options{}).(Object)

	_, wrapped := src["fn"].(*Wrapped)
	assert.False(t, wrapped, "source must be left untouched")
	assert.IsType(t, &Wrapped{}, out["fn"])
	assert.Equal(t, 3, out["n"])

	s.Instrument(src, Options{Mutate: true})
	assert.IsType(t, &Wrapped{}, src["fn"])
}

func TestInstrumentNestedPathsAndNamespaces(t *testing.T) {
	s, _, _ := newTestSession(t)

	lib := s.Instrument(Object{
		"screen": map[string]any{
			"getByText": Func(identityFn),
		},
		"expect": &FuncObject{
			Fn: identityFn,
			Props: Object{
				"soft": Func(identityFn),
			},
		},
		"plain": func(args ...any) (any, error) { return "ok", nil },
		"list":  []any{Func(identityFn)},
	}, Options{}).(Object)

	getByText := Member(lib["screen"], "getByText").(*Wrapped)
	assert.Equal(t, []call.PathElem{call.Key("screen")}, getByText.opts.Path)

	expect := lib["expect"].(*Wrapped)
	soft := Member(expect, "soft").(*Wrapped)
	assert.Equal(t, "soft", soft.Method())
	assert.Equal(t, []call.PathElem{call.Key("expect")}, soft.opts.Path)

	v, err := Invoke(lib["plain"])
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.IsType(t, &Wrapped{}, lib["plain"])

	// slices are not walked
	assert.IsType(t, Func(nil), lib["list"].([]any)[0])
}

func TestResultsAreInstrumentedForChaining(t *testing.T) {
	s, _, _ := newTestSession(t)

	lib := s.Instrument(Object{
		"expect": Func(func(args ...any) (any, error) {
			return Object{"toBe": Func(func(...any) (any, error) { return true, nil })}, nil
		}),
	}, Options{Intercept: true}).(Object)

	matchers, err := Invoke(lib["expect"], 1)
	require.NoError(t, err)

	_, err = InvokeMember(t.Context(), matchers, "toBe", 1)
	require.NoError(t, err)

	calls := s.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "1-toBe", calls[1].ID)
	assert.Equal(t, []call.PathElem{call.RefElem(call.CallRef{CallID: "0-expect"})}, calls[1].Path)
	assert.Equal(t, []string{"0-expect"}, s.Snapshot().ChainedCallIDs)
}

func TestInvokeRejectsNonCallables(t *testing.T) {
	_, err := Invoke(42)
	assert.ErrorContains(t, err, "not callable")

	_, err = Invoke(nil)
	assert.Error(t, err)

	_, err = InvokeMember(t.Context(), Object{}, "missing")
	assert.ErrorContains(t, err, `no member "missing"`)
}
