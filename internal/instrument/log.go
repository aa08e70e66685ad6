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

	"github.com/tombee/callstep/pkg/call"
)

// Merge overlays calls onto shadow by position. Live calls replace the shadow
// entry at the same index; the result is as long as the longer input.
func Merge(shadow, calls []call.Call) []call.Call {
	merged := make([]call.Call, max(len(shadow), len(calls)))
	copy(merged, shadow)
	copy(merged, calls)
	return merged
}

// Project returns the top-level interceptable calls of the merged shadow and
// live calls, in execution order.
//
// Walking backwards, a call is hidden once it has been seen as an argument or
// receiver of a later call, or when its parent has. A listed call also hides
// its parent, so a callback is represented by the last call made inside it.
func Project(shadow, calls []call.Call) []call.LogItem {
	merged := Merge(shadow, calls)
	seen := make(map[string]struct{})
	items := make([]call.LogItem, 0, len(merged))

	for i := len(merged) - 1; i >= 0; i-- {
		c := merged[i]
		for _, id := range c.ReferencedIDs() {
			seen[id] = struct{}{}
		}
		if !c.Interceptable {
			continue
		}
		if _, ok := seen[c.ID]; ok {
			continue
		}
		if c.ParentID != "" {
			if _, ok := seen[c.ParentID]; ok {
				continue
			}
		}

		items = append(items, call.LogItem{CallID: c.ID, State: c.State})
		seen[c.ID] = struct{}{}
		if c.ParentID != "" {
			seen[c.ParentID] = struct{}{}
		}
	}

	slices.Reverse(items)
	return items
}

func firstPending(items []call.LogItem) int {
	return slices.IndexFunc(items, func(it call.LogItem) bool {
		return it.State == call.StatePending
	})
}

func findCall(calls []call.Call, id string) (call.Call, bool) {
	i := slices.IndexFunc(calls, func(c call.Call) bool { return c.ID == id })
	if i < 0 {
		return call.Call{}, false
	}
	return calls[i], true
}

// defaultPlayUntil picks the last top-level interceptable call before the
// first pending log entry, so a restart runs up to where execution currently
// stands without stopping inside a callback.
func defaultPlayUntil(shadow, calls []call.Call) string {
	merged := Merge(shadow, calls)
	stop := len(merged)

	items := Project(shadow, calls)
	if i := firstPending(items); i >= 0 {
		id := items[i].CallID
		if j := slices.IndexFunc(merged, func(c call.Call) bool { return c.ID == id }); j >= 0 {
			stop = j
		}
	}

	for i := stop - 1; i >= 0; i-- {
		if merged[i].Interceptable && merged[i].ParentID == "" {
			return merged[i].ID
		}
	}
	return ""
}
