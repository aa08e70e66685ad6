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

/*
Package instrument records, intercepts and replays calls made through
instrumented libraries.

# Overview

A Session patches every function reachable from an Object so that each
invocation is recorded as a call.Call, published on the channel, and, when
the call is interceptable and the session is debugging, suspended until the
debugger releases it:

	sess := instrument.NewSession(ch, instrument.WithLogger(logger))
	lib := sess.Instrument(instrument.Object{
		"click": instrument.Func(click),
	}, instrument.Options{Intercept: true}).(instrument.Object)

	_, err := instrument.Invoke(lib["click"], button)

# Suspension

A deferred call blocks its goroutine until NEXT, GOTO or END releases it, or
until the session resets. Calls abandoned by a reset return an error matching
ErrIgnored, which hosts treat as a clean stop rather than a failure.

# Failures

A failing interceptable call is recorded with state "error" and its caller
receives ErrIgnored. A failing non-interceptable call hands its error back as
the returned value and parks it as the forwarded exception; the next
interceptable call is then recorded as failed with that error. Panics are
never recovered.

# Replay

Start snapshots the finished run as shadow calls and asks the host to
remount. On the next run calls execute immediately until the playUntil target
runs, and the first interceptable call after it is suspended. Log projects the
merged shadow and live calls onto the top-level entries a debugger displays.
*/
package instrument
