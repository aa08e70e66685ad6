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
Package tracing provides OpenTelemetry metrics and spans for the
instrumentation engine.

Both MetricsCollector and CallTracer implement instrument.Observer and are
attached to a session with instrument.WithObserver:

	provider, err := tracing.NewProvider(ctx, tracing.Config{
	    ServiceName: "callstep",
	    Exporter:    exporter,
	})
	session := instrument.NewSession(ch, instrument.WithObserver(
	    instrument.Observers(provider.MetricsCollector(), provider.CallTracer()),
	))

# Metrics

Metrics are exported in Prometheus format from Provider.MetricsHandler:

  - callstep_calls_total: recorded calls by method, state and interceptable
  - callstep_call_duration_seconds: time from invocation to settle
  - callstep_calls_deferred_total: calls suspended by the debugger
  - callstep_commands_total: debugger commands applied
  - callstep_resets_total: session resets
  - callstep_events_total: channel events by type
  - callstep_runs_total, callstep_run_duration_seconds: story runs
  - callstep_calls_pending: calls currently suspended
  - callstep_debugging: 1 while the session is in debugging mode

# Spans

CallTracer opens one span per recorded call. A call made inside a callback
is a child of the call that received the callback. Spans of calls abandoned
by a reset are ended with an "abandoned" event.

Span exporters are built by the export subpackage.
*/
package tracing
