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

package tracing

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tombee/callstep/internal/instrument"
	"github.com/tombee/callstep/pkg/call"
)

// MetricsCollector collects Prometheus-compatible metrics for a session.
type MetricsCollector struct {
	meter metric.Meter

	// Counters
	callsTotal    metric.Int64Counter
	deferredTotal metric.Int64Counter
	commandsTotal metric.Int64Counter
	resetsTotal   metric.Int64Counter
	eventsTotal   metric.Int64Counter
	runsTotal     metric.Int64Counter

	// Histograms
	callDuration metric.Float64Histogram
	runDuration  metric.Float64Histogram

	// Gauges (using observable gauges)
	pending   map[string]bool
	debugging bool
	mu        sync.RWMutex
}

var _ instrument.Observer = (*MetricsCollector)(nil)

// NewMetricsCollector creates a new metrics collector using the given meter provider.
func NewMetricsCollector(meterProvider metric.MeterProvider) (*MetricsCollector, error) {
	meter := meterProvider.Meter("callstep")

	mc := &MetricsCollector{
		meter:   meter,
		pending: make(map[string]bool),
	}

	var err error

	mc.callsTotal, err = meter.Int64Counter(
		"callstep_calls_total",
		metric.WithDescription("Total number of recorded calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	mc.deferredTotal, err = meter.Int64Counter(
		"callstep_calls_deferred_total",
		metric.WithDescription("Total number of calls suspended by the debugger"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	mc.commandsTotal, err = meter.Int64Counter(
		"callstep_commands_total",
		metric.WithDescription("Total number of debugger commands applied"),
		metric.WithUnit("{command}"),
	)
	if err != nil {
		return nil, err
	}

	mc.resetsTotal, err = meter.Int64Counter(
		"callstep_resets_total",
		metric.WithDescription("Total number of session resets"),
		metric.WithUnit("{reset}"),
	)
	if err != nil {
		return nil, err
	}

	mc.eventsTotal, err = meter.Int64Counter(
		"callstep_events_total",
		metric.WithDescription("Total number of channel events emitted"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	mc.runsTotal, err = meter.Int64Counter(
		"callstep_runs_total",
		metric.WithDescription("Total number of story runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	mc.callDuration, err = meter.Float64Histogram(
		"callstep_call_duration_seconds",
		metric.WithDescription("Time from invocation to settle in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	mc.runDuration, err = meter.Float64Histogram(
		"callstep_run_duration_seconds",
		metric.WithDescription("Story run duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"callstep_calls_pending",
		metric.WithDescription("Number of calls currently suspended"),
		metric.WithUnit("{call}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			observer.Observe(int64(mc.Pending()))
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"callstep_debugging",
		metric.WithDescription("1 while the session is in debugging mode"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			mc.mu.RLock()
			v := int64(0)
			if mc.debugging {
				v = 1
			}
			mc.mu.RUnlock()
			observer.Observe(v)
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return mc, nil
}

// Pending returns the number of calls currently suspended.
func (mc *MetricsCollector) Pending() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return len(mc.pending)
}

// CallStarted implements instrument.Observer.
func (mc *MetricsCollector) CallStarted(call.Call) {}

// CallDeferred implements instrument.Observer.
func (mc *MetricsCollector) CallDeferred(c call.Call) {
	mc.mu.Lock()
	mc.pending[c.ID] = true
	mc.mu.Unlock()

	mc.deferredTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("method", c.Method),
	))
}

// CallSettled implements instrument.Observer.
func (mc *MetricsCollector) CallSettled(c call.Call, elapsed time.Duration) {
	mc.mu.Lock()
	delete(mc.pending, c.ID)
	mc.mu.Unlock()

	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("method", c.Method),
		attribute.String("state", string(c.State)),
		attribute.Bool("interceptable", c.Interceptable),
	}

	mc.callsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	mc.callDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attrs[:2]...))
}

// CommandHandled implements instrument.Observer.
func (mc *MetricsCollector) CommandHandled(command string) {
	mc.commandsTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("command", command),
	))
}

// SessionReset implements instrument.Observer. Suspended calls are abandoned
// by a reset, so the pending gauge drops to zero.
func (mc *MetricsCollector) SessionReset(isDebugging bool) {
	mc.mu.Lock()
	clear(mc.pending)
	mc.debugging = isDebugging
	mc.mu.Unlock()

	mc.resetsTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("debugging", strconv.FormatBool(isDebugging)),
	))
}

// RecordEvent records a channel event emission.
func (mc *MetricsCollector) RecordEvent(ctx context.Context, event string) {
	mc.eventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", event),
	))
}

// RecordRun records the completion of a story run.
func (mc *MetricsCollector) RecordRun(ctx context.Context, storyID, status string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("story", storyID),
		attribute.String("status", status),
	}

	mc.runsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	mc.runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}
