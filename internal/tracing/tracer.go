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
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/callstep/internal/instrument"
	"github.com/tombee/callstep/pkg/call"
)

// Span attribute keys.
const (
	AttrCallID        = "callstep.call.id"
	AttrMethod        = "callstep.call.method"
	AttrPath          = "callstep.call.path"
	AttrInterceptable = "callstep.call.interceptable"
	AttrRetain        = "callstep.call.retain"
	AttrParentID      = "callstep.call.parent_id"
	AttrCommand       = "callstep.command"
	AttrDebugging     = "callstep.debugging"
)

// CallTracer records one span per call.
type CallTracer struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[string]trace.Span
}

var _ instrument.Observer = (*CallTracer)(nil)

// NewCallTracer creates a call tracer using the given tracer.
func NewCallTracer(tracer trace.Tracer) *CallTracer {
	return &CallTracer{
		tracer: tracer,
		spans:  make(map[string]trace.Span),
	}
}

// CallStarted implements instrument.Observer.
func (t *CallTracer) CallStarted(c call.Call) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ctx := context.Background()
	if parent, ok := t.spans[c.ParentID]; ok && c.ParentID != "" {
		ctx = trace.ContextWithSpan(ctx, parent)
	}

	attrs := []attribute.KeyValue{
		attribute.String(AttrCallID, c.ID),
		attribute.String(AttrMethod, c.Method),
		attribute.String(AttrPath, call.FormatPath(c.Path)),
		attribute.Bool(AttrInterceptable, c.Interceptable),
		attribute.Bool(AttrRetain, c.Retain),
	}
	if c.ParentID != "" {
		attrs = append(attrs, attribute.String(AttrParentID, c.ParentID))
	}

	_, span := t.tracer.Start(ctx, "call "+c.Method,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	if old, ok := t.spans[c.ID]; ok {
		old.End()
	}
	t.spans[c.ID] = span
}

// CallDeferred implements instrument.Observer.
func (t *CallTracer) CallDeferred(c call.Call) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if span, ok := t.spans[c.ID]; ok {
		span.AddEvent("deferred")
	}
}

// CallSettled implements instrument.Observer.
func (t *CallTracer) CallSettled(c call.Call, elapsed time.Duration) {
	t.mu.Lock()
	span, ok := t.spans[c.ID]
	delete(t.spans, c.ID)
	t.mu.Unlock()
	if !ok {
		return
	}

	if c.State == call.StateError && c.Exception != nil {
		span.AddEvent("exception", trace.WithAttributes(
			attribute.String("exception.type", c.Exception.Name),
			attribute.String("exception.message", c.Exception.Message),
		))
		span.SetStatus(codes.Error, c.Exception.Message)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// CommandHandled implements instrument.Observer.
func (t *CallTracer) CommandHandled(command string) {
	_, span := t.tracer.Start(context.Background(), "command "+command,
		trace.WithAttributes(attribute.String(AttrCommand, command)),
	)
	span.End()
}

// SessionReset implements instrument.Observer. Open spans belong to calls
// abandoned by the reset.
func (t *CallTracer) SessionReset(isDebugging bool) {
	t.mu.Lock()
	open := t.spans
	t.spans = make(map[string]trace.Span)
	t.mu.Unlock()

	for _, span := range open {
		span.AddEvent("abandoned", trace.WithAttributes(
			attribute.Bool(AttrDebugging, isDebugging),
		))
		span.End()
	}
}

// Open returns the number of calls with an open span.
func (t *CallTracer) Open() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.spans)
}
