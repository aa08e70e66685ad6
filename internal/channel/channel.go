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

// Package channel is the pub/sub bus between the instrumentation engine, the
// host that runs stories and any debugger front end.
//
// Emit delivers synchronously to every local handler registered for the
// event, including handlers registered by the emitter itself, and then
// forwards the message to attached transports such as the SSE server.
// Messages arriving from a remote peer enter through Inject and are only
// delivered locally.
package channel

import (
	"log/slog"
	"sync"

	"github.com/tombee/callstep/internal/log"
)

// Handler receives messages for a subscribed event.
type Handler func(Message)

// Transport forwards locally emitted messages to remote peers. Send must not
// block the emitter.
type Transport interface {
	Send(Message)
}

// Channel is an in-process message bus. The zero value is not usable; create
// one with New.
type Channel struct {
	mu         sync.RWMutex
	handlers   map[Event][]*Subscription
	transports map[int]Transport
	nextID     int
	logger     *slog.Logger
}

// Subscription is a registered handler. Cancel removes it.
type Subscription struct {
	ch      *Channel
	event   Event
	handler Handler
	once    sync.Once
}

// New creates an empty channel. A nil logger discards output.
func New(logger *slog.Logger) *Channel {
	if logger == nil {
		logger = log.Discard()
	}
	return &Channel{
		handlers:   make(map[Event][]*Subscription),
		transports: make(map[int]Transport),
		logger:     log.WithComponent(logger, "channel"),
	}
}

// On registers h for event. Handlers run in registration order on the
// emitting goroutine.
func (c *Channel) On(event Event, h Handler) *Subscription {
	sub := &Subscription{ch: c, event: event, handler: h}

	c.mu.Lock()
	c.handlers[event] = append(c.handlers[event], sub)
	c.mu.Unlock()

	return sub
}

// Cancel unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		c := s.ch
		c.mu.Lock()
		defer c.mu.Unlock()

		subs := c.handlers[s.event]
		for i, other := range subs {
			if other == s {
				next := make([]*Subscription, 0, len(subs)-1)
				next = append(next, subs[:i]...)
				c.handlers[s.event] = append(next, subs[i+1:]...)
				break
			}
		}
	})
}

// Attach adds a transport and returns a function that detaches it.
func (c *Channel) Attach(t Transport) (detach func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.transports[id] = t
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.transports, id)
		c.mu.Unlock()
	}
}

// Emit marshals payload, delivers it to local handlers and forwards it to
// every attached transport.
func (c *Channel) Emit(event Event, payload any) error {
	msg, err := NewMessage(event, payload)
	if err != nil {
		return err
	}

	log.Trace(c.logger, "emit", slog.String(log.EventKey, string(event)), slog.String("data", string(msg.Data)))

	c.deliver(msg)

	c.mu.RLock()
	transports := make([]Transport, 0, len(c.transports))
	for _, t := range c.transports {
		transports = append(transports, t)
	}
	c.mu.RUnlock()

	for _, t := range transports {
		t.Send(msg)
	}
	return nil
}

// Inject delivers a message that arrived from a remote peer to local handlers
// without forwarding it back out.
func (c *Channel) Inject(msg Message) {
	c.logger.Debug("inject", log.EventKey, msg.Event, "id", msg.ID)
	c.deliver(msg)
}

func (c *Channel) deliver(msg Message) {
	c.mu.RLock()
	subs := c.handlers[msg.Event]
	c.mu.RUnlock()

	// subs is never mutated in place, so iterating the snapshot is safe while
	// handlers subscribe or cancel.
	for _, sub := range subs {
		sub.handler(msg)
	}
}
