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

package channel

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/callstep/pkg/call"
)

// Event names a message kind on the channel.
type Event string

const (
	// EventCall carries a single call record whenever one is added or updated.
	EventCall Event = "CALL"
	// EventSync carries the projected log after changes settle.
	EventSync Event = "SYNC"
	// EventLock is true while an awaitable call result is unsettled.
	EventLock Event = "LOCK"

	// EventStart enters or restarts debugging.
	EventStart Event = "START"
	// EventBack steps back one log entry.
	EventBack Event = "BACK"
	// EventGoto jumps to a specific call.
	EventGoto Event = "GOTO"
	// EventNext releases the pending call.
	EventNext Event = "NEXT"
	// EventEnd leaves debugging and runs to completion.
	EventEnd Event = "END"

	// EventForceRemount asks the host to re-run the story.
	EventForceRemount Event = "FORCE_REMOUNT"
	// EventRenderPhase reports the host's render lifecycle.
	EventRenderPhase Event = "STORY_RENDER_PHASE_CHANGED"

	// EventHeartbeat keeps remote streams alive. It is never delivered locally.
	EventHeartbeat Event = "HEARTBEAT"
)

// IsCommand reports whether remote clients may inject e into the channel.
func IsCommand(e Event) bool {
	switch e {
	case EventStart, EventBack, EventGoto, EventNext, EventEnd, EventForceRemount, EventRenderPhase:
		return true
	}
	return false
}

// StartPayload is carried by EventStart.
type StartPayload struct {
	StoryID   string `json:"storyId"`
	PlayUntil string `json:"playUntil,omitempty"`
}

// BackPayload is carried by EventBack.
type BackPayload struct {
	StoryID string `json:"storyId"`
}

// GotoPayload is carried by EventGoto.
type GotoPayload struct {
	StoryID string `json:"storyId"`
	CallID  string `json:"callId"`
}

// NextPayload is carried by EventNext.
type NextPayload struct {
	StoryID string `json:"storyId,omitempty"`
}

// EndPayload is carried by EventEnd.
type EndPayload struct {
	StoryID string `json:"storyId,omitempty"`
}

// RemountPayload is carried by EventForceRemount.
type RemountPayload struct {
	StoryID     string `json:"storyId"`
	IsDebugging bool   `json:"isDebugging,omitempty"`
}

// RenderPhasePayload is carried by EventRenderPhase.
type RenderPhasePayload struct {
	StoryID  string           `json:"storyId,omitempty"`
	NewPhase call.RenderPhase `json:"newPhase"`
}

// Message is a single event delivered on the channel. Data holds the payload
// as it was marshalled at emit time.
type Message struct {
	ID        string          `json:"id"`
	Event     Event           `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage marshals payload and stamps a fresh message id.
func NewMessage(event Event, payload any) (Message, error) {
	msg := Message{
		ID:        uuid.NewString(),
		Event:     event,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		msg.Data = data
	}
	return msg, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s message has no payload", m.Event)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Event, err)
	}
	return nil
}

// ToSSE formats the message as a Server-Sent Events frame.
func (m Message) ToSSE() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}
	return fmt.Sprintf("id: %s\nevent: %s\ndata: %s\n\n", m.ID, m.Event, data), nil
}
