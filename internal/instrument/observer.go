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
	"time"

	"github.com/tombee/callstep/pkg/call"
)

// Observer receives engine lifecycle notifications for metrics and tracing.
// Methods are called outside the session lock and must not block.
type Observer interface {
	// CallStarted is called once per recorded call, before it runs or is deferred.
	CallStarted(c call.Call)
	// CallDeferred is called when an interceptable call is suspended.
	CallDeferred(c call.Call)
	// CallSettled is called when a call is recorded as done or error.
	CallSettled(c call.Call, elapsed time.Duration)
	// CommandHandled is called after a debugger command is applied.
	CommandHandled(command string)
	// SessionReset is called after the session state is reset.
	SessionReset(isDebugging bool)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) CallStarted(call.Call)                {}
func (NopObserver) CallDeferred(call.Call)               {}
func (NopObserver) CallSettled(call.Call, time.Duration) {}
func (NopObserver) CommandHandled(string)                {}
func (NopObserver) SessionReset(bool)                    {}

type observers []Observer

// Observers fans notifications out to every non-nil observer in order.
func Observers(obs ...Observer) Observer {
	out := make(observers, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

func (o observers) CallStarted(c call.Call) {
	for _, ob := range o {
		ob.CallStarted(c)
	}
}

func (o observers) CallDeferred(c call.Call) {
	for _, ob := range o {
		ob.CallDeferred(c)
	}
}

func (o observers) CallSettled(c call.Call, elapsed time.Duration) {
	for _, ob := range o {
		ob.CallSettled(c, elapsed)
	}
}

func (o observers) CommandHandled(command string) {
	for _, ob := range o {
		ob.CommandHandled(command)
	}
}

func (o observers) SessionReset(isDebugging bool) {
	for _, ob := range o {
		ob.SessionReset(isDebugging)
	}
}
