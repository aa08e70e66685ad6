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
	"errors"
	"fmt"
)

// ErrIgnored reports that a call's failure has already been recorded, or that
// a suspended call was abandoned by a reset. Hosts swallow it.
var ErrIgnored = errors.New("instrument: call stopped")

// IgnoredError carries the call that stopped. It matches ErrIgnored with
// errors.Is and unwraps to the underlying failure, if any.
type IgnoredError struct {
	CallID    string
	Cause     error
	Abandoned bool
}

func (e *IgnoredError) Error() string {
	if e.Abandoned {
		return fmt.Sprintf("instrument: call %s abandoned", e.CallID)
	}
	return fmt.Sprintf("instrument: call %s failed: %v", e.CallID, e.Cause)
}

// Is reports whether target is ErrIgnored.
func (e *IgnoredError) Is(target error) bool { return target == ErrIgnored }

func (e *IgnoredError) Unwrap() error { return e.Cause }
