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
	"context"
	"sync"
)

// Promise is an awaitable result. A function returning a *Promise is treated
// as asynchronous: the call is settled when the promise is.
type Promise struct {
	done  chan struct{}
	once  sync.Once
	value any
	err   error
}

// NewPromise returns an unsettled promise.
func NewPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

// Resolved returns a promise already fulfilled with v.
func Resolved(v any) *Promise {
	p := NewPromise()
	p.Resolve(v)
	return p
}

// Rejected returns a promise already rejected with err.
func Rejected(err error) *Promise {
	p := NewPromise()
	p.Reject(err)
	return p
}

// Go runs fn on a new goroutine and settles the returned promise with its
// result.
func Go(fn func() (any, error)) *Promise {
	p := NewPromise()
	go func() {
		v, err := fn()
		p.settle(v, err)
	}()
	return p
}

// Resolve fulfils the promise. Only the first settlement has any effect.
func (p *Promise) Resolve(v any) { p.settle(v, nil) }

// Reject rejects the promise. Only the first settlement has any effect.
func (p *Promise) Reject(err error) { p.settle(nil, err) }

func (p *Promise) settle(v any, err error) {
	p.once.Do(func() {
		p.value, p.err = v, err
		close(p.done)
	})
}

// Done is closed once the promise settles.
func (p *Promise) Done() <-chan struct{} { return p.done }

// Await blocks until the promise settles or ctx ends.
func (p *Promise) Await(ctx context.Context) (any, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
