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

package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/callstep/internal/channel"
	"github.com/tombee/callstep/internal/instrument"
	"github.com/tombee/callstep/internal/log"
	"github.com/tombee/callstep/internal/storage"
	"github.com/tombee/callstep/pkg/call"
	cerrors "github.com/tombee/callstep/pkg/errors"
)

// persistTimeout bounds how long a finished run may spend being saved.
const persistTimeout = 5 * time.Second

// RunStore persists finished runs.
type RunStore interface {
	SaveRun(ctx context.Context, run *storage.Run) error
}

// RunRecorder records run outcomes as metrics.
type RunRecorder interface {
	RecordRun(ctx context.Context, storyID, status string, duration time.Duration)
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithStore persists every run that is not aborted.
func WithStore(s RunStore) RunnerOption {
	return func(r *Runner) { r.store = s }
}

// WithRunRecorder reports run outcomes to rec.
func WithRunRecorder(rec RunRecorder) RunnerOption {
	return func(r *Runner) { r.recorder = rec }
}

// WithRunnerLogger sets the runner logger.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// Runner is the host side of the debugger. It renders stories, runs their
// play functions against the instrumented library and re-runs them whenever
// the session asks for a remount.
type Runner struct {
	session  *instrument.Session
	ch       *channel.Channel
	registry *Registry
	store    RunStore
	recorder RunRecorder
	logger   *slog.Logger
	lib      instrument.Object
	sub      *channel.Subscription

	// runMu serializes restarts.
	runMu sync.Mutex

	mu      sync.Mutex
	gen     uint64
	storyID string
	root    *Node
	current *run
	updated chan struct{}
	closed  bool
	wg      sync.WaitGroup
}

type run struct {
	gen     uint64
	storyID string
	cancel  context.CancelFunc
	done    chan struct{}
	result  *storage.Run
}

// NewRunner instruments the testing library on session and subscribes to
// remount requests on ch.
func NewRunner(session *instrument.Session, ch *channel.Channel, registry *Registry, opts ...RunnerOption) *Runner {
	r := &Runner{
		session:  session,
		ch:       ch,
		registry: registry,
		logger:   log.Discard(),
		updated:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = log.WithComponent(r.logger, "runner")

	lib := session.Instrument(Library(r.document), instrument.Options{InterceptFunc: Interceptable})
	r.lib = lib.(instrument.Object)

	r.sub = ch.On(channel.EventForceRemount, func(m channel.Message) {
		var p channel.RemountPayload
		if len(m.Data) > 0 {
			if err := m.Decode(&p); err != nil {
				r.logger.Warn("ignoring malformed remount", log.Error(err))
				return
			}
		}
		r.remount(p.StoryID)
	})
	return r
}

func (r *Runner) document() *Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.root
}

// notify wakes Wait callers. r.mu must be held.
func (r *Runner) notify() {
	close(r.updated)
	r.updated = make(chan struct{})
}

// supersede cancels the current run and returns the generation of the run
// that replaces it. r.mu must be held.
func (r *Runner) supersede() uint64 {
	r.gen++
	if r.current != nil {
		r.current.cancel()
	}
	return r.gen
}

// Play renders the story and runs its play function in the background.
func (r *Runner) Play(storyID string) error {
	if _, ok := r.registry.Get(storyID); !ok {
		return &cerrors.NotFoundError{Resource: "story", ID: storyID}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.New("runner is closed")
	}
	gen := r.supersede()
	r.mu.Unlock()

	r.restart(gen, storyID)
	return nil
}

// remount handles FORCE_REMOUNT. It cancels the current run on the emitting
// goroutine and restarts off it.
func (r *Runner) remount(storyID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if storyID == "" {
		storyID = r.storyID
	}
	gen := r.supersede()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.restart(gen, storyID)
	}()
}

func (r *Runner) restart(gen uint64, storyID string) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	r.mu.Lock()
	if gen != r.gen || r.closed {
		r.mu.Unlock()
		return
	}
	prev, prevStory := r.current, r.storyID
	r.mu.Unlock()

	if prev != nil {
		prev.cancel()
		<-prev.done
	}

	story, ok := r.registry.Get(storyID)
	if !ok {
		r.logger.Warn("remount of unknown story", log.StoryIDKey, storyID)
		return
	}
	if prevStory != "" && prevStory != storyID {
		r.session.Cleanup()
	}

	root := story.Render()
	ctx, cancel := context.WithCancel(context.Background())
	rn := &run{gen: gen, storyID: storyID, cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	if gen != r.gen || r.closed {
		r.mu.Unlock()
		cancel()
		return
	}
	r.current, r.root, r.storyID = rn, root, storyID
	r.wg.Add(1)
	r.notify()
	r.mu.Unlock()

	r.logger.Debug("story rendering", log.StoryIDKey, storyID)
	r.phase(storyID, call.PhaseLoading)
	r.phase(storyID, call.PhaseRendering)
	r.phase(storyID, call.PhasePlaying)

	go func() {
		defer r.wg.Done()
		r.play(ctx, rn, story, root)
	}()
}

func (r *Runner) phase(storyID string, p call.RenderPhase) {
	payload := channel.RenderPhasePayload{StoryID: storyID, NewPhase: p}
	if err := r.ch.Emit(channel.EventRenderPhase, payload); err != nil {
		r.logger.Warn("emit failed", log.EventKey, channel.EventRenderPhase, log.Error(err))
	}
}

func (r *Runner) play(ctx context.Context, rn *run, story Story, root *Node) {
	defer rn.cancel()
	started := time.Now()

	err := r.execute(ctx, story, root)
	status, msg := r.classify(ctx, err)

	res := &storage.Run{
		ID:        uuid.NewString(),
		StoryID:   rn.storyID,
		Status:    status,
		Error:     msg,
		StartedAt: started.UTC(),
		EndedAt:   time.Now().UTC(),
	}
	if status != storage.RunAborted {
		res.IsDebugging = r.session.Snapshot().IsDebugging
		res.Calls = r.session.Calls()
		res.Log = r.session.Log()
		res.CallCount = len(res.Calls)
	}

	logger := log.WithRun(log.WithStory(r.logger, rn.storyID), res.ID)

	r.mu.Lock()
	if status != storage.RunAborted && rn.gen == r.gen {
		final := call.PhaseCompleted
		if status == storage.RunErrored {
			final = call.PhaseErrored
		}
		r.phase(rn.storyID, final)
	}
	r.mu.Unlock()

	if status != storage.RunAborted {
		r.persist(res, logger)
	}
	logger.Info("run finished",
		"status", status,
		log.DurationKey, res.Duration().Milliseconds(),
		"calls", res.CallCount)

	r.mu.Lock()
	rn.result = res
	close(rn.done)
	r.notify()
	r.mu.Unlock()
}

func (r *Runner) execute(ctx context.Context, story Story, root *Node) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("play function panicked: %v", p)
		}
	}()
	if story.Play == nil {
		return nil
	}
	return story.Play(newCanvas(ctx, r.lib, root))
}

// classify maps a play result to a run status. Runs stopped by a remount
// are aborted; failures already recorded on a call report that call's error.
func (r *Runner) classify(ctx context.Context, err error) (storage.RunStatus, string) {
	if err == nil {
		return storage.RunCompleted, ""
	}
	if ctx.Err() != nil {
		return storage.RunAborted, ""
	}
	var ignored *instrument.IgnoredError
	if errors.As(err, &ignored) {
		if ignored.Abandoned {
			return storage.RunAborted, ""
		}
		if ignored.Cause != nil {
			return storage.RunErrored, ignored.Cause.Error()
		}
	}
	return storage.RunErrored, err.Error()
}

func (r *Runner) persist(res *storage.Run, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if r.recorder != nil {
		r.recorder.RecordRun(ctx, res.StoryID, string(res.Status), res.Duration())
	}
	if r.store == nil {
		return
	}
	if err := r.store.SaveRun(ctx, res); err != nil {
		logger.Error("failed to save run", log.Error(err))
	}
}

// Wait blocks until the most recently started run finishes and returns it.
func (r *Runner) Wait(ctx context.Context) (*storage.Run, error) {
	for {
		r.mu.Lock()
		cur, gen, updated := r.current, r.gen, r.updated
		r.mu.Unlock()

		if cur != nil && cur.gen == gen {
			select {
			case <-cur.done:
				r.mu.Lock()
				latest := r.gen
				r.mu.Unlock()
				if latest == gen {
					return cur.result, nil
				}
				continue
			case <-updated:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		select {
		case <-updated:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// StoryID returns the story currently rendered.
func (r *Runner) StoryID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.storyID
}

// Close cancels the current run and waits for background work to stop.
// It does not close the session.
func (r *Runner) Close() {
	r.sub.Cancel()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.supersede()
	r.notify()
	r.mu.Unlock()

	r.wg.Wait()
}
