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

package debug

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/tombee/callstep/internal/channel"
	"github.com/tombee/callstep/pkg/call"
)

// Commander delivers debugger commands to the engine. *channel.Client
// implements it for remote sessions and LocalCommander for in-process ones.
type Commander interface {
	Send(ctx context.Context, event channel.Event, payload any) error
}

// LocalCommander emits commands on an in-process channel.
type LocalCommander struct {
	Channel *channel.Channel
}

// Send implements Commander.
func (l LocalCommander) Send(_ context.Context, event channel.Event, payload any) error {
	return l.Channel.Emit(event, payload)
}

// CommandType names a shell command.
type CommandType string

const (
	CommandStart   CommandType = "start"
	CommandBack    CommandType = "back"
	CommandGoto    CommandType = "goto"
	CommandNext    CommandType = "next"
	CommandEnd     CommandType = "end"
	CommandLog     CommandType = "log"
	CommandCalls   CommandType = "calls"
	CommandFilter  CommandType = "filter"
	CommandInspect CommandType = "inspect"
	CommandHelp    CommandType = "help"
	CommandQuit    CommandType = "quit"
)

// Command is a parsed shell line.
type Command struct {
	Type CommandType
	Args []string
}

var errQuit = errors.New("quit")

// Shell provides an interactive debugging interface for a story.
type Shell struct {
	cmd    Commander
	input  io.Reader
	output io.Writer

	mu      sync.Mutex
	storyID string
	calls   map[string]call.Call
	log     []call.LogItem
	locked  bool
}

// ShellOption configures a Shell.
type ShellOption func(*Shell)

// WithIO sets the shell's input and output.
func WithIO(in io.Reader, out io.Writer) ShellOption {
	return func(s *Shell) {
		s.input = in
		s.output = out
	}
}

// NewShell creates a debug shell that sends commands through cmd. storyID may
// be empty; the shell then adopts the story reported by the next loading
// render phase.
func NewShell(cmd Commander, storyID string, opts ...ShellOption) *Shell {
	s := &Shell{
		cmd:     cmd,
		input:   os.Stdin,
		output:  os.Stdout,
		storyID: storyID,
		calls:   make(map[string]call.Call),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Attach subscribes the shell to the engine events on ch and returns a
// function that unsubscribes it.
func (s *Shell) Attach(ch *channel.Channel) (detach func()) {
	subs := []*channel.Subscription{
		ch.On(channel.EventCall, s.Observe),
		ch.On(channel.EventSync, s.Observe),
		ch.On(channel.EventLock, s.Observe),
		ch.On(channel.EventRenderPhase, s.Observe),
	}
	return func() {
		for _, sub := range subs {
			sub.Cancel()
		}
	}
}

// Observe updates the shell's view from an engine event.
func (s *Shell) Observe(msg channel.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch msg.Event {
	case channel.EventCall:
		var c call.Call
		if err := msg.Decode(&c); err == nil {
			s.calls[c.ID] = c
		}

	case channel.EventSync:
		var items []call.LogItem
		if err := json.Unmarshal(msg.Data, &items); err != nil {
			return
		}
		if len(items) == 0 {
			// An empty log follows a cleanup; the recorded calls are gone too.
			s.calls = make(map[string]call.Call)
		}
		s.log = items
		fmt.Fprint(s.output, "\n"+s.inspector().Summary())

	case channel.EventLock:
		_ = json.Unmarshal(msg.Data, &s.locked)

	case channel.EventRenderPhase:
		var p channel.RenderPhasePayload
		if err := msg.Decode(&p); err != nil {
			return
		}
		switch p.NewPhase {
		case call.PhaseLoading:
			if s.storyID == "" {
				s.storyID = p.StoryID
			}
		case call.PhaseCompleted:
			fmt.Fprintln(s.output, "✓ Story completed")
		case call.PhaseErrored:
			fmt.Fprintln(s.output, "✗ Story errored")
		}
	}
}

// inspector must be called with s.mu held.
func (s *Shell) inspector() *Inspector {
	calls := make([]call.Call, 0, len(s.calls))
	for _, c := range s.calls {
		calls = append(calls, c)
	}
	sort.SliceStable(calls, func(i, j int) bool { return calls[i].Index() < calls[j].Index() })
	return NewInspector(calls, s.log)
}

// Run reads commands until quit, end of input or ctx is done.
func (s *Shell) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		scanner := bufio.NewScanner(s.input)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		readErr <- scanner.Err()
	}()

	s.showHelp()
	for {
		s.printf("debug> ")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("input error: %w", err)
			}
			return nil
		case line := <-lines:
			if err := s.Execute(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				s.printf("Error: %v\n", err)
			}
		}
	}
}

// Execute runs a single command line.
func (s *Shell) Execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	cmd, err := s.parseCommand(line)
	if err != nil {
		return err
	}

	s.mu.Lock()
	storyID := s.storyID
	s.mu.Unlock()

	switch cmd.Type {
	case CommandStart:
		payload := channel.StartPayload{StoryID: storyID}
		if len(cmd.Args) > 0 {
			payload.PlayUntil = cmd.Args[0]
		}
		return s.cmd.Send(ctx, channel.EventStart, payload)

	case CommandBack:
		return s.cmd.Send(ctx, channel.EventBack, channel.BackPayload{StoryID: storyID})

	case CommandGoto:
		return s.cmd.Send(ctx, channel.EventGoto, channel.GotoPayload{StoryID: storyID, CallID: cmd.Args[0]})

	case CommandNext:
		return s.cmd.Send(ctx, channel.EventNext, channel.NextPayload{StoryID: storyID})

	case CommandEnd:
		return s.cmd.Send(ctx, channel.EventEnd, channel.EndPayload{StoryID: storyID})

	case CommandLog:
		s.mu.Lock()
		summary := s.inspector().Summary()
		s.mu.Unlock()
		s.printf("%s", summary)

	case CommandCalls, CommandFilter:
		s.mu.Lock()
		insp := s.inspector()
		s.mu.Unlock()

		matched, err := insp.Filter(strings.Join(cmd.Args, " "))
		if err != nil {
			return err
		}
		for _, c := range matched {
			s.printf("  %s %-14s %s\n", stateMark(c.State), c.ID, Describe(c))
		}
		if len(matched) == 0 {
			s.printf("  (no matching calls)\n")
		}

	case CommandInspect:
		s.mu.Lock()
		insp := s.inspector()
		s.mu.Unlock()

		c, ok := insp.Get(cmd.Args[0])
		if !ok {
			return fmt.Errorf("call %q not found", cmd.Args[0])
		}
		out, err := insp.Format(c)
		if err != nil {
			return err
		}
		s.printf("%s\n", out)

	case CommandHelp:
		s.showHelp()

	case CommandQuit:
		return errQuit
	}
	return nil
}

// parseCommand parses a command string into a Command struct.
func (s *Shell) parseCommand(line string) (*Command, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	cmdStr := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmdStr {
	case "s", "start":
		return &Command{Type: CommandStart, Args: args}, nil
	case "b", "back":
		return &Command{Type: CommandBack}, nil
	case "g", "goto":
		if len(args) != 1 {
			return nil, fmt.Errorf("goto requires a call id")
		}
		return &Command{Type: CommandGoto, Args: args}, nil
	case "n", "next":
		return &Command{Type: CommandNext}, nil
	case "e", "end", "c", "continue":
		return &Command{Type: CommandEnd}, nil
	case "l", "log":
		return &Command{Type: CommandLog}, nil
	case "calls":
		return &Command{Type: CommandCalls}, nil
	case "f", "filter":
		if len(args) == 0 {
			return nil, fmt.Errorf("filter requires an expression")
		}
		return &Command{Type: CommandFilter, Args: args}, nil
	case "i", "inspect":
		if len(args) != 1 {
			return nil, fmt.Errorf("inspect requires a call id")
		}
		return &Command{Type: CommandInspect, Args: args}, nil
	case "h", "help", "?":
		return &Command{Type: CommandHelp}, nil
	case "q", "quit", "exit":
		return &Command{Type: CommandQuit}, nil
	default:
		return nil, fmt.Errorf("unknown command: %s (type 'help' for commands)", cmdStr)
	}
}

func (s *Shell) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.output, format, args...)
}

// showHelp displays available commands.
func (s *Shell) showHelp() {
	s.printf(`
Debug Commands:
  start [id], s     Enter debugging, pausing before call id if given
  back, b           Step back one call
  goto <id>, g      Run to the given call
  next, n           Run the pending call
  end, c            Leave debugging and run to completion
  log, l            Show the call log
  calls             List every recorded call
  filter <expr>, f  List calls matching an expression, e.g. state == "error"
  inspect <id>, i   Show a call as JSON
  help, h, ?        Show this help message
  quit, q           Leave the shell

`)
}
