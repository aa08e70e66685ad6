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

// Package debug provides the CLI commands for step debugging a story on a
// running `callstep serve`.
package debug

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tombee/callstep/internal/channel"
	"github.com/tombee/callstep/internal/client"
	"github.com/tombee/callstep/internal/commands/shared"
	debugpkg "github.com/tombee/callstep/internal/debug"
	"github.com/tombee/callstep/internal/log"
)

// serverFlag is shared by the debug command group.
var serverFlag string

// NewCommand creates the debug command.
func NewCommand() *cobra.Command {
	var (
		start bool
		until string
	)

	cmd := &cobra.Command{
		Use:   "debug [story-id]",
		Short: "Step through a story on a running server",
		Long: `Attach an interactive debug shell to a running callstep server.

If a story id is given the server plays it first. The shell streams engine
events from the server and sends debugger commands back over the channel.

Type 'help' inside the shell for the available commands.`,
		Example: `  # Attach to whatever story the server is showing
  callstep debug

  # Play a story and pause before its first interaction
  callstep debug counter--default --start

  # Run until a specific call, then pause
  callstep debug counter--default --until 5-toHaveTextContent`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := attachOptions{start: start || until != "", until: until}
			if len(args) == 1 {
				opts.storyID = args[0]
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runAttach(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.PersistentFlags().StringVar(&serverFlag, "server", "", "Server address (default: server.addr from config)")
	cmd.Flags().BoolVar(&start, "start", false, "Enter debugging as soon as the shell attaches")
	cmd.Flags().StringVar(&until, "until", "", "Pause before the given call id (implies --start)")

	cmd.AddCommand(NewStoriesCommand())
	cmd.AddCommand(NewSessionCommand())

	return cmd
}

type attachOptions struct {
	storyID string
	start   bool
	until   string
}

// serverAddr resolves the --server flag against the configuration.
func serverAddr() (string, error) {
	if serverFlag != "" {
		return serverFlag, nil
	}
	cfg, err := shared.LoadConfig()
	if err != nil {
		return "", err
	}
	return cfg.Server.Addr, nil
}

// connect returns an API client for a reachable server.
func connect(ctx context.Context) (*client.Client, error) {
	addr, err := serverAddr()
	if err != nil {
		return nil, err
	}
	c, err := client.New(addr)
	if err != nil {
		return nil, shared.NewUsageError("invalid server address", err)
	}
	if err := c.Ping(ctx); err != nil {
		if errors.Is(err, client.ErrUnreachable) {
			return nil, shared.NewUnavailableError("callstep server is not running at "+c.BaseURL(), err)
		}
		return nil, err
	}
	return c, nil
}

func runAttach(ctx context.Context, in io.Reader, out io.Writer, opts attachOptions) error {
	api, err := connect(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := log.Discard()
	if shared.GetVerbose() {
		cfg, err := shared.LoadConfig()
		if err == nil {
			logger = shared.Logger(cfg)
		}
	}
	storyID := opts.storyID
	if storyID == "" {
		stories, err := api.Stories(ctx)
		if err != nil {
			return fmt.Errorf("failed to list stories: %w", err)
		}
		storyID = stories.Current
	}

	events := channel.NewClient(api.BaseURL(), channel.WithClientLogger(logger))
	shell := debugpkg.NewShell(events, storyID, debugpkg.WithIO(in, out))

	streamErr := make(chan error, 1)
	go func() {
		streamErr <- events.Stream(ctx, func(msg channel.Message) error {
			shell.Observe(msg)
			return nil
		})
	}()

	if opts.storyID != "" {
		if err := api.Play(ctx, opts.storyID); err != nil {
			if client.IsNotFound(err) {
				return shared.NewUsageError(fmt.Sprintf("unknown story %q", opts.storyID), err)
			}
			return err
		}
	}

	if err := seed(ctx, api, shell); err != nil {
		return err
	}

	if opts.start {
		line := "start"
		if opts.until != "" {
			line += " " + opts.until
		}
		if err := shell.Execute(ctx, line); err != nil {
			return fmt.Errorf("failed to start debugging: %w", err)
		}
	}

	err = shell.Run(ctx)
	cancel()
	<-streamErr
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// seed replays the server's current session into the shell so calls made
// before the stream connected are visible.
func seed(ctx context.Context, api *client.Client, shell *debugpkg.Shell) error {
	session, err := api.Session(ctx)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	for _, c := range session.Calls {
		msg, err := channel.NewMessage(channel.EventCall, c)
		if err != nil {
			return err
		}
		shell.Observe(msg)
	}
	if len(session.Log) > 0 {
		msg, err := channel.NewMessage(channel.EventSync, session.Log)
		if err != nil {
			return err
		}
		shell.Observe(msg)
	}
	return nil
}
