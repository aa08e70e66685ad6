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

// Package runs implements `callstep runs`, which reads the runs recorded by
// `callstep serve` from the local database.
package runs

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/callstep/internal/commands/completion"
	"github.com/tombee/callstep/internal/commands/shared"
	"github.com/tombee/callstep/internal/debug"
	"github.com/tombee/callstep/internal/jq"
	"github.com/tombee/callstep/internal/storage"
	"github.com/tombee/callstep/pkg/call"
	cerrors "github.com/tombee/callstep/pkg/errors"
)

// dbFlag overrides storage.path for every runs subcommand.
var dbFlag string

// NewCommand creates the runs command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use: "runs",
		Annotations: map[string]string{
			"group": "management",
		},
		Short: "Inspect recorded story runs",
		Long: `Commands for listing, viewing and deleting recorded story runs.

Runs are written by 'callstep serve' when a play function finishes.`,
	}

	cmd.PersistentFlags().StringVar(&dbFlag, "db", "", "Path to the runs database (default: storage.path from config)")

	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newShowCommand())
	cmd.AddCommand(newDeleteCommand())

	return cmd
}

func newListCommand() *cobra.Command {
	var (
		story  string
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs",
		Long: `List recorded runs, newest first.

See also: callstep runs show`,
		Example: `  # List recent runs
  callstep runs list

  # Only errored runs of one story
  callstep runs list --story counter--broken --status errored

  # Machine-readable output
  callstep runs list --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *storage.RunStore) error {
				return runList(cmd.Context(), cmd.OutOrStdout(), store, listOptions{story: story, status: status, limit: limit})
			})
		},
	}

	cmd.Flags().StringVar(&story, "story", "", "Only runs of this story")
	cmd.Flags().StringVar(&status, "status", "", "Only runs with this status (completed, errored, aborted)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs")
	_ = cmd.RegisterFlagCompletionFunc("status", completion.CompleteRunStatus)
	_ = cmd.RegisterFlagCompletionFunc("story", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return completion.CompleteStoryIDs(cmd, nil, toComplete)
	})

	return cmd
}

func newShowCommand() *cobra.Command {
	var (
		filter  string
		jqExpr  string
		showAll bool
	)

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a recorded run",
		Long: `Display a recorded run and its interaction log.

--filter selects calls with an expr expression evaluated against each call
(id, method, path, state, interceptable, args, exception, ...).
--jq applies a jq query to the run as JSON and prints the result.`,
		Example: `  # Show the log of a run
  callstep runs show <run-id>

  # Every recorded call, not just the visible log
  callstep runs show <run-id> --calls

  # Calls that failed
  callstep runs show <run-id> --filter 'state == "error"'

  # The failing call ids
  callstep runs show <run-id> --jq '[.calls[] | select(.state == "error") | .id]'`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteRunIDs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if filter != "" && jqExpr != "" {
				return shared.NewUsageError("--filter and --jq cannot be combined", nil)
			}
			return withStore(func(store *storage.RunStore) error {
				return runShow(cmd.Context(), cmd.OutOrStdout(), store, args[0], showOptions{filter: filter, jq: jqExpr, all: showAll})
			})
		},
	}

	cmd.Flags().StringVar(&filter, "filter", "", "Only calls matching an expr expression")
	cmd.Flags().StringVar(&jqExpr, "jq", "", "Print the result of a jq query over the run")
	cmd.Flags().BoolVar(&showAll, "calls", false, "List every recorded call instead of the log")

	return cmd
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:               "delete <run-id>",
		Short:             "Delete a recorded run",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteRunIDs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *storage.RunStore) error {
				if err := store.DeleteRun(cmd.Context(), args[0]); err != nil {
					return err
				}
				if shared.GetJSON() {
					return shared.EmitJSON(cmd.OutOrStdout(), struct {
						shared.JSONResponse
						ID string `json:"id"`
					}{shared.NewJSONResponse("runs delete"), args[0]})
				}
				fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK("Deleted run "+args[0]))
				return nil
			})
		},
	}
}

// withStore opens the runs database for the duration of fn.
func withStore(fn func(*storage.RunStore) error) error {
	path := dbFlag
	if path == "" {
		cfg, err := shared.LoadConfig()
		if err != nil {
			return err
		}
		path = cfg.Storage.Path
	}
	if path == "" {
		return &cerrors.ConfigError{Key: "storage.path", Reason: "run persistence is disabled"}
	}
	if path != ":memory:" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return &cerrors.NotFoundError{Resource: "runs database", ID: path}
		}
	}

	store, err := storage.New(storage.Config{Path: path})
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

type listOptions struct {
	story  string
	status string
	limit  int
}

// RunsList is the JSON output of runs list.
type RunsList struct {
	shared.JSONResponse
	Runs []*storage.Run `json:"runs"`
}

func runList(ctx context.Context, w io.Writer, store *storage.RunStore, opts listOptions) error {
	switch storage.RunStatus(opts.status) {
	case "", storage.RunCompleted, storage.RunErrored, storage.RunAborted:
	default:
		return shared.NewUsageError(fmt.Sprintf("unknown status %q", opts.status), nil)
	}

	// Status is filtered here, so fetch more rows than the limit.
	fetch := opts.limit
	if opts.status != "" && fetch > 0 {
		fetch *= 10
	}
	runs, err := store.ListRuns(ctx, storage.ListOptions{StoryID: opts.story, Limit: fetch})
	if err != nil {
		return err
	}

	filtered := make([]*storage.Run, 0, len(runs))
	for _, r := range runs {
		if opts.status != "" && string(r.Status) != opts.status {
			continue
		}
		filtered = append(filtered, r)
		if opts.limit > 0 && len(filtered) == opts.limit {
			break
		}
	}

	if shared.GetJSON() {
		return shared.EmitJSON(w, RunsList{JSONResponse: shared.NewJSONResponse("runs list"), Runs: filtered})
	}

	if len(filtered) == 0 {
		fmt.Fprintln(w, "No runs found")
		return nil
	}

	styled := shared.IsTTY(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	// Status is last so ANSI styling cannot skew column widths.
	fmt.Fprintln(tw, "ID\tSTORY\tCALLS\tDURATION\tSTARTED\tSTATUS")
	for _, r := range filtered {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			r.ID,
			r.StoryID,
			r.CallCount,
			r.Duration().Round(time.Millisecond),
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			shared.RenderRunStatus(r.Status, styled),
		)
	}
	return tw.Flush()
}

type showOptions struct {
	filter string
	jq     string
	all    bool
}

func runShow(ctx context.Context, w io.Writer, store *storage.RunStore, id string, opts showOptions) error {
	run, err := store.GetRun(ctx, id)
	if err != nil {
		return err
	}

	if opts.jq != "" {
		result, err := jq.NewExecutor(jq.DefaultTimeout, jq.DefaultMaxInputSize).Execute(ctx, opts.jq, run)
		if err != nil {
			return shared.NewUsageError("jq query failed", err)
		}
		return shared.EmitJSON(w, result)
	}

	insp := debug.NewInspector(run.Calls, run.Log)
	if shared.GetJSON() {
		calls, err := insp.Filter(opts.filter)
		if err != nil {
			return err
		}
		out := *run
		if opts.filter != "" {
			out.Calls = calls
		}
		return shared.EmitJSON(w, struct {
			shared.JSONResponse
			*storage.Run
		}{shared.NewJSONResponse("runs show"), &out})
	}

	styled := shared.IsTTY(w)
	fmt.Fprintf(w, "Run ID:     %s\n", run.ID)
	fmt.Fprintf(w, "Story:      %s\n", run.StoryID)
	fmt.Fprintf(w, "Status:     %s\n", shared.RenderRunStatus(run.Status, styled))
	fmt.Fprintf(w, "Debugging:  %t\n", run.IsDebugging)
	fmt.Fprintf(w, "Started:    %s\n", run.StartedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(w, "Duration:   %s\n", run.Duration().Round(time.Millisecond))
	if run.Error != "" {
		fmt.Fprintf(w, "Error:      %s\n", run.Error)
	}
	fmt.Fprintln(w)

	switch {
	case opts.filter != "" || opts.all:
		calls, err := insp.Filter(opts.filter)
		if err != nil {
			return err
		}
		if len(calls) == 0 {
			fmt.Fprintln(w, "No matching calls")
			return nil
		}
		for _, c := range calls {
			printCall(w, c.ID, c.State, debug.Describe(c), styled)
		}

	case len(run.Log) == 0:
		fmt.Fprintln(w, "No interactions recorded")

	default:
		fmt.Fprintln(w, "Interactions:")
		for _, item := range run.Log {
			desc := ""
			if c, ok := insp.Get(item.CallID); ok {
				desc = debug.Describe(c)
			}
			printCall(w, item.CallID, item.State, desc, styled)
		}
	}
	return nil
}

func printCall(w io.Writer, id string, state call.State, desc string, styled bool) {
	fmt.Fprintf(w, "  %s %-22s %s\n", shared.RenderCallState(state, styled), id, strings.TrimSpace(desc))
}
