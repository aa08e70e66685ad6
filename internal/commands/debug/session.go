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
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tombee/callstep/internal/api"
	"github.com/tombee/callstep/internal/commands/shared"
	debugpkg "github.com/tombee/callstep/internal/debug"
	"github.com/tombee/callstep/pkg/call"
)

// NewStoriesCommand creates the debug stories command.
func NewStoriesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stories",
		Short: "List the stories a server can play",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			stories, err := c.Stories(cmd.Context())
			if err != nil {
				return err
			}
			return printStories(cmd.OutOrStdout(), stories)
		},
	}
}

func printStories(w io.Writer, stories *api.StoriesResponse) error {
	if shared.GetJSON() {
		return shared.EmitJSON(w, struct {
			shared.JSONResponse
			*api.StoriesResponse
		}{shared.NewJSONResponse("debug stories"), stories})
	}

	styled := shared.IsTTY(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, s := range stories.Stories {
		marker := " "
		if s.ID == stories.Current {
			marker = "*"
			if styled {
				marker = shared.StatusOK.Render(marker)
			}
		}
		fmt.Fprintf(tw, "%s %s\t%s\n", marker, s.ID, s.Title)
	}
	return tw.Flush()
}

// NewSessionCommand creates the debug session command.
func NewSessionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Show the live debug session",
		Long: `Show the session state of a running server: the rendered story, whether
it is being debugged, suspended calls and the visible call log.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			session, err := c.Session(cmd.Context())
			if err != nil {
				return err
			}
			return printSession(cmd.OutOrStdout(), session)
		},
	}
}

func printSession(w io.Writer, session *api.SessionResponse) error {
	if shared.GetJSON() {
		return shared.EmitJSON(w, struct {
			shared.JSONResponse
			*api.SessionResponse
		}{shared.NewJSONResponse("debug session"), session})
	}

	styled := shared.IsTTY(w)
	story := session.StoryID
	if story == "" {
		story = "(none)"
	}
	fmt.Fprintf(w, "Story:     %s\n", story)
	fmt.Fprintf(w, "Debugging: %t\n", session.IsDebugging)
	if session.PlayUntil != "" {
		fmt.Fprintf(w, "Until:     %s\n", session.PlayUntil)
	}
	if len(session.PendingCallIDs) > 0 {
		fmt.Fprintf(w, "Pending:   %v\n", session.PendingCallIDs)
	}

	byID := make(map[string]call.Call, len(session.Calls))
	for _, c := range session.Calls {
		byID[c.ID] = c
	}

	fmt.Fprintln(w)
	if len(session.Log) == 0 {
		fmt.Fprintln(w, "No interactions recorded.")
		return nil
	}
	for _, item := range session.Log {
		desc := item.CallID
		if c, ok := byID[item.CallID]; ok {
			desc = debugpkg.Describe(c)
		}
		fmt.Fprintf(w, "  %s %-22s %s\n", shared.RenderCallState(item.State, styled), item.CallID, desc)
	}
	return nil
}
