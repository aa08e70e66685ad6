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

package cli

import (
	"github.com/spf13/cobra"

	"github.com/tombee/callstep/internal/commands/completion"
	"github.com/tombee/callstep/internal/commands/debug"
	"github.com/tombee/callstep/internal/commands/runs"
	"github.com/tombee/callstep/internal/commands/serve"
	"github.com/tombee/callstep/internal/commands/shared"
	versioncmd "github.com/tombee/callstep/internal/commands/version"
)

// Command groups shown in root help. Commands opt in with a "group"
// annotation.
var groups = []*cobra.Group{
	{ID: "engine", Title: "Engine Commands:"},
	{ID: "management", Title: "Management Commands:"},
	{ID: "tools", Title: "Other Commands:"},
}

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root command with every subcommand registered.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "callstep",
		Short: "callstep - step through instrumented interaction tests",
		Long: `callstep records every call a story's play function makes through the
testing library and lets a debugger pause, step, rewind and jump between
those calls while the story is rendered.

Run 'callstep serve' to host the stories, then 'callstep debug <story>' to
step through one.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	// Get flag pointers from shared package
	verbose, quiet, json, config := shared.RegisterFlagPointers()

	// Add global flags
	cmd.PersistentFlags().BoolVarP(verbose, "verbose", "v", false, "Enable verbose output")
	cmd.PersistentFlags().BoolVarP(quiet, "quiet", "q", false, "Suppress non-error output")
	cmd.PersistentFlags().BoolVar(json, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(config, "config", "", "Path to config file (default: ~/.config/callstep/config.yaml)")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddGroup(groups...)
	add(cmd, withGroup(serve.NewCommand(), "engine"))
	add(cmd, withGroup(debug.NewCommand(), "engine"))
	add(cmd, runs.NewCommand())
	add(cmd, completion.NewCommand())
	add(cmd, withGroup(versioncmd.NewVersionCommand(), "tools"))

	// Custom help command with JSON support
	cmd.SetHelpCommand(NewHelpCommand(cmd))
	cmd.SetHelpCommandGroupID("tools")

	return cmd
}

// withGroup sets the "group" annotation if the command has none.
func withGroup(cmd *cobra.Command, group string) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	if _, ok := cmd.Annotations["group"]; !ok {
		cmd.Annotations["group"] = group
	}
	return cmd
}

// add registers sub under root, placing it in its annotated group.
func add(root, sub *cobra.Command) {
	if g := sub.Annotations["group"]; g != "" && root.ContainsGroup(g) {
		sub.GroupID = g
	}
	root.AddCommand(sub)
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return shared.GetVersion()
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
