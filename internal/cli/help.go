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
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tombee/callstep/internal/commands/shared"
)

const docsURL = "https://github.com/tombee/callstep#readme"

// CommandMetadata represents metadata about a command for JSON output
type CommandMetadata struct {
	Name        string         `json:"name"`
	Path        string         `json:"path"`
	Short       string         `json:"short"`
	Long        string         `json:"long,omitempty"`
	Usage       string         `json:"usage"`
	Flags       []FlagMetadata `json:"flags,omitempty"`
	Examples    string         `json:"examples,omitempty"`
	Subcommands []string       `json:"subcommands,omitempty"`
	Group       string         `json:"group,omitempty"`
	Aliases     []string       `json:"aliases,omitempty"`
}

// FlagMetadata represents metadata about a flag
type FlagMetadata struct {
	Name      string `json:"name"`
	Shorthand string `json:"shorthand,omitempty"`
	Type      string `json:"type"`
	Usage     string `json:"usage"`
	Default   string `json:"default,omitempty"`
}

// HelpResponse is the JSON response for help command
type HelpResponse struct {
	shared.JSONResponse
	Commands    []CommandMetadata `json:"commands,omitempty"`
	Command     *CommandMetadata  `json:"command,omitempty"`
	GlobalFlags []FlagMetadata    `json:"global_flags,omitempty"`
	DocsURL     string            `json:"docs_url"`
}

// NewHelpCommand creates the help command
func NewHelpCommand(rootCmd *cobra.Command) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "help [command]",
		Short: "Help about any command",
		Long: `Help provides detailed information about commands and their usage.

Run 'callstep help' to see all available commands.
Run 'callstep help <command> [subcommand]' for help on a specific command.
Use --json for machine-readable output.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			useJSON := shared.GetJSON() || jsonOutput

			if len(args) == 0 {
				if useJSON {
					return emitHelp(cmd, "help", rootCmd, nil)
				}
				return rootCmd.Help()
			}

			targetCmd, rest, err := rootCmd.Find(args)
			if err != nil || len(rest) > 0 {
				return shared.NewUsageError(fmt.Sprintf("unknown help topic %q", args), err)
			}

			if useJSON {
				metadata := extractCommandMetadata(targetCmd)
				return emitHelp(cmd, "help "+targetCmd.CommandPath(), rootCmd, &metadata)
			}
			return targetCmd.Help()
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	return cmd
}

// emitHelp writes either the full command list or a single command.
func emitHelp(cmd *cobra.Command, name string, rootCmd *cobra.Command, single *CommandMetadata) error {
	resp := HelpResponse{
		JSONResponse: shared.NewJSONResponse(name),
		Command:      single,
		GlobalFlags:  extractGlobalFlags(rootCmd),
		DocsURL:      docsURL,
	}
	if single == nil {
		for _, c := range rootCmd.Commands() {
			if c.Hidden {
				continue
			}
			resp.Commands = append(resp.Commands, extractCommandMetadata(c))
		}
	}
	return shared.EmitJSON(cmd.OutOrStdout(), resp)
}

// extractCommandMetadata extracts metadata from a cobra command
func extractCommandMetadata(cmd *cobra.Command) CommandMetadata {
	metadata := CommandMetadata{
		Name:     cmd.Name(),
		Path:     cmd.CommandPath(),
		Short:    cmd.Short,
		Long:     cmd.Long,
		Usage:    cmd.UseLine(),
		Examples: cmd.Example,
		Aliases:  cmd.Aliases,
		Group:    cmd.Annotations["group"],
	}
	if metadata.Group == "" {
		metadata.Group = cmd.GroupID
	}

	metadata.Flags = flagMetadata(cmd.LocalFlags())

	for _, sub := range cmd.Commands() {
		if !sub.Hidden {
			metadata.Subcommands = append(metadata.Subcommands, sub.Name())
		}
	}

	return metadata
}

// extractGlobalFlags extracts global flags from root command
func extractGlobalFlags(rootCmd *cobra.Command) []FlagMetadata {
	return flagMetadata(rootCmd.PersistentFlags())
}

func flagMetadata(fs *pflag.FlagSet) []FlagMetadata {
	var flags []FlagMetadata
	fs.VisitAll(func(flag *pflag.Flag) {
		if flag.Hidden {
			return
		}
		flags = append(flags, FlagMetadata{
			Name:      flag.Name,
			Shorthand: flag.Shorthand,
			Type:      flag.Value.Type(),
			Usage:     flag.Usage,
			Default:   flag.DefValue,
		})
	})
	return flags
}
