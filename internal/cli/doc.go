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

/*
Package cli provides the root command for the callstep CLI.

This package assembles the Cobra command tree and handles global concerns like
version information, persistent flags, and exit codes. Individual commands
live in the internal/commands subpackages.

# Command Tree

	callstep
	├── serve         Host stories and the debug channel
	├── debug         Attach an interactive stepper to a story
	│   ├── stories   List registered stories
	│   └── session   Print the current call log
	├── runs          Inspect recorded story runs
	│   ├── list
	│   ├── show
	│   └── delete
	├── completion    Generate shell completion scripts
	├── version       Show version
	└── help          Show help (supports --json)

# Usage

From main.go:

	cli.SetVersion(version, commit, date)
	if err := cli.NewRootCommand().Execute(); err != nil {
	    cli.HandleExitError(err)
	}

# Global Flags

	--verbose, -v    Enable verbose output
	--quiet, -q      Suppress non-error output
	--json           Output in JSON format
	--config         Path to config file

# Exit Codes

  - 0: Success
  - 1: General error
  - 2: Invalid usage
  - 3: Story run errored
  - 69: Server unavailable
*/
package cli
