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

package completion

import (
	"github.com/spf13/cobra"

	"github.com/tombee/callstep/internal/harness"
)

// CompleteRunStatus provides completion for --status flag values.
func CompleteRunStatus(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		statuses := []string{
			"completed\tPlay function finished",
			"errored\tPlay function failed",
			"aborted\tRun was superseded or cancelled",
		}
		return statuses, cobra.ShellCompDirectiveNoFileComp
	})
}

// CompleteStoryIDs completes the ids of the built-in stories.
func CompleteStoryIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		stories := harness.DemoStories()
		completions := make([]string, 0, len(stories))
		for _, s := range stories {
			completions = append(completions, s.ID+"\t"+s.Title)
		}
		return completions, cobra.ShellCompDirectiveNoFileComp
	})
}
