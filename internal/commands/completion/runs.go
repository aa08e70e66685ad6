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
	"context"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/callstep/internal/storage"
)

const (
	runCacheTTL   = 2 * time.Second
	storeTimeout  = 500 * time.Millisecond
	maxRunsListed = 50
)

// runCacheEntry holds cached run completions with expiry.
type runCacheEntry struct {
	path      string
	runs      []string
	expiresAt time.Time
}

var (
	runCache   *runCacheEntry
	runCacheMu sync.RWMutex
)

// CompleteRunIDs provides completion for stored run IDs, newest first.
// Results are cached for 2 seconds and described as "story (status)".
func CompleteRunIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		path, err := storePath(cmd)
		if err != nil || path == "" {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		runs, err := getRunCompletions(path)
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		return runs, cobra.ShellCompDirectiveNoFileComp
	})
}

// getRunCompletions reads completions for the database at path with caching.
func getRunCompletions(path string) ([]string, error) {
	runCacheMu.RLock()
	if runCache != nil && runCache.path == path && time.Now().Before(runCache.expiresAt) {
		cached := runCache.runs
		runCacheMu.RUnlock()
		return cached, nil
	}
	runCacheMu.RUnlock()

	runs, err := fetchRuns(path)
	if err != nil {
		return nil, err
	}

	runCacheMu.Lock()
	runCache = &runCacheEntry{path: path, runs: runs, expiresAt: time.Now().Add(runCacheTTL)}
	runCacheMu.Unlock()
	return runs, nil
}

func fetchRuns(path string) ([]string, error) {
	// Completion must not create a database as a side effect.
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	store, err := storage.New(storage.Config{Path: path, MaxOpenConns: 1})
	if err != nil {
		return nil, err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	runs, err := store.ListRuns(ctx, storage.ListOptions{Limit: maxRunsListed})
	if err != nil {
		return nil, err
	}

	completions := make([]string, 0, len(runs))
	for _, r := range runs {
		completions = append(completions, r.ID+"\t"+r.StoryID+" ("+string(r.Status)+")")
	}
	return completions, nil
}
