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
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/callstep/internal/storage"
)

func resetRunCache() {
	runCacheMu.Lock()
	runCache = nil
	runCacheMu.Unlock()
}

func commandWithDB(path string) *cobra.Command {
	cmd := &cobra.Command{Use: "show"}
	cmd.Flags().String("db", "", "")
	_ = cmd.Flags().Set("db", path)
	return cmd
}

func TestCompleteRunIDs(t *testing.T) {
	resetRunCache()

	path := filepath.Join(t.TempDir(), "runs.db")
	store, err := storage.New(storage.Config{Path: path})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	now := time.Now()
	for i, run := range []*storage.Run{
		{ID: "run-001", StoryID: "counter--default", Status: storage.RunCompleted, StartedAt: now, EndedAt: now},
		{ID: "run-002", StoryID: "counter--broken", Status: storage.RunErrored, StartedAt: now.Add(time.Second), EndedAt: now.Add(time.Second)},
	} {
		if err := store.SaveRun(context.Background(), run); err != nil {
			t.Fatalf("failed to save run %d: %v", i, err)
		}
	}
	store.Close()

	completions, directive := CompleteRunIDs(commandWithDB(path), nil, "")

	want := []string{
		"run-002\tcounter--broken (errored)",
		"run-001\tcounter--default (completed)",
	}
	if strings.Join(completions, ",") != strings.Join(want, ",") {
		t.Errorf("expected %q, got %q", want, completions)
	}
	if directive != cobra.ShellCompDirectiveNoFileComp {
		t.Errorf("expected NoFileComp directive, got %d", directive)
	}

	// Only the first argument is a run id.
	if got, _ := CompleteRunIDs(commandWithDB(path), []string{"run-001"}, ""); len(got) != 0 {
		t.Errorf("expected no completions for second argument, got %v", got)
	}
}

func TestCompleteRunIDs_MissingDatabase(t *testing.T) {
	resetRunCache()

	path := filepath.Join(t.TempDir(), "missing", "runs.db")
	completions, _ := CompleteRunIDs(commandWithDB(path), nil, "")
	if len(completions) != 0 {
		t.Errorf("expected no completions, got %v", completions)
	}
	if matches, _ := filepath.Glob(filepath.Dir(path)); len(matches) != 0 {
		t.Error("completion should not create the database directory")
	}
}

func TestRunCaching(t *testing.T) {
	resetRunCache()

	runCacheMu.Lock()
	runCache = &runCacheEntry{
		path:      "cached.db",
		runs:      []string{"run-cached\tstory (completed)"},
		expiresAt: time.Now().Add(time.Minute),
	}
	runCacheMu.Unlock()

	runs, err := getRunCompletions("cached.db")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 1 || runs[0] != "run-cached\tstory (completed)" {
		t.Errorf("expected cached completions, got %v", runs)
	}

	// A different database bypasses the cache.
	if _, err := getRunCompletions(filepath.Join(t.TempDir(), "other.db")); err == nil {
		t.Error("expected error for missing database")
	}
}

func TestCompleteStoryIDs(t *testing.T) {
	completions, directive := CompleteStoryIDs(nil, nil, "")
	if directive != cobra.ShellCompDirectiveNoFileComp {
		t.Errorf("expected NoFileComp directive, got %d", directive)
	}
	found := false
	for _, c := range completions {
		if c == "counter--default\tCounter/Default" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected counter--default in %v", completions)
	}
}

func TestCompleteRunStatus(t *testing.T) {
	completions, _ := CompleteRunStatus(nil, nil, "")
	if len(completions) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(completions))
	}
	for _, c := range completions {
		if !strings.Contains(c, "\t") {
			t.Errorf("completion %q should have a description", c)
		}
	}
}

func TestSafeCompletionWrapper_Panic(t *testing.T) {
	results, directive := SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		panic("test panic")
	})
	if len(results) != 0 {
		t.Errorf("Expected empty results after panic, got %v", results)
	}
	if directive != cobra.ShellCompDirectiveNoFileComp {
		t.Errorf("Expected NoFileComp directive after panic, got %d", directive)
	}
}

func TestSafeCompletionWrapper_NilResults(t *testing.T) {
	results, _ := SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		return nil, cobra.ShellCompDirectiveDefault
	})
	if results == nil {
		t.Error("Expected empty slice, got nil")
	}
}

func TestCompletionCommand(t *testing.T) {
	root := &cobra.Command{Use: "callstep"}
	root.AddCommand(NewCommand())

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"completion", "bash"})
	if err := root.Execute(); err != nil {
		t.Fatalf("completion failed: %v", err)
	}
	if !strings.Contains(out.String(), "callstep") {
		t.Error("expected generated script to mention callstep")
	}

	root.SetArgs([]string{"completion", "tcsh"})
	if err := root.Execute(); err == nil {
		t.Error("expected error for unsupported shell")
	}
}
