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

// Package debug provides front ends for stepping through a story's calls.
//
// # Inspector
//
// Inspector filters recorded calls with expr-lang expressions evaluated
// against each call:
//
//	insp := debug.NewInspector(run.Calls, run.Log)
//	failed, err := insp.Filter(`state == "error" && method == "toBe"`)
//
// Available fields are id, index, method, path, state, interceptable,
// retain, parentId, pending, exception (name, message) and args.
//
// # Shell
//
// Shell is an interactive prompt that sends START, BACK, GOTO, NEXT and END
// through a Commander and renders the log from the SYNC events it observes.
// A local channel and the remote SSE client both serve as Commander:
//
//	shell := debug.NewShell(channel.NewClient(url), "login")
//	go client.Stream(ctx, func(m channel.Message) error {
//		shell.Observe(m)
//		return nil
//	})
//	err := shell.Run(ctx)
package debug
