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

package harness

import (
	"errors"
	"strconv"
	"time"
)

// DemoStories returns the stories served when no others are registered.
func DemoStories() []Story {
	return []Story{loginStory(), counterStory(), brokenCounterStory()}
}

// loginDelay is how long the login form takes to greet the user.
const loginDelay = 10 * time.Millisecond

func loginStory() Story {
	return Story{
		ID:    "login--success",
		Title: "Login/Success",
		Render: func() *Node {
			user := &Node{Tag: "input", TestID: "username"}
			pass := &Node{Tag: "input", TestID: "password"}
			status := &Node{Tag: "p", TestID: "status", Role: "status"}
			submit := El("button", Text("Sign in"))
			submit.Role = "button"
			submit.OnClick = func(*Node) {
				name := user.Value()
				if name == "" || pass.Value() == "" {
					status.SetText("Missing credentials")
					return
				}
				submit.SetDisabled(true)
				time.AfterFunc(loginDelay, func() {
					status.SetText("Welcome, " + name)
				})
			}
			return El("form", user, pass, submit, status)
		},
		Play: func(c *Canvas) error {
			screen := c.Screen()
			user, err := screen.GetByTestID("username")
			if err != nil {
				return err
			}
			if err := c.Type(user, "ada"); err != nil {
				return err
			}
			pass, err := screen.GetByTestID("password")
			if err != nil {
				return err
			}
			if err := c.Type(pass, "hunter2"); err != nil {
				return err
			}
			submit, err := screen.GetByRole("button")
			if err != nil {
				return err
			}
			if err := c.Click(submit); err != nil {
				return err
			}
			err = c.WaitFor(func() error {
				n, err := screen.QueryByText("Welcome, ada")
				if err != nil {
					return err
				}
				if n == nil {
					return errors.New("greeting not shown yet")
				}
				return nil
			}, 0)
			if err != nil {
				return err
			}
			status, err := screen.GetByRole("status")
			if err != nil {
				return err
			}
			return c.Expect(status).ToHaveTextContent("Welcome, ada")
		},
	}
}

// renderCounter renders a counter whose increment button adds step.
func renderCounter(step int) *Node {
	count := 0
	display := &Node{Tag: "output", TestID: "count", Text: "0"}
	reset := El("button", Text("Reset"))
	reset.Hidden = true
	inc := El("button", Text("Increment"))

	inc.OnClick = func(*Node) {
		count += step
		display.SetText(strconv.Itoa(count))
		reset.SetHidden(false)
	}
	reset.OnClick = func(*Node) {
		count = 0
		display.SetText("0")
		reset.SetHidden(true)
	}
	return El("div", display, inc, reset)
}

func playCounter(c *Canvas) error {
	screen := c.Screen()
	inc, err := screen.GetByText("Increment")
	if err != nil {
		return err
	}
	for range 2 {
		if err := c.Click(inc); err != nil {
			return err
		}
	}
	count, err := screen.GetByTestID("count")
	if err != nil {
		return err
	}
	if err := c.Expect(count).ToHaveTextContent("2"); err != nil {
		return err
	}
	reset, err := screen.GetByText("Reset")
	if err != nil {
		return err
	}
	if err := c.Expect(reset).ToBeVisible(); err != nil {
		return err
	}
	if err := c.Click(reset); err != nil {
		return err
	}
	return c.Expect(reset).Not().ToBeVisible()
}

func counterStory() Story {
	return Story{
		ID:     "counter--default",
		Title:  "Counter/Default",
		Render: func() *Node { return renderCounter(1) },
		Play:   playCounter,
	}
}

// brokenCounterStory increments by two, so its play function fails its
// first assertion.
func brokenCounterStory() Story {
	return Story{
		ID:     "counter--broken",
		Title:  "Counter/Broken",
		Render: func() *Node { return renderCounter(2) },
		Play:   playCounter,
	}
}
