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
	"slices"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	cerrors "github.com/tombee/callstep/pkg/errors"
)

// Story is a renderable component with an optional play function.
type Story struct {
	ID string

	// Title defaults to one derived from ID.
	Title string

	// Render builds a fresh document for each run.
	Render func() *Node

	// Play drives the rendered document. A nil Play only renders.
	Play func(c *Canvas) error
}

// Registry holds the stories a runner can play.
type Registry struct {
	mu      sync.RWMutex
	stories map[string]Story
}

// NewRegistry creates a registry holding stories.
func NewRegistry(stories ...Story) (*Registry, error) {
	r := &Registry{stories: make(map[string]Story)}
	for _, s := range stories {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds s. IDs must be unique.
func (r *Registry) Register(s Story) error {
	if s.ID == "" {
		return &cerrors.ValidationError{Field: "id", Message: "story id is required"}
	}
	if s.Render == nil {
		return &cerrors.ValidationError{Field: "render", Message: "story " + s.ID + " has no render function"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.stories[s.ID]; exists {
		return &cerrors.ValidationError{
			Field:   "id",
			Message: "duplicate story id " + s.ID,
			Hint:    "story ids must be unique within a registry",
		}
	}
	if s.Title == "" {
		s.Title = TitleFromID(s.ID)
	}
	r.stories[s.ID] = s
	return nil
}

// TitleFromID turns a story id like "sign-up--empty-form" into
// "Sign Up/Empty Form".
func TitleFromID(id string) string {
	caser := cases.Title(language.English)
	parts := strings.Split(id, "--")
	for i, p := range parts {
		parts[i] = caser.String(strings.ReplaceAll(p, "-", " "))
	}
	return strings.Join(parts, "/")
}

// Get returns the story with the given id.
func (r *Registry) Get(id string) (Story, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stories[id]
	return s, ok
}

// IDs returns the registered story ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.stories))
	for id := range r.stories {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Title returns the title of story id, or "" if it is not registered.
func (r *Registry) Title(id string) string {
	s, _ := r.Get(id)
	return s.Title
}
