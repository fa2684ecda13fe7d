// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sample

import (
	"fmt"
	"io"

	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"
)

// Selector keeps rows whose name matches an include pattern, if any are
// given, and no exclude pattern. Patterns use dockerignore syntax, e.g.
// "frog_*".
type Selector struct {
	include *patternmatcher.PatternMatcher
	exclude *patternmatcher.PatternMatcher
}

// NewSelector compiles include and exclude patterns.
func NewSelector(include, exclude []string) (*Selector, error) {
	s := &Selector{}
	var err error
	if len(include) > 0 {
		if s.include, err = patternmatcher.New(include); err != nil {
			return nil, fmt.Errorf("failed to compile include patterns: %w", err)
		}
	}
	if len(exclude) > 0 {
		if s.exclude, err = patternmatcher.New(exclude); err != nil {
			return nil, fmt.Errorf("failed to compile exclude patterns: %w", err)
		}
	}
	return s, nil
}

// ReadPatterns reads an ignore-style pattern file: one pattern per line,
// '#' comments.
func ReadPatterns(r io.Reader) ([]string, error) {
	patterns, err := ignorefile.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read pattern file: %w", err)
	}
	return patterns, nil
}

// Match reports whether the sample called name is selected.
func (s *Selector) Match(name string) (bool, error) {
	if s == nil {
		return true, nil
	}
	if s.include != nil {
		ok, err := s.include.MatchesOrParentMatches(name)
		if err != nil {
			return false, fmt.Errorf("failed to match %q: %w", name, err)
		}
		if !ok {
			return false, nil
		}
	}
	if s.exclude != nil {
		excluded, err := s.exclude.MatchesOrParentMatches(name)
		if err != nil {
			return false, fmt.Errorf("failed to match %q: %w", name, err)
		}
		if excluded {
			return false, nil
		}
	}
	return true, nil
}

// Filter returns the selected rows, keeping their order.
func (s *Selector) Filter(rows []Row) ([]Row, error) {
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		ok, err := s.Match(r.Name)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}
