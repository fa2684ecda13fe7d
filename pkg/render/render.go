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

// Package render expands command and compute templates against a variable
// mapping.
//
// The grammar is deliberately small and never evaluates code:
//
//	{name}            value of name; fails if name is unresolved
//	{name?}           value of name, or "" if unresolved
//	{name|f1|f2}      value passed through filters, left to right
//	{{ and }}         literal braces
//
// Names may contain letters, digits, '_', '-' and '.', and must not start
// with a digit. Filters are upper, lower, trim, basename, dirname and quote.
// A lone '}' is a syntax error, so shell braces must be doubled:
// "${{HOME}}" renders as "${HOME}".
package render

import (
	"fmt"
	"path/filepath"
	"strings"

	"hpc-looper/pkg/variables"

	"github.com/agext/levenshtein"
)

// TemplateError reports a malformed template or a reference to an
// unresolved variable.
type TemplateError struct {
	Source     string
	Variable   string
	Suggestion string
	Reason     string
	Offset     int
}

func (e *TemplateError) Error() string {
	if e.Variable != "" {
		msg := fmt.Sprintf("template %q: unresolved variable %q", e.Source, e.Variable)
		if e.Suggestion != "" {
			msg += fmt.Sprintf(" (did you mean %q?)", e.Suggestion)
		}
		return msg
	}
	return fmt.Sprintf("template %q: %s at offset %d", e.Source, e.Reason, e.Offset)
}

type filterFunc func(string) string

var filters = map[string]filterFunc{
	"upper":    strings.ToUpper,
	"lower":    strings.ToLower,
	"trim":     strings.TrimSpace,
	"basename": filepath.Base,
	"dirname":  filepath.Dir,
	"quote":    shellQuote,
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

type reference struct {
	name     string
	optional bool
	filters  []string
	offset   int
}

type segment struct {
	text string
	ref  *reference
}

// Template is a parsed template. It is immutable and safe for concurrent use.
type Template struct {
	source   string
	segments []segment
}

// Parse compiles text. source names the template in errors, e.g.
// "command_template" or "var_templates.refgenie_config".
func Parse(source, text string) (*Template, error) {
	t := &Template{source: source}
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			t.segments = append(t.segments, segment{text: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '{' && i+1 < len(text) && text[i+1] == '{':
			lit.WriteByte('{')
			i++
		case c == '}' && i+1 < len(text) && text[i+1] == '}':
			lit.WriteByte('}')
			i++
		case c == '}':
			return nil, &TemplateError{Source: source, Reason: "unmatched '}'", Offset: i}
		case c == '{':
			end := strings.IndexByte(text[i+1:], '}')
			if end < 0 {
				return nil, &TemplateError{Source: source, Reason: "unclosed '{'", Offset: i}
			}
			ref, err := parseReference(source, text[i+1:i+1+end], i)
			if err != nil {
				return nil, err
			}
			flush()
			t.segments = append(t.segments, segment{ref: ref})
			i += end + 1
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return t, nil
}

func parseReference(source, body string, offset int) (*reference, error) {
	parts := strings.Split(body, "|")
	name := strings.TrimSpace(parts[0])
	ref := &reference{offset: offset}
	if strings.HasSuffix(name, "?") {
		ref.optional = true
		name = strings.TrimSpace(strings.TrimSuffix(name, "?"))
	}
	if !validName(name) {
		return nil, &TemplateError{Source: source, Reason: fmt.Sprintf("invalid variable name %q", name), Offset: offset}
	}
	ref.name = name
	for _, f := range parts[1:] {
		f = strings.TrimSpace(f)
		if _, ok := filters[f]; !ok {
			return nil, &TemplateError{Source: source, Reason: fmt.Sprintf("unknown filter %q", f), Offset: offset}
		}
		ref.filters = append(ref.filters, f)
	}
	return ref, nil
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case i > 0 && (r == '.' || r == '-' || (r >= '0' && r <= '9')):
		default:
			return false
		}
	}
	return !strings.HasSuffix(name, ".")
}

// Source returns the name the template was parsed under.
func (t *Template) Source() string {
	return t.source
}

// Variables lists the referenced names in order of first appearance.
func (t *Template) Variables() []string {
	seen := map[string]bool{}
	var names []string
	for _, s := range t.segments {
		if s.ref != nil && !seen[s.ref.name] {
			seen[s.ref.name] = true
			names = append(names, s.ref.name)
		}
	}
	return names
}

// Execute renders t against vars. vars is only read.
func (t *Template) Execute(vars variables.Mapping) (string, error) {
	var out strings.Builder
	for _, s := range t.segments {
		if s.ref == nil {
			out.WriteString(s.text)
			continue
		}
		val, ok := vars.Lookup(s.ref.name)
		if !ok {
			if s.ref.optional {
				continue
			}
			return "", &TemplateError{
				Source:     t.source,
				Variable:   s.ref.name,
				Suggestion: suggest(s.ref.name, vars),
				Offset:     s.ref.offset,
			}
		}
		for _, f := range s.ref.filters {
			val = filters[f](val)
		}
		out.WriteString(val)
	}
	return out.String(), nil
}

// Render parses and executes text in one step.
func Render(source, text string, vars variables.Mapping) (string, error) {
	t, err := Parse(source, text)
	if err != nil {
		return "", err
	}
	return t.Execute(vars)
}

// NamedTemplate is one entry of an ordered template list such as
// var_templates.
type NamedTemplate struct {
	Name string
	Text string
}

// RenderChain renders templates in order. Each result is bound under its
// name before the next one renders, so later templates can build on earlier
// ones. The returned mapping is a new copy; vars is left untouched.
func RenderChain(prefix string, templates []NamedTemplate, vars variables.Mapping) (variables.Mapping, error) {
	out := vars.Clone()
	for _, nt := range templates {
		source := nt.Name
		if prefix != "" {
			source = prefix + "." + nt.Name
		}
		rendered, err := Render(source, nt.Text, out)
		if err != nil {
			return nil, err
		}
		out[nt.Name] = rendered
	}
	return out, nil
}

func suggest(name string, vars variables.Mapping) string {
	best := ""
	bestDist := -1
	for _, candidate := range vars.Names() {
		d := levenshtein.Distance(name, candidate, nil)
		if bestDist < 0 || d < bestDist {
			best, bestDist = candidate, d
		}
	}
	limit := len(name) / 3
	if limit < 2 {
		limit = 2
	}
	if bestDist < 0 || bestDist > limit {
		return ""
	}
	return best
}
