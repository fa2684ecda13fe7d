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

// Package adapter maps template variable names onto dotted paths in a
// namespace tree.
package adapter

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"hpc-looper/pkg/namespace"
	"hpc-looper/pkg/variables"

	"golang.org/x/sync/errgroup"
)

// parallelThreshold is the adapter count above which resolution fans out.
const parallelThreshold = 64

// Map binds a template variable name to a dotted path, e.g.
// {"CODE": "namespace.command"}.
type Map map[string]string

// Validate rejects empty names and malformed paths.
func (m Map) Validate() error {
	for name, path := range m {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("adapter with empty variable name (path %q)", path)
		}
		if path == "" || strings.HasPrefix(path, ".") || strings.HasSuffix(path, ".") || strings.Contains(path, "..") {
			return fmt.Errorf("adapter %q has malformed path %q", name, path)
		}
	}
	return nil
}

// Warning records an adapter whose path did not resolve to a text value. It
// is not fatal; the variable stays unresolved.
type Warning struct {
	Variable string
	Path     string
	Reason   string
}

func (w Warning) Error() string {
	return fmt.Sprintf("adapter %q -> %q unresolved: %s", w.Variable, w.Path, w.Reason)
}

// Resolve produces a variable mapping from m and tree. With no adapters every
// text leaf of tree is exposed under its dotted path, so top-level scalar
// keys are available by their own name.
func Resolve(m Map, tree namespace.Value) (variables.Mapping, []Warning) {
	if len(m) == 0 {
		return variables.Mapping(tree.Flatten()), nil
	}

	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	type outcome struct {
		value    string
		resolved bool
		warning  *Warning
	}
	results := make([]outcome, len(names))
	resolveOne := func(i int) {
		name := names[i]
		value, warn := lookup(name, m[name], tree)
		results[i] = outcome{value: value, resolved: warn == nil, warning: warn}
	}

	if len(names) > parallelThreshold {
		g, _ := errgroup.WithContext(context.Background())
		g.SetLimit(8)
		for i := range names {
			i := i
			g.Go(func() error {
				resolveOne(i)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range names {
			resolveOne(i)
		}
	}

	out := make(variables.Mapping, len(names))
	var warnings []Warning
	for i, r := range results {
		if r.resolved {
			out[names[i]] = r.value
			continue
		}
		warnings = append(warnings, *r.warning)
	}
	return out, warnings
}

func lookup(name, path string, tree namespace.Value) (string, *Warning) {
	v, ok := tree.Lookup(path)
	if !ok {
		return "", &Warning{Variable: name, Path: path, Reason: "path not found"}
	}
	switch v.Kind() {
	case namespace.Null:
		return "", &Warning{Variable: name, Path: path, Reason: "value is null"}
	case namespace.Map:
		return "", &Warning{Variable: name, Path: path, Reason: "value is a mapping, not a scalar"}
	}
	text, ok := v.Text()
	if !ok {
		return "", &Warning{Variable: name, Path: path, Reason: fmt.Sprintf("%s value is not convertible to text", v.Kind())}
	}
	return text, nil
}
