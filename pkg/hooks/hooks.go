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

// Package hooks holds the named functions a pipeline interface may run
// before submission through pre_submit.python_functions.
package hooks

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sync"

	"hpc-looper/pkg/lump"
	"hpc-looper/pkg/variables"

	"github.com/agext/levenshtein"
	"github.com/spf13/afero"
)

// Env is what a hook may act on besides the variable mapping.
type Env struct {
	Fs        afero.Fs
	Lump      lump.Lump
	Pipeline  string
	OutputDir string
}

// Func receives the current mapping and returns the next one. It must not
// modify vars in place.
type Func func(ctx context.Context, env Env, vars variables.Mapping) (variables.Mapping, error)

// UnknownHookError is returned for a name nothing was registered under.
type UnknownHookError struct {
	Name       string
	Suggestion string
}

func (e *UnknownHookError) Error() string {
	msg := fmt.Sprintf("unknown pre-submit function %q", e.Name)
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", e.Suggestion)
	}
	return msg
}

// Registry maps hook names to functions. Registration normally happens once
// at start-up; lookups are safe from many goroutines.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: map[string]Func{}}
}

// Default returns a registry holding the built-in hooks.
func Default() *Registry {
	r := NewRegistry()
	for name, fn := range builtins {
		if err := r.Register(name, fn); err != nil {
			panic(err)
		}
	}
	return r
}

// Register binds fn to name. Registering a name twice is an error.
func (r *Registry) Register(name string, fn Func) error {
	if name == "" || fn == nil {
		return fmt.Errorf("hook registration needs a name and a function")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[name]; exists {
		return fmt.Errorf("pre-submit function %q is already registered", name)
	}
	r.funcs[name] = fn
	return nil
}

// Lookup returns the function registered under name or an
// *UnknownHookError.
func (r *Registry) Lookup(name string) (Func, error) {
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()
	if ok {
		return fn, nil
	}
	return nil, &UnknownHookError{Name: name, Suggestion: r.closest(name)}
}

// Names lists the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for n := range r.funcs {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func (r *Registry) closest(name string) string {
	best, bestDist := "", -1
	for _, candidate := range r.Names() {
		if d := levenshtein.Distance(name, candidate, nil); bestDist < 0 || d < bestDist {
			best, bestDist = candidate, d
		}
	}
	if bestDist < 0 || bestDist > max(2, len(name)/3) {
		return ""
	}
	return best
}

// SubmissionDir is where scripts, manifests and variable dumps are written.
func SubmissionDir(outputDir string) string {
	return filepath.Join(outputDir, "submission")
}

// ManifestPath is the lump manifest location bound to lump.manifest.
func ManifestPath(outputDir, pipeline, lumpID string) string {
	return filepath.Join(SubmissionDir(outputDir), fmt.Sprintf("%s_%s_manifest.yaml", pipeline, lumpID))
}

// VarsPath is the variable dump location bound to looper.vars_file.
func VarsPath(outputDir, pipeline, lumpID string) string {
	return filepath.Join(SubmissionDir(outputDir), fmt.Sprintf("%s_%s_vars.yaml", pipeline, lumpID))
}

// SamplePath is the per-sample YAML location bound to sample.yaml_file.
func SamplePath(outputDir, sampleName string) string {
	return filepath.Join(SubmissionDir(outputDir), sampleName+"_sample.yaml")
}
