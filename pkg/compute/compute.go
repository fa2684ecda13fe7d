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

// Package compute resolves the environment sizing of a job: static values,
// a size-dependent table, and the output of a dynamic command.
package compute

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"hpc-looper/pkg/render"
	"hpc-looper/pkg/shell"
	"hpc-looper/pkg/sources"
	"hpc-looper/pkg/variables"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Section is the compute block of a pipeline interface.
type Section struct {
	SizeDependentVariables          string            `yaml:"size_dependent_variables,omitempty"`
	DynamicVariablesCommandTemplate string            `yaml:"dynamic_variables_command_template,omitempty"`
	DockerImage                     string            `yaml:"docker_image,omitempty"`
	SingularityImage                string            `yaml:"singularity_image,omitempty"`
	BulkerCrate                     string            `yaml:"bulker_crate,omitempty"`
	Var                             map[string]string `yaml:"var,omitempty"`

	// BaseDir anchors a relative size table path, normally the directory of
	// the pipeline interface file.
	BaseDir string `yaml:"-"`
}

// Settings are resolved compute values keyed by name, e.g. "cores".
type Settings map[string]string

// Merge returns s overlaid with others, later ones winning.
func (s Settings) Merge(others ...Settings) Settings {
	out := make(Settings, len(s))
	for k, v := range s {
		out[k] = v
	}
	for _, o := range others {
		for k, v := range o {
			out[k] = v
		}
	}
	return out
}

// Keys lists the setting names in sorted order.
func (s Settings) Keys() []string {
	return variables.Mapping(s).Names()
}

// Mapping exposes s under the "compute." prefix for templates.
func (s Settings) Mapping() variables.Mapping {
	return variables.Mapping(s).WithPrefix("compute")
}

// ResolutionError reports a compute setting that could not be determined.
type ResolutionError struct {
	Reason string
	Err    error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("compute resolution failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("compute resolution failed: %s", e.Reason)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Resolver resolves compute settings. It is safe for concurrent use; parsed
// size tables are cached per location.
type Resolver struct {
	Fs       afero.Fs
	Executor shell.Executor
	Log      logrus.FieldLogger

	// Overrides sit above every other layer.
	Overrides Settings

	cache sync.Map // location -> *Table
}

// NewResolver returns a Resolver reading tables from fs and running dynamic
// commands with executor.
func NewResolver(fs afero.Fs, executor shell.Executor, log logrus.FieldLogger, overrides Settings) *Resolver {
	return &Resolver{Fs: fs, Executor: executor, Log: log, Overrides: overrides}
}

// Resolve layers, lowest first: static values, the table row selected by
// size, the dynamic command output, then the resolver overrides.
func (r *Resolver) Resolve(ctx context.Context, sec Section, size float64, vars variables.Mapping) (Settings, error) {
	static, err := staticSettings(sec)
	if err != nil {
		return nil, err
	}

	var fromTable Settings
	if sec.SizeDependentVariables != "" {
		table, err := r.table(ctx, sec.SizeDependentVariables, sec.BaseDir)
		if err != nil {
			return nil, err
		}
		fromTable = table.Select(size)
		r.logger().WithFields(logrus.Fields{"size": variables.FormatNumber(size), "table": sec.SizeDependentVariables}).Debug("selected size table row")
	}

	var dynamic Settings
	if sec.DynamicVariablesCommandTemplate != "" {
		dynamic, err = r.dynamic(ctx, sec.DynamicVariablesCommandTemplate, vars)
		if err != nil {
			return nil, err
		}
	}

	return static.Merge(fromTable, dynamic, r.Overrides), nil
}

func (r *Resolver) logger() logrus.FieldLogger {
	if r.Log == nil {
		return logrus.StandardLogger()
	}
	return r.Log
}

func (r *Resolver) table(ctx context.Context, location, baseDir string) (*Table, error) {
	key := sources.Resolve(location, baseDir)
	if cached, ok := r.cache.Load(key); ok {
		return cached.(*Table), nil
	}
	fs := r.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	data, err := sources.Read(ctx, fs, key, "")
	if err != nil {
		return nil, &ResolutionError{Reason: fmt.Sprintf("cannot read size table %q", location), Err: err}
	}
	table, err := ParseTable(key, data)
	if err != nil {
		return nil, &ResolutionError{Reason: "invalid size table", Err: err}
	}
	actual, _ := r.cache.LoadOrStore(key, table)
	return actual.(*Table), nil
}

func (r *Resolver) dynamic(ctx context.Context, tmpl string, vars variables.Mapping) (Settings, error) {
	command, err := render.Render("compute.dynamic_variables_command_template", tmpl, vars)
	if err != nil {
		return nil, &ResolutionError{Reason: "cannot render dynamic variables command", Err: err}
	}
	if r.Executor == nil {
		return nil, &ResolutionError{Reason: "no executor configured for dynamic variables command"}
	}
	r.logger().WithField("command", command).Debug("running dynamic compute command")
	res, err := r.Executor.Run(ctx, command, nil)
	if err != nil {
		return nil, &ResolutionError{Reason: fmt.Sprintf("dynamic variables command %q failed", command), Err: err}
	}
	values, err := ParseObject([]byte(res.Stdout))
	if err != nil {
		return nil, &ResolutionError{Reason: "dynamic variables command output is not a flat object", Err: err}
	}
	return Settings(values), nil
}

// ParseObject decodes a flat JSON or YAML object whose values are scalars.
// Blank input decodes to an empty object.
func ParseObject(data []byte) (map[string]string, error) {
	if strings.TrimSpace(string(data)) == "" {
		return map[string]string{}, nil
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return flatStrings(raw)
}

func staticSettings(sec Section) (Settings, error) {
	out := make(Settings, len(sec.Var)+3)
	for k, v := range sec.Var {
		out[k] = v
	}
	if sec.DockerImage != "" {
		if _, err := name.ParseReference(sec.DockerImage); err != nil {
			return nil, &ResolutionError{Reason: fmt.Sprintf("invalid docker_image %q", sec.DockerImage), Err: err}
		}
		out["docker_image"] = sec.DockerImage
	}
	if sec.SingularityImage != "" {
		if ref, ok := strings.CutPrefix(sec.SingularityImage, "docker://"); ok {
			if _, err := name.ParseReference(ref); err != nil {
				return nil, &ResolutionError{Reason: fmt.Sprintf("invalid singularity_image %q", sec.SingularityImage), Err: err}
			}
		}
		out["singularity_image"] = sec.SingularityImage
	}
	if sec.BulkerCrate != "" {
		out["bulker_crate"] = sec.BulkerCrate
	}
	return out, nil
}

