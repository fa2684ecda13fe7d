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

// Package composer turns one lump and a pipeline interface into a
// submission payload.
package composer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"hpc-looper/pkg/adapter"
	"hpc-looper/pkg/compute"
	"hpc-looper/pkg/hooks"
	"hpc-looper/pkg/lump"
	"hpc-looper/pkg/namespace"
	"hpc-looper/pkg/pipeline"
	"hpc-looper/pkg/render"
	"hpc-looper/pkg/shell"
	"hpc-looper/pkg/variables"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Stage names the composition step that failed.
type Stage string

// Composition stages, in execution order.
const (
	StageAdapters     Stage = "adapters"
	StageVarTemplates Stage = "var_templates"
	StageHooks        Stage = "hooks"
	StagePreSubmit    Stage = "pre_submit"
	StageCompute      Stage = "compute"
	StageCommand      Stage = "command"
	StageScript       Stage = "script"
)

// DefaultScriptTemplate is used when no backend template is configured.
const DefaultScriptTemplate = "#!/bin/bash\n\n{looper.command}\n"

// CompositionError wraps whatever aborted the composition of one lump.
type CompositionError struct {
	LumpID   string
	Pipeline string
	Stage    Stage
	Err      error
}

func (e *CompositionError) Error() string {
	return fmt.Sprintf("failed to compose %s job for %s at %s: %v", e.Pipeline, e.LumpID, e.Stage, e.Err)
}

func (e *CompositionError) Unwrap() error {
	return e.Err
}

// Payload is the finished description of one job. Backends must treat it as
// read-only.
type Payload struct {
	Pipeline  string
	LumpID    string
	Samples   []string
	JobName   string
	Command   string
	PreSubmit []string
	Variables variables.Mapping
	Compute   compute.Settings
	Script    string

	// ScriptPath and LogFile are where backends write the script and direct
	// job output.
	ScriptPath string
	LogFile    string
}

// Composer holds everything shared across lumps of a run. It is safe for
// concurrent use as long as its collaborators are.
type Composer struct {
	Fs       afero.Fs
	Executor shell.Executor
	Compute  *compute.Resolver
	Hooks    *hooks.Registry
	Log      logrus.FieldLogger

	OutputDir string
	RunID     string
	// ScriptTemplate renders the submission script; {looper.command} holds
	// the rendered command. Empty means DefaultScriptTemplate.
	ScriptTemplate string
	// Extra is merged into the looper namespace, e.g. values from LOOPER_*
	// environment variables.
	Extra map[string]string
}

// Compose builds the payload for l. tree is the project-level namespace;
// the sample, pipeline, lump and looper namespaces are added on top of it.
//
// var_templates render first, so pre-submit commands can use them. Hook
// results and pre-submit output are visible to command_template.
//
// Only the first row of a multi-row lump is addressable as sample.*. Every
// row is reachable through the manifest bound to lump.manifest.
func (c *Composer) Compose(ctx context.Context, l lump.Lump, pi *pipeline.Interface, adapters adapter.Map, tree namespace.Value) (*Payload, error) {
	fail := func(stage Stage, err error) (*Payload, error) {
		return nil, &CompositionError{LumpID: l.ID, Pipeline: pi.PipelineName, Stage: stage, Err: err}
	}
	if len(l.Rows) == 0 {
		return fail(StageAdapters, fmt.Errorf("lump has no rows"))
	}
	log := c.logger().WithFields(logrus.Fields{"pipeline": pi.PipelineName, "lump": l.ID})

	jobName := JobName(pi.PipelineName, l)
	subDir := hooks.SubmissionDir(c.OutputDir)
	payload := &Payload{
		Pipeline:   pi.PipelineName,
		LumpID:     l.ID,
		Samples:    l.SampleNames(),
		JobName:    jobName,
		ScriptPath: filepath.Join(subDir, jobName+".sub"),
		LogFile:    filepath.Join(subDir, jobName+".log"),
	}

	builtin := c.builtinTree(l, pi, payload)
	if err := adapters.Validate(); err != nil {
		return fail(StageAdapters, err)
	}
	resolved, warnings := adapter.Resolve(adapters, tree.Merge(builtin).With("sample", l.Rows[0].Tree()))
	for _, w := range warnings {
		log.WithField("variable", w.Variable).Warn(w.Error())
	}
	vars := variables.Mapping(builtin.Flatten()).Merge(resolved)

	vars, err := render.RenderChain("var_templates", pi.VarTemplates, vars)
	if err != nil {
		return fail(StageVarTemplates, err)
	}

	env := hooks.Env{Fs: c.fs(), Lump: l, Pipeline: pi.PipelineName, OutputDir: c.OutputDir}
	for _, name := range pi.PreSubmit.PythonFunctions {
		fn, err := c.registry().Lookup(name)
		if err != nil {
			return fail(StageHooks, err)
		}
		log.Debugf("running pre-submit function %s", name)
		next, err := fn(ctx, env, vars.Clone())
		if err != nil {
			return fail(StageHooks, fmt.Errorf("%s: %w", name, err))
		}
		vars = next
	}

	for i, tmpl := range pi.PreSubmit.CommandTemplates {
		command, err := render.Render(fmt.Sprintf("pre_submit.command_templates[%d]", i), tmpl, vars)
		if err != nil {
			return fail(StagePreSubmit, err)
		}
		payload.PreSubmit = append(payload.PreSubmit, command)
		if c.Executor == nil {
			return fail(StagePreSubmit, fmt.Errorf("no executor configured for %q", command))
		}
		log.Debugf("running pre-submit command %q", command)
		res, err := c.Executor.Run(ctx, command, nil)
		if err != nil {
			return fail(StagePreSubmit, err)
		}
		if out, err := compute.ParseObject([]byte(res.Stdout)); err == nil {
			vars = vars.Merge(out)
		}
	}

	if c.Compute != nil {
		settings, err := c.Compute.Resolve(ctx, pi.Compute, l.Size, vars)
		if err != nil {
			return fail(StageCompute, err)
		}
		payload.Compute = settings
		vars = vars.Merge(settings.Mapping())
	}

	payload.Command, err = render.Render("command_template", pi.CommandTemplate, vars)
	if err != nil {
		return fail(StageCommand, err)
	}
	vars = vars.Merge(variables.Mapping{"looper.command": payload.Command})

	scriptTemplate := c.ScriptTemplate
	if scriptTemplate == "" {
		scriptTemplate = DefaultScriptTemplate
	}
	payload.Script, err = render.Render("script", scriptTemplate, vars)
	if err != nil {
		return fail(StageScript, err)
	}

	payload.Variables = vars
	return payload, nil
}

// JobName is "<pipeline>_<sample>" for a single-row lump and
// "<pipeline>_<lump id>" otherwise.
func JobName(pipelineName string, l lump.Lump) string {
	suffix := l.ID
	if len(l.Rows) == 1 {
		suffix = l.Rows[0].Name
	}
	return pipelineName + "_" + sanitize(suffix)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, s)
}

// builtinTree holds the lump, looper and pipeline namespaces. They are
// exposed whether or not adapters are configured.
func (c *Composer) builtinTree(l lump.Lump, pi *pipeline.Interface, p *Payload) namespace.Value {
	names := make([]namespace.Value, len(p.Samples))
	for i, n := range p.Samples {
		names[i] = namespace.StringValue(n)
	}
	looper := map[string]namespace.Value{
		"output_dir": namespace.StringValue(c.OutputDir),
		"job_name":   namespace.StringValue(p.JobName),
		"log_file":   namespace.StringValue(p.LogFile),
		"run_id":     namespace.StringValue(c.RunID),
	}
	for k, v := range c.Extra {
		if _, taken := looper[k]; !taken {
			looper[k] = namespace.StringValue(v)
		}
	}
	return namespace.MapValue(map[string]namespace.Value{
		"lump": namespace.MapValue(map[string]namespace.Value{
			"id":       namespace.StringValue(l.ID),
			"size":     namespace.NumberValue(l.Size),
			"count":    namespace.NumberValue(float64(len(l.Rows))),
			"samples":  namespace.ListValue(names),
			"manifest": namespace.StringValue(hooks.ManifestPath(c.OutputDir, pi.PipelineName, l.ID)),
		}),
		"looper":   namespace.MapValue(looper),
		"pipeline": pi.Namespace(),
	})
}

func (c *Composer) logger() logrus.FieldLogger {
	if c.Log == nil {
		return logrus.StandardLogger()
	}
	return c.Log
}

func (c *Composer) fs() afero.Fs {
	if c.Fs == nil {
		return afero.NewOsFs()
	}
	return c.Fs
}

func (c *Composer) registry() *hooks.Registry {
	if c.Hooks == nil {
		return hooks.Default()
	}
	return c.Hooks
}
