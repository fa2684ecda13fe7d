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

// Package pipeline models pipeline interface documents.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"hpc-looper/pkg/compute"
	"hpc-looper/pkg/namespace"
	"hpc-looper/pkg/render"
	"hpc-looper/pkg/sources"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Pipeline types.
const (
	TypeSample  = "sample"
	TypeProject = "project"
)

// PreSubmit lists the steps run before the main command. Hooks run first,
// then command templates, each in declared order.
type PreSubmit struct {
	PythonFunctions  []string `yaml:"python_functions,omitempty"`
	CommandTemplates []string `yaml:"command_templates,omitempty"`
}

// VarTemplates keeps var_templates in declaration order so that later
// entries can reference earlier ones.
type VarTemplates []render.NamedTemplate

// UnmarshalYAML decodes a YAML mapping while preserving key order.
func (vt *VarTemplates) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: var_templates must be a mapping", node.Line)
	}
	out := make(VarTemplates, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		if val.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: var_templates.%s must be a string", val.Line, key.Value)
		}
		out = append(out, render.NamedTemplate{Name: key.Value, Text: val.Value})
	}
	*vt = out
	return nil
}

// MarshalYAML writes var_templates back as an ordered mapping.
func (vt VarTemplates) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, t := range vt {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: t.Name},
			&yaml.Node{Kind: yaml.ScalarNode, Value: t.Text},
		)
	}
	return node, nil
}

// Interface describes how to invoke one pipeline.
type Interface struct {
	PipelineName             string          `yaml:"pipeline_name"`
	PipelineType             string          `yaml:"pipeline_type"`
	CommandTemplate          string          `yaml:"command_template"`
	VarTemplates             VarTemplates    `yaml:"var_templates,omitempty"`
	PreSubmit                PreSubmit       `yaml:"pre_submit,omitempty"`
	Compute                  compute.Section `yaml:"compute,omitempty"`
	LinkedPipelineInterfaces []string        `yaml:"linked_pipeline_interfaces,omitempty"`

	// Source is where the document was loaded from.
	Source string `yaml:"-"`
	// Commit is the HEAD commit of the git checkout holding a local
	// document, if any.
	Commit string `yaml:"-"`
}

// Parse decodes a pipeline interface document. Unknown keys are ignored.
func Parse(data []byte) (*Interface, error) {
	var pi Interface
	if err := yaml.Unmarshal(data, &pi); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline interface: %w", err)
	}
	return &pi, nil
}

// Validate checks the semantic invariants of the document, including the
// syntax of every template it carries.
func (pi *Interface) Validate() error {
	var errs []error
	switch {
	case pi.PipelineName == "":
		errs = append(errs, errors.New("pipeline_name is required"))
	case strings.IndexFunc(pi.PipelineName, unicode.IsSpace) >= 0:
		errs = append(errs, fmt.Errorf("pipeline_name %q must not contain whitespace", pi.PipelineName))
	}
	switch pi.PipelineType {
	case TypeSample, TypeProject:
	case "":
		errs = append(errs, errors.New("pipeline_type is required"))
	default:
		errs = append(errs, fmt.Errorf("pipeline_type must be %q or %q, got %q", TypeSample, TypeProject, pi.PipelineType))
	}
	if strings.TrimSpace(pi.CommandTemplate) == "" {
		errs = append(errs, errors.New("command_template is required"))
	} else if _, err := render.Parse("command_template", pi.CommandTemplate); err != nil {
		errs = append(errs, err)
	}
	if len(pi.LinkedPipelineInterfaces) > 0 && pi.PipelineType != TypeProject {
		errs = append(errs, fmt.Errorf("linked_pipeline_interfaces is only allowed for %q pipelines", TypeProject))
	}

	seen := map[string]bool{}
	for _, vt := range pi.VarTemplates {
		if seen[vt.Name] {
			errs = append(errs, fmt.Errorf("var_templates.%s is declared twice", vt.Name))
		}
		seen[vt.Name] = true
		if _, err := render.Parse("var_templates."+vt.Name, vt.Text); err != nil {
			errs = append(errs, err)
		}
	}
	for i, ct := range pi.PreSubmit.CommandTemplates {
		if _, err := render.Parse(fmt.Sprintf("pre_submit.command_templates[%d]", i), ct); err != nil {
			errs = append(errs, err)
		}
	}
	for _, fn := range pi.PreSubmit.PythonFunctions {
		if strings.TrimSpace(fn) == "" {
			errs = append(errs, errors.New("pre_submit.python_functions contains an empty name"))
		}
	}
	if dyn := pi.Compute.DynamicVariablesCommandTemplate; dyn != "" {
		if _, err := render.Parse("compute.dynamic_variables_command_template", dyn); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid pipeline interface %q: %w", pi.PipelineName, err)
	}
	return nil
}

// Namespace is the pipeline namespace of a job: name, type, source and
// commit.
func (pi *Interface) Namespace() namespace.Value {
	return namespace.MapValue(map[string]namespace.Value{
		"name":   namespace.StringValue(pi.PipelineName),
		"type":   namespace.StringValue(pi.PipelineType),
		"source": namespace.StringValue(pi.Source),
		"commit": namespace.StringValue(pi.Commit),
	})
}

// Load reads, decodes and validates the interface at location, a local path
// or a go-getter URL. The compute size table resolves relative to the
// document.
func Load(ctx context.Context, fs afero.Fs, location string) (*Interface, error) {
	data, err := sources.Read(ctx, fs, location, "")
	if err != nil {
		return nil, err
	}
	pi, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", location, err)
	}
	pi.Source = location
	pi.Compute.BaseDir = sources.Dir(location)
	if !sources.IsRemote(location) {
		pi.Commit = Commit(pi.Compute.BaseDir)
	}
	if err := pi.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", location, err)
	}
	return pi, nil
}

// LoadAll loads every interface in locations and, transitively, the
// interfaces they link to. Each location is loaded once.
func LoadAll(ctx context.Context, fs afero.Fs, locations []string) ([]*Interface, error) {
	var out []*Interface
	seen := map[string]bool{}
	queue := append([]string(nil), locations...)
	for len(queue) > 0 {
		loc := queue[0]
		queue = queue[1:]
		if seen[loc] {
			continue
		}
		seen[loc] = true

		pi, err := Load(ctx, fs, loc)
		if err != nil {
			return nil, err
		}
		out = append(out, pi)
		for _, linked := range pi.LinkedPipelineInterfaces {
			queue = append(queue, sources.Resolve(linked, pi.Compute.BaseDir))
		}
	}
	return out, nil
}
