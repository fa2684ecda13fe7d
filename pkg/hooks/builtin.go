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

package hooks

import (
	"context"
	"fmt"
	"path/filepath"

	"hpc-looper/pkg/variables"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Built-in hook names.
const (
	WriteLumpManifest = "looper.write_lump_manifest"
	WriteVars         = "looper.write_vars"
	WriteSampleYAML   = "looper.write_sample_yaml"
)

var builtins = map[string]Func{
	WriteLumpManifest: writeLumpManifest,
	WriteVars:         writeVars,
	WriteSampleYAML:   writeSampleYAML,
}

type manifestEntry struct {
	SampleName string                 `yaml:"sample_name"`
	InputSize  float64                `yaml:"input_size"`
	Attributes map[string]interface{} `yaml:"attributes,omitempty"`
}

type manifest struct {
	Pipeline string          `yaml:"pipeline"`
	Lump     string          `yaml:"lump"`
	Size     float64         `yaml:"size"`
	Samples  []manifestEntry `yaml:"samples"`
}

// writeLumpManifest writes every row of the lump so a command can process
// the whole group, and binds the path to lump.manifest.
func writeLumpManifest(_ context.Context, env Env, vars variables.Mapping) (variables.Mapping, error) {
	path, ok := vars.Lookup("lump.manifest")
	if !ok || path == "" {
		path = ManifestPath(env.OutputDir, env.Pipeline, env.Lump.ID)
	}
	m := manifest{Pipeline: env.Pipeline, Lump: env.Lump.ID, Size: env.Lump.Size}
	for _, r := range env.Lump.Rows {
		entry := manifestEntry{SampleName: r.Name, InputSize: r.InputSize}
		if attrs, ok := r.Attributes.Interface().(map[string]interface{}); ok {
			entry.Attributes = attrs
		}
		m.Samples = append(m.Samples, entry)
	}
	if err := writeYAML(env.Fs, path, m); err != nil {
		return nil, err
	}
	return vars.Merge(variables.Mapping{"lump.manifest": path}), nil
}

// writeVars dumps the mapping as it stands and binds the path to
// looper.vars_file.
func writeVars(_ context.Context, env Env, vars variables.Mapping) (variables.Mapping, error) {
	path := VarsPath(env.OutputDir, env.Pipeline, env.Lump.ID)
	if err := writeYAML(env.Fs, path, map[string]string(vars)); err != nil {
		return nil, err
	}
	return vars.Merge(variables.Mapping{"looper.vars_file": path}), nil
}

// writeSampleYAML writes the first row's attributes and binds the path to
// sample.yaml_file.
func writeSampleYAML(_ context.Context, env Env, vars variables.Mapping) (variables.Mapping, error) {
	if len(env.Lump.Rows) == 0 {
		return nil, fmt.Errorf("lump %s has no rows", env.Lump.ID)
	}
	first := env.Lump.Rows[0]
	path := SamplePath(env.OutputDir, first.Name)
	if err := writeYAML(env.Fs, path, first.Tree().Interface()); err != nil {
		return nil, err
	}
	return vars.Merge(variables.Mapping{"sample.yaml_file": path}), nil
}

func writeYAML(fs afero.Fs, path string, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := afero.WriteFile(fs, path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
