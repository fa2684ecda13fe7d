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

// Package config loads and validates run configuration from YAML or HCL.
package config

import (
	"bytes"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"hpc-looper/pkg/lump"
	"hpc-looper/pkg/sources"

	"github.com/go-playground/validator/v10"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Backends lists the accepted backend names.
var Backends = []string{"dryrun", "local", "slurm", "gke"}

// DefaultBackend runs jobs on this host.
const DefaultBackend = "local"

// EnvPrefix marks environment variables exposed as looper.* variables.
const EnvPrefix = "LOOPER_"

// Config is one run configuration.
type Config struct {
	SampleTable        string            `yaml:"sample_table" hcl:"sample_table,optional" validate:"required"`
	NameColumn         string            `yaml:"name_column,omitempty" hcl:"name_column,optional"`
	InputAttributes    []string          `yaml:"input_attributes,omitempty" hcl:"input_attributes,optional"`
	PipelineInterfaces []string          `yaml:"pipeline_interfaces" hcl:"pipeline_interfaces,optional" validate:"required,min=1,dive,required"`
	ProjectConfig      string            `yaml:"project_config,omitempty" hcl:"project_config,optional"`
	Adapters           map[string]string `yaml:"adapters,omitempty" hcl:"adapters,optional" validate:"dive,keys,required,endkeys,required"`

	Lump           float64 `yaml:"lump,omitempty" hcl:"lump,optional" validate:"gte=0,excluded_with=LumpN"`
	LumpN          int     `yaml:"lumpn,omitempty" hcl:"lumpn,optional" validate:"gte=0"`
	Workers        int     `yaml:"workers,omitempty" hcl:"workers,optional" validate:"gte=0"`
	Backend        string  `yaml:"backend,omitempty" hcl:"backend,optional" validate:"backend"`
	OutputDir      string  `yaml:"output_dir" hcl:"output_dir,optional" validate:"required"`
	CommandTimeout string  `yaml:"command_timeout,omitempty" hcl:"command_timeout,optional" validate:"omitempty,duration"`
	ScriptTemplate string  `yaml:"script_template,omitempty" hcl:"script_template,optional"`

	// Compute overrides every pipeline's compute settings.
	Compute map[string]string `yaml:"compute,omitempty" hcl:"compute,optional"`

	Selection *Selection `yaml:"selection,omitempty" hcl:"selection,block"`
	GKE       *GKE       `yaml:"gke,omitempty" hcl:"gke,block" validate:"required_if=Backend gke"`
}

// Selection limits the run to some samples by name.
type Selection struct {
	Include     []string `yaml:"include,omitempty" hcl:"include,optional"`
	Exclude     []string `yaml:"exclude,omitempty" hcl:"exclude,optional"`
	ExcludeFile string   `yaml:"exclude_file,omitempty" hcl:"exclude_file,optional"`
}

// GKE configures the gke backend.
type GKE struct {
	ProjectID               string `yaml:"project_id,omitempty" hcl:"project_id,optional"`
	ClusterName             string `yaml:"cluster_name,omitempty" hcl:"cluster_name,optional" validate:"required_without=OutputManifest"`
	ClusterLocation         string `yaml:"cluster_location,omitempty" hcl:"cluster_location,optional"`
	Namespace               string `yaml:"namespace,omitempty" hcl:"namespace,optional"`
	Image                   string `yaml:"image,omitempty" hcl:"image,optional" validate:"omitempty,image"`
	AcceleratorType         string `yaml:"accelerator_type,omitempty" hcl:"accelerator_type,optional"`
	OutputManifest          string `yaml:"output_manifest,omitempty" hcl:"output_manifest,optional"`
	BuildContext            string `yaml:"build_context,omitempty" hcl:"build_context,optional"`
	Registry                string `yaml:"registry,omitempty" hcl:"registry,optional"`
	Platform                string `yaml:"platform,omitempty" hcl:"platform,optional" validate:"omitempty,oneof=linux/amd64 linux/arm64"`
	TTLSecondsAfterFinished int32  `yaml:"ttl_seconds_after_finished,omitempty" hcl:"ttl_seconds_after_finished,optional" validate:"gte=0"`
}

// Load reads path, applies defaults, resolves relative paths against the
// file's directory and validates the result. Files ending in .hcl are HCL,
// anything else is YAML.
func Load(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %q", path)
	}
	c, err := Parse(path, data)
	if err != nil {
		return nil, err
	}
	c.resolvePaths(filepath.Dir(path))
	if err := c.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %q", path)
	}
	return c, nil
}

// Parse decodes data, choosing the format by the extension of filename, and
// applies defaults. It does not validate.
func Parse(filename string, data []byte) (*Config, error) {
	var c Config
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".hcl":
		if err := hclsimple.Decode(filename, data, nil, &c); err != nil {
			return nil, errors.Wrapf(err, "failed to decode HCL config %q", filename)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&c); err != nil {
			return nil, errors.Wrapf(err, "failed to decode YAML config %q", filename)
		}
	}
	if c.Backend == "" {
		c.Backend = DefaultBackend
	}
	return &c, nil
}

func (c *Config) resolvePaths(dir string) {
	resolve := func(p *string) {
		if *p != "" {
			*p = sources.Resolve(*p, dir)
		}
	}
	resolve(&c.SampleTable)
	resolve(&c.ProjectConfig)
	resolve(&c.OutputDir)
	resolve(&c.ScriptTemplate)
	for i := range c.PipelineInterfaces {
		resolve(&c.PipelineInterfaces[i])
	}
	if c.Selection != nil {
		resolve(&c.Selection.ExcludeFile)
	}
	if c.GKE != nil {
		resolve(&c.GKE.OutputManifest)
		resolve(&c.GKE.BuildContext)
	}
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		return formatValidationErrors(err)
	}
	if _, err := c.Policy(); err != nil {
		return err
	}
	return nil
}

// Policy returns the lump policy described by lump and lumpn.
func (c *Config) Policy() (lump.Policy, error) {
	return lump.NewPolicy(c.Lump, c.LumpN)
}

// Timeout parses command_timeout. Zero means no timeout.
func (c *Config) Timeout() (time.Duration, error) {
	if c.CommandTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.CommandTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid command_timeout %q: %w", c.CommandTimeout, err)
	}
	return d, nil
}

// EnvExtras turns LOOPER_* entries of environ into looper variables:
// LOOPER_GENOME_DIR=/refs becomes genome_dir=/refs.
func EnvExtras(environ []string) map[string]string {
	out := map[string]string{}
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, EnvPrefix) || len(k) == len(EnvPrefix) {
			continue
		}
		out[strings.ToLower(strings.TrimPrefix(k, EnvPrefix))] = v
	}
	return out
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, err := time.ParseDuration(fl.Field().String())
		return err == nil
	})
	v.RegisterValidation("backend", func(fl validator.FieldLevel) bool {
		backend := fl.Field().String()
		for _, valid := range Backends {
			if backend == valid {
				return true
			}
		}
		return false
	})
	v.RegisterValidation("image", func(fl validator.FieldLevel) bool {
		_, err := name.ParseReference(fl.Field().String())
		return err == nil
	})
	return v
}

func formatValidationErrors(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	messages := make([]string, len(fieldErrs))
	for i, fe := range fieldErrs {
		messages[i] = fieldMessage(fe)
	}
	return fmt.Errorf("validation failed: %s", strings.Join(messages, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", field)
	case "required_without":
		return fmt.Sprintf("%s is required unless output_manifest is set", field)
	case "min":
		return fmt.Sprintf("%s needs at least %s entries", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must not be negative", field)
	case "excluded_with":
		return fmt.Sprintf("%s and lumpn are mutually exclusive", field)
	case "backend":
		return fmt.Sprintf("%s must be one of %s, got %q", field, strings.Join(Backends, ", "), fe.Value())
	case "duration":
		return fmt.Sprintf("%s %q is not a duration", field, fe.Value())
	case "image":
		return fmt.Sprintf("%s %q is not a valid image reference", field, fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", field, fe.Param())
	}
	return fmt.Sprintf("%s failed the %s check", field, fe.Tag())
}
