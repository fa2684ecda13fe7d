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

package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"hpc-looper/pkg/composer"
	"hpc-looper/pkg/compute"
	"hpc-looper/pkg/config"
	"hpc-looper/pkg/hooks"
	"hpc-looper/pkg/logging"
	"hpc-looper/pkg/namespace"
	"hpc-looper/pkg/orchestrator"
	"hpc-looper/pkg/orchestrator/gke"
	"hpc-looper/pkg/pipeline"
	"hpc-looper/pkg/sample"
	"hpc-looper/pkg/shell"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Flags shared by every command that reads a run configuration.
var (
	configPath  string
	lumpSize    float64
	lumpCount   int
	selInclude  []string
	selExclude  []string
	computeVars map[string]string
)

func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the run configuration (YAML, or HCL with a .hcl extension). Required.")
	cmd.Flags().Float64Var(&lumpSize, "lump", 0, "Lump samples into jobs of up to this many GB of input. Overrides the config.")
	cmd.Flags().IntVar(&lumpCount, "lumpn", 0, "Lump this many samples into each job. Overrides the config.")
	cmd.Flags().StringSliceVar(&selInclude, "sel-include", nil, "Only run samples whose names match these patterns.")
	cmd.Flags().StringSliceVar(&selExclude, "sel-exclude", nil, "Skip samples whose names match these patterns.")
	cmd.Flags().StringToStringVar(&computeVars, "compute", nil, "Compute settings that override every pipeline, e.g. --compute cores=8,mem=32000.")
	_ = cmd.MarkFlagRequired("config")
	cmd.MarkFlagsMutuallyExclusive("lump", "lumpn")
}

// loadConfig reads the configuration and applies flag overrides.
func loadConfig(cmd *cobra.Command, fs afero.Fs) (*config.Config, error) {
	cfg, err := config.Load(fs, configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("lump") {
		cfg.Lump, cfg.LumpN = lumpSize, 0
	}
	if flags.Changed("lumpn") {
		cfg.Lump, cfg.LumpN = 0, lumpCount
	}
	if len(selInclude) > 0 || len(selExclude) > 0 {
		if cfg.Selection == nil {
			cfg.Selection = &config.Selection{}
		}
		cfg.Selection.Include = append(cfg.Selection.Include, selInclude...)
		cfg.Selection.Exclude = append(cfg.Selection.Exclude, selExclude...)
	}
	if len(computeVars) > 0 {
		if cfg.Compute == nil {
			cfg.Compute = map[string]string{}
		}
		for k, v := range computeVars {
			cfg.Compute[k] = v
		}
	}
	applyRunFlags(cmd, cfg)
	flags.Visit(func(f *pflag.Flag) {
		logging.Debug("--%s=%s overrides the configuration", f.Name, f.Value.String())
	})
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// session holds everything loaded for one invocation.
type session struct {
	cfg        *config.Config
	fs         afero.Fs
	rows       []sample.Row
	interfaces []*pipeline.Interface
	tree       namespace.Value
	executor   shell.Executor
	composer   *composer.Composer
}

func newSession(ctx context.Context, cfg *config.Config, fs afero.Fs) (*session, error) {
	log := logging.Logger()
	s := &session{cfg: cfg, fs: fs}

	rows, err := sample.LoadCSV(fs, cfg.SampleTable, sample.LoadOptions{
		NameColumn:      cfg.NameColumn,
		InputAttributes: cfg.InputAttributes,
		Log:             log,
	})
	if err != nil {
		return nil, err
	}
	if s.rows, err = selectRows(fs, cfg.Selection, rows); err != nil {
		return nil, err
	}
	switch {
	case len(s.rows) == 0:
		logging.Warn("No samples selected from %s", cfg.SampleTable)
	case len(s.rows) < len(rows):
		logging.Info("Selected %d of %d samples", len(s.rows), len(rows))
	}

	if s.interfaces, err = pipeline.LoadAll(ctx, fs, cfg.PipelineInterfaces); err != nil {
		return nil, err
	}

	s.tree = namespace.MapValue(nil)
	if cfg.ProjectConfig != "" {
		data, err := afero.ReadFile(fs, cfg.ProjectConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to read project config: %w", err)
		}
		if s.tree, err = namespace.FromYAML(data); err != nil {
			return nil, fmt.Errorf("%s: %w", cfg.ProjectConfig, err)
		}
	}

	timeout, err := cfg.Timeout()
	if err != nil {
		return nil, err
	}
	s.executor = shell.BashExecutor{Timeout: timeout}

	scriptTemplate := ""
	if cfg.ScriptTemplate != "" {
		data, err := afero.ReadFile(fs, cfg.ScriptTemplate)
		if err != nil {
			return nil, fmt.Errorf("failed to read script template: %w", err)
		}
		scriptTemplate = string(data)
	}

	s.composer = &composer.Composer{
		Fs:             fs,
		Executor:       s.executor,
		Compute:        compute.NewResolver(fs, s.executor, log, compute.Settings(cfg.Compute)),
		Hooks:          hooks.Default(),
		Log:            log,
		OutputDir:      cfg.OutputDir,
		RunID:          uuid.New().String(),
		ScriptTemplate: scriptTemplate,
		Extra:          config.EnvExtras(os.Environ()),
	}
	return s, nil
}

func selectRows(fs afero.Fs, sel *config.Selection, rows []sample.Row) ([]sample.Row, error) {
	if sel == nil {
		return rows, nil
	}
	exclude := append([]string(nil), sel.Exclude...)
	if sel.ExcludeFile != "" {
		f, err := fs.Open(sel.ExcludeFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open exclude file: %w", err)
		}
		defer f.Close()
		patterns, err := sample.ReadPatterns(f)
		if err != nil {
			return nil, err
		}
		exclude = append(exclude, patterns...)
	}
	selector, err := sample.NewSelector(sel.Include, exclude)
	if err != nil {
		return nil, err
	}
	return selector.Filter(rows)
}

// newBackend builds the backend named in cfg.
func newBackend(cfg *config.Config, fs afero.Fs, executor shell.Executor) (orchestrator.Backend, error) {
	log := logging.Logger()
	switch cfg.Backend {
	case "dryrun":
		return &orchestrator.DryRun{Fs: fs, Log: log}, nil
	case "local":
		return &orchestrator.Local{Fs: fs, Executor: executor, Log: log}, nil
	case "slurm":
		return &orchestrator.Slurm{Fs: fs, Executor: executor, Log: log}, nil
	case "gke":
		g := cfg.GKE
		if g == nil {
			return nil, fmt.Errorf("the gke backend needs a gke block")
		}
		return gke.New(gke.Options{
			ProjectID:               g.ProjectID,
			ClusterName:             g.ClusterName,
			ClusterLocation:         g.ClusterLocation,
			Namespace:               g.Namespace,
			AcceleratorType:         g.AcceleratorType,
			Image:                   g.Image,
			OutputManifest:          g.OutputManifest,
			BuildContext:            g.BuildContext,
			Registry:                g.Registry,
			Platform:                g.Platform,
			TTLSecondsAfterFinished: g.TTLSecondsAfterFinished,
		}, fs, log), nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

func ensureDir(fs afero.Fs, dir string) error {
	if err := fs.MkdirAll(filepath.Clean(dir), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return nil
}
