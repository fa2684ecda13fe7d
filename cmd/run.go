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
	"os"
	"os/signal"
	"syscall"

	"hpc-looper/pkg/config"
	"hpc-looper/pkg/logging"
	"hpc-looper/pkg/runner"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	workers   int
	backend   string
	outputDir string
	dryRun    bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	addConfigFlags(runCmd)

	runCmd.Flags().IntVarP(&workers, "workers", "w", 0, "Number of lumps composed and submitted concurrently. Defaults to the config, then 4.")
	runCmd.Flags().StringVarP(&backend, "backend", "b", "", "Compute backend: dryrun, local, slurm or gke. Overrides the config.")
	runCmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Directory for submission scripts, logs and manifests. Overrides the config.")
	runCmd.Flags().BoolVarP(&dryRun, "dry-run", "d", false, "Write submission scripts without submitting them. Same as --backend dryrun.")
	runCmd.MarkFlagsMutuallyExclusive("backend", "dry-run")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Composes and submits one job per lump for every pipeline.",
	Long: `The 'run' command loads the sample table and pipeline interfaces named in the
configuration, groups samples into lumps (--lump GB or --lumpn samples per job),
renders each job's command and submission script and submits it to the
configured backend. Failed lumps are reported at the end and make the command
exit non-zero; they never stop other lumps.`,
	Run:          runRunCmd,
	SilenceUsage: true,
}

// applyRunFlags copies run-only flags onto cfg. Commands without these flags
// leave cfg untouched.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("workers") {
		cfg.Workers = workers
	}
	if flags.Changed("backend") {
		cfg.Backend = backend
	}
	if flags.Changed("output-dir") {
		cfg.OutputDir = outputDir
	}
	if dryRun {
		cfg.Backend = "dryrun"
	}
}

func runRunCmd(cmd *cobra.Command, args []string) {
	logging.Info("Executing looper run command...")

	fs := afero.NewOsFs()
	cfg, err := loadConfig(cmd, fs)
	if err != nil {
		logging.Fatal("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newSession(ctx, cfg, fs)
	if err != nil {
		logging.Fatal("Failed to load run inputs: %v", err)
	}
	if err := ensureDir(fs, cfg.OutputDir); err != nil {
		logging.Fatal("%v", err)
	}
	b, err := newBackend(cfg, fs, s.executor)
	if err != nil {
		logging.Fatal("%v", err)
	}
	policy, err := cfg.Policy()
	if err != nil {
		logging.Fatal("%v", err)
	}

	logging.WithFields(logrus.Fields{"backend": b.Name(), "output_dir": cfg.OutputDir}).Infof("Starting run of %d pipeline(s)", len(s.interfaces))
	r := &runner.Runner{Composer: s.composer, Backend: b, Workers: cfg.Workers, Log: logging.Logger()}
	summary, err := r.Run(ctx, runner.RunSpec{
		Rows:       s.rows,
		Policy:     policy,
		Interfaces: s.interfaces,
		Adapters:   cfg.Adapters,
		Tree:       s.tree,
	})
	if err != nil {
		logging.Fatal("looper run failed: %v", err)
	}
	summary.Print(os.Stdout)
	if summary.Skipped > 0 {
		logging.Warn("%d job(s) were skipped because the run was interrupted", summary.Skipped)
	}
	if err := summary.Err(); err != nil {
		logging.Fatal("looper run finished with failures: %v", err)
	}
}
