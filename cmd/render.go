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

	"hpc-looper/pkg/composer"
	"hpc-looper/pkg/logging"
	"hpc-looper/pkg/lump"
	"hpc-looper/pkg/pipeline"
	"hpc-looper/pkg/runner"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	renderSample   string
	renderPipeline string
)

func init() {
	rootCmd.AddCommand(renderCmd)
	addConfigFlags(renderCmd)

	renderCmd.Flags().StringVarP(&renderSample, "sample", "s", "", "Name of a sample; the job of the lump holding it is rendered. Required.")
	renderCmd.Flags().StringVarP(&renderPipeline, "pipeline", "p", "", "Pipeline to render. Defaults to the first pipeline interface.")
	_ = renderCmd.MarkFlagRequired("sample")
}

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Prints the command and script one job would run.",
	Long: `The 'render' command composes the job for the lump holding --sample and
prints its compute settings, pre-submit commands, command and submission
script. Pre-submit hooks and commands run as they would for 'run', but nothing
is submitted.`,
	Run:          runRenderCmd,
	SilenceUsage: true,
}

func runRenderCmd(cmd *cobra.Command, args []string) {
	fs := afero.NewOsFs()
	cfg, err := loadConfig(cmd, fs)
	if err != nil {
		logging.Fatal("Invalid configuration: %v", err)
	}
	ctx := context.Background()
	s, err := newSession(ctx, cfg, fs)
	if err != nil {
		logging.Fatal("Failed to load run inputs: %v", err)
	}

	pi, err := findPipeline(s.interfaces, renderPipeline)
	if err != nil {
		logging.Fatal("%v", err)
	}
	policy, err := cfg.Policy()
	if err != nil {
		logging.Fatal("%v", err)
	}
	l, err := findLump(policy, s, pi, renderSample)
	if err != nil {
		logging.Fatal("%v", err)
	}

	p, err := s.composer.Compose(ctx, l, pi, cfg.Adapters, s.tree)
	if err != nil {
		logging.Fatal("%v", err)
	}
	printPayload(p)
}

func findPipeline(interfaces []*pipeline.Interface, name string) (*pipeline.Interface, error) {
	if name == "" {
		return interfaces[0], nil
	}
	for _, pi := range interfaces {
		if pi.PipelineName == name {
			return pi, nil
		}
	}
	return nil, fmt.Errorf("no pipeline named %q in the configuration", name)
}

func findLump(policy lump.Policy, s *session, pi *pipeline.Interface, sampleName string) (lump.Lump, error) {
	if pi.PipelineType == pipeline.TypeProject {
		all := lump.Lump{ID: runner.ProjectLumpID, Rows: s.rows}
		for _, r := range s.rows {
			all.Size += r.InputSize
		}
		return all, nil
	}
	lumps, err := lump.Partition(policy, s.rows)
	if err != nil {
		return lump.Lump{}, err
	}
	for _, l := range lumps {
		for _, n := range l.SampleNames() {
			if n == sampleName {
				return l, nil
			}
		}
	}
	return lump.Lump{}, fmt.Errorf("sample %q is not in the selected samples", sampleName)
}

func printPayload(p *composer.Payload) {
	fmt.Printf("# job %s (%s, %d sample(s))\n", p.JobName, p.LumpID, len(p.Samples))
	for _, k := range p.Compute.Keys() {
		fmt.Printf("# compute.%s = %s\n", k, p.Compute[k])
	}
	for _, c := range p.PreSubmit {
		fmt.Printf("# pre-submit: %s\n", c)
	}
	fmt.Printf("# command: %s\n", p.Command)
	fmt.Println(p.Script)
}
