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
	"io"
	"os"
	"strings"

	"hpc-looper/pkg/logging"
	"hpc-looper/pkg/lump"
	"hpc-looper/pkg/variables"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(lumpsCmd)
	addConfigFlags(lumpsCmd)
}

var lumpsCmd = &cobra.Command{
	Use:   "lumps",
	Short: "Shows how samples would be grouped into jobs.",
	Long: `The 'lumps' command loads and filters the sample table like 'run' does and
prints the resulting lumps with their sizes and samples. Nothing is rendered or
submitted.`,
	Run:          runLumpsCmd,
	SilenceUsage: true,
}

func runLumpsCmd(cmd *cobra.Command, args []string) {
	fs := afero.NewOsFs()
	cfg, err := loadConfig(cmd, fs)
	if err != nil {
		logging.Fatal("Invalid configuration: %v", err)
	}
	s, err := newSession(context.Background(), cfg, fs)
	if err != nil {
		logging.Fatal("Failed to load run inputs: %v", err)
	}
	policy, err := cfg.Policy()
	if err != nil {
		logging.Fatal("%v", err)
	}
	lumps, err := lump.Partition(policy, s.rows)
	if err != nil {
		logging.Fatal("%v", err)
	}
	printLumps(os.Stdout, policy, lumps)
}

var lumpIDColor = color.New(color.FgCyan, color.Bold)

func printLumps(w io.Writer, policy lump.Policy, lumps []lump.Lump) {
	fmt.Fprintf(w, "%d lump(s), %s\n", len(lumps), lump.Describe(policy))
	for _, l := range lumps {
		lumpIDColor.Fprintf(w, "%-8s", l.ID)
		fmt.Fprintf(w, " %3d sample(s) %8s GB  %s\n", len(l.Rows), variables.FormatNumber(l.Size), strings.Join(l.SampleNames(), " "))
	}
}
