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

package compute

import (
	"context"
	"errors"
	"math"
	"testing"

	"hpc-looper/pkg/logging"
	"hpc-looper/pkg/shell"
	"hpc-looper/pkg/variables"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
)

type fakeExecutor struct {
	stdout   string
	exitCode int
	commands []string
}

func (f *fakeExecutor) Run(_ context.Context, command string, _ []string) (*shell.Result, error) {
	f.commands = append(f.commands, command)
	res := &shell.Result{Stdout: f.stdout, ExitCode: f.exitCode}
	if f.exitCode != 0 {
		return res, &shell.ExitError{Command: command, Result: res}
	}
	return res, nil
}

func newTestResolver(t *testing.T, files map[string]string, exec shell.Executor) *Resolver {
	t.Helper()
	fs := afero.NewMemMapFs()
	for path, content := range files {
		if err := afero.WriteFile(fs, path, []byte(content), 0644); err != nil {
			t.Fatalf("WriteFile(%s): %v", path, err)
		}
	}
	return NewResolver(fs, exec, logging.Discard(), nil)
}

const sizesTSV = "max_size\tcores\tmem\n2\t4\t8G\n100\t16\t64G\n"

func TestResolveSizeTable(t *testing.T) {
	r := newTestResolver(t, map[string]string{"/piface/sizes.tsv": sizesTSV}, nil)
	sec := Section{SizeDependentVariables: "sizes.tsv", BaseDir: "/piface"}

	tests := []struct {
		size      float64
		wantCores string
	}{
		{size: 0, wantCores: "4"},
		{size: 2, wantCores: "4"},
		{size: 2.5, wantCores: "16"},
		{size: 50, wantCores: "16"},
		{size: 1000, wantCores: "16"},
	}
	for _, tt := range tests {
		got, err := r.Resolve(context.Background(), sec, tt.size, nil)
		if err != nil {
			t.Fatalf("Resolve(size=%v) error: %v", tt.size, err)
		}
		if got["cores"] != tt.wantCores {
			t.Errorf("Resolve(size=%v) cores = %q, want %q", tt.size, got["cores"], tt.wantCores)
		}
		if _, ok := got["max_size"]; ok {
			t.Errorf("Resolve(size=%v) leaked the max_size column", tt.size)
		}
	}
}

func TestParseTable(t *testing.T) {
	t.Run("Unsorted CSV with unbounded row", func(t *testing.T) {
		table, err := ParseTable("sizes.csv", []byte("max_size,cores\n,32\n# small jobs\n1,1\n10,8\n"))
		if err != nil {
			t.Fatalf("ParseTable() error: %v", err)
		}
		if len(table.Rows) != 3 {
			t.Fatalf("Expected 3 rows, got %d", len(table.Rows))
		}
		if !math.IsInf(table.Rows[2].MaxSize, 1) {
			t.Errorf("Expected last row unbounded, got %v", table.Rows[2].MaxSize)
		}
		if got := table.Select(5)["cores"]; got != "8" {
			t.Errorf("Select(5) cores = %q, want %q", got, "8")
		}
		if got := table.Select(11)["cores"]; got != "32" {
			t.Errorf("Select(11) cores = %q, want %q", got, "32")
		}
	})

	t.Run("YAML table with legacy column", func(t *testing.T) {
		data := []byte("- max_file_size: 0.5\n  cores: 2\n  time: \"00:30:00\"\n- max_file_size: .nan\n  cores: 8\n  time: \"04:00:00\"\n")
		table, err := ParseTable("sizes.yaml", data)
		if err != nil {
			t.Fatalf("ParseTable() error: %v", err)
		}
		want := map[string]string{"cores": "8", "time": "04:00:00"}
		if diff := cmp.Diff(want, table.Select(3)); diff != "" {
			t.Errorf("Select(3) mismatch (-want +got):\n%s", diff)
		}
	})

	errorCases := map[string]string{
		"Empty table":         "max_size\tcores\n",
		"Non-numeric max":     "max_size\tcores\nbig\t4\n",
		"Negative max":        "max_size\tcores\n-1\t4\n",
		"Missing size column": "cores\tmem\n4\t8G\n",
	}
	for name, content := range errorCases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseTable("sizes.tsv", []byte(content)); err == nil {
				t.Errorf("Expected error for %q", content)
			}
		})
	}
}

func TestResolveLayering(t *testing.T) {
	exec := &fakeExecutor{stdout: `{"cores": 32, "partition": "bigmem"}`}
	r := newTestResolver(t, map[string]string{"/p/sizes.tsv": sizesTSV}, exec)
	r.Overrides = Settings{"partition": "debug"}

	sec := Section{
		SizeDependentVariables:          "/p/sizes.tsv",
		DynamicVariablesCommandTemplate: "estimate {sample.sample_name}",
		DockerImage:                     "databio/pepatac:1.0.13",
		Var:                             map[string]string{"cores": "1", "time": "01:00:00"},
	}
	vars := variables.Mapping{"sample.sample_name": "frog_1"}

	got, err := r.Resolve(context.Background(), sec, 50, vars)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	want := Settings{
		"cores":        "32",
		"mem":          "64G",
		"time":         "01:00:00",
		"partition":    "debug",
		"docker_image": "databio/pepatac:1.0.13",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"estimate frog_1"}, exec.commands); diff != "" {
		t.Errorf("Dynamic command mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name   string
		sec    Section
		exec   *fakeExecutor
		unwrap func(error) bool
	}{
		{
			name: "Invalid docker image",
			sec:  Section{DockerImage: "Not A Valid::Image"},
		},
		{
			name: "Invalid singularity docker reference",
			sec:  Section{SingularityImage: "docker://UPPER/case:tag"},
		},
		{
			name: "Missing table",
			sec:  Section{SizeDependentVariables: "/nowhere/sizes.tsv"},
		},
		{
			name: "Dynamic output not an object",
			sec:  Section{DynamicVariablesCommandTemplate: "echo hi"},
			exec: &fakeExecutor{stdout: "- a\n- b\n"},
		},
		{
			name: "Dynamic output nested",
			sec:  Section{DynamicVariablesCommandTemplate: "echo hi"},
			exec: &fakeExecutor{stdout: `{"cores": {"min": 1}}`},
		},
		{
			name: "Dynamic command exits non-zero",
			sec:  Section{DynamicVariablesCommandTemplate: "false"},
			exec: &fakeExecutor{exitCode: 3},
			unwrap: func(err error) bool {
				var exitErr *shell.ExitError
				return errors.As(err, &exitErr) && exitErr.Result.ExitCode == 3
			},
		},
		{
			name: "Dynamic command unresolved variable",
			sec:  Section{DynamicVariablesCommandTemplate: "estimate {missing}"},
			exec: &fakeExecutor{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var exec shell.Executor
			if tt.exec != nil {
				exec = tt.exec
			}
			r := newTestResolver(t, nil, exec)
			_, err := r.Resolve(context.Background(), tt.sec, 1, variables.Mapping{})
			var resErr *ResolutionError
			if !errors.As(err, &resErr) {
				t.Fatalf("Expected *ResolutionError, got %v", err)
			}
			if tt.unwrap != nil && !tt.unwrap(err) {
				t.Errorf("Unexpected wrapped error: %v", err)
			}
		})
	}
}

func TestSingularityNonDockerNotValidated(t *testing.T) {
	r := newTestResolver(t, nil, nil)
	got, err := r.Resolve(context.Background(), Section{SingularityImage: "/images/Tool Image.sif"}, 0, nil)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if got["singularity_image"] != "/images/Tool Image.sif" {
		t.Errorf("Expected singularity_image to pass through, got %q", got["singularity_image"])
	}
}

func TestTableCache(t *testing.T) {
	r := newTestResolver(t, map[string]string{"/p/sizes.tsv": sizesTSV}, nil)
	sec := Section{SizeDependentVariables: "/p/sizes.tsv"}
	if _, err := r.Resolve(context.Background(), sec, 1, nil); err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if err := r.Fs.Remove("/p/sizes.tsv"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	got, err := r.Resolve(context.Background(), sec, 1, nil)
	if err != nil {
		t.Fatalf("Expected cached table after removal, got error: %v", err)
	}
	if got["cores"] != "4" {
		t.Errorf("Expected cores %q, got %q", "4", got["cores"])
	}
}

func TestSettingsMapping(t *testing.T) {
	got := Settings{"cores": "4"}.Mapping()
	if diff := cmp.Diff(variables.Mapping{"compute.cores": "4"}, got); diff != "" {
		t.Errorf("Mapping() mismatch (-want +got):\n%s", diff)
	}
}
