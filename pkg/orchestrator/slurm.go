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

package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"hpc-looper/pkg/composer"
	"hpc-looper/pkg/compute"
	"hpc-looper/pkg/shell"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

var sbatchJobID = regexp.MustCompile(`Submitted batch job (\d+)`)

// slurmDirectives maps compute settings onto sbatch options.
var slurmDirectives = map[string]string{
	"cores":     "--cpus-per-task",
	"mem":       "--mem",
	"time":      "--time",
	"partition": "--partition",
	"account":   "--account",
	"qos":       "--qos",
	"gpus":      "--gpus",
}

// Slurm submits scripts with sbatch.
type Slurm struct {
	Fs       afero.Fs
	Executor shell.Executor
	Log      logrus.FieldLogger
	// Sbatch is the submission command. Defaults to sbatch.
	Sbatch string
}

// Name implements Backend.
func (s *Slurm) Name() string { return "slurm" }

// Submit implements Backend.
func (s *Slurm) Submit(ctx context.Context, p *composer.Payload) (Handle, error) {
	fail := func(err error) (Handle, error) {
		return Handle{}, &SubmitError{Backend: s.Name(), JobName: p.JobName, Err: err}
	}
	if err := WriteScriptContent(s.Fs, p.ScriptPath, SlurmScript(p)); err != nil {
		return fail(err)
	}
	sbatch := s.Sbatch
	if sbatch == "" {
		sbatch = "sbatch"
	}
	res, err := s.Executor.Run(ctx, sbatch+" "+shellQuote(p.ScriptPath), nil)
	if err != nil {
		return fail(err)
	}
	m := sbatchJobID.FindStringSubmatch(res.Stdout)
	if m == nil {
		return fail(fmt.Errorf("unexpected sbatch output %q", strings.TrimSpace(res.Stdout)))
	}
	if s.Log != nil {
		s.Log.WithField("job", p.JobName).Infof("submitted slurm job %s", m[1])
	}
	return Handle{Backend: s.Name(), ID: m[1]}, nil
}

// SlurmScript inserts #SBATCH directives derived from the compute settings
// after the script's shebang line. Directives already present in the script
// are left alone and take precedence.
func SlurmScript(p *composer.Payload) string {
	lines := []string{
		"#SBATCH --job-name=" + p.JobName,
	}
	if p.LogFile != "" {
		lines = append(lines, "#SBATCH --output="+p.LogFile)
	}
	lines = append(lines, directives(p.Compute)...)

	var kept []string
	for _, l := range lines {
		opt, _, _ := strings.Cut(strings.TrimPrefix(l, "#SBATCH "), "=")
		if !strings.Contains(p.Script, "#SBATCH "+opt) {
			kept = append(kept, l)
		}
	}
	if len(kept) == 0 {
		return p.Script
	}
	block := strings.Join(kept, "\n") + "\n"

	if strings.HasPrefix(p.Script, "#!") {
		shebang, rest, _ := strings.Cut(p.Script, "\n")
		return shebang + "\n" + block + rest
	}
	return "#!/bin/bash\n" + block + p.Script
}

func directives(settings compute.Settings) []string {
	var out []string
	for key, opt := range slurmDirectives {
		v := strings.TrimSpace(settings[key])
		if v == "" {
			continue
		}
		out = append(out, fmt.Sprintf("#SBATCH %s=%s", opt, v))
	}
	sort.Strings(out)
	return out
}
