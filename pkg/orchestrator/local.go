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
	"errors"
	"fmt"
	"strings"

	"hpc-looper/pkg/composer"
	"hpc-looper/pkg/shell"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Local runs each script on this host and waits for it. Combined output goes
// to the payload log file.
type Local struct {
	Fs       afero.Fs
	Executor shell.Executor
	Log      logrus.FieldLogger
	// Shell interprets the script. Defaults to bash.
	Shell string
}

// Name implements Backend.
func (l *Local) Name() string { return "local" }

// Submit implements Backend.
func (l *Local) Submit(ctx context.Context, p *composer.Payload) (Handle, error) {
	fail := func(err error) (Handle, error) {
		return Handle{}, &SubmitError{Backend: l.Name(), JobName: p.JobName, Err: err}
	}
	if err := WriteScript(l.Fs, p); err != nil {
		return fail(err)
	}
	sh := l.Shell
	if sh == "" {
		sh = "bash"
	}
	if l.Log != nil {
		l.Log.WithField("job", p.JobName).Infof("running %s locally", p.ScriptPath)
	}

	res, runErr := l.Executor.Run(ctx, sh+" "+shellQuote(p.ScriptPath), nil)
	if res != nil && p.LogFile != "" {
		out := res.Stdout + res.Stderr
		if err := afero.WriteFile(l.Fs, p.LogFile, []byte(out), 0644); err != nil {
			return fail(fmt.Errorf("failed to write log %s: %w", p.LogFile, err))
		}
	}
	if runErr != nil {
		var exitErr *shell.ExitError
		if errors.As(runErr, &exitErr) {
			return fail(fmt.Errorf("job exited with code %d, see %s", exitErr.Result.ExitCode, p.LogFile))
		}
		return fail(runErr)
	}
	return Handle{Backend: l.Name(), ID: p.JobName}, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
