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

package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Result captures the outcome of an external command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ExitError is returned by Executor implementations when a command ran but
// exited with a non-zero status.
type ExitError struct {
	Command string
	Result  *Result
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command %q exited with code %d: %s", e.Command, e.Result.ExitCode, strings.TrimSpace(e.Result.Stderr))
}

// Command is a single external process invocation.
type Command struct {
	name    string
	args    []string
	input   string
	env     []string
	timeout time.Duration
}

// NewCommand prepares name with args. Nothing runs until Execute.
func NewCommand(name string, args ...string) *Command {
	return &Command{name: name, args: args}
}

// SetInput feeds s to the process on stdin.
func (c *Command) SetInput(s string) {
	c.input = s
}

// SetEnv appends KEY=VALUE pairs to the inherited environment.
func (c *Command) SetEnv(env []string) {
	c.env = env
}

// SetTimeout bounds the run. Zero means no bound beyond the caller's context.
func (c *Command) SetTimeout(d time.Duration) {
	c.timeout = d
}

// Execute runs the command without a caller context.
func (c *Command) Execute() Result {
	res, _ := c.ExecuteContext(context.Background())
	return res
}

// ExecuteContext runs the command. The returned error is non-nil only when
// the process could not be started or was stopped by ctx; a non-zero exit is
// reported through Result.ExitCode.
func (c *Command) ExecuteContext(ctx context.Context) (Result, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.name, c.args...)
	configureProcessGroup(cmd)
	cmd.WaitDelay = 5 * time.Second
	if len(c.env) > 0 {
		cmd.Env = append(os.Environ(), c.env...)
	}
	if c.input != "" {
		cmd.Stdin = strings.NewReader(c.input)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		res.ExitCode = -1
		return res, fmt.Errorf("command %q stopped: %w", c.String(), ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	res.ExitCode = -1
	res.Stderr = err.Error()
	return res, fmt.Errorf("failed to start %q: %w", c.String(), err)
}

// String renders the command line for logs.
func (c *Command) String() string {
	return strings.TrimSpace(c.name + " " + strings.Join(c.args, " "))
}

// Executor runs rendered shell-style command lines.
type Executor interface {
	Run(ctx context.Context, command string, env []string) (*Result, error)
}

// BashExecutor runs commands through `bash -c`.
type BashExecutor struct {
	Shell   string
	Timeout time.Duration
}

// Run implements Executor. Non-zero exits are returned as *ExitError.
func (b BashExecutor) Run(ctx context.Context, command string, env []string) (*Result, error) {
	sh := b.Shell
	if sh == "" {
		sh = "bash"
	}
	cmd := NewCommand(sh, "-c", command)
	cmd.SetEnv(env)
	cmd.SetTimeout(b.Timeout)

	res, err := cmd.ExecuteContext(ctx)
	if err != nil {
		return &res, err
	}
	if res.ExitCode != 0 {
		return &res, &ExitError{Command: command, Result: &res}
	}
	return &res, nil
}
