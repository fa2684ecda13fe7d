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

// Package orchestrator submits composed jobs to a compute backend.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"

	"hpc-looper/pkg/composer"

	"github.com/spf13/afero"
)

// Handle identifies a submitted job on its backend.
type Handle struct {
	Backend string
	ID      string
}

func (h Handle) String() string {
	if h.ID == "" {
		return h.Backend
	}
	return h.Backend + ":" + h.ID
}

// Backend accepts finished payloads. Implementations must be safe for
// concurrent use.
type Backend interface {
	// Name is the backend identifier used in configuration, e.g. "slurm".
	Name() string
	// Submit hands p to the backend. p is read-only.
	Submit(ctx context.Context, p *composer.Payload) (Handle, error)
}

// SubmitError reports a payload the backend refused or failed to accept.
type SubmitError struct {
	Backend string
	JobName string
	Err     error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("%s backend failed to submit %s: %v", e.Backend, e.JobName, e.Err)
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

// WriteScript writes the payload script to p.ScriptPath, creating parent
// directories.
func WriteScript(fs afero.Fs, p *composer.Payload) error {
	return WriteScriptContent(fs, p.ScriptPath, p.Script)
}

// WriteScriptContent writes an executable script to path.
func WriteScriptContent(fs afero.Fs, path, content string) error {
	if path == "" {
		return fmt.Errorf("no script path set")
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create submission directory: %w", err)
	}
	if err := afero.WriteFile(fs, path, []byte(content), 0755); err != nil {
		return fmt.Errorf("failed to write script %s: %w", path, err)
	}
	return nil
}
