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

	"hpc-looper/pkg/composer"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// DryRun writes scripts and submits nothing.
type DryRun struct {
	Fs  afero.Fs
	Log logrus.FieldLogger
}

// Name implements Backend.
func (d *DryRun) Name() string { return "dryrun" }

// Submit implements Backend.
func (d *DryRun) Submit(_ context.Context, p *composer.Payload) (Handle, error) {
	if err := WriteScript(d.Fs, p); err != nil {
		return Handle{}, &SubmitError{Backend: d.Name(), JobName: p.JobName, Err: err}
	}
	if d.Log != nil {
		d.Log.WithField("job", p.JobName).Infof("dry run: wrote %s", p.ScriptPath)
	}
	return Handle{Backend: d.Name(), ID: p.ScriptPath}, nil
}
