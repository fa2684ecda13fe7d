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

// Package gke submits composed jobs to a GKE cluster as batch/v1 Jobs.
package gke

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"hpc-looper/pkg/composer"
	"hpc-looper/pkg/imagebuilder"
	"hpc-looper/pkg/orchestrator"
	"hpc-looper/pkg/shell"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Options configures the GKE backend.
type Options struct {
	ProjectID       string
	ClusterName     string
	ClusterLocation string
	Namespace       string
	AcceleratorType string

	// Image is used when a pipeline sets no compute.docker_image.
	Image string

	// OutputManifest, when set, collects every job into one multi-document
	// YAML file instead of applying it.
	OutputManifest string

	// BuildContext, when set, is layered onto the job image and pushed to
	// Registry before submission.
	BuildContext string
	Registry     string
	Platform     string

	TTLSecondsAfterFinished int32
}

// Orchestrator is the GKE backend. It is safe for concurrent use.
type Orchestrator struct {
	opts    Options
	fs      afero.Fs
	log     logrus.FieldLogger
	builder *imagebuilder.Builder

	projectOnce sync.Once
	projectErr  error
	clusterOnce sync.Once
	clusterErr  error

	// mu serializes appends to OutputManifest.
	mu sync.Mutex
}

// New returns a GKE backend.
func New(opts Options, fs afero.Fs, log logrus.FieldLogger) *Orchestrator {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	o := &Orchestrator{opts: opts, fs: fs, log: log}
	if opts.BuildContext != "" {
		o.builder = &imagebuilder.Builder{
			Fs:       fs,
			Registry: opts.Registry,
			Platform: imagebuilder.DockerPlatform(opts.Platform),
			Log:      log,
		}
	}
	return o
}

// Name implements orchestrator.Backend.
func (o *Orchestrator) Name() string { return "gke" }

// Submit implements orchestrator.Backend.
func (o *Orchestrator) Submit(ctx context.Context, p *composer.Payload) (orchestrator.Handle, error) {
	fail := func(err error) (orchestrator.Handle, error) {
		return orchestrator.Handle{}, &orchestrator.SubmitError{Backend: o.Name(), JobName: p.JobName, Err: err}
	}

	image := p.Compute["docker_image"]
	if image == "" {
		image = o.opts.Image
	}
	if o.builder != nil && image != "" {
		if err := o.project(ctx); err != nil {
			return fail(err)
		}
		built, err := o.builder.Build(ctx, image, o.opts.BuildContext)
		if err != nil {
			return fail(err)
		}
		image = built
	}

	job, err := BuildJob(p, JobOptions{
		Image:                   image,
		Namespace:               o.opts.Namespace,
		AcceleratorType:         o.opts.AcceleratorType,
		TTLSecondsAfterFinished: o.opts.TTLSecondsAfterFinished,
	})
	if err != nil {
		return fail(err)
	}
	manifest, err := Manifest(job)
	if err != nil {
		return fail(err)
	}
	handle := orchestrator.Handle{Backend: o.Name(), ID: job.Name}

	if o.opts.OutputManifest != "" {
		if err := o.appendManifest(manifest); err != nil {
			return fail(err)
		}
		o.log.WithField("job", p.JobName).Infof("wrote job %s to %s", job.Name, o.opts.OutputManifest)
		return handle, nil
	}

	if err := o.cluster(ctx); err != nil {
		return fail(err)
	}
	if err := o.apply(ctx, manifest); err != nil {
		return fail(err)
	}
	o.log.WithField("job", p.JobName).Infof("applied job %s to cluster %s", job.Name, o.opts.ClusterName)
	return handle, nil
}

const osAppendFlags = os.O_CREATE | os.O_WRONLY | os.O_APPEND

func (o *Orchestrator) appendManifest(manifest []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	f, err := o.fs.OpenFile(o.opts.OutputManifest, osAppendFlags, 0644)
	if err != nil {
		return fmt.Errorf("failed to open manifest %s: %w", o.opts.OutputManifest, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat manifest %s: %w", o.opts.OutputManifest, err)
	}
	if info.Size() > 0 {
		manifest = append([]byte("---\n"), manifest...)
	}
	if _, err := f.Write(manifest); err != nil {
		return fmt.Errorf("failed to write manifest %s: %w", o.opts.OutputManifest, err)
	}
	return nil
}

// project resolves the project ID and the default image registry, once per
// run.
func (o *Orchestrator) project(ctx context.Context) error {
	o.projectOnce.Do(func() {
		projectID, err := getProjectID(ctx, o.opts.ProjectID)
		if err != nil {
			o.projectErr = err
			return
		}
		o.opts.ProjectID = projectID
		if o.builder != nil && o.builder.Registry == "" {
			o.builder.Registry = "gcr.io/" + projectID
		}
	})
	return o.projectErr
}

// cluster points kubectl at the configured cluster, once per run.
func (o *Orchestrator) cluster(ctx context.Context) error {
	o.clusterOnce.Do(func() {
		if o.opts.ClusterName == "" {
			return
		}
		if o.clusterErr = o.project(ctx); o.clusterErr != nil {
			return
		}
		o.clusterErr = configureKubectl(ctx, o.opts.ClusterName, o.opts.ClusterLocation, o.opts.ProjectID)
	})
	return o.clusterErr
}

func (o *Orchestrator) apply(ctx context.Context, manifest []byte) error {
	args := []string{"apply", "-f", "-"}
	if o.opts.Namespace != "" {
		args = append(args, "-n", o.opts.Namespace)
	}
	cmd := shell.NewCommand("kubectl", args...)
	cmd.SetInput(string(manifest))
	res, err := cmd.ExecuteContext(ctx)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("kubectl apply failed with exit code %d: %s\n%s", res.ExitCode, res.Stderr, res.Stdout)
	}
	return nil
}

func getProjectID(ctx context.Context, initialProjectID string) (string, error) {
	if initialProjectID != "" {
		return initialProjectID, nil
	}
	res, err := shell.NewCommand("gcloud", "config", "get-value", "project").ExecuteContext(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get project ID from gcloud config: %w", err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("failed to get project ID from gcloud config: %s", res.Stderr)
	}
	projectID := strings.TrimSpace(res.Stdout)
	if projectID == "" {
		return "", fmt.Errorf("project ID not set and could not be determined from gcloud config")
	}
	return projectID, nil
}

func configureKubectl(ctx context.Context, clusterName, clusterLocation, projectID string) error {
	args := []string{"container", "clusters", "get-credentials", clusterName, "--project", projectID}
	if clusterLocation != "" {
		args = append(args, "--location", clusterLocation)
	}
	res, err := shell.NewCommand("gcloud", args...).ExecuteContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to get cluster credentials: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("failed to get cluster credentials for %s: %s", clusterName, res.Stderr)
	}
	return nil
}
