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

// Package runner drives one looper run: it partitions the sample rows,
// composes a job for every lump and pipeline, and hands the payloads to a
// backend on a bounded worker pool.
package runner

import (
	"context"
	"fmt"
	"io"

	"hpc-looper/pkg/adapter"
	"hpc-looper/pkg/composer"
	"hpc-looper/pkg/lump"
	"hpc-looper/pkg/namespace"
	"hpc-looper/pkg/orchestrator"
	"hpc-looper/pkg/pipeline"
	"hpc-looper/pkg/sample"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers bounds concurrent lumps when Runner.Workers is unset.
const DefaultWorkers = 4

// ProjectLumpID identifies the single job of a project-level pipeline.
const ProjectLumpID = "project"

// Status is the fate of one lump.
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Outcome records what happened to one lump of one pipeline.
type Outcome struct {
	LumpID   string
	Pipeline string
	Samples  []string
	JobName  string
	Handle   orchestrator.Handle
	Status   Status
	Err      error
}

// Summary aggregates a run. Outcomes are in dispatch order.
type Summary struct {
	Submitted int
	Failed    int
	Skipped   int
	Outcomes  []Outcome
}

// RunSpec is the input of one run. It is only read.
type RunSpec struct {
	Rows       []sample.Row
	Policy     lump.Policy
	Interfaces []*pipeline.Interface
	Adapters   adapter.Map
	// Tree is the project-level namespace every job starts from.
	Tree namespace.Value
}

// Runner composes and submits lumps concurrently.
type Runner struct {
	Composer *composer.Composer
	Backend  orchestrator.Backend
	Workers  int
	Log      logrus.FieldLogger
}

type task struct {
	lump lump.Lump
	pi   *pipeline.Interface
}

// Run processes spec. An invalid lump policy or an empty pipeline list fails
// the whole run; everything else is recorded per lump in the Summary. When
// ctx is cancelled, lumps that were not yet dispatched are skipped.
func (r *Runner) Run(ctx context.Context, spec RunSpec) (*Summary, error) {
	if err := spec.Policy.Validate(); err != nil {
		return nil, err
	}
	if len(spec.Interfaces) == 0 {
		return nil, fmt.Errorf("no pipeline interfaces to run")
	}
	if r.Composer == nil || r.Backend == nil {
		return nil, fmt.Errorf("runner needs a composer and a backend")
	}
	tasks, err := plan(spec)
	if err != nil {
		return nil, err
	}
	log := r.logger()
	log.Infof("Running %d job(s) for %d sample(s), %s", len(tasks), len(spec.Rows), lump.Describe(spec.Policy))

	workers := r.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	var g errgroup.Group
	g.SetLimit(workers)

	outcomes := make([]Outcome, len(tasks))
	for i, t := range tasks {
		outcomes[i] = Outcome{
			LumpID:   t.lump.ID,
			Pipeline: t.pi.PipelineName,
			Samples:  t.lump.SampleNames(),
			JobName:  composer.JobName(t.pi.PipelineName, t.lump),
			Status:   StatusSkipped,
		}
		if err := ctx.Err(); err != nil {
			outcomes[i].Err = err
			continue
		}
		i, t := i, t
		g.Go(func() error {
			r.process(ctx, spec, t, &outcomes[i])
			return nil
		})
	}
	_ = g.Wait()

	s := &Summary{Outcomes: outcomes}
	for _, o := range outcomes {
		switch o.Status {
		case StatusSubmitted:
			s.Submitted++
		case StatusFailed:
			s.Failed++
		default:
			s.Skipped++
		}
	}
	return s, nil
}

// process never returns an error to the group so that one failing lump
// leaves its siblings running.
func (r *Runner) process(ctx context.Context, spec RunSpec, t task, out *Outcome) {
	log := r.logger().WithFields(logrus.Fields{"pipeline": t.pi.PipelineName, "lump": t.lump.ID})
	if err := ctx.Err(); err != nil {
		out.Err = err
		return
	}

	payload, err := r.Composer.Compose(ctx, t.lump, t.pi, spec.Adapters, spec.Tree)
	if err != nil {
		log.Error(err)
		out.Status, out.Err = StatusFailed, err
		return
	}
	if err := ctx.Err(); err != nil {
		log.Warnf("run cancelled, not submitting %s", payload.JobName)
		out.Err = err
		return
	}
	handle, err := r.Backend.Submit(ctx, payload)
	if err != nil {
		log.Error(err)
		out.Status, out.Err = StatusFailed, err
		return
	}
	log.Debugf("submitted %s as %s", payload.JobName, handle)
	out.Status, out.Handle = StatusSubmitted, handle
}

// plan lists the jobs of a run: every lump for each sample pipeline, in lump
// order, then one job over all rows for each project pipeline.
func plan(spec RunSpec) ([]task, error) {
	var samplePipes, projectPipes []*pipeline.Interface
	for _, pi := range spec.Interfaces {
		if pi.PipelineType == pipeline.TypeProject {
			projectPipes = append(projectPipes, pi)
		} else {
			samplePipes = append(samplePipes, pi)
		}
	}

	var tasks []task
	if len(samplePipes) > 0 && len(spec.Rows) > 0 {
		lumps, err := lump.Partition(spec.Policy, spec.Rows)
		if err != nil {
			return nil, err
		}
		for _, l := range lumps {
			for _, pi := range samplePipes {
				tasks = append(tasks, task{lump: l, pi: pi})
			}
		}
	}
	if len(projectPipes) > 0 && len(spec.Rows) > 0 {
		all := lump.Lump{ID: ProjectLumpID, Rows: spec.Rows}
		for _, row := range spec.Rows {
			all.Size += row.InputSize
		}
		for _, pi := range projectPipes {
			tasks = append(tasks, task{lump: all, pi: pi})
		}
	}
	return tasks, nil
}

func (r *Runner) logger() logrus.FieldLogger {
	if r.Log == nil {
		return logrus.StandardLogger()
	}
	return r.Log
}

var (
	submittedColor = color.New(color.FgGreen)
	failedColor    = color.New(color.FgRed, color.Bold)
	skippedColor   = color.New(color.FgYellow)
)

// Print writes a per-job table and the totals to w.
func (s *Summary) Print(w io.Writer) {
	for _, o := range s.Outcomes {
		switch o.Status {
		case StatusSubmitted:
			submittedColor.Fprintf(w, "%-10s", o.Status)
			fmt.Fprintf(w, " %s (%s)\n", o.JobName, o.Handle)
		case StatusFailed:
			failedColor.Fprintf(w, "%-10s", o.Status)
			fmt.Fprintf(w, " %s: %v\n", o.JobName, o.Err)
		default:
			skippedColor.Fprintf(w, "%-10s", o.Status)
			fmt.Fprintf(w, " %s\n", o.JobName)
		}
	}
	fmt.Fprintf(w, "\nJobs submitted: %d, failed: %d, skipped: %d\n", s.Submitted, s.Failed, s.Skipped)
}

// Err is non-nil when any lump failed.
func (s *Summary) Err() error {
	if s.Failed == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d job(s) failed", s.Failed, len(s.Outcomes))
}
