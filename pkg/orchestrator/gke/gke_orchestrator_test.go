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

package gke

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"hpc-looper/pkg/composer"
	"hpc-looper/pkg/compute"
	"hpc-looper/pkg/logging"
	"hpc-looper/pkg/orchestrator"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	"sigs.k8s.io/yaml"
)

func testPayload() *composer.Payload {
	return &composer.Payload{
		Pipeline:   "PEPATAC",
		LumpID:     "lump3",
		Samples:    []string{"frog_1", "frog_2"},
		JobName:    "PEPATAC_lump3",
		Compute:    compute.Settings{"cores": "4", "mem": "16000", "docker_image": "databio/pepatac:latest"},
		Script:     "#!/bin/bash\n\npepatac.py --sample frog_1\n",
		ScriptPath: "/out/submission/PEPATAC_lump3.sub",
		LogFile:    "/out/submission/PEPATAC_lump3.log",
	}
}

// assertQuantity checks one entry of a resource list.
func assertQuantity(t *testing.T, list corev1.ResourceList, name corev1.ResourceName, want string) {
	t.Helper()
	got, ok := list[name]
	if !ok {
		t.Errorf("Expected resource %s to be set", name)
		return
	}
	if got.Cmp(resource.MustParse(want)) != 0 {
		t.Errorf("Expected %s %s, got %s", name, want, got.String())
	}
}

func TestBuildJob(t *testing.T) {
	p := testPayload()
	job, err := BuildJob(p, JobOptions{Image: "databio/pepatac:latest", Namespace: "looper", AcceleratorType: "nvidia-l4"})
	if err != nil {
		t.Fatalf("BuildJob() error: %v", err)
	}

	if job.APIVersion != "batch/v1" || job.Kind != "Job" {
		t.Errorf("Expected batch/v1 Job, got %s %s", job.APIVersion, job.Kind)
	}
	if job.Name != "pepatac-lump3" {
		t.Errorf("Expected name %q, got %q", "pepatac-lump3", job.Name)
	}
	if job.Namespace != "looper" {
		t.Errorf("Expected namespace %q, got %q", "looper", job.Namespace)
	}
	wantLabels := map[string]string{LabelPipeline: "pepatac", LabelLump: "lump3"}
	if diff := cmp.Diff(wantLabels, job.Labels); diff != "" {
		t.Errorf("Labels mismatch (-want +got):\n%s", diff)
	}
	if got := job.Annotations[AnnotationSamples]; got != "frog_1,frog_2" {
		t.Errorf("Expected samples annotation, got %q", got)
	}
	if *job.Spec.BackoffLimit != 0 {
		t.Errorf("Expected backoffLimit 0, got %d", *job.Spec.BackoffLimit)
	}
	if *job.Spec.TTLSecondsAfterFinished != defaultTTLSeconds {
		t.Errorf("Expected default TTL, got %d", *job.Spec.TTLSecondsAfterFinished)
	}

	pod := job.Spec.Template.Spec
	if pod.RestartPolicy != corev1.RestartPolicyNever {
		t.Errorf("Expected restartPolicy Never, got %s", pod.RestartPolicy)
	}
	if got := pod.NodeSelector[AcceleratorLabel]; got != "nvidia-l4" {
		t.Errorf("Expected accelerator node selector, got %q", got)
	}
	if len(pod.Containers) != 1 {
		t.Fatalf("Expected one container, got %d", len(pod.Containers))
	}
	c := pod.Containers[0]
	if diff := cmp.Diff([]string{"/bin/bash", "-c", p.Script}, c.Command); diff != "" {
		t.Errorf("Command mismatch (-want +got):\n%s", diff)
	}
	assertQuantity(t, c.Resources.Limits, corev1.ResourceCPU, "4")
	assertQuantity(t, c.Resources.Limits, corev1.ResourceMemory, "16000Mi")
	assertQuantity(t, c.Resources.Requests, corev1.ResourceCPU, "4")
}

func TestBuildJobErrors(t *testing.T) {
	p := testPayload()
	if _, err := BuildJob(p, JobOptions{}); err == nil || !strings.Contains(err.Error(), "no container image") {
		t.Errorf("Expected missing image error, got %v", err)
	}

	p.Compute = compute.Settings{"cores": "lots"}
	if _, err := BuildJob(p, JobOptions{Image: "x"}); err == nil || !strings.Contains(err.Error(), "compute.cores") {
		t.Errorf("Expected quantity error, got %v", err)
	}

	p = testPayload()
	p.JobName = "___"
	if _, err := BuildJob(p, JobOptions{Image: "x"}); err == nil {
		t.Errorf("Expected error for a name with no usable characters")
	}
}

func TestManifestRoundTrip(t *testing.T) {
	job, err := BuildJob(testPayload(), JobOptions{Image: "databio/pepatac:latest"})
	if err != nil {
		t.Fatalf("BuildJob() error: %v", err)
	}
	out, err := Manifest(job)
	if err != nil {
		t.Fatalf("Manifest() error: %v", err)
	}

	var result map[string]interface{}
	if err := yaml.Unmarshal(out, &result); err != nil {
		t.Fatalf("Failed to unmarshal generated YAML: %v", err)
	}
	if result["apiVersion"] != "batch/v1" || result["kind"] != "Job" {
		t.Errorf("Unexpected header: %v %v", result["apiVersion"], result["kind"])
	}
	metadata, ok := result["metadata"].(map[string]interface{})
	if !ok {
		t.Fatalf("metadata not found or not a map")
	}
	if metadata["name"] != "pepatac-lump3" {
		t.Errorf("Expected metadata.name %q, got %v", "pepatac-lump3", metadata["name"])
	}
}

func TestMemoryQuantity(t *testing.T) {
	tests := map[string]string{
		"16000": "16000Mi",
		"8G":    "8Gi",
		"512m":  "512Mi",
		"2Gi":   "2Gi",
		"1.5T":  "1.5Ti",
	}
	for in, want := range tests {
		if got := MemoryQuantity(in); got != want {
			t.Errorf("MemoryQuantity(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResourceName(t *testing.T) {
	tests := map[string]string{
		"PEPATAC_frog_1":        "pepatac-frog-1",
		"-x-":                   "x",
		strings.Repeat("a", 70): strings.Repeat("a", 63),
		"rna seq/sample.1":      "rna-seq-sample-1",
	}
	for in, want := range tests {
		if got := ResourceName(in); got != want {
			t.Errorf("ResourceName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSubmitWritesManifest(t *testing.T) {
	fs := afero.NewMemMapFs()
	o := New(Options{OutputManifest: "/out/jobs.yaml"}, fs, logging.Discard())

	var wg sync.WaitGroup
	for _, name := range []string{"PEPATAC_frog_1", "PEPATAC_frog_2"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			p := testPayload()
			p.JobName = name
			if _, err := o.Submit(context.Background(), p); err != nil {
				t.Errorf("Submit(%s) error: %v", name, err)
			}
		}(name)
	}
	wg.Wait()

	data, err := afero.ReadFile(fs, "/out/jobs.yaml")
	if err != nil {
		t.Fatalf("Manifest not written: %v", err)
	}
	docs := strings.Split(string(data), "---\n")
	if len(docs) != 2 {
		t.Fatalf("Expected 2 documents, got %d:\n%s", len(docs), data)
	}
	names := map[string]bool{}
	for _, doc := range docs {
		var job batchv1.Job
		if err := yaml.Unmarshal([]byte(doc), &job); err != nil {
			t.Fatalf("Failed to unmarshal document: %v", err)
		}
		names[job.Name] = true
	}
	if diff := cmp.Diff(map[string]bool{"pepatac-frog-1": true, "pepatac-frog-2": true}, names); diff != "" {
		t.Errorf("Job names mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmitWithoutImage(t *testing.T) {
	o := New(Options{OutputManifest: "/out/jobs.yaml"}, afero.NewMemMapFs(), logging.Discard())
	p := testPayload()
	p.Compute = compute.Settings{}

	_, err := o.Submit(context.Background(), p)
	var subErr *orchestrator.SubmitError
	if !errors.As(err, &subErr) {
		t.Fatalf("Expected *orchestrator.SubmitError, got %v", err)
	}
	if subErr.Backend != "gke" {
		t.Errorf("Expected backend gke, got %q", subErr.Backend)
	}
}
