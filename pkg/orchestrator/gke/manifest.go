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
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"hpc-looper/pkg/composer"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/validation"
	"sigs.k8s.io/yaml"
)

// Label and annotation keys set on every job.
const (
	LabelPipeline      = "looper/pipeline"
	LabelLump          = "looper/lump"
	AnnotationSamples  = "looper/samples"
	AcceleratorLabel   = "cloud.google.com/gke-accelerator"
	GPUResource        = "nvidia.com/gpu"
	containerName      = "looper"
	defaultTTLSeconds  = 86400
	maxKubernetesLabel = validation.DNS1123LabelMaxLength
)

// JobOptions holds the cluster-side settings of a manifest.
type JobOptions struct {
	Image           string
	Namespace       string
	AcceleratorType string
	// TTLSecondsAfterFinished defaults to one day when zero.
	TTLSecondsAfterFinished int32
}

var invalidNameChars = regexp.MustCompile(`[^a-z0-9-]+`)

// ResourceName turns s into a DNS-1123 label usable as a job name or label
// value.
func ResourceName(s string) string {
	n := invalidNameChars.ReplaceAllString(strings.ToLower(s), "-")
	if len(n) > maxKubernetesLabel {
		n = n[:maxKubernetesLabel]
	}
	return strings.Trim(n, "-")
}

// BuildJob describes p as a batch/v1 Job running the payload script.
func BuildJob(p *composer.Payload, opts JobOptions) (*batchv1.Job, error) {
	if opts.Image == "" {
		return nil, fmt.Errorf("no container image for %s: set compute.docker_image or the gke image", p.JobName)
	}
	name := ResourceName(p.JobName)
	if errs := validation.IsDNS1123Label(name); len(errs) > 0 {
		return nil, fmt.Errorf("job name %q is not usable on kubernetes: %s", p.JobName, strings.Join(errs, "; "))
	}
	resources, err := Resources(p.Compute)
	if err != nil {
		return nil, err
	}

	labels := map[string]string{
		LabelPipeline: ResourceName(p.Pipeline),
		LabelLump:     ResourceName(p.LumpID),
	}
	ttl := opts.TTLSecondsAfterFinished
	if ttl == 0 {
		ttl = defaultTTLSeconds
	}
	backoff := int32(0)

	pod := corev1.PodSpec{
		RestartPolicy: corev1.RestartPolicyNever,
		Containers: []corev1.Container{{
			Name:      containerName,
			Image:     opts.Image,
			Command:   []string{"/bin/bash", "-c", p.Script},
			Resources: resources,
		}},
	}
	if opts.AcceleratorType != "" {
		pod.NodeSelector = map[string]string{AcceleratorLabel: opts.AcceleratorType}
	}

	return &batchv1.Job{
		TypeMeta: metav1.TypeMeta{APIVersion: "batch/v1", Kind: "Job"},
		ObjectMeta: metav1.ObjectMeta{
			Name:        name,
			Namespace:   opts.Namespace,
			Labels:      labels,
			Annotations: map[string]string{AnnotationSamples: strings.Join(p.Samples, ",")},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            &backoff,
			TTLSecondsAfterFinished: &ttl,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec:       pod,
			},
		},
	}, nil
}

// Manifest renders job as YAML.
func Manifest(job *batchv1.Job) ([]byte, error) {
	out, err := yaml.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job %s: %w", job.Name, err)
	}
	return out, nil
}

// Resources maps compute settings to container requests and limits: cores
// to cpu, mem to memory and gpus to nvidia.com/gpu.
func Resources(settings map[string]string) (corev1.ResourceRequirements, error) {
	list := corev1.ResourceList{}
	add := func(key string, res corev1.ResourceName, raw string) error {
		q, err := resource.ParseQuantity(raw)
		if err != nil {
			return fmt.Errorf("compute.%s %q is not a valid quantity: %w", key, raw, err)
		}
		list[res] = q
		return nil
	}
	if v := strings.TrimSpace(settings["cores"]); v != "" {
		if err := add("cores", corev1.ResourceCPU, v); err != nil {
			return corev1.ResourceRequirements{}, err
		}
	}
	if v := strings.TrimSpace(settings["mem"]); v != "" {
		if err := add("mem", corev1.ResourceMemory, MemoryQuantity(v)); err != nil {
			return corev1.ResourceRequirements{}, err
		}
	}
	if v := strings.TrimSpace(settings["gpus"]); v != "" && v != "0" {
		if err := add("gpus", GPUResource, v); err != nil {
			return corev1.ResourceRequirements{}, err
		}
	}
	if len(list) == 0 {
		return corev1.ResourceRequirements{}, nil
	}
	return corev1.ResourceRequirements{Requests: list, Limits: list.DeepCopy()}, nil
}

// MemoryQuantity converts scheduler-style memory values to kubernetes ones.
// A bare number is megabytes and K, M, G, T suffixes are binary units, so
// "16000" becomes "16000Mi" and "8G" becomes "8Gi".
func MemoryQuantity(v string) string {
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return v + "Mi"
	}
	last := v[len(v)-1]
	switch last {
	case 'K', 'k', 'M', 'm', 'G', 'g', 'T', 't':
		if _, err := strconv.ParseFloat(v[:len(v)-1], 64); err == nil {
			return v[:len(v)-1] + strings.ToUpper(string(last)) + "i"
		}
	}
	return v
}
