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

package render

import (
	"errors"
	"strings"
	"testing"

	"hpc-looper/pkg/variables"

	"github.com/google/go-cmp/cmp"
)

var testVars = variables.Mapping{
	"CODE":               "run.sh",
	"sample.sample_name": "frog_1",
	"sample.read1":       "/data/frog_1/R1.fq.gz",
	"looper.output_dir":  "/results",
	"empty":              "",
	"phrase":             "it's here",
	"padded":             "  x  ",
}

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		template string
		want     string
	}{
		{name: "Plain text", template: "echo hello", want: "echo hello"},
		{name: "Simple substitution", template: "{CODE} --sample {sample.sample_name}", want: "run.sh --sample frog_1"},
		{name: "Spaces inside braces", template: "{ CODE }", want: "run.sh"},
		{name: "Empty value is resolved", template: "[{empty}]", want: "[]"},
		{name: "Optional missing", template: "run {missing?}--x", want: "run --x"},
		{name: "Optional present", template: "{CODE?}", want: "run.sh"},
		{name: "Escaped braces", template: "awk '{{print $1}}' ${{HOME}}", want: "awk '{print $1}' ${HOME}"},
		{name: "Filters", template: "{sample.read1|basename} {sample.read1|dirname} {sample.sample_name|upper}", want: "R1.fq.gz /data/frog_1 FROG_1"},
		{name: "Chained filters", template: "{padded|trim|upper}", want: "X"},
		{name: "Quote filter", template: "echo {phrase|quote}", want: `echo 'it'\''s here'`},
		{name: "Optional with filter", template: "[{missing?|upper}]", want: "[]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render("test", tt.template, testVars)
			if err != nil {
				t.Fatalf("Render(%q) error: %v", tt.template, err)
			}
			if got != tt.want {
				t.Errorf("Render(%q) = %q, want %q", tt.template, got, tt.want)
			}
		})
	}
}

func TestRenderUnresolvedVariable(t *testing.T) {
	_, err := Render("command_template", "{CODE} {sample.sample_nam}", testVars)
	var tmplErr *TemplateError
	if !errors.As(err, &tmplErr) {
		t.Fatalf("Expected *TemplateError, got %v", err)
	}
	if tmplErr.Variable != "sample.sample_nam" {
		t.Errorf("Expected variable %q, got %q", "sample.sample_nam", tmplErr.Variable)
	}
	if tmplErr.Source != "command_template" {
		t.Errorf("Expected source %q, got %q", "command_template", tmplErr.Source)
	}
	if tmplErr.Suggestion != "sample.sample_name" {
		t.Errorf("Expected suggestion %q, got %q", "sample.sample_name", tmplErr.Suggestion)
	}
	if !strings.Contains(err.Error(), "sample.sample_nam") {
		t.Errorf("Expected error message to name the variable, got %q", err.Error())
	}
}

func TestRenderNoSuggestionForUnrelatedName(t *testing.T) {
	_, err := Render("t", "{zzzzzzzzzz}", testVars)
	var tmplErr *TemplateError
	if !errors.As(err, &tmplErr) {
		t.Fatalf("Expected *TemplateError, got %v", err)
	}
	if tmplErr.Suggestion != "" {
		t.Errorf("Expected no suggestion, got %q", tmplErr.Suggestion)
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name       string
		template   string
		wantReason string
	}{
		{name: "Unclosed brace", template: "run {CODE", wantReason: "unclosed"},
		{name: "Lone closing brace", template: "run }", wantReason: "unmatched"},
		{name: "Empty reference", template: "{}", wantReason: "invalid variable name"},
		{name: "Leading digit", template: "{1abc}", wantReason: "invalid variable name"},
		{name: "Expression is not allowed", template: "{a + b}", wantReason: "invalid variable name"},
		{name: "Call is not allowed", template: "{os.system('rm')}", wantReason: "invalid variable name"},
		{name: "Unknown filter", template: "{CODE|exec}", wantReason: "unknown filter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("test", tt.template)
			var tmplErr *TemplateError
			if !errors.As(err, &tmplErr) {
				t.Fatalf("Parse(%q) expected *TemplateError, got %v", tt.template, err)
			}
			if !strings.Contains(tmplErr.Reason, tt.wantReason) {
				t.Errorf("Parse(%q) reason = %q, want it to contain %q", tt.template, tmplErr.Reason, tt.wantReason)
			}
		})
	}
}

func TestRenderIdempotent(t *testing.T) {
	tmpl, err := Parse("t", "{CODE} -i {sample.read1} -o {looper.output_dir}")
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	before := testVars.Clone()

	first, err := tmpl.Execute(testVars)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	second, err := tmpl.Execute(testVars)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if first != second {
		t.Errorf("Execute() not idempotent: %q vs %q", first, second)
	}

	again, err := Render("again", first, testVars)
	if err != nil {
		t.Fatalf("Re-render error: %v", err)
	}
	if again != first {
		t.Errorf("Re-rendering rendered output changed it: %q -> %q", first, again)
	}
	if diff := cmp.Diff(before, testVars); diff != "" {
		t.Errorf("Execute() mutated the mapping (-before +after):\n%s", diff)
	}
}

func TestVariables(t *testing.T) {
	tmpl, err := Parse("t", "{b} {a?} {b|upper} {{c}}")
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if diff := cmp.Diff([]string{"b", "a"}, tmpl.Variables()); diff != "" {
		t.Errorf("Variables() mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderChain(t *testing.T) {
	vars := variables.Mapping{"genome": "hg38", "root": "/refs"}
	templates := []NamedTemplate{
		{Name: "genome_dir", Text: "{root}/{genome}"},
		{Name: "index", Text: "{genome_dir}/bowtie2"},
	}

	got, err := RenderChain("var_templates", templates, vars)
	if err != nil {
		t.Fatalf("RenderChain() error: %v", err)
	}
	if got["index"] != "/refs/hg38/bowtie2" {
		t.Errorf("Expected chained index %q, got %q", "/refs/hg38/bowtie2", got["index"])
	}
	if _, ok := vars["genome_dir"]; ok {
		t.Errorf("RenderChain() mutated the input mapping")
	}

	_, err = RenderChain("var_templates", []NamedTemplate{{Name: "early", Text: "{late}"}, {Name: "late", Text: "x"}}, vars)
	var tmplErr *TemplateError
	if !errors.As(err, &tmplErr) {
		t.Fatalf("Expected *TemplateError for forward reference, got %v", err)
	}
	if tmplErr.Source != "var_templates.early" {
		t.Errorf("Expected source %q, got %q", "var_templates.early", tmplErr.Source)
	}
}
