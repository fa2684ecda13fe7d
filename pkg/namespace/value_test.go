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

package namespace

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

const projectYAML = `
namespace:
  command: run.sh
  threads: 8
  ratio: 1e3
  flags: [--fast, --low-mem]
  empty: ""
  nothing: null
sample:
  sample_name: frog_1
  genome: hg38
`

func TestLookup(t *testing.T) {
	tree, err := FromYAML([]byte(projectYAML))
	if err != nil {
		t.Fatalf("FromYAML() error: %v", err)
	}

	tests := []struct {
		name     string
		path     string
		wantOK   bool
		wantText string
		wantKind Kind
	}{
		{name: "Nested string", path: "namespace.command", wantOK: true, wantText: "run.sh", wantKind: String},
		{name: "Integer keeps text", path: "namespace.threads", wantOK: true, wantText: "8", wantKind: Number},
		{name: "Float keeps source text", path: "namespace.ratio", wantOK: true, wantText: "1e3", wantKind: Number},
		{name: "List of scalars joins", path: "namespace.flags", wantOK: true, wantText: "--fast --low-mem", wantKind: List},
		{name: "Empty string is present", path: "namespace.empty", wantOK: true, wantText: "", wantKind: String},
		{name: "Mapping is found but not text", path: "sample", wantOK: true, wantKind: Map},
		{name: "Missing leaf", path: "namespace.missing", wantOK: false},
		{name: "Missing intermediate", path: "nope.command", wantOK: false},
		{name: "Descending through scalar", path: "namespace.command.x", wantOK: false},
		{name: "Empty path", path: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tree.Lookup(tt.path)
			if ok != tt.wantOK {
				t.Fatalf("Lookup(%q) ok = %v, want %v", tt.path, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got.Kind() != tt.wantKind {
				t.Errorf("Lookup(%q) kind = %v, want %v", tt.path, got.Kind(), tt.wantKind)
			}
			if tt.wantKind == Map {
				if _, isText := got.Text(); isText {
					t.Errorf("Lookup(%q) mapping should not convert to text", tt.path)
				}
				return
			}
			text, _ := got.Text()
			if text != tt.wantText {
				t.Errorf("Lookup(%q) text = %q, want %q", tt.path, text, tt.wantText)
			}
		})
	}
}

func TestNullDoesNotConvert(t *testing.T) {
	tree, err := FromYAML([]byte(projectYAML))
	if err != nil {
		t.Fatalf("FromYAML() error: %v", err)
	}
	v, ok := tree.Lookup("namespace.nothing")
	if !ok {
		t.Fatalf("Expected null key to be present")
	}
	if _, ok := v.Text(); ok {
		t.Errorf("Expected null to have no text form")
	}
}

func TestWithDoesNotMutate(t *testing.T) {
	base := MustFromGo(map[string]interface{}{"a": "1"})
	derived := base.With("b", StringValue("2"))

	if _, ok := base.Get("b"); ok {
		t.Errorf("With() mutated the receiver")
	}
	if got, _ := derived.Lookup("b"); got.text != "2" {
		t.Errorf("Expected derived b=2, got %q", got.text)
	}
}

func TestMerge(t *testing.T) {
	base := MustFromGo(map[string]interface{}{
		"sample": map[string]interface{}{"name": "a", "genome": "hg19"},
		"keep":   "x",
	})
	overlay := MustFromGo(map[string]interface{}{
		"sample": map[string]interface{}{"genome": "hg38"},
	})

	got := base.Merge(overlay).Flatten()
	want := map[string]string{
		"sample.name":   "a",
		"sample.genome": "hg38",
		"keep":          "x",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Merge() mismatch (-want +got):\n%s", diff)
	}
	if g, _ := base.Lookup("sample.genome"); g.text != "hg19" {
		t.Errorf("Merge() mutated the receiver")
	}
}

func TestFlatten(t *testing.T) {
	tree := MustFromGo(map[string]interface{}{
		"top": "level",
		"n":   2.5,
		"nested": map[string]interface{}{
			"deep": map[string]interface{}{"leaf": true},
		},
		"null": nil,
	})

	want := map[string]string{
		"top":              "level",
		"n":                "2.5",
		"nested.deep.leaf": "true",
	}
	if diff := cmp.Diff(want, tree.Flatten()); diff != "" {
		t.Errorf("Flatten() mismatch (-want +got):\n%s", diff)
	}
}
