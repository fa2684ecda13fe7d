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

package lump

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"hpc-looper/pkg/sample"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func rowsWithSizes(sizes ...float64) []sample.Row {
	rows := make([]sample.Row, len(sizes))
	for i, s := range sizes {
		rows[i] = sample.Row{Name: fmt.Sprintf("s%d", i+1), InputSize: s}
	}
	return rows
}

func groupSizes(lumps []Lump) [][]float64 {
	out := make([][]float64, len(lumps))
	for i, l := range lumps {
		for _, r := range l.Rows {
			out[i] = append(out[i], r.InputSize)
		}
	}
	return out
}

func TestNewPolicy(t *testing.T) {
	tests := []struct {
		name    string
		size    float64
		count   int
		want    Policy
		wantErr bool
	}{
		{name: "Neither set", want: Policy{Kind: None}},
		{name: "Count", count: 10, want: Policy{Kind: ByCount, Count: 10}},
		{name: "Size", size: 3.5, want: Policy{Kind: BySize, Budget: 3.5}},
		{name: "Both set", size: 1, count: 2, wantErr: true},
		{name: "Negative count", count: -1, wantErr: true},
		{name: "Negative size", size: -0.5, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewPolicy(tt.size, tt.count)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPolicy) {
					t.Errorf("Expected ErrInvalidPolicy, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewPolicy() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("NewPolicy(%v, %d) = %+v, want %+v", tt.size, tt.count, got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	invalid := []Policy{
		{Kind: ByCount},
		{Kind: ByCount, Count: -3},
		{Kind: BySize},
		{Kind: Kind(7)},
	}
	for _, p := range invalid {
		err := p.Validate()
		var policyErr *InvalidPolicyError
		if !errors.As(err, &policyErr) {
			t.Errorf("Validate(%+v) expected *InvalidPolicyError, got %v", p, err)
		}
		if _, err := Partition(p, rowsWithSizes(1)); !errors.Is(err, ErrInvalidPolicy) {
			t.Errorf("Partition(%+v) expected ErrInvalidPolicy, got %v", p, err)
		}
	}
}

func TestPartitionByCount(t *testing.T) {
	rows := make([]sample.Row, 25)
	for i := range rows {
		rows[i] = sample.Row{Name: fmt.Sprintf("s%02d", i)}
	}
	lumps, err := Partition(Policy{Kind: ByCount, Count: 10}, rows)
	if err != nil {
		t.Fatalf("Partition() error: %v", err)
	}

	var counts []int
	var ids []string
	for _, l := range lumps {
		counts = append(counts, len(l.Rows))
		ids = append(ids, l.ID)
	}
	if diff := cmp.Diff([]int{10, 10, 5}, counts); diff != "" {
		t.Errorf("Lump sizes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"lump1", "lump2", "lump3"}, ids); diff != "" {
		t.Errorf("Lump IDs mismatch (-want +got):\n%s", diff)
	}
	if got := lumps[2].SampleNames(); got[0] != "s20" || got[4] != "s24" {
		t.Errorf("Unexpected last lump %v", got)
	}
}

func TestPartitionBySize(t *testing.T) {
	tests := []struct {
		name   string
		budget float64
		sizes  []float64
		want   [][]float64
	}{
		{name: "Oversized row alone", budget: 3, sizes: []float64{1, 1, 1, 8, 1}, want: [][]float64{{1, 1, 1}, {8}, {1}}},
		{name: "Exact fill closes lump", budget: 2, sizes: []float64{1, 1, 1}, want: [][]float64{{1, 1}, {1}}},
		{name: "Overflow starts new lump", budget: 3, sizes: []float64{2, 2, 2}, want: [][]float64{{2}, {2}, {2}}},
		{name: "Row equal to budget", budget: 3, sizes: []float64{1, 3, 1}, want: [][]float64{{1}, {3}, {1}}},
		{name: "Zero sized rows accumulate", budget: 1, sizes: []float64{0, 0, 0.5}, want: [][]float64{{0, 0, 0.5}}},
		{name: "Empty input", budget: 1, sizes: nil, want: [][]float64{}},
		{name: "Fractional sizes fill budget", budget: 0.3, sizes: []float64{0.1, 0.2, 0.1}, want: [][]float64{{0.1, 0.2}, {0.1}}},
		{name: "Fractional sizes reach oversized row", budget: 0.3, sizes: []float64{0.1, 0.1, 0.1, 0.30000000000000004}, want: [][]float64{{0.1, 0.1, 0.1}, {0.30000000000000004}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lumps, err := Partition(Policy{Kind: BySize, Budget: tt.budget}, rowsWithSizes(tt.sizes...))
			if err != nil {
				t.Fatalf("Partition() error: %v", err)
			}
			if diff := cmp.Diff(tt.want, groupSizes(lumps)); diff != "" {
				t.Errorf("Partition() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPartitionNone(t *testing.T) {
	lumps, err := Partition(Policy{}, rowsWithSizes(1, 2, 3))
	if err != nil {
		t.Fatalf("Partition() error: %v", err)
	}
	if len(lumps) != 3 {
		t.Fatalf("Expected 3 lumps, got %d", len(lumps))
	}
	for i, l := range lumps {
		if len(l.Rows) != 1 || l.Size != float64(i+1) {
			t.Errorf("Lump %d: unexpected %+v", i, l)
		}
	}
}

// TestPartitionProperties checks on random inputs that lumps partition the
// rows in order and respect their policy bounds.
func TestPartitionProperties(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	for iter := 0; iter < 200; iter++ {
		n := rnd.Intn(40)
		sizes := make([]float64, n)
		for i := range sizes {
			sizes[i] = float64(rnd.Intn(12)) / 2
		}
		rows := rowsWithSizes(sizes...)

		count := 1 + rnd.Intn(7)
		budget := float64(1+rnd.Intn(10)) / 2
		for _, p := range []Policy{{Kind: ByCount, Count: count}, {Kind: BySize, Budget: budget}} {
			lumps, err := Partition(p, rows)
			if err != nil {
				t.Fatalf("Partition(%+v) error: %v", p, err)
			}

			var flat []string
			for _, l := range lumps {
				if len(l.Rows) == 0 {
					t.Fatalf("Partition(%+v) produced an empty lump", p)
				}
				flat = append(flat, l.SampleNames()...)
				switch p.Kind {
				case ByCount:
					if len(l.Rows) > p.Count {
						t.Errorf("Partition(%+v) lump %s has %d rows", p, l.ID, len(l.Rows))
					}
				case BySize:
					if l.Size > p.Budget && len(l.Rows) != 1 {
						t.Errorf("Partition(%+v) lump %s exceeds budget with %d rows (size %v)", p, l.ID, len(l.Rows), l.Size)
					}
				}
			}
			if diff := cmp.Diff(sample.Names(rows), flat, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("Partition(%+v) is not an ordered partition (-want +got):\n%s", p, diff)
			}
			if p.Kind == ByCount {
				if want := (n + p.Count - 1) / p.Count; len(lumps) != want {
					t.Errorf("Partition(%+v) of %d rows gave %d lumps, want %d", p, n, len(lumps), want)
				}
			}
		}
	}
}

func TestDescribe(t *testing.T) {
	tests := map[string]Policy{
		"one sample per job":                   {},
		"lumping 4 samples per job":            {Kind: ByCount, Count: 4},
		"lumping samples up to 2.5 GB per job": {Kind: BySize, Budget: 2.5},
	}
	for want, p := range tests {
		if got := Describe(p); got != want {
			t.Errorf("Describe(%+v) = %q, want %q", p, got, want)
		}
	}
}
