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

// Package lump groups sample rows into physical jobs.
package lump

import (
	"errors"
	"fmt"

	"hpc-looper/pkg/sample"
	"hpc-looper/pkg/variables"
)

// Kind selects the lumping strategy.
type Kind int

const (
	// None submits one job per row.
	None Kind = iota
	// ByCount groups a fixed number of rows per job.
	ByCount
	// BySize groups rows until their combined input size reaches a budget.
	BySize
)

func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case ByCount:
		return "count"
	case BySize:
		return "size"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ErrInvalidPolicy is matched by every *InvalidPolicyError.
var ErrInvalidPolicy = errors.New("invalid lump policy")

// InvalidPolicyError describes why a policy was rejected.
type InvalidPolicyError struct {
	Reason string
}

func (e *InvalidPolicyError) Error() string {
	return fmt.Sprintf("%v: %s", ErrInvalidPolicy, e.Reason)
}

func (e *InvalidPolicyError) Is(target error) bool {
	return target == ErrInvalidPolicy
}

// Policy is a lumping strategy. The zero Policy is None.
type Policy struct {
	Kind   Kind
	Count  int
	Budget float64
}

// NewPolicy builds a policy from the --lump (size budget in GB) and --lumpn
// (row count) settings. Zero means unset; setting both is an error.
func NewPolicy(sizeBudget float64, count int) (Policy, error) {
	switch {
	case sizeBudget < 0:
		return Policy{}, &InvalidPolicyError{Reason: fmt.Sprintf("size budget %s is negative", variables.FormatNumber(sizeBudget))}
	case count < 0:
		return Policy{}, &InvalidPolicyError{Reason: fmt.Sprintf("count %d is negative", count)}
	case sizeBudget > 0 && count > 0:
		return Policy{}, &InvalidPolicyError{Reason: "size budget and count are mutually exclusive"}
	case sizeBudget > 0:
		return Policy{Kind: BySize, Budget: sizeBudget}, nil
	case count > 0:
		return Policy{Kind: ByCount, Count: count}, nil
	}
	return Policy{Kind: None}, nil
}

// Validate checks that the parameters fit the kind.
func (p Policy) Validate() error {
	switch p.Kind {
	case None:
		return nil
	case ByCount:
		if p.Count <= 0 {
			return &InvalidPolicyError{Reason: fmt.Sprintf("count must be positive, got %d", p.Count)}
		}
		return nil
	case BySize:
		if !(p.Budget > 0) {
			return &InvalidPolicyError{Reason: fmt.Sprintf("size budget must be positive, got %s", variables.FormatNumber(p.Budget))}
		}
		return nil
	}
	return &InvalidPolicyError{Reason: fmt.Sprintf("unknown policy kind %s", p.Kind)}
}

// Describe summarizes p for logs.
func Describe(p Policy) string {
	switch p.Kind {
	case ByCount:
		return fmt.Sprintf("lumping %d samples per job", p.Count)
	case BySize:
		return fmt.Sprintf("lumping samples up to %s GB per job", variables.FormatNumber(p.Budget))
	}
	return "one sample per job"
}

// Lump is one physical job's worth of rows.
type Lump struct {
	ID   string
	Rows []sample.Row
	Size float64
}

// SampleNames lists the names of the rows in order.
func (l Lump) SampleNames() []string {
	return sample.Names(l.Rows)
}

// Partition splits rows into lumps. Every row lands in exactly one lump and
// order is kept, both within and across lumps. Lump boundaries depend on row
// order.
//
// Under BySize a lump never exceeds the budget unless it holds a single row
// that is itself at least the budget. Such a row always gets a lump of its
// own.
func Partition(p Policy, rows []sample.Row) ([]Lump, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	var groups [][]sample.Row
	switch p.Kind {
	case None:
		groups = byCount(rows, 1)
	case ByCount:
		groups = byCount(rows, p.Count)
	case BySize:
		groups = bySize(rows, p.Budget)
	}

	lumps := make([]Lump, len(groups))
	for i, g := range groups {
		lumps[i] = Lump{ID: fmt.Sprintf("lump%d", i+1), Rows: g, Size: totalSize(g)}
	}
	return lumps, nil
}

func byCount(rows []sample.Row, n int) [][]sample.Row {
	var groups [][]sample.Row
	for start := 0; start < len(rows); start += n {
		end := min(start+n, len(rows))
		groups = append(groups, rows[start:end:end])
	}
	return groups
}

// sizeTolerance is the relative slack allowed when comparing summed sizes
// against a budget.
const sizeTolerance = 1e-9

func bySize(rows []sample.Row, budget float64) [][]sample.Row {
	var groups [][]sample.Row
	var open []sample.Row
	var acc float64
	closeOpen := func() {
		if len(open) > 0 {
			groups = append(groups, open)
		}
		open, acc = nil, 0
	}

	// Sizes are fractional GiB, so sums like 0.1+0.2 must still fill 0.3.
	eps := budget * sizeTolerance
	for _, r := range rows {
		switch {
		case r.InputSize >= budget-eps:
			closeOpen()
			groups = append(groups, []sample.Row{r})
		case acc+r.InputSize > budget+eps:
			closeOpen()
			open, acc = []sample.Row{r}, r.InputSize
		default:
			open = append(open, r)
			acc += r.InputSize
			if acc >= budget-eps {
				closeOpen()
			}
		}
	}
	closeOpen()
	return groups
}

func totalSize(rows []sample.Row) float64 {
	var total float64
	for _, r := range rows {
		total += r.InputSize
	}
	return total
}
