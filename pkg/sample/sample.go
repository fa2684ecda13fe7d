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

// Package sample loads the sample table and selects which rows to submit.
package sample

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"hpc-looper/pkg/namespace"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// DefaultNameColumn holds the sample name when LoadOptions.NameColumn is
// empty.
const DefaultNameColumn = "sample_name"

const bytesPerGB = 1 << 30

// Row is one sample. It is read-only once loaded.
type Row struct {
	Name       string
	Attributes namespace.Value

	// InputSize is the combined size in GB of the files named by the input
	// attributes.
	InputSize float64
}

// Tree returns the row attributes with sample_name bound to Name.
func (r Row) Tree() namespace.Value {
	return r.Attributes.With("sample_name", namespace.StringValue(r.Name))
}

// Names lists the sample names of rows in order.
func Names(rows []Row) []string {
	names := make([]string, len(rows))
	for i, r := range rows {
		names[i] = r.Name
	}
	return names
}

// LoadOptions controls LoadCSV.
type LoadOptions struct {
	NameColumn string

	// InputAttributes name the columns holding input file paths. A cell may
	// hold several whitespace separated paths or glob patterns.
	InputAttributes []string

	// BaseDir anchors relative input paths. It defaults to the directory of
	// the table.
	BaseDir string

	Log logrus.FieldLogger
}

// LoadCSV reads a comma or tab separated sample table with a header row.
// Empty cells are null attributes.
func LoadCSV(fs afero.Fs, path string, opts LoadOptions) ([]Row, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read sample table %q", path)
	}
	if opts.NameColumn == "" {
		opts.NameColumn = DefaultNameColumn
	}
	if opts.BaseDir == "" {
		opts.BaseDir = filepath.Dir(path)
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}

	r := csv.NewReader(bytes.NewReader(data))
	if header, _, _ := bytes.Cut(data, []byte("\n")); bytes.IndexByte(header, '\t') >= 0 {
		r.Comma = '\t'
	}
	r.Comment = '#'
	r.TrimLeadingSpace = true

	cols, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("sample table %q is empty", path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse sample table %q", path)
	}
	nameIdx := -1
	for i := range cols {
		cols[i] = strings.TrimSpace(cols[i])
		if cols[i] == opts.NameColumn {
			nameIdx = i
		}
	}
	if nameIdx < 0 {
		return nil, fmt.Errorf("sample table %q has no %q column", path, opts.NameColumn)
	}

	var rows []Row
	seen := map[string]int{}
	for {
		fields, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse sample table %q", path)
		}
		line, _ := r.FieldPos(nameIdx)
		name := strings.TrimSpace(fields[nameIdx])
		if name == "" {
			return nil, fmt.Errorf("sample table %q line %d: empty %s", path, line, opts.NameColumn)
		}
		if prev, dup := seen[name]; dup {
			return nil, fmt.Errorf("sample table %q line %d: duplicate sample %q (first on line %d)", path, line, name, prev)
		}
		seen[name] = line

		attrs := make(map[string]namespace.Value, len(cols))
		for i, c := range cols {
			if v := strings.TrimSpace(fields[i]); v != "" {
				attrs[c] = namespace.StringValue(v)
			} else {
				attrs[c] = namespace.Value{}
			}
		}
		row := Row{Name: name, Attributes: namespace.MapValue(attrs)}
		row.InputSize = inputSize(fs, row, opts)
		rows = append(rows, row)
	}
	opts.Log.WithField("table", path).Debugf("loaded %d samples", len(rows))
	return rows, nil
}

// inputSize sums the sizes of every file named by the input attributes.
// Missing files count as zero.
func inputSize(fs afero.Fs, row Row, opts LoadOptions) float64 {
	var total int64
	for _, attr := range opts.InputAttributes {
		v, ok := row.Attributes.Get(attr)
		if !ok {
			continue
		}
		text, ok := v.Text()
		if !ok {
			continue
		}
		for _, p := range strings.Fields(text) {
			if !filepath.IsAbs(p) {
				p = filepath.Join(opts.BaseDir, p)
			}
			matches := []string{p}
			if strings.ContainsAny(p, "*?[") {
				matches, _ = afero.Glob(fs, p)
			}
			for _, m := range matches {
				info, err := fs.Stat(m)
				if err != nil {
					opts.Log.WithFields(logrus.Fields{"sample": row.Name, "attribute": attr}).Debugf("input file %q not found, counting 0", m)
					continue
				}
				if !info.IsDir() {
					total += info.Size()
				}
			}
		}
	}
	return float64(total) / bytesPerGB
}
