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

package compute

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"hpc-looper/pkg/namespace"

	"gopkg.in/yaml.v3"
)

// sizeColumns are the accepted names of the threshold column, in order of
// preference.
var sizeColumns = []string{"max_size", "max_file_size"}

// TableRow is one step of a size-dependent variables table.
type TableRow struct {
	MaxSize float64
	Values  map[string]string
}

// Table maps job sizes to compute variables. Rows are sorted by MaxSize.
type Table struct {
	Rows []TableRow
}

// Select returns the values of the first row whose MaxSize is at least size,
// or of the last row when size exceeds every threshold.
func (t *Table) Select(size float64) map[string]string {
	if len(t.Rows) == 0 {
		return nil
	}
	chosen := t.Rows[len(t.Rows)-1]
	for _, row := range t.Rows {
		if row.MaxSize >= size {
			chosen = row
			break
		}
	}
	out := make(map[string]string, len(chosen.Values))
	for k, v := range chosen.Values {
		out[k] = v
	}
	return out
}

// ParseTable decodes a size table. name selects the format by extension:
// .yaml/.yml hold a list of mappings, anything else is delimited text with a
// header row, tab separated when the header contains a tab and comma
// separated otherwise.
func ParseTable(name string, data []byte) (*Table, error) {
	var records []map[string]string
	var err error
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		records, err = yamlRecords(data)
	default:
		records, err = delimitedRecords(data)
	}
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("size table %q has no rows", name)
	}

	t := &Table{Rows: make([]TableRow, 0, len(records))}
	for i, rec := range records {
		col, raw, ok := sizeColumn(rec)
		if !ok {
			return nil, fmt.Errorf("size table %q row %d: missing %q column", name, i+1, sizeColumns[0])
		}
		maxSize, err := parseMaxSize(raw)
		if err != nil {
			return nil, fmt.Errorf("size table %q row %d: %w", name, i+1, err)
		}
		values := make(map[string]string, len(rec)-1)
		for k, v := range rec {
			if k != col {
				values[k] = v
			}
		}
		t.Rows = append(t.Rows, TableRow{MaxSize: maxSize, Values: values})
	}
	sort.SliceStable(t.Rows, func(i, j int) bool { return t.Rows[i].MaxSize < t.Rows[j].MaxSize })
	return t, nil
}

func sizeColumn(rec map[string]string) (string, string, bool) {
	for _, c := range sizeColumns {
		if v, ok := rec[c]; ok {
			return c, v, true
		}
	}
	return "", "", false
}

// parseMaxSize treats empty, NaN and inf as an unbounded threshold.
func parseMaxSize(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	switch strings.ToLower(s) {
	case "", "nan", "inf", "+inf", "infinity":
		return math.Inf(1), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("max size %q is not numeric", raw)
	}
	if f < 0 {
		return 0, fmt.Errorf("max size %q is negative", raw)
	}
	return f, nil
}

func delimitedRecords(data []byte) ([]map[string]string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	header := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		header = data[:i]
	}
	r := csv.NewReader(bytes.NewReader(data))
	if bytes.IndexByte(header, '\t') >= 0 {
		r.Comma = '\t'
	}
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1
	r.Comment = '#'

	cols, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read size table header: %w", err)
	}
	for i := range cols {
		cols[i] = strings.TrimSpace(cols[i])
	}

	var records []map[string]string
	for {
		fields, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read size table: %w", err)
		}
		rec := make(map[string]string, len(cols))
		for i, c := range cols {
			if i < len(fields) {
				rec[c] = strings.TrimSpace(fields[i])
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func yamlRecords(data []byte) ([]map[string]string, error) {
	var raw []map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse size table YAML: %w", err)
	}
	records := make([]map[string]string, 0, len(raw))
	for i, item := range raw {
		rec, err := flatStrings(item)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// flatStrings converts a decoded object whose values are all scalars.
func flatStrings(in map[string]interface{}) (map[string]string, error) {
	out := make(map[string]string, len(in))
	for k, raw := range in {
		v, err := namespace.FromGo(raw)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		if v.Kind() == namespace.Null {
			out[k] = ""
			continue
		}
		if !v.IsScalar() {
			return nil, fmt.Errorf("key %q: expected a scalar, got %s", k, v.Kind())
		}
		out[k], _ = v.Text()
	}
	return out, nil
}
