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

// Package variables defines the flat name to value mapping templates are
// rendered against.
package variables

import (
	"slices"
	"strconv"

	"golang.org/x/exp/maps"
)

// Mapping binds template variable names to rendered values. A name that is
// absent is unresolved; a name bound to "" is resolved and empty.
type Mapping map[string]string

// Lookup reports the value bound to name.
func (m Mapping) Lookup(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

// Clone returns an independent copy.
func (m Mapping) Clone() Mapping {
	out := make(Mapping, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Merge returns a new mapping holding m overlaid with each of others in
// order. Later mappings win on collision.
func (m Mapping) Merge(others ...Mapping) Mapping {
	out := m.Clone()
	for _, o := range others {
		for k, v := range o {
			out[k] = v
		}
	}
	return out
}

// WithPrefix returns a copy of m with every name prefixed by prefix + ".".
func (m Mapping) WithPrefix(prefix string) Mapping {
	out := make(Mapping, len(m))
	for k, v := range m {
		out[prefix+"."+k] = v
	}
	return out
}

// Names returns the bound names in sorted order.
func (m Mapping) Names() []string {
	names := maps.Keys(m)
	slices.Sort(names)
	return names
}

// FormatNumber renders f the way numeric variables are bound.
func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
