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

// Package namespace holds project and sample metadata as a read-only tree.
//
// A Value is either a scalar (string, number, bool, null), a list, or a
// mapping from string keys to further Values. Values are immutable: every
// constructor copies its input and With returns a new tree, so a tree can be
// shared between goroutines composing different jobs.
package namespace

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	Null Kind = iota
	String
	Number
	Bool
	List
	Map
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case String:
		return "string"
	case Number:
		return "number"
	case Bool:
		return "bool"
	case List:
		return "list"
	case Map:
		return "map"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Value is one node of a namespace tree. The zero Value is Null.
type Value struct {
	kind  Kind
	text  string
	num   float64
	flag  bool
	items []Value
	m     map[string]Value
}

// StringValue wraps s.
func StringValue(s string) Value {
	return Value{kind: String, text: s}
}

// NumberValue wraps f. Its text form is the shortest representation that
// round-trips.
func NumberValue(f float64) Value {
	return Value{kind: Number, num: f, text: strconv.FormatFloat(f, 'f', -1, 64)}
}

// BoolValue wraps b.
func BoolValue(b bool) Value {
	return Value{kind: Bool, flag: b, text: strconv.FormatBool(b)}
}

// ListValue wraps a copy of items.
func ListValue(items []Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: List, items: cp}
}

// MapValue wraps a copy of m.
func MapValue(m map[string]Value) Value {
	cp := make(map[string]Value, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{kind: Map, m: cp}
}

// Kind reports the variant.
func (v Value) Kind() Kind {
	return v.kind
}

// IsScalar reports whether v is a string, number, or bool.
func (v Value) IsScalar() bool {
	return v.kind == String || v.kind == Number || v.kind == Bool
}

// Float returns the numeric value, parsing strings when needed.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case Number:
		return v.num, true
	case String:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.text), 64)
		return f, err == nil
	}
	return 0, false
}

// Text converts v to the string used in templates. Scalars convert
// directly; a list converts when all of its items are scalars, joined by a
// single space. Null and mappings do not convert.
func (v Value) Text() (string, bool) {
	switch v.kind {
	case String, Number, Bool:
		return v.text, true
	case List:
		parts := make([]string, 0, len(v.items))
		for _, item := range v.items {
			s, ok := item.Text()
			if !ok || item.kind == List {
				return "", false
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, " "), true
	}
	return "", false
}

// Items returns a copy of the list items.
func (v Value) Items() []Value {
	if v.kind != List {
		return nil
	}
	cp := make([]Value, len(v.items))
	copy(cp, v.items)
	return cp
}

// Get returns the child stored under key.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != Map {
		return Value{}, false
	}
	child, ok := v.m[key]
	return child, ok
}

// Keys returns the mapping keys in sorted order.
func (v Value) Keys() []string {
	if v.kind != Map {
		return nil
	}
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Lookup descends a dotted path such as "sample.read1". It reports false as
// soon as a segment is missing or a non-mapping is reached before the end.
func (v Value) Lookup(path string) (Value, bool) {
	if path == "" {
		return Value{}, false
	}
	cur := v
	for _, seg := range strings.Split(path, ".") {
		next, ok := cur.Get(seg)
		if !ok {
			return Value{}, false
		}
		cur = next
	}
	return cur, true
}

// With returns a copy of v with key set to child. v itself is unchanged. A
// non-mapping v is replaced by a fresh mapping.
func (v Value) With(key string, child Value) Value {
	m := make(map[string]Value, len(v.m)+1)
	if v.kind == Map {
		for k, c := range v.m {
			m[k] = c
		}
	}
	m[key] = child
	return Value{kind: Map, m: m}
}

// Merge overlays other's keys onto v, recursing into mappings present on both
// sides. Neither input is modified.
func (v Value) Merge(other Value) Value {
	if other.kind != Map {
		return v
	}
	out := v
	if out.kind != Map {
		out = Value{kind: Map, m: map[string]Value{}}
	}
	for _, k := range other.Keys() {
		oc := other.m[k]
		if cur, ok := out.Get(k); ok && cur.kind == Map && oc.kind == Map {
			out = out.With(k, cur.Merge(oc))
			continue
		}
		out = out.With(k, oc)
	}
	return out
}

// Flatten lists every text-convertible leaf under its dotted path.
func (v Value) Flatten() map[string]string {
	out := make(map[string]string)
	v.flatten("", out)
	return out
}

func (v Value) flatten(prefix string, out map[string]string) {
	if v.kind == Map {
		for k, child := range v.m {
			name := k
			if prefix != "" {
				name = prefix + "." + k
			}
			child.flatten(name, out)
		}
		return
	}
	if prefix == "" {
		return
	}
	if s, ok := v.Text(); ok {
		out[prefix] = s
	}
}

// Interface converts v back to plain Go values (map[string]interface{},
// []interface{}, string, float64, bool, nil), e.g. for YAML output.
func (v Value) Interface() interface{} {
	switch v.kind {
	case String:
		return v.text
	case Number:
		return v.num
	case Bool:
		return v.flag
	case List:
		out := make([]interface{}, len(v.items))
		for i, item := range v.items {
			out[i] = item.Interface()
		}
		return out
	case Map:
		out := make(map[string]interface{}, len(v.m))
		for k, child := range v.m {
			out[k] = child.Interface()
		}
		return out
	}
	return nil
}

// FromGo converts decoded JSON/YAML style data into a Value.
func FromGo(in interface{}) (Value, error) {
	switch t := in.(type) {
	case nil:
		return Value{}, nil
	case Value:
		return t, nil
	case string:
		return StringValue(t), nil
	case bool:
		return BoolValue(t), nil
	case int:
		return NumberValue(float64(t)), nil
	case int32:
		return NumberValue(float64(t)), nil
	case int64:
		return NumberValue(float64(t)), nil
	case uint64:
		return NumberValue(float64(t)), nil
	case float32:
		return NumberValue(float64(t)), nil
	case float64:
		return NumberValue(t), nil
	case []string:
		items := make([]Value, len(t))
		for i, s := range t {
			items[i] = StringValue(s)
		}
		return Value{kind: List, items: items}, nil
	case []interface{}:
		items := make([]Value, len(t))
		for i, item := range t {
			conv, err := FromGo(item)
			if err != nil {
				return Value{}, fmt.Errorf("item %d: %w", i, err)
			}
			items[i] = conv
		}
		return Value{kind: List, items: items}, nil
	case map[string]string:
		m := make(map[string]Value, len(t))
		for k, s := range t {
			m[k] = StringValue(s)
		}
		return Value{kind: Map, m: m}, nil
	case map[string]interface{}:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			conv, err := FromGo(item)
			if err != nil {
				return Value{}, fmt.Errorf("key %q: %w", k, err)
			}
			m[k] = conv
		}
		return Value{kind: Map, m: m}, nil
	case map[interface{}]interface{}:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			key := fmt.Sprint(k)
			conv, err := FromGo(item)
			if err != nil {
				return Value{}, fmt.Errorf("key %q: %w", key, err)
			}
			m[key] = conv
		}
		return Value{kind: Map, m: m}, nil
	}
	return Value{}, fmt.Errorf("unsupported namespace value of type %T", in)
}

// MustFromGo is FromGo for literals known to be valid. It panics otherwise.
func MustFromGo(in interface{}) Value {
	v, err := FromGo(in)
	if err != nil {
		panic(err)
	}
	return v
}
