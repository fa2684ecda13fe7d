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
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// FromYAML decodes a YAML document into a Value. Number scalars keep their
// source text so "1e3" renders as written.
func FromYAML(data []byte) (Value, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Value{}, fmt.Errorf("failed to parse namespace YAML: %w", err)
	}
	if doc.Kind == 0 {
		return MapValue(nil), nil
	}
	return FromNode(&doc)
}

// UnmarshalYAML lets a Value be a field of a yaml.v3 decoded struct.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	conv, err := FromNode(node)
	if err != nil {
		return err
	}
	*v = conv
	return nil
}

// FromNode converts a yaml.v3 node.
func FromNode(node *yaml.Node) (Value, error) {
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return Value{}, nil
		}
		return FromNode(node.Content[0])
	case yaml.AliasNode:
		return FromNode(node.Alias)
	case yaml.MappingNode:
		m := make(map[string]Value, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			child, err := FromNode(node.Content[i+1])
			if err != nil {
				return Value{}, fmt.Errorf("key %q: %w", key, err)
			}
			m[key] = child
		}
		return Value{kind: Map, m: m}, nil
	case yaml.SequenceNode:
		items := make([]Value, len(node.Content))
		for i, c := range node.Content {
			child, err := FromNode(c)
			if err != nil {
				return Value{}, fmt.Errorf("item %d: %w", i, err)
			}
			items[i] = child
		}
		return Value{kind: List, items: items}, nil
	case yaml.ScalarNode:
		return scalarFromNode(node)
	}
	return Value{}, fmt.Errorf("line %d: unsupported YAML node kind %v", node.Line, node.Kind)
}

func scalarFromNode(node *yaml.Node) (Value, error) {
	switch node.ShortTag() {
	case "!!null":
		return Value{}, nil
	case "!!bool":
		b, err := strconv.ParseBool(node.Value)
		if err != nil {
			var out bool
			if derr := node.Decode(&out); derr != nil {
				return Value{}, fmt.Errorf("line %d: %w", node.Line, derr)
			}
			b = out
		}
		return Value{kind: Bool, flag: b, text: node.Value}, nil
	case "!!int", "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return Value{}, fmt.Errorf("line %d: %w", node.Line, err)
		}
		return Value{kind: Number, num: f, text: node.Value}, nil
	}
	return StringValue(node.Value), nil
}
