package model

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Literal is a Value written into a definition file, such as a condition's
// right operand or a rule bound. Scalars keep their source text so numeric
// literals stay exact in both JSON and YAML.
type Literal struct {
	Value Value
}

// UnmarshalJSON decodes any JSON value.
func (l *Literal) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	l.Value = FromAny(raw)
	return nil
}

// MarshalJSON encodes the literal.
func (l Literal) MarshalJSON() ([]byte, error) {
	return json.Marshal(ToAny(l.Value))
}

// UnmarshalYAML decodes any YAML node.
func (l *Literal) UnmarshalYAML(node *yaml.Node) error {
	v, err := fromYAMLNode(node)
	if err != nil {
		return err
	}
	l.Value = v
	return nil
}

func fromYAMLNode(node *yaml.Node) (Value, error) {
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return Null{}, nil
		}
		return fromYAMLNode(node.Content[0])
	case yaml.AliasNode:
		return fromYAMLNode(node.Alias)
	case yaml.SequenceNode:
		out := make(List, 0, len(node.Content))
		for _, child := range node.Content {
			v, err := fromYAMLNode(child)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.MappingNode:
		out := make(Map, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			v, err := fromYAMLNode(node.Content[i+1])
			if err != nil {
				return nil, err
			}
			out[node.Content[i].Value] = v
		}
		return out, nil
	case yaml.ScalarNode:
		switch node.ShortTag() {
		case "!!null":
			return Null{}, nil
		case "!!bool":
			var b bool
			if err := node.Decode(&b); err != nil {
				return nil, fmt.Errorf("line %d: %w", node.Line, err)
			}
			return Bool(b), nil
		case "!!int", "!!float":
			d, err := decimal.NewFromString(node.Value)
			if err != nil {
				var f float64
				if derr := node.Decode(&f); derr != nil {
					return nil, fmt.Errorf("line %d: %w", node.Line, derr)
				}
				return Float(f), nil
			}
			return Number{Decimal: d}, nil
		default:
			return Text(node.Value), nil
		}
	default:
		return Null{}, nil
	}
}
