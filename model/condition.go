package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// LogicOp combines child conditions in a CompoundCondition.
type LogicOp string

// Compound logic operators.
const (
	LogicAnd LogicOp = "AND"
	LogicOr  LogicOp = "OR"
	LogicNot LogicOp = "NOT"
)

// Operator compares a leaf's left operand with its right operand.
type Operator string

// Leaf comparison operators.
const (
	OpEq       Operator = "eq"
	OpNeq      Operator = "neq"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpIn       Operator = "in"
	OpNotIn    Operator = "not_in"
	OpContains Operator = "contains"
	OpMinItems Operator = "min_items"
	OpMaxItems Operator = "max_items"
)

// KnownOperators lists every operator the evaluator implements.
var KnownOperators = map[Operator]bool{
	OpEq: true, OpNeq: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true,
	OpIn: true, OpNotIn: true, OpContains: true, OpMinItems: true, OpMaxItems: true,
}

// Condition is a boolean expression over an answer scope. It is either a
// *LeafCondition or a *CompoundCondition.
type Condition interface {
	condition()
}

// LeafCondition compares scope[Field] against a literal Value, or against
// scope[RefField] when RefField is set.
type LeafCondition struct {
	Field    string
	Operator Operator
	Value    Value
	RefField string
}

// CompoundCondition combines child conditions. NOT takes exactly one child.
type CompoundCondition struct {
	Logic      LogicOp
	Conditions []Condition
}

func (*LeafCondition) condition()     {}
func (*CompoundCondition) condition() {}

// Expression is an optional Condition as it appears in a definition. The
// zero Expression holds no condition and always applies.
type Expression struct {
	Condition Condition
}

// When wraps a condition in an Expression.
func When(c Condition) Expression {
	return Expression{Condition: c}
}

// IsZero reports whether the expression is unconditional.
func (e Expression) IsZero() bool {
	return e.Condition == nil
}

// conditionWire is the serialized form shared by JSON and YAML.
type conditionWire struct {
	Field      string          `json:"field,omitempty"      yaml:"field,omitempty"`
	Operator   string          `json:"operator,omitempty"   yaml:"operator,omitempty"`
	Value      *Literal        `json:"value,omitempty"      yaml:"value,omitempty"`
	RefField   string          `json:"ref_field,omitempty"  yaml:"ref_field,omitempty"`
	Logic      string          `json:"logic,omitempty"      yaml:"logic,omitempty"`
	Type       string          `json:"type,omitempty"       yaml:"type,omitempty"`
	Conditions []conditionWire `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

func (w conditionWire) toCondition(path string) (Condition, error) {
	logic := w.Logic
	if logic == "" {
		logic = w.Type
	}
	if logic != "" {
		op := LogicOp(strings.ToUpper(logic))
		switch op {
		case LogicAnd, LogicOr, LogicNot:
		default:
			return nil, &DefinitionError{Path: path + ".logic", Message: fmt.Sprintf("unknown logic %q", logic)}
		}
		cc := &CompoundCondition{Logic: op, Conditions: make([]Condition, 0, len(w.Conditions))}
		for i, child := range w.Conditions {
			c, err := child.toCondition(fmt.Sprintf("%s.conditions[%d]", path, i))
			if err != nil {
				return nil, err
			}
			cc.Conditions = append(cc.Conditions, c)
		}
		return cc, nil
	}
	if w.Field == "" {
		return nil, &DefinitionError{Path: path, Message: "condition requires field or logic"}
	}
	leaf := &LeafCondition{
		Field:    w.Field,
		Operator: Operator(strings.ToLower(w.Operator)),
		RefField: w.RefField,
	}
	if leaf.Operator == "" {
		leaf.Operator = OpEq
	}
	if w.Value != nil {
		leaf.Value = w.Value.Value
	}
	return leaf, nil
}

func wireFromCondition(c Condition) conditionWire {
	switch t := c.(type) {
	case *LeafCondition:
		w := conditionWire{Field: t.Field, Operator: string(t.Operator), RefField: t.RefField}
		if t.Value != nil {
			w.Value = &Literal{Value: t.Value}
		}
		return w
	case *CompoundCondition:
		w := conditionWire{Logic: string(t.Logic)}
		for _, child := range t.Conditions {
			w.Conditions = append(w.Conditions, wireFromCondition(child))
		}
		return w
	default:
		return conditionWire{}
	}
}

// UnmarshalJSON decodes a condition tree. Numbers stay exact.
func (e *Expression) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		e.Condition = nil
		return nil
	}
	var w conditionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("condition: %w", err)
	}
	c, err := w.toCondition("condition")
	if err != nil {
		return err
	}
	e.Condition = c
	return nil
}

// MarshalJSON encodes the condition tree, or null when unconditional.
func (e Expression) MarshalJSON() ([]byte, error) {
	if e.Condition == nil {
		return []byte("null"), nil
	}
	return json.Marshal(wireFromCondition(e.Condition))
}

// UnmarshalYAML decodes a condition tree from a definition file.
func (e *Expression) UnmarshalYAML(node *yaml.Node) error {
	var w conditionWire
	if err := node.Decode(&w); err != nil {
		return fmt.Errorf("condition (line %d): %w", node.Line, err)
	}
	c, err := w.toCondition(fmt.Sprintf("condition(line %d)", node.Line))
	if err != nil {
		return err
	}
	e.Condition = c
	return nil
}
