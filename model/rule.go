package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// RuleType tags a validation error with the rule that produced it.
type RuleType string

// Answer-level rule types.
const (
	RuleRequired      RuleType = "required"
	RuleMin           RuleType = "min"
	RuleMax           RuleType = "max"
	RuleMinLength     RuleType = "min_length"
	RuleMaxLength     RuleType = "max_length"
	RulePattern       RuleType = "pattern"
	RuleMinDate       RuleType = "min_date"
	RuleMaxDate       RuleType = "max_date"
	RuleEquals        RuleType = "equals"
	RuleEqualsToday   RuleType = "equals_today"
	RuleCrossField    RuleType = "cross_field"
	RuleAllocationSum RuleType = "allocation_sum"
	RuleAsync         RuleType = "async"
	RuleGroupSum      RuleType = "group_sum"
)

// DefaultAllocationTarget is the sum an allocation table must reach when
// neither the rule nor the question names one.
var DefaultAllocationTarget = decimal.NewFromInt(100)

// ValidationRule is one declared check on a question. The concrete types are
// listed below; evaluators switch over them exhaustively.
type ValidationRule interface {
	Type() RuleType
	// Override is the author-supplied message, or empty for the default.
	Override() string
	rule()
}

// RuleMessage carries a rule's optional message override.
type RuleMessage struct {
	Message string
}

// Override returns the message override.
func (m RuleMessage) Override() string { return m.Message }

// RequiredRule fails when the answer is absent.
type RequiredRule struct{ RuleMessage }

// MinRule fails when the numeric answer is below Value.
type MinRule struct {
	RuleMessage
	Value decimal.Decimal
}

// MaxRule fails when the numeric answer exceeds Value.
type MaxRule struct {
	RuleMessage
	Value decimal.Decimal
}

// MinLengthRule fails when the answer's string form is shorter than Value.
type MinLengthRule struct {
	RuleMessage
	Value int
}

// MaxLengthRule fails when the answer's string form is longer than Value.
type MaxLengthRule struct {
	RuleMessage
	Value int
}

// PatternRule fails when the answer does not match Pattern.
type PatternRule struct {
	RuleMessage
	Pattern string
}

// MinDateRule fails when the answer is before Bound. Bound is an ISO date
// or a relative expression such as "today-18y".
type MinDateRule struct {
	RuleMessage
	Bound string
}

// MaxDateRule fails when the answer is after Bound.
type MaxDateRule struct {
	RuleMessage
	Bound string
}

// EqualsRule fails unless the answer loosely equals Value.
type EqualsRule struct {
	RuleMessage
	Value Value
}

// EqualsTodayRule fails unless the answer's date is the current date.
type EqualsTodayRule struct{ RuleMessage }

// CrossFieldRule compares the answer with another answer in the same scope.
type CrossFieldRule struct {
	RuleMessage
	Field    string
	Operator Operator
}

// AllocationSumRule requires allocation-table percentages to total Target.
// A nil Target defers to the question's AllocationConfig.
type AllocationSumRule struct {
	RuleMessage
	Target *decimal.Decimal
}

// AsyncRule names a check performed out of band by the caller.
type AsyncRule struct {
	RuleMessage
	Name string
}

func (RequiredRule) Type() RuleType      { return RuleRequired }
func (MinRule) Type() RuleType           { return RuleMin }
func (MaxRule) Type() RuleType           { return RuleMax }
func (MinLengthRule) Type() RuleType     { return RuleMinLength }
func (MaxLengthRule) Type() RuleType     { return RuleMaxLength }
func (PatternRule) Type() RuleType       { return RulePattern }
func (MinDateRule) Type() RuleType       { return RuleMinDate }
func (MaxDateRule) Type() RuleType       { return RuleMaxDate }
func (EqualsRule) Type() RuleType        { return RuleEquals }
func (EqualsTodayRule) Type() RuleType   { return RuleEqualsToday }
func (CrossFieldRule) Type() RuleType    { return RuleCrossField }
func (AllocationSumRule) Type() RuleType { return RuleAllocationSum }
func (AsyncRule) Type() RuleType         { return RuleAsync }

func (RequiredRule) rule()      {}
func (MinRule) rule()           {}
func (MaxRule) rule()           {}
func (MinLengthRule) rule()     {}
func (MaxLengthRule) rule()     {}
func (PatternRule) rule()       {}
func (MinDateRule) rule()       {}
func (MaxDateRule) rule()       {}
func (EqualsRule) rule()        {}
func (EqualsTodayRule) rule()   {}
func (CrossFieldRule) rule()    {}
func (AllocationSumRule) rule() {}
func (AsyncRule) rule()         {}

// Rules is an ordered list of validation rules with wire decoding.
type Rules []ValidationRule

// Has reports whether a rule of type t is declared.
func (rs Rules) Has(t RuleType) bool {
	for _, r := range rs {
		if r.Type() == t {
			return true
		}
	}
	return false
}

// ruleWire is the serialized form shared by JSON and YAML.
type ruleWire struct {
	Type     string   `json:"type"               yaml:"type"`
	Value    *Literal `json:"value,omitempty"    yaml:"value,omitempty"`
	Field    string   `json:"field,omitempty"    yaml:"field,omitempty"`
	Operator string   `json:"operator,omitempty" yaml:"operator,omitempty"`
	Message  string   `json:"message,omitempty"  yaml:"message,omitempty"`
}

func (w ruleWire) literal() Value {
	if w.Value == nil || w.Value.Value == nil {
		return Null{}
	}
	return w.Value.Value
}

func (w ruleWire) toRule(path string) (ValidationRule, error) {
	msg := RuleMessage{Message: w.Message}
	fail := func(format string, args ...any) error {
		return &DefinitionError{Path: path, Message: fmt.Sprintf(format, args...)}
	}
	number := func() (decimal.Decimal, error) {
		d, ok := AsNumber(w.literal())
		if !ok {
			return decimal.Zero, fail("%s rule requires a numeric value", w.Type)
		}
		return d, nil
	}
	length := func() (int, error) {
		d, err := number()
		if err != nil {
			return 0, err
		}
		if !d.IsInteger() || d.IsNegative() {
			return 0, fail("%s rule requires a non-negative integer", w.Type)
		}
		return int(d.IntPart()), nil
	}

	switch RuleType(strings.ToLower(w.Type)) {
	case RuleRequired:
		return RequiredRule{msg}, nil
	case RuleMin:
		d, err := number()
		return MinRule{msg, d}, err
	case RuleMax:
		d, err := number()
		return MaxRule{msg, d}, err
	case RuleMinLength:
		n, err := length()
		return MinLengthRule{msg, n}, err
	case RuleMaxLength:
		n, err := length()
		return MaxLengthRule{msg, n}, err
	case RulePattern:
		return PatternRule{msg, AsString(w.literal())}, nil
	case RuleMinDate:
		return MinDateRule{msg, AsString(w.literal())}, nil
	case RuleMaxDate:
		return MaxDateRule{msg, AsString(w.literal())}, nil
	case RuleEquals:
		return EqualsRule{msg, w.literal()}, nil
	case RuleEqualsToday:
		return EqualsTodayRule{msg}, nil
	case RuleCrossField:
		field := w.Field
		if field == "" {
			field = AsString(w.literal())
		}
		op := Operator(strings.ToLower(w.Operator))
		if op == "" {
			op = OpEq
		}
		return CrossFieldRule{msg, field, op}, nil
	case RuleAllocationSum:
		if IsAbsent(w.literal()) {
			return AllocationSumRule{msg, nil}, nil
		}
		d, err := number()
		if err != nil {
			return nil, err
		}
		return AllocationSumRule{msg, &d}, nil
	case RuleAsync:
		return AsyncRule{msg, AsString(w.literal())}, nil
	default:
		return nil, fail("unknown rule type %q", w.Type)
	}
}

func wireFromRule(r ValidationRule) ruleWire {
	w := ruleWire{Type: string(r.Type()), Message: r.Override()}
	lit := func(v Value) *Literal { return &Literal{Value: v} }
	switch t := r.(type) {
	case MinRule:
		w.Value = lit(NewNumber(t.Value))
	case MaxRule:
		w.Value = lit(NewNumber(t.Value))
	case MinLengthRule:
		w.Value = lit(Int(int64(t.Value)))
	case MaxLengthRule:
		w.Value = lit(Int(int64(t.Value)))
	case PatternRule:
		w.Value = lit(Text(t.Pattern))
	case MinDateRule:
		w.Value = lit(Text(t.Bound))
	case MaxDateRule:
		w.Value = lit(Text(t.Bound))
	case EqualsRule:
		w.Value = lit(t.Value)
	case CrossFieldRule:
		w.Field = t.Field
		w.Operator = string(t.Operator)
	case AllocationSumRule:
		if t.Target != nil {
			w.Value = lit(NewNumber(*t.Target))
		}
	case AsyncRule:
		w.Value = lit(Text(t.Name))
	}
	return w
}

func rulesFromWire(wires []ruleWire, path string) (Rules, error) {
	out := make(Rules, 0, len(wires))
	for i, w := range wires {
		r, err := w.toRule(fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// UnmarshalJSON decodes a rule list, rejecting unknown rule types.
func (rs *Rules) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*rs = nil
		return nil
	}
	var wires []ruleWire
	if err := json.Unmarshal(data, &wires); err != nil {
		return fmt.Errorf("validations: %w", err)
	}
	out, err := rulesFromWire(wires, "validations")
	if err != nil {
		return err
	}
	*rs = out
	return nil
}

// MarshalJSON encodes the rule list in wire form.
func (rs Rules) MarshalJSON() ([]byte, error) {
	wires := make([]ruleWire, 0, len(rs))
	for _, r := range rs {
		wires = append(wires, wireFromRule(r))
	}
	return json.Marshal(wires)
}

// UnmarshalYAML decodes a rule list from a definition file.
func (rs *Rules) UnmarshalYAML(node *yaml.Node) error {
	var wires []ruleWire
	if err := node.Decode(&wires); err != nil {
		return fmt.Errorf("validations (line %d): %w", node.Line, err)
	}
	out, err := rulesFromWire(wires, fmt.Sprintf("validations(line %d)", node.Line))
	if err != nil {
		return err
	}
	*rs = out
	return nil
}
