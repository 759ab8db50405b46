package model

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

func TestExpression_UnmarshalJSON_leaf(t *testing.T) {
	var e Expression
	if err := json.Unmarshal([]byte(`{"field":"owner_type","operator":"EQ","value":"trust"}`), &e); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	leaf, ok := e.Condition.(*LeafCondition)
	if !ok {
		t.Fatalf("condition = %T, want *LeafCondition", e.Condition)
	}
	if leaf.Field != "owner_type" || leaf.Operator != OpEq || leaf.Value != Text("trust") {
		t.Errorf("leaf = %+v", leaf)
	}
}

func TestExpression_UnmarshalJSON_defaultOperator(t *testing.T) {
	var e Expression
	if err := json.Unmarshal([]byte(`{"field":"has_joint_owner","value":true}`), &e); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if leaf := e.Condition.(*LeafCondition); leaf.Operator != OpEq {
		t.Errorf("operator = %q, want eq", leaf.Operator)
	}
}

func TestExpression_UnmarshalJSON_compound(t *testing.T) {
	raw := `{
		"logic": "or",
		"conditions": [
			{"field": "premium", "operator": "gte", "value": 1000000.00},
			{"logic": "NOT", "conditions": [{"field": "state", "operator": "in", "value": ["NY", "CA"]}]}
		]
	}`
	var e Expression
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	cc, ok := e.Condition.(*CompoundCondition)
	if !ok {
		t.Fatalf("condition = %T, want *CompoundCondition", e.Condition)
	}
	if cc.Logic != LogicOr || len(cc.Conditions) != 2 {
		t.Fatalf("compound = %+v", cc)
	}
	premium := cc.Conditions[0].(*LeafCondition)
	if d, _ := AsNumber(premium.Value); !d.Equal(decimal.NewFromInt(1000000)) {
		t.Errorf("premium bound = %v", premium.Value)
	}
	not := cc.Conditions[1].(*CompoundCondition)
	if not.Logic != LogicNot {
		t.Errorf("nested logic = %q, want NOT", not.Logic)
	}
	states, ok := not.Conditions[0].(*LeafCondition).Value.(List)
	if !ok || len(states) != 2 {
		t.Errorf("in list = %v", not.Conditions[0].(*LeafCondition).Value)
	}
}

func TestExpression_UnmarshalJSON_typeAlias(t *testing.T) {
	var e Expression
	if err := json.Unmarshal([]byte(`{"type":"and","conditions":[]}`), &e); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if cc := e.Condition.(*CompoundCondition); cc.Logic != LogicAnd {
		t.Errorf("logic = %q, want AND", cc.Logic)
	}
}

func TestExpression_UnmarshalJSON_unknownLogic(t *testing.T) {
	var e Expression
	err := json.Unmarshal([]byte(`{"logic":"XOR","conditions":[]}`), &e)
	var de *DefinitionError
	if !errors.As(err, &de) {
		t.Fatalf("error = %v, want *DefinitionError", err)
	}
}

func TestExpression_UnmarshalJSON_null(t *testing.T) {
	var e Expression
	if err := json.Unmarshal([]byte(`null`), &e); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !e.IsZero() {
		t.Error("null expression should be unconditional")
	}
}

func TestExpression_MarshalJSON_roundTrip(t *testing.T) {
	e := When(&CompoundCondition{Logic: LogicAnd, Conditions: []Condition{
		&LeafCondition{Field: "funding_methods", Operator: OpContains, Value: Text("exchange_1035")},
		&LeafCondition{Field: "joint_owner_dob", Operator: OpLt, RefField: "owner_dob"},
	}})
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var back Expression
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	cc := back.Condition.(*CompoundCondition)
	ref := cc.Conditions[1].(*LeafCondition)
	if ref.RefField != "owner_dob" || ref.Operator != OpLt {
		t.Errorf("ref leaf = %+v", ref)
	}

	if b, _ := json.Marshal(Expression{}); string(b) != "null" {
		t.Errorf("zero expression = %s, want null", b)
	}
}

func TestExpression_UnmarshalYAML(t *testing.T) {
	src := `
logic: AND
conditions:
  - field: premium
    operator: lt
    value: 0.1
  - field: is_replacement
    value: yes_please
  - field: owner_is_annuitant
    value: false
`
	var e Expression
	if err := yaml.Unmarshal([]byte(src), &e); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	cc := e.Condition.(*CompoundCondition)
	if len(cc.Conditions) != 3 {
		t.Fatalf("conditions = %d, want 3", len(cc.Conditions))
	}
	if d, ok := AsNumber(cc.Conditions[0].(*LeafCondition).Value); !ok || !d.Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("premium bound = %v, want exact 0.1", cc.Conditions[0].(*LeafCondition).Value)
	}
	if v := cc.Conditions[1].(*LeafCondition).Value; v != Text("yes_please") {
		t.Errorf("text literal = %v", v)
	}
	if v := cc.Conditions[2].(*LeafCondition).Value; v != Bool(false) {
		t.Errorf("bool literal = %v", v)
	}
}

func TestExpression_UnmarshalYAML_missingField(t *testing.T) {
	var e Expression
	err := yaml.Unmarshal([]byte("operator: eq\nvalue: 1\n"), &e)
	var de *DefinitionError
	if !errors.As(err, &de) {
		t.Fatalf("error = %v, want *DefinitionError", err)
	}
}
