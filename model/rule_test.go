package model

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

func TestRules_UnmarshalJSON(t *testing.T) {
	raw := `[
		{"type": "required", "message": "Premium is required"},
		{"type": "min", "value": 10000},
		{"type": "max_length", "value": 35},
		{"type": "pattern", "value": "^\\d{5}$"},
		{"type": "min_date", "value": "today-85y"},
		{"type": "cross_field", "field": "owner_dob", "operator": "LTE"},
		{"type": "allocation_sum"},
		{"type": "async", "value": "verify_producer_license"}
	]`
	var rs Rules
	if err := json.Unmarshal([]byte(raw), &rs); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(rs) != 8 {
		t.Fatalf("rules = %d, want 8", len(rs))
	}

	if r, ok := rs[0].(RequiredRule); !ok || r.Override() != "Premium is required" {
		t.Errorf("rs[0] = %#v", rs[0])
	}
	if r, ok := rs[1].(MinRule); !ok || !r.Value.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("rs[1] = %#v", rs[1])
	}
	if r, ok := rs[2].(MaxLengthRule); !ok || r.Value != 35 {
		t.Errorf("rs[2] = %#v", rs[2])
	}
	if r, ok := rs[3].(PatternRule); !ok || r.Pattern != `^\d{5}$` {
		t.Errorf("rs[3] = %#v", rs[3])
	}
	if r, ok := rs[4].(MinDateRule); !ok || r.Bound != "today-85y" {
		t.Errorf("rs[4] = %#v", rs[4])
	}
	if r, ok := rs[5].(CrossFieldRule); !ok || r.Field != "owner_dob" || r.Operator != OpLte {
		t.Errorf("rs[5] = %#v", rs[5])
	}
	if r, ok := rs[6].(AllocationSumRule); !ok || r.Target != nil {
		t.Errorf("rs[6] = %#v", rs[6])
	}
	if r, ok := rs[7].(AsyncRule); !ok || r.Name != "verify_producer_license" {
		t.Errorf("rs[7] = %#v", rs[7])
	}

	if !rs.Has(RuleRequired) || rs.Has(RuleEqualsToday) {
		t.Error("Has() mismatch")
	}
}

func TestRules_UnmarshalJSON_allocationTarget(t *testing.T) {
	var rs Rules
	if err := json.Unmarshal([]byte(`[{"type":"allocation_sum","value":"100.00"}]`), &rs); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	r := rs[0].(AllocationSumRule)
	if r.Target == nil || !r.Target.Equal(decimal.NewFromInt(100)) {
		t.Errorf("target = %v, want 100", r.Target)
	}
}

func TestRules_UnmarshalJSON_errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"unknown type", `[{"type":"luhn"}]`},
		{"min without number", `[{"type":"min","value":"lots"}]`},
		{"negative length", `[{"type":"min_length","value":-1}]`},
		{"fractional length", `[{"type":"max_length","value":2.5}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rs Rules
			err := json.Unmarshal([]byte(tt.raw), &rs)
			var de *DefinitionError
			if !errors.As(err, &de) {
				t.Fatalf("error = %v, want *DefinitionError", err)
			}
		})
	}
}

func TestRules_MarshalJSON_roundTrip(t *testing.T) {
	target := decimal.NewFromInt(100)
	rs := Rules{
		RequiredRule{},
		MaxRule{RuleMessage{"Too much"}, decimal.RequireFromString("2000000")},
		EqualsRule{Value: Text("yes")},
		CrossFieldRule{Field: "owner_state", Operator: OpNeq},
		AllocationSumRule{Target: &target},
	}
	b, err := json.Marshal(rs)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var back Rules
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("Unmarshal(%s) error = %v", b, err)
	}
	if len(back) != len(rs) {
		t.Fatalf("rules = %d, want %d", len(back), len(rs))
	}
	for i := range rs {
		if back[i].Type() != rs[i].Type() {
			t.Errorf("rule %d type = %q, want %q", i, back[i].Type(), rs[i].Type())
		}
	}
	if m := back[1].(MaxRule); m.Override() != "Too much" || !m.Value.Equal(decimal.NewFromInt(2000000)) {
		t.Errorf("max = %#v", m)
	}
	if a := back[4].(AllocationSumRule); a.Target == nil || !a.Target.Equal(target) {
		t.Errorf("allocation target = %v", a.Target)
	}
}

func TestRules_UnmarshalYAML(t *testing.T) {
	src := `
- type: required
- type: max
  value: 999999.99
- type: equals_today
  message: Sign today
`
	var rs Rules
	if err := yaml.Unmarshal([]byte(src), &rs); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(rs) != 3 {
		t.Fatalf("rules = %d, want 3", len(rs))
	}
	if m := rs[1].(MaxRule); !m.Value.Equal(decimal.RequireFromString("999999.99")) {
		t.Errorf("max = %s, want exact 999999.99", m.Value)
	}
	if rs[2].Type() != RuleEqualsToday || rs[2].Override() != "Sign today" {
		t.Errorf("rs[2] = %#v", rs[2])
	}
}

func TestRules_UnmarshalYAML_unknownType(t *testing.T) {
	var rs Rules
	err := yaml.Unmarshal([]byte("- type: nope\n"), &rs)
	var de *DefinitionError
	if !errors.As(err, &de) {
		t.Fatalf("error = %v, want *DefinitionError", err)
	}
}
