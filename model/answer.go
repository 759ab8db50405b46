package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind identifies the shape of an answer Value.
type Kind int

// Answer value kinds. The set is closed: every Value is exactly one of these.
const (
	KindNull Kind = iota
	KindText
	KindNumber
	KindBool
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindText:
		return "text"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a single answer in an AnswerMap. Implementations are limited to
// Null, Text, Number, Bool, List and Map; consumers switch on the concrete
// type (or on Kind) instead of probing shapes at runtime.
type Value interface {
	Kind() Kind
	value()
}

// Null is an explicit or implied missing answer.
type Null struct{}

// Text is a string answer.
type Text string

// Number is a numeric answer held as an exact decimal so that percentage
// and premium sums never drift.
type Number struct {
	decimal.Decimal
}

// Bool is a boolean answer.
type Bool bool

// List is an ordered sequence. Repeating page instances, repeatable-group
// items and allocation-table rows are Lists of Maps; multi-choice answers are
// Lists of scalars.
type List []Value

// Map is a keyed collection of answers. The top-level AnswerMap, each
// repeating instance and each group item are Maps.
type Map map[string]Value

func (Null) Kind() Kind   { return KindNull }
func (Text) Kind() Kind   { return KindText }
func (Number) Kind() Kind { return KindNumber }
func (Bool) Kind() Kind   { return KindBool }
func (List) Kind() Kind   { return KindList }
func (Map) Kind() Kind    { return KindMap }

func (Null) value()   {}
func (Text) value()   {}
func (Number) value() {}
func (Bool) value()   {}
func (List) value()   {}
func (Map) value()    {}

// NewNumber wraps a decimal as a Number value.
func NewNumber(d decimal.Decimal) Number {
	return Number{Decimal: d}
}

// Int returns a Number for an integer literal.
func Int(n int64) Number {
	return Number{Decimal: decimal.NewFromInt(n)}
}

// Float returns a Number for a float literal.
func Float(f float64) Number {
	return Number{Decimal: decimal.NewFromFloat(f)}
}

// Get returns the value stored under key, or Null when the key is absent.
func (m Map) Get(key string) Value {
	if m == nil {
		return Null{}
	}
	v, ok := m[key]
	if !ok || v == nil {
		return Null{}
	}
	return v
}

// Has reports whether key is present, even if its value is Null.
func (m Map) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// List returns the value under key as a List, or nil.
func (m Map) List(key string) List {
	l, _ := m.Get(key).(List)
	return l
}

// Overlay returns a new Map holding base's entries shadowed by overlay's.
// Neither input is modified.
func Overlay(base, overlay Map) Map {
	out := make(Map, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// IsAbsent applies the presence rule: nil, Null, whitespace-only text and
// empty lists are absent. Everything else, including false and zero, is
// present.
func IsAbsent(v Value) bool {
	switch t := v.(type) {
	case nil, Null:
		return true
	case Text:
		return strings.TrimSpace(string(t)) == ""
	case List:
		return len(t) == 0
	default:
		return false
	}
}

// IsPresent is the negation of IsAbsent.
func IsPresent(v Value) bool {
	return !IsAbsent(v)
}

// AsNumber coerces v to a decimal. Numbers convert directly, text converts
// when it parses as a number after trimming; everything else fails.
func AsNumber(v Value) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case Number:
		return t.Decimal, true
	case Text:
		s := strings.TrimSpace(string(t))
		if s == "" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	default:
		return decimal.Zero, false
	}
}

// AsString renders v in its string form. Null renders as the empty string.
func AsString(v Value) string {
	switch t := v.(type) {
	case nil, Null:
		return ""
	case Text:
		return string(t)
	case Number:
		return t.Decimal.String()
	case Bool:
		if t {
			return "true"
		}
		return "false"
	case List, Map:
		b, err := json.Marshal(ToAny(t))
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return ""
	}
}

// AsBool interprets v as a flag. Text answers "true", "yes", "y" and "1" and
// non-zero numbers count as true.
func AsBool(v Value) bool {
	switch t := v.(type) {
	case Bool:
		return bool(t)
	case Text:
		switch strings.ToLower(strings.TrimSpace(string(t))) {
		case "true", "yes", "y", "1", "on":
			return true
		}
		return false
	case Number:
		return !t.Decimal.IsZero()
	default:
		return false
	}
}

// AsOptionalBool is AsBool for answers that may not have been asked: it
// returns nil when v is absent.
func AsOptionalBool(v Value) *bool {
	if IsAbsent(v) {
		return nil
	}
	b := AsBool(v)
	return &b
}

// LooseEqual compares two answers without regard to representation: when
// both sides coerce to numbers they compare numerically, otherwise their
// string forms are compared. Null only equals Null.
func LooseEqual(a, b Value) bool {
	aNull := a == nil || a.Kind() == KindNull
	bNull := b == nil || b.Kind() == KindNull
	if aNull || bNull {
		return aNull && bNull
	}
	if an, ok := AsNumber(a); ok {
		if bn, ok := AsNumber(b); ok {
			return an.Equal(bn)
		}
	}
	return AsString(a) == AsString(b)
}

// FromAny converts a generic decoded JSON or YAML tree into a Value.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null{}
	case Value:
		return t
	case string:
		return Text(t)
	case bool:
		return Bool(t)
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return Text(t.String())
		}
		return Number{Decimal: d}
	case float64:
		return Float(t)
	case float32:
		return Float(float64(t))
	case int:
		return Int(int64(t))
	case int64:
		return Int(t)
	case int32:
		return Int(int64(t))
	case uint64:
		return Number{Decimal: decimal.NewFromUint64(t)}
	case decimal.Decimal:
		return Number{Decimal: t}
	case []any:
		out := make(List, len(t))
		for i, e := range t {
			out[i] = FromAny(e)
		}
		return out
	case []map[string]any:
		out := make(List, len(t))
		for i, e := range t {
			out[i] = FromAny(e)
		}
		return out
	case []string:
		out := make(List, len(t))
		for i, e := range t {
			out[i] = Text(e)
		}
		return out
	case map[string]any:
		out := make(Map, len(t))
		for k, e := range t {
			out[k] = FromAny(e)
		}
		return out
	case map[any]any:
		out := make(Map, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = FromAny(e)
		}
		return out
	default:
		return Text(fmt.Sprint(t))
	}
}

// ToAny converts a Value back into a generic tree suitable for encoding.
// Numbers become json.Number so they encode without quotes.
func ToAny(v Value) any {
	switch t := v.(type) {
	case nil, Null:
		return nil
	case Text:
		return string(t)
	case Number:
		return json.Number(t.Decimal.String())
	case Bool:
		return bool(t)
	case List:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = ToAny(e)
		}
		return out
	case Map:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = ToAny(e)
		}
		return out
	default:
		return nil
	}
}

// ParseAnswers decodes a JSON object into a Map, keeping numbers exact.
func ParseAnswers(data []byte) (Map, error) {
	var m Map
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = Map{}
	}
	return m, nil
}

// UnmarshalJSON decodes a JSON object into the Map.
func (m *Map) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("answers: %w", err)
	}
	if raw == nil {
		*m = nil
		return nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("answers: expected JSON object, got %T", raw)
	}
	*m = FromAny(obj).(Map)
	return nil
}

// MarshalJSON encodes the Map with sorted keys.
func (m Map) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	return json.Marshal(ToAny(m))
}

// UnmarshalJSON decodes a JSON array into the List.
func (l *List) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	arr, ok := raw.([]any)
	if !ok && raw != nil {
		return fmt.Errorf("answers: expected JSON array, got %T", raw)
	}
	*l = FromAny(arr).(List)
	return nil
}

// MarshalJSON encodes the List.
func (l List) MarshalJSON() ([]byte, error) {
	return json.Marshal(ToAny(l))
}

// MarshalJSON encodes the number without quotes.
func (n Number) MarshalJSON() ([]byte, error) {
	return []byte(n.Decimal.String()), nil
}

// Keys returns the Map's keys in sorted order.
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
