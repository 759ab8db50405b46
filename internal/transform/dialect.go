package transform

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pitabwire/eapp/model"
)

// attr lists every spelling of one canonical attribute. Carriers name the
// same answer in snake_case ("owner_first_name"), compact camelCase
// ("ownerFirstName") or an abbreviated legacy form ("own_fname"). Builders
// declare the snake_case and legacy spellings; camelCase is derived.
type attr struct {
	snake  []string
	legacy []string
}

// spell declares an attribute by its snake_case spellings, highest priority
// first.
func spell(snake ...string) attr {
	return attr{snake: snake}
}

// or adds legacy spellings, tried after every snake_case and camelCase form.
func (a attr) or(legacy ...string) attr {
	a.legacy = append(append([]string(nil), a.legacy...), legacy...)
	return a
}

// prefer puts key ahead of every other spelling. A blank key is ignored.
func (a attr) prefer(key string) attr {
	if key == "" {
		return a
	}
	a.snake = append([]string{key}, a.snake...)
	return a
}

// keys returns the spellings in resolution order.
func (a attr) keys() []string {
	out := make([]string, 0, 2*len(a.snake)+len(a.legacy))
	out = append(out, a.snake...)
	for _, s := range a.snake {
		if c := camel(s); c != s {
			out = append(out, c)
		}
	}
	return append(out, a.legacy...)
}

// camel converts a snake_case key to compact camelCase.
func camel(s string) string {
	parts := strings.Split(s, "_")
	var b strings.Builder
	b.Grow(len(s))
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 {
			b.WriteString(p)
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

// resolver reads canonical attributes from one answer scope. The first
// spelling holding a present value wins.
type resolver struct {
	answers model.Map
}

func (r resolver) value(a attr) model.Value {
	for _, k := range a.keys() {
		if v := r.answers.Get(k); model.IsPresent(v) {
			return v
		}
	}
	return model.Null{}
}

func (r resolver) text(a attr) string {
	return strings.TrimSpace(model.AsString(r.value(a)))
}

func (r resolver) flag(a attr) bool {
	return model.AsBool(r.value(a))
}

func (r resolver) optionalFlag(a attr) *bool {
	return model.AsOptionalBool(r.value(a))
}

// number returns the attribute as a decimal, or zero. Currency formatting
// such as "$25,000.00" is tolerated.
func (r resolver) number(a attr) decimal.Decimal {
	return toDecimal(r.value(a))
}

func (r resolver) list(a attr) model.List {
	switch v := r.value(a).(type) {
	case model.List:
		return v
	case model.Null:
		return nil
	default:
		return model.List{v}
	}
}

// maps returns the attribute's list items that are maps.
func (r resolver) maps(a attr) []model.Map {
	var out []model.Map
	for _, item := range r.list(a) {
		if m, ok := item.(model.Map); ok {
			out = append(out, m)
		}
	}
	return out
}

func toDecimal(v model.Value) decimal.Decimal {
	if n, ok := model.AsNumber(v); ok {
		return n
	}
	if t, ok := v.(model.Text); ok {
		cleaned := strings.NewReplacer("$", "", ",", "", "%", "", " ", "").Replace(string(t))
		if n, err := decimal.NewFromString(cleaned); err == nil {
			return n
		}
	}
	return decimal.Zero
}

// token normalises a free-form enum answer to snake_case.
func token(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}
