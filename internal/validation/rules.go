package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/pitabwire/eapp/model"
)

const (
	msgRequired     = "This field is required"
	msgInvalidRegex = "Invalid format"
	msgInvalidDate  = "Enter a valid date"
	msgNotToday     = "Date must be today"
)

// evaluateRule applies one rule to an answer and returns the failure
// message, or "" when the rule passes. scope resolves cross-field
// references.
func (p *pass) evaluateRule(rule model.ValidationRule, answer model.Value, scope model.Map) string {
	fail := func(format string, args ...any) string {
		if o := rule.Override(); o != "" {
			return o
		}
		return fmt.Sprintf(format, args...)
	}

	if _, ok := rule.(model.RequiredRule); ok {
		if model.IsAbsent(answer) {
			return fail(msgRequired)
		}
		return ""
	}
	// Absence belongs to the required rule alone.
	if model.IsAbsent(answer) {
		return ""
	}

	switch r := rule.(type) {
	case model.MinRule:
		n, ok := model.AsNumber(answer)
		if !ok || n.LessThan(r.Value) {
			return fail("Must be at least %s", r.Value.String())
		}
	case model.MaxRule:
		n, ok := model.AsNumber(answer)
		if !ok || n.GreaterThan(r.Value) {
			return fail("Must be at most %s", r.Value.String())
		}
	case model.MinLengthRule:
		if utf8.RuneCountInString(model.AsString(answer)) < r.Value {
			return fail("Must be at least %d characters", r.Value)
		}
	case model.MaxLengthRule:
		if utf8.RuneCountInString(model.AsString(answer)) > r.Value {
			return fail("Must be at most %d characters", r.Value)
		}
	case model.PatternRule:
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return msgInvalidRegex
		}
		if !re.MatchString(model.AsString(answer)) {
			return fail(msgInvalidRegex)
		}
	case model.MinDateRule:
		return p.dateBound(rule, r.Bound, answer, -1)
	case model.MaxDateRule:
		return p.dateBound(rule, r.Bound, answer, 1)
	case model.EqualsRule:
		if !model.LooseEqual(answer, r.Value) {
			return fail("Must equal %s", model.AsString(r.Value))
		}
	case model.EqualsTodayRule:
		d, ok := model.ParseDay(model.AsString(answer))
		if !ok || !d.Equal(p.today) {
			return fail(msgNotToday)
		}
	case model.CrossFieldRule:
		other := scope.Get(r.Field)
		if model.IsAbsent(other) {
			return ""
		}
		if !p.crossCompare(r.Operator, answer, other) {
			return fail("Must be %s %s", operatorPhrase(r.Operator), r.Field)
		}
	case model.AllocationSumRule:
		// Handled by the allocation-table dispatch, which knows the rows.
	case model.AsyncRule:
		// Deferred to the caller's out-of-band check.
	default:
		panic(&model.DefinitionError{Path: "validations", Message: fmt.Sprintf("unsupported rule %T", rule)})
	}
	return ""
}

// dateBound fails when the answer falls on the wrong side of bound. side is
// -1 for a lower bound and 1 for an upper bound.
func (p *pass) dateBound(rule model.ValidationRule, bound string, answer model.Value, side int) string {
	limit, ok := resolveBound(bound, p.today)
	if !ok {
		return ""
	}
	d, ok := model.ParseDay(model.AsString(answer))
	if !ok {
		if o := rule.Override(); o != "" {
			return o
		}
		return msgInvalidDate
	}
	if (side < 0 && d.Before(limit)) || (side > 0 && d.After(limit)) {
		if o := rule.Override(); o != "" {
			return o
		}
		if side < 0 {
			return fmt.Sprintf("Date must be on or after %s", limit.Format(model.DayLayout))
		}
		return fmt.Sprintf("Date must be on or before %s", limit.Format(model.DayLayout))
	}
	return ""
}

// crossCompare uses the condition operators but, unlike visibility, compares
// non-numeric operands by their raw form, so ISO dates order correctly.
func (p *pass) crossCompare(op model.Operator, left, right model.Value) bool {
	switch op {
	case model.OpGt, model.OpGte, model.OpLt, model.OpLte:
		l, lok := model.AsNumber(left)
		r, rok := model.AsNumber(right)
		var cmp int
		if lok && rok {
			cmp = l.Cmp(r)
		} else {
			cmp = strings.Compare(model.AsString(left), model.AsString(right))
		}
		switch op {
		case model.OpGt:
			return cmp > 0
		case model.OpGte:
			return cmp >= 0
		case model.OpLt:
			return cmp < 0
		default:
			return cmp <= 0
		}
	default:
		return p.engine.evaluator.Compare(op, left, right)
	}
}

func operatorPhrase(op model.Operator) string {
	switch op {
	case model.OpEq:
		return "equal to"
	case model.OpNeq:
		return "different from"
	case model.OpGt:
		return "greater than"
	case model.OpGte:
		return "at least"
	case model.OpLt:
		return "less than"
	case model.OpLte:
		return "at most"
	default:
		return string(op)
	}
}
