// Package condition evaluates visibility and applicability expressions
// against an answer scope.
package condition

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/pitabwire/eapp/model"
)

// Evaluator evaluates condition trees. It holds no per-call state and is safe
// for concurrent use.
type Evaluator struct {
	logger *zap.Logger
}

// NewEvaluator creates an Evaluator. A nil logger discards output.
func NewEvaluator(logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{logger: logger}
}

// Visible evaluates an optional expression. The zero Expression is visible.
func (e *Evaluator) Visible(expr model.Expression, scope model.Map) bool {
	return e.Evaluate(expr.Condition, scope)
}

// Evaluate returns the truth of c against scope. A nil condition is true.
// It panics with a *model.DefinitionError on a malformed tree, which loading
// is expected to have rejected.
func (e *Evaluator) Evaluate(c model.Condition, scope model.Map) bool {
	switch t := c.(type) {
	case nil:
		return true
	case *model.LeafCondition:
		return e.leaf(t, scope)
	case *model.CompoundCondition:
		return e.compound(t, scope)
	default:
		panic(&model.DefinitionError{Path: "condition", Message: fmt.Sprintf("unsupported condition %T", c)})
	}
}

func (e *Evaluator) compound(c *model.CompoundCondition, scope model.Map) bool {
	switch c.Logic {
	case model.LogicAnd:
		for _, child := range c.Conditions {
			if !e.Evaluate(child, scope) {
				return false
			}
		}
		return true
	case model.LogicOr:
		for _, child := range c.Conditions {
			if e.Evaluate(child, scope) {
				return true
			}
		}
		return false
	case model.LogicNot:
		if len(c.Conditions) != 1 {
			panic(&model.DefinitionError{
				Path:    "condition",
				Message: fmt.Sprintf("NOT takes exactly one condition, got %d", len(c.Conditions)),
			})
		}
		return !e.Evaluate(c.Conditions[0], scope)
	default:
		panic(&model.DefinitionError{Path: "condition", Message: fmt.Sprintf("unknown logic %q", c.Logic)})
	}
}

func (e *Evaluator) leaf(c *model.LeafCondition, scope model.Map) bool {
	left := scope.Get(c.Field)
	var right model.Value = model.Null{}
	switch {
	case c.RefField != "":
		right = scope.Get(c.RefField)
	case c.Value != nil:
		right = c.Value
	}
	return e.compare(c.Operator, c.Field, left, right)
}

// Compare applies a leaf operator to two operands.
func (e *Evaluator) Compare(op model.Operator, left, right model.Value) bool {
	return e.compare(op, "", left, right)
}

func (e *Evaluator) compare(op model.Operator, field string, left, right model.Value) bool {
	switch op {
	case model.OpEq:
		return model.LooseEqual(left, right)
	case model.OpNeq:
		return !model.LooseEqual(left, right)
	case model.OpGt, model.OpGte, model.OpLt, model.OpLte:
		l, lok := model.AsNumber(left)
		r, rok := model.AsNumber(right)
		if !lok || !rok {
			// Ordering on non-numeric data is skipped so malformed answers never
			// hide a page or question.
			return true
		}
		return ordered(op, l.Cmp(r))
	case model.OpIn:
		list, ok := right.(model.List)
		if !ok {
			return false
		}
		return memberOf(left, list)
	case model.OpNotIn:
		list, ok := right.(model.List)
		if !ok {
			return false
		}
		return !memberOf(left, list)
	case model.OpContains:
		list, ok := left.(model.List)
		if !ok {
			return false
		}
		return containsItem(list, right)
	case model.OpMinItems, model.OpMaxItems:
		n, ok := model.AsNumber(right)
		if !ok {
			return true
		}
		count := decimal.NewFromInt(int64(itemCount(left)))
		if op == model.OpMinItems {
			return count.GreaterThanOrEqual(n)
		}
		return count.LessThanOrEqual(n)
	default:
		// Unknown operators fail open so a definition authored against a newer
		// engine never blocks the flow. Logged so the operator can be migrated.
		e.logger.Warn("condition: unknown operator",
			zap.String("operator", string(op)),
			zap.String("field", field),
		)
		return true
	}
}

func ordered(op model.Operator, cmp int) bool {
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
}

// memberOf reports whether v is in list. A multi-choice answer is a member
// when any of its selections is.
func memberOf(v model.Value, list model.List) bool {
	if selections, ok := v.(model.List); ok {
		for _, s := range selections {
			if memberOf(s, list) {
				return true
			}
		}
		return false
	}
	for _, item := range list {
		if model.LooseEqual(v, item) {
			return true
		}
	}
	return false
}

// containsItem matches scalars exactly and allocation-table rows by their
// fund_id or id.
func containsItem(list model.List, want model.Value) bool {
	for _, item := range list {
		if row, ok := item.(model.Map); ok {
			for _, key := range []string{"fund_id", "id"} {
				id := row.Get(key)
				if model.IsPresent(id) && model.AsString(id) == model.AsString(want) {
					return true
				}
			}
			continue
		}
		if exactEqual(item, want) {
			return true
		}
	}
	return false
}

func exactEqual(a, b model.Value) bool {
	switch at := a.(type) {
	case model.Text:
		bt, ok := b.(model.Text)
		return ok && at == bt
	case model.Bool:
		bt, ok := b.(model.Bool)
		return ok && at == bt
	case model.Number:
		bt, ok := b.(model.Number)
		return ok && at.Equal(bt.Decimal)
	case model.Null:
		_, ok := b.(model.Null)
		return ok
	default:
		return false
	}
}

func itemCount(v model.Value) int {
	if l, ok := v.(model.List); ok {
		return len(l)
	}
	return 0
}
