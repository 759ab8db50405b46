// Package validation checks an answer map against an application definition
// and reports every violation in one pass.
package validation

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/pitabwire/eapp/internal/condition"
	"github.com/pitabwire/eapp/model"
)

// Scope selects how much of a definition a pass covers.
type Scope int

const (
	// ScopeFull validates every page.
	ScopeFull Scope = iota
	// ScopePage validates only the named page.
	ScopePage
)

// Engine validates answers. It holds no per-call state.
type Engine struct {
	evaluator *condition.Evaluator
	now       func() time.Time
	location  *time.Location
	target    decimal.Decimal
	logger    *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the clock used to resolve "today".
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLocation sets the timezone whose calendar date counts as "today".
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.location = loc }
}

// WithAllocationTarget sets the total an allocation table must reach when
// neither the question nor its rule names one.
func WithAllocationTarget(target decimal.Decimal) Option {
	return func(e *Engine) { e.target = target }
}

// WithLogger sets the engine's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates an Engine that uses evaluator for visibility.
func NewEngine(evaluator *condition.Evaluator, opts ...Option) *Engine {
	e := &Engine{
		evaluator: evaluator,
		now:       time.Now,
		location:  time.UTC,
		target:    model.DefaultAllocationTarget,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.evaluator == nil {
		e.evaluator = condition.NewEvaluator(e.logger)
	}
	return e
}

// pass is the state of one Validate call.
type pass struct {
	engine *Engine
	today  time.Time
	errs   []model.ValidationError
}

// Validate checks answers against def. With ScopePage only the page named by
// pageID is checked.
func (e *Engine) Validate(def *model.ApplicationDefinition, answers model.Map, scope Scope, pageID string) model.Result {
	p := &pass{engine: e, today: dayOf(e.now().In(e.location))}
	if answers == nil {
		answers = model.Map{}
	}
	for i := range def.Pages {
		page := &def.Pages[i]
		if scope == ScopePage && page.ID != pageID {
			continue
		}
		p.page(page, answers)
	}
	e.logger.Debug("validation pass complete",
		zap.String("definition_id", def.ID),
		zap.String("page_id", pageID),
		zap.Int("errors", len(p.errs)),
	)
	return model.NewResult(p.errs)
}

func (p *pass) add(err model.ValidationError) {
	p.errs = append(p.errs, err)
}

func (p *pass) visible(expr model.Expression, scope model.Map) bool {
	return p.engine.evaluator.Visible(expr, scope)
}

func (p *pass) page(page *model.Page, answers model.Map) {
	if !p.visible(page.Visibility, answers) {
		return
	}
	if page.Repeat != nil {
		recorded := answers.List(page.InstancesKey())
		limit := page.Repeat.InstanceLimit()
		count := instanceCount(page.Repeat, answers, len(recorded), limit)
		if count > limit {
			p.add(model.ValidationError{
				QuestionID: page.Repeat.CountField,
				Rule:       model.RuleMax,
				Message:    fmt.Sprintf("At most %d allowed", limit),
			})
			count = 0
		}
		for i := 0; i < count; i++ {
			var local model.Map
			if i < len(recorded) {
				local, _ = recorded[i].(model.Map)
			}
			// Missing instances are validated as empty so their required
			// fields still report.
			scope := model.Overlay(answers, local)
			p.questions(page, scope, model.IntPtr(i))
		}
	} else {
		p.questions(page, answers, nil)
		p.groupValidations(page, answers)
	}
	p.disclosures(page, answers)
}

// instanceCount is the expected instance count when the count answer is
// numeric, otherwise the number of recorded instances. Anything above limit
// comes back as limit+1.
func instanceCount(repeat *model.PageRepeat, answers model.Map, recorded, limit int) int {
	n, ok := model.AsNumber(answers.Get(repeat.CountField))
	switch {
	case !ok:
		return min(recorded, limit+1)
	case n.IsNegative():
		return 0
	case n.GreaterThan(decimal.NewFromInt(int64(limit))):
		return limit + 1
	default:
		return int(n.IntPart())
	}
}

func (p *pass) questions(page *model.Page, scope model.Map, instance *int) {
	for i := range page.Questions {
		q := &page.Questions[i]
		if !p.visible(q.Visibility, scope) {
			continue
		}
		switch q.Type {
		case model.QuestionRepeatableGroup:
			p.repeatableGroup(q, scope, instance)
		case model.QuestionAllocationTable:
			p.allocationTable(q, scope, instance)
		default:
			p.field(q, scope, instance)
		}
	}
}

func (p *pass) field(q *model.Question, scope model.Map, instance *int) {
	answer := scope.Get(q.ID)
	rules := q.Validations
	if q.Required && !rules.Has(model.RuleRequired) {
		rules = append(model.Rules{model.RequiredRule{}}, rules...)
	}
	for _, rule := range rules {
		if msg := p.evaluateRule(rule, answer, scope); msg != "" {
			p.add(model.ValidationError{QuestionID: q.ID, Instance: instance, Rule: rule.Type(), Message: msg})
		}
	}
}

func (p *pass) repeatableGroup(q *model.Question, scope model.Map, instance *int) {
	items := scope.List(q.ID)
	cfg := q.Group
	if cfg == nil {
		cfg = &model.GroupConfig{}
	}
	if q.IsRequired() && cfg.MinItems > 0 && len(items) < cfg.MinItems {
		msg := fmt.Sprintf("At least %d required", cfg.MinItems)
		for _, r := range q.Validations {
			if r.Type() == model.RuleRequired && r.Override() != "" {
				msg = r.Override()
			}
		}
		p.add(model.ValidationError{QuestionID: q.ID, Instance: instance, Rule: model.RuleRequired, Message: msg})
	}

	for idx, raw := range items {
		item, _ := raw.(model.Map)
		if item == nil {
			item = model.Map{}
		}
		for _, f := range cfg.Fields {
			value := item.Get(f.ID)
			rules := f.Validations
			if f.Required && !rules.Has(model.RuleRequired) {
				rules = append(model.Rules{model.RequiredRule{}}, rules...)
			}
			for _, rule := range rules {
				// Cross-field references inside a group resolve within the item.
				if msg := p.evaluateRule(rule, value, item); msg != "" {
					p.add(model.ValidationError{
						QuestionID: q.ID,
						Instance:   instance,
						Item:       model.IntPtr(idx),
						FieldID:    f.ID,
						Rule:       rule.Type(),
						Message:    msg,
					})
				}
			}
		}
	}
}

func (p *pass) allocationTable(q *model.Question, scope model.Map, instance *int) {
	answer := scope.Get(q.ID)
	if q.IsRequired() && model.IsAbsent(answer) {
		msg := msgRequired
		for _, r := range q.Validations {
			if r.Type() == model.RuleRequired && r.Override() != "" {
				msg = r.Override()
			}
		}
		p.add(model.ValidationError{QuestionID: q.ID, Instance: instance, Rule: model.RuleRequired, Message: msg})
		return
	}
	for _, rule := range q.Validations {
		switch r := rule.(type) {
		case model.RequiredRule:
		case model.AllocationSumRule:
			if model.IsAbsent(answer) {
				continue
			}
			target := p.engine.target
			if q.Allocation != nil && q.Allocation.Target != nil {
				target = *q.Allocation.Target
			}
			if r.Target != nil {
				target = *r.Target
			}
			total := sumField(answer, "percentage", nil)
			if !total.Equal(target) {
				msg := r.Override()
				if msg == "" {
					msg = fmt.Sprintf("Allocations must total %s%% (currently %s%%)", target.String(), total.String())
				}
				p.add(model.ValidationError{QuestionID: q.ID, Instance: instance, Rule: model.RuleAllocationSum, Message: msg})
			}
		default:
			if msg := p.evaluateRule(rule, answer, scope); msg != "" {
				p.add(model.ValidationError{QuestionID: q.ID, Instance: instance, Rule: rule.Type(), Message: msg})
			}
		}
	}
}

func sumField(list model.Value, field string, filter *model.GroupFilter) decimal.Decimal {
	total, _ := sumMatching(list, field, filter)
	return total
}

// sumMatching totals field across the list items matching filter and
// reports how many matched. Non-numeric values count as zero.
func sumMatching(list model.Value, field string, filter *model.GroupFilter) (decimal.Decimal, int) {
	items, _ := list.(model.List)
	total := decimal.Zero
	matched := 0
	for _, raw := range items {
		item, ok := raw.(model.Map)
		if !ok {
			continue
		}
		if filter != nil && !model.LooseEqual(item.Get(filter.Field), model.Text(filter.Value)) {
			continue
		}
		matched++
		if n, ok := model.AsNumber(item.Get(field)); ok {
			total = total.Add(n)
		}
	}
	return total, matched
}

func (p *pass) groupValidations(page *model.Page, answers model.Map) {
	for i := range page.GroupValidations {
		gv := &page.GroupValidations[i]
		total, matched := sumMatching(answers.Get(gv.Group), gv.Field, gv.Filter)
		if matched == 0 {
			// Nothing to aggregate; an empty group is the required rule's concern.
			continue
		}
		var ok bool
		switch gv.Operator {
		case "", model.OpEq:
			ok = total.Equal(gv.Target)
		case model.OpLte:
			ok = total.LessThanOrEqual(gv.Target)
		case model.OpGte:
			ok = total.GreaterThanOrEqual(gv.Target)
		default:
			ok = p.engine.evaluator.Compare(gv.Operator, model.NewNumber(total), model.NewNumber(gv.Target))
		}
		if ok {
			continue
		}
		msg := gv.Message
		if msg == "" {
			msg = fmt.Sprintf("Total %s must be %s %s (currently %s)",
				gv.Field, operatorPhrase(orDefault(gv.Operator)), gv.Target.String(), total.String())
		}
		id := gv.ID
		if id == "" {
			id = gv.Group
		}
		p.add(model.ValidationError{
			QuestionID: id,
			FieldID:    gv.Field,
			Filter:     gv.Filter,
			Rule:       model.RuleGroupSum,
			Message:    msg,
		})
	}
}

func orDefault(op model.Operator) model.Operator {
	if op == "" {
		return model.OpEq
	}
	return op
}

func (p *pass) disclosures(page *model.Page, answers model.Map) {
	for i := range page.Disclosures {
		d := &page.Disclosures[i]
		if !p.visible(d.Visibility, answers) {
			continue
		}
		ack := answers.Get(d.Acknowledgment.FieldID)
		if model.IsPresent(ack) && ack != model.Bool(false) {
			continue
		}
		label := d.Acknowledgment.Label
		if label == "" {
			label = d.Title
		}
		p.add(model.ValidationError{
			QuestionID: d.Acknowledgment.FieldID,
			Rule:       model.RuleRequired,
			Message:    fmt.Sprintf("Please acknowledge: %s", label),
		})
	}
}
