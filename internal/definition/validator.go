package definition

import (
	"fmt"
	"regexp"

	"github.com/pitabwire/eapp/model"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator validates definitions structurally and referentially. A
// definition that passes cannot make the evaluators panic.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks all definitions.
func (v *Validator) Validate(defs []model.ApplicationDefinition) []VError {
	var errs []VError
	products := make(map[string]string, len(defs))
	for i := range defs {
		def := &defs[i]
		prefix := fmt.Sprintf("definitions[%d]", i)
		if def.ProductID != "" {
			if other, dup := products[def.ProductID]; dup {
				errs = append(errs, VError{
					Path:    prefix + ".product_id",
					Code:    "DUPLICATE",
					Message: fmt.Sprintf("product %q is also defined in %s", def.ProductID, other),
				})
			}
			products[def.ProductID] = def.SourceFile
		}
		errs = append(errs, v.validateApplication(prefix, def)...)
	}
	return errs
}

func (v *Validator) validateApplication(prefix string, def *model.ApplicationDefinition) []VError {
	var errs []VError

	if def.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if def.ProductID == "" {
		errs = append(errs, VError{Path: prefix + ".product_id", Code: "REQUIRED", Message: "product_id is required"})
	}
	if def.Version == "" {
		errs = append(errs, VError{Path: prefix + ".version", Code: "REQUIRED", Message: "version is required"})
	}
	if len(def.Pages) == 0 {
		errs = append(errs, VError{Path: prefix + ".pages", Code: "REQUIRED", Message: "at least one page is required"})
	}

	funds := make(map[string]bool, len(def.Funds))
	for i, f := range def.Funds {
		fp := fmt.Sprintf("%s.funds[%d]", prefix, i)
		if f.ID == "" {
			errs = append(errs, VError{Path: fp + ".id", Code: "REQUIRED", Message: "fund id is required"})
			continue
		}
		if funds[f.ID] {
			errs = append(errs, VError{Path: fp + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("fund %q is declared twice", f.ID)})
		}
		funds[f.ID] = true
	}

	pageIDs := make(map[string]bool, len(def.Pages))
	for i := range def.Pages {
		p := &def.Pages[i]
		pp := fmt.Sprintf("%s.pages[%d]", prefix, i)
		if p.ID != "" {
			if pageIDs[p.ID] {
				errs = append(errs, VError{Path: pp + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("page %q is declared twice", p.ID)})
			}
			pageIDs[p.ID] = true
		}
		errs = append(errs, v.validatePage(pp, p, funds)...)
	}

	return errs
}

func (v *Validator) validatePage(prefix string, p *model.Page, funds map[string]bool) []VError {
	var errs []VError

	if p.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	errs = append(errs, validateCondition(prefix+".visibility", p.Visibility.Condition)...)

	if p.Repeat != nil && p.Repeat.CountField == "" {
		errs = append(errs, VError{Path: prefix + ".page_repeat.count_field", Code: "REQUIRED", Message: "count_field is required for repeating pages"})
	}
	if p.Repeat != nil && p.Repeat.MaxInstances < 0 {
		errs = append(errs, VError{Path: prefix + ".page_repeat.max_instances", Code: "INVALID", Message: "max_instances must not be negative"})
	}

	groups := make(map[string]*model.Question)
	questionIDs := make(map[string]bool, len(p.Questions))
	for i := range p.Questions {
		q := &p.Questions[i]
		qp := fmt.Sprintf("%s.questions[%d]", prefix, i)
		if q.ID != "" {
			if questionIDs[q.ID] {
				errs = append(errs, VError{Path: qp + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("question %q is declared twice on the page", q.ID)})
			}
			questionIDs[q.ID] = true
		}
		if q.Type == model.QuestionRepeatableGroup {
			groups[q.ID] = q
		}
		errs = append(errs, v.validateQuestion(qp, q, funds)...)
	}

	for i, gv := range p.GroupValidations {
		gp := fmt.Sprintf("%s.group_validations[%d]", prefix, i)
		if gv.ID == "" {
			errs = append(errs, VError{Path: gp + ".id", Code: "REQUIRED", Message: "id is required"})
		}
		if gv.Field == "" {
			errs = append(errs, VError{Path: gp + ".field", Code: "REQUIRED", Message: "field is required"})
		}
		if p.Repeat != nil {
			errs = append(errs, VError{Path: gp, Code: "UNSUPPORTED", Message: "group validations are not evaluated on repeating pages"})
		}
		if _, ok := groups[gv.Group]; !ok {
			errs = append(errs, VError{
				Path:    gp + ".group",
				Code:    "REF_NOT_FOUND",
				Message: fmt.Sprintf("repeatable group %q not found on page", gv.Group),
			})
		}
		if gv.Operator != "" && !model.KnownOperators[gv.Operator] {
			errs = append(errs, VError{Path: gp + ".operator", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid operator %q", gv.Operator)})
		}
		if gv.Filter != nil && gv.Filter.Field == "" {
			errs = append(errs, VError{Path: gp + ".filter.field", Code: "REQUIRED", Message: "filter field is required"})
		}
	}

	for i, d := range p.Disclosures {
		dp := fmt.Sprintf("%s.disclosures[%d]", prefix, i)
		if d.ID == "" {
			errs = append(errs, VError{Path: dp + ".id", Code: "REQUIRED", Message: "id is required"})
		}
		if d.Acknowledgment.FieldID == "" {
			errs = append(errs, VError{Path: dp + ".acknowledgment.field_id", Code: "REQUIRED", Message: "acknowledgment field_id is required"})
		}
		errs = append(errs, validateCondition(dp+".visibility", d.Visibility.Condition)...)
	}

	return errs
}

func (v *Validator) validateQuestion(prefix string, q *model.Question, funds map[string]bool) []VError {
	var errs []VError

	if q.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if q.Type == "" {
		errs = append(errs, VError{Path: prefix + ".type", Code: "REQUIRED", Message: "type is required"})
	} else if !model.QuestionTypes[q.Type] {
		errs = append(errs, VError{Path: prefix + ".type", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid question type %q", q.Type)})
	}
	errs = append(errs, validateCondition(prefix+".visibility", q.Visibility.Condition)...)
	errs = append(errs, validateRules(prefix+".validations", q.Validations)...)

	switch q.Type {
	case model.QuestionRepeatableGroup:
		if q.Group == nil || len(q.Group.Fields) == 0 {
			errs = append(errs, VError{Path: prefix + ".group.fields", Code: "REQUIRED", Message: "repeatable groups need at least one field"})
			break
		}
		if q.Group.MinItems < 0 {
			errs = append(errs, VError{Path: prefix + ".group.min_items", Code: "RANGE", Message: "min_items must not be negative"})
		}
		for i, f := range q.Group.Fields {
			fp := fmt.Sprintf("%s.group.fields[%d]", prefix, i)
			if f.ID == "" {
				errs = append(errs, VError{Path: fp + ".id", Code: "REQUIRED", Message: "id is required"})
			}
			errs = append(errs, validateRules(fp+".validations", f.Validations)...)
		}
	case model.QuestionAllocationTable:
		if q.Allocation == nil {
			break
		}
		for i, id := range q.Allocation.Funds {
			if !funds[id] {
				errs = append(errs, VError{
					Path:    fmt.Sprintf("%s.allocation.funds[%d]", prefix, i),
					Code:    "REF_NOT_FOUND",
					Message: fmt.Sprintf("fund %q not found in catalog", id),
				})
			}
		}
	}

	return errs
}

func validateRules(prefix string, rules model.Rules) []VError {
	var errs []VError
	for i, r := range rules {
		rp := fmt.Sprintf("%s[%d]", prefix, i)
		switch t := r.(type) {
		case model.PatternRule:
			if _, err := regexp.Compile(t.Pattern); err != nil {
				errs = append(errs, VError{Path: rp + ".value", Code: "INVALID_PATTERN", Message: err.Error()})
			}
		case model.CrossFieldRule:
			if t.Field == "" {
				errs = append(errs, VError{Path: rp + ".field", Code: "REQUIRED", Message: "cross_field rules must name a field"})
			}
			if !model.KnownOperators[t.Operator] {
				errs = append(errs, VError{Path: rp + ".operator", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid operator %q", t.Operator)})
			}
		case model.MinDateRule:
			if t.Bound == "" {
				errs = append(errs, VError{Path: rp + ".value", Code: "REQUIRED", Message: "min_date needs a bound"})
			}
		case model.MaxDateRule:
			if t.Bound == "" {
				errs = append(errs, VError{Path: rp + ".value", Code: "REQUIRED", Message: "max_date needs a bound"})
			}
		case model.AsyncRule:
			if t.Name == "" {
				errs = append(errs, VError{Path: rp + ".value", Code: "REQUIRED", Message: "async rules must name their check"})
			}
		}
	}
	return errs
}

// validateCondition checks the shape of a condition tree. Unknown leaf
// operators are allowed through; they evaluate permissively at runtime.
func validateCondition(path string, c model.Condition) []VError {
	switch t := c.(type) {
	case nil:
		return nil
	case *model.LeafCondition:
		if t.Field == "" {
			return []VError{{Path: path + ".field", Code: "REQUIRED", Message: "condition field is required"}}
		}
		return nil
	case *model.CompoundCondition:
		var errs []VError
		switch t.Logic {
		case model.LogicAnd, model.LogicOr:
		case model.LogicNot:
			if len(t.Conditions) != 1 {
				errs = append(errs, VError{
					Path:    path + ".conditions",
					Code:    "ARITY",
					Message: fmt.Sprintf("NOT takes exactly one condition, got %d", len(t.Conditions)),
				})
			}
		default:
			errs = append(errs, VError{Path: path + ".logic", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid logic %q", t.Logic)})
		}
		for i, child := range t.Conditions {
			errs = append(errs, validateCondition(fmt.Sprintf("%s.conditions[%d]", path, i), child)...)
		}
		return errs
	default:
		return []VError{{Path: path, Code: "INVALID", Message: fmt.Sprintf("unsupported condition %T", c)}}
	}
}
