package model

import "github.com/shopspring/decimal"

// ApplicationDefinition is the root structure of a definition file. Each
// file declares one product's pages, questions, disclosures and fund
// catalog. A definition is read-only once loaded.
type ApplicationDefinition struct {
	ID             string                    `yaml:"id"              json:"id"`
	ProductID      string                    `yaml:"product_id"      json:"product_id"`
	ProductName    string                    `yaml:"product_name"    json:"product_name"`
	CarrierID      string                    `yaml:"carrier_id"      json:"carrier_id"`
	Version        string                    `yaml:"version"         json:"version"`
	PlanType       string                    `yaml:"plan_type"       json:"plan_type,omitempty"`
	Funds          []Fund                    `yaml:"funds"           json:"funds,omitempty"`
	FundingMethods []FundingMethodDefinition `yaml:"funding_methods" json:"funding_methods,omitempty"`
	Pages          []Page                    `yaml:"pages"           json:"pages"`

	// Checksum is computed at load time and not part of the YAML.
	Checksum string `yaml:"-" json:"-"`
	// SourceFile records the originating file path.
	SourceFile string `yaml:"-" json:"-"`
}

// Page is one wizard step.
type Page struct {
	ID               string            `yaml:"id"                json:"id"`
	Title            string            `yaml:"title"             json:"title"`
	Visibility       Expression        `yaml:"visibility"        json:"visibility,omitempty"`
	Repeat           *PageRepeat       `yaml:"page_repeat"       json:"page_repeat,omitempty"`
	Questions        []Question        `yaml:"questions"         json:"questions"`
	GroupValidations []GroupValidation `yaml:"group_validations" json:"group_validations,omitempty"`
	Disclosures      []Disclosure      `yaml:"disclosures"       json:"disclosures,omitempty"`
}

// DefaultMaxInstances bounds a repeating page that sets no max_instances.
const DefaultMaxInstances = 25

// PageRepeat marks a page as instance-repeating. CountField names the numeric
// answer holding the expected number of instances; InstancesField names the
// answer holding the list of instance maps and defaults to the page id.
type PageRepeat struct {
	CountField     string `yaml:"count_field"     json:"count_field"`
	InstancesField string `yaml:"instances_field" json:"instances_field,omitempty"`
	MaxInstances   int    `yaml:"max_instances"   json:"max_instances,omitempty"`
}

// InstanceLimit is the most instances an applicant may declare.
func (r *PageRepeat) InstanceLimit() int {
	if r.MaxInstances > 0 {
		return r.MaxInstances
	}
	return DefaultMaxInstances
}

// InstancesKey returns the answer key holding a repeating page's instances.
func (p *Page) InstancesKey() string {
	if p.Repeat != nil && p.Repeat.InstancesField != "" {
		return p.Repeat.InstancesField
	}
	return p.ID
}

// QuestionType is the question's input kind.
type QuestionType string

// Question types.
const (
	QuestionShortText       QuestionType = "short_text"
	QuestionLongText        QuestionType = "long_text"
	QuestionNumber          QuestionType = "number"
	QuestionCurrency        QuestionType = "currency"
	QuestionDate            QuestionType = "date"
	QuestionBoolean         QuestionType = "boolean"
	QuestionChoice          QuestionType = "choice"
	QuestionMultiChoice     QuestionType = "multi_choice"
	QuestionEmail           QuestionType = "email"
	QuestionPhone           QuestionType = "phone"
	QuestionSSN             QuestionType = "ssn"
	QuestionRepeatableGroup QuestionType = "repeatable_group"
	QuestionAllocationTable QuestionType = "allocation_table"
	QuestionSignature       QuestionType = "signature"
)

// QuestionTypes is the set of recognised question types.
var QuestionTypes = map[QuestionType]bool{
	QuestionShortText: true, QuestionLongText: true, QuestionNumber: true,
	QuestionCurrency: true, QuestionDate: true, QuestionBoolean: true,
	QuestionChoice: true, QuestionMultiChoice: true, QuestionEmail: true,
	QuestionPhone: true, QuestionSSN: true, QuestionRepeatableGroup: true,
	QuestionAllocationTable: true, QuestionSignature: true,
}

// Question is one answer slot on a page.
type Question struct {
	ID          string            `yaml:"id"          json:"id"`
	Type        QuestionType      `yaml:"type"        json:"type"`
	Label       string            `yaml:"label"       json:"label"`
	Required    bool              `yaml:"required"    json:"required,omitempty"`
	Options     []Option          `yaml:"options"     json:"options,omitempty"`
	Visibility  Expression        `yaml:"visibility"  json:"visibility,omitempty"`
	Validations Rules             `yaml:"validations" json:"validations,omitempty"`
	Group       *GroupConfig      `yaml:"group"       json:"group,omitempty"`
	Allocation  *AllocationConfig `yaml:"allocation"  json:"allocation,omitempty"`
}

// IsRequired reports whether the question is required, either by flag or by
// a declared required rule.
func (q *Question) IsRequired() bool {
	return q.Required || q.Validations.Has(RuleRequired)
}

// Option is a label/value pair for choice questions.
type Option struct {
	Label string `yaml:"label" json:"label"`
	Value string `yaml:"value" json:"value"`
}

// GroupConfig configures a repeatable-group question.
type GroupConfig struct {
	Fields   []GroupField `yaml:"fields"    json:"fields"`
	MinItems int          `yaml:"min_items" json:"min_items,omitempty"`
}

// GroupField is one field inside each repeatable-group item.
type GroupField struct {
	ID          string       `yaml:"id"          json:"id"`
	Type        QuestionType `yaml:"type"        json:"type"`
	Label       string       `yaml:"label"       json:"label"`
	Required    bool         `yaml:"required"    json:"required,omitempty"`
	Validations Rules        `yaml:"validations" json:"validations,omitempty"`
}

// AllocationConfig configures an allocation-table question. Funds lists the
// permissible fund ids from the definition's catalog.
type AllocationConfig struct {
	Funds  []string         `yaml:"funds"  json:"funds"`
	Target *decimal.Decimal `yaml:"target" json:"target,omitempty"`
}

// TargetOrDefault returns the configured target or 100.
func (a *AllocationConfig) TargetOrDefault() decimal.Decimal {
	if a == nil || a.Target == nil {
		return DefaultAllocationTarget
	}
	return *a.Target
}

// GroupValidation is a page-scoped aggregate over a repeatable-group answer:
// Field is summed across the items of Group matching Filter, and the sum is
// compared to Target with Operator (eq when empty).
type GroupValidation struct {
	ID       string          `yaml:"id"       json:"id"`
	Group    string          `yaml:"group"    json:"group"`
	Field    string          `yaml:"field"    json:"field"`
	Filter   *GroupFilter    `yaml:"filter"   json:"filter,omitempty"`
	Operator Operator        `yaml:"operator" json:"operator,omitempty"`
	Target   decimal.Decimal `yaml:"target"   json:"target"`
	Message  string          `yaml:"message"  json:"message,omitempty"`
}

// GroupFilter selects the group items whose Field loosely equals Value.
type GroupFilter struct {
	Field string `yaml:"field" json:"field"`
	Value string `yaml:"value" json:"value"`
}

// Disclosure is a block of regulatory text the applicant must acknowledge
// when it is visible.
type Disclosure struct {
	ID             string         `yaml:"id"             json:"id"`
	Title          string         `yaml:"title"          json:"title"`
	Text           string         `yaml:"text"           json:"text"`
	Visibility     Expression     `yaml:"visibility"     json:"visibility,omitempty"`
	Acknowledgment Acknowledgment `yaml:"acknowledgment" json:"acknowledgment"`
}

// Acknowledgment names the answer key that must be present for a visible
// disclosure.
type Acknowledgment struct {
	FieldID string `yaml:"field_id" json:"field_id"`
	Label   string `yaml:"label"    json:"label"`
}

// Fund is one entry in the definition's authoritative fund catalog.
type Fund struct {
	ID              string           `yaml:"id"               json:"id"`
	Name            string           `yaml:"name"             json:"name"`
	CreditingMethod string           `yaml:"crediting_method" json:"crediting_method,omitempty"`
	Index           string           `yaml:"index"            json:"index,omitempty"`
	TermYears       int              `yaml:"term_years"       json:"term_years,omitempty"`
	Fee             *decimal.Decimal `yaml:"fee"              json:"fee,omitempty"`
}

// FundingMethodDefinition overrides the answer key that holds the amount for
// a funding method.
type FundingMethodDefinition struct {
	ID          string `yaml:"id"           json:"id"`
	Label       string `yaml:"label"        json:"label,omitempty"`
	AmountField string `yaml:"amount_field" json:"amount_field"`
}

// FundCatalog indexes the definition's funds by id. It is built per call.
func (d *ApplicationDefinition) FundCatalog() map[string]Fund {
	out := make(map[string]Fund, len(d.Funds))
	for _, f := range d.Funds {
		out[f.ID] = f
	}
	return out
}

// Page returns the page with the given id, or nil.
func (d *ApplicationDefinition) Page(id string) *Page {
	for i := range d.Pages {
		if d.Pages[i].ID == id {
			return &d.Pages[i]
		}
	}
	return nil
}
