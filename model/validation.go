package model

import (
	"fmt"
	"strings"
)

// Submission-level rule types.
const (
	RuleBeneficiaryPercentageSum RuleType = "beneficiary/percentage-sum"
	RuleAllocationPercentageSum  RuleType = "allocation/percentage-sum"
	RuleCommissionPercentageSum  RuleType = "commission/percentage-sum"
	RuleTransferCount            RuleType = "transfer-count-consistency"
	RuleSSNEncrypted             RuleType = "ssn/encrypted"
	RuleSignatureDateToday       RuleType = "signature/date-today"
)

// ValidationError is one violated rule. QuestionID names the question, group
// rule or disclosure acknowledgment field. Instance is set inside repeating
// pages; Item and FieldID are set inside repeatable groups. Submission-level
// errors carry the canonical document path in QuestionID.
type ValidationError struct {
	QuestionID string       `json:"questionId"`
	Instance   *int         `json:"instance,omitempty"`
	Item       *int         `json:"item,omitempty"`
	FieldID    string       `json:"fieldId,omitempty"`
	Filter     *GroupFilter `json:"filter,omitempty"`
	Rule       RuleType     `json:"rule"`
	Message    string       `json:"message"`
	Expected   *int         `json:"expected,omitempty"`
	Actual     *int         `json:"actual,omitempty"`
}

// Path renders the error's location as a dotted path with indices, e.g.
// "transfer_details[1].item[0].percentage".
func (e ValidationError) Path() string {
	var b strings.Builder
	b.WriteString(e.QuestionID)
	if e.Instance != nil {
		fmt.Fprintf(&b, "[%d]", *e.Instance)
	}
	if e.Item != nil {
		fmt.Fprintf(&b, ".item[%d]", *e.Item)
	}
	if e.FieldID != "" {
		b.WriteString(".")
		b.WriteString(e.FieldID)
	}
	return b.String()
}

// Result is the outcome of a validation pass. Valid is true iff Errors is
// empty.
type Result struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors"`
}

// NewResult builds a Result from an accumulated error list.
func NewResult(errs []ValidationError) Result {
	if errs == nil {
		errs = []ValidationError{}
	}
	return Result{Valid: len(errs) == 0, Errors: errs}
}

// FieldErrors converts the result's errors into envelope details.
func (r Result) FieldErrors() []FieldError {
	out := make([]FieldError, 0, len(r.Errors))
	for _, e := range r.Errors {
		out = append(out, FieldError{Field: e.Path(), Code: string(e.Rule), Message: e.Message})
	}
	return out
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int {
	return &n
}
