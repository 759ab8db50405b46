// Package submission checks invariants that span several fields of the
// canonical document.
package submission

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/pitabwire/eapp/model"
)

var hundred = decimal.NewFromInt(100)

// Validator checks a transformed ApplicationSubmission. It holds no per-call
// state.
type Validator struct {
	logger *zap.Logger
}

// NewValidator creates a Validator. A nil logger discards output.
func NewValidator(logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{logger: logger}
}

// Validate runs every check and returns all violations. No check depends on
// another. An empty beneficiary list passes, since emptiness there is an
// answer-level concern; empty allocations or agents total 0 and fail.
func (v *Validator) Validate(sub *model.ApplicationSubmission) model.Result {
	var errs []model.ValidationError

	errs = append(errs, beneficiarySums("ownerBeneficiaries", sub.OwnerBeneficiaries)...)
	errs = append(errs, beneficiarySums("annuitantBeneficiaries", sub.AnnuitantBeneficiaries)...)
	errs = append(errs, allocationSum(sub.Allocations)...)
	errs = append(errs, commissionSum(sub.Producer.Agents)...)
	errs = append(errs, transferCount(sub)...)
	errs = append(errs, encryptedTaxIDs(sub)...)
	errs = append(errs, signatureDates(sub)...)

	if len(errs) > 0 {
		v.logger.Info("submission rejected",
			zap.String("application_id", sub.Envelope.ApplicationID),
			zap.String("submission_id", sub.Envelope.SubmissionID),
			zap.Int("errors", len(errs)),
		)
	}
	return model.NewResult(errs)
}

// beneficiarySums checks each designation of one side independently.
// Contingents are only checked when at least one exists.
func beneficiarySums(path string, list []model.Beneficiary) []model.ValidationError {
	if len(list) == 0 {
		return nil
	}
	var errs []model.ValidationError
	for _, designation := range []string{model.DesignationPrimary, model.DesignationContingent} {
		sum, n := decimal.Zero, 0
		for _, b := range list {
			if b.Designation == designation {
				sum = sum.Add(b.Percentage)
				n++
			}
		}
		if n == 0 && designation == model.DesignationContingent {
			continue
		}
		if !sum.Equal(hundred) {
			errs = append(errs, model.ValidationError{
				QuestionID: path,
				Filter:     &model.GroupFilter{Field: "designation", Value: designation},
				Rule:       model.RuleBeneficiaryPercentageSum,
				Message:    fmt.Sprintf("%s beneficiary percentages must total 100%% (currently %s%%)", designation, sum.String()),
			})
		}
	}
	return errs
}

func allocationSum(list []model.Allocation) []model.ValidationError {
	sum := decimal.Zero
	for _, a := range list {
		sum = sum.Add(a.Percentage)
	}
	if sum.Equal(hundred) {
		return nil
	}
	return []model.ValidationError{{
		QuestionID: "allocations",
		Rule:       model.RuleAllocationPercentageSum,
		Message:    fmt.Sprintf("Allocation percentages must total 100%% (currently %s%%)", sum.String()),
	}}
}

func commissionSum(agents []model.Agent) []model.ValidationError {
	sum := decimal.Zero
	for _, a := range agents {
		sum = sum.Add(a.CommissionPercentage)
	}
	if sum.Equal(hundred) {
		return nil
	}
	return []model.ValidationError{{
		QuestionID: "producer.agents",
		Rule:       model.RuleCommissionPercentageSum,
		Message:    fmt.Sprintf("Agent commission percentages must total 100%% (currently %s%%)", sum.String()),
	}}
}

// transferCount requires one transfer record per exchange or direct-transfer
// funding method.
func transferCount(sub *model.ApplicationSubmission) []model.ValidationError {
	expected := 0
	for _, m := range sub.Funding.Methods {
		if model.IsTransferMethod(m.Method) {
			expected++
		}
	}
	actual := len(sub.Transfers)
	if expected == actual {
		return nil
	}
	return []model.ValidationError{{
		QuestionID: "transfers",
		Rule:       model.RuleTransferCount,
		Message:    fmt.Sprintf("Expected %d transfer record(s) for the selected funding methods, found %d", expected, actual),
		Expected:   model.IntPtr(expected),
		Actual:     model.IntPtr(actual),
	}}
}

// taxIDs lists every tax identifier in the document by path. Nil entries
// were never answered and are skipped by the caller.
func taxIDs(sub *model.ApplicationSubmission) []taxID {
	ids := []taxID{{"annuitant.taxId", sub.Annuitant.TaxID}}
	if sub.JointAnnuitant != nil {
		ids = append(ids, taxID{"jointAnnuitant.taxId", sub.JointAnnuitant.TaxID})
	}
	if sub.Owner.Individual != nil {
		ids = append(ids, taxID{"owner.individual.taxId", sub.Owner.Individual.TaxID})
	}
	if sub.Owner.Entity != nil {
		ids = append(ids, taxID{"owner.entity.taxId", sub.Owner.Entity.TaxID})
	}
	if sub.JointOwner != nil {
		ids = append(ids, taxID{"jointOwner.taxId", sub.JointOwner.TaxID})
	}
	for i, b := range sub.OwnerBeneficiaries {
		ids = append(ids, taxID{fmt.Sprintf("ownerBeneficiaries[%d].taxId", i), b.TaxID})
	}
	for i, b := range sub.AnnuitantBeneficiaries {
		ids = append(ids, taxID{fmt.Sprintf("annuitantBeneficiaries[%d].taxId", i), b.TaxID})
	}
	ids = append(ids, taxID{"identityVerification.idNumber", sub.IdentityVerification.IDNumber})
	for i, t := range sub.Transfers {
		parties := []struct {
			name  string
			party *model.TransferParty
		}{
			{"owner", t.Owner},
			{"jointOwner", t.JointOwner},
			{"annuitant", t.Annuitant},
			{"jointAnnuitant", t.JointAnnuitant},
			{"contingentAnnuitant", t.ContingentAnnuitant},
		}
		for _, p := range parties {
			if p.party != nil {
				ids = append(ids, taxID{fmt.Sprintf("transfers[%d].%s.taxId", i, p.name), p.party.TaxID})
			}
		}
	}
	return ids
}

type taxID struct {
	path  string
	value *model.EncryptedValue
}

func encryptedTaxIDs(sub *model.ApplicationSubmission) []model.ValidationError {
	var errs []model.ValidationError
	for _, id := range taxIDs(sub) {
		if id.value == nil || id.value.IsEncrypted {
			continue
		}
		errs = append(errs, model.ValidationError{
			QuestionID: id.path,
			Rule:       model.RuleSSNEncrypted,
			Message:    "Tax identifier must be encrypted",
		})
	}
	return errs
}

type signedAt struct {
	path string
	sig  *model.SignedAttestation
}

// signatureDates requires every captured signature to be dated on the
// submission date. Dates compare by calendar day, whatever their layout.
func signatureDates(sub *model.ApplicationSubmission) []model.ValidationError {
	today := sub.Envelope.SubmissionDate()
	todayDay, _ := model.ParseDay(today)
	signed := []signedAt{
		{"signatures.owner.date", sub.Signatures.Owner},
		{"signatures.jointOwner.date", sub.Signatures.JointOwner},
		{"signatures.annuitant.date", sub.Signatures.Annuitant},
		{"signatures.jointAnnuitant.date", sub.Signatures.JointAnnuitant},
		{"producer.signature.date", sub.Producer.Signature},
	}
	for i, t := range sub.Transfers {
		signed = append(signed,
			signedAt{fmt.Sprintf("transfers[%d].signatures.owner.date", i), t.Signatures.Owner},
			signedAt{fmt.Sprintf("transfers[%d].signatures.jointOwner.date", i), t.Signatures.JointOwner},
			signedAt{fmt.Sprintf("transfers[%d].signatures.annuitant.date", i), t.Signatures.Annuitant},
		)
	}

	var errs []model.ValidationError
	for _, s := range signed {
		if s.sig == nil {
			continue
		}
		msg := ""
		if strings.TrimSpace(s.sig.Date) == "" {
			msg = fmt.Sprintf("Signature is not dated; it must be dated %s", today)
		} else if d, ok := model.ParseDay(s.sig.Date); !ok || !d.Equal(todayDay) {
			msg = fmt.Sprintf("Signature date %s must be the submission date %s", s.sig.Date, today)
		}
		if msg != "" {
			errs = append(errs, model.ValidationError{
				QuestionID: s.path,
				Rule:       model.RuleSignatureDateToday,
				Message:    msg,
			})
		}
	}
	return errs
}
