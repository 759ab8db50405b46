package submission

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/eapp/model"
)

func sealed(hint string) *model.EncryptedValue {
	return &model.EncryptedValue{IsEncrypted: true, Value: "v1.opaque" + hint, Hint: hint}
}

func pct(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

func signedOn(date string) *model.SignedAttestation {
	return &model.SignedAttestation{
		Signature: model.SignatureRecord{Attestation: model.Attestation{CaptureMethod: model.CaptureDrawn}},
		Date:      date,
	}
}

func validSubmission() *model.ApplicationSubmission {
	return &model.ApplicationSubmission{
		Envelope: model.Envelope{
			SchemaVersion: model.SchemaVersion,
			ApplicationID: "app-1",
			SubmittedAt:   "2026-03-04T09:15:00-05:00",
		},
		Annuitant: model.Party{FirstName: "Ada", TaxID: sealed("6789")},
		Owner:     model.Owner{Type: model.OwnerSameAsAnnuitant},
		OwnerBeneficiaries: []model.Beneficiary{
			{Designation: model.DesignationPrimary, Percentage: pct(60), TaxID: sealed("1111")},
			{Designation: model.DesignationPrimary, Percentage: pct(40)},
		},
		AnnuitantBeneficiaries: []model.Beneficiary{},
		Funding: model.Funding{
			Methods:      []model.FundingEntry{{Method: model.FundingExchange1035, Amount: pct(25000)}, {Method: model.FundingCheck, Amount: pct(5000)}},
			TotalPremium: pct(30000),
		},
		Allocations: []model.Allocation{
			{FundID: "sp500", Percentage: pct(70)},
			{FundID: "fixed", Percentage: pct(30)},
		},
		Transfers: []model.Transfer{{
			TransferType: model.FundingExchange1035,
			Owner:        &model.TransferParty{Name: "Ada", TaxID: sealed("6789")},
			Signatures:   model.TransferSignatures{Owner: signedOn("2026-03-04")},
		}},
		Signatures: model.Signatures{Owner: signedOn("2026-03-04")},
		Producer: model.Producer{
			Agents:    []model.Agent{{AgentID: "a1", CommissionPercentage: pct(100)}},
			Signature: signedOn("2026-03-04T08:00:00-05:00"),
		},
	}
}

func TestValidate_happy_path(t *testing.T) {
	res := NewValidator(nil).Validate(validSubmission())

	assert.True(t, res.Valid)
	assert.NotNil(t, res.Errors)
	assert.Empty(t, res.Errors)
}

func TestValidate_empty_beneficiary_lists_pass(t *testing.T) {
	sub := validSubmission()
	sub.OwnerBeneficiaries = nil
	sub.AnnuitantBeneficiaries = nil

	res := NewValidator(nil).Validate(sub)

	assert.True(t, res.Valid, "errors: %+v", res.Errors)
}

func TestValidate_empty_groups_that_must_total_100(t *testing.T) {
	tests := []struct {
		name  string
		empty func(*model.ApplicationSubmission)
		rule  model.RuleType
		path  string
	}{
		{"no allocations", func(s *model.ApplicationSubmission) { s.Allocations = nil }, model.RuleAllocationPercentageSum, "allocations"},
		{"empty allocations", func(s *model.ApplicationSubmission) { s.Allocations = []model.Allocation{} }, model.RuleAllocationPercentageSum, "allocations"},
		{"no agents", func(s *model.ApplicationSubmission) { s.Producer.Agents = nil }, model.RuleCommissionPercentageSum, "producer.agents"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := validSubmission()
			tt.empty(sub)

			res := NewValidator(nil).Validate(sub)

			require.Len(t, res.Errors, 1)
			assert.Equal(t, tt.rule, res.Errors[0].Rule)
			assert.Equal(t, tt.path, res.Errors[0].QuestionID)
			assert.Contains(t, res.Errors[0].Message, "currently 0%")
		})
	}
}

func TestValidate_bad_beneficiary_sum(t *testing.T) {
	sub := validSubmission()
	sub.OwnerBeneficiaries[1].Percentage = pct(30)

	res := NewValidator(nil).Validate(sub)

	require.Len(t, res.Errors, 1)
	e := res.Errors[0]
	assert.Equal(t, model.RuleBeneficiaryPercentageSum, e.Rule)
	assert.Equal(t, "ownerBeneficiaries", e.QuestionID)
	require.NotNil(t, e.Filter)
	assert.Equal(t, model.DesignationPrimary, e.Filter.Value)
	assert.Contains(t, e.Message, "90")
}

func TestValidate_beneficiary_sum_boundaries(t *testing.T) {
	tests := []struct {
		second int64
		valid  bool
	}{
		{39, false},
		{40, true},
		{41, false},
	}
	for _, tt := range tests {
		sub := validSubmission()
		sub.OwnerBeneficiaries[1].Percentage = pct(tt.second)
		res := NewValidator(nil).Validate(sub)
		assert.Equal(t, tt.valid, res.Valid, "total %d", 60+tt.second)
	}
}

func TestValidate_beneficiary_designations_are_independent(t *testing.T) {
	sub := validSubmission()
	sub.AnnuitantBeneficiaries = []model.Beneficiary{
		{Designation: model.DesignationPrimary, Percentage: pct(100)},
		{Designation: model.DesignationContingent, Percentage: pct(50)},
		{Designation: model.DesignationContingent, Percentage: decimal.RequireFromString("49.99")},
	}

	res := NewValidator(nil).Validate(sub)

	require.Len(t, res.Errors, 1)
	assert.Equal(t, "annuitantBeneficiaries", res.Errors[0].QuestionID)
	assert.Equal(t, model.DesignationContingent, res.Errors[0].Filter.Value)
}

func TestValidate_allocation_sum_boundaries(t *testing.T) {
	tests := []struct {
		name  string
		fixed decimal.Decimal
		valid bool
	}{
		{"99", pct(29), false},
		{"100", pct(30), true},
		{"101", pct(31), false},
		{"fractional", decimal.RequireFromString("30.00"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := validSubmission()
			sub.Allocations[1].Percentage = tt.fixed
			res := NewValidator(nil).Validate(sub)
			assert.Equal(t, tt.valid, res.Valid)
			if !tt.valid {
				require.Len(t, res.Errors, 1)
				assert.Equal(t, model.RuleAllocationPercentageSum, res.Errors[0].Rule)
			}
		})
	}
}

func TestValidate_commission_sum(t *testing.T) {
	sub := validSubmission()
	sub.Producer.Agents = []model.Agent{
		{AgentID: "a1", CommissionPercentage: pct(50)},
		{AgentID: "a2", CommissionPercentage: pct(49)},
	}

	res := NewValidator(nil).Validate(sub)

	require.Len(t, res.Errors, 1)
	assert.Equal(t, model.RuleCommissionPercentageSum, res.Errors[0].Rule)
}

func TestValidate_transfer_count_mismatch(t *testing.T) {
	sub := validSubmission()
	sub.Transfers = []model.Transfer{}

	res := NewValidator(nil).Validate(sub)

	require.Len(t, res.Errors, 1)
	e := res.Errors[0]
	assert.Equal(t, model.RuleTransferCount, e.Rule)
	require.NotNil(t, e.Expected)
	require.NotNil(t, e.Actual)
	assert.Equal(t, 1, *e.Expected)
	assert.Equal(t, 0, *e.Actual)
}

func TestValidate_transfer_count_extra_record(t *testing.T) {
	sub := validSubmission()
	sub.Funding.Methods = []model.FundingEntry{{Method: model.FundingCheck, Amount: pct(30000)}}

	res := NewValidator(nil).Validate(sub)

	require.Len(t, res.Errors, 1)
	assert.Equal(t, 0, *res.Errors[0].Expected)
	assert.Equal(t, 1, *res.Errors[0].Actual)
}

func TestValidate_plaintext_tax_id(t *testing.T) {
	tests := []struct {
		name string
		leak func(*model.ApplicationSubmission)
		path string
	}{
		{"annuitant", func(s *model.ApplicationSubmission) {
			s.Annuitant.TaxID = &model.EncryptedValue{Value: "123-45-6789", Hint: "6789"}
		}, "annuitant.taxId"},
		{"beneficiary", func(s *model.ApplicationSubmission) {
			s.OwnerBeneficiaries[0].TaxID = &model.EncryptedValue{Value: "111-22-1111"}
		}, "ownerBeneficiaries[0].taxId"},
		{"entity owner", func(s *model.ApplicationSubmission) {
			s.Owner = model.Owner{Type: model.OwnerEntity, Entity: &model.Entity{TaxID: &model.EncryptedValue{Value: "12-3456789"}}}
		}, "owner.entity.taxId"},
		{"transfer party", func(s *model.ApplicationSubmission) {
			s.Transfers[0].Annuitant = &model.TransferParty{Name: "Ada", TaxID: &model.EncryptedValue{Value: "123456789"}}
		}, "transfers[0].annuitant.taxId"},
		{"joint owner", func(s *model.ApplicationSubmission) {
			s.JointOwner = &model.Party{TaxID: &model.EncryptedValue{Value: "123456789"}}
		}, "jointOwner.taxId"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := validSubmission()
			tt.leak(sub)

			res := NewValidator(nil).Validate(sub)

			require.Len(t, res.Errors, 1)
			assert.Equal(t, model.RuleSSNEncrypted, res.Errors[0].Rule)
			assert.Equal(t, tt.path, res.Errors[0].QuestionID)
		})
	}
}

func TestValidate_signature_dates(t *testing.T) {
	sub := validSubmission()
	sub.Signatures.Owner = signedOn("2026-03-03")
	sub.Transfers[0].Signatures.Owner = signedOn("2026-03-05")
	sub.Signatures.Annuitant = signedOn("")

	res := NewValidator(nil).Validate(sub)

	require.Len(t, res.Errors, 3)
	assert.Equal(t, "signatures.owner.date", res.Errors[0].QuestionID)
	assert.Equal(t, "signatures.annuitant.date", res.Errors[1].QuestionID)
	assert.Contains(t, res.Errors[1].Message, "not dated")
	assert.Equal(t, "transfers[0].signatures.owner.date", res.Errors[2].QuestionID)
	for _, e := range res.Errors {
		assert.Equal(t, model.RuleSignatureDateToday, e.Rule)
	}
}

func TestValidate_signature_date_layouts(t *testing.T) {
	tests := []struct {
		date  string
		valid bool
	}{
		{"2026-03-04", true},
		{"03/04/2026", true},
		{"3/4/2026", true},
		{"2026-03-04T23:59:00-05:00", true},
		{"03/05/2026", false},
		{"March 4th", false},
	}
	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			sub := validSubmission()
			sub.Signatures.Owner = signedOn(tt.date)

			res := NewValidator(nil).Validate(sub)

			assert.Equal(t, tt.valid, res.Valid, "errors: %+v", res.Errors)
		})
	}
}

func TestValidate_accumulates_independent_failures(t *testing.T) {
	sub := validSubmission()
	sub.Allocations[0].Percentage = pct(10)
	sub.Producer.Agents[0].CommissionPercentage = pct(90)
	sub.Transfers = nil
	sub.Annuitant.TaxID = &model.EncryptedValue{Value: "123456789"}

	res := NewValidator(nil).Validate(sub)

	assert.False(t, res.Valid)
	rules := make([]model.RuleType, 0, len(res.Errors))
	for _, e := range res.Errors {
		rules = append(rules, e.Rule)
	}
	assert.Equal(t, []model.RuleType{
		model.RuleAllocationPercentageSum,
		model.RuleCommissionPercentageSum,
		model.RuleTransferCount,
		model.RuleSSNEncrypted,
	}, rules)
}
