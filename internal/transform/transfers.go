package transform

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pitabwire/eapp/model"
)

var (
	transferList  = spell("transfers", "transfer_details", "exchanges", "exchange_details").or("xfers", "xfer")
	transferCount = spell("transfer_count", "number_of_transfers", "exchange_count").or("xfer_cnt", "num_xfers")
)

// transferKeys names where transfer instances and their count live. The
// definition's repeating page is read first; the carrier spellings cover
// answers keyed the conventional way.
func (b *builder) transferKeys() (list, count attr) {
	for i := range b.def.Pages {
		if p := &b.def.Pages[i]; p.Repeat != nil {
			return transferList.prefer(p.InstancesKey()), transferCount.prefer(p.Repeat.CountField)
		}
	}
	return transferList, transferCount
}

// transfers builds one record per repeating-page instance. When the count
// answer is present, instances beyond it are stale and dropped.
func (b *builder) transfers() []model.Transfer {
	listKey, countKey := b.transferKeys()
	items := b.r.list(listKey)
	if n, ok := model.AsNumber(b.r.value(countKey)); ok && !n.IsNegative() && n.LessThan(decimal.NewFromInt(int64(len(items)))) {
		items = items[:n.IntPart()]
	}

	out := make([]model.Transfer, 0, len(items))
	for i, raw := range items {
		instance, _ := raw.(model.Map)
		r := resolver{answers: instance}
		transferType := fundingMethod(r.text(spell("transfer_type", "exchange_type", "type").or("xfer_type")))

		out = append(out, model.Transfer{
			Instance:            i,
			TransferType:        transferType,
			SurrenderingCompany: r.text(spell("surrendering_company", "company_name", "carrier_name", "surrendering_carrier").or("surr_co", "co_name")),
			AccountNumber:       r.text(spell("account_number", "policy_number", "contract_number").or("acct_no", "pol_no")),
			EstimatedAmount:     r.number(spell("estimated_amount", "transfer_amount", "amount").or("est_amt", "amt")),
			FullOrPartial:       fullOrPartial(r.text(spell("full_or_partial", "transfer_scope").or("full_partial", "fp"))),
			Owner:               b.transferParty(r, "owner", "own"),
			JointOwner:          b.transferParty(r, "joint_owner", "jown"),
			Annuitant:           b.transferParty(r, "annuitant", "ann"),
			JointAnnuitant:      b.transferParty(r, "joint_annuitant", "jann"),
			ContingentAnnuitant: b.transferParty(r, "contingent_annuitant", "cann"),
			Acknowledgments:     transferAcknowledgments(r, transferType),
			Signatures: model.TransferSignatures{
				Owner:      b.attestation(r, "owner", "own"),
				JointOwner: b.attestation(r, "joint_owner", "jown"),
				Annuitant:  b.attestation(r, "annuitant", "ann"),
			},
		})
	}
	return out
}

// transferParty is nil when the instance names no such party. Each tax id is
// sealed on its own.
func (b *builder) transferParty(r resolver, role, short string) *model.TransferParty {
	name := r.text(spell(role+"_name", role+"_full_name").or(short+"_nm", short+"_name"))
	if name == "" {
		name = strings.TrimSpace(r.text(spell(role+"_first_name").or(short+"_fname")) + " " + r.text(spell(role+"_last_name").or(short+"_lname")))
	}
	taxID := r.text(spell(role+"_ssn", role+"_tax_id", role+"_tin").or(short+"_ssn"))
	if name == "" && taxID == "" {
		return nil
	}
	return &model.TransferParty{Name: name, TaxID: b.seal(taxID)}
}

// transferAcknowledgments keeps not-asked distinct from declined: an
// acknowledgment that does not apply to the transfer type is always nil.
func transferAcknowledgments(r resolver, transferType string) model.TransferAcknowledgments {
	acks := model.TransferAcknowledgments{
		SurrenderCharge: r.optionalFlag(spell("surrender_charge_ack", "surrender_charge_acknowledged").or("sc_ack")),
		TaxConsequences: r.optionalFlag(spell("tax_consequences_ack", "tax_consequences_acknowledged").or("tax_ack")),
	}
	if transferType != model.FundingExchange1035 {
		acks.RMDSatisfied = r.optionalFlag(spell("rmd_satisfied", "rmd_ack").or("rmd"))
	}
	if transferType != model.FundingDirectTransfer {
		acks.ReplacementNotice = r.optionalFlag(spell("replacement_notice_ack", "replacement_notice_acknowledged").or("repl_ack"))
	}
	return acks
}

func fullOrPartial(s string) string {
	switch token(s) {
	case "full", "f", "total":
		return "full"
	case "partial", "p":
		return "partial"
	default:
		return token(s)
	}
}
