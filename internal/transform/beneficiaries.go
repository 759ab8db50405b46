package transform

import (
	"strings"

	"github.com/pitabwire/eapp/model"
)

var (
	ownerBeneficiaryList     = spell("owner_beneficiaries", "beneficiaries").or("own_benes", "benes")
	annuitantBeneficiaryList = spell("annuitant_beneficiaries").or("ann_benes")
)

// beneficiaries reads one beneficiary list. Items are maps whose keys follow
// the same dialects as top-level answers.
func (b *builder) beneficiaries(list attr) []model.Beneficiary {
	items := b.r.maps(list)
	out := make([]model.Beneficiary, 0, len(items))
	for _, item := range items {
		r := resolver{answers: item}
		name := r.text(spell("name", "full_name", "entity_name").or("bene_name", "nm"))
		if name == "" {
			name = strings.TrimSpace(r.text(spell("first_name").or("fname")) + " " + r.text(spell("last_name").or("lname")))
		}
		isEntity := r.flag(spell("is_entity", "beneficiary_is_entity").or("ent"))
		if !isEntity {
			switch token(r.text(spell("beneficiary_kind", "party_type").or("kind"))) {
			case "entity", model.EntityTrust, "estate", "charity", model.EntityCorporation:
				isEntity = true
			}
		}
		out = append(out, model.Beneficiary{
			Designation:  designation(r.text(spell("designation", "beneficiary_type", "type").or("desig", "bene_type"))),
			Name:         name,
			Relationship: token(r.text(spell("relationship", "relationship_to_owner").or("rel"))),
			Percentage:   r.number(spell("percentage", "percent", "share").or("pct")),
			DateOfBirth:  r.text(spell("dob", "date_of_birth", "birth_date").or("bdate")),
			TaxID:        b.seal(r.text(spell("ssn", "tax_id", "tin").or("bene_ssn"))),
			IsEntity:     isEntity,
		})
	}
	return out
}

// designation normalises the designation; anything not contingent is
// primary.
func designation(s string) string {
	switch token(s) {
	case model.DesignationContingent, "secondary", "c":
		return model.DesignationContingent
	default:
		return model.DesignationPrimary
	}
}
