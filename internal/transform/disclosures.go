package transform

import (
	"strings"

	"github.com/pitabwire/eapp/model"
)

// disclosures re-evaluates visibility against the answers being submitted and
// records only the disclosures visible now. Hidden ones are omitted.
func (b *builder) disclosures() []model.DisclosureRecord {
	out := make([]model.DisclosureRecord, 0)
	for i := range b.def.Pages {
		page := &b.def.Pages[i]
		if !b.evaluator.Visible(page.Visibility, b.answers) {
			continue
		}
		for j := range page.Disclosures {
			d := &page.Disclosures[j]
			if !b.evaluator.Visible(d.Visibility, b.answers) {
				continue
			}
			field := d.Acknowledgment.FieldID
			ack := b.answers.Get(field)
			acknowledged := model.IsPresent(ack) && ack != model.Bool(false)

			rec := model.DisclosureRecord{
				DisclosureID:        d.ID,
				Title:               d.Title,
				AcknowledgmentField: field,
				Acknowledged:        acknowledged,
			}
			if acknowledged {
				rec.AcknowledgedAt = b.r.text(spell(field + "_at"))
				if rec.AcknowledgedAt == "" {
					rec.AcknowledgedAt = b.submittedAt
				}
			}
			out = append(out, rec)
		}
	}
	return out
}

func (b *builder) replacement() model.Replacement {
	r := b.r
	companies := make([]string, 0)
	for _, item := range r.list(spell("replaced_companies", "replacement_companies", "replacing_companies").or("repl_cos")) {
		var name string
		if m, ok := item.(model.Map); ok {
			name = resolver{answers: m}.text(spell("company_name", "company", "name"))
		} else {
			name = strings.TrimSpace(model.AsString(item))
		}
		if name != "" {
			companies = append(companies, name)
		}
	}
	return model.Replacement{
		HasExistingContracts: r.optionalFlag(spell("has_existing_contracts", "existing_contracts", "has_existing_annuity", "has_existing_insurance").or("exist_ins")),
		IsReplacement:        r.optionalFlag(spell("is_replacement", "replacement", "will_replace").or("repl")),
		Companies:            companies,
	}
}
