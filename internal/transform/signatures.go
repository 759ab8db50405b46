package transform

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pitabwire/eapp/model"
)

// attestation reads role's signature and signing date from r. It is nil when
// no signature was captured. A recognised date is rewritten as YYYY-MM-DD.
func (b *builder) attestation(r resolver, role, short string) *model.SignedAttestation {
	raw := r.value(spell(role+"_signature", role+"_sig").or(short+"_sig", short+"_signature"))
	rec, ok := b.signatureRecord(raw)
	if !ok {
		return nil
	}
	date := r.text(spell(role+"_signature_date", role+"_signed_date", role+"_date_signed").or(short+"_sig_date", short+"_sig_dt"))
	if date == "" {
		if m, isMap := raw.(model.Map); isMap {
			date = resolver{answers: m}.text(spell("date", "signed_date", "signature_date"))
		}
	}
	return &model.SignedAttestation{Signature: rec, Date: model.CanonicalDay(date)}
}

// signatureRecord normalises any signature-shaped answer. A raw string is a
// captured image and a bare true is a click-through; both default to the
// drawn capture method with only the timestamp filled in. Callers that need
// provenance must send a structured record.
func (b *builder) signatureRecord(v model.Value) (model.SignatureRecord, bool) {
	switch t := v.(type) {
	case model.Text:
		image := string(t)
		return model.SignatureRecord{
			Image:       &image,
			Attestation: model.Attestation{Timestamp: b.submittedAt, CaptureMethod: model.CaptureDrawn},
		}, true
	case model.Bool:
		if !t {
			return model.SignatureRecord{}, false
		}
		// TODO(product): confirm whether click-through signatures should
		// record "clicked" rather than "drawn".
		return model.SignatureRecord{
			Attestation: model.Attestation{Timestamp: b.submittedAt, CaptureMethod: model.CaptureDrawn},
		}, true
	case model.Map:
		r := resolver{answers: t}
		att := t
		if nested, ok := t.Get("attestation").(model.Map); ok {
			att = nested
		}
		ar := resolver{answers: att}

		rec := model.SignatureRecord{
			Attestation: model.Attestation{
				Timestamp:     ar.text(spell("timestamp", "signed_at")),
				CaptureMethod: token(ar.text(spell("capture_method", "method"))),
				Witnessed:     ar.flag(spell("witnessed")),
				WitnessID:     ar.text(spell("witness_id")),
				IPAddress:     ar.text(spell("ip_address", "ip")),
				UserAgent:     ar.text(spell("user_agent")),
			},
		}
		if image := r.text(spell("image", "signature_image", "image_data", "data")); image != "" {
			rec.Image = &image
		}
		if rec.Attestation.Timestamp == "" {
			rec.Attestation.Timestamp = b.submittedAt
		}
		if rec.Attestation.CaptureMethod == "" {
			rec.Attestation.CaptureMethod = model.CaptureDrawn
		}
		return rec, true
	default:
		return model.SignatureRecord{}, false
	}
}

func (b *builder) signatures() model.Signatures {
	return model.Signatures{
		Owner:          b.attestation(b.r, "owner", "own"),
		JointOwner:     b.attestation(b.r, "joint_owner", "jown"),
		Annuitant:      b.attestation(b.r, "annuitant", "ann"),
		JointAnnuitant: b.attestation(b.r, "joint_annuitant", "jann"),
		SignedCity:     b.r.text(spell("signed_city", "signature_city", "city_signed").or("sig_city")),
		SignedState:    b.r.text(spell("signed_state", "signature_state", "state_signed").or("sig_st")),
	}
}

var hundred = decimal.NewFromInt(100)

// producer reads the writing agents. Without an agent list, a single agent
// is taken from the flat answers and the authenticated producer, and a sole
// agent with no stated split receives the full commission.
func (b *builder) producer() model.Producer {
	agents := make([]model.Agent, 0, 1)
	for _, item := range b.r.maps(spell("agents", "writing_agents", "producers").or("agts")) {
		r := resolver{answers: item}
		name := r.text(spell("name", "agent_name", "full_name").or("agt_nm"))
		if name == "" {
			name = strings.TrimSpace(r.text(spell("first_name").or("fname")) + " " + r.text(spell("last_name").or("lname")))
		}
		agents = append(agents, model.Agent{
			AgentID:              r.text(spell("agent_id", "npn", "producer_id", "id").or("agt_id")),
			Name:                 name,
			LicenseNumber:        r.text(spell("license_number", "license", "license_no").or("lic")),
			CommissionPercentage: r.number(spell("commission_percentage", "commission", "commission_split", "split").or("comm_pct")),
		})
	}

	if len(agents) == 0 {
		id := b.r.text(spell("agent_id", "writing_agent_id", "producer_id").or("agt_id"))
		if id == "" {
			id = b.sctx.ProducerID
		}
		name := b.r.text(spell("agent_name", "writing_agent_name", "producer_name").or("agt_nm"))
		if id != "" || name != "" {
			commission := b.r.number(spell("agent_commission_percentage", "agent_commission", "commission_percentage").or("comm_pct"))
			if commission.IsZero() {
				commission = hundred
			}
			agents = append(agents, model.Agent{
				AgentID:              id,
				Name:                 name,
				LicenseNumber:        b.r.text(spell("agent_license_number", "agent_license").or("agt_lic")),
				CommissionPercentage: commission,
			})
		}
	}

	signature := b.attestation(b.r, "agent", "agt")
	if signature == nil {
		signature = b.attestation(b.r, "producer", "prod")
	}
	return model.Producer{
		Agents:                  agents,
		ReplacementAcknowledged: b.r.optionalFlag(spell("agent_replacement_ack", "agent_replacement_acknowledged", "producer_replacement_acknowledged").or("agt_repl")),
		Signature:               signature,
	}
}
