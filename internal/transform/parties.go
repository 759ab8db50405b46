package transform

import (
	"github.com/pitabwire/eapp/model"
)

// party reads a natural person for role (e.g. "owner"), whose legacy
// abbreviation is short (e.g. "own").
func (b *builder) party(role, short string) model.Party {
	r := b.r
	return model.Party{
		FirstName:   r.text(spell(role+"_first_name").or(short+"_fname", short+"_first")),
		MiddleName:  r.text(spell(role+"_middle_name", role+"_middle_initial").or(short+"_mname", short+"_mi")),
		LastName:    r.text(spell(role+"_last_name").or(short+"_lname", short+"_last")),
		DateOfBirth: r.text(spell(role+"_dob", role+"_date_of_birth", role+"_birth_date").or(short+"_dob", short+"_bdate")),
		Gender:      token(r.text(spell(role+"_gender", role+"_sex").or(short+"_sex", short+"_gender"))),
		TaxID:       b.seal(r.text(spell(role+"_ssn", role+"_tax_id", role+"_tin").or(short+"_ssn", short+"_tin"))),
		Email:       r.text(spell(role+"_email", role+"_email_address").or(short+"_email")),
		Phone:       r.text(spell(role+"_phone", role+"_phone_number").or(short+"_phone", short+"_tel")),
		Address:     b.address(role, short),
	}
}

func (b *builder) address(role, short string) model.Address {
	r := b.r
	return model.Address{
		Street1: r.text(spell(role+"_street", role+"_street1", role+"_address_line1", role+"_address").or(short+"_addr1", short+"_addr")),
		Street2: r.text(spell(role+"_street2", role+"_address_line2", role+"_unit").or(short+"_addr2")),
		City:    r.text(spell(role+"_city").or(short+"_city")),
		State:   r.text(spell(role+"_state").or(short+"_st")),
		Zip:     r.text(spell(role+"_zip", role+"_zip_code", role+"_postal_code").or(short+"_zip")),
	}
}

func (b *builder) annuitant() model.Party {
	return b.party("annuitant", "ann")
}

// owner resolves the owner union. A same-as-annuitant flag wins; an entity
// type tag selects the entity shape; anything else is an individual.
func (b *builder) owner() model.Owner {
	r := b.r
	kind := token(r.text(spell("owner_type", "owner_kind").or("own_type")))
	sameFlag := r.flag(spell("owner_same_as_annuitant", "owner_is_annuitant", "annuitant_is_owner").or("own_same_ann"))

	switch {
	case sameFlag || kind == "same_as_annuitant" || kind == "same" || kind == "annuitant":
		return model.Owner{Type: model.OwnerSameAsAnnuitant}
	case kind == "entity" || kind == model.EntityTrust || kind == model.EntityCorporation || kind == "corp":
		return model.Owner{Type: model.OwnerEntity, Entity: b.entity(kind)}
	default:
		p := b.party("owner", "own")
		return model.Owner{Type: model.OwnerIndividual, Individual: &p}
	}
}

func (b *builder) entity(ownerKind string) *model.Entity {
	r := b.r
	entityType := token(r.text(spell("owner_entity_type", "entity_type").or("own_ent_type")))
	if entityType == "" {
		entityType = ownerKind
	}
	if entityType != model.EntityTrust {
		entityType = model.EntityCorporation
	}

	e := &model.Entity{
		Name:        r.text(spell("owner_entity_name", "entity_name", "trust_name", "corporation_name").or("own_ent_name")),
		EntityType:  entityType,
		TaxID:       b.seal(r.text(spell("owner_entity_tax_id", "entity_tax_id", "owner_ein", "entity_ein").or("own_ein", "ent_tin"))),
		Address:     b.address("owner", "own"),
		SignerName:  r.text(spell("entity_signer_name", "authorized_signer_name", "trustee_name").or("ent_signer")),
		SignerTitle: r.text(spell("entity_signer_title", "authorized_signer_title", "trustee_title").or("ent_signer_title")),
	}
	// Only trusts carry an establishment date; corporations get null even
	// when one was answered.
	if entityType == model.EntityTrust {
		date := r.text(spell("trust_date", "trust_established_date", "entity_established_date").or("trust_dt"))
		e.EstablishedDate = &date
	}
	return e
}

// ownerAddress is the address a joint owner copies when they share it.
func ownerAddress(owner model.Owner, annuitant model.Party) model.Address {
	switch owner.Type {
	case model.OwnerIndividual:
		if owner.Individual != nil {
			return owner.Individual.Address
		}
	case model.OwnerEntity:
		if owner.Entity != nil {
			return owner.Entity.Address
		}
	}
	return annuitant.Address
}

// jointOwner is built only when the has-joint-owner flag is set. A shared
// address is copied here rather than trusted from the answers.
func (b *builder) jointOwner(ownerAddr model.Address) *model.Party {
	if !b.r.flag(spell("has_joint_owner", "joint_owner").or("jown_flag", "has_jown")) {
		return nil
	}
	p := b.party("joint_owner", "jown")
	if b.r.flag(spell("joint_owner_address_same_as_owner", "joint_owner_same_address").or("jown_same_addr")) {
		p.Address = ownerAddr
	}
	return &p
}

func (b *builder) jointAnnuitant(annuitant model.Party) *model.Party {
	if !b.r.flag(spell("has_joint_annuitant", "joint_annuitant").or("jann_flag", "has_jann")) {
		return nil
	}
	p := b.party("joint_annuitant", "jann")
	if b.r.flag(spell("joint_annuitant_address_same_as_annuitant", "joint_annuitant_same_address").or("jann_same_addr")) {
		p.Address = annuitant.Address
	}
	return &p
}

func (b *builder) identity() model.IdentityVerification {
	r := b.r
	return model.IdentityVerification{
		IDType:         token(r.text(spell("id_type", "identification_type").or("idtype"))),
		IDNumber:       b.seal(r.text(spell("id_number", "identification_number", "drivers_license_number").or("idnum", "dl_num"))),
		IssuingState:   r.text(spell("id_issuing_state", "id_state").or("id_st")),
		ExpirationDate: r.text(spell("id_expiration_date", "id_expiration").or("id_exp")),
		Verified:       r.optionalFlag(spell("id_verified", "identity_verified").or("idv")),
	}
}
