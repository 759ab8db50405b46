package model

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// SchemaVersion is the canonical document version produced by this build.
const SchemaVersion = "1.0.0"

// CompatibleSchemaVersion reports whether a document of version v can be read
// by this build: same major version, any minor or patch.
func CompatibleSchemaVersion(v string) bool {
	major := func(s string) (int, bool) {
		s = strings.TrimPrefix(s, "v")
		head, _, _ := strings.Cut(s, ".")
		n, err := strconv.Atoi(head)
		return n, err == nil
	}
	want, _ := major(SchemaVersion)
	got, ok := major(v)
	return ok && got == want
}

// ApplicationSubmission is the canonical document handed to carrier
// integration. It is built fresh on every submit attempt and never mutated
// afterwards.
type ApplicationSubmission struct {
	Envelope               Envelope             `json:"envelope"`
	Annuitant              Party                `json:"annuitant"`
	JointAnnuitant         *Party               `json:"jointAnnuitant"`
	Owner                  Owner                `json:"owner"`
	JointOwner             *Party               `json:"jointOwner"`
	OwnerBeneficiaries     []Beneficiary        `json:"ownerBeneficiaries"`
	AnnuitantBeneficiaries []Beneficiary        `json:"annuitantBeneficiaries"`
	IdentityVerification   IdentityVerification `json:"identityVerification"`
	Product                ProductInfo          `json:"product"`
	Funding                Funding              `json:"funding"`
	Allocations            []Allocation         `json:"allocations"`
	Transfers              []Transfer           `json:"transfers"`
	Replacement            Replacement          `json:"replacement"`
	Disclosures            []DisclosureRecord   `json:"disclosures"`
	Signatures             Signatures           `json:"signatures"`
	Producer               Producer             `json:"producer"`
}

// Envelope carries routing and audit metadata.
type Envelope struct {
	SchemaVersion     string     `json:"schemaVersion"`
	SubmissionID      string     `json:"submissionId"`
	ApplicationID     string     `json:"applicationId"`
	ProductID         string     `json:"productId"`
	CarrierID         string     `json:"carrierId"`
	DefinitionID      string     `json:"definitionId"`
	DefinitionVersion string     `json:"definitionVersion"`
	ProducerID        string     `json:"producerId"`
	SubmittedAt       string     `json:"submittedAt"`
	Client            ClientInfo `json:"client"`
}

// SubmissionDate returns the date portion of SubmittedAt.
func (e Envelope) SubmissionDate() string {
	date, _, _ := strings.Cut(e.SubmittedAt, "T")
	return date
}

// ClientInfo is the submitting client's network metadata.
type ClientInfo struct {
	IPAddress string `json:"ipAddress"`
	UserAgent string `json:"userAgent"`
}

// Address is a postal address.
type Address struct {
	Street1 string `json:"street1"`
	Street2 string `json:"street2"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
}

// Party is a natural person on the contract.
type Party struct {
	FirstName   string          `json:"firstName"`
	MiddleName  string          `json:"middleName"`
	LastName    string          `json:"lastName"`
	DateOfBirth string          `json:"dateOfBirth"`
	Gender      string          `json:"gender"`
	TaxID       *EncryptedValue `json:"taxId"`
	Email       string          `json:"email"`
	Phone       string          `json:"phone"`
	Address     Address         `json:"address"`
}

// OwnerType discriminates the Owner union.
type OwnerType string

// Owner shapes.
const (
	OwnerSameAsAnnuitant OwnerType = "same_as_annuitant"
	OwnerIndividual      OwnerType = "individual"
	OwnerEntity          OwnerType = "entity"
)

// Owner is exactly one of: same as annuitant (no payload), an individual, or
// an entity.
type Owner struct {
	Type       OwnerType `json:"type"`
	Individual *Party    `json:"individual"`
	Entity     *Entity   `json:"entity"`
}

// Entity types.
const (
	EntityTrust       = "trust"
	EntityCorporation = "corporation"
)

// Entity is a trust or corporation owner. EstablishedDate is only ever set
// for trusts.
type Entity struct {
	Name            string          `json:"name"`
	EntityType      string          `json:"entityType"`
	TaxID           *EncryptedValue `json:"taxId"`
	EstablishedDate *string         `json:"establishedDate"`
	Address         Address         `json:"address"`
	SignerName      string          `json:"signerName"`
	SignerTitle     string          `json:"signerTitle"`
}

// Beneficiary designations.
const (
	DesignationPrimary    = "primary"
	DesignationContingent = "contingent"
)

// Beneficiary is one beneficiary designation.
type Beneficiary struct {
	Designation  string          `json:"designation"`
	Name         string          `json:"name"`
	Relationship string          `json:"relationship"`
	Percentage   decimal.Decimal `json:"percentage"`
	DateOfBirth  string          `json:"dateOfBirth"`
	TaxID        *EncryptedValue `json:"taxId"`
	IsEntity     bool            `json:"isEntity"`
}

// IdentityVerification records the government id shown by the owner.
type IdentityVerification struct {
	IDType         string          `json:"idType"`
	IDNumber       *EncryptedValue `json:"idNumber"`
	IssuingState   string          `json:"issuingState"`
	ExpirationDate string          `json:"expirationDate"`
	Verified       *bool           `json:"verified"`
}

// ProductInfo is the product and tax classification.
type ProductInfo struct {
	ProductID        string `json:"productId"`
	ProductName      string `json:"productName"`
	PlanType         string `json:"planType"`
	TaxQualification string `json:"taxQualification"`
}

// Funding methods that move money from an existing contract and so require a
// transfer record.
const (
	FundingExchange1035    = "exchange_1035"
	FundingDirectTransfer  = "direct_transfer"
	FundingCheck           = "check"
	FundingWire            = "wire"
	FundingRollover        = "rollover"
	FundingPayrollDeferral = "payroll"
)

// IsTransferMethod reports whether a funding method needs a transfer record.
func IsTransferMethod(method string) bool {
	return method == FundingExchange1035 || method == FundingDirectTransfer
}

// Funding lists the selected premium sources and their total.
type Funding struct {
	Methods      []FundingEntry  `json:"methods"`
	TotalPremium decimal.Decimal `json:"totalPremium"`
}

// FundingEntry is one selected funding method.
type FundingEntry struct {
	Method string          `json:"method"`
	Amount decimal.Decimal `json:"amount"`
}

// Allocation is one fund selection. Everything but Percentage comes from the
// definition's fund catalog.
type Allocation struct {
	FundID          string           `json:"fundId"`
	FundName        string           `json:"fundName"`
	CreditingMethod string           `json:"creditingMethod"`
	Index           string           `json:"index"`
	TermYears       int              `json:"termYears"`
	Fee             *decimal.Decimal `json:"fee"`
	Percentage      decimal.Decimal  `json:"percentage"`
}

// Transfer is one 1035 exchange or direct transfer.
type Transfer struct {
	Instance            int                     `json:"instance"`
	TransferType        string                  `json:"transferType"`
	SurrenderingCompany string                  `json:"surrenderingCompany"`
	AccountNumber       string                  `json:"accountNumber"`
	EstimatedAmount     decimal.Decimal         `json:"estimatedAmount"`
	FullOrPartial       string                  `json:"fullOrPartial"`
	Owner               *TransferParty          `json:"owner"`
	JointOwner          *TransferParty          `json:"jointOwner"`
	Annuitant           *TransferParty          `json:"annuitant"`
	JointAnnuitant      *TransferParty          `json:"jointAnnuitant"`
	ContingentAnnuitant *TransferParty          `json:"contingentAnnuitant"`
	Acknowledgments     TransferAcknowledgments `json:"acknowledgments"`
	Signatures          TransferSignatures      `json:"signatures"`
}

// TransferParty is a named party on the surrendering contract.
type TransferParty struct {
	Name  string          `json:"name"`
	TaxID *EncryptedValue `json:"taxId"`
}

// TransferAcknowledgments are tri-state: nil means the question was not asked
// for this transfer type, false means asked and declined.
type TransferAcknowledgments struct {
	SurrenderCharge   *bool `json:"surrenderCharge"`
	TaxConsequences   *bool `json:"taxConsequences"`
	RMDSatisfied      *bool `json:"rmdSatisfied"`
	ReplacementNotice *bool `json:"replacementNotice"`
}

// TransferSignatures are the signers of a transfer request.
type TransferSignatures struct {
	Owner      *SignedAttestation `json:"owner"`
	JointOwner *SignedAttestation `json:"jointOwner"`
	Annuitant  *SignedAttestation `json:"annuitant"`
}

// Replacement is the replacement disclosure.
type Replacement struct {
	HasExistingContracts *bool    `json:"hasExistingContracts"`
	IsReplacement        *bool    `json:"isReplacement"`
	Companies            []string `json:"companies"`
}

// DisclosureRecord is the audit record for a disclosure that was visible at
// submission time.
type DisclosureRecord struct {
	DisclosureID        string `json:"disclosureId"`
	Title               string `json:"title"`
	AcknowledgmentField string `json:"acknowledgmentField"`
	Acknowledged        bool   `json:"acknowledged"`
	AcknowledgedAt      string `json:"acknowledgedAt"`
}

// Signatures are the application-level signatures.
type Signatures struct {
	Owner          *SignedAttestation `json:"owner"`
	JointOwner     *SignedAttestation `json:"jointOwner"`
	Annuitant      *SignedAttestation `json:"annuitant"`
	JointAnnuitant *SignedAttestation `json:"jointAnnuitant"`
	SignedCity     string             `json:"signedCity"`
	SignedState    string             `json:"signedState"`
}

// SignedAttestation is a signature with the date it was signed.
type SignedAttestation struct {
	Signature SignatureRecord `json:"signature"`
	Date      string          `json:"date"`
}

// Producer is the writing agent certification.
type Producer struct {
	Agents                  []Agent            `json:"agents"`
	ReplacementAcknowledged *bool              `json:"replacementAcknowledged"`
	Signature               *SignedAttestation `json:"signature"`
}

// Agent is one writing agent and their commission split.
type Agent struct {
	AgentID              string          `json:"agentId"`
	Name                 string          `json:"name"`
	LicenseNumber        string          `json:"licenseNumber"`
	CommissionPercentage decimal.Decimal `json:"commissionPercentage"`
}

// EncryptedValue wraps a sensitive identifier. Value is ciphertext whenever
// IsEncrypted is true; Hint is the last four digits for display.
type EncryptedValue struct {
	IsEncrypted bool   `json:"isEncrypted"`
	Value       string `json:"value"`
	Hint        string `json:"hint"`
	KeyID       string `json:"keyId,omitempty"`
}

// Signature capture methods.
const (
	CaptureDrawn   = "drawn"
	CaptureTyped   = "typed"
	CaptureClicked = "clicked"
)

// SignatureRecord is a captured signature with its attestation.
type SignatureRecord struct {
	Image       *string     `json:"image"`
	Attestation Attestation `json:"attestation"`
}

// Attestation records how and where a signature was captured.
type Attestation struct {
	Timestamp     string `json:"timestamp"`
	CaptureMethod string `json:"captureMethod"`
	Witnessed     bool   `json:"witnessed"`
	WitnessID     string `json:"witnessId"`
	IPAddress     string `json:"ipAddress"`
	UserAgent     string `json:"userAgent"`
}
