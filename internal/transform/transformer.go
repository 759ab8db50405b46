// Package transform normalises a dialect-ambiguous answer map into the
// canonical ApplicationSubmission.
package transform

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/eapp/internal/condition"
	"github.com/pitabwire/eapp/model"
)

// submissionNamespace scopes name-based submission ids.
var submissionNamespace = uuid.MustParse("5b0e7c1a-3f44-5d9e-8a61-2c7f0b9d4e13")

// Sealer turns a sensitive plaintext identifier into an EncryptedValue.
// Implementations must be deterministic for Transform to be repeatable.
type Sealer interface {
	Seal(plaintext string) model.EncryptedValue
}

// Transformer builds canonical submissions. It holds no per-call state.
type Transformer struct {
	sealer    Sealer
	evaluator *condition.Evaluator
	logger    *zap.Logger
}

// NewTransformer creates a Transformer. evaluator re-checks disclosure
// visibility; a nil evaluator gets a default one.
func NewTransformer(sealer Sealer, evaluator *condition.Evaluator, logger *zap.Logger) *Transformer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if evaluator == nil {
		evaluator = condition.NewEvaluator(logger)
	}
	return &Transformer{sealer: sealer, evaluator: evaluator, logger: logger}
}

// builder carries the inputs of one Transform call.
type builder struct {
	def         *model.ApplicationDefinition
	answers     model.Map
	r           resolver
	sctx        model.SubmissionContext
	submittedAt string
	sealer      Sealer
	evaluator   *condition.Evaluator
}

// Transform maps answers onto the canonical document. It is a pure function
// of its inputs: missing answers become empty strings or nulls, never errors.
func (t *Transformer) Transform(def *model.ApplicationDefinition, answers model.Map, sctx model.SubmissionContext) *model.ApplicationSubmission {
	if answers == nil {
		answers = model.Map{}
	}
	b := &builder{
		def:         def,
		answers:     answers,
		r:           resolver{answers: answers},
		sctx:        sctx,
		submittedAt: sctx.SubmittedAt.Format(time.RFC3339),
		sealer:      t.sealer,
		evaluator:   t.evaluator,
	}

	annuitant := b.annuitant()
	owner := b.owner()
	sub := &model.ApplicationSubmission{
		Envelope:               b.envelope(),
		Annuitant:              annuitant,
		JointAnnuitant:         b.jointAnnuitant(annuitant),
		Owner:                  owner,
		JointOwner:             b.jointOwner(ownerAddress(owner, annuitant)),
		OwnerBeneficiaries:     b.beneficiaries(ownerBeneficiaryList),
		AnnuitantBeneficiaries: b.beneficiaries(annuitantBeneficiaryList),
		IdentityVerification:   b.identity(),
		Product:                b.product(),
		Funding:                b.funding(),
		Allocations:            b.allocations(),
		Transfers:              b.transfers(),
		Replacement:            b.replacement(),
		Disclosures:            b.disclosures(),
		Signatures:             b.signatures(),
		Producer:               b.producer(),
	}

	t.logger.Debug("submission transformed",
		zap.String("application_id", sctx.ApplicationID),
		zap.String("submission_id", sub.Envelope.SubmissionID),
		zap.Int("transfers", len(sub.Transfers)),
		zap.Int("allocations", len(sub.Allocations)),
	)
	return sub
}

// SubmissionID derives the submission id from the application id and the
// submission timestamp, so equal inputs always yield the same id.
func SubmissionID(applicationID, submittedAt string) string {
	return uuid.NewSHA1(submissionNamespace, []byte(applicationID+"|"+submittedAt)).String()
}

func (b *builder) envelope() model.Envelope {
	return model.Envelope{
		SchemaVersion:     model.SchemaVersion,
		SubmissionID:      SubmissionID(b.sctx.ApplicationID, b.submittedAt),
		ApplicationID:     b.sctx.ApplicationID,
		ProductID:         b.def.ProductID,
		CarrierID:         b.def.CarrierID,
		DefinitionID:      b.def.ID,
		DefinitionVersion: b.def.Version,
		ProducerID:        b.sctx.ProducerID,
		SubmittedAt:       b.submittedAt,
		Client: model.ClientInfo{
			IPAddress: b.sctx.ClientIP,
			UserAgent: b.sctx.UserAgent,
		},
	}
}

func (b *builder) product() model.ProductInfo {
	planType := b.r.text(spell("plan_type").or("plan"))
	if planType == "" {
		planType = b.def.PlanType
	}
	return model.ProductInfo{
		ProductID:        b.def.ProductID,
		ProductName:      b.def.ProductName,
		PlanType:         token(planType),
		TaxQualification: token(b.r.text(spell("tax_qualification", "qualification_type", "ira_type").or("tax_qual", "qual"))),
	}
}

// seal encrypts a tax identifier. Blank input yields nil.
func (b *builder) seal(plaintext string) *model.EncryptedValue {
	if strings.TrimSpace(plaintext) == "" {
		return nil
	}
	v := b.sealer.Seal(plaintext)
	return &v
}
