package intake

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/eapp/internal/condition"
	"github.com/pitabwire/eapp/internal/definition"
	"github.com/pitabwire/eapp/internal/events"
	"github.com/pitabwire/eapp/internal/observability"
	"github.com/pitabwire/eapp/internal/sealing"
	"github.com/pitabwire/eapp/internal/store"
	"github.com/pitabwire/eapp/internal/submission"
	"github.com/pitabwire/eapp/internal/transform"
	"github.com/pitabwire/eapp/internal/validation"
	"github.com/pitabwire/eapp/model"
)

var fixedNow = time.Date(2026, 3, 14, 15, 4, 5, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.SubmittedEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.SubmittedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type harness struct {
	svc       *Service
	store     *store.MemorySubmissionStore
	idem      *MemoryIdempotencyStore
	publisher *recordingPublisher
	metrics   *observability.Metrics
}

func testDefinitions() []model.ApplicationDefinition {
	return []model.ApplicationDefinition{
		{
			ID:        "fia-7-app",
			ProductID: "fia-7",
			Version:   "2026.1",
			Pages: []model.Page{
				{
					ID: "annuitant",
					Questions: []model.Question{
						{ID: "annuitant_first_name", Type: model.QuestionShortText, Required: true},
						{ID: "annuitant_last_name", Type: model.QuestionShortText, Required: true},
					},
				},
				{
					ID: "funding",
					Questions: []model.Question{
						{ID: "premium", Type: model.QuestionNumber, Required: true},
					},
				},
			},
		},
		{
			ID:        "broken-app",
			ProductID: "broken",
			Version:   "0.1",
			Pages: []model.Page{
				{
					ID: "p1",
					Questions: []model.Question{
						{
							ID:   "q1",
							Type: model.QuestionShortText,
							Visibility: model.When(&model.CompoundCondition{
								Logic: "XOR",
								Conditions: []model.Condition{
									&model.LeafCondition{Field: "a", Operator: model.OpEq, Value: model.Text("x")},
								},
							}),
						},
					},
				},
			},
		},
	}
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	sealer, err := sealing.NewAEADSealer(bytes.Repeat([]byte{7}, 32), "test-key")
	require.NoError(t, err)

	evaluator := condition.NewEvaluator(nil)
	h := &harness{
		store:     store.NewMemorySubmissionStore(),
		idem:      NewMemoryIdempotencyStore(),
		publisher: &recordingPublisher{},
		metrics:   observability.InitMetrics(prometheus.NewRegistry()),
	}
	base := []Option{
		WithIdempotencyStore(h.idem, time.Hour),
		WithPublisher(h.publisher),
		WithMetrics(h.metrics),
		WithClock(func() time.Time { return fixedNow }),
	}
	h.svc = NewService(
		definition.NewRegistry(testDefinitions()),
		validation.NewEngine(evaluator, validation.WithClock(func() time.Time { return fixedNow })),
		transform.NewTransformer(sealer, evaluator, nil),
		submission.NewValidator(nil),
		h.store,
		append(base, opts...)...,
	)
	return h
}

func validAnswers() model.Map {
	return model.Map{
		"annuitant_first_name": model.Text("Ada"),
		"annuitant_last_name":  model.Text("Lovelace"),
		"premium":              model.Int(50000),
		"allocations": model.List{
			model.Map{"fund_id": model.Text("sp500"), "percentage": model.Int(100)},
		},
	}
}

func sctx(appID string) model.SubmissionContext {
	return model.SubmissionContext{ApplicationID: appID, ProducerID: "agent-7"}
}

func errorCode(t *testing.T, err error) string {
	t.Helper()
	var env *model.ErrorEnvelope
	require.ErrorAs(t, err, &env)
	return env.Code
}

// --- ValidateAnswers ---

func TestService_ValidateAnswers(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.ValidateAnswers(context.Background(), "fia-7", validAnswers(), "")
	require.NoError(t, err)
	assert.True(t, res.Valid)

	res, err = h.svc.ValidateAnswers(context.Background(), "fia-7", model.Map{}, "")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Len(t, res.Errors, 3)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ValidationsTotal.WithLabelValues("fia-7", "invalid")))
	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.ValidationErrorsTotal.WithLabelValues("fia-7", "required")))
}

func TestService_ValidateAnswers_page(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.ValidateAnswers(context.Background(), "fia-7", model.Map{}, "funding")
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "premium", res.Errors[0].QuestionID)
}

func TestService_ValidateAnswers_unknownPage(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.ValidateAnswers(context.Background(), "fia-7", model.Map{}, "nope")
	assert.Equal(t, model.ErrNotFound, errorCode(t, err))
}

func TestService_ValidateAnswers_unknownProduct(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.ValidateAnswers(context.Background(), "nope", model.Map{}, "")
	assert.Equal(t, model.ErrNotFound, errorCode(t, err))
}

func TestService_ValidateAnswers_engineFault(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.ValidateAnswers(context.Background(), "broken", model.Map{}, "")
	assert.Equal(t, model.ErrInternalValidationError, errorCode(t, err))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.EngineFaultsTotal.WithLabelValues("validate")))
}

// --- Preview ---

func TestService_Preview(t *testing.T) {
	h := newHarness(t)

	sub, res, err := h.svc.Preview(context.Background(), "fia-7", validAnswers(), sctx("app-1"))
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, "Ada", sub.Annuitant.FirstName)
	assert.Equal(t, "app-1", sub.Envelope.ApplicationID)
	assert.Equal(t, transform.SubmissionID("app-1", fixedNow.Format(time.RFC3339)), sub.Envelope.SubmissionID)
	assert.Equal(t, 0, h.store.Len(), "preview must not persist")
	assert.Equal(t, 0, h.publisher.count(), "preview must not publish")
}

func TestService_Preview_generatesApplicationID(t *testing.T) {
	h := newHarness(t)

	sub, _, err := h.svc.Preview(context.Background(), "fia-7", validAnswers(), model.SubmissionContext{})
	require.NoError(t, err)
	assert.NotEmpty(t, sub.Envelope.ApplicationID)
}

// --- Submit ---

func TestService_Submit_accepted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sub, err := h.svc.Submit(ctx, "fia-7", validAnswers(), sctx("app-1"), "")
	require.NoError(t, err)
	assert.Equal(t, "fia-7", sub.Envelope.ProductID)
	assert.Equal(t, "agent-7", sub.Envelope.ProducerID)

	got, err := h.svc.Get(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, sub.Envelope.SubmissionID, got.Envelope.SubmissionID)

	require.Equal(t, 1, h.publisher.count())
	assert.Equal(t, events.TypeSubmitted, h.publisher.events[0].Type)
	assert.Equal(t, "app-1", h.publisher.events[0].ApplicationID)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SubmissionsTotal.WithLabelValues("fia-7", OutcomeAccepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.EventsPublishedTotal.WithLabelValues("ok")))
}

func TestService_Submit_invalidAnswers(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Submit(context.Background(), "fia-7", model.Map{}, sctx("app-1"), "key-1")
	require.Error(t, err)

	var env *model.ErrorEnvelope
	require.ErrorAs(t, err, &env)
	assert.Equal(t, model.ErrValidationError, env.Code)
	assert.Len(t, env.Details, 3)

	assert.Equal(t, 0, h.store.Len())
	assert.Equal(t, 0, h.publisher.count())
	assert.Equal(t, 0, h.idem.Len(), "failed submits are not cached")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SubmissionsTotal.WithLabelValues("fia-7", OutcomeInvalid)))
}

func TestService_Submit_rejected(t *testing.T) {
	h := newHarness(t)
	answers := validAnswers()
	// A 1035 exchange with no transfer details passes answer validation but
	// fails transfer-count consistency.
	answers["funding_methods"] = model.List{model.Text("exchange_1035")}

	_, err := h.svc.Submit(context.Background(), "fia-7", answers, sctx("app-1"), "")

	var env *model.ErrorEnvelope
	require.ErrorAs(t, err, &env)
	assert.Equal(t, model.ErrSubmissionRejected, env.Code)
	require.Len(t, env.Details, 1)
	assert.Equal(t, string(model.RuleTransferCount), env.Details[0].Code)

	assert.Equal(t, 0, h.store.Len(), "rejected submissions are not persisted")
	assert.Equal(t, 0, h.publisher.count())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SubmissionRejectionsTotal.WithLabelValues(string(model.RuleTransferCount))))
}

func TestService_Submit_unknownProduct(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Submit(context.Background(), "nope", validAnswers(), sctx("app-1"), "")
	assert.Equal(t, model.ErrNotFound, errorCode(t, err))
}

func TestService_Submit_engineFault(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Submit(context.Background(), "broken", model.Map{}, sctx("app-1"), "")
	assert.Equal(t, model.ErrInternalValidationError, errorCode(t, err))
	assert.Equal(t, 0, h.store.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SubmissionsTotal.WithLabelValues("broken", OutcomeInternalError)))
}

func TestService_Submit_idempotentReplay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.svc.Submit(ctx, "fia-7", validAnswers(), model.SubmissionContext{ProducerID: "agent-7"}, "key-1")
	require.NoError(t, err)

	second, err := h.svc.Submit(ctx, "fia-7", validAnswers(), model.SubmissionContext{ProducerID: "agent-7"}, "key-1")
	require.NoError(t, err)

	assert.Equal(t, first.Envelope.ApplicationID, second.Envelope.ApplicationID)
	assert.Equal(t, first.Envelope.SubmissionID, second.Envelope.SubmissionID)
	assert.Equal(t, 1, h.store.Len())
	assert.Equal(t, 1, h.publisher.count(), "replays are not republished")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.IdempotencyReplaysTotal))
}

func TestService_Submit_idempotencyConflict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Submit(ctx, "fia-7", validAnswers(), sctx("app-1"), "key-1")
	require.NoError(t, err)

	changed := validAnswers()
	changed["premium"] = model.Int(75000)
	_, err = h.svc.Submit(ctx, "fia-7", changed, sctx("app-1"), "key-1")
	assert.Equal(t, model.ErrConflict, errorCode(t, err))
}

func TestService_Submit_duplicateApplication(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Submit(ctx, "fia-7", validAnswers(), sctx("app-1"), "")
	require.NoError(t, err)

	_, err = h.svc.Submit(ctx, "fia-7", validAnswers(), sctx("app-1"), "")
	assert.Equal(t, model.ErrConflict, errorCode(t, err))
	assert.Equal(t, 1, h.publisher.count())
}

func TestService_Submit_publishFailureStillAccepts(t *testing.T) {
	h := newHarness(t)
	h.publisher.err = errors.New("broker down")

	sub, err := h.svc.Submit(context.Background(), "fia-7", validAnswers(), sctx("app-1"), "")
	require.NoError(t, err)
	assert.NotNil(t, sub)
	assert.Equal(t, 1, h.store.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.EventsPublishedTotal.WithLabelValues("error")))
}

func TestService_Submit_withoutIdempotencyStore(t *testing.T) {
	h := newHarness(t, WithIdempotencyStore(nil, 0))

	_, err := h.svc.Submit(context.Background(), "fia-7", validAnswers(), sctx("app-1"), "key-1")
	require.NoError(t, err)
	assert.Equal(t, 0, h.idem.Len())
}

// --- Get ---

func TestService_Get_notFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Get(context.Background(), "missing")
	assert.Equal(t, model.ErrNotFound, errorCode(t, err))
}
