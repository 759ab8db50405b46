// Package intake runs the e-application pipeline for one application at a
// time: answer validation, transformation, submission checks, persistence and
// publication.
package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/eapp/internal/events"
	"github.com/pitabwire/eapp/internal/observability"
	"github.com/pitabwire/eapp/internal/store"
	"github.com/pitabwire/eapp/internal/submission"
	"github.com/pitabwire/eapp/internal/transform"
	"github.com/pitabwire/eapp/internal/validation"
	"github.com/pitabwire/eapp/model"
)

// Submission outcomes recorded in metrics.
const (
	OutcomeAccepted      = "accepted"
	OutcomeInvalid       = "invalid"
	OutcomeRejected      = "rejected"
	OutcomeReplayed      = "replayed"
	OutcomeInternalError = "internal_error"
)

// DefaultIdempotencyTTL is used when WithIdempotencyStore is given no TTL.
const DefaultIdempotencyTTL = 24 * time.Hour

// Definitions resolves the active definition for a product.
type Definitions interface {
	Get(productID string) (*model.ApplicationDefinition, bool)
}

// Service orchestrates validate, preview, submit and lookup.
type Service struct {
	definitions    Definitions
	engine         *validation.Engine
	transformer    *transform.Transformer
	checker        *submission.Validator
	store          store.SubmissionStore
	idempotency    IdempotencyStore
	idempotencyTTL time.Duration
	publisher      events.Publisher
	metrics        *observability.Metrics
	logger         *zap.Logger
	now            func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithIdempotencyStore enables submit deduplication. A zero ttl uses
// DefaultIdempotencyTTL.
func WithIdempotencyStore(s IdempotencyStore, ttl time.Duration) Option {
	return func(svc *Service) {
		svc.idempotency = s
		if ttl > 0 {
			svc.idempotencyTTL = ttl
		}
	}
}

// WithPublisher sets the publisher for accepted submissions.
func WithPublisher(p events.Publisher) Option {
	return func(svc *Service) { svc.publisher = p }
}

// WithMetrics enables metrics recording.
func WithMetrics(m *observability.Metrics) Option {
	return func(svc *Service) { svc.metrics = m }
}

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) Option {
	return func(svc *Service) { svc.logger = logger }
}

// WithClock replaces the clock used for submission timestamps.
func WithClock(now func() time.Time) Option {
	return func(svc *Service) { svc.now = now }
}

// NewService creates a Service.
func NewService(
	definitions Definitions,
	engine *validation.Engine,
	transformer *transform.Transformer,
	checker *submission.Validator,
	submissions store.SubmissionStore,
	opts ...Option,
) *Service {
	svc := &Service{
		definitions:    definitions,
		engine:         engine,
		transformer:    transformer,
		checker:        checker,
		store:          submissions,
		idempotencyTTL: DefaultIdempotencyTTL,
		publisher:      events.NoopPublisher{},
		logger:         zap.NewNop(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

func (s *Service) definition(productID string) (*model.ApplicationDefinition, error) {
	def, ok := s.definitions.Get(productID)
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("product %q not found", productID))
	}
	return def, nil
}

// ValidateAnswers checks answers against the product's definition. A
// non-empty pageID restricts the pass to that page.
func (s *Service) ValidateAnswers(ctx context.Context, productID string, answers model.Map, pageID string) (model.Result, error) {
	def, err := s.definition(productID)
	if err != nil {
		return model.Result{}, err
	}

	scope := validation.ScopeFull
	if pageID != "" {
		if def.Page(pageID) == nil {
			return model.Result{}, model.NewNotFoundError(
				fmt.Sprintf("page %q not found in product %q", pageID, productID),
			)
		}
		scope = validation.ScopePage
	}

	return s.validate(ctx, def, answers, scope, pageID)
}

// Preview builds the canonical document for answers without validating or
// persisting it. The submission-level result is returned alongside so
// callers can surface consistency problems early.
func (s *Service) Preview(ctx context.Context, productID string, answers model.Map, sctx model.SubmissionContext) (*model.ApplicationSubmission, model.Result, error) {
	def, err := s.definition(productID)
	if err != nil {
		return nil, model.Result{}, err
	}
	s.fillContext(&sctx)

	sub, err := s.transform(ctx, def, answers, sctx)
	if err != nil {
		return nil, model.Result{}, err
	}
	res, err := s.check(ctx, sub)
	if err != nil {
		return nil, model.Result{}, err
	}
	return sub, res, nil
}

// Submit runs the full pipeline. Accepted submissions are persisted and
// published; rejected ones leave no trace. With a non-empty idempotencyKey a
// repeated call with the same answers returns the first accepted document.
func (s *Service) Submit(
	ctx context.Context,
	productID string,
	answers model.Map,
	sctx model.SubmissionContext,
	idempotencyKey string,
) (sub *model.ApplicationSubmission, err error) {
	// Replays are matched on the caller's application id, before one is
	// generated.
	requestedID := sctx.ApplicationID
	s.fillContext(&sctx)

	ctx, span := observability.StartSpan(ctx, "intake.submit",
		observability.SubmissionAttributes(productID, sctx)...)
	defer func() { observability.EndSpanWithError(span, err) }()

	logger := observability.RequestLogger(ctx, s.logger).With(
		zap.String("product_id", productID),
		zap.String("application_id", sctx.ApplicationID),
	)

	outcome := OutcomeAccepted
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordSubmission(productID, outcome)
		}
	}()

	def, err := s.definition(productID)
	if err != nil {
		outcome = OutcomeInvalid
		return nil, err
	}
	span.SetAttributes(observability.AttrDefinitionVersion.String(def.Version))

	// Step 1: Idempotency check.
	var idemKey, inputHash string
	if idempotencyKey != "" && s.idempotency != nil {
		idemKey = FormatIdempotencyKey(productID, idempotencyKey)
		inputHash = hashInput(requestedID, answers)
		cached, found, checkErr := s.idempotency.Check(ctx, idemKey, inputHash)
		if checkErr != nil {
			if model.ErrorCode(checkErr) != "" {
				outcome = OutcomeInvalid
				return nil, checkErr
			}
			// Store unavailable: proceed without deduplication.
			logger.Warn("idempotency check failed", zap.Error(checkErr))
		} else if found {
			outcome = OutcomeReplayed
			span.SetAttributes(observability.AttrIdempotentReplay.Bool(true))
			if s.metrics != nil {
				s.metrics.RecordIdempotencyReplay()
			}
			logger.Info("submission replayed", zap.String("submission_id", cached.Envelope.SubmissionID))
			return cached, nil
		}
	}

	// Step 2: Validate answers.
	res, err := s.validate(ctx, def, answers, validation.ScopeFull, "")
	if err != nil {
		outcome = OutcomeInternalError
		return nil, err
	}
	if !res.Valid {
		outcome = OutcomeInvalid
		logger.Info("answers invalid", zap.Int("errors", len(res.Errors)))
		if ce := logger.Check(zap.DebugLevel, "invalid answers"); ce != nil {
			ce.Write(observability.AnswersField(answers))
		}
		return nil, model.NewValidationError(res.FieldErrors())
	}

	// Step 3: Transform.
	sub, err = s.transform(ctx, def, answers, sctx)
	if err != nil {
		outcome = OutcomeInternalError
		return nil, err
	}
	span.SetAttributes(observability.AttrSubmissionID.String(sub.Envelope.SubmissionID))

	// Step 4: Submission-level checks.
	res, err = s.check(ctx, sub)
	if err != nil {
		outcome = OutcomeInternalError
		return nil, err
	}
	if !res.Valid {
		outcome = OutcomeRejected
		if s.metrics != nil {
			for _, e := range res.Errors {
				s.metrics.RecordSubmissionRejection(string(e.Rule))
			}
		}
		return nil, model.NewSubmissionRejectedError(res.FieldErrors())
	}

	// Step 5: Persist.
	if err := s.save(ctx, sub, idempotencyKey); err != nil {
		outcome = OutcomeInternalError
		if model.ErrorCode(err) == model.ErrConflict {
			outcome = OutcomeRejected
		}
		return nil, err
	}

	// Step 6: Publish. The document is already durable; a failed publish is
	// logged, not returned.
	s.publish(ctx, sub, logger)

	// Step 7: Remember the outcome for replays.
	if idemKey != "" {
		if storeErr := s.idempotency.Store(ctx, idemKey, inputHash, *sub, s.idempotencyTTL); storeErr != nil {
			logger.Warn("idempotency store failed", zap.Error(storeErr))
		}
	}

	logger.Info("submission accepted", zap.String("submission_id", sub.Envelope.SubmissionID))
	return sub, nil
}

// Get returns the accepted submission for an application.
func (s *Service) Get(ctx context.Context, applicationID string) (*model.ApplicationSubmission, error) {
	rec, err := s.store.Get(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	return &rec.Document, nil
}

// fillContext defaults the application id and timestamp.
func (s *Service) fillContext(sctx *model.SubmissionContext) {
	if sctx.ApplicationID == "" {
		sctx.ApplicationID = uuid.NewString()
	}
	if sctx.SubmittedAt.IsZero() {
		sctx.SubmittedAt = s.now()
	}
}

func (s *Service) validate(
	ctx context.Context,
	def *model.ApplicationDefinition,
	answers model.Map,
	scope validation.Scope,
	pageID string,
) (res model.Result, err error) {
	ctx, span := observability.StartSpan(ctx, "answers.validate",
		observability.AttrProductID.String(def.ProductID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()
	defer s.recoverFault(ctx, "validate", def, &err)

	start := time.Now()
	res = s.engine.Validate(def, answers, scope, pageID)
	span.SetAttributes(observability.AttrErrorCount.Int(len(res.Errors)))

	if s.metrics != nil {
		codes := make([]string, 0, len(res.Errors))
		for _, e := range res.Errors {
			codes = append(codes, string(e.Rule))
		}
		s.metrics.RecordValidation(def.ProductID, codes, time.Since(start))
	}
	return res, nil
}

func (s *Service) transform(
	ctx context.Context,
	def *model.ApplicationDefinition,
	answers model.Map,
	sctx model.SubmissionContext,
) (sub *model.ApplicationSubmission, err error) {
	ctx, span := observability.StartSpan(ctx, "submission.transform",
		observability.AttrProductID.String(def.ProductID),
		observability.AttrApplicationID.String(sctx.ApplicationID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()
	defer s.recoverFault(ctx, "transform", def, &err)

	start := time.Now()
	sub = s.transformer.Transform(def, answers, sctx)
	if s.metrics != nil {
		s.metrics.RecordTransform(def.ProductID, time.Since(start))
	}
	return sub, nil
}

func (s *Service) check(ctx context.Context, sub *model.ApplicationSubmission) (res model.Result, err error) {
	ctx, span := observability.StartSpan(ctx, "submission.validate",
		observability.AttrSubmissionID.String(sub.Envelope.SubmissionID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()
	defer s.recoverFault(ctx, "submission_check", nil, &err)

	res = s.checker.Validate(sub)
	span.SetAttributes(observability.AttrErrorCount.Int(len(res.Errors)))
	return res, nil
}

func (s *Service) save(ctx context.Context, sub *model.ApplicationSubmission, idempotencyKey string) (err error) {
	ctx, span := observability.StartSpan(ctx, "submission.store",
		observability.AttrApplicationID.String(sub.Envelope.ApplicationID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	return s.store.Save(ctx, store.Record{
		ApplicationID:  sub.Envelope.ApplicationID,
		SubmissionID:   sub.Envelope.SubmissionID,
		ProductID:      sub.Envelope.ProductID,
		ProducerID:     sub.Envelope.ProducerID,
		IdempotencyKey: idempotencyKey,
		Document:       *sub,
	})
}

func (s *Service) publish(ctx context.Context, sub *model.ApplicationSubmission, logger *zap.Logger) {
	ctx, span := observability.StartSpan(ctx, "event.publish",
		observability.AttrSubmissionID.String(sub.Envelope.SubmissionID),
	)
	err := s.publisher.Publish(ctx, events.NewSubmittedEvent(sub, s.now()))
	observability.EndSpanWithError(span, err)

	status := "ok"
	if err != nil {
		status = "error"
		logger.Error("publish submitted event failed",
			zap.String("submission_id", sub.Envelope.SubmissionID),
			zap.Error(err),
		)
	}
	if s.metrics != nil {
		s.metrics.RecordEventPublished(status)
	}
}

// recoverFault turns an engine panic into INTERNAL_VALIDATION_ERROR. It
// must be deferred directly.
func (s *Service) recoverFault(ctx context.Context, stage string, def *model.ApplicationDefinition, err *error) {
	r := recover()
	if r == nil {
		return
	}

	fields := []zap.Field{
		zap.String("stage", stage),
		zap.Any("panic", r),
		zap.Stack("stack"),
	}
	if def != nil {
		fields = append(fields,
			zap.String("product_id", def.ProductID),
			zap.String("definition_version", def.Version),
		)
	}
	var defErr *model.DefinitionError
	if e, ok := r.(error); ok && errors.As(e, &defErr) {
		fields = append(fields, zap.String("definition_path", defErr.Path))
	}
	observability.RequestLogger(ctx, s.logger).Error("engine fault", fields...)

	if s.metrics != nil {
		s.metrics.RecordEngineFault(stage)
	}
	*err = model.NewInternalValidationError()
}
