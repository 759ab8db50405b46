package model

import (
	"context"
	"errors"
	"time"
)

// Identity errors returned by RequestContext.Authorize.
var (
	ErrNoSubject  = errors.New("token has no subject")
	ErrNoProducer = errors.New("token does not identify a producer")
)

// RequestContext identifies the producer behind a request along with the
// request metadata that ends up in a submission envelope. Handlers treat it
// as read-only.
type RequestContext struct {
	SubjectID     string
	ProducerID    string
	CorrelationID string
	TraceID       string
	SpanID        string
	ClientIP      string
	UserAgent     string
}

// Authorize reports whether the request may submit or read applications.
func (rc *RequestContext) Authorize() error {
	if rc == nil {
		return ErrNoSubject
	}
	return errors.Join(
		requireField(rc.SubjectID, ErrNoSubject),
		requireField(rc.ProducerID, ErrNoProducer),
	)
}

func requireField(v string, err error) error {
	if v == "" {
		return err
	}
	return nil
}

// CanRead reports whether the producer may see a submission recorded for
// owner. Submissions stored without a producer are visible to everyone.
func (rc *RequestContext) CanRead(owner string) bool {
	if rc == nil || owner == "" {
		return true
	}
	return rc.ProducerID == owner
}

// SubmissionContext is the submission-time metadata the transformer cannot
// derive from answers.
type SubmissionContext struct {
	ApplicationID string
	SubmittedAt   time.Time
	ProducerID    string
	ClientIP      string
	UserAgent     string
}

// SubmissionContextFor stamps an application id and time onto the request
// identity. A nil rc yields an anonymous context.
func SubmissionContextFor(rc *RequestContext, applicationID string, now time.Time) SubmissionContext {
	sctx := SubmissionContext{ApplicationID: applicationID, SubmittedAt: now.UTC()}
	if rc == nil {
		return sctx
	}
	sctx.ProducerID = rc.ProducerID
	sctx.ClientIP = rc.ClientIP
	sctx.UserAgent = rc.UserAgent
	return sctx
}

type requestContextKey struct{}

// WithRequestContext returns ctx carrying rc.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// RequestContextFrom returns the RequestContext on ctx, or nil.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc
}
