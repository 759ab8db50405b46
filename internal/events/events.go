// Package events publishes application lifecycle events to downstream
// carrier integration.
package events

import (
	"context"
	"time"

	"github.com/pitabwire/eapp/model"
)

// TypeSubmitted is the event type emitted for every accepted submission.
const TypeSubmitted = "application.submitted"

// SubmittedEvent announces an accepted submission. Submission carries the
// canonical document with tax ids still sealed.
type SubmittedEvent struct {
	Type          string                       `json:"type"`
	SchemaVersion string                       `json:"schemaVersion"`
	ApplicationID string                       `json:"applicationId"`
	SubmissionID  string                       `json:"submissionId"`
	ProductID     string                       `json:"productId"`
	ProducerID    string                       `json:"producerId"`
	OccurredAt    time.Time                    `json:"occurredAt"`
	Submission    *model.ApplicationSubmission `json:"submission"`
}

// NewSubmittedEvent builds the event for an accepted submission.
func NewSubmittedEvent(sub *model.ApplicationSubmission, occurredAt time.Time) SubmittedEvent {
	return SubmittedEvent{
		Type:          TypeSubmitted,
		SchemaVersion: sub.Envelope.SchemaVersion,
		ApplicationID: sub.Envelope.ApplicationID,
		SubmissionID:  sub.Envelope.SubmissionID,
		ProductID:     sub.Envelope.ProductID,
		ProducerID:    sub.Envelope.ProducerID,
		OccurredAt:    occurredAt.UTC(),
		Submission:    sub,
	}
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, event SubmittedEvent) error
}

// NoopPublisher discards events. It is used when events are disabled.
type NoopPublisher struct{}

// Publish does nothing.
func (NoopPublisher) Publish(context.Context, SubmittedEvent) error { return nil }
