// Package store persists accepted submissions.
package store

import (
	"context"
	"time"

	"github.com/pitabwire/eapp/model"
)

// Record is an accepted submission as persisted.
type Record struct {
	ApplicationID  string
	SubmissionID   string
	ProductID      string
	ProducerID     string
	IdempotencyKey string
	Document       model.ApplicationSubmission
	CreatedAt      time.Time
}

// SubmissionStore persists accepted submissions. A submission is written
// once; it is never updated.
type SubmissionStore interface {
	// Save persists an accepted submission. Returns CONFLICT if a submission
	// already exists for the application.
	Save(ctx context.Context, rec Record) error

	// Get retrieves the accepted submission for an application. Returns
	// NOT_FOUND if none exists.
	Get(ctx context.Context, applicationID string) (Record, error)
}
