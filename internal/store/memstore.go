package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pitabwire/eapp/model"
)

// MemorySubmissionStore is an in-memory SubmissionStore for development and
// tests.
type MemorySubmissionStore struct {
	mu      sync.RWMutex
	records map[string]Record // key: application ID
}

// NewMemorySubmissionStore creates a new in-memory submission store.
func NewMemorySubmissionStore() *MemorySubmissionStore {
	return &MemorySubmissionStore{
		records: make(map[string]Record),
	}
}

// Save persists an accepted submission.
func (s *MemorySubmissionStore) Save(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ApplicationID]; exists {
		return model.NewConflictError(
			fmt.Sprintf("application %q has already been submitted", rec.ApplicationID),
		)
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.records[rec.ApplicationID] = rec
	return nil
}

// Get retrieves the accepted submission for an application.
func (s *MemorySubmissionStore) Get(_ context.Context, applicationID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[applicationID]
	if !exists {
		return Record{}, model.NewNotFoundError(
			fmt.Sprintf("submission for application %q not found", applicationID),
		)
	}
	return rec, nil
}

// Len returns the number of stored submissions.
func (s *MemorySubmissionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// HealthCheck always succeeds.
func (s *MemorySubmissionStore) HealthCheck(_ context.Context) error {
	return nil
}
