package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/eapp/model"
)

//go:embed schema.sql
var schemaSQL string

// PgSubmissionStore is a PostgreSQL-backed SubmissionStore using pgx/v5. The
// canonical document is stored as JSONB.
type PgSubmissionStore struct {
	pool *pgxpool.Pool
}

// NewPgSubmissionStore creates a new PostgreSQL submission store.
func NewPgSubmissionStore(pool *pgxpool.Pool) *PgSubmissionStore {
	return &PgSubmissionStore{pool: pool}
}

// Migrate creates the submissions table if it does not exist.
func (s *PgSubmissionStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply submissions schema: %w", err)
	}
	return nil
}

// Save inserts an accepted submission.
func (s *PgSubmissionStore) Save(ctx context.Context, rec Record) error {
	doc, err := json.Marshal(rec.Document)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO submissions (
			application_id, submission_id, product_id, producer_id,
			idempotency_key, schema_version, document, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (application_id) DO NOTHING`,
		rec.ApplicationID, rec.SubmissionID, rec.ProductID, rec.ProducerID,
		rec.IdempotencyKey, rec.Document.Envelope.SchemaVersion, doc, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("application %q has already been submitted", rec.ApplicationID),
		)
	}
	return nil
}

// Get retrieves the accepted submission for an application.
func (s *PgSubmissionStore) Get(ctx context.Context, applicationID string) (Record, error) {
	var rec Record
	var doc []byte

	err := s.pool.QueryRow(ctx, `
		SELECT application_id, submission_id, product_id, producer_id,
		       idempotency_key, document, created_at
		FROM submissions
		WHERE application_id = $1`,
		applicationID,
	).Scan(
		&rec.ApplicationID, &rec.SubmissionID, &rec.ProductID, &rec.ProducerID,
		&rec.IdempotencyKey, &doc, &rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, model.NewNotFoundError(
			fmt.Sprintf("submission for application %q not found", applicationID),
		)
	}
	if err != nil {
		return Record{}, fmt.Errorf("query submission: %w", err)
	}

	if err := json.Unmarshal(doc, &rec.Document); err != nil {
		return Record{}, fmt.Errorf("unmarshal document: %w", err)
	}
	return rec, nil
}

// HealthCheck pings the database.
func (s *PgSubmissionStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
