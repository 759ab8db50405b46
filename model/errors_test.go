package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorEnvelope_Error(t *testing.T) {
	tests := []struct {
		err  *ErrorEnvelope
		want string
	}{
		{NewNotFoundError("submission not found"), "NOT_FOUND: submission not found"},
		{NewValidationError([]FieldError{{Field: "owner_ssn"}, {Field: "owner_dob"}}), "VALIDATION_ERROR: One or more answers are invalid (2 fields)"},
		{NewInternalValidationError(), "INTERNAL_VALIDATION_ERROR: internal validation error"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestConstructors(t *testing.T) {
	details := []FieldError{{Field: "allocations", Code: "allocation/percentage-sum"}}
	tests := []struct {
		name        string
		err         *ErrorEnvelope
		code        string
		wantDetails int
	}{
		{"bad request", NewBadRequestError("answers must be an object"), ErrBadRequest, 0},
		{"unauthorized", NewUnauthorizedError("Token expired"), ErrUnauthorized, 0},
		{"not found", NewNotFoundError("product not found"), ErrNotFound, 0},
		{"conflict", NewConflictError("application already submitted"), ErrConflict, 0},
		{"validation", NewValidationError(details), ErrValidationError, 1},
		{"rejected", NewSubmissionRejectedError(details), ErrSubmissionRejected, 1},
		{"engine fault", NewInternalValidationError(), ErrInternalValidationError, 0},
		{"internal", NewInternalError(), ErrInternalError, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.code)
			}
			if tt.err.Message == "" {
				t.Error("Message should not be empty")
			}
			if len(tt.err.Details) != tt.wantDetails {
				t.Errorf("Details = %v, want %d", tt.err.Details, tt.wantDetails)
			}
			if tt.err.TraceID != "" {
				t.Errorf("TraceID = %q, set by transport only", tt.err.TraceID)
			}
		})
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"envelope", NewConflictError("duplicate"), ErrConflict},
		{"wrapped", fmt.Errorf("save app-1: %w", NewConflictError("duplicate")), ErrConflict},
		{"joined", errors.Join(errors.New("publish"), NewNotFoundError("gone")), ErrNotFound},
		{"plain", errors.New("redis: connection refused"), ""},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorCode(tt.err); got != tt.want {
				t.Errorf("ErrorCode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDefinitionError(t *testing.T) {
	err := fmt.Errorf("load fia-7: %w", &DefinitionError{Path: "pages[0].questions[2]", Message: "unknown rule type"})

	var de *DefinitionError
	if !errors.As(err, &de) {
		t.Fatal("errors.As should find the DefinitionError")
	}
	if got := de.Error(); got != "pages[0].questions[2]: unknown rule type" {
		t.Errorf("Error() = %q", got)
	}
}
