package model

import (
	"errors"
	"fmt"
)

// Error codes carried in ErrorEnvelope.Code.
const (
	ErrBadRequest              = "BAD_REQUEST"
	ErrUnauthorized            = "UNAUTHORIZED"
	ErrNotFound                = "NOT_FOUND"
	ErrConflict                = "CONFLICT"
	ErrValidationError         = "VALIDATION_ERROR"
	ErrSubmissionRejected      = "SUBMISSION_REJECTED"
	ErrInternalValidationError = "INTERNAL_VALIDATION_ERROR"
	ErrInternalError           = "INTERNAL_ERROR"
)

// ErrorEnvelope is the error body the API returns. Internal layers return
// it as an error; the transport maps Code to an HTTP status.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id"`
}

func (e *ErrorEnvelope) Error() string {
	if n := len(e.Details); n > 0 {
		return fmt.Sprintf("%s: %s (%d fields)", e.Code, e.Message, n)
	}
	return e.Code + ": " + e.Message
}

// FieldError describes one offending field. Field is a dotted path that
// carries instance and item indices where they apply, e.g.
// "transfer_details[1].surrendering_company".
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorCode returns the code of the envelope wrapped by err, or "" when
// err carries none.
func ErrorCode(err error) string {
	var ee *ErrorEnvelope
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError reports answers that failed definition rules. The
// caller can correct them and retry.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrValidationError, Message: "One or more answers are invalid", Details: details}
}

// NewSubmissionRejectedError reports a transformed document that broke a
// cross-field invariant.
func NewSubmissionRejectedError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrSubmissionRejected, Message: "The submission failed consistency checks", Details: details}
}

// NewInternalValidationError reports an engine fault on a malformed
// definition. It is never user-correctable.
func NewInternalValidationError() *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInternalValidationError, Message: "internal validation error"}
}

func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInternalError, Message: "An unexpected error occurred"}
}

// DefinitionError reports a malformed application definition. Decoders
// return it; evaluators panic with it when a malformed definition slips past
// loading.
type DefinitionError struct {
	Path    string
	Message string
}

func (e *DefinitionError) Error() string {
	return e.Path + ": " + e.Message
}
