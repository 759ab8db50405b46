// Package transport is the HTTP surface of eapp: the chi router, its
// middleware chain, JWT authentication and the /v1 handlers.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pitabwire/eapp/internal/observability"
	"github.com/pitabwire/eapp/model"
)

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error *model.ErrorEnvelope `json:"error"`
}

// WriteJSON encodes body as the response with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError answers with err's envelope. Errors that do not wrap an
// *model.ErrorEnvelope are reported as INTERNAL_ERROR without detail.
func WriteError(w http.ResponseWriter, err error) {
	ee := envelopeOf(err)
	WriteJSON(w, httpStatus(ee.Code), ErrorResponse{Error: ee})
}

// WriteErrorCtx is WriteError with trace_id filled from the active span.
// The caller's envelope is left untouched.
func WriteErrorCtx(ctx context.Context, w http.ResponseWriter, err error) {
	ee := *envelopeOf(err)
	ee.TraceID = observability.TraceIDFromContext(ctx)
	WriteJSON(w, httpStatus(ee.Code), ErrorResponse{Error: &ee})
}

func envelopeOf(err error) *model.ErrorEnvelope {
	var ee *model.ErrorEnvelope
	if errors.As(err, &ee) {
		return ee
	}
	return model.NewInternalError()
}

func httpStatus(code string) int {
	switch code {
	case model.ErrBadRequest:
		return http.StatusBadRequest
	case model.ErrUnauthorized:
		return http.StatusUnauthorized
	case model.ErrNotFound:
		return http.StatusNotFound
	case model.ErrConflict:
		return http.StatusConflict
	case model.ErrValidationError, model.ErrSubmissionRejected:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
