package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/eapp/model"
)

// answersRequest is the body of validate, preview and submit.
type answersRequest struct {
	ApplicationID string    `json:"application_id"`
	PageID        string    `json:"page_id"`
	Answers       model.Map `json:"answers"`
}

// PreviewResponse carries the canonical document and its consistency checks.
type PreviewResponse struct {
	Submission *model.ApplicationSubmission `json:"submission"`
	Result     model.Result                 `json:"result"`
}

// SubmissionResponse wraps an accepted submission.
type SubmissionResponse struct {
	Submission *model.ApplicationSubmission `json:"submission"`
}

func decodeAnswers(w http.ResponseWriter, r *http.Request) (answersRequest, bool) {
	var body answersRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteErrorCtx(r.Context(), w, model.NewBadRequestError("request body too large"))
			return body, false
		}
		WriteErrorCtx(r.Context(), w, model.NewBadRequestError("invalid JSON body"))
		return body, false
	}
	if body.Answers == nil {
		body.Answers = model.Map{}
	}
	return body, true
}

// submissionContext builds the submission metadata from the caller's
// identity. The timestamp is left for the service clock.
func submissionContext(r *http.Request, applicationID string) model.SubmissionContext {
	return model.SubmissionContextFor(model.RequestContextFrom(r.Context()), applicationID, time.Time{})
}

func handleValidate(svc Intake) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := decodeAnswers(w, r)
		if !ok {
			return
		}
		res, err := svc.ValidateAnswers(r.Context(), chi.URLParam(r, "productId"), body.Answers, body.PageID)
		if err != nil {
			WriteErrorCtx(r.Context(), w, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}

func handlePreview(svc Intake) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := decodeAnswers(w, r)
		if !ok {
			return
		}
		sub, res, err := svc.Preview(r.Context(), chi.URLParam(r, "productId"), body.Answers,
			submissionContext(r, body.ApplicationID))
		if err != nil {
			WriteErrorCtx(r.Context(), w, err)
			return
		}
		WriteJSON(w, http.StatusOK, PreviewResponse{Submission: sub, Result: res})
	}
}

func handleSubmit(svc Intake) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := decodeAnswers(w, r)
		if !ok {
			return
		}
		sub, err := svc.Submit(r.Context(), chi.URLParam(r, "productId"), body.Answers,
			submissionContext(r, body.ApplicationID), r.Header.Get("X-Idempotency-Key"))
		if err != nil {
			WriteErrorCtx(r.Context(), w, err)
			return
		}
		w.Header().Set("Location", "/v1/submissions/"+sub.Envelope.ApplicationID)
		WriteJSON(w, http.StatusCreated, SubmissionResponse{Submission: sub})
	}
}

func handleGetSubmission(svc Intake) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		sub, err := svc.Get(r.Context(), chi.URLParam(r, "applicationId"))
		if err != nil {
			WriteErrorCtx(r.Context(), w, err)
			return
		}
		if !rctx.CanRead(sub.Envelope.ProducerID) {
			WriteErrorCtx(r.Context(), w, model.NewNotFoundError("submission not found"))
			return
		}
		WriteJSON(w, http.StatusOK, SubmissionResponse{Submission: sub})
	}
}
