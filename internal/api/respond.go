package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vdrs/dykscribe/internal/observe"
	"github.com/vdrs/dykscribe/internal/speech"
	"github.com/vdrs/dykscribe/internal/structuring"
	"github.com/vdrs/dykscribe/internal/submission"
	"github.com/vdrs/dykscribe/internal/validate"
)

// ErrorBody is the standardized error object carried by every non-2xx
// response.
type ErrorBody struct {
	// Code is a stable machine-readable identifier ("validation_error",
	// "state_conflict", "not_found", ...).
	Code string `json:"code"`

	// Message is safe to show to the technician. Raw provider errors are
	// logged server-side and never end up here.
	Message string `json:"message"`

	// Details carries structured context for some codes, such as the byte
	// limits of a rejected upload.
	Details any `json:"details,omitempty"`
}

// ErrorResponse wraps the error body.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// respondError sends a standardized error response and aborts the handler
// chain.
func respondError(c *gin.Context, status int, code, message string, details any) {
	observe.Logger(c.Request.Context()).Warn("request failed",
		"status", status,
		"code", code,
		"message", message,
		"path", c.Request.URL.Path,
		"method", c.Request.Method)

	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// respondEngineError translates an engine or pipeline error into the HTTP
// envelope. The mapping mirrors the error taxonomy:
//
//   - validation errors → 422 with the limit details
//   - the exclusivity guard → 422 guidance, not a failure
//   - state guards → 409, the draft cannot take this operation right now
//   - missing capability (no transcriber, no vector store) → 501
//   - transcription/structuring failures → 502, the draft rolled back
//   - store failures → 503, the draft stays finalized and persist may be
//     retried
func respondEngineError(c *gin.Context, err error) {
	var vErr *validate.Error
	var excErr *submission.ExclusivityError
	var stateErr *submission.StateError

	switch {
	case errors.As(err, &vErr):
		respondError(c, http.StatusUnprocessableEntity, "validation_error", vErr.Error(), gin.H{
			"field":  vErr.Field,
			"reason": string(vErr.Reason),
			"size":   vErr.Size,
			"limit":  vErr.Limit,
		})
	case errors.As(err, &excErr):
		respondError(c, http.StatusUnprocessableEntity, "input_exclusivity", excErr.Error(), gin.H{
			"has_audio": excErr.HasAudio,
			"has_typed": excErr.HasTyped,
		})
	case errors.As(err, &stateErr):
		respondError(c, http.StatusConflict, "state_conflict", stateErr.Error(), nil)
	case errors.Is(err, submission.ErrNoTranscriber):
		respondError(c, http.StatusNotImplemented, "no_transcriber",
			"this deployment has no transcription provider; submit typed Q&A text instead", nil)
	case errors.Is(err, submission.ErrSimilarityUnsupported):
		respondError(c, http.StatusNotImplemented, "similarity_unsupported",
			"similarity search needs an embeddings provider and a vector-capable store", nil)
	case errors.Is(err, submission.ErrStoreFailed):
		respondError(c, http.StatusServiceUnavailable, "store_failed",
			"the submission could not be stored; it is kept and persist may be retried", nil)
	case errors.Is(err, speech.ErrTranscriptionFailed):
		respondError(c, http.StatusBadGateway, "transcription_failed",
			"transcription failed; the draft rolled back with all input kept", nil)
	case errors.Is(err, structuring.ErrStructuringFailed):
		respondError(c, http.StatusBadGateway, "structuring_failed",
			"structuring failed; the draft rolled back with all input kept", nil)
	case errors.Is(err, submission.ErrNotFound):
		respondError(c, http.StatusNotFound, "not_found", "submission not found", nil)
	default:
		respondError(c, http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}
