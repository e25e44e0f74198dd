package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/obwan02/Actionator/pkg/schema"
)

type errorResponse struct {
	Error *schema.ActionatorError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

// statusFor maps an error code to its HTTP status.
func statusFor(code string) int {
	switch code {
	case schema.ErrCodeValidation:
		return http.StatusBadRequest
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeConflict:
		return http.StatusConflict
	case schema.ErrCodeQueueFull:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// asError returns err as a structured error, wrapping unstructured ones as
// INVOCATION_ERROR.
func asError(err error) *schema.ActionatorError {
	var aerr *schema.ActionatorError
	if errors.As(err, &aerr) {
		return aerr
	}
	return schema.NewError(schema.ErrCodeInvocation, err.Error()).WithCause(err)
}

func writeError(w http.ResponseWriter, err error) {
	aerr := asError(err)
	writeJSON(w, statusFor(aerr.Code), errorResponse{Error: aerr})
}

// readBody reads the request body up to limit bytes.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
				Error: schema.NewError(schema.ErrCodeValidation, "request body too large"),
			})
			return nil, false
		}
		writeError(w, schema.NewErrorf(schema.ErrCodeValidation, "read request body: %s", err.Error()))
		return nil, false
	}
	return body, true
}
