package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/civicwatch/civicwatch/internal/services"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// Machine-readable error codes
const (
	CodeNotFound   = "not_found"
	CodeValidation = "validation_error"
	CodeConflict   = "conflict"
	CodeInternal   = "internal_error"
	CodeBadRequest = "bad_request"
)

// RespondJSON writes data as a JSON response with the given status code.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", "error", err)
		}
	}
}

// RespondError writes a standard error response.
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorResponse{Error: message})
}

// RespondErrorWithCode writes an error response with a machine-readable code.
func RespondErrorWithCode(w http.ResponseWriter, status int, code, message string) {
	RespondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// RespondValidationError writes field-level validation errors as a 422 response.
func RespondValidationError(w http.ResponseWriter, fieldErrors map[string]string) {
	RespondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
		Error:   "Validation failed",
		Code:    CodeValidation,
		Details: fieldErrors,
	})
}

// RespondServiceError maps a service-layer error onto its HTTP status:
// not found 404, validation 422, conflict 409, anything else 500.
// Internal errors are logged and not echoed to the client.
func RespondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *services.ValidationError
	switch {
	case errors.As(err, &validationErr):
		details := map[string]string{}
		if validationErr.Field != "" {
			details[validationErr.Field] = validationErr.Message
		}
		RespondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   validationErr.Error(),
			Code:    CodeValidation,
			Details: details,
		})
	case errors.Is(err, services.ErrNotFound):
		RespondErrorWithCode(w, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, services.ErrConflict):
		RespondErrorWithCode(w, http.StatusConflict, CodeConflict, err.Error())
	default:
		slog.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		RespondErrorWithCode(w, http.StatusInternalServerError, CodeInternal, "internal server error")
	}
}
