package errors

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the uniform error envelope for every non-2xx response.
// CorrelationID lets operators find the matching log lines; nothing else
// about the failure is exposed.
type ErrorResponse struct {
	Error         string      `json:"error"`
	Message       string      `json:"message"`
	Code          string      `json:"code"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	Details       interface{} `json:"details,omitempty"`
}

const (
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeConflict     = "CONFLICT"
	ErrCodeTooLarge     = "PAYLOAD_TOO_LARGE"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

func WriteError(w http.ResponseWriter, status int, code, message, correlationID string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Error:         http.StatusText(status),
		Message:       message,
		Code:          code,
		CorrelationID: correlationID,
		Details:       details,
	})
}
