package middleware

import (
	"net/http"

	apiContext "stencil/internal/api/context"
	apiErrors "stencil/internal/pkg/errors"
)

// BodyLimit rejects requests whose declared Content-Length exceeds maxBytes
// and caps the body reader so a lying client cannot stream past the limit
// either.
func BodyLimit(maxBytes int64) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				apiErrors.WriteError(w, http.StatusRequestEntityTooLarge, apiErrors.ErrCodeTooLarge,
					"request body too large", apiContext.CorrelationIDFrom(r.Context()), nil)
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next(w, r)
		}
	}
}
