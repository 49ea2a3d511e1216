package middleware

import (
	"context"
	"net/http"
	"regexp"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apiContext "stencil/internal/api/context"
)

// Client-supplied correlation IDs are only trusted if they cannot be used
// for log injection.
var correlationIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// CorrelationID assigns each request a correlation ID (client-supplied via
// X-Correlation-ID when well-formed, generated otherwise), stores it in the
// context along with a logger carrying it, and echoes it on the response.
func CorrelationID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Correlation-ID")
		if !correlationIDPattern.MatchString(id) {
			id = uuid.NewString()
		}

		ctx := context.WithValue(r.Context(), apiContext.CorrelationID, id)
		reqLogger := log.With().Str("correlation_id", id).Logger()
		ctx = reqLogger.WithContext(ctx)

		w.Header().Set("X-Correlation-ID", id)
		next(w, r.WithContext(ctx))
	}
}
