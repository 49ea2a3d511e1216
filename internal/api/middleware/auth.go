package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	apiContext "stencil/internal/api/context"
	apiErrors "stencil/internal/pkg/errors"
	"stencil/internal/platform/keys"
)

// invalidKeyMessage is the one message for every authentication failure:
// missing, too short, unknown, expired, revoked, or mismatched.
const invalidKeyMessage = "invalid API key"

// Validator is implemented by keys.Service.
type Validator interface {
	Validate(ctx context.Context, candidate string) (*keys.Principal, error)
}

type AuthMiddleware struct {
	validator Validator
	header    string
	minLength int
}

func NewAuthMiddleware(validator Validator, header string, minLength int) *AuthMiddleware {
	return &AuthMiddleware{validator: validator, header: header, minLength: minLength}
}

func (m *AuthMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		correlationID := apiContext.CorrelationIDFrom(r.Context())

		candidate := r.Header.Get(m.header)
		if candidate == "" || len(candidate) < m.minLength {
			zerolog.Ctx(r.Context()).Warn().Msg("request rejected: missing or short api key")
			unauthorized(w, correlationID)
			return
		}

		principal, err := m.validator.Validate(r.Context(), candidate)
		if errors.Is(err, keys.ErrInvalidKey) {
			unauthorized(w, correlationID)
			return
		}
		if err != nil {
			// Store failure, not an authentication verdict.
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("api key validation errored")
			apiErrors.WriteError(w, http.StatusInternalServerError, apiErrors.ErrCodeInternal,
				"internal server error", correlationID, nil)
			return
		}

		ctx := context.WithValue(r.Context(), apiContext.Principal, principal)
		next(w, r.WithContext(ctx))
	}
}

func unauthorized(w http.ResponseWriter, correlationID string) {
	w.Header().Set("WWW-Authenticate", "ApiKey")
	apiErrors.WriteError(w, http.StatusUnauthorized, apiErrors.ErrCodeUnauthorized,
		invalidKeyMessage, correlationID, nil)
}
