package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// healthCheckTimeout bounds the readiness database probe so a wedged pool
// turns into "not ready" instead of a hung probe.
const healthCheckTimeout = 5 * time.Second

// KeyCounter is implemented by repositories.APIKeyRepository. Counting the
// api_keys table proves table access, not just connectivity.
type KeyCounter interface {
	CountAll(ctx context.Context) (int64, error)
}

type HealthHandler struct {
	keyStore KeyCounter
}

func NewHealthHandler(keyStore KeyCounter) *HealthHandler {
	return &HealthHandler{keyStore: keyStore}
}

type healthResponse struct {
	Status string `json:"status"`
}

type readinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Live reports process liveness; it must not touch any dependency.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// Ready reports whether the service can serve traffic. Returns 503 when
// any dependency check fails, which is what Kubernetes expects.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{}
	if _, err := h.keyStore.CountAll(ctx); err != nil {
		if ctx.Err() != nil {
			zerolog.Ctx(r.Context()).Warn().Dur("timeout", healthCheckTimeout).Msg("database health check timed out")
			checks["database"] = "timeout"
		} else {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("database health check failed")
			checks["database"] = "error"
		}
	} else {
		checks["database"] = "ok"
	}

	status := "ok"
	code := http.StatusOK
	for _, v := range checks {
		if v != "ok" {
			status = "degraded"
			code = http.StatusServiceUnavailable
			break
		}
	}

	writeJSON(w, code, readinessResponse{Status: status, Checks: checks})
}
