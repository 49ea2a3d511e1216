package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	apiContext "stencil/internal/api/context"
	"stencil/internal/api/handlers"
	"stencil/internal/api/middleware"
	"stencil/internal/platform/config"
)

type Dependencies struct {
	ItemHandler    *handlers.ItemHandler
	HealthHandler  *handlers.HealthHandler
	AuthMiddleware *middleware.AuthMiddleware
	Metrics        *middleware.Metrics
	Config         *config.Config
}

func NewRouter(deps *Dependencies) http.Handler {
	router := httprouter.New()
	cfg := deps.Config

	// Applied to every route; first entry is outermost.
	base := []func(http.HandlerFunc) http.HandlerFunc{
		middleware.CorrelationID,
		middleware.RequestLogging(cfg.Server.ExposeTiming),
		middleware.SecurityHeaders,
		middleware.BodyLimit(cfg.Limits.MaxRequestBytes),
		deps.Metrics.Handle,
	}

	// Routes requiring an API key. The rate limiter sits after auth so
	// buckets are keyed by client_id rather than remote address.
	authed := append(append([]func(http.HandlerFunc) http.HandlerFunc{}, base...), deps.AuthMiddleware.Handle)
	if cfg.Limits.RequestsPerMinute > 0 {
		authed = append(authed, middleware.NewRateLimiter(cfg.Limits.RequestsPerMinute).Handle)
	}

	router.GET("/", chain(root, base...))

	// Health probes stay unauthenticated; orchestrators have no API key.
	router.GET("/health/live", chain(deps.HealthHandler.Live, base...))
	router.GET("/health/ready", chain(deps.HealthHandler.Ready, base...))

	router.Handler(http.MethodGet, "/metrics", promhttp.Handler())

	// Item CRUD
	router.POST("/api/v1/items", chain(deps.ItemHandler.Create, authed...))
	router.GET("/api/v1/items", chain(deps.ItemHandler.List, authed...))
	router.GET("/api/v1/items/:item_id", chain(deps.ItemHandler.Get, authed...))
	router.PATCH("/api/v1/items/:item_id", chain(deps.ItemHandler.Update, authed...))
	router.DELETE("/api/v1/items/:item_id", chain(deps.ItemHandler.Delete, authed...))

	// CORS only when origins are configured; a wildcard with credentials
	// would be rejected by browsers anyway.
	if len(cfg.CORS.AllowedOrigins) > 0 {
		return cors.New(cors.Options{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-API-Key", "X-Correlation-ID"},
			ExposedHeaders:   []string{"X-Correlation-ID", "X-Process-Time"},
			AllowCredentials: true,
			MaxAge:           cfg.CORS.MaxAge,
		}).Handler(router)
	}

	return router
}

func root(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"message":"Welcome to the API."}`))
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		// Inject params into context
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}
