package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"stencil/internal/api/handlers"
	"stencil/internal/api/middleware"
	"stencil/internal/platform/config"
	"stencil/internal/platform/keys"
	"stencil/internal/platform/models"
	"stencil/internal/platform/repositories"

	"github.com/prometheus/client_golang/prometheus"
)

type staticValidator struct {
	accept string
}

func (v *staticValidator) Validate(ctx context.Context, candidate string) (*keys.Principal, error) {
	if candidate == v.accept {
		return &keys.Principal{KeyID: "test-key", ClientID: "web"}, nil
	}
	return nil, keys.ErrInvalidKey
}

const testAPIKey = "sk_000000000000000000000000000000000000"

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.APIKey{}, &models.Item{}))

	cfg := &config.Config{
		Auth: config.AuthConfig{
			BcryptCost:      12,
			KeyEntropyBytes: 32,
			MinKeyLength:    32,
			Header:          "X-API-Key",
		},
		Limits: config.LimitsConfig{
			MaxRequestBytes: 1 << 20,
			DefaultPageSize: 50,
			MaxPageSize:     100,
			MaxPageOffset:   1000,
		},
	}

	keyRepo := repositories.NewAPIKeyRepository(db)
	itemRepo := repositories.NewItemRepository(db)

	return NewRouter(&Dependencies{
		ItemHandler:    handlers.NewItemHandler(itemRepo, cfg.Limits),
		HealthHandler:  handlers.NewHealthHandler(keyRepo),
		AuthMiddleware: middleware.NewAuthMiddleware(&staticValidator{accept: testAPIKey}, cfg.Auth.Header, cfg.Auth.MinKeyLength),
		Metrics:        middleware.NewMetrics(prometheus.NewRegistry()),
		Config:         cfg,
	})
}

func TestHealthEndpointsUnauthenticated(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/health/live", "/health/ready"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestItemsRequireAPIKey(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/items", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/items", nil)
	req.Header.Set("X-API-Key", testAPIKey)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEveryResponseCarriesCorrelationAndSecurityHeaders(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestMetricsEndpointExposed(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
