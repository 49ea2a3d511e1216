package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKeyCounter struct {
	total int64
	err   error
}

func (f *fakeKeyCounter) CountAll(ctx context.Context) (int64, error) {
	return f.total, f.err
}

func TestLiveNeverTouchesDependencies(t *testing.T) {
	// A nil counter panics if Live ever reaches for the database.
	handler := NewHealthHandler(nil)

	rec := httptest.NewRecorder()
	handler.Live(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestReadyWhenDatabaseReachable(t *testing.T) {
	handler := NewHealthHandler(&fakeKeyCounter{total: 3})

	rec := httptest.NewRecorder()
	handler.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp readinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Checks["database"])
}

func TestReadyDegradedOnDatabaseError(t *testing.T) {
	handler := NewHealthHandler(&fakeKeyCounter{err: errors.New("connection refused")})

	rec := httptest.NewRecorder()
	handler.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp readinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "error", resp.Checks["database"])
}
