package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/ticketnotes/internal/config"
	"github.com/kuitang/ticketnotes/internal/ratelimit"
	"github.com/kuitang/ticketnotes/internal/testdb"
)

func newTestRootHandler(t *testing.T) http.Handler {
	t.Helper()
	store, err := testdb.NewStoreInMemory("main")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	limiter := ratelimit.NewRateLimiter(ratelimit.Config{RPS: 100, Burst: 100, CleanupInterval: time.Hour})
	t.Cleanup(limiter.Stop)

	cfg := &config.Config{
		AllowedOrigins: []string{"http://localhost:3000"},
		StorageTimeout: time.Second,
		BcryptCost:     4,
	}
	return newRootHandler(cfg, store, limiter)
}

func TestRootHandler_HealthCarriesRequestIDAndHeaders(t *testing.T) {
	h := newTestRootHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "req-test-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-test-1", rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestRootHandler_MetricsExposed(t *testing.T) {
	h := newTestRootHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "go_goroutines"), "default collectors should be exported")
}

func TestRootHandler_CORSPreflight(t *testing.T) {
	h := newTestRootHandler(t)

	req := httptest.NewRequest(http.MethodOptions, "/notes/addNote", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/notes/addNote", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRootHandler_MCPRejectsGET(t *testing.T) {
	h := newTestRootHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mcp", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
