package ratelimit_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborline/steward/internal/model"
	"github.com/harborline/steward/internal/ratelimit"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareAllowsUnderLimit(t *testing.T) {
	m := ratelimit.NewMemoryLimiter(10, 5)
	defer func() { _ = m.Close() }()

	h := ratelimit.Middleware(m, ratelimit.IPKeyFunc, nil)(okHandler())

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}
}

func TestMiddlewareDeniesOverLimit(t *testing.T) {
	m := ratelimit.NewMemoryLimiter(0.001, 2)
	defer func() { _ = m.Close() }()

	h := ratelimit.Middleware(m, ratelimit.IPKeyFunc, func(*http.Request) string {
		return "req-123"
	})(okHandler())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
		req.RemoteAddr = "10.0.0.2:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	var body model.APIError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, model.ErrCodeRateLimited, body.Error.Code)
	assert.Equal(t, "req-123", body.Meta.RequestID)
}

func TestMiddlewareSeparateClients(t *testing.T) {
	m := ratelimit.NewMemoryLimiter(0.001, 1)
	defer func() { _ = m.Close() }()

	h := ratelimit.Middleware(m, ratelimit.IPKeyFunc, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
	req.RemoteAddr = "10.0.0.3:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Same client is now exhausted.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	// A different client still gets through.
	req2 := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
	req2.RemoteAddr = "10.0.0.4:5555"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req2)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareEmptyKeySkips(t *testing.T) {
	m := ratelimit.NewMemoryLimiter(0.001, 1)
	defer func() { _ = m.Close() }()

	h := ratelimit.Middleware(m, func(*http.Request) string { return "" }, nil)(okHandler())

	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestMiddlewareNilLimiterPassesThrough(t *testing.T) {
	h := ratelimit.Middleware(nil, ratelimit.IPKeyFunc, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestIPKeyFunc(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.7:43210"
	assert.Equal(t, "192.168.1.7", ratelimit.IPKeyFunc(req))

	req.RemoteAddr = "no-port"
	assert.Equal(t, "no-port", ratelimit.IPKeyFunc(req))
}
