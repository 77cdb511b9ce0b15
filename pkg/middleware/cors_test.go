package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func corsRequest(cfg CORSConfig, method, origin string, preflight bool) *httptest.ResponseRecorder {
	handler := CORS(cfg)(okHandler())
	req := httptest.NewRequest(method, "/api/v1/restaurants", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if preflight {
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCORS_WildcardAllowsAnyOrigin(t *testing.T) {
	rec := corsRequest(DefaultCORSConfig(), http.MethodGet, "http://localhost:8000", false)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, CorrelationIDHeader, rec.Header().Get("Access-Control-Expose-Headers"))
}

func TestCORS_ListedOriginEchoed(t *testing.T) {
	cfg := CORSConfig{AllowedOrigins: []string{"http://localhost:8000/", "https://reviews.example.com"}}
	rec := corsRequest(cfg, http.MethodGet, "http://localhost:8000", false)

	assert.Equal(t, "http://localhost:8000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))
}

func TestCORS_UnlistedOriginNotEchoed(t *testing.T) {
	cfg := CORSConfig{AllowedOrigins: []string{"https://reviews.example.com"}}
	rec := corsRequest(cfg, http.MethodGet, "https://evil.example.com", false)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_PreflightReturns204(t *testing.T) {
	rec := corsRequest(DefaultCORSConfig(), http.MethodOptions, "http://localhost:8000", true)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPut)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Content-Type")
	assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))
}

func TestCORS_PlainOptionsPassesThrough(t *testing.T) {
	rec := corsRequest(DefaultCORSConfig(), http.MethodOptions, "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS_EmptyConfigGetsDefaults(t *testing.T) {
	rec := corsRequest(CORSConfig{AllowedOrigins: []string{"*"}}, http.MethodOptions, "http://x", true)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodGet)
}
