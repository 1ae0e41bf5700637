package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"crits/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestSanitizeRequestID(t *testing.T) {
	assert.Equal(t, "abc_DEF-123", sanitizeRequestID("abc_DEF-123"))
	assert.Equal(t, "ab", sanitizeRequestID("a\r\nb"))
	assert.Len(t, sanitizeRequestID(strings.Repeat("x", 500)), maxRequestIDLength)
}

func TestCORS(t *testing.T) {
	f := newAPIFixture(t, func(c *config.Config) {
		c.API.AllowedOrigins = []string{"https://crits.example.org"}
		c.API.TLS = true
	})
	f.health.On("HealthCheck", mock.Anything).Return(nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://crits.example.org")
	rec := httptest.NewRecorder()
	f.api.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "https://crits.example.org", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	f.api.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
