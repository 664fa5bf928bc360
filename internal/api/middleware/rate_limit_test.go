package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func ingestRequest(remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", nil)
	req.RemoteAddr = remoteAddr
	return req
}

func TestIngestRateLimitReturns429WhenBucketDrains(t *testing.T) {
	handler := IngestRateLimit(1, 2)(okHandler())

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, ingestRequest("192.168.1.10:12345"))
		assert.Equal(t, http.StatusOK, rec.Code, "request %d should pass within burst", i)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, ingestRequest("192.168.1.10:12345"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")
}

func TestIngestRateLimitBucketsArePerClientIP(t *testing.T) {
	handler := IngestRateLimit(1, 1)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, ingestRequest("192.168.1.20:12345"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, ingestRequest("192.168.1.20:12345"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// a different client is unaffected by the drained bucket
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, ingestRequest("192.168.1.21:12345"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIngestRateLimitZeroDisablesLimiter(t *testing.T) {
	handler := IngestRateLimit(0, 0)(okHandler())

	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, ingestRequest("192.168.1.30:12345"))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestGetClientIPPrefersForwardingHeaders(t *testing.T) {
	req := ingestRequest("10.0.0.1:55555")
	assert.Equal(t, "10.0.0.1", getClientIP(req))

	req.Header.Set("X-Real-IP", "203.0.113.7")
	assert.Equal(t, "203.0.113.7", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")
	assert.Equal(t, "198.51.100.4", getClientIP(req))
}
