package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := NewRateLimiter(1, 2)
	handler := limiter.Middleware(okHandler())

	do := func(ip string) int {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1"), "within burst")
	assert.Equal(t, http.StatusOK, do("10.0.0.1"), "within burst")
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1"), "exceeded burst")
	assert.Equal(t, http.StatusOK, do("10.0.0.2"), "other IPs keep their own bucket")

	time.Sleep(1100 * time.Millisecond)
	assert.Equal(t, http.StatusOK, do("10.0.0.1"), "refilled token")
}

func TestRateLimitMiddleware_UsesForwardedFor(t *testing.T) {
	limiter := NewRateLimiter(1, 1)
	handler := limiter.Middleware(okHandler())

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "127.0.0.1:1234"
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, want, w.Code, "request %d", i)
		if w.Code == http.StatusTooManyRequests {
			assert.Equal(t, "5", w.Header().Get("Retry-After"))
		}
	}
}

func TestRateLimiter_Sweep(t *testing.T) {
	limiter := NewRateLimiter(10, 10)
	now := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return now }

	limiter.limiter("a")
	now = now.Add(5 * time.Minute)
	limiter.limiter("b")

	assert.Equal(t, 1, limiter.Sweep(3*time.Minute))
	assert.Len(t, limiter.visitors, 1)
	assert.Contains(t, limiter.visitors, "b")
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	assert.True(t, strings.HasPrefix(seen, "req_"))
	assert.Equal(t, seen, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(RequestIDHeader, "upstream-123")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, "upstream-123", seen)
	assert.Equal(t, "upstream-123", w.Header().Get(RequestIDHeader))
}

func TestWriteErrorR(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		WriteUpstream(rw, r, http.StatusBadGateway, "upstream exploded")
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("POST", "/v1/extract", nil))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))

	var p ProblemDetail
	require.NoError(t, json.NewDecoder(w.Body).Decode(&p))
	assert.Equal(t, 502, p.Status)
	assert.Equal(t, "Bad Gateway", p.Title)
	assert.Equal(t, "upstream exploded", p.Detail)
	assert.Equal(t, "/v1/extract", p.Instance)
	assert.Equal(t, w.Header().Get(RequestIDHeader), p.TraceID)
	assert.Contains(t, p.Type, "/errors/502")
}

func TestWriteInternal_HidesError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteInternal(w, httptest.NewRequest("GET", "/", nil), errors.New("db password is hunter2"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "hunter2")
}
