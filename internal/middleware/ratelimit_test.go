package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func request(h http.Handler, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiterBlocksAfterBudget(t *testing.T) {
	rl := NewRateLimiter(3)
	defer rl.Stop()
	h := rl.Middleware(okHandler())

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, request(h, "10.0.0.1:5000").Code)
	}

	rec := request(h, "10.0.0.1:5001")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "ports of one host share a bucket")
	assert.Equal(t, "20", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded, please try again later"}`, rec.Body.String())

	assert.Equal(t, http.StatusOK, request(h, "10.0.0.2:5000").Code, "other clients are unaffected")
}

func TestRateLimiterRefills(t *testing.T) {
	rl := NewRateLimiter(2)
	defer rl.Stop()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("a"))
	assert.True(t, rl.allow("a"))
	assert.False(t, rl.allow("a"))

	now = now.Add(30 * time.Second)
	assert.True(t, rl.allow("a"))
	assert.False(t, rl.allow("a"))
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0)
	defer rl.Stop()
	h := rl.Middleware(okHandler())

	for i := 0; i < 10; i++ {
		assert.Equal(t, http.StatusOK, request(h, "10.0.0.1:5000").Code)
	}
}

func TestRateLimiterEvictsStaleClients(t *testing.T) {
	rl := NewRateLimiter(5)
	defer rl.Stop()
	now := time.Now()
	rl.now = func() time.Time { return now }

	rl.allow("old")
	now = now.Add(11 * time.Minute)
	rl.allow("fresh")
	rl.evictStale()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.clients, "old")
	assert.Contains(t, rl.clients, "fresh")
}

func TestStopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(1)
	rl.Stop()
	assert.NotPanics(t, rl.Stop)
}

func TestInstrumentKeepsStatus(t *testing.T) {
	r := mux.NewRouter()
	r.Use(Instrument(nil))
	r.HandleFunc("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/42", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)
}
