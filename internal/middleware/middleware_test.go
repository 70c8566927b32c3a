package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"bonus-planner-api/internal/tracing"
)

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Stop()
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("Expected first two requests to pass")
	}
	if rl.Allow("a") {
		t.Error("Expected third request to be limited")
	}
	if !rl.Allow("b") {
		t.Error("Expected other client to have its own bucket")
	}

	now = now.Add(30 * time.Second)
	if !rl.Allow("a") {
		t.Error("Expected one token to refill after half the window")
	}
	if rl.Allow("a") {
		t.Error("Expected only one refilled token")
	}

	now = now.Add(2 * time.Hour)
	rl.evictIdle()
	if len(rl.clients) != 0 {
		t.Errorf("Expected idle buckets to be evicted, got %d", len(rl.clients))
	}
	rl.Stop()
}

func TestGetClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	if key := GetClientKey(req); key != "10.0.0.1" {
		t.Errorf("Expected 10.0.0.1, got %s", key)
	}

	req.Header.Set("X-Real-IP", "10.0.0.2")
	if key := GetClientKey(req); key != "10.0.0.2" {
		t.Errorf("Expected 10.0.0.2, got %s", key)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.3")
	if key := GetClientKey(req); key != "203.0.113.7" {
		t.Errorf("Expected 203.0.113.7, got %s", key)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour)
	defer rl.Stop()

	h := RateLimitMiddleware(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", w.Code)
	}
	if w.Header().Get("X-RateLimit-Limit") != "1" {
		t.Errorf("Expected limit header 1, got %q", w.Header().Get("X-RateLimit-Limit"))
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header")
	}
}

func TestTracingMiddleware_PassesThrough(t *testing.T) {
	r := chi.NewRouter()
	r.Use(TracingMiddleware(tracing.Noop()))
	r.Get("/api/offers/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/offers/3", nil))
	if w.Code != http.StatusTeapot {
		t.Errorf("Expected 418, got %d", w.Code)
	}
}
