package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSimpleRateLimiterAllowsWithinWindow(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	limiter := newSimpleRateLimiter(2, time.Minute, func() time.Time { return now })

	if !limiter.Allow("buyer-1") || !limiter.Allow("buyer-1") {
		t.Fatal("expected first two calls to pass")
	}
	if limiter.Allow("buyer-1") {
		t.Fatal("expected third call to be rejected")
	}
	if !limiter.Allow("buyer-2") {
		t.Fatal("expected separate key to have its own budget")
	}

	now = now.Add(2 * time.Minute)
	if !limiter.Allow("buyer-1") {
		t.Fatal("expected budget to reset after the window")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	mw := RateLimitMiddleware(1, time.Minute)
	if mw == nil {
		t.Fatal("expected middleware for positive limit")
	}

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := asBuyer(httptest.NewRequest(http.MethodGet, "/", nil), "buyer-1")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected first request to pass, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be limited, got %d", rr.Code)
	}
}

func TestRateLimitMiddlewareDisabled(t *testing.T) {
	if RateLimitMiddleware(0, time.Minute) != nil {
		t.Fatal("expected nil middleware when limit is zero")
	}
}
