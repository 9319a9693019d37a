package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTokenBucketBurstThenDeny(t *testing.T) {
	tb := NewTokenBucket(3, 1)
	for i := 0; i < 3; i++ {
		if !tb.Allow() {
			t.Fatalf("request %d should be allowed within burst", i)
		}
	}
	if tb.Allow() {
		t.Fatalf("fourth request should be denied")
	}
}

func TestTokenBucketRefills(t *testing.T) {
	tb := NewTokenBucket(1, 100)
	if !tb.Allow() {
		t.Fatalf("first request should pass")
	}
	if tb.Allow() {
		t.Fatalf("bucket should be empty")
	}
	time.Sleep(20 * time.Millisecond)
	if !tb.Allow() {
		t.Fatalf("bucket should have refilled")
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 0.001, BurstSize: 1})
	defer l.Close()
	ctx := context.Background()

	if !l.Allow(ctx, "frame:u1:metube") {
		t.Fatalf("first request for key A should pass")
	}
	if l.Allow(ctx, "frame:u1:metube") {
		t.Fatalf("second request for key A should be limited")
	}
	if !l.Allow(ctx, "frame:u2:metube") {
		t.Fatalf("key B must not share key A's bucket")
	}
}

func TestLimiterEmptyKeyFailsOpen(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 0.001, BurstSize: 1})
	defer l.Close()
	for i := 0; i < 10; i++ {
		if !l.Allow(context.Background(), "") {
			t.Fatalf("empty key must never be limited")
		}
	}
}

func TestLimiterReset(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 0.001, BurstSize: 1})
	defer l.Close()
	ctx := context.Background()

	if !l.Allow(ctx, "k") {
		t.Fatalf("first request should pass")
	}
	if err := l.Reset(ctx, "k"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if !l.Allow(ctx, "k") {
		t.Fatalf("request after reset should pass")
	}
}

func TestMiddlewareReturns429(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 0.001, BurstSize: 1})
	defer l.Close()

	var limited []string
	m := NewMiddleware(l, func(r *http.Request) string { return r.URL.Query().Get("u") }, true, nil)
	m.OnLimited = func(key string) { limited = append(limited, key) }

	upstreamHits := 0
	h := m.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamHits++
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/?u=u1", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first request status %d", first.Code)
	}

	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/?u=u1", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status %d", second.Code)
	}
	if upstreamHits != 1 {
		t.Fatalf("limited request reached the handler")
	}
	if len(limited) != 1 || limited[0] != "u1" {
		t.Fatalf("OnLimited calls = %v", limited)
	}
	if second.Header().Get("X-RateLimit-Remaining") == "" {
		t.Fatalf("missing rate limit headers")
	}
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 0.001, BurstSize: 1})
	defer l.Close()
	m := NewMiddleware(l, func(r *http.Request) string { return "k" }, false, nil)

	h := m.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("disabled middleware limited request %d", i)
		}
	}
}
