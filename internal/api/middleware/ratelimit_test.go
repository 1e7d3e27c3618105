package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestIPRateLimiter_Allow(t *testing.T) {
	cfg := RateLimitConfig{
		Rate:            rate.Limit(2),
		Burst:           2,
		CleanupInterval: time.Hour,
		MaxAge:          time.Hour,
	}
	rl := NewIPRateLimiter(cfg, discardLogger())
	defer rl.Stop()

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if !rl.Allow("192.168.1.1") || !rl.Allow("192.168.1.1") {
		t.Fatal("expected burst of two to be allowed")
	}
	if rl.Allow("192.168.1.1") {
		t.Fatal("expected third request to be rate limited")
	}
	if !rl.Allow("192.168.1.2") {
		t.Fatal("expected request from different IP to be allowed")
	}

	// Half a second refills one token at 2/s.
	now = now.Add(500 * time.Millisecond)
	if !rl.Allow("192.168.1.1") {
		t.Fatal("expected request after refill to be allowed")
	}
}

func TestIPRateLimiter_Cleanup(t *testing.T) {
	cfg := RateLimitConfig{
		Rate:            rate.Limit(10),
		Burst:           10,
		CleanupInterval: time.Hour,
		MaxAge:          time.Minute,
	}
	rl := NewIPRateLimiter(cfg, discardLogger())
	defer rl.Stop()

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.Allow("10.0.0.1")
	now = now.Add(30 * time.Second)
	rl.Allow("10.0.0.2")

	now = now.Add(45 * time.Second)
	rl.cleanup()

	rl.mu.Lock()
	_, first := rl.entries["10.0.0.1"]
	_, second := rl.entries["10.0.0.2"]
	rl.mu.Unlock()

	if first {
		t.Error("expected idle entry to be evicted")
	}
	if !second {
		t.Error("expected recent entry to be kept")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewIPRateLimiter(RateLimitConfig{
		Rate:            rate.Limit(1),
		Burst:           1,
		CleanupInterval: time.Hour,
		MaxAge:          time.Hour,
	}, discardLogger())
	defer rl.Stop()

	handler := RateLimit(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rules", nil)
	req.RemoteAddr = "10.0.0.5:12345"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected Retry-After 1, got %q", rec.Header().Get("Retry-After"))
	}
}

func TestRateLimitConfigFor(t *testing.T) {
	cfg := RateLimitConfigFor(50)
	if cfg.Rate != rate.Limit(50) || cfg.Burst != 100 {
		t.Errorf("RateLimitConfigFor(50) = %+v", cfg)
	}
	if cfg := RateLimitConfigFor(0.2); cfg.Burst != 1 {
		t.Errorf("RateLimitConfigFor(0.2).Burst = %d, want 1", cfg.Burst)
	}
}

func TestExtractIP(t *testing.T) {
	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"192.168.1.1:8080", "192.168.1.1"},
		{"[::1]:8080", "::1"},
		{"10.0.0.1", "10.0.0.1"}, // no port
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = tt.remoteAddr
		if got := extractIP(r); got != tt.want {
			t.Errorf("extractIP(%q) = %q, want %q", tt.remoteAddr, got, tt.want)
		}
	}
}
