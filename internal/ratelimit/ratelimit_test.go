package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newLimiter(t *testing.T, cfg Config) *Limiter {
	t.Helper()
	l := New(cfg)
	t.Cleanup(l.Stop)
	return l
}

func TestBurstThenDeny(t *testing.T) {
	l := newLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 5, CleanupInterval: time.Minute})

	for i := 0; i < 5; i++ {
		if !l.Allow("ip-1") {
			t.Fatalf("Request %d within burst should pass", i)
		}
	}
	if l.Allow("ip-1") {
		t.Error("Request beyond burst should be denied")
	}
}

func TestRefillOverTime(t *testing.T) {
	// 600/min = 10 tokens per second, so ~110ms buys one back.
	l := newLimiter(t, Config{RequestsPerMinute: 600, BurstSize: 1, CleanupInterval: time.Minute})

	if !l.Allow("ip-1") {
		t.Fatal("First request should pass")
	}
	if l.Allow("ip-1") {
		t.Fatal("Bucket should be empty immediately after")
	}

	time.Sleep(110 * time.Millisecond)
	if !l.Allow("ip-1") {
		t.Error("Bucket should have refilled one token")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l := newLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 2, CleanupInterval: time.Minute})

	l.Allow("client-a")
	l.Allow("client-a")
	if l.Allow("client-a") {
		t.Error("client-a should be exhausted")
	}
	if !l.Allow("client-b") {
		t.Error("client-b has its own bucket")
	}
}

func TestMiddlewareRejectsWith429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := newLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 1, CleanupInterval: time.Minute})

	router := gin.New()
	router.Use(l.Middleware())
	router.GET("/t", func(c *gin.Context) { c.String(200, "ok") })

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest("GET", "/t", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("First request: got %d", first.Code)
	}

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest("GET", "/t", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("Second request: got %d, want 429", second.Code)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.RequestsPerMinute != 60 || cfg.BurstSize != 10 || cfg.CleanupInterval != time.Minute {
		t.Errorf("Unexpected defaults: %+v", cfg)
	}
}
