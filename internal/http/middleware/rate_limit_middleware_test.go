package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type erroringLimiter struct{}

func (erroringLimiter) Allow(context.Context, string) (Decision, error) {
	return Decision{}, errors.New("backend down")
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func hit(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/admin/login", nil)
	req.RemoteAddr = remoteAddr
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestLocalFixedWindowLimiterCountsPerKey(t *testing.T) {
	limiter := NewLocalFixedWindowLimiter(2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := limiter.Allow(ctx, "1.2.3.4")
		if err != nil || !d.Allowed {
			t.Fatalf("hit %d: allowed=%v err=%v", i+1, d.Allowed, err)
		}
	}
	d, _ := limiter.Allow(ctx, "1.2.3.4")
	if d.Allowed {
		t.Fatal("third hit in window should be denied")
	}
	if d.RetryAfter <= 0 {
		t.Fatalf("denial without retry hint: %+v", d)
	}

	// A different key has its own window.
	if d, _ := limiter.Allow(ctx, "5.6.7.8"); !d.Allowed {
		t.Fatal("unrelated key was throttled")
	}
}

func TestLocalFixedWindowLimiterResets(t *testing.T) {
	limiter := NewLocalFixedWindowLimiter(1, time.Minute)
	base := time.Now()
	limiter.now = func() time.Time { return base }
	ctx := context.Background()

	if d, _ := limiter.Allow(ctx, "k"); !d.Allowed {
		t.Fatal("first hit denied")
	}
	if d, _ := limiter.Allow(ctx, "k"); d.Allowed {
		t.Fatal("second hit in same window allowed")
	}

	limiter.now = func() time.Time { return base.Add(time.Minute) }
	if d, _ := limiter.Allow(ctx, "k"); !d.Allowed {
		t.Fatal("new window should admit again")
	}
}

func TestRateLimiterMiddlewareDeniesWith429(t *testing.T) {
	rl := NewRateLimiter(NewLocalFixedWindowLimiter(1, time.Minute), 1, FailClosed, "test")
	h := rl.Middleware()(okHandler())

	if rr := hit(h, "9.9.9.9:1111"); rr.Code != http.StatusOK {
		t.Fatalf("first: expected 200, got %d", rr.Code)
	}
	rr := hit(h, "9.9.9.9:2222")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second: expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}
	if rr.Header().Get("X-RateLimit-Limit") != "1" {
		t.Fatalf("X-RateLimit-Limit = %q", rr.Header().Get("X-RateLimit-Limit"))
	}

	// Different source ports, same IP: one bucket. Different IP: fresh bucket.
	if rr := hit(h, "8.8.8.8:1111"); rr.Code != http.StatusOK {
		t.Fatalf("other ip: expected 200, got %d", rr.Code)
	}
}

func TestRateLimiterFailureModes(t *testing.T) {
	t.Run("fail_open admits on backend error", func(t *testing.T) {
		rl := NewRateLimiter(erroringLimiter{}, 1, FailOpen, "test")
		rr := hit(rl.Middleware()(okHandler()), "1.1.1.1:1")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
	})

	t.Run("fail_closed denies on backend error", func(t *testing.T) {
		rl := NewRateLimiter(erroringLimiter{}, 1, FailClosed, "test")
		rr := hit(rl.Middleware()(okHandler()), "1.1.1.1:1")
		if rr.Code != http.StatusTooManyRequests {
			t.Fatalf("expected 429, got %d", rr.Code)
		}
	})
}

func TestRedisFixedWindowLimiter(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := NewRedisFixedWindowLimiter(client, "test_rl", 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := limiter.Allow(ctx, "1.2.3.4")
		if err != nil || !d.Allowed {
			t.Fatalf("hit %d: allowed=%v err=%v", i+1, d.Allowed, err)
		}
	}
	d, err := limiter.Allow(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if d.Allowed {
		t.Fatal("over-limit hit allowed")
	}

	// The window key expires; the next window starts clean.
	server.FastForward(2 * time.Minute)
	limiter.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if d, _ := limiter.Allow(ctx, "1.2.3.4"); !d.Allowed {
		t.Fatal("new window should admit")
	}
}

func TestRedisFixedWindowLimiterSurfacesBackendError(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	server.SetError("backend down")

	limiter := NewRedisFixedWindowLimiter(client, "test_rl", 1, time.Minute)
	if _, err := limiter.Allow(context.Background(), "k"); err == nil {
		t.Fatal("expected error from degraded backend")
	}
}
