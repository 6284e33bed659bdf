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

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, RateLimitPolicy) (Decision, error) {
	return Decision{}, errors.New("backend down")
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
}

func hit(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil)
	req.RemoteAddr = remoteAddr
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRateLimiterDeniesAfterLimitPerClient(t *testing.T) {
	h := NewRateLimiter(2, time.Minute).Middleware()(okHandler())

	for i := 0; i < 2; i++ {
		if rr := hit(h, "10.0.0.1:1000"); rr.Code != http.StatusCreated {
			t.Fatalf("request %d expected 201, got %d", i, rr.Code)
		}
	}
	rr := hit(h, "10.0.0.1:1001")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" || rr.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("missing rate limit headers: %v", rr.Header())
	}
	if rr := hit(h, "10.0.0.2:1000"); rr.Code != http.StatusCreated {
		t.Fatalf("other client expected 201, got %d", rr.Code)
	}
}

func TestLocalFixedWindowLimiterResetsAfterWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := &localFixedWindowLimiter{store: map[string]*windowState{}, cleanup: now.Add(time.Hour), now: func() time.Time { return now }}
	policy := RateLimitPolicy{Limit: 1, Window: time.Second}
	ctx := context.Background()

	if d, _ := l.Allow(ctx, "k", policy); !d.Allowed {
		t.Fatal("first hit should pass")
	}
	if d, _ := l.Allow(ctx, "k", policy); d.Allowed || d.RetryAfter != time.Second {
		t.Fatalf("second hit should be denied with 1s retry, got %+v", d)
	}
	now = now.Add(time.Second)
	if d, _ := l.Allow(ctx, "k", policy); !d.Allowed {
		t.Fatal("hit in next window should pass")
	}
}

func TestRateLimiterFailureModes(t *testing.T) {
	open := NewDistributedRateLimiter(failingLimiter{}, 1, time.Minute, FailOpen, "create").Middleware()(okHandler())
	if rr := hit(open, "10.0.0.1:1"); rr.Code != http.StatusCreated {
		t.Fatalf("fail-open expected 201, got %d", rr.Code)
	}
	closed := NewDistributedRateLimiter(failingLimiter{}, 1, time.Minute, FailClosed, "create").Middleware()(okHandler())
	if rr := hit(closed, "10.0.0.1:1"); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("fail-closed expected 429, got %d", rr.Code)
	}
}

func TestRedisFixedWindowLimiter(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedisFixedWindowLimiter(client, "rl_test")
	policy := RateLimitPolicy{Limit: 2, Window: 10 * time.Second}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := l.Allow(ctx, "create:10.0.0.1", policy)
		if err != nil || !d.Allowed {
			t.Fatalf("hit %d: %+v %v", i, d, err)
		}
	}
	d, err := l.Allow(ctx, "create:10.0.0.1", policy)
	if err != nil || d.Allowed || d.RetryAfter <= 0 {
		t.Fatalf("expected deny with retry, got %+v %v", d, err)
	}

	server.FastForward(11 * time.Second)
	if d, err := l.Allow(ctx, "create:10.0.0.1", policy); err != nil || !d.Allowed {
		t.Fatalf("expected allow after window, got %+v %v", d, err)
	}
}
