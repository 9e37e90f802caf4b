package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupLimiter(t *testing.T, limit int, window time.Duration) (*Limiter, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewLimiter(client, "ai:", limit, window), s
}

func TestAllowWithinLimit(t *testing.T) {
	limiter, _ := setupLimiter(t, 3, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, remaining, err := limiter.Allow(ctx, "usr_1")
		if err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		if !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if want := 3 - (i + 1); remaining != want {
			t.Errorf("request %d: expected %d remaining, got %d", i+1, want, remaining)
		}
	}
}

func TestAllowOverLimit(t *testing.T) {
	limiter, _ := setupLimiter(t, 2, time.Hour)
	ctx := context.Background()

	limiter.Allow(ctx, "usr_1")
	limiter.Allow(ctx, "usr_1")

	ok, remaining, err := limiter.Allow(ctx, "usr_1")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if ok {
		t.Error("third request should be denied")
	}
	if remaining != 0 {
		t.Errorf("expected 0 remaining, got %d", remaining)
	}
}

func TestWindowRollover(t *testing.T) {
	limiter, s := setupLimiter(t, 1, time.Minute)
	ctx := context.Background()

	limiter.Allow(ctx, "usr_1")
	if ok, _, _ := limiter.Allow(ctx, "usr_1"); ok {
		t.Fatal("second request in window should be denied")
	}

	s.FastForward(time.Minute + time.Second)

	ok, _, err := limiter.Allow(ctx, "usr_1")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if !ok {
		t.Error("request after window rollover should be allowed")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	limiter, _ := setupLimiter(t, 1, time.Hour)
	ctx := context.Background()

	limiter.Allow(ctx, "usr_1")
	if ok, _, _ := limiter.Allow(ctx, "usr_1"); ok {
		t.Fatal("usr_1 should be over limit")
	}

	ok, _, err := limiter.Allow(ctx, "usr_2")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if !ok {
		t.Error("usr_2 should not share usr_1's counter")
	}
}

func TestRemaining(t *testing.T) {
	limiter, _ := setupLimiter(t, 5, time.Hour)
	ctx := context.Background()

	remaining, err := limiter.Remaining(ctx, "usr_1")
	if err != nil {
		t.Fatalf("Remaining failed: %v", err)
	}
	if remaining != 5 {
		t.Errorf("expected 5 remaining before any request, got %d", remaining)
	}

	limiter.Allow(ctx, "usr_1")
	limiter.Allow(ctx, "usr_1")

	remaining, err = limiter.Remaining(ctx, "usr_1")
	if err != nil {
		t.Fatalf("Remaining failed: %v", err)
	}
	if remaining != 3 {
		t.Errorf("expected 3 remaining, got %d", remaining)
	}
}
