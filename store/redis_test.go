package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	apns "github.com/mdigger/pushgate"
)

func setupRedis(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := NewRedis(client, ttl)
	t.Cleanup(func() { r.Close() })
	return r, mr
}

func TestRedisSave(t *testing.T) {
	ctx := context.Background()
	r, mr := setupRedis(t, time.Hour)
	records := []apns.FeedbackRecord{
		{Timestamp: time.Unix(1700000000, 0), Token: tokenA},
		{Timestamp: time.Unix(1700000060, 0), Token: tokenB},
	}
	if err := r.Save(ctx, records); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	value, err := mr.Get(suppressedPrefix + tokenB)
	if err != nil {
		t.Fatalf("key not stored: %v", err)
	}
	if value != "1700000060" {
		t.Errorf("unexpected value %q", value)
	}
	if ttl := mr.TTL(suppressedPrefix + tokenA); ttl != time.Hour {
		t.Errorf("unexpected ttl %v", ttl)
	}

	kept, err := Filter(ctx, r, []string{tokenA, tokenC, tokenB})
	if err != nil {
		t.Fatalf("Filter failed: %v", err)
	}
	if len(kept) != 1 || kept[0] != tokenC {
		t.Errorf("unexpected tokens kept: %v", kept)
	}

	mr.FastForward(2 * time.Hour)
	suppressed, err := r.IsSuppressed(ctx, tokenA)
	if err != nil {
		t.Fatalf("IsSuppressed failed: %v", err)
	}
	if suppressed {
		t.Error("suppression should expire")
	}
}

func TestRedisSuppress(t *testing.T) {
	ctx := context.Background()
	r, mr := setupRedis(t, 0)
	if err := r.Suppress(ctx, "BE311B5BADA725B323B1A56E03ED25B4814D6B9EDF5B02D3D605840860FEBB28"); err != nil {
		t.Fatalf("Suppress failed: %v", err)
	}
	if ttl := mr.TTL(suppressedPrefix + tokenA); ttl != DefaultSuppressTTL {
		t.Errorf("unexpected ttl %v", ttl)
	}
	suppressed, err := r.IsSuppressed(ctx, tokenA)
	if err != nil {
		t.Fatalf("IsSuppressed failed: %v", err)
	}
	if !suppressed {
		t.Error("token should be suppressed")
	}
}

func TestRedisUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	r := NewRedis(client, time.Minute)
	defer r.Close()
	if _, err := r.IsSuppressed(context.Background(), tokenA); err == nil {
		t.Error("expected an error from a closed server")
	}
}
