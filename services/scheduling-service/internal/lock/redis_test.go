package lock

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/errs"
	"github.com/redis/go-redis/v9"
)

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisLockExcludesSecondHolder(t *testing.T) {
	rdb := redisClient(t)
	l := NewRedis(rdb, slog.Default(), RedisConfig{Prefix: "test:" + uuid.NewString(), Wait: 60 * time.Millisecond})
	ctx := context.Background()

	release, err := l.Acquire(ctx, "mentor-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if _, err := l.Acquire(ctx, "mentor-1"); !errors.Is(err, errs.ErrConcurrency) {
		t.Fatalf("expected concurrency error while held, got %v", err)
	}

	release()
	again, err := l.Acquire(ctx, "mentor-1")
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	again()
}

func TestRedisReleaseKeepsForeignToken(t *testing.T) {
	rdb := redisClient(t)
	prefix := "test:" + uuid.NewString()
	l := NewRedis(rdb, slog.Default(), RedisConfig{Prefix: prefix, TTL: time.Second})
	ctx := context.Background()

	release, err := l.Acquire(ctx, "mentor-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	// Simulate lease expiry followed by another holder.
	if err := rdb.Set(ctx, prefix+":mentor-1", "someone-else", time.Second).Err(); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	release()

	got, err := rdb.Get(ctx, prefix+":mentor-1").Result()
	if err != nil || got != "someone-else" {
		t.Fatalf("release removed a lock it did not own: %q %v", got, err)
	}
	_ = rdb.Del(ctx, prefix+":mentor-1").Err()
}
