// Package redis provides best-effort dedup windows and advisory locks on
// top of SET NX EX. Redis here is an optimization, never the source of
// truth: every caller backs the check with a conditional update against
// Postgres.
package redis

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/storychain-backend/internal/logger"
)

type Locker interface {
	// AcquireOnce claims key for ttl. Returns true when this caller won.
	// Errors are reported as (false, err) so callers can choose to proceed
	// without the optimization.
	AcquireOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
	Close() error
}

type locker struct {
	log    *logger.Logger
	rdb    *goredis.Client
	prefix string
}

func NewLocker(log *logger.Logger) (Locker, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	prefix := strings.TrimSpace(os.Getenv("REDIS_LOCK_PREFIX"))
	if prefix == "" {
		prefix = "storychain:lock"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &locker{
		log:    log.With("client", "RedisLocker"),
		rdb:    rdb,
		prefix: prefix,
	}, nil
}

func (l *locker) AcquireOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if l == nil || l.rdb == nil {
		return false, fmt.Errorf("redis locker not initialized")
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	ok, err := l.rdb.SetNX(ctx, l.prefix+":"+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func (l *locker) Release(ctx context.Context, key string) error {
	if l == nil || l.rdb == nil {
		return fmt.Errorf("redis locker not initialized")
	}
	return l.rdb.Del(ctx, l.prefix+":"+key).Err()
}

func (l *locker) Close() error {
	if l == nil || l.rdb == nil {
		return nil
	}
	return l.rdb.Close()
}
