package redis

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ordersight/ordersight-backend/internal/platform/logger"
)

// Guard is a Redis-backed duplicate guard: SET NX EX per key, so exactly
// one process wins a key until it releases or the TTL lapses.
type Guard struct {
	log *logger.Logger
	rdb *goredis.Client
}

func NewGuard(log *logger.Logger) (*Guard, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    os.Getenv("REDIS_PASSWORD"),
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Guard{
		log: log.With("service", "RedisGuard"),
		rdb: rdb,
	}, nil
}

func (g *Guard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if g == nil || g.rdb == nil {
		return false, fmt.Errorf("redis guard not initialized")
	}
	return g.rdb.SetNX(ctx, "guard:"+key, "1", ttl).Result()
}

func (g *Guard) Release(ctx context.Context, key string) error {
	if g == nil || g.rdb == nil {
		return fmt.Errorf("redis guard not initialized")
	}
	return g.rdb.Del(ctx, "guard:"+key).Err()
}

func (g *Guard) Close() error {
	if g == nil || g.rdb == nil {
		return nil
	}
	return g.rdb.Close()
}
