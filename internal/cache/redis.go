package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	cfg "github.com/sand/storefront-payments/backend/config"
	"github.com/sand/storefront-payments/backend/internal/core/ports"
	"github.com/sand/storefront-payments/backend/internal/entities"
)

var _ ports.StatisticsCache = (*StatisticsCache)(nil)

const defaultStatsTTL = 30 * time.Second

func NewClient(ctx context.Context, config *cfg.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.Redis.Addr, err)
	}

	return rdb, nil
}

// StatisticsCache keeps one JSON snapshot of the payment statistics.
type StatisticsCache struct {
	logger *slog.Logger
	rdb    redis.Cmdable
	key    string
	ttl    time.Duration
}

func NewStatisticsCache(logger *slog.Logger, rdb redis.Cmdable, ttl time.Duration) *StatisticsCache {
	if ttl <= 0 {
		ttl = defaultStatsTTL
	}
	return &StatisticsCache{logger: logger, rdb: rdb, key: ports.StatisticsCacheKey, ttl: ttl}
}

func (c *StatisticsCache) Get(ctx context.Context) (*entities.Statistics, bool, error) {
	raw, err := c.rdb.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", c.key, err)
	}

	var stats entities.Statistics
	if err = json.Unmarshal(raw, &stats); err != nil {
		// A snapshot we cannot read is as good as none.
		c.logger.Warn("Dropping unreadable statistics snapshot", "key", c.key, "error", err)
		_ = c.rdb.Del(ctx, c.key).Err()
		return nil, false, nil
	}

	return &stats, true, nil
}

func (c *StatisticsCache) Set(ctx context.Context, stats *entities.Statistics) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to encode statistics: %w", err)
	}
	if err = c.rdb.Set(ctx, c.key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", c.key, err)
	}
	return nil
}

func (c *StatisticsCache) Invalidate(ctx context.Context) error {
	if err := c.rdb.Del(ctx, c.key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", c.key, err)
	}
	return nil
}
