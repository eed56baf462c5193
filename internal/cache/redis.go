package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/roombooking/config"
	"github.com/Domenick1991/roombooking/internal/domain"
	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	client   *redis.Client
	statsTTL time.Duration
	eventTTL time.Duration
}

func NewRedisCache(cfg config.RedisConfig, statsTTL time.Duration) *RedisCache {
	return NewRedisCacheWithClient(
		redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}),
		statsTTL,
		time.Duration(cfg.EventDedupeHours)*time.Hour,
	)
}

func NewRedisCacheWithClient(client *redis.Client, statsTTL, eventTTL time.Duration) *RedisCache {
	if eventTTL <= 0 {
		eventTTL = 24 * time.Hour
	}
	return &RedisCache{client: client, statsTTL: statsTTL, eventTTL: eventTTL}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// GetStats returns nil, nil on a cache miss.
func (c *RedisCache) GetStats(ctx context.Context) (*domain.Stats, error) {
	data, err := c.client.Get(ctx, statsKey()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var stats domain.Stats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *RedisCache) SetStats(ctx context.Context, stats domain.Stats) error {
	if c.statsTTL <= 0 {
		return nil
	}
	payload, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, statsKey(), payload, c.statsTTL).Err()
}

func (c *RedisCache) InvalidateStats(ctx context.Context) error {
	return c.client.Del(ctx, statsKey()).Err()
}

// MarkEventProcessed records a gateway event id. It returns false when the id was seen before.
func (c *RedisCache) MarkEventProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	return c.client.SetNX(ctx, eventKey(provider, eventID), time.Now().Unix(), c.eventTTL).Result()
}

// ForgetEvent drops a recorded event id so a redelivery is processed again.
func (c *RedisCache) ForgetEvent(ctx context.Context, provider, eventID string) error {
	return c.client.Del(ctx, eventKey(provider, eventID)).Err()
}

func statsKey() string {
	return "cache:bookings:stats"
}

func eventKey(provider, eventID string) string {
	return fmt.Sprintf("dedupe:%s:event:%s", provider, eventID)
}
