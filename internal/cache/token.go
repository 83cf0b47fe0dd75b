package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisTokenCache keeps Daraja access tokens in Redis so that every instance
// shares one token until it is about to expire. Redis errors degrade to a
// cache miss.
type RedisTokenCache struct {
	Redis  *redis.Client
	logger *zap.Logger
}

func NewRedisTokenCache(rdb *redis.Client, logger *zap.Logger) *RedisTokenCache {
	return &RedisTokenCache{
		Redis:  rdb,
		logger: logger,
	}
}

func (c *RedisTokenCache) Get(ctx context.Context, key string) (string, bool) {
	token, err := c.Redis.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Failed to read cached token", zap.String("key", key), zap.Error(err))
		}
		return "", false
	}
	return token, token != ""
}

func (c *RedisTokenCache) Set(ctx context.Context, key, token string, ttl time.Duration) {
	if err := c.Redis.Set(ctx, key, token, ttl).Err(); err != nil {
		c.logger.Warn("Failed to cache token", zap.String("key", key), zap.Error(err))
	}
}
