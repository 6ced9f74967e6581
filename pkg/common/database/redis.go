package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/synaptica-ai/indicators/pkg/common/config"
	"github.com/synaptica-ai/indicators/pkg/common/logger"
)

// OpenRedis returns a client for the terminology cache, or nil when Redis is
// disabled or unreachable; callers then resolve against the catalog directly.
func OpenRedis(ctx context.Context, cfg *config.Config) *redis.Client {
	if cfg.RedisHost == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Log.WithError(err).Warn("Redis unavailable, terminology cache disabled")
		_ = client.Close()
		return nil
	}
	logger.Log.Info("Connected to Redis")
	return client
}
