package terminology

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/synaptica-ai/indicators/pkg/common/logger"
	"github.com/synaptica-ai/indicators/pkg/observability/metrics"
)

type cacheClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// CachedResolver reads identifiers through Redis before asking the next resolver.
// Only name lookups are cached, never evaluation results.
type CachedResolver struct {
	next   Resolver
	client cacheClient
	ttl    time.Duration
}

func NewCachedResolver(next Resolver, client *redis.Client, ttl time.Duration) *CachedResolver {
	c := &CachedResolver{next: next, ttl: ttl}
	if client != nil {
		c.client = client
	}
	return c
}

func (c *CachedResolver) Resolve(ctx context.Context, kind Kind, name string) (string, error) {
	if c.client == nil {
		return c.next.Resolve(ctx, kind, name)
	}
	key := fmt.Sprintf("terminology:%s:%s", kind, name)
	id, err := c.client.Get(ctx, key).Result()
	if err == nil {
		metrics.ObserveTerminologyLookup(true)
		return id, nil
	}
	metrics.ObserveTerminologyLookup(false)
	if !errors.Is(err, redis.Nil) {
		logger.Log.WithError(err).WithField("key", key).Warn("terminology cache read failed")
	}

	id, err = c.next.Resolve(ctx, kind, name)
	if err != nil {
		return "", err
	}
	if err := c.client.Set(ctx, key, id, c.ttl).Err(); err != nil {
		logger.Log.WithError(err).WithField("key", key).Warn("terminology cache write failed")
	}
	return id, nil
}
