package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/redis/go-redis/v9"
)

const breachKeyPrefix = "bastion:breach:range:"

// RedisBreachCache keeps k-anonymity ranges in Redis with a TTL matching
// the range expiry
type RedisBreachCache struct {
	client redis.UniversalClient
}

func NewRedisBreachCache(client redis.UniversalClient) *RedisBreachCache {
	return &RedisBreachCache{client: client}
}

func (c *RedisBreachCache) Get(ctx context.Context, prefix string) (*models.BreachRange, error) {
	raw, err := c.client.Get(ctx, breachKeyPrefix+prefix).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached range %s: %w", prefix, err)
	}

	var rng models.BreachRange
	if err := json.Unmarshal(raw, &rng); err != nil {
		return nil, fmt.Errorf("failed to decode cached range %s: %w", prefix, err)
	}
	return &rng, nil
}

func (c *RedisBreachCache) Put(ctx context.Context, rng *models.BreachRange) error {
	ttl := time.Until(rng.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	raw, err := json.Marshal(rng)
	if err != nil {
		return fmt.Errorf("failed to encode range %s: %w", rng.Prefix, err)
	}

	if err := c.client.Set(ctx, breachKeyPrefix+rng.Prefix, raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache range %s: %w", rng.Prefix, err)
	}
	return nil
}

// DeleteExpired is a no-op; Redis expires keys itself
func (c *RedisBreachCache) DeleteExpired(ctx context.Context) (int64, error) {
	return 0, nil
}
