package services

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/pkg/breach"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreachChecker_Count_CachesRange(t *testing.T) {
	stored := map[string]*models.BreachRange{}
	cache := &MockBreachCache{
		GetFunc: func(ctx context.Context, prefix string) (*models.BreachRange, error) {
			if rng, ok := stored[prefix]; ok {
				return rng, nil
			}
			return nil, models.ErrNotFound
		},
		PutFunc: func(ctx context.Context, rng *models.BreachRange) error {
			stored[rng.Prefix] = rng
			return nil
		},
	}
	fetcher := breachedFetcher("hunter2", 17)
	checker := NewBreachChecker(cache, fetcher, time.Hour, time.Second, slog.Default())
	ctx := context.Background()

	n, err := checker.Count(ctx, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, int64(17), n)

	n, err = checker.Count(ctx, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, int64(17), n)
	assert.Equal(t, 1, fetcher.Calls)

	prefix, _ := breach.HashParts("hunter2")
	require.Contains(t, stored, prefix)
	assert.WithinDuration(t, time.Now().Add(time.Hour), stored[prefix].ExpiresAt, 5*time.Second)
}

func TestBreachChecker_Count_NotInRange(t *testing.T) {
	checker := NewBreachChecker(nil, breachedFetcher("hunter2", 17), time.Hour, time.Second, slog.Default())

	n, err := checker.Count(context.Background(), strongPassword)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBreachChecker_Count_CacheErrorFallsThrough(t *testing.T) {
	cache := &MockBreachCache{
		GetFunc: func(ctx context.Context, prefix string) (*models.BreachRange, error) {
			return nil, errors.New("redis: connection refused")
		},
		PutFunc: func(ctx context.Context, rng *models.BreachRange) error {
			return errors.New("redis: connection refused")
		},
	}
	checker := NewBreachChecker(cache, breachedFetcher("hunter2", 3), time.Hour, time.Second, slog.Default())

	n, err := checker.Count(context.Background(), "hunter2")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestBreachChecker_Count_FetchTimeout(t *testing.T) {
	fetcher := &MockBreachRangeFetcher{
		RangeFunc: func(ctx context.Context, prefix string) (map[string]int64, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	checker := NewBreachChecker(nil, fetcher, time.Hour, 20*time.Millisecond, slog.Default())

	_, err := checker.Count(context.Background(), "hunter2")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBreachChecker_Cleanup(t *testing.T) {
	cache := &MockBreachCache{
		DeleteExpiredFunc: func(ctx context.Context) (int64, error) { return 4, nil },
	}
	checker := NewBreachChecker(cache, &MockBreachRangeFetcher{}, time.Hour, time.Second, slog.Default())

	n, err := checker.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	n, err = NewBreachChecker(nil, &MockBreachRangeFetcher{}, time.Hour, time.Second, slog.Default()).Cleanup(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
