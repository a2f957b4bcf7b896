package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/pkg/breach"
)

// BreachCache stores k-anonymity ranges between lookups
type BreachCache interface {
	Get(ctx context.Context, prefix string) (*models.BreachRange, error)
	Put(ctx context.Context, rng *models.BreachRange) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// BreachRangeFetcher queries the remote range API
type BreachRangeFetcher interface {
	Range(ctx context.Context, prefix string) (map[string]int64, error)
}

// BreachChecker answers "how often has this password been breached" using a
// cached range when possible
type BreachChecker struct {
	cache    BreachCache
	fetcher  BreachRangeFetcher
	cacheTTL time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

func NewBreachChecker(cache BreachCache, fetcher BreachRangeFetcher, cacheTTL, timeout time.Duration, logger *slog.Logger) *BreachChecker {
	return &BreachChecker{
		cache:    cache,
		fetcher:  fetcher,
		cacheTTL: cacheTTL,
		timeout:  timeout,
		logger:   logger,
	}
}

// Count returns the breach count for password, 0 when it is absent from
// its range
func (b *BreachChecker) Count(ctx context.Context, password string) (int64, error) {
	prefix, suffix := breach.HashParts(password)

	rng, err := b.cached(ctx, prefix)
	if err != nil {
		return 0, err
	}
	return rng.Lookup(suffix), nil
}

func (b *BreachChecker) cached(ctx context.Context, prefix string) (*models.BreachRange, error) {
	if b.cache != nil {
		rng, err := b.cache.Get(ctx, prefix)
		if err == nil {
			return rng, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			b.logger.Warn("breach cache read failed", slog.String("prefix", prefix), slog.Any("error", err))
		}
	}

	fetchCtx := ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	counts, err := b.fetcher.Range(fetchCtx, prefix)
	if err != nil {
		return nil, fmt.Errorf("breach range lookup failed: %w", err)
	}

	now := time.Now()
	rng := &models.BreachRange{
		Prefix:       prefix,
		SuffixCounts: counts,
		CheckedAt:    now,
		ExpiresAt:    now.Add(b.cacheTTL),
	}

	if b.cache != nil {
		if err := b.cache.Put(ctx, rng); err != nil {
			b.logger.Warn("breach cache write failed", slog.String("prefix", prefix), slog.Any("error", err))
		}
	}
	return rng, nil
}

// Cleanup drops expired ranges from the cache
func (b *BreachChecker) Cleanup(ctx context.Context) (int64, error) {
	if b.cache == nil {
		return 0, nil
	}
	return b.cache.DeleteExpired(ctx)
}
