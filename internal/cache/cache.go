package cache

import (
	"context"
	"time"

	"invenda/backend/internal/domain"
)

// UsageCache holds per-owner plan usage snapshots.
type UsageCache interface {
	Get(ctx context.Context, ownerID string) (*domain.UsageStats, bool, error)
	Set(ctx context.Context, ownerID string, value *domain.UsageStats, ttl time.Duration) error
	Delete(ctx context.Context, ownerID string) error
}

type NoopUsageCache struct{}

func (NoopUsageCache) Get(_ context.Context, _ string) (*domain.UsageStats, bool, error) {
	return nil, false, nil
}

func (NoopUsageCache) Set(_ context.Context, _ string, _ *domain.UsageStats, _ time.Duration) error {
	return nil
}

func (NoopUsageCache) Delete(_ context.Context, _ string) error {
	return nil
}

func usageKey(ownerID string) string {
	return "invenda:usage:" + ownerID
}
