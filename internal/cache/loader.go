package cache

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"invenda/backend/internal/domain"
)

type UsageLoadFunc func(ctx context.Context, ownerID string) (*domain.UsageStats, error)

// UsageLoader reads through the cache and collapses concurrent misses for
// the same owner into a single load. Cache failures degrade to a direct load.
type UsageLoader struct {
	cache UsageCache
	ttl   time.Duration
	group singleflight.Group
}

func NewUsageLoader(cache UsageCache, ttl time.Duration) *UsageLoader {
	if cache == nil {
		cache = NoopUsageCache{}
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &UsageLoader{cache: cache, ttl: ttl}
}

func (l *UsageLoader) Load(ctx context.Context, ownerID string, load UsageLoadFunc) (*domain.UsageStats, error) {
	cached, ok, err := l.cache.Get(ctx, ownerID)
	if err != nil {
		log.WithError(err).WithField("owner_id", ownerID).Warn("usage cache read failed")
	}
	if ok && cached != nil {
		return cached, nil
	}

	v, err, _ := l.group.Do(ownerID, func() (interface{}, error) {
		stats, err := load(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		if err := l.cache.Set(ctx, ownerID, stats, l.ttl); err != nil {
			log.WithError(err).WithField("owner_id", ownerID).Warn("usage cache write failed")
		}
		return stats, nil
	})
	if err != nil {
		return nil, err
	}
	stats := *v.(*domain.UsageStats)
	return &stats, nil
}

func (l *UsageLoader) Invalidate(ctx context.Context, ownerID string) {
	if err := l.cache.Delete(ctx, ownerID); err != nil {
		log.WithError(err).WithField("owner_id", ownerID).Warn("usage cache invalidation failed")
	}
}
