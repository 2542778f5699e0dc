package progress

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/p-n-ai/pai-learn/internal/platform/cache"
)

// CachedRepository fronts another repository with Redis. Loads read through
// the cache and saves write through it. Cache failures are logged and never
// fail the call.
type CachedRepository struct {
	inner Repository
	cache *cache.Cache
	ttl   time.Duration
}

func NewCachedRepository(inner Repository, c *cache.Cache, ttl time.Duration) *CachedRepository {
	return &CachedRepository{inner: inner, cache: c, ttl: ttl}
}

func cacheKey(learnerID string) string {
	return "progress:" + learnerID
}

func (r *CachedRepository) Load(ctx context.Context, learnerID string) (*Record, error) {
	var rec Record
	err := r.cache.GetJSON(ctx, cacheKey(learnerID), &rec)
	if err == nil && rec.Tree != nil {
		return &rec, nil
	}
	if err != nil && !errors.Is(err, cache.ErrMiss) {
		slog.Warn("progress cache read failed", "learner_id", learnerID, "error", err)
	}

	loaded, err := r.inner.Load(ctx, learnerID)
	if err != nil {
		return nil, err
	}
	if err := r.cache.SetJSON(ctx, cacheKey(learnerID), loaded, r.ttl); err != nil {
		slog.Warn("progress cache fill failed", "learner_id", learnerID, "error", err)
	}
	return loaded, nil
}

func (r *CachedRepository) Save(ctx context.Context, learnerID string, rec Record) error {
	if err := r.inner.Save(ctx, learnerID, rec); err != nil {
		// The cached copy may be ahead of or behind the store now.
		if derr := r.cache.Delete(ctx, cacheKey(learnerID)); derr != nil {
			slog.Warn("progress cache invalidate failed", "learner_id", learnerID, "error", derr)
		}
		return err
	}
	if err := r.cache.SetJSON(ctx, cacheKey(learnerID), rec, r.ttl); err != nil {
		slog.Warn("progress cache write failed", "learner_id", learnerID, "error", err)
	}
	return nil
}
