// Package profile resolves fully-populated behavioral profiles for
// rule evaluation: cache lookup, feature store read, default merge.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Service resolves user profiles against the feature store with a
// read-through cache in front.
type Service struct {
	store domain.FeatureStore
	cache domain.Cache
	ttl   time.Duration
}

// Resolution describes how a profile was obtained.
type Resolution struct {
	CacheHit        bool     `json:"cache_hit"`
	DefaultedFields []string `json:"defaulted_fields,omitempty"`
}

// NewService creates a new profile service. ttl bounds how long a
// cached feature read may be served before the store is consulted
// again.
func NewService(store domain.FeatureStore, cache domain.Cache, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Service{
		store: store,
		cache: cache,
		ttl:   ttl,
	}
}

// Resolve returns the fully-merged profile for a user. A store
// failure is returned to the caller, who fail-closes; cache failures
// are soft and degrade to a store read, because a cache outage must
// never deny traffic on its own.
func (s *Service) Resolve(ctx context.Context, userID int64) (domain.Profile, Resolution, error) {
	start := time.Now()
	defer func() {
		metrics.ProfileFetchDuration.Observe(time.Since(start).Seconds())
	}()

	var res Resolution

	partial := s.fromCache(ctx, userID)
	if partial != nil {
		res.CacheHit = true
		metrics.ProfileCacheHits.Inc()
	} else {
		metrics.ProfileCacheMisses.Inc()

		fetched, err := s.store.UserFeatures(ctx, userID, time.Now().UTC())
		if err != nil {
			return domain.Profile{}, res, fmt.Errorf("failed to fetch user features: %w", err)
		}
		partial = fetched
		s.fillCache(ctx, userID, partial)
	}

	merged, defaulted := partial.Merge()
	res.DefaultedFields = defaulted
	return merged, res, nil
}

// InvalidateUser drops a user's cached feature read, forcing the next
// resolve to hit the store.
func (s *Service) InvalidateUser(ctx context.Context, userID int64) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Delete(ctx, cacheKey(userID))
}

func (s *Service) fromCache(ctx context.Context, userID int64) *domain.PartialProfile {
	if s.cache == nil {
		return nil
	}

	data, err := s.cache.Get(ctx, cacheKey(userID))
	if err != nil {
		slog.Debug("profile cache read failed", "user_id", userID, "error", err)
		return nil
	}
	if data == nil {
		return nil
	}

	var partial domain.PartialProfile
	if err := json.Unmarshal(data, &partial); err != nil {
		slog.Debug("profile cache entry corrupt", "user_id", userID, "error", err)
		return nil
	}
	return &partial
}

func (s *Service) fillCache(ctx context.Context, userID int64, partial *domain.PartialProfile) {
	if s.cache == nil {
		return
	}

	data, err := json.Marshal(partial)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey(userID), data, s.ttl); err != nil {
		slog.Debug("profile cache write failed", "user_id", userID, "error", err)
	}
}

func cacheKey(userID int64) string {
	return fmt.Sprintf("profile:%d", userID)
}
