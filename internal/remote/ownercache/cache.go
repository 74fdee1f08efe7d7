// Package ownercache caches owner summaries in Redis in front of a slower
// lookup.
package ownercache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/starford/bartermate/internal/models"
	"github.com/starford/bartermate/internal/remote"
)

// DefaultTTL bounds how stale a cached premium flag may get.
const DefaultTTL = 10 * time.Minute

// Cache wraps an OwnerLookup. Redis failures fall through to the wrapped
// lookup and never fail a call.
type Cache struct {
	next   remote.OwnerLookup
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

var _ remote.OwnerLookup = (*Cache)(nil)

// New returns a caching lookup. A non-positive ttl uses DefaultTTL.
func New(next remote.OwnerLookup, client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{next: next, client: client, ttl: ttl, logger: logger}
}

func key(userID string) string { return "owner:" + userID }

// OwnerSummary returns the cached summary or resolves and caches it.
func (c *Cache) OwnerSummary(ctx context.Context, userID string) (models.OwnerSummary, error) {
	data, err := c.client.Get(ctx, key(userID)).Bytes()
	switch {
	case err == nil:
		var o models.OwnerSummary
		if jerr := json.Unmarshal(data, &o); jerr == nil {
			return o, nil
		}
		c.logger.Warn("ownercache: dropping corrupt entry", slog.String("user_id", userID))
	case !errors.Is(err, redis.Nil):
		c.logger.Debug("ownercache: get failed", slog.String("error", err.Error()))
	}

	o, err := c.next.OwnerSummary(ctx, userID)
	if err != nil {
		return models.OwnerSummary{}, err
	}
	if data, err := json.Marshal(o); err == nil {
		if err := c.client.Set(ctx, key(userID), data, c.ttl).Err(); err != nil {
			c.logger.Debug("ownercache: set failed", slog.String("error", err.Error()))
		}
	}
	return o, nil
}
