package feed

import (
	"context"

	"github.com/starford/bartermate/internal/models"
)

// Service pairs the fetch cache with the live feed.
type Service struct {
	cache  *Cache
	merger *Merger
}

// NewService returns a feed service.
func NewService(cache *Cache, merger *Merger) *Service {
	return &Service{cache: cache, merger: merger}
}

// Refresh fetches the feed (falling back to the snapshot) and makes it the
// live feed. Realtime inserts that arrive during the fetch are kept.
func (s *Service) Refresh(ctx context.Context) Result {
	mark := s.merger.Mark()
	r := s.cache.Fetch(ctx)
	s.merger.ReplaceSince(r, mark)
	return r
}

// Current returns the live feed filtered by category (empty for all).
func (s *Service) Current(category models.Category) Result {
	return s.merger.Snapshot(category)
}

// Degraded reports whether the live feed is served from the snapshot.
func (s *Service) Degraded() bool {
	return s.merger.Degraded()
}

// Merger returns the live feed.
func (s *Service) Merger() *Merger {
	return s.merger
}
