package feed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/starford/bartermate/internal/apperr"
	"github.com/starford/bartermate/internal/events"
	"github.com/starford/bartermate/internal/geo"
	"github.com/starford/bartermate/internal/localstore"
	"github.com/starford/bartermate/internal/metrics"
	"github.com/starford/bartermate/internal/models"
	"github.com/starford/bartermate/internal/remote"
)

const snapshotKey = "feed_snapshot"

// Snapshot is the last successfully fetched feed as persisted on the device.
type Snapshot struct {
	Listings  []models.Listing `json:"listings"`
	FetchedAt time.Time        `json:"fetched_at"`
}

// Result is what one fetch produced.
type Result struct {
	Listings []models.Listing `json:"listings"`
	// Degraded is set when the remote fetch failed and Listings came from
	// the snapshot.
	Degraded bool `json:"degraded"`
	// FetchedAt is when Listings were fetched remotely; zero if never.
	FetchedAt time.Time `json:"fetched_at,omitzero"`
}

// Cache fetches the feed and falls back to the persisted snapshot.
type Cache struct {
	remote   remote.ListingStore
	store    localstore.Store
	geo      geo.Provider
	notifier events.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewCache creates a feed cache. notifier and m may be nil.
func NewCache(rs remote.ListingStore, store localstore.Store, gp geo.Provider, notifier events.Notifier, m *metrics.Metrics, logger *slog.Logger) *Cache {
	if notifier == nil {
		notifier = events.Discard{}
	}
	if gp == nil {
		gp = geo.NewStatic(nil)
	}
	return &Cache{
		remote:   rs,
		store:    store,
		geo:      gp,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// Fetch returns the ordered feed. On remote failure it returns the snapshot,
// or an empty feed, with Degraded set. It never returns an error.
func (c *Cache) Fetch(ctx context.Context) Result {
	origin := c.origin(ctx)

	ls, err := c.remote.FetchListings(ctx)
	if err == nil {
		if ls == nil {
			ls = []models.Listing{}
		}
		Sort(ls, origin)
		snap := Snapshot{Listings: ls, FetchedAt: c.now().UTC()}
		if err := c.store.Set(ctx, snapshotKey, snap); err != nil {
			c.logger.Warn("feed: snapshot write failed", slog.String("error", err.Error()))
		}
		c.metrics.FeedFetch(metrics.SourceRemote)
		return Result{Listings: ls, FetchedAt: snap.FetchedAt}
	}

	c.logger.Warn("feed: remote fetch failed, serving snapshot", slog.String("error", err.Error()))
	snap := c.loadSnapshot(ctx)
	Sort(snap.Listings, origin)
	c.metrics.FeedFetch(metrics.SourceCache)
	c.notifier.Notify(events.FeedDegraded, map[string]any{
		"cached":     len(snap.Listings),
		"fetched_at": snap.FetchedAt,
	})
	return Result{Listings: snap.Listings, Degraded: true, FetchedAt: snap.FetchedAt}
}

// loadSnapshot treats a missing or unreadable snapshot as empty.
func (c *Cache) loadSnapshot(ctx context.Context) Snapshot {
	var snap Snapshot
	if err := c.store.Get(ctx, snapshotKey, &snap); err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			c.logger.Warn("feed: snapshot read failed", slog.String("error", err.Error()))
		}
		return Snapshot{Listings: []models.Listing{}}
	}
	if snap.Listings == nil {
		snap.Listings = []models.Listing{}
	}
	return snap
}

func (c *Cache) origin(ctx context.Context) *models.Coordinate {
	pos, ok := c.geo.Current(ctx)
	if !ok {
		return nil
	}
	return &pos
}
