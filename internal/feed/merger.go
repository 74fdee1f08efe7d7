package feed

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/starford/bartermate/internal/events"
	"github.com/starford/bartermate/internal/geo"
	"github.com/starford/bartermate/internal/metrics"
	"github.com/starford/bartermate/internal/models"
	"github.com/starford/bartermate/internal/remote"
)

const (
	// DefaultLookupTimeout bounds the owner lookup of a realtime insert.
	DefaultLookupTimeout = 5 * time.Second
	resubscribeDelay     = 3 * time.Second

	// maxRecent bounds the realtime merges remembered between refreshes.
	maxRecent = 256
)

// merged is a realtime insert and its arrival sequence number.
type merged struct {
	seq     uint64
	listing models.Listing
}

// Merger holds the in-memory feed the user is viewing and folds realtime
// inserts into it.
type Merger struct {
	owners        remote.OwnerLookup
	geo           geo.Provider
	notifier      events.Notifier
	metrics       *metrics.Metrics
	logger        *slog.Logger
	lookupTimeout time.Duration
	retryDelay    time.Duration

	mu        sync.RWMutex
	listings  []models.Listing
	degraded  bool
	fetchedAt time.Time
	seq       uint64
	recent    []merged
}

// NewMerger creates an empty feed. owners, notifier and m may be nil.
func NewMerger(owners remote.OwnerLookup, gp geo.Provider, notifier events.Notifier, m *metrics.Metrics, logger *slog.Logger) *Merger {
	if notifier == nil {
		notifier = events.Discard{}
	}
	if gp == nil {
		gp = geo.NewStatic(nil)
	}
	return &Merger{
		owners:        owners,
		geo:           gp,
		notifier:      notifier,
		metrics:       m,
		logger:        logger,
		lookupTimeout: DefaultLookupTimeout,
		retryDelay:    resubscribeDelay,
	}
}

// Mark returns a token for the realtime merges seen so far. Take it before
// starting a fetch and hand it to ReplaceSince with the fetch's result.
func (m *Merger) Mark() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.seq
}

// Replace swaps in a freshly fetched feed.
func (m *Merger) Replace(r Result) {
	m.ReplaceSince(r, m.Mark())
}

// ReplaceSince swaps in a fetched feed, keeping realtime inserts merged
// after mark that the fetch did not return.
func (m *Merger) ReplaceSince(r Result, mark uint64) {
	ls := slices.Clone(r.Listings)
	if ls == nil {
		ls = []models.Listing{}
	}
	origin := m.origin(context.Background())

	m.mu.Lock()
	keep := m.recent[:0]
	for _, e := range m.recent {
		if e.seq > mark {
			keep = append(keep, e)
		}
	}
	m.recent = keep
	if len(keep) > 0 {
		have := make(map[string]struct{}, len(ls))
		for _, l := range ls {
			have[l.ID] = struct{}{}
		}
		// Newest first so a listing merged twice keeps its latest version.
		for i := len(keep) - 1; i >= 0; i-- {
			l := keep[i].listing
			if _, ok := have[l.ID]; ok {
				continue
			}
			have[l.ID] = struct{}{}
			ls = append(ls, l)
		}
		Sort(ls, origin)
	}
	m.listings = ls
	m.degraded = r.Degraded
	m.fetchedAt = r.FetchedAt
	n := len(ls)
	m.mu.Unlock()
	m.notifier.Notify(events.FeedUpdated, map[string]any{"count": n, "degraded": r.Degraded})
}

// Snapshot returns a copy of the current feed filtered by category
// (empty for all).
func (m *Merger) Snapshot(category models.Category) Result {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Result{
		Listings:  Filter(m.listings, category),
		Degraded:  m.degraded,
		FetchedAt: m.fetchedAt,
	}
}

// Degraded reports whether the current feed came from the snapshot.
func (m *Merger) Degraded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.degraded
}

// OnRemoteInsert enriches l with its owner summary, prepends it to the feed
// and re-sorts. A failed lookup leaves the owner absent; the listing is still
// merged. A listing already in the feed is replaced, not duplicated.
func (m *Merger) OnRemoteInsert(ctx context.Context, l models.Listing) {
	resolved := l.Owner != nil
	if !resolved && m.owners != nil {
		lookupCtx, cancel := context.WithTimeout(ctx, m.lookupTimeout)
		owner, err := m.owners.OwnerSummary(lookupCtx, l.UserID)
		cancel()
		if err != nil {
			m.logger.Warn("feed: owner lookup failed",
				slog.String("listing_id", l.ID),
				slog.String("error", err.Error()),
			)
		} else {
			l.Owner = &owner
			resolved = true
		}
	}

	origin := m.origin(ctx)

	m.mu.Lock()
	next := make([]models.Listing, 0, len(m.listings)+1)
	next = append(next, l)
	for _, existing := range m.listings {
		if existing.ID != l.ID {
			next = append(next, existing)
		}
	}
	Sort(next, origin)
	m.listings = next
	m.seq++
	m.recent = append(m.recent, merged{seq: m.seq, listing: l})
	if len(m.recent) > maxRecent {
		m.recent = slices.Delete(m.recent, 0, len(m.recent)-maxRecent)
	}
	m.mu.Unlock()

	m.metrics.RealtimeMerge(resolved)
	m.notifier.Notify(events.FeedUpdated, map[string]any{"id": l.ID})
}

// Resort re-derives the order, e.g. after the caller's position changed.
func (m *Merger) Resort(ctx context.Context) {
	origin := m.origin(ctx)
	m.mu.Lock()
	Sort(m.listings, origin)
	n := len(m.listings)
	m.mu.Unlock()
	m.notifier.Notify(events.FeedUpdated, map[string]any{"count": n, "resorted": true})
}

// Run consumes feed until ctx ends, resubscribing when the stream drops.
func (m *Merger) Run(ctx context.Context, feed remote.ChangeFeed) error {
	for {
		sub, err := feed.Subscribe(ctx)
		if err != nil {
			m.logger.Warn("feed: realtime subscribe failed", slog.String("error", err.Error()))
		} else {
			for l := range sub.Events {
				m.OnRemoteInsert(ctx, l)
			}
			sub.Close()
		}
		if ctx.Err() != nil {
			return nil
		}
		m.logger.Info("feed: realtime stream ended, resubscribing")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(m.retryDelay):
		}
	}
}

func (m *Merger) origin(ctx context.Context) *models.Coordinate {
	pos, ok := m.geo.Current(ctx)
	if !ok {
		return nil
	}
	return &pos
}
