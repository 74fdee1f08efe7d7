// Package remote declares the backend platform the sync core talks to.
// Adapters live in subpackages.
package remote

import (
	"context"
	"io"
	"sync"

	"github.com/starford/bartermate/internal/models"
)

// ListingStore is the authenticated data store for listings.
type ListingStore interface {
	// InsertListing creates l. Inserting a listing whose ID already exists
	// succeeds without creating a second row.
	InsertListing(ctx context.Context, l models.Listing) (models.Listing, error)
	// FetchListings returns the current feed with owner summaries joined.
	FetchListings(ctx context.Context) ([]models.Listing, error)
}

// OwnerLookup resolves the owner summary of a listing.
type OwnerLookup interface {
	OwnerSummary(ctx context.Context, userID string) (models.OwnerSummary, error)
}

// BlobStore uploads binary objects and returns a publicly resolvable URL.
// Uploading to an existing key overwrites it.
type BlobStore interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
}

// ChangeFeed delivers listing inserts pushed by the backend. Delivery is
// at-least-once and unordered.
type ChangeFeed interface {
	Subscribe(ctx context.Context) (*Subscription, error)
}

// Subscription is an open change feed. Events is closed after Close is
// called or the feed's context ends.
type Subscription struct {
	Events <-chan models.Listing

	once  sync.Once
	close func()
}

// NewSubscription wraps an event channel and the function that stops it.
func NewSubscription(events <-chan models.Listing, closeFn func()) *Subscription {
	return &Subscription{Events: events, close: closeFn}
}

// Close stops delivery. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.close != nil {
			s.close()
		}
	})
}
