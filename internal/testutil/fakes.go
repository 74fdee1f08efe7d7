package testutil

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/starford/bartermate/internal/apperr"
	"github.com/starford/bartermate/internal/models"
	"github.com/starford/bartermate/internal/remote"
)

// ErrUnreachable is what the fakes return when told to fail.
var ErrUnreachable = errors.New("remote unreachable")

// Remote is an in-memory ListingStore and OwnerLookup.
type Remote struct {
	mu       sync.Mutex
	listings []models.Listing
	owners   map[string]models.OwnerSummary
	inserts  []models.Listing

	// FailFetch, FailInsert and FailOwner make the matching call return
	// ErrUnreachable.
	FailFetch  bool
	FailInsert bool
	FailOwner  bool

	// InsertGate, when set, blocks InsertListing until it receives or ctx ends.
	InsertGate chan struct{}
}

var (
	_ remote.ListingStore = (*Remote)(nil)
	_ remote.OwnerLookup  = (*Remote)(nil)
)

// NewRemote returns an empty fake.
func NewRemote() *Remote {
	return &Remote{owners: make(map[string]models.OwnerSummary)}
}

// AddOwner registers an owner summary.
func (r *Remote) AddOwner(o models.OwnerSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners[o.ID] = o
}

// AddListing seeds the feed.
func (r *Remote) AddListing(l models.Listing) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listings = append(r.listings, l)
}

// SetFailures toggles every failure switch under the fake's lock.
func (r *Remote) SetFailures(fetch, insert, owner bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FailFetch, r.FailInsert, r.FailOwner = fetch, insert, owner
}

// Inserts returns every listing passed to InsertListing, in call order.
func (r *Remote) Inserts() []models.Listing {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Listing(nil), r.inserts...)
}

// InsertListing records l and adds it to the feed. Repeated IDs are recorded
// but stored once.
func (r *Remote) InsertListing(ctx context.Context, l models.Listing) (models.Listing, error) {
	r.mu.Lock()
	gate := r.InsertGate
	r.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return models.Listing{}, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.inserts = append(r.inserts, l)
	if r.FailInsert {
		return models.Listing{}, ErrUnreachable
	}
	for _, existing := range r.listings {
		if existing.ID == l.ID {
			return existing, nil
		}
	}
	r.listings = append(r.listings, l)
	return l, nil
}

// FetchListings returns the seeded feed joined with known owners.
func (r *Remote) FetchListings(context.Context) ([]models.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailFetch {
		return nil, ErrUnreachable
	}
	out := make([]models.Listing, len(r.listings))
	for i, l := range r.listings {
		if o, ok := r.owners[l.UserID]; ok {
			l.Owner = &o
		}
		out[i] = l
	}
	return out, nil
}

// OwnerSummary returns a registered owner.
func (r *Remote) OwnerSummary(_ context.Context, userID string) (models.OwnerSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailOwner {
		return models.OwnerSummary{}, ErrUnreachable
	}
	o, ok := r.owners[userID]
	if !ok {
		return models.OwnerSummary{}, apperr.ErrNotFound
	}
	return o, nil
}

// Blob is an in-memory BlobStore.
type Blob struct {
	mu      sync.Mutex
	objects map[string][]byte
	Fail    bool
}

var _ remote.BlobStore = (*Blob)(nil)

// NewBlob returns an empty fake.
func NewBlob() *Blob {
	return &Blob{objects: make(map[string][]byte)}
}

// Upload stores the object and returns a fake URL.
func (b *Blob) Upload(_ context.Context, key string, r io.Reader, _ int64, _ string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Fail {
		return "", ErrUnreachable
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	b.objects[key] = data
	return "https://blob.test/" + key, nil
}

// Object returns an uploaded object.
func (b *Blob) Object(key string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	return data, ok
}

// ChangeFeed is a ChangeFeed driven by Push.
type ChangeFeed struct {
	mu   sync.Mutex
	subs []chan models.Listing
}

var _ remote.ChangeFeed = (*ChangeFeed)(nil)

// Subscribe opens a subscription that lives until Close or ctx ends.
func (f *ChangeFeed) Subscribe(ctx context.Context) (*remote.Subscription, error) {
	in := make(chan models.Listing, 16)
	out := make(chan models.Listing)
	subCtx, cancel := context.WithCancel(ctx)

	f.mu.Lock()
	f.subs = append(f.subs, in)
	f.mu.Unlock()

	go func() {
		defer close(out)
		for {
			select {
			case <-subCtx.Done():
				return
			case l := <-in:
				select {
				case out <- l:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()
	return remote.NewSubscription(out, cancel), nil
}

// Subscribers reports how many subscriptions were opened.
func (f *ChangeFeed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Push delivers l to every subscription.
func (f *ChangeFeed) Push(l models.Listing) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		ch <- l
	}
}
