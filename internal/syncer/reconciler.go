// Package syncer flushes the pending draft to the remote store whenever
// connectivity or a session becomes available.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starford/bartermate/internal/apperr"
	"github.com/starford/bartermate/internal/draft"
	"github.com/starford/bartermate/internal/events"
	"github.com/starford/bartermate/internal/metrics"
	"github.com/starford/bartermate/internal/models"
	"github.com/starford/bartermate/internal/netmon"
	"github.com/starford/bartermate/internal/remote"
	"github.com/starford/bartermate/internal/session"
)

// DefaultTimeout bounds one reconcile, including the image upload.
const DefaultTimeout = 30 * time.Second

// Outcome names how a reconcile ended.
type Outcome string

// Reconcile outcomes.
const (
	OutcomeNoDraft         Outcome = "no_draft"
	OutcomeIncomplete      Outcome = "incomplete"
	OutcomeOffline         Outcome = "offline"
	OutcomeUnauthenticated Outcome = "unauthenticated"
	OutcomeSubmitted       Outcome = "submitted"
	OutcomeFailed          Outcome = "failed"
	OutcomeBusy            Outcome = "busy"
)

// Result reports one reconcile.
type Result struct {
	Outcome Outcome
	// Listing is set when Outcome is OutcomeSubmitted.
	Listing *models.Listing
	// Err explains OutcomeFailed and the skip outcomes.
	Err error
}

// Connectivity is the part of the network monitor the reconciler uses.
type Connectivity interface {
	IsOffline() bool
	OnChange(fn netmon.Listener) func()
}

// Flusher writes edits that are still waiting for their debounce window.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Deps are the reconciler's collaborators. Blobs, Pending, Network,
// Notifier and Metrics are optional. Local images are uploaded only from
// ImageDir; with it empty they are always dropped.
type Deps struct {
	Queue    *draft.Queue
	Session  *session.Session
	Listings remote.ListingStore
	Blobs    remote.BlobStore
	ImageDir string
	Pending  Flusher
	Network  Connectivity
	Notifier events.Notifier
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Reconciler submits the pending draft. At most one reconcile runs at a
// time; a call made while one is in flight returns OutcomeBusy at once.
type Reconciler struct {
	deps    Deps
	timeout time.Duration
	now     func() time.Time

	inFlight atomic.Bool

	// mu orders Trigger's wg.Add against Run's final Wait.
	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// New creates a reconciler. A non-positive timeout uses DefaultTimeout.
func New(deps Deps, timeout time.Duration) *Reconciler {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if deps.Notifier == nil {
		deps.Notifier = events.Discard{}
	}
	return &Reconciler{deps: deps, timeout: timeout, now: time.Now}
}

// Syncing reports whether a reconcile is in flight.
func (r *Reconciler) Syncing() bool {
	return r.inFlight.Load()
}

// Reconcile tries once to submit the pending draft. It never retries; the
// draft stays queued on any failure for the next trigger.
func (r *Reconciler) Reconcile(ctx context.Context) Result {
	if !r.inFlight.CompareAndSwap(false, true) {
		r.deps.Metrics.Reconcile(string(OutcomeBusy))
		return Result{Outcome: OutcomeBusy}
	}
	defer r.inFlight.Store(false)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res := r.reconcile(ctx)
	r.deps.Metrics.Reconcile(string(res.Outcome))
	return res
}

func (r *Reconciler) reconcile(ctx context.Context) Result {
	log := r.deps.Logger

	if r.deps.Pending != nil {
		if err := r.deps.Pending.Flush(ctx); err != nil {
			log.Warn("sync: flush pending edit failed", slog.String("error", err.Error()))
		}
	}

	d, ok := r.deps.Queue.Load(ctx)
	if !ok {
		return Result{Outcome: OutcomeNoDraft}
	}
	if d.Incomplete() {
		log.Debug("sync: draft incomplete, leaving queued", slog.String("id", d.ID))
		return Result{Outcome: OutcomeIncomplete, Err: apperr.ErrIncompleteDraft}
	}
	if r.deps.Network != nil && r.deps.Network.IsOffline() {
		return Result{Outcome: OutcomeOffline, Err: apperr.ErrOffline}
	}
	ident, ok := r.deps.Session.Current()
	if !ok {
		log.Info("sync: no session, leaving draft queued", slog.String("id", d.ID))
		return Result{Outcome: OutcomeUnauthenticated, Err: apperr.ErrUnauthenticated}
	}

	if d.ID == "" {
		draft.EnsureID(&d)
		if err := r.deps.Queue.Save(ctx, d); err != nil {
			return r.failed(d, err)
		}
	}

	l, err := r.submit(ctx, d, ident)
	if err != nil {
		return r.failed(d, err)
	}

	cleared, err := r.deps.Queue.Complete(ctx, d)
	if err != nil {
		// The insert landed; the next reconcile resubmits the same ID, which
		// the store accepts without duplicating.
		log.Warn("sync: clear after submit failed", slog.String("id", l.ID), slog.String("error", err.Error()))
	}
	log.Info("sync: draft submitted", slog.String("id", l.ID), slog.Bool("cleared", cleared))
	r.deps.Notifier.Notify(events.DraftSynced, map[string]any{"id": l.ID, "listing": l})
	return Result{Outcome: OutcomeSubmitted, Listing: &l}
}

func (r *Reconciler) failed(d models.Draft, err error) Result {
	r.deps.Logger.Warn("sync: reconcile failed",
		slog.String("id", d.ID),
		slog.String("error", err.Error()),
	)
	r.deps.Notifier.Notify(events.DraftSyncFailed, map[string]string{
		"id":    d.ID,
		"error": err.Error(),
	})
	return Result{Outcome: OutcomeFailed, Err: err}
}

func (r *Reconciler) submit(ctx context.Context, d models.Draft, ident session.Identity) (models.Listing, error) {
	if err := d.Validate(); err != nil {
		return models.Listing{}, fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}

	imageURL, err := r.uploadImage(ctx, d)
	if err != nil {
		return models.Listing{}, err
	}

	l := models.ListingFromDraft(d, ident.UserID, imageURL, r.now())
	if err := l.Validate(); err != nil {
		return models.Listing{}, fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	inserted, err := r.deps.Listings.InsertListing(ctx, l)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return models.Listing{}, fmt.Errorf("sync: insert timed out: %w", err)
		}
		return models.Listing{}, fmt.Errorf("sync: insert: %w", err)
	}
	return inserted, nil
}

// Trigger starts a reconcile in the background. reason is logged. It does
// nothing once Run has returned.
func (r *Reconciler) Trigger(ctx context.Context, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		res := r.Reconcile(ctx)
		r.deps.Logger.Debug("sync: triggered",
			slog.String("reason", reason),
			slog.String("outcome", string(res.Outcome)),
		)
	}()
}

// Run reconciles whenever the network comes back or a user signs in, until
// ctx ends. It waits for triggered reconciles before returning.
func (r *Reconciler) Run(ctx context.Context) error {
	var unsubNet func()
	if r.deps.Network != nil {
		unsubNet = r.deps.Network.OnChange(func(offline bool) {
			if !offline {
				r.Trigger(ctx, "online")
			}
		})
	}
	changes, unsubSession := r.deps.Session.Subscribe()

	// A draft may be waiting from a previous run.
	r.Trigger(ctx, "startup")

	defer func() {
		if unsubNet != nil {
			unsubNet()
		}
		unsubSession()
		r.mu.Lock()
		r.stopped = true
		r.mu.Unlock()
		r.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-changes:
			if !ok {
				return nil
			}
			if c.SignedIn {
				r.Trigger(ctx, "signed_in")
			}
		}
	}
}
