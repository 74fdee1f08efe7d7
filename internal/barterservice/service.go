// Package barterservice is the facade over the sync core shared by the HTTP
// API and the MCP server.
package barterservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/starford/bartermate/internal/apperr"
	"github.com/starford/bartermate/internal/draft"
	"github.com/starford/bartermate/internal/events"
	"github.com/starford/bartermate/internal/feed"
	"github.com/starford/bartermate/internal/geo"
	"github.com/starford/bartermate/internal/models"
	"github.com/starford/bartermate/internal/session"
	"github.com/starford/bartermate/internal/syncer"
)

// Status summarizes the sync core for the UI.
type Status struct {
	Offline      bool `json:"offline"`
	Degraded     bool `json:"degraded"`
	DraftPending bool `json:"draft_pending"`
	Syncing      bool `json:"syncing"`
	SignedIn     bool `json:"signed_in"`
}

// SyncReport is the outcome of a foreground sync.
type SyncReport struct {
	Outcome  syncer.Outcome  `json:"outcome"`
	Listing  *models.Listing `json:"listing,omitempty"`
	Error    string          `json:"error,omitempty"`
	Listings int             `json:"listings"`
	Degraded bool            `json:"degraded"`
}

// NetworkState reports the last known connectivity.
type NetworkState interface {
	IsOffline() bool
}

// Deps are the components the service coordinates. Network and Notifier
// are optional. ImageDir is the only place a draft may reference a local
// image from.
type Deps struct {
	Queue      *draft.Queue
	Debouncer  *draft.Debouncer
	Feed       *feed.Service
	Reconciler *syncer.Reconciler
	Session    *session.Session
	Network    NetworkState
	Notifier   events.Notifier
	Logger     *slog.Logger
	ImageDir   string
	// Location is the caller's position used for distance ordering. Nil
	// makes SetLocation fail.
	Location   *geo.Static
}

// Service coordinates drafts, the feed and reconciliation.
type Service struct {
	deps Deps
}

// New creates a service.
func New(deps Deps) *Service {
	if deps.Notifier == nil {
		deps.Notifier = events.Discard{}
	}
	return &Service{deps: deps}
}

// Feed returns the live feed filtered by category (empty for all).
func (s *Service) Feed(category models.Category) (feed.Result, error) {
	if err := validCategory(category); err != nil {
		return feed.Result{}, err
	}
	return s.deps.Feed.Current(category), nil
}

// RefreshFeed refetches the feed, falling back to the cached snapshot.
func (s *Service) RefreshFeed(ctx context.Context, category models.Category) (feed.Result, error) {
	if err := validCategory(category); err != nil {
		return feed.Result{}, err
	}
	s.deps.Feed.Refresh(ctx)
	return s.deps.Feed.Current(category), nil
}

// Draft returns the draft being composed, including edits not yet written.
func (s *Service) Draft(ctx context.Context) (models.Draft, error) {
	d, ok := s.deps.Debouncer.Current(ctx)
	if !ok {
		return models.Draft{}, apperr.ErrNotFound
	}
	return d, nil
}

// SaveDraft records an edit. It is written after the debounce window, or
// immediately when flush is set. The returned draft carries its ID.
func (s *Service) SaveDraft(ctx context.Context, d models.Draft, flush bool) (models.Draft, error) {
	if err := d.Validate(); err != nil {
		return models.Draft{}, fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	if err := syncer.CheckImage(s.deps.ImageDir, d.ImageURI); err != nil {
		return models.Draft{}, fmt.Errorf("%w: image_uri: %v", apperr.ErrValidation, err)
	}
	d = s.deps.Debouncer.Update(d)
	if flush {
		if err := s.deps.Debouncer.Flush(ctx); err != nil {
			return models.Draft{}, err
		}
	}
	return d, nil
}

// AttachImage sets the draft's image to a file on this device and writes
// the draft immediately.
func (s *Service) AttachImage(ctx context.Context, localPath string) (models.Draft, error) {
	d, _ := s.deps.Debouncer.Current(ctx)
	d.ImageURI = localPath
	d = s.deps.Debouncer.Update(d)
	if err := s.deps.Debouncer.Flush(ctx); err != nil {
		return models.Draft{}, err
	}
	return d, nil
}

// ClearDraft discards the draft and any pending edit.
func (s *Service) ClearDraft(ctx context.Context) error {
	s.deps.Debouncer.Discard()
	if err := s.deps.Queue.Clear(ctx); err != nil {
		return err
	}
	s.deps.Notifier.Notify(events.DraftCleared, nil)
	return nil
}

// SubmitDraft reconciles now and reports the outcome.
func (s *Service) SubmitDraft(ctx context.Context) syncer.Result {
	return s.deps.Reconciler.Reconcile(ctx)
}

// Sync handles the app coming to the foreground: reconcile the draft, then
// refresh the feed.
func (s *Service) Sync(ctx context.Context) SyncReport {
	res := s.deps.Reconciler.Reconcile(ctx)
	fr := s.deps.Feed.Refresh(ctx)

	rep := SyncReport{
		Outcome:  res.Outcome,
		Listing:  res.Listing,
		Listings: len(fr.Listings),
		Degraded: fr.Degraded,
	}
	if res.Err != nil {
		rep.Error = res.Err.Error()
	}
	return rep
}

// Status reports the current state.
func (s *Service) Status(ctx context.Context) Status {
	_, pending := s.deps.Debouncer.Current(ctx)
	_, signedIn := s.deps.Session.Current()
	st := Status{
		Degraded:     s.deps.Feed.Degraded(),
		DraftPending: pending,
		Syncing:      s.deps.Reconciler.Syncing(),
		SignedIn:     signedIn,
	}
	if s.deps.Network != nil {
		st.Offline = s.deps.Network.IsOffline()
	}
	return st
}

// ErrNoLocation is returned by SetLocation when the position is fixed.
var ErrNoLocation = errors.New("location is not settable")

// SetLocation records the caller's position and re-sorts the live feed by
// distance from it. Nil clears the position.
func (s *Service) SetLocation(ctx context.Context, c *models.Coordinate) error {
	if s.deps.Location == nil {
		return ErrNoLocation
	}
	if c != nil {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("%w: %v", apperr.ErrValidation, err)
		}
	}
	s.deps.Location.Set(c)
	s.deps.Feed.Merger().Resort(ctx)
	s.deps.Logger.Debug("location: updated", slog.Bool("known", c != nil))
	return nil
}

// SignIn sets the session from an access token.
func (s *Service) SignIn(token string) (session.Identity, error) {
	id, err := s.deps.Session.SetToken(token)
	if err != nil {
		return session.Identity{}, fmt.Errorf("%w: %v", apperr.ErrUnauthenticated, err)
	}
	s.deps.Logger.Info("session: signed in", slog.String("user_id", id.UserID))
	s.deps.Notifier.Notify(events.SessionChanged, map[string]any{"signed_in": true, "user_id": id.UserID})
	return id, nil
}

// SignOut clears the session.
func (s *Service) SignOut() {
	s.deps.Session.Clear()
	s.deps.Logger.Info("session: signed out")
	s.deps.Notifier.Notify(events.SessionChanged, map[string]any{"signed_in": false})
}

func validCategory(c models.Category) error {
	if c == "" || slices.Contains(models.Categories, c) {
		return nil
	}
	return fmt.Errorf("%w: unknown category %q", apperr.ErrValidation, c)
}
