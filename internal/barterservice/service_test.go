package barterservice

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/bartermate/internal/apperr"
	"github.com/starford/bartermate/internal/draft"
	"github.com/starford/bartermate/internal/events"
	"github.com/starford/bartermate/internal/feed"
	"github.com/starford/bartermate/internal/geo"
	"github.com/starford/bartermate/internal/models"
	"github.com/starford/bartermate/internal/session"
	"github.com/starford/bartermate/internal/syncer"
	"github.com/starford/bartermate/internal/testutil"
)

type env struct {
	svc      *Service
	imageDir string
	remote   *testutil.Remote
	queue    *draft.Queue
	session  *session.Session
	recorder *events.Recorder
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := testutil.Logger()
	store := testutil.TestStore(t)
	rs := testutil.NewRemote()
	rec := events.NewRecorder(64)
	q := draft.NewQueue(store, logger)
	deb := draft.NewDebouncer(q, time.Hour, rec, logger)
	sess := session.New()
	imageDir := t.TempDir()
	pos := geo.NewStatic(nil)

	fs := feed.NewService(
		feed.NewCache(rs, store, pos, rec, nil, logger),
		feed.NewMerger(rs, pos, rec, nil, logger),
	)
	r := syncer.New(syncer.Deps{
		Queue:    q,
		Session:  sess,
		Listings: rs,
		ImageDir: imageDir,
		Pending:  deb,
		Notifier: rec,
		Logger:   logger,
	}, time.Second)

	return &env{
		svc: New(Deps{
			Queue:      q,
			Debouncer:  deb,
			Feed:       fs,
			Reconciler: r,
			Session:    sess,
			Notifier:   rec,
			Logger:     logger,
			ImageDir:   imageDir,
			Location:   pos,
		}),
		imageDir: imageDir,
		remote:   rs,
		queue:    q,
		session:  sess,
		recorder: rec,
	}
}

func token(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte("test"))
	require.NoError(t, err)
	return s
}

func TestSaveDraft_PendingUntilFlush(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	d, err := e.svc.SaveDraft(ctx, models.Draft{Title: "Bike"}, false)
	require.NoError(t, err)
	require.NotEmpty(t, d.ID)

	got, err := e.svc.Draft(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Bike", got.Title)

	_, stored := e.queue.Load(ctx)
	assert.False(t, stored, "debounced edit must not be written yet")

	_, err = e.svc.SaveDraft(ctx, models.Draft{Title: "Bike 2"}, true)
	require.NoError(t, err)
	persisted, ok := e.queue.Load(ctx)
	require.True(t, ok)
	assert.Equal(t, "Bike 2", persisted.Title)
	assert.Equal(t, d.ID, persisted.ID)
}

func TestSaveDraft_RejectsInvalid(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.SaveDraft(context.Background(), models.Draft{Category: "weapons"}, true)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestSaveDraft_LocalImageMustBeInImageDir(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	for _, uri := range []string{"/etc/hostname", "file:///root/.ssh/id_rsa", filepath.Join(e.imageDir, "..", "x.png")} {
		_, err := e.svc.SaveDraft(ctx, models.Draft{Title: "Bike", ImageURI: uri}, true)
		assert.ErrorIs(t, err, apperr.ErrValidation, uri)
	}
	_, stored := e.queue.Load(ctx)
	assert.False(t, stored)

	for _, uri := range []string{filepath.Join(e.imageDir, "a.png"), "https://cdn.example.com/a.png"} {
		d, err := e.svc.SaveDraft(ctx, models.Draft{Title: "Bike", ImageURI: uri}, true)
		require.NoError(t, err, uri)
		assert.Equal(t, uri, d.ImageURI)
	}
}

func TestClearDraft(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.svc.SaveDraft(ctx, models.Draft{Title: "x"}, true)
	require.NoError(t, err)
	_, err = e.svc.SaveDraft(ctx, models.Draft{Title: "y"}, false)
	require.NoError(t, err)

	require.NoError(t, e.svc.ClearDraft(ctx))
	_, err = e.svc.Draft(ctx)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	require.NoError(t, e.svc.ClearDraft(ctx), "clearing twice is fine")
}

func TestSubmitDraft_FlushesPendingEdit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.svc.SignIn(token(t, "user-7", time.Now().Add(time.Hour)))
	require.NoError(t, err)

	_, err = e.svc.SaveDraft(ctx, models.Draft{
		Title:       "Bike",
		Description: "Used bike",
		Category:    models.CategoryProducts,
		Location:    &models.Coordinate{Latitude: 1, Longitude: 2},
	}, false)
	require.NoError(t, err)

	res := e.svc.SubmitDraft(ctx)
	require.Equal(t, syncer.OutcomeSubmitted, res.Outcome)
	assert.Equal(t, "user-7", res.Listing.UserID)
	assert.Len(t, e.remote.Inserts(), 1)
	assert.False(t, e.svc.Status(ctx).DraftPending)
}

func TestSync_RefreshesFeed(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.remote.AddListing(models.Listing{ID: "l1", UserID: "u", Title: "Lamp", Category: models.CategoryHome})

	rep := e.svc.Sync(ctx)
	assert.Equal(t, syncer.OutcomeNoDraft, rep.Outcome)
	assert.Equal(t, 1, rep.Listings)
	assert.False(t, rep.Degraded)

	r, err := e.svc.Feed(models.CategoryHome)
	require.NoError(t, err)
	assert.Len(t, r.Listings, 1)

	_, err = e.svc.Feed("nonsense")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestStatus(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.remote.SetFailures(true, false, false)
	_, err := e.svc.RefreshFeed(ctx, "")
	require.NoError(t, err)

	st := e.svc.Status(ctx)
	assert.True(t, st.Degraded)
	assert.False(t, st.DraftPending)
	assert.False(t, st.Syncing)
	assert.False(t, st.SignedIn)
	assert.False(t, st.Offline)
}

func TestSignIn_ExpiredToken(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.SignIn(token(t, "user-1", time.Now().Add(-time.Minute)))
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)

	_, err = e.svc.SignIn(token(t, "user-1", time.Now().Add(time.Minute)))
	require.NoError(t, err)
	e.svc.SignOut()
	_, ok := e.session.Current()
	assert.False(t, ok)
}

func TestSetLocation_ResortsFeed(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	at := func(id string, lat, lon float64) models.Listing {
		return models.Listing{
			ID: id, UserID: "u-" + id, Title: id, Category: models.CategoryProducts,
			Location: &models.Coordinate{Latitude: lat, Longitude: lon},
		}
	}
	e.remote.AddListing(at("paris", 48.85, 2.35))
	e.remote.AddListing(at("tokyo", 35.68, 139.69))

	ids := func() []string {
		res, err := e.svc.Feed("")
		require.NoError(t, err)
		out := make([]string, 0, len(res.Listings))
		for _, l := range res.Listings {
			out = append(out, l.ID)
		}
		return out
	}

	_, err := e.svc.RefreshFeed(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"paris", "tokyo"}, ids())

	require.NoError(t, e.svc.SetLocation(ctx, &models.Coordinate{Latitude: 35.0, Longitude: 135.0}))
	assert.Equal(t, []string{"tokyo", "paris"}, ids())

	require.NoError(t, e.svc.SetLocation(ctx, &models.Coordinate{Latitude: 50.0, Longitude: 5.0}))
	assert.Equal(t, []string{"paris", "tokyo"}, ids())

	err = e.svc.SetLocation(ctx, &models.Coordinate{Latitude: 91})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, []string{"paris", "tokyo"}, ids())
}
