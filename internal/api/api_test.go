package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/starford/bartermate/internal/barterservice"
	"github.com/starford/bartermate/internal/draft"
	"github.com/starford/bartermate/internal/feed"
	"github.com/starford/bartermate/internal/geo"
	"github.com/starford/bartermate/internal/models"
	"github.com/starford/bartermate/internal/session"
	"github.com/starford/bartermate/internal/syncer"
	"github.com/starford/bartermate/internal/testutil"
)

type testEnvironment struct {
	router  http.Handler
	remote  *testutil.Remote
	queue   *draft.Queue
	session *session.Session
	dataDir string
}

// testEnv wires the service over fakes. An empty authToken disables auth.
func testEnv(t *testing.T, authToken string) *testEnvironment {
	t.Helper()
	logger := testutil.Logger()
	store := testutil.TestStore(t)
	rs := testutil.NewRemote()
	q := draft.NewQueue(store, logger)
	deb := draft.NewDebouncer(q, time.Hour, nil, logger)
	sess := session.New()
	pos := geo.NewStatic(nil)
	dataDir := t.TempDir()
	imageDir := filepath.Join(dataDir, imagesDir)
	fs := feed.NewService(
		feed.NewCache(rs, store, pos, nil, nil, logger),
		feed.NewMerger(rs, pos, nil, nil, logger),
	)
	rec := syncer.New(syncer.Deps{
		Queue:    q,
		Session:  sess,
		Listings: rs,
		Blobs:    testutil.NewBlob(),
		ImageDir: imageDir,
		Pending:  deb,
		Logger:   logger,
	}, time.Second)
	svc := barterservice.New(barterservice.Deps{
		Queue:      q,
		Debouncer:  deb,
		Feed:       fs,
		Reconciler: rec,
		Session:    sess,
		Logger:     logger,
		ImageDir:   imageDir,
		Location:   pos,
	})

	return &testEnvironment{
		router:  NewRouter(svc, authToken != "", authToken, nil, dataDir),
		remote:  rs,
		queue:   q,
		session: sess,
		dataDir: dataDir,
	}
}

func (e *testEnvironment) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, r)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func signIn(t *testing.T, e *testEnvironment, sub string) {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	w := e.do(t, http.MethodPut, "/session", map[string]string{"access_token": tok})
	if w.Code != http.StatusOK {
		t.Fatalf("sign in = %d, body = %s", w.Code, w.Body.String())
	}
}

func bikeDraft() models.Draft {
	return models.Draft{
		Title:       "Bike",
		Description: "Used bike",
		Category:    models.CategoryProducts,
		Location:    &models.Coordinate{Latitude: 1, Longitude: 2},
	}
}

func TestDraftLifecycle(t *testing.T) {
	e := testEnv(t, "")

	w := e.do(t, http.MethodGet, "/draft", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("empty draft = %d, want 404", w.Code)
	}

	w = e.do(t, http.MethodPut, "/draft?flush=true", bikeDraft())
	if w.Code != http.StatusAccepted {
		t.Fatalf("save = %d, body = %s", w.Code, w.Body.String())
	}
	var saved models.Draft
	_ = json.Unmarshal(w.Body.Bytes(), &saved)
	if saved.ID == "" {
		t.Error("saved draft has no id")
	}

	stored, ok := e.queue.Load(context.Background())
	if !ok || stored.Title != "Bike" {
		t.Fatalf("stored = %+v, %v", stored, ok)
	}

	w = e.do(t, http.MethodDelete, "/draft", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", w.Code)
	}
	w = e.do(t, http.MethodDelete, "/draft", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("second delete = %d", w.Code)
	}
	if w = e.do(t, http.MethodGet, "/draft", nil); w.Code != http.StatusNotFound {
		t.Errorf("after delete = %d, want 404", w.Code)
	}
}

func TestSaveDraft_Invalid(t *testing.T) {
	e := testEnv(t, "")
	req := httptest.NewRequest(http.MethodPut, "/draft", strings.NewReader("{"))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad json = %d, want 400", w.Code)
	}

	d := bikeDraft()
	d.Category = "weapons"
	if w := e.do(t, http.MethodPut, "/draft", d); w.Code != http.StatusBadRequest {
		t.Errorf("bad category = %d, want 400", w.Code)
	}
}

func TestSubmitDraft_Statuses(t *testing.T) {
	e := testEnv(t, "")

	if w := e.do(t, http.MethodPost, "/draft/submit", nil); w.Code != http.StatusNotFound {
		t.Errorf("no draft = %d, want 404", w.Code)
	}

	incomplete := bikeDraft()
	incomplete.Location = nil
	e.do(t, http.MethodPut, "/draft?flush=true", incomplete)
	if w := e.do(t, http.MethodPost, "/draft/submit", nil); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("incomplete = %d, want 422", w.Code)
	}

	e.do(t, http.MethodPut, "/draft?flush=true", bikeDraft())
	if w := e.do(t, http.MethodPost, "/draft/submit", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("signed out = %d, want 401", w.Code)
	}

	signIn(t, e, "user-1")
	e.remote.SetFailures(false, true, false)
	if w := e.do(t, http.MethodPost, "/draft/submit", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("remote down = %d, want 503", w.Code)
	}
	if _, ok := e.queue.Load(context.Background()); !ok {
		t.Fatal("draft lost after failed submit")
	}

	e.remote.SetFailures(false, false, false)
	w := e.do(t, http.MethodPost, "/draft/submit", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("submit = %d, body = %s", w.Code, w.Body.String())
	}
	var l models.Listing
	_ = json.Unmarshal(w.Body.Bytes(), &l)
	if l.UserID != "user-1" || l.Title != "Bike" {
		t.Errorf("listing = %+v", l)
	}
	if _, ok := e.queue.Load(context.Background()); ok {
		t.Error("draft still queued after submit")
	}
}

func TestFeedAndStatus(t *testing.T) {
	e := testEnv(t, "")
	e.remote.AddListing(models.Listing{ID: "l1", UserID: "u", Title: "Lamp", Category: models.CategoryHome})
	e.remote.AddListing(models.Listing{ID: "l2", UserID: "u", Title: "Kale", Category: models.CategoryProduce})

	w := e.do(t, http.MethodPost, "/feed/refresh", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("refresh = %d", w.Code)
	}

	w = e.do(t, http.MethodGet, "/feed?category=produce", nil)
	var res feed.Result
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if len(res.Listings) != 1 || res.Listings[0].ID != "l2" {
		t.Errorf("filtered feed = %+v", res.Listings)
	}

	if w := e.do(t, http.MethodGet, "/feed?category=bogus", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bogus category = %d, want 400", w.Code)
	}

	e.remote.SetFailures(true, false, false)
	w = e.do(t, http.MethodPost, "/sync", nil)
	var rep barterservice.SyncReport
	_ = json.Unmarshal(w.Body.Bytes(), &rep)
	if !rep.Degraded || rep.Listings != 2 {
		t.Errorf("sync report = %+v, want degraded with 2 cached listings", rep)
	}

	w = e.do(t, http.MethodGet, "/status", nil)
	var st barterservice.Status
	_ = json.Unmarshal(w.Body.Bytes(), &st)
	if !st.Degraded || st.DraftPending || st.Syncing {
		t.Errorf("status = %+v", st)
	}
}

func TestLocation_ReordersFeed(t *testing.T) {
	e := testEnv(t, "")
	e.remote.AddListing(models.Listing{ID: "near-a", UserID: "u", Title: "Lamp", Category: models.CategoryHome,
		Location: &models.Coordinate{Latitude: 10, Longitude: 10}})
	e.remote.AddListing(models.Listing{ID: "near-b", UserID: "u", Title: "Kale", Category: models.CategoryProduce,
		Location: &models.Coordinate{Latitude: -10, Longitude: -10}})
	if w := e.do(t, http.MethodPost, "/feed/refresh", nil); w.Code != http.StatusOK {
		t.Fatalf("refresh = %d", w.Code)
	}

	first := func() string {
		t.Helper()
		var res feed.Result
		if err := json.Unmarshal(e.do(t, http.MethodGet, "/feed", nil).Body.Bytes(), &res); err != nil {
			t.Fatal(err)
		}
		if len(res.Listings) != 2 {
			t.Fatalf("feed = %+v", res.Listings)
		}
		return res.Listings[0].ID
	}

	if w := e.do(t, http.MethodPut, "/location", map[string]float64{"latitude": -9, "longitude": -9}); w.Code != http.StatusNoContent {
		t.Fatalf("set location = %d, body = %s", w.Code, w.Body.String())
	}
	if got := first(); got != "near-b" {
		t.Errorf("first = %q, want near-b", got)
	}

	if w := e.do(t, http.MethodPut, "/location", map[string]float64{"latitude": 9, "longitude": 9}); w.Code != http.StatusNoContent {
		t.Fatalf("set location = %d", w.Code)
	}
	if got := first(); got != "near-a" {
		t.Errorf("first = %q, want near-a", got)
	}

	if w := e.do(t, http.MethodPut, "/location", map[string]float64{"latitude": 95, "longitude": 0}); w.Code != http.StatusBadRequest {
		t.Errorf("out of range = %d, want 400", w.Code)
	}
	if w := e.do(t, http.MethodPut, "/location", map[string]float64{"latitude": 1}); w.Code != http.StatusBadRequest {
		t.Errorf("missing longitude = %d, want 400", w.Code)
	}
	if w := e.do(t, http.MethodDelete, "/location", nil); w.Code != http.StatusNoContent {
		t.Errorf("clear location = %d", w.Code)
	}
}

func TestSession_RejectsGarbage(t *testing.T) {
	e := testEnv(t, "")
	if w := e.do(t, http.MethodPut, "/session", map[string]string{"access_token": "nope"}); w.Code != http.StatusUnauthorized {
		t.Errorf("garbage token = %d, want 401", w.Code)
	}
	if w := e.do(t, http.MethodPut, "/session", map[string]string{}); w.Code != http.StatusBadRequest {
		t.Errorf("missing token = %d, want 400", w.Code)
	}
	signIn(t, e, "user-9")
	if w := e.do(t, http.MethodDelete, "/session", nil); w.Code != http.StatusNoContent {
		t.Errorf("sign out = %d", w.Code)
	}
	if _, ok := e.session.Current(); ok {
		t.Error("still signed in")
	}
}

func TestImageUpload(t *testing.T) {
	e := testEnv(t, "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "photo.PNG")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write([]byte("png-bytes"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/draft/image", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload = %d, body = %s", w.Code, w.Body.String())
	}

	d, ok := e.queue.Load(context.Background())
	if !ok {
		t.Fatal("draft not written")
	}
	if !strings.HasSuffix(d.ImageURI, ".png") {
		t.Errorf("image uri = %q", d.ImageURI)
	}
	data, err := os.ReadFile(d.ImageURI)
	if err != nil || string(data) != "png-bytes" {
		t.Errorf("stored image = %q, %v", data, err)
	}
}

func TestImageUpload_RejectsTraversalAndType(t *testing.T) {
	h := NewImageHandler(t.TempDir(), nil)
	for _, name := range []string{"../evil.png", "a/b.png", "notes.txt", ""} {
		if _, err := h.localName(name); err == nil {
			t.Errorf("localName(%q) accepted", name)
		}
	}
}

func TestAuthMiddleware(t *testing.T) {
	e := testEnv(t, "secret")

	if w := e.do(t, http.MethodGet, "/status", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("with token = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_QueryTokenForGetOnly(t *testing.T) {
	e := testEnv(t, "secret")

	if w := e.do(t, http.MethodGet, "/status?access_token=secret", nil); w.Code != http.StatusOK {
		t.Errorf("GET with query token = %d, want 200", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/status?access_token=wrong", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("GET with wrong query token = %d, want 401", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/sync?access_token=secret", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("POST with query token = %d, want 401", w.Code)
	}
}
