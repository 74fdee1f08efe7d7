package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/bartermate/internal/barterservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
// dataDir is where uploaded draft images are kept.
func NewRouter(svc *barterservice.Service, authEnabled bool, token string, sseHandler http.Handler, dataDir string) chi.Router {
	h := NewHandler(svc)
	ih := NewImageHandler(dataDir, svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Feed.
	r.Get("/feed", h.GetFeed)
	r.Post("/feed/refresh", h.RefreshFeed)

	// Draft.
	r.Get("/draft", h.GetDraft)
	r.Put("/draft", h.SaveDraft)
	r.Delete("/draft", h.ClearDraft)
	r.Post("/draft/submit", h.SubmitDraft)
	r.Post("/draft/image", ih.Upload)

	// Caller position for distance ordering.
	r.Put("/location", h.SetLocation)
	r.Delete("/location", h.ClearLocation)

	// Foreground trigger and status.
	r.Post("/sync", h.Sync)
	r.Get("/status", h.Status)

	// Session.
	r.Put("/session", h.SignIn)
	r.Delete("/session", h.SignOut)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
