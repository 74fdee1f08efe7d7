package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/bartermate/internal/apperr"
	"github.com/starford/bartermate/internal/barterservice"
	"github.com/starford/bartermate/internal/models"
	"github.com/starford/bartermate/internal/syncer"
)

const maxBodyBytes = 1 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *barterservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *barterservice.Service) *Handler {
	return &Handler{svc: svc}
}

// GetFeed handles GET /api/feed.
//
//	@Summary		Current ordered feed, optionally filtered by category
//	@Tags			feed
//	@Produce		json
//	@Param			category	query		string	false	"Category tag"
//	@Success		200			{object}	feed.Result
//	@Failure		400			{object}	errResponse
//	@Router			/feed [get]
func (h *Handler) GetFeed(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Feed(models.Category(r.URL.Query().Get("category")))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RefreshFeed handles POST /api/feed/refresh. A failed remote fetch still
// answers 200 with degraded set.
func (h *Handler) RefreshFeed(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.RefreshFeed(r.Context(), models.Category(r.URL.Query().Get("category")))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetDraft handles GET /api/draft.
func (h *Handler) GetDraft(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Draft(r.Context())
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("no draft"))
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// SaveDraft handles PUT /api/draft. The edit is debounced unless the
// request carries ?flush=true.
//
//	@Summary		Save the draft being composed
//	@Tags			draft
//	@Accept			json
//	@Produce		json
//	@Param			flush	query		bool			false	"Write immediately"
//	@Param			body	body		models.Draft	true	"Draft fields"
//	@Success		202		{object}	models.Draft
//	@Failure		400		{object}	errResponse
//	@Router			/draft [put]
func (h *Handler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	var d models.Draft
	if err := readJSON(w, r, &d); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	flush := r.URL.Query().Get("flush") == "true"

	saved, err := h.svc.SaveDraft(r.Context(), d, flush)
	if err != nil {
		if errors.Is(err, apperr.ErrValidation) {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		} else {
			slog.Error("save draft failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusAccepted, saved)
}

// ClearDraft handles DELETE /api/draft.
func (h *Handler) ClearDraft(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearDraft(r.Context()); err != nil {
		slog.Error("clear draft failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitDraft handles POST /api/draft/submit.
//
//	@Summary		Submit the draft now
//	@Tags			draft
//	@Produce		json
//	@Success		201	{object}	models.Listing
//	@Failure		401	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Failure		422	{object}	errResponse
//	@Failure		503	{object}	errResponse
//	@Router			/draft/submit [post]
func (h *Handler) SubmitDraft(w http.ResponseWriter, r *http.Request) {
	res := h.svc.SubmitDraft(r.Context())
	if res.Outcome == syncer.OutcomeSubmitted {
		writeJSON(w, http.StatusCreated, res.Listing)
		return
	}
	writeJSON(w, submitStatus(res), map[string]string{
		"outcome": string(res.Outcome),
		"error":   errString(res.Err),
	})
}

func submitStatus(res syncer.Result) int {
	switch res.Outcome {
	case syncer.OutcomeNoDraft:
		return http.StatusNotFound
	case syncer.OutcomeIncomplete:
		return http.StatusUnprocessableEntity
	case syncer.OutcomeUnauthenticated:
		return http.StatusUnauthorized
	case syncer.OutcomeBusy:
		return http.StatusConflict
	case syncer.OutcomeFailed:
		if errors.Is(res.Err, apperr.ErrValidation) {
			return http.StatusUnprocessableEntity
		}
		return http.StatusServiceUnavailable
	default:
		return http.StatusServiceUnavailable
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Sync handles POST /api/sync, the app-foreground trigger.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Sync(r.Context()))
}

// Status handles GET /api/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status(r.Context()))
}

// SignIn handles PUT /api/session with {"access_token": "..."}.
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccessToken string `json:"access_token"`
	}
	if err := readJSON(w, r, &req); err != nil || req.AccessToken == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("access_token is required"))
		return
	}
	id, err := h.svc.SignIn(req.AccessToken)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":    id.UserID,
		"expires_at": id.ExpiresAt,
	})
}

// SignOut handles DELETE /api/session.
func (h *Handler) SignOut(w http.ResponseWriter, _ *http.Request) {
	h.svc.SignOut()
	w.WriteHeader(http.StatusNoContent)
}

// SetLocation handles PUT /api/location with {"latitude": .., "longitude": ..}.
// The live feed is re-sorted by distance from the new position.
func (h *Handler) SetLocation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}
	if err := readJSON(w, r, &req); err != nil || req.Latitude == nil || req.Longitude == nil {
		writeJSON(w, http.StatusBadRequest, errorBody("latitude and longitude are required"))
		return
	}
	h.writeLocation(w, r, &models.Coordinate{Latitude: *req.Latitude, Longitude: *req.Longitude})
}

// ClearLocation handles DELETE /api/location.
func (h *Handler) ClearLocation(w http.ResponseWriter, r *http.Request) {
	h.writeLocation(w, r, nil)
}

func (h *Handler) writeLocation(w http.ResponseWriter, r *http.Request, c *models.Coordinate) {
	err := h.svc.SetLocation(r.Context(), c)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, apperr.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, barterservice.ErrNoLocation):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	default:
		slog.Error("set location failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
