package activity

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/fashcheck/fashcheck/internal/api"
	"github.com/fashcheck/fashcheck/internal/auth"
)

// Reader is the read side of the activity log.
type Reader interface {
	ListByUser(ctx context.Context, userID uuid.UUID, params ListParams) ([]Activity, int64, error)
	StatsByUser(ctx context.Context, userID uuid.UUID) (*Stats, error)
}

// Handler provides HTTP handlers for the caller's activity log.
type Handler struct {
	repo Reader
}

// NewHandler creates a new activity Handler.
func NewHandler(repo Reader) *Handler {
	return &Handler{repo: repo}
}

// List returns paginated activities for the authenticated user.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	params := parseListParams(r)

	activities, total, err := h.repo.ListByUser(r.Context(), userID, params)
	if err != nil {
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONPaginated(w, http.StatusOK, activities, total, params.Page, params.PageSize)
}

// Stats returns the activity breakdown for the authenticated user.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	stats, err := h.repo.StatsByUser(r.Context(), userID)
	if err != nil {
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, stats)
}

func callerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return uuid.Nil, false
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		api.HandleError(w, api.ErrUnauthorized)
		return uuid.Nil, false
	}
	return userID, true
}

func parseListParams(r *http.Request) ListParams {
	params := DefaultListParams()

	if at := r.URL.Query().Get("activity_type"); at != "" {
		params.ActivityType = at
	}
	if p := r.URL.Query().Get("page"); p != "" {
		if page, err := strconv.Atoi(p); err == nil && page > 0 {
			params.Page = page
		}
	}
	if ps := r.URL.Query().Get("page_size"); ps != "" {
		if pageSize, err := strconv.Atoi(ps); err == nil && pageSize > 0 && pageSize <= 100 {
			params.PageSize = pageSize
		}
	}
	if from := r.URL.Query().Get("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			params.From = &t
		}
	}
	if to := r.URL.Query().Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			params.To = &t
		}
	}

	return params
}
