package analytics

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fashcheck/fashcheck/internal/api"
	"github.com/fashcheck/fashcheck/internal/auth"
)

type Handler struct {
	tracker  *Tracker
	validate *validator.Validate
}

func NewHandler(tracker *Tracker) *Handler {
	return &Handler{
		tracker:  tracker,
		validate: validator.New(),
	}
}

type feedbackResponse struct {
	Rating       int       `json:"rating"`
	AnalysisType string    `json:"analysis_type"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// RecordFeedback stores a rating for an AI result.
func (h *Handler) RecordFeedback(w http.ResponseWriter, r *http.Request) {
	if auth.GetUserClaims(r.Context()) == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req Feedback
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}
	if req.AnalysisType == "" {
		req.AnalysisType = "unknown"
	}

	h.tracker.RecordFeedback(req)

	api.JSON(w, http.StatusCreated, feedbackResponse{
		Rating:       req.Rating,
		AnalysisType: req.AnalysisType,
		RecordedAt:   time.Now().UTC(),
	})
}

// Get returns the aggregated analytics snapshot.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	api.JSON(w, http.StatusOK, h.tracker.Snapshot())
}
