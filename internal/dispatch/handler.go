package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/fashcheck/fashcheck/internal/api"
	"github.com/fashcheck/fashcheck/internal/quota"
)

const maxBodyBytes = 10 << 20

// Request is the body of a gated AI call.
type Request struct {
	Input json.RawMessage `json:"input" validate:"required"`
}

// Handler serves gated AI endpoints. It expects quota.Handler.Require to
// have admitted the caller.
type Handler struct {
	dispatcher *Dispatcher
	validate   *validator.Validate
}

func NewHandler(dispatcher *Dispatcher) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		validate:   validator.New(),
	}
}

// Action returns the handler for one gated action.
func (h *Handler) Action(action quota.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subj, ok := quota.SubjectFromContext(r.Context())
		if !ok {
			api.HandleError(w, api.ErrUnauthorized)
			return
		}

		var req Request
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			api.HandleError(w, api.ErrBadRequest)
			return
		}
		if err := h.validate.Struct(req); err != nil {
			api.HandleError(w, api.NewValidationError(err.Error()))
			return
		}

		result, err := h.dispatcher.Dispatch(r.Context(), subj, action, req.Input)
		if err != nil {
			writeDispatchError(w, err)
			return
		}

		api.JSON(w, http.StatusOK, result)
	}
}

func writeDispatchError(w http.ResponseWriter, err error) {
	var workerErr *WorkerError
	switch {
	case errors.As(err, &workerErr):
		api.JSONErrorMessage(w, http.StatusBadGateway, workerErr.Message)
	case errors.Is(err, ErrTimeout):
		api.HandleError(w, api.ErrUpstreamTimeout)
	case errors.Is(err, ErrNoWorkers):
		api.HandleError(w, api.ErrServiceUnavailable)
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to send.
	default:
		slog.Error("dispatch: request failed", "error", err)
		api.HandleError(w, api.ErrUpstreamFailed)
	}
}
