package quota

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fashcheck/fashcheck/internal/api"
	"github.com/fashcheck/fashcheck/internal/auth"
)

// SubjectResolver maps an authenticated user ID to the subject quota
// decisions are made for.
type SubjectResolver interface {
	Subject(ctx context.Context, userID uuid.UUID) (Subject, error)
}

// Handler provides HTTP handlers for quota status, the tier catalogue and the
// admission middleware.
type Handler struct {
	enforcer *Enforcer
	subjects SubjectResolver
	now      func() time.Time
}

// NewHandler creates a new quota Handler.
func NewHandler(enforcer *Enforcer, subjects SubjectResolver) *Handler {
	return &Handler{
		enforcer: enforcer,
		subjects: subjects,
		now:      enforcer.now,
	}
}

// QuotaOverview is the response of the status listing endpoint.
type QuotaOverview struct {
	Tier     Tier     `json:"tier"`
	TierName string   `json:"tier_name"`
	Mode     Mode     `json:"mode"`
	Actions  []Status `json:"actions"`
}

// TierLimit is one row of the tier catalogue.
type TierLimit struct {
	Action Action `json:"action"`
	Period Period `json:"reset_period"`
	Limit  int    `json:"limit"`
}

// TierInfo describes the limits granted by one tier.
type TierInfo struct {
	Tier   Tier        `json:"tier"`
	Name   string      `json:"name"`
	Limits []TierLimit `json:"limits"`
}

// ListStatus returns the caller's status for every gated action.
func (h *Handler) ListStatus(w http.ResponseWriter, r *http.Request) {
	subj, ok := h.subject(w, r)
	if !ok {
		return
	}

	statuses, err := h.enforcer.Evaluator().EvaluateAll(r.Context(), subj.UserID, subj.Tier, h.now())
	if err != nil {
		writeError(w, err)
		return
	}

	api.JSON(w, http.StatusOK, QuotaOverview{
		Tier:     subj.Tier,
		TierName: subj.Tier.DisplayName(),
		Mode:     h.enforcer.Mode(),
		Actions:  statuses,
	})
}

// GetStatus returns the caller's status for one action.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	subj, ok := h.subject(w, r)
	if !ok {
		return
	}

	action := Action(chi.URLParam(r, "action"))
	status, err := h.enforcer.Evaluator().Evaluate(r.Context(), subj.UserID, action, subj.Tier, h.now())
	if err != nil {
		writeError(w, err)
		return
	}

	api.JSON(w, http.StatusOK, status)
}

// ListTiers returns the limits of every tier.
func (h *Handler) ListTiers(w http.ResponseWriter, r *http.Request) {
	reg := h.enforcer.Evaluator().Registry()
	out := make([]TierInfo, 0, len(Tiers))
	for _, t := range Tiers {
		out = append(out, tierInfo(reg, t))
	}
	api.JSON(w, http.StatusOK, out)
}

// GetMyTier returns the caller's effective tier and its limits.
func (h *Handler) GetMyTier(w http.ResponseWriter, r *http.Request) {
	subj, ok := h.subject(w, r)
	if !ok {
		return
	}
	api.JSON(w, http.StatusOK, tierInfo(h.enforcer.Evaluator().Registry(), subj.Tier))
}

func tierInfo(reg *Registry, t Tier) TierInfo {
	policies := reg.Policies()
	info := TierInfo{Tier: t, Name: t.DisplayName(), Limits: make([]TierLimit, 0, len(policies))}
	for _, p := range policies {
		info.Limits = append(info.Limits, TierLimit{Action: p.Action, Period: p.Period, Limit: p.limitFor(t)})
	}
	return info
}

// Require gates next behind the quota for action. Usage is recorded only when
// next responds with a status below 400; otherwise the reservation is
// released. A denied caller gets 429 with the rejection payload and a
// Retry-After header.
func (h *Handler) Require(action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subj, ok := h.subject(w, r)
			if !ok {
				return
			}

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			err := h.enforcer.Do(r.Context(), subj, action, func(ctx context.Context) error {
				next.ServeHTTP(sw, r.WithContext(WithSubject(ctx, subj)))
				if sw.status >= http.StatusBadRequest {
					return errHandlerFailed
				}
				return nil
			})
			if err == nil || sw.wroteHeader {
				return
			}
			h.writeAdmissionError(w, err)
		})
	}
}

type subjectKey struct{}

// WithSubject returns a context carrying the admitted subject.
func WithSubject(ctx context.Context, subj Subject) context.Context {
	return context.WithValue(ctx, subjectKey{}, subj)
}

// SubjectFromContext returns the subject admitted by Require.
func SubjectFromContext(ctx context.Context) (Subject, bool) {
	subj, ok := ctx.Value(subjectKey{}).(Subject)
	return subj, ok
}

var errHandlerFailed = errors.New("gated handler responded with an error status")

func (h *Handler) writeAdmissionError(w http.ResponseWriter, err error) {
	var exceeded *ExceededError
	if errors.As(err, &exceeded) {
		retry := exceeded.RetryAfter(h.now())
		secs := int64((retry + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
		api.JSONBody(w, http.StatusTooManyRequests, exceeded.Rejection())
		return
	}
	writeError(w, err)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnknownAction):
		api.HandleError(w, api.ErrUnknownAction)
	case errors.Is(err, ErrLedgerUnavailable):
		api.HandleError(w, api.ErrQuotaUnavailable)
	case errors.Is(err, context.DeadlineExceeded):
		api.HandleError(w, api.ErrUpstreamTimeout)
	case errors.Is(err, context.Canceled):
		// Client went away.
	default:
		slog.Error("quota: request failed", "error", err)
		api.HandleError(w, api.ErrInternalServer)
	}
}

func (h *Handler) subject(w http.ResponseWriter, r *http.Request) (Subject, bool) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return Subject{}, false
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		api.HandleError(w, api.ErrUnauthorized)
		return Subject{}, false
	}

	subj, err := h.subjects.Subject(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrUnknownSubject) {
			api.HandleError(w, api.ErrUnauthorized)
			return Subject{}, false
		}
		slog.Error("quota: resolving subject failed", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return Subject{}, false
	}
	return subj, true
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.wroteHeader = true
	}
	return w.ResponseWriter.Write(b)
}
