package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fashcheck/fashcheck/internal/metrics"
)

// Mode is the enforcement strength.
type Mode string

const (
	// ModeWeak checks the ledger count and records after success. The check
	// and the write are not atomic: concurrent requests for the same user and
	// action can admit up to limit plus the number of requests in flight.
	ModeWeak Mode = "weak"
	// ModeStrong atomically reserves a slot before the operation runs and
	// releases it if the operation fails.
	ModeStrong Mode = "strong"
)

// bookkeepingTimeout bounds the ledger writes and releases that run after the
// protected operation, which may outlive the caller's context.
const bookkeepingTimeout = 5 * time.Second

// Observer receives enforcement outcomes. Implementations must not block.
type Observer interface {
	UsageRecorded(ctx context.Context, event UsageEvent, status Status)
	QuotaExceeded(ctx context.Context, userID uuid.UUID, status Status)
}

// Enforcer wraps protected operations with admission control.
type Enforcer struct {
	evaluator *Evaluator
	reserver  Reserver
	now       func() time.Time
	observer  Observer
}

// Option configures an Enforcer.
type Option func(*Enforcer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Enforcer) { e.now = now }
}

// WithObserver registers an outcome observer.
func WithObserver(o Observer) Option {
	return func(e *Enforcer) { e.observer = o }
}

// NewEnforcer creates an Enforcer. A nil reserver selects ModeWeak; a
// non-nil reserver selects ModeStrong.
func NewEnforcer(evaluator *Evaluator, reserver Reserver, opts ...Option) *Enforcer {
	e := &Enforcer{
		evaluator: evaluator,
		reserver:  reserver,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Mode reports the enforcement strength in use.
func (e *Enforcer) Mode() Mode {
	if e.reserver == nil {
		return ModeWeak
	}
	return ModeStrong
}

// Evaluator returns the read-only evaluator backing the enforcer.
func (e *Enforcer) Evaluator() *Evaluator {
	return e.evaluator
}

type admission struct {
	subject Subject
	action  Action
	status  Status
	at      time.Time
	slot    *SlotKey
}

// Do runs op if subject may perform action now.
//
// A denial returns *ExceededError without running op. An error from op is
// returned unchanged and no usage is recorded. If ctx is cancelled while op
// runs, usage is not recorded and ctx.Err() is returned. A strong-mode slot
// is given back whenever op fails, is cancelled or panics. Usage is appended
// to the ledger only after op succeeds; a failed append is logged and
// counted but does not fail the call.
func (e *Enforcer) Do(ctx context.Context, subject Subject, action Action, op func(context.Context) error) error {
	adm, err := e.admit(ctx, subject, action)
	if err != nil {
		return err
	}

	// A panic in op unwinds through here; the slot goes back before it
	// propagates.
	done := false
	defer func() {
		if !done {
			e.release(ctx, adm)
		}
	}()

	if err := op(ctx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	done = true
	e.record(ctx, adm)
	return nil
}

// Run is Do for operations that produce a value.
func Run[T any](ctx context.Context, e *Enforcer, subject Subject, action Action, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := e.Do(ctx, subject, action, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func (e *Enforcer) admit(ctx context.Context, subject Subject, action Action) (*admission, error) {
	now := e.now().UTC()

	status, err := e.evaluator.Evaluate(ctx, subject.UserID, action, subject.Tier, now)
	if err != nil {
		if errors.Is(err, ErrLedgerUnavailable) {
			tier, _ := ParseTier(string(subject.Tier))
			metrics.QuotaDecisionsTotal.WithLabelValues(string(action), string(tier), "error").Inc()
			slog.Error("quota: ledger read failed, denying request",
				"error", err, "user_id", subject.UserID, "action", action)
		}
		return nil, err
	}

	adm := &admission{subject: subject, action: action, status: status, at: now}
	if status.Unlimited {
		metrics.QuotaDecisionsTotal.WithLabelValues(string(action), string(status.Tier), "allowed").Inc()
		return adm, nil
	}
	if !status.Allowed {
		return nil, e.deny(ctx, subject, status)
	}

	if e.reserver != nil {
		w := ComputeWindow(now, status.Period)
		key := SlotKey{UserID: subject.UserID, Action: action, WindowStart: w.Start}
		used, ok, err := e.reserver.Reserve(ctx, key, status.Used, status.Limit, w.End)
		if err != nil {
			metrics.QuotaDecisionsTotal.WithLabelValues(string(action), string(status.Tier), "error").Inc()
			slog.Error("quota: reservation failed, denying request",
				"error", err, "user_id", subject.UserID, "action", action)
			return nil, fmt.Errorf("%w: reserving %s slot: %w", ErrLedgerUnavailable, action, err)
		}
		if !ok {
			return nil, e.deny(ctx, subject, newStatus(action, status.Tier, w, used, status.Limit))
		}
		adm.slot = &key
		adm.status = newStatus(action, status.Tier, w, used-1, status.Limit)
	}

	metrics.QuotaDecisionsTotal.WithLabelValues(string(action), string(status.Tier), "allowed").Inc()
	return adm, nil
}

func (e *Enforcer) deny(ctx context.Context, subject Subject, status Status) error {
	metrics.QuotaDecisionsTotal.WithLabelValues(string(status.Action), string(status.Tier), "denied").Inc()
	slog.Info("quota: limit reached",
		"user_id", subject.UserID, "action", status.Action, "tier", status.Tier,
		"used", status.Used, "limit", status.Limit)
	if e.observer != nil {
		e.observer.QuotaExceeded(ctx, subject.UserID, status)
	}
	return &ExceededError{Status: status}
}

func (e *Enforcer) release(ctx context.Context, adm *admission) {
	if adm.slot == nil {
		return
	}
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	if err := e.reserver.Release(bctx, *adm.slot); err != nil {
		slog.Error("quota: releasing reservation failed",
			"error", err, "user_id", adm.subject.UserID, "action", adm.action)
		return
	}
	metrics.QuotaReservationsReleasedTotal.WithLabelValues(string(adm.action)).Inc()
}

// record appends the usage event at the admission instant so that it lands
// in the same window the decision was made for.
func (e *Enforcer) record(ctx context.Context, adm *admission) {
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	event := UsageEvent{
		ID:         uuid.New(),
		UserID:     adm.subject.UserID,
		Action:     adm.action,
		OccurredAt: adm.at,
	}
	if err := e.evaluator.ledger.Append(bctx, event); err != nil {
		// The operation already succeeded. In strong mode the reservation is
		// kept so the slot stays consumed for the rest of the window.
		metrics.QuotaRecordFailuresTotal.WithLabelValues(string(adm.action)).Inc()
		slog.Error("quota: recording usage failed after successful operation",
			"error", err, "user_id", adm.subject.UserID, "action", adm.action, "at", adm.at)
		return
	}
	metrics.QuotaUsageRecordedTotal.WithLabelValues(string(adm.action)).Inc()

	if e.observer != nil {
		st := adm.status
		if !st.Unlimited {
			st.Used++
			st.Remaining = max(0, st.Limit-st.Used)
			st.Allowed = st.Used < st.Limit
		}
		e.observer.UsageRecorded(ctx, event, st)
	}
}
