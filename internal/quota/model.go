package quota

import (
	"time"

	"github.com/google/uuid"
)

// UsageEvent matches the usage_events table schema. One row is written per
// successful gated operation.
type UsageEvent struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	Action     Action    `json:"action"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Subject is the caller an admission decision is made for.
type Subject struct {
	UserID uuid.UUID
	Tier   Tier
}

// Status is the computed quota state of one (user, action) pair.
type Status struct {
	Action    Action     `json:"action"`
	Tier      Tier       `json:"tier"`
	Period    Period     `json:"reset_period"`
	Used      int        `json:"used"`
	Limit     int        `json:"limit"`
	Remaining int        `json:"remaining"`
	ResetAt   *time.Time `json:"reset_at"`
	Unlimited bool       `json:"unlimited"`
	Allowed   bool       `json:"allowed"`
}

func unlimitedStatus(action Action, tier Tier, period Period) Status {
	return Status{
		Action:    action,
		Tier:      tier,
		Period:    period,
		Limit:     Unlimited,
		Remaining: Unlimited,
		Unlimited: true,
		Allowed:   true,
	}
}

func newStatus(action Action, tier Tier, w Window, used, limit int) Status {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	resetAt := w.End
	return Status{
		Action:    action,
		Tier:      tier,
		Period:    w.Period,
		Used:      used,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   &resetAt,
		Allowed:   used < limit,
	}
}
