package quota

import (
	"errors"
	"fmt"
	"time"
)

// ErrLedgerUnavailable wraps failures of the usage ledger or reservation
// store. Evaluation fails closed when it is returned.
var ErrLedgerUnavailable = errors.New("usage ledger unavailable")

// ErrUnknownSubject is returned by a SubjectResolver when the caller has no
// active account.
var ErrUnknownSubject = errors.New("unknown quota subject")

// ExceededError is returned when a subject is over its limit for an action.
type ExceededError struct {
	Status Status
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("%s usage limit reached (%d/%d used).", e.Status.Period.Title(), e.Status.Used, e.Status.Limit)
}

// Rejection is the payload returned to clients for a denied action.
type Rejection struct {
	Allowed         bool   `json:"allowed"`
	Used            int    `json:"used"`
	Limit           int    `json:"limit"`
	Remaining       int    `json:"remaining"`
	ResetAt         string `json:"reset_at"`
	ResetPeriod     Period `json:"reset_period"`
	Tier            Tier   `json:"tier"`
	TierName        string `json:"tier_name"`
	Action          Action `json:"action"`
	Message         string `json:"message"`
	UpgradeRequired bool   `json:"upgrade_required"`
}

// Rejection renders the error as the client payload.
func (e *ExceededError) Rejection() Rejection {
	r := Rejection{
		Used:            e.Status.Used,
		Limit:           e.Status.Limit,
		Remaining:       e.Status.Remaining,
		ResetPeriod:     e.Status.Period,
		Tier:            e.Status.Tier,
		TierName:        e.Status.Tier.DisplayName(),
		Action:          e.Status.Action,
		Message:         e.Error(),
		UpgradeRequired: e.Status.Tier != TierIcon,
	}
	if e.Status.ResetAt != nil {
		r.ResetAt = e.Status.ResetAt.UTC().Format(time.RFC3339)
	}
	return r
}

// RetryAfter returns how long until the window resets, never negative.
func (e *ExceededError) RetryAfter(now time.Time) time.Duration {
	if e.Status.ResetAt == nil {
		return 0
	}
	d := e.Status.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// IsExceeded reports whether err is or wraps an *ExceededError.
func IsExceeded(err error) bool {
	var ex *ExceededError
	return errors.As(err, &ex)
}
