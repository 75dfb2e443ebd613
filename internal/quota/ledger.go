package quota

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Ledger is the append-only store of usage events.
type Ledger interface {
	Append(ctx context.Context, event UsageEvent) error
	Count(ctx context.Context, userID uuid.UUID, action Action, start, end time.Time) (int, error)
}

// SlotKey identifies one reservation counter.
type SlotKey struct {
	UserID      uuid.UUID
	Action      Action
	WindowStart time.Time
}

// Reserver holds atomic per-window counters for strong enforcement.
//
// Reserve seeds the counter with seed if it does not exist yet, then
// increments it only while it is below limit, as a single atomic step.
// It returns the counter value after the call and whether a slot was taken.
// Release gives one slot back.
type Reserver interface {
	Reserve(ctx context.Context, key SlotKey, seed, limit int, expiresAt time.Time) (used int, ok bool, err error)
	Release(ctx context.Context, key SlotKey) error
}
