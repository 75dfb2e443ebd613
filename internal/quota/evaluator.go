package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Evaluator computes quota status from the registry and the ledger. It never
// writes and keeps no cached counts, so every call re-reads the ledger.
type Evaluator struct {
	registry *Registry
	ledger   Ledger
}

// NewEvaluator creates a new Evaluator.
func NewEvaluator(registry *Registry, ledger Ledger) *Evaluator {
	return &Evaluator{registry: registry, ledger: ledger}
}

// Registry returns the limit table the evaluator reads.
func (e *Evaluator) Registry() *Registry {
	return e.registry
}

// Evaluate returns the status of action for the user at now. Unlimited tiers
// return immediately without a ledger read. A ledger failure is returned
// wrapped in ErrLedgerUnavailable and must be treated as a denial.
func (e *Evaluator) Evaluate(ctx context.Context, userID uuid.UUID, action Action, tier Tier, now time.Time) (Status, error) {
	p, err := e.registry.Policy(action)
	if err != nil {
		return Status{}, err
	}

	limit := p.limitFor(tier)
	if !tier.Valid() {
		tier = TierFree
	}
	if limit == Unlimited {
		return unlimitedStatus(action, tier, p.Period), nil
	}

	w := ComputeWindow(now, p.Period)
	used, err := e.ledger.Count(ctx, userID, action, w.Start, w.End)
	if err != nil {
		return Status{}, fmt.Errorf("%w: counting %s usage: %w", ErrLedgerUnavailable, action, err)
	}
	return newStatus(action, tier, w, used, limit), nil
}

// EvaluateAll returns the status of every registered action.
func (e *Evaluator) EvaluateAll(ctx context.Context, userID uuid.UUID, tier Tier, now time.Time) ([]Status, error) {
	policies := e.registry.Policies()
	out := make([]Status, 0, len(policies))
	for _, p := range policies {
		st, err := e.Evaluate(ctx, userID, p.Action, tier, now)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}
