package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fashcheck/fashcheck/internal/quota"
)

// ErrNotFound is returned when the user does not exist or is deactivated.
var ErrNotFound = errors.New("user not found")

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// Subject resolves the quota subject for a user. Paid tiers only apply while
// the subscription is active and not past its end date; otherwise, and for
// unrecognised tier values, the user is evaluated as free.
func (s *Service) Subject(ctx context.Context, id uuid.UUID) (quota.Subject, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return quota.Subject{}, err
	}
	if user == nil || !user.IsActive {
		return quota.Subject{}, fmt.Errorf("%w: %w", ErrNotFound, quota.ErrUnknownSubject)
	}
	return quota.Subject{UserID: user.ID, Tier: EffectiveTier(user, s.now())}, nil
}

// EffectiveTier returns the tier quota decisions are made with.
func EffectiveTier(user *User, now time.Time) quota.Tier {
	tier, ok := quota.ParseTier(user.PricingTier)
	if !ok {
		slog.Warn("users: unknown pricing tier, treating as free", "user_id", user.ID, "tier", user.PricingTier)
		return quota.TierFree
	}
	if tier == quota.TierFree {
		return tier
	}
	if user.SubscriptionStatus != SubscriptionActive {
		return quota.TierFree
	}
	if user.SubscriptionEndDate != nil && !now.Before(*user.SubscriptionEndDate) {
		return quota.TierFree
	}
	return tier
}
