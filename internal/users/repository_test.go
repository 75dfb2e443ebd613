//go:build integration

package users

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fashcheck/fashcheck/internal/database/dbtest"
	"github.com/fashcheck/fashcheck/internal/quota"
)

func TestRepository_GetByID(t *testing.T) {
	pool := dbtest.NewPool(t)
	repo := NewRepository(pool)
	ctx := context.Background()

	id := uuid.New()
	end := time.Now().Add(30 * 24 * time.Hour).UTC().Truncate(time.Microsecond)
	_, err := pool.Exec(ctx,
		`INSERT INTO users (id, username, email, pricing_tier, subscription_status, subscription_end_date)
		 VALUES ($1, 'ada', 'ada@example.com', 'elite', 'active', $2)`, id, end)
	require.NoError(t, err)

	user, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "ada", user.Username)
	assert.Equal(t, "elite", user.PricingTier)
	assert.True(t, user.IsActive)
	require.NotNil(t, user.SubscriptionEndDate)
	assert.True(t, end.Equal(*user.SubscriptionEndDate))

	subj, err := NewService(repo).Subject(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, quota.TierElite, subj.Tier)

	missing, err := repo.GetByID(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}
