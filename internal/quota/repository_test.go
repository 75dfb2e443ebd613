//go:build integration

package quota

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fashcheck/fashcheck/internal/database/dbtest"
)

func TestRepository_AppendAndCount(t *testing.T) {
	repo := NewRepository(dbtest.NewPool(t))
	ctx := context.Background()
	userID := uuid.New()
	w := ComputeWindow(enforceNow, Monthly)

	events := []time.Time{
		w.Start.Add(-time.Second), // previous window
		w.Start,                   // inclusive start
		enforceNow,
		w.End.Add(-time.Millisecond),
		w.End, // exclusive end
	}
	for _, at := range events {
		require.NoError(t, repo.Append(ctx, UsageEvent{UserID: userID, Action: ActionWardrobeAdd, OccurredAt: at}))
	}
	require.NoError(t, repo.Append(ctx, UsageEvent{UserID: userID, Action: ActionFashionAnalyze, OccurredAt: enforceNow}))
	require.NoError(t, repo.Append(ctx, UsageEvent{UserID: uuid.New(), Action: ActionWardrobeAdd, OccurredAt: enforceNow}))

	n, err := repo.Count(ctx, userID, ActionWardrobeAdd, w.Start, w.End)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRepository_ReserveAndRelease(t *testing.T) {
	repo := NewRepository(dbtest.NewPool(t))
	ctx := context.Background()
	w := ComputeWindow(enforceNow, Daily)
	key := SlotKey{UserID: uuid.New(), Action: ActionChatbotMessage, WindowStart: w.Start}

	used, ok, err := repo.Reserve(ctx, key, 3, 5, w.End)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 4, used)

	used, ok, err = repo.Reserve(ctx, key, 0, 5, w.End)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5, used)

	used, ok, err = repo.Reserve(ctx, key, 0, 5, w.End)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 5, used)

	require.NoError(t, repo.Release(ctx, key))
	used, ok, err = repo.Reserve(ctx, key, 0, 5, w.End)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5, used)
}

func TestRepository_ReserveSeedAtLimit(t *testing.T) {
	repo := NewRepository(dbtest.NewPool(t))
	w := ComputeWindow(enforceNow, Daily)
	key := SlotKey{UserID: uuid.New(), Action: ActionChatbotMessage, WindowStart: w.Start}

	used, ok, err := repo.Reserve(context.Background(), key, 5, 5, w.End)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 5, used)
}

func TestRepository_ConcurrentReserve(t *testing.T) {
	repo := NewRepository(dbtest.NewPool(t))
	w := ComputeWindow(enforceNow, Monthly)
	key := SlotKey{UserID: uuid.New(), Action: ActionStyleSuggestions, WindowStart: w.Start}

	var (
		wg      sync.WaitGroup
		granted int32
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := repo.Reserve(context.Background(), key, 0, 20, w.End)
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			if ok {
				atomic.AddInt32(&granted, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(20), granted)
}

func TestRepository_PurgeExpiredCounters(t *testing.T) {
	repo := NewRepository(dbtest.NewPool(t))
	ctx := context.Background()
	w := ComputeWindow(enforceNow, Daily)
	key := SlotKey{UserID: uuid.New(), Action: ActionChatbotMessage, WindowStart: w.Start}

	_, _, err := repo.Reserve(ctx, key, 0, 5, w.End)
	require.NoError(t, err)

	n, err := repo.PurgeExpiredCounters(ctx, w.Start)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = repo.PurgeExpiredCounters(ctx, w.End.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRepository_EnforcerStrongMode(t *testing.T) {
	repo := NewRepository(dbtest.NewPool(t))
	enf := NewEnforcer(NewEvaluator(DefaultRegistry(), repo), repo, WithClock(func() time.Time { return enforceNow }))
	subj := Subject{UserID: uuid.New(), Tier: TierFree}
	ctx := context.Background()

	require.NoError(t, enf.Do(ctx, subj, ActionFashionAnalyze, func(context.Context) error { return nil }))
	err := enf.Do(ctx, subj, ActionFashionAnalyze, func(context.Context) error { return nil })
	assert.True(t, IsExceeded(err))

	require.NoError(t, repo.HealthCheck(ctx))
}
