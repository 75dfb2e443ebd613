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
)

func testSlot(start time.Time) SlotKey {
	return SlotKey{UserID: uuid.New(), Action: ActionWardrobeAdd, WindowStart: start}
}

func TestRedisReserver_ReserveUpToLimit(t *testing.T) {
	w := ComputeWindow(enforceNow, Monthly)
	r, _ := setupReserver(t, enforceNow)
	ctx := context.Background()
	key := testSlot(w.Start)

	for i := 1; i <= 3; i++ {
		used, ok, err := r.Reserve(ctx, key, 0, 3, w.End)
		require.NoError(t, err)
		assert.True(t, ok, "reservation %d should succeed", i)
		assert.Equal(t, i, used)
	}

	used, ok, err := r.Reserve(ctx, key, 0, 3, w.End)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, used)

	current, err := r.Used(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 3, current)
}

func TestRedisReserver_SeedOnlyAppliesToNewCounter(t *testing.T) {
	w := ComputeWindow(enforceNow, Monthly)
	r, _ := setupReserver(t, enforceNow)
	ctx := context.Background()
	key := testSlot(w.Start)

	used, ok, err := r.Reserve(ctx, key, 4, 5, w.End)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5, used)

	// A later, smaller seed must not reset the counter.
	used, ok, err = r.Reserve(ctx, key, 0, 5, w.End)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 5, used)
}

func TestRedisReserver_Release(t *testing.T) {
	w := ComputeWindow(enforceNow, Monthly)
	r, _ := setupReserver(t, enforceNow)
	ctx := context.Background()
	key := testSlot(w.Start)

	_, ok, err := r.Reserve(ctx, key, 0, 1, w.End)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, r.Release(ctx, key))

	used, ok, err := r.Reserve(ctx, key, 0, 1, w.End)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, used)
}

func TestRedisReserver_ReleaseMissingKey(t *testing.T) {
	w := ComputeWindow(enforceNow, Monthly)
	r, mr := setupReserver(t, enforceNow)
	ctx := context.Background()
	key := testSlot(w.Start)

	require.NoError(t, r.Release(ctx, key))
	assert.False(t, mr.Exists(slotKey(key)))
}

func TestRedisReserver_KeyExpiresAfterWindow(t *testing.T) {
	w := ComputeWindow(enforceNow, Daily)
	r, mr := setupReserver(t, enforceNow)
	ctx := context.Background()
	key := testSlot(w.Start)

	_, _, err := r.Reserve(ctx, key, 0, 5, w.End)
	require.NoError(t, err)

	ttl := mr.TTL(slotKey(key))
	assert.Equal(t, w.End.Add(slotKeyGrace).Sub(enforceNow), ttl)

	mr.FastForward(ttl + time.Second)
	assert.False(t, mr.Exists(slotKey(key)))
}

func TestRedisReserver_WindowsAreIndependent(t *testing.T) {
	jan := ComputeWindow(enforceNow, Monthly)
	feb := ComputeWindow(jan.End, Monthly)
	r, _ := setupReserver(t, enforceNow)
	ctx := context.Background()
	userID := uuid.New()

	janKey := SlotKey{UserID: userID, Action: ActionWardrobeAdd, WindowStart: jan.Start}
	febKey := SlotKey{UserID: userID, Action: ActionWardrobeAdd, WindowStart: feb.Start}

	_, ok, err := r.Reserve(ctx, janKey, 0, 1, jan.End)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = r.Reserve(ctx, febKey, 0, 1, feb.End)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisReserver_DenialLeavesCounterUntouched(t *testing.T) {
	w := ComputeWindow(enforceNow, Monthly)
	r, mr := setupReserver(t, enforceNow)
	ctx := context.Background()
	key := testSlot(w.Start)

	_, ok, err := r.Reserve(ctx, key, 0, 1, w.End)
	require.NoError(t, err)
	require.True(t, ok)

	used, ok, err := r.Reserve(ctx, key, 0, 1, w.End)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, used)

	v, err := mr.Get(slotKey(key))
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	// A denial against an already-full seed creates nothing.
	fresh := testSlot(w.Start)
	used, ok, err = r.Reserve(ctx, fresh, 3, 3, w.End)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, used)
	assert.False(t, mr.Exists(slotKey(fresh)))
}

func TestRedisReserver_ReleasedSlotGoesToExactlyOneCaller(t *testing.T) {
	w := ComputeWindow(enforceNow, Monthly)
	r, _ := setupReserver(t, enforceNow)
	ctx := context.Background()
	key := testSlot(w.Start)

	_, ok, err := r.Reserve(ctx, key, 0, 1, w.End)
	require.NoError(t, err)
	require.True(t, ok)

	var (
		wg      sync.WaitGroup
		granted int32
	)
	start := make(chan struct{})
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, ok, err := r.Reserve(ctx, key, 0, 1, w.End)
			if assert.NoError(t, err) && ok {
				atomic.AddInt32(&granted, 1)
			}
		}()
	}
	require.NoError(t, r.Release(ctx, key))
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&granted))

	used, err := r.Used(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, used)
}
