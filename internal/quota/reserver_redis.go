package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	slotKeyPrefix = "quota:slot:"
	// slotKeyGrace keeps a counter alive briefly past its window so a release
	// issued right after the boundary still finds it.
	slotKeyGrace = 10 * time.Minute
)

// RedisReserver keeps strong-mode counters in Redis. The counter key embeds
// the window start, so a new window always starts a new counter.
type RedisReserver struct {
	rdb redis.Cmdable
}

// NewRedisReserver creates a new Redis-backed Reserver.
func NewRedisReserver(rdb redis.Cmdable) *RedisReserver {
	return &RedisReserver{rdb: rdb}
}

func slotKey(key SlotKey) string {
	return slotKeyPrefix + key.UserID.String() + ":" + string(key.Action) + ":" + strconv.FormatInt(key.WindowStart.Unix(), 10)
}

// reserveScript checks and increments the counter in one step. A missing
// counter starts at the seed. Returns {used, reserved}.
var reserveScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
local used = tonumber(cur or ARGV[1])
if used >= tonumber(ARGV[2]) then
	return {used, 0}
end
used = used + 1
redis.call('SET', KEYS[1], used)
redis.call('EXPIREAT', KEYS[1], ARGV[3])
return {used, 1}
`)

// Reserve takes a slot only while the counter is below limit. A denied call
// leaves the counter untouched.
func (r *RedisReserver) Reserve(ctx context.Context, key SlotKey, seed, limit int, expiresAt time.Time) (int, bool, error) {
	res, err := reserveScript.Run(ctx, r.rdb, []string{slotKey(key)},
		seed, limit, expiresAt.Add(slotKeyGrace).Unix()).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("reserving quota slot: %w", err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("reserving quota slot: unexpected reply %v", res)
	}
	return int(res[0]), res[1] == 1, nil
}

// Release gives one slot back. A counter that already expired is not
// resurrected.
func (r *RedisReserver) Release(ctx context.Context, key SlotKey) error {
	k := slotKey(key)
	n, err := r.rdb.Decr(ctx, k).Result()
	if err != nil {
		return fmt.Errorf("releasing quota slot: %w", err)
	}
	if n < 0 {
		// DECR created a fresh key without a TTL.
		if err := r.rdb.Del(ctx, k).Err(); err != nil {
			return fmt.Errorf("dropping stale quota slot: %w", err)
		}
	}
	return nil
}

// Used returns the current counter value, or zero if none exists.
func (r *RedisReserver) Used(ctx context.Context, key SlotKey) (int, error) {
	n, err := r.rdb.Get(ctx, slotKey(key)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading quota slot: %w", err)
	}
	return n, nil
}
