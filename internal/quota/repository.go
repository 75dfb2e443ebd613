package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the PostgreSQL usage ledger (usage_events) and strong-mode
// counter store (usage_counters).
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new quota Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Append inserts one usage event.
func (r *Repository) Append(ctx context.Context, event UsageEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO usage_events (id, user_id, action, occurred_at)
		 VALUES ($1, $2, $3, $4)`,
		event.ID, event.UserID, string(event.Action), event.OccurredAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting usage event: %w", err)
	}
	return nil
}

// Count returns the number of events for (user, action) in [start, end).
func (r *Repository) Count(ctx context.Context, userID uuid.UUID, action Action, start, end time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM usage_events
		 WHERE user_id = $1 AND action = $2 AND occurred_at >= $3 AND occurred_at < $4`,
		userID, string(action), start.UTC(), end.UTC(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting usage events: %w", err)
	}
	return n, nil
}

// Reserve takes a slot with one conditional upsert: the row is created at
// seed+1 or incremented, and only while the stored count is below limit.
func (r *Repository) Reserve(ctx context.Context, key SlotKey, seed, limit int, expiresAt time.Time) (int, bool, error) {
	var used int
	err := r.pool.QueryRow(ctx,
		`INSERT INTO usage_counters (user_id, action, window_start, used, expires_at)
		 SELECT $1::uuid, $2::text, $3::timestamptz, $4::int + 1, $6::timestamptz
		 WHERE $4::int < $5::int
		 ON CONFLICT (user_id, action, window_start)
		 DO UPDATE SET used = usage_counters.used + 1
		 WHERE usage_counters.used < $5::int
		 RETURNING used`,
		key.UserID, string(key.Action), key.WindowStart.UTC(), seed, limit, expiresAt.UTC(),
	).Scan(&used)
	if err == nil {
		return used, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("reserving usage slot: %w", err)
	}

	current, err := r.counter(ctx, key)
	if err != nil {
		return 0, false, err
	}
	if current < seed {
		current = seed
	}
	return current, false, nil
}

// Release decrements a counter, never below zero.
func (r *Repository) Release(ctx context.Context, key SlotKey) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE usage_counters SET used = used - 1
		 WHERE user_id = $1 AND action = $2 AND window_start = $3 AND used > 0`,
		key.UserID, string(key.Action), key.WindowStart.UTC())
	if err != nil {
		return fmt.Errorf("releasing usage slot: %w", err)
	}
	return nil
}

func (r *Repository) counter(ctx context.Context, key SlotKey) (int, error) {
	var used int
	err := r.pool.QueryRow(ctx,
		`SELECT used FROM usage_counters
		 WHERE user_id = $1 AND action = $2 AND window_start = $3`,
		key.UserID, string(key.Action), key.WindowStart.UTC(),
	).Scan(&used)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading usage slot: %w", err)
	}
	return used, nil
}

// PurgeExpiredCounters deletes counters whose window ended before cutoff.
// Returns the number of rows removed.
func (r *Repository) PurgeExpiredCounters(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM usage_counters WHERE expires_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purging usage counters: %w", err)
	}
	return tag.RowsAffected(), nil
}

// HealthCheck pings the ledger database.
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
