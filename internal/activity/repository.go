package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository handles user_activities PostgreSQL operations.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new activity Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert persists a single activity entry.
func (r *Repository) Insert(ctx context.Context, a *Activity) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	data := a.Data
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_activities (id, user_id, activity_type, activity_data, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.UserID, a.ActivityType, data, a.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting activity: %w", err)
	}
	return nil
}

// ListByUser returns paginated activities for a user, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, params ListParams) ([]Activity, int64, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 || params.PageSize > 100 {
		params.PageSize = 20
	}

	conditions := []string{"user_id = $1"}
	args := []any{userID}
	argIdx := 2

	if params.ActivityType != "" {
		conditions = append(conditions, fmt.Sprintf("activity_type = $%d", argIdx))
		args = append(args, params.ActivityType)
		argIdx++
	}
	if params.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, *params.From)
		argIdx++
	}
	if params.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argIdx))
		args = append(args, *params.To)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var totalCount int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM user_activities WHERE %s", where)
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("counting activities: %w", err)
	}

	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(
		`SELECT id, user_id, activity_type, activity_data, created_at
		 FROM user_activities WHERE %s
		 ORDER BY created_at DESC
		 LIMIT $%d OFFSET $%d`, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying activities: %w", err)
	}
	defer rows.Close()

	activities := []Activity{}
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.ID, &a.UserID, &a.ActivityType, &a.Data, &a.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning activity: %w", err)
		}
		activities = append(activities, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating activities: %w", err)
	}

	return activities, totalCount, nil
}

// StatsByUser returns the per-type breakdown of a user's activities.
func (r *Repository) StatsByUser(ctx context.Context, userID uuid.UUID) (*Stats, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT activity_type, COUNT(*) FROM user_activities
		 WHERE user_id = $1
		 GROUP BY activity_type
		 ORDER BY COUNT(*) DESC, activity_type`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying activity stats: %w", err)
	}
	defer rows.Close()

	stats := &Stats{ByType: []TypeCount{}}
	for rows.Next() {
		var tc TypeCount
		if err := rows.Scan(&tc.ActivityType, &tc.Count); err != nil {
			return nil, fmt.Errorf("scanning activity stats: %w", err)
		}
		stats.Total += tc.Count
		stats.ByType = append(stats.ByType, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating activity stats: %w", err)
	}

	if err := r.pool.QueryRow(ctx,
		`SELECT MAX(created_at) FROM user_activities WHERE user_id = $1`, userID,
	).Scan(&stats.LastActivityAt); err != nil {
		return nil, fmt.Errorf("querying last activity: %w", err)
	}

	return stats, nil
}
