package activity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Activity matches the user_activities table schema.
type Activity struct {
	ID           uuid.UUID       `json:"id"`
	UserID       uuid.UUID       `json:"user_id"`
	ActivityType string          `json:"activity_type"`
	Data         json.RawMessage `json:"activity_data,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// ListParams holds pagination and filtering parameters for activity queries.
type ListParams struct {
	ActivityType string
	From         *time.Time
	To           *time.Time
	Page         int
	PageSize     int
}

// DefaultListParams returns sensible defaults.
func DefaultListParams() ListParams {
	return ListParams{
		Page:     1,
		PageSize: 20,
	}
}

// TypeCount is the number of activities of one type.
type TypeCount struct {
	ActivityType string `json:"activity_type"`
	Count        int64  `json:"count"`
}

// Stats summarises a user's activity log.
type Stats struct {
	Total          int64       `json:"total"`
	ByType         []TypeCount `json:"by_type"`
	LastActivityAt *time.Time  `json:"last_activity_at,omitempty"`
}
