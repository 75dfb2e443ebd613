package nats

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

// Stream names.
const (
	StreamEvents = "FASHCHECK_EVENTS"
)

// Subject constants.
const (
	SubjectEvents         = "fashcheck.events.>"
	SubjectActivityEvent  = "fashcheck.events.activity"
	DefaultDispatchPrefix = "fashcheck.ai" // fashcheck.ai.{action}
)

// Activity types.
const (
	ActivityAIUsage       = "ai_usage"
	ActivityQuotaExceeded = "quota_exceeded"
)

// ActivityEvent is published for every recorded usage and every denial.
type ActivityEvent struct {
	UserID       uuid.UUID `json:"user_id"`
	ActivityType string    `json:"activity_type"`
	Action       string    `json:"action"`
	Tier         string    `json:"tier"`
	Used         int       `json:"used"`
	Limit        int       `json:"limit"`
	Remaining    int       `json:"remaining"`
	Timestamp    time.Time `json:"timestamp"`
}

// DispatchRequest is sent to the AI worker fleet for a gated operation.
type DispatchRequest struct {
	RequestID string          `json:"request_id"`
	UserID    uuid.UUID       `json:"user_id"`
	Action    string          `json:"action"`
	Tier      string          `json:"tier"`
	Payload   json.RawMessage `json:"payload"`
}

// DispatchReply is a worker's answer. A non-empty Error marks the operation
// as failed.
type DispatchReply struct {
	RequestID string          `json:"request_id"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}
