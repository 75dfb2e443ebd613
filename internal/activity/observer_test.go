package activity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	inats "github.com/fashcheck/fashcheck/internal/nats"
	"github.com/fashcheck/fashcheck/internal/quota"
)

type chanPublisher struct {
	events chan inats.ActivityEvent
	err    error
}

func (p *chanPublisher) PublishActivity(_ context.Context, e inats.ActivityEvent) error {
	p.events <- e
	return p.err
}

func receive(t *testing.T, ch <-chan inats.ActivityEvent) inats.ActivityEvent {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no event published")
		return inats.ActivityEvent{}
	}
}

func TestQuotaObserver_UsageRecorded(t *testing.T) {
	pub := &chanPublisher{events: make(chan inats.ActivityEvent, 1)}
	obs := NewQuotaObserver(pub)

	at := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	userID := uuid.New()
	obs.UsageRecorded(context.Background(),
		quota.UsageEvent{ID: uuid.New(), UserID: userID, Action: quota.ActionWardrobeAdd, OccurredAt: at},
		quota.Status{Action: quota.ActionWardrobeAdd, Tier: quota.TierElite, Used: 7, Limit: 20, Remaining: 13})

	e := receive(t, pub.events)
	assert.Equal(t, inats.ActivityAIUsage, e.ActivityType)
	assert.Equal(t, userID, e.UserID)
	assert.Equal(t, "wardrobe-add", e.Action)
	assert.Equal(t, "elite", e.Tier)
	assert.Equal(t, 7, e.Used)
	assert.Equal(t, 13, e.Remaining)
	assert.Equal(t, at, e.Timestamp)
}

func TestQuotaObserver_QuotaExceeded(t *testing.T) {
	pub := &chanPublisher{events: make(chan inats.ActivityEvent, 1), err: errors.New("nats down")}
	obs := NewQuotaObserver(pub)
	fixed := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	obs.now = func() time.Time { return fixed }

	// A cancelled request context must not prevent the event.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	obs.QuotaExceeded(ctx, uuid.New(), quota.Status{Action: quota.ActionChatbotMessage, Tier: quota.TierFree, Used: 5, Limit: 5})

	e := receive(t, pub.events)
	require.Equal(t, inats.ActivityQuotaExceeded, e.ActivityType)
	assert.Equal(t, "chatbot-message", e.Action)
	assert.Equal(t, fixed, e.Timestamp)
}
