package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/fashcheck/fashcheck/internal/metrics"
	inats "github.com/fashcheck/fashcheck/internal/nats"
)

const consumerName = "activity-persister"

// Store persists activities.
type Store interface {
	Insert(ctx context.Context, a *Activity) error
}

// UsageSink receives per-action counts of consumed events.
type UsageSink interface {
	ObserveUsage(action string)
	ObserveDenial(action string)
}

// Consumer listens on the activity subject and persists events to the
// database.
type Consumer struct {
	store       Store
	consumerMgr *inats.ConsumerManager
	sink        UsageSink
}

// NewConsumer creates a new activity event Consumer. sink may be nil.
func NewConsumer(store Store, consumerMgr *inats.ConsumerManager, sink UsageSink) *Consumer {
	return &Consumer{
		store:       store,
		consumerMgr: consumerMgr,
		sink:        sink,
	}
}

// Start begins the consume loop. Blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.consumerMgr.EnsureConsumer(ctx, inats.StreamEvents, consumerName, inats.SubjectActivityEvent)
	if err != nil {
		return err
	}

	slog.Info("activity consumer started", "consumer", consumerName)

	for {
		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(inats.FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("activity consumer: fetching events", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handleMessage(ctx, msg)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

var errMalformedEvent = errors.New("malformed activity event")

func (c *Consumer) handleMessage(ctx context.Context, msg jetstream.Msg) {
	err := c.process(ctx, msg.Data())
	switch {
	case err == nil:
		_ = msg.Ack()
	case errors.Is(err, errMalformedEvent):
		slog.Error("activity consumer: dropping event", "error", err)
		_ = msg.Term()
	default:
		slog.Error("activity consumer: persisting event", "error", err)
		_ = msg.Nak()
	}
}

func (c *Consumer) process(ctx context.Context, data []byte) error {
	var event inats.ActivityEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("%w: %w", errMalformedEvent, err)
	}
	if event.UserID == uuid.Nil || event.ActivityType == "" {
		return fmt.Errorf("%w: missing user or type", errMalformedEvent)
	}

	a := activityFromEvent(event)
	if err := c.store.Insert(ctx, a); err != nil {
		return err
	}
	metrics.ActivityEventsPersistedTotal.WithLabelValues(a.ActivityType).Inc()

	if c.sink != nil {
		switch event.ActivityType {
		case inats.ActivityAIUsage:
			c.sink.ObserveUsage(event.Action)
		case inats.ActivityQuotaExceeded:
			c.sink.ObserveDenial(event.Action)
		}
	}

	slog.Debug("activity consumer: persisted event",
		"activity_type", event.ActivityType,
		"user_id", event.UserID,
		"action", event.Action,
	)
	return nil
}

type activityData struct {
	Action    string `json:"action,omitempty"`
	Tier      string `json:"tier,omitempty"`
	Used      int    `json:"used"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
}

func activityFromEvent(event inats.ActivityEvent) *Activity {
	a := &Activity{
		ID:           uuid.New(),
		UserID:       event.UserID,
		ActivityType: event.ActivityType,
		CreatedAt:    event.Timestamp,
	}
	if data, err := json.Marshal(activityData{
		Action:    event.Action,
		Tier:      event.Tier,
		Used:      event.Used,
		Limit:     event.Limit,
		Remaining: event.Remaining,
	}); err == nil {
		a.Data = data
	}
	return a
}
