package activity

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	inats "github.com/fashcheck/fashcheck/internal/nats"
	"github.com/fashcheck/fashcheck/internal/quota"
)

const publishTimeout = 5 * time.Second

// EventPublisher publishes activity events.
type EventPublisher interface {
	PublishActivity(ctx context.Context, event inats.ActivityEvent) error
}

// QuotaObserver turns enforcement outcomes into activity events. Publishing
// happens off the request path.
type QuotaObserver struct {
	pub EventPublisher
	now func() time.Time
}

func NewQuotaObserver(pub EventPublisher) *QuotaObserver {
	return &QuotaObserver{pub: pub, now: time.Now}
}

func (o *QuotaObserver) UsageRecorded(ctx context.Context, event quota.UsageEvent, st quota.Status) {
	o.publish(ctx, inats.ActivityEvent{
		UserID:       event.UserID,
		ActivityType: inats.ActivityAIUsage,
		Action:       string(event.Action),
		Tier:         string(st.Tier),
		Used:         st.Used,
		Limit:        st.Limit,
		Remaining:    st.Remaining,
		Timestamp:    event.OccurredAt,
	})
}

func (o *QuotaObserver) QuotaExceeded(ctx context.Context, userID uuid.UUID, st quota.Status) {
	o.publish(ctx, inats.ActivityEvent{
		UserID:       userID,
		ActivityType: inats.ActivityQuotaExceeded,
		Action:       string(st.Action),
		Tier:         string(st.Tier),
		Used:         st.Used,
		Limit:        st.Limit,
		Remaining:    st.Remaining,
		Timestamp:    o.now().UTC(),
	})
}

func (o *QuotaObserver) publish(ctx context.Context, event inats.ActivityEvent) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	go func() {
		defer cancel()
		if err := o.pub.PublishActivity(pctx, event); err != nil {
			slog.Warn("activity: publishing event failed",
				"error", err, "activity_type", event.ActivityType, "user_id", event.UserID)
		}
	}()
}
