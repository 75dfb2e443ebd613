package activity

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	inats "github.com/fashcheck/fashcheck/internal/nats"
)

type fakeStore struct {
	mu    sync.Mutex
	saved []*Activity
	err   error
}

func (s *fakeStore) Insert(_ context.Context, a *Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, a)
	return nil
}

type fakeSink struct {
	usage  []string
	denied []string
}

func (s *fakeSink) ObserveUsage(action string)  { s.usage = append(s.usage, action) }
func (s *fakeSink) ObserveDenial(action string) { s.denied = append(s.denied, action) }

func encode(t *testing.T, event inats.ActivityEvent) []byte {
	t.Helper()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	return data
}

func TestConsumer_ProcessUsageEvent(t *testing.T) {
	store := &fakeStore{}
	sink := &fakeSink{}
	c := NewConsumer(store, nil, sink)

	userID := uuid.New()
	at := time.Date(2025, 5, 2, 9, 0, 0, 0, time.UTC)
	err := c.process(context.Background(), encode(t, inats.ActivityEvent{
		UserID:       userID,
		ActivityType: inats.ActivityAIUsage,
		Action:       "fashion-analyze",
		Tier:         "spotlight",
		Used:         3,
		Limit:        5,
		Remaining:    2,
		Timestamp:    at,
	}))
	require.NoError(t, err)

	require.Len(t, store.saved, 1)
	a := store.saved[0]
	assert.Equal(t, userID, a.UserID)
	assert.Equal(t, inats.ActivityAIUsage, a.ActivityType)
	assert.Equal(t, at, a.CreatedAt)
	assert.NotEqual(t, uuid.Nil, a.ID)

	var data map[string]any
	require.NoError(t, json.Unmarshal(a.Data, &data))
	assert.Equal(t, "fashion-analyze", data["action"])
	assert.Equal(t, "spotlight", data["tier"])
	assert.EqualValues(t, 3, data["used"])
	assert.EqualValues(t, 2, data["remaining"])

	assert.Equal(t, []string{"fashion-analyze"}, sink.usage)
	assert.Empty(t, sink.denied)
}

func TestConsumer_ProcessDenialEvent(t *testing.T) {
	store := &fakeStore{}
	sink := &fakeSink{}
	c := NewConsumer(store, nil, sink)

	err := c.process(context.Background(), encode(t, inats.ActivityEvent{
		UserID:       uuid.New(),
		ActivityType: inats.ActivityQuotaExceeded,
		Action:       "camera-analyze",
		Timestamp:    time.Now().UTC(),
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"camera-analyze"}, sink.denied)
	assert.Empty(t, sink.usage)
}

func TestConsumer_MalformedEvents(t *testing.T) {
	c := NewConsumer(&fakeStore{}, nil, nil)

	err := c.process(context.Background(), []byte("{not json"))
	assert.ErrorIs(t, err, errMalformedEvent)

	err = c.process(context.Background(), encode(t, inats.ActivityEvent{ActivityType: inats.ActivityAIUsage}))
	assert.ErrorIs(t, err, errMalformedEvent)
}

func TestConsumer_StoreFailureIsRetryable(t *testing.T) {
	cause := errors.New("db down")
	sink := &fakeSink{}
	c := NewConsumer(&fakeStore{err: cause}, nil, sink)

	err := c.process(context.Background(), encode(t, inats.ActivityEvent{
		UserID:       uuid.New(),
		ActivityType: inats.ActivityAIUsage,
		Action:       "wardrobe-add",
	}))
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, errMalformedEvent)
	assert.Empty(t, sink.usage)
}
