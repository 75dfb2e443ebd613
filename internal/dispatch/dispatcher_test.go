package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	inats "github.com/fashcheck/fashcheck/internal/nats"
	"github.com/fashcheck/fashcheck/internal/quota"
)

type fakeRequester struct {
	subject string
	request inats.DispatchRequest
	reply   *inats.DispatchReply
	err     error
	block   bool
}

func (f *fakeRequester) RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error) {
	f.subject = subj
	if err := json.Unmarshal(data, &f.request); err != nil {
		return nil, err
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	payload, err := json.Marshal(f.reply)
	if err != nil {
		return nil, err
	}
	return &nats.Msg{Subject: subj, Data: payload}, nil
}

var testSubject = quota.Subject{UserID: uuid.MustParse("7d9c1c3e-2f4e-4b8e-9a4e-2f0c6b1d5a11"), Tier: quota.TierSpotlight}

func TestDispatcher_Success(t *testing.T) {
	req := &fakeRequester{reply: &inats.DispatchReply{Result: json.RawMessage(`{"score":9}`)}}
	d := NewDispatcher(req, "", time.Second)

	out, err := d.Dispatch(context.Background(), testSubject, quota.ActionFashionAnalyze, json.RawMessage(`{"image":"abc"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"score":9}`, string(out))

	assert.Equal(t, "fashcheck.ai.fashion-analyze", req.subject)
	assert.Equal(t, testSubject.UserID, req.request.UserID)
	assert.Equal(t, "spotlight", req.request.Tier)
	assert.Equal(t, "fashion-analyze", req.request.Action)
	assert.NotEmpty(t, req.request.RequestID)
	assert.JSONEq(t, `{"image":"abc"}`, string(req.request.Payload))
}

func TestDispatcher_CustomPrefix(t *testing.T) {
	d := NewDispatcher(&fakeRequester{}, "staging.ai", 0)
	assert.Equal(t, "staging.ai.chatbot-message", d.Subject(quota.ActionChatbotMessage))
	assert.Equal(t, 90*time.Second, d.timeout)
}

func TestDispatcher_Failures(t *testing.T) {
	tests := []struct {
		name  string
		req   *fakeRequester
		check func(t *testing.T, err error)
	}{
		{
			name: "worker error",
			req:  &fakeRequester{reply: &inats.DispatchReply{Error: "image unreadable"}},
			check: func(t *testing.T, err error) {
				var we *WorkerError
				require.ErrorAs(t, err, &we)
				assert.Equal(t, "image unreadable", we.Message)
			},
		},
		{
			name:  "no responders",
			req:   &fakeRequester{err: nats.ErrNoResponders},
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrNoWorkers) },
		},
		{
			name:  "timeout",
			req:   &fakeRequester{block: true},
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrTimeout) },
		},
		{
			name: "transport error",
			req:  &fakeRequester{err: errors.New("connection closed")},
			check: func(t *testing.T, err error) {
				assert.Error(t, err)
				assert.NotErrorIs(t, err, ErrTimeout)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDispatcher(tt.req, "", 20*time.Millisecond)
			_, err := d.Dispatch(context.Background(), testSubject, quota.ActionStyleSuggestions, json.RawMessage(`{}`))
			tt.check(t, err)
		})
	}
}

func serveAction(h *Handler, body string, withSubject bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ai/fashion-analyze", bytes.NewBufferString(body))
	if withSubject {
		req = req.WithContext(quota.WithSubject(req.Context(), testSubject))
	}
	rec := httptest.NewRecorder()
	h.Action(quota.ActionFashionAnalyze)(rec, req)
	return rec
}

func TestHandler_Action(t *testing.T) {
	ok := &fakeRequester{reply: &inats.DispatchReply{Result: json.RawMessage(`{"score":7}`)}}

	t.Run("success", func(t *testing.T) {
		rec := serveAction(NewHandler(NewDispatcher(ok, "", time.Second)), `{"input":{"image":"x"}}`, true)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"data":{"score":7}}`, rec.Body.String())
	})

	t.Run("missing subject", func(t *testing.T) {
		rec := serveAction(NewHandler(NewDispatcher(ok, "", time.Second)), `{"input":{}}`, false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing input", func(t *testing.T) {
		rec := serveAction(NewHandler(NewDispatcher(ok, "", time.Second)), `{}`, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := serveAction(NewHandler(NewDispatcher(ok, "", time.Second)), `{"input":`, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("worker error", func(t *testing.T) {
		failing := &fakeRequester{reply: &inats.DispatchReply{Error: "model overloaded"}}
		rec := serveAction(NewHandler(NewDispatcher(failing, "", time.Second)), `{"input":{}}`, true)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Contains(t, rec.Body.String(), "model overloaded")
	})

	t.Run("timeout", func(t *testing.T) {
		slow := &fakeRequester{block: true}
		rec := serveAction(NewHandler(NewDispatcher(slow, "", 10*time.Millisecond)), `{"input":{}}`, true)
		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	})

	t.Run("no workers", func(t *testing.T) {
		none := &fakeRequester{err: nats.ErrNoResponders}
		rec := serveAction(NewHandler(NewDispatcher(none, "", time.Second)), `{"input":{}}`, true)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
