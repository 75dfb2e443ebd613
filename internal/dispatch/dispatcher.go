package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/fashcheck/fashcheck/internal/metrics"
	inats "github.com/fashcheck/fashcheck/internal/nats"
	"github.com/fashcheck/fashcheck/internal/quota"
)

// Requester sends a request and waits for a single reply. *nats.Conn
// satisfies it.
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

var (
	// ErrTimeout is returned when no reply arrives before the deadline.
	ErrTimeout = errors.New("AI worker timed out")
	// ErrNoWorkers is returned when nothing is subscribed to the subject.
	ErrNoWorkers = errors.New("no AI workers available")
)

// WorkerError is a failure reported by the worker in its reply.
type WorkerError struct {
	Message string
}

func (e *WorkerError) Error() string {
	return "AI worker failed: " + e.Message
}

// Dispatcher forwards gated AI operations to the worker fleet over NATS
// request/reply on <prefix>.<action>.
type Dispatcher struct {
	req     Requester
	prefix  string
	timeout time.Duration
}

// NewDispatcher creates a Dispatcher. An empty prefix uses the default
// subject prefix; a non-positive timeout uses 90s.
func NewDispatcher(req Requester, prefix string, timeout time.Duration) *Dispatcher {
	if prefix == "" {
		prefix = inats.DefaultDispatchPrefix
	}
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Dispatcher{req: req, prefix: prefix, timeout: timeout}
}

// Subject returns the NATS subject an action is dispatched on.
func (d *Dispatcher) Subject(action quota.Action) string {
	return d.prefix + "." + string(action)
}

// Dispatch sends payload to a worker and returns its result.
func (d *Dispatcher) Dispatch(ctx context.Context, subj quota.Subject, action quota.Action, payload json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	result, err := d.dispatch(ctx, subj, action, payload)

	status := "ok"
	switch {
	case errors.Is(err, ErrTimeout):
		status = "timeout"
	case err != nil:
		status = "error"
	}
	metrics.DispatchDuration.WithLabelValues(string(action), status).Observe(time.Since(start).Seconds())
	return result, err
}

func (d *Dispatcher) dispatch(ctx context.Context, subj quota.Subject, action quota.Action, payload json.RawMessage) (json.RawMessage, error) {
	req := inats.DispatchRequest{
		RequestID: uuid.NewString(),
		UserID:    subj.UserID,
		Action:    string(action),
		Tier:      string(subj.Tier),
		Payload:   payload,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling dispatch request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	msg, err := d.req.RequestWithContext(ctx, d.Subject(action), data)
	if err != nil {
		switch {
		case errors.Is(err, nats.ErrNoResponders):
			return nil, ErrNoWorkers
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, nats.ErrTimeout):
			return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, action, d.timeout)
		}
		return nil, fmt.Errorf("requesting %s: %w", d.Subject(action), err)
	}

	var reply inats.DispatchReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, fmt.Errorf("decoding worker reply: %w", err)
	}
	if reply.Error != "" {
		slog.Warn("dispatch: worker reported failure",
			"request_id", req.RequestID, "action", action, "error", reply.Error)
		return nil, &WorkerError{Message: reply.Error}
	}
	return reply.Result, nil
}
