package notifications

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"readaddicts/internal/observability"

	"github.com/avast/retry-go/v4"
)

const (
	defaultQueueSize   = 1024
	publishAttempts    = 3
	publishRetryDelay  = 50 * time.Millisecond
	publishCallTimeout = 2 * time.Second
)

// Envelope is the frame written to websocket clients.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type pushJob struct {
	userID string
	event  string
	body   []byte
}

// Dispatcher hands push events to a background worker so request paths never
// wait on delivery. Events go through Redis when a Notifier is configured,
// otherwise straight to the local hub. When the queue is full the event is
// dropped.
type Dispatcher struct {
	notifier *Notifier
	hub      *Hub
	queue    chan pushJob

	mu      sync.RWMutex
	stopped bool
}

// NewDispatcher builds a dispatcher. queueSize <= 0 uses the default.
func NewDispatcher(notifier *Notifier, hub *Hub, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Dispatcher{
		notifier: notifier,
		hub:      hub,
		queue:    make(chan pushJob, queueSize),
	}
}

// NotifyUser enqueues event for userID without blocking.
func (d *Dispatcher) NotifyUser(userID, event string, payload any) {
	body, err := json.Marshal(Envelope{Type: event, Payload: payload})
	if err != nil {
		observability.PushEvents.WithLabelValues(event, "encode_error").Inc()
		observability.GlobalLogger.Error("failed to encode push event",
			slog.String("event_type", event),
			slog.String("error", err.Error()),
		)
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		observability.PushEvents.WithLabelValues(event, "stopped").Inc()
		return
	}

	select {
	case d.queue <- pushJob{userID: userID, event: event, body: body}:
		observability.PushEvents.WithLabelValues(event, "queued").Inc()
	default:
		observability.PushEvents.WithLabelValues(event, "dropped").Inc()
	}
}

// Run delivers queued events until ctx is cancelled, then drains what is
// already queued.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case job := <-d.queue:
			d.deliver(ctx, job)
		case <-ctx.Done():
			d.mu.Lock()
			d.stopped = true
			d.mu.Unlock()
			drainCtx := context.WithoutCancel(ctx)
			for {
				select {
				case job := <-d.queue:
					d.deliver(drainCtx, job)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, job pushJob) {
	if !d.notifier.Enabled() {
		if d.hub != nil && d.hub.Broadcast(job.userID, job.body) > 0 {
			observability.PushEvents.WithLabelValues(job.event, "delivered").Inc()
			return
		}
		observability.PushEvents.WithLabelValues(job.event, "offline").Inc()
		return
	}

	// Retries run on this worker only; senders never wait on them and a final
	// failure drops the event like any other push failure.
	err := retry.Do(
		func() error {
			callCtx, cancel := context.WithTimeout(ctx, publishCallTimeout)
			defer cancel()
			return d.notifier.PublishUser(callCtx, job.userID, string(job.body))
		},
		retry.Context(ctx),
		retry.Attempts(publishAttempts),
		retry.Delay(publishRetryDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		observability.PushEvents.WithLabelValues(job.event, "publish_error").Inc()
		observability.GlobalLogger.WarnContext(ctx, "push publish failed",
			slog.String("user_id", job.userID),
			slog.String("event_type", job.event),
			slog.String("error", err.Error()),
		)
		return
	}
	observability.PushEvents.WithLabelValues(job.event, "published").Inc()
}
