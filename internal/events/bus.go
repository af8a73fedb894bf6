package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultSubscriberBuffer is used when Subscribe is given a non-positive size.
const DefaultSubscriberBuffer = 64

type subscriber struct {
	ch    chan Event
	jobID string // empty means every job
}

// Bus fans events out to handlers and channel subscribers.
type Bus struct {
	mu       sync.Mutex
	handlers []EventHandler
	subs     map[uint64]*subscriber
	nextID   uint64
	dropped  atomic.Int64
	logger   *slog.Logger
}

// NewBus creates an empty Bus. If logger is nil, slog.Default() is used.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[uint64]*subscriber),
		logger: logger.With("component", "event_bus"),
	}
}

var _ Publisher = (*Bus)(nil)

// RegisterHandler adds a synchronous handler.
func (b *Bus) RegisterHandler(handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
	b.logger.Debug("registered new event handler", "handler_count", len(b.handlers))
}

// Subscribe returns a channel receiving every event, or only those of jobID
// when it is non-empty. The returned cancel func closes the channel.
func (b *Bus) Subscribe(jobID string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	sub := &subscriber{ch: make(chan Event, buffer), jobID: jobID}
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Publish delivers event to every handler, then to every matching subscriber.
// Handler errors are logged and the first one is returned after all handlers
// ran. A full subscriber buffer drops the event for that subscriber only.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	for i, handler := range b.handlers {
		if err := handler.HandleEvent(ctx, event); err != nil {
			b.logger.Error("handler failed to process event",
				"error", err,
				"handler_index", i,
				"event_type", event.Type,
				"job_id", event.JobID)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	for _, sub := range b.subs {
		if sub.jobID != "" && sub.jobID != event.JobID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.dropped.Add(1)
			b.logger.Warn("subscriber buffer full, event dropped",
				"event_type", event.Type,
				"job_id", event.JobID)
		}
	}
	return firstErr
}

// Dropped returns how many deliveries were lost to full buffers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
