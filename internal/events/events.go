package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type names a lifecycle transition.
type Type string

// Lifecycle event types.
const (
	Waiting   Type = "waiting"
	Active    Type = "active"
	Progress  Type = "progress"
	Completed Type = "completed"
	Failed    Type = "failed"
	Stalled   Type = "stalled"
)

// Event is one lifecycle notification for a queued job.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Type      Type      `json:"type"`
	Queue     string    `json:"queue"`
	JobID     string    `json:"job_id"`
	Attempt   int       `json:"attempt,omitempty"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// New creates an event stamped with a fresh id and the current time.
func New(typ Type, queue, jobID string) Event {
	return Event{
		ID:        uuid.New(),
		Type:      typ,
		Queue:     queue,
		JobID:     jobID,
		CreatedAt: time.Now().UTC(),
	}
}

// Terminal reports whether no further events follow for this job attempt chain.
func (e Event) Terminal() bool {
	return e.Type == Completed || e.Type == Failed
}

// EventHandler defines an interface for components that react to events
// synchronously, in publish order.
type EventHandler interface {
	HandleEvent(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to EventHandler.
type HandlerFunc func(ctx context.Context, event Event) error

// HandleEvent implements EventHandler.
func (f HandlerFunc) HandleEvent(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Publisher is what the queue needs to announce lifecycle changes.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}
