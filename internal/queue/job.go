package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// Common queue errors.
var (
	ErrQueueClosed  = errors.New("queue is closed")
	ErrQueueFull    = errors.New("queue is full")
	ErrUnknownQueue = errors.New("unknown queue")
	ErrDuplicateJob = errors.New("job is already queued or running")
	ErrNoHandler    = errors.New("no handler registered for queue")
	ErrStalled      = errors.New("job stalled too many times")
)

// Handler processes one attempt of a job. Returning an error wrapped with
// Permanent skips the remaining attempts.
type Handler func(ctx context.Context, job *Job) error

// FailureHook runs once a job has failed for good, before the failed event
// is published.
type FailureHook func(ctx context.Context, job *Job, err error)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Job is one unit of work. Handlers receive a copy per attempt.
type Job struct {
	ID          string
	Queue       string
	Payload     json.RawMessage
	Attempt     int // 1-based number of the current attempt
	MaxAttempts int
	Stalls      int
	EnqueuedAt  time.Time

	exec     *execution
	progress func(job *Job, data any)
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("failed to decode payload of job %s: %w", j.ID, err)
	}
	return nil
}

// Heartbeat tells the stall monitor the handler is alive.
func (j *Job) Heartbeat() {
	if j.exec != nil {
		j.exec.beat()
	}
}

// Progress heartbeats and publishes a progress event carrying data.
func (j *Job) Progress(data any) {
	j.Heartbeat()
	if j.progress != nil {
		j.progress(j, data)
	}
}

func (j *Job) clone() *Job {
	cp := *j
	return &cp
}

// execution tracks one running attempt. settled is claimed exactly once,
// either by the worker when the handler returns or by the stall monitor.
type execution struct {
	lastBeat atomic.Int64
	settled  atomic.Bool
	cancel   context.CancelFunc
}

func (e *execution) beat() {
	e.lastBeat.Store(time.Now().UnixNano())
}

func (e *execution) silentFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, e.lastBeat.Load()))
}

func (e *execution) settle() bool {
	return e.settled.CompareAndSwap(false, true)
}
