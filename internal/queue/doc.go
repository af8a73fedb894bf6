// Package queue runs named in-process job queues on worker pools.
//
// Each queue has its own buffer, worker count, retry policy and stall
// detection. Jobs are processed at least once: a failed attempt is retried
// with backoff until its attempts run out, and a job whose handler stops
// sending heartbeats is cancelled and requeued. Lifecycle transitions are
// published on an events.Bus; completion and failure events are published
// only after the handler has returned.
//
// Queue contents are not durable. Callers keep authoritative job state in
// their own store and re-enqueue unfinished work at startup.
package queue
