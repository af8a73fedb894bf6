// Package events carries queue lifecycle events from workers to observers.
//
// Events are delivered two ways: synchronously to registered Handlers, and
// through buffered channels returned by Subscribe. Both see the events of one
// publisher in publish order. A subscriber that falls behind loses events
// rather than blocking the workers; the task store stays the source of truth.
package events
