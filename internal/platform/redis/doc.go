// Package redis implements store.TaskStore on Redis. Each job lives under its
// own key as a JSON document whose TTL is refreshed on every write. A set
// indexes active jobs and a sorted set, scored by update time, indexes
// finished ones for cleanup.
package redis
