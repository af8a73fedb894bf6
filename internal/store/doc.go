// Package store defines the persistence contracts of the collector: the
// durable task-state store and the idempotent entity repository. Backends in
// internal/platform implement them; the orchestrator depends only on these
// interfaces.
package store
