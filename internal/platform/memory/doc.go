// Package memory provides in-process implementations of store.TaskStore and
// store.EntityRepository. They follow the same merge and conflict rules as the
// durable backends and serve the memory backend and tests.
package memory
