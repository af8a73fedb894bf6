// Package api exposes the collection operations over HTTP. It is a thin
// adapter: handlers decode and validate requests, call the orchestrator and
// map its errors to status codes without leaking internal details.
package api
