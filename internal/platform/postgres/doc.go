// Package postgres implements the store interfaces on PostgreSQL through the
// pgx database/sql driver: a task store holding jobs as JSONB documents and
// the idempotent entity repository keyed by external id. The schema ships as
// embedded goose migrations.
package postgres
