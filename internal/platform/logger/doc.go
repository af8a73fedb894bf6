// Package logger sets up structured logging on log/slog and carries
// request-scoped loggers (task, job and trace ids) through a context.
package logger
