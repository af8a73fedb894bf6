package shared

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andr-235/fullstack-parser-sub002/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondWithJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()

	RespondWithJSON(w, req, http.StatusAccepted, map[string]any{"task_id": "abc"})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"task_id":"abc"}`, w.Body.String())
}

func TestRespondWithError(t *testing.T) {
	ctx := context.WithValue(context.Background(), TraceIDKey, "test-trace-id")
	req := httptest.NewRequest(http.MethodGet, "/test", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	RespondWithError(w, req, http.StatusBadRequest, "Invalid request")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var response ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "Invalid request", response.Error)
	assert.Equal(t, "test-trace-id", response.TraceID)
}

func TestRespondWithErrorAndLog(t *testing.T) {
	tests := []struct {
		name   string
		status int
		level  string
	}{
		{"server error", http.StatusInternalServerError, "ERROR"},
		{"client error", http.StatusBadRequest, "DEBUG"},
		{"rate limited", http.StatusTooManyRequests, "WARN"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf strings.Builder
			log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
			ctx := logger.WithLogger(context.Background(), log)
			req := httptest.NewRequest(http.MethodPost, "/api/collections", nil).WithContext(ctx)
			w := httptest.NewRecorder()

			err := errors.New("dial tcp: password=hunter2 refused")
			RespondWithErrorAndLog(w, req, tc.status, "Something failed", err)

			assert.Equal(t, tc.status, w.Code)
			assert.NotContains(t, w.Body.String(), "dial tcp")
			assert.Contains(t, buf.String(), "level="+tc.level)
			assert.Contains(t, buf.String(), "API error response")
			assert.NotContains(t, buf.String(), "hunter2")
		})
	}
}

func TestTraceID(t *testing.T) {
	ctx := SetTraceID(context.Background(), "")
	id := GetTraceID(ctx)
	assert.Len(t, id, 2*TraceIDLength)

	ctx = SetTraceID(context.Background(), "caller-trace")
	assert.Equal(t, "caller-trace", GetTraceID(ctx))
	assert.Empty(t, GetTraceID(context.Background()))
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x?limit=10&bad=-1&word=abc", nil)

	n, err := QueryInt(req, "limit", 5)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	n, err = QueryInt(req, "offset", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = QueryInt(req, "bad", 0)
	assert.Error(t, err)
	_, err = QueryInt(req, "word", 0)
	assert.Error(t, err)
}
