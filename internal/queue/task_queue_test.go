package queue

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestTaskQueue_Enqueue(t *testing.T) {
	t.Parallel()
	q := NewTaskQueue(2, testLogger())

	require.NoError(t, q.Enqueue(&Job{ID: "a"}))
	require.NoError(t, q.Enqueue(&Job{ID: "b"}))
	assert.Equal(t, 2, q.Len())

	err := q.Enqueue(&Job{ID: "c"})
	assert.ErrorIs(t, err, ErrQueueFull)

	got := <-q.Channel()
	assert.Equal(t, "a", got.ID)
}

func TestTaskQueue_Close(t *testing.T) {
	t.Parallel()
	q := NewTaskQueue(2, testLogger())
	require.NoError(t, q.Enqueue(&Job{ID: "a"}))

	q.Close()
	q.Close()

	assert.ErrorIs(t, q.Enqueue(&Job{ID: "b"}), ErrQueueClosed)
	// Buffered jobs stay readable.
	assert.Equal(t, "a", (<-q.Channel()).ID)
}
