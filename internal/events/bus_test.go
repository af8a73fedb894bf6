package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingHandler struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (h *recordingHandler) HandleEvent(_ context.Context, e Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
	return h.err
}

func TestBus_HandlersRunInOrderAndErrorsDoNotStopDelivery(t *testing.T) {
	t.Parallel()
	bus := NewBus(quietLogger())

	boom := errors.New("handler error")
	failing := &recordingHandler{err: boom}
	ok := &recordingHandler{}
	bus.RegisterHandler(failing)
	bus.RegisterHandler(ok)

	err := bus.Publish(context.Background(), New(Active, "q", "j1"))
	assert.ErrorIs(t, err, boom)
	assert.Len(t, failing.events, 1)
	assert.Len(t, ok.events, 1)

	assert.NoError(t, NewBus(quietLogger()).Publish(context.Background(), New(Waiting, "q", "j1")))
}

func TestBus_SubscribeFiltersAndKeepsOrder(t *testing.T) {
	t.Parallel()
	bus := NewBus(quietLogger())

	all, cancelAll := bus.Subscribe("", 10)
	defer cancelAll()
	onlyJ2, cancelJ2 := bus.Subscribe("j2", 10)
	defer cancelJ2()

	ctx := context.Background()
	for _, e := range []Event{New(Waiting, "q", "j1"), New(Waiting, "q", "j2"), New(Active, "q", "j2"), New(Completed, "q", "j2")} {
		require.NoError(t, bus.Publish(ctx, e))
	}

	var types []Type
	for i := 0; i < 3; i++ {
		e := <-onlyJ2
		assert.Equal(t, "j2", e.JobID)
		types = append(types, e.Type)
	}
	assert.Equal(t, []Type{Waiting, Active, Completed}, types)
	assert.Len(t, all, 4)
}

func TestBus_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()
	bus := NewBus(quietLogger())

	ch, cancel := bus.Subscribe("", 1)
	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, New(Waiting, "q", "j1")))
	require.NoError(t, bus.Publish(ctx, New(Active, "q", "j1")))
	assert.Equal(t, int64(1), bus.Dropped())

	cancel()
	cancel()
	e, open := <-ch
	assert.True(t, open)
	assert.Equal(t, Waiting, e.Type)
	_, open = <-ch
	assert.False(t, open)

	// Publishing after the subscriber left is fine.
	require.NoError(t, bus.Publish(ctx, New(Completed, "q", "j1")))
}

func TestEvent_Terminal(t *testing.T) {
	t.Parallel()
	assert.True(t, New(Completed, "q", "j").Terminal())
	assert.True(t, New(Failed, "q", "j").Terminal())
	assert.False(t, New(Stalled, "q", "j").Terminal())
	assert.NotEqual(t, New(Waiting, "q", "j").ID, New(Waiting, "q", "j").ID)
}

func TestHandlerFunc(t *testing.T) {
	t.Parallel()
	var got Event
	h := HandlerFunc(func(_ context.Context, e Event) error { got = e; return nil })
	e := New(Progress, "q", "j")
	require.NoError(t, h.HandleEvent(context.Background(), e))
	assert.Equal(t, e.ID, got.ID)
}
