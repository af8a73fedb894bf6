package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestSplit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		n     int
		size  int
		sizes []int
	}{
		{"empty", 0, 10, []int{}},
		{"exact", 20, 10, []int{10, 10}},
		{"remainder", 250, 100, []int{100, 100, 50}},
		{"size larger than list", 3, 10, []int{3}},
		{"non-positive size", 2, 0, []int{1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			chunks := Split(seq(tt.n), tt.size)
			sizes := make([]int, len(chunks))
			for i, c := range chunks {
				sizes[i] = len(c)
			}
			assert.Equal(t, tt.sizes, sizes)
		})
	}
}

func TestRun_ChunksWithConcurrencyLimit(t *testing.T) {
	t.Parallel()

	var running, peak int32
	var dispatched int32
	handler := func(ctx context.Context, c Chunk[int]) (int, error) {
		atomic.AddInt32(&dispatched, 1)
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return len(c.Items), nil
	}

	summary := Run(context.Background(), seq(250), Options{ChunkSize: 100, Concurrency: 2}, handler, nil)

	assert.Equal(t, int32(3), dispatched)
	assert.LessOrEqual(t, peak, int32(2))
	assert.Equal(t, 3, summary.Progress.Chunks)
	assert.Equal(t, 3, summary.Progress.Completed)
	assert.Equal(t, 250, summary.Progress.Items)
	assert.False(t, summary.Stopped)
	assert.Equal(t, 100, summary.Results[0].Result)
	assert.Equal(t, 50, summary.Results[2].Result)

	var offsets sync.Map
	Run(context.Background(), seq(250), Options{ChunkSize: 100, Concurrency: 2}, func(_ context.Context, c Chunk[int]) (int, error) {
		offsets.Store(c.Index, c.Offset)
		return 0, nil
	}, nil)
	off, _ := offsets.Load(2)
	assert.Equal(t, 200, off)
}

func TestRun_FailingChunkDoesNotCancelSiblings(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	handler := func(ctx context.Context, c Chunk[int]) (string, error) {
		if c.Index == 1 {
			return "", boom
		}
		time.Sleep(10 * time.Millisecond)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "ok", nil
	}

	summary := Run(context.Background(), seq(40), Options{ChunkSize: 10, Concurrency: 4}, handler, nil)

	require.Len(t, summary.Results, 4)
	assert.Equal(t, ChunkSucceeded, summary.Results[0].Status)
	assert.Equal(t, ChunkFailed, summary.Results[1].Status)
	assert.ErrorIs(t, summary.Results[1].Err, boom)
	assert.Equal(t, ChunkSucceeded, summary.Results[2].Status)
	assert.Equal(t, ChunkSucceeded, summary.Results[3].Status)
	assert.Equal(t, 1, summary.Progress.Failed)
	assert.Equal(t, 4, summary.Progress.Completed)
}

func TestRun_RecoversPanics(t *testing.T) {
	t.Parallel()

	summary := Run(context.Background(), seq(2), Options{ChunkSize: 1, Concurrency: 2}, func(_ context.Context, c Chunk[int]) (int, error) {
		if c.Index == 0 {
			panic("bad chunk")
		}
		return 1, nil
	}, nil)

	assert.Equal(t, ChunkFailed, summary.Results[0].Status)
	assert.ErrorIs(t, summary.Results[0].Err, ErrPanic)
	assert.Equal(t, ChunkSucceeded, summary.Results[1].Status)
}

func TestRun_ProgressCallbackIsSerialAndCumulative(t *testing.T) {
	t.Parallel()

	var inCallback int32
	var seen []Progress
	onChunk := func(_ ChunkResult[int], p Progress) {
		if !atomic.CompareAndSwapInt32(&inCallback, 0, 1) {
			t.Error("progress callback invoked concurrently")
		}
		seen = append(seen, p)
		time.Sleep(time.Millisecond)
		atomic.StoreInt32(&inCallback, 0)
	}

	Run(context.Background(), seq(100), Options{ChunkSize: 10, Concurrency: 5}, func(_ context.Context, c Chunk[int]) (int, error) {
		return len(c.Items), nil
	}, onChunk)

	require.Len(t, seen, 10)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i].Completed, seen[i-1].Completed)
		assert.Greater(t, seen[i].Items, seen[i-1].Items)
	}
	assert.Equal(t, 100, seen[len(seen)-1].Items)
}

func TestRun_ShouldStop(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	stop := false
	summary := Run(context.Background(), seq(5), Options{
		ChunkSize:   1,
		Concurrency: 1,
		ShouldStop: func() bool {
			mu.Lock()
			defer mu.Unlock()
			return stop
		},
	}, func(_ context.Context, c Chunk[int]) (int, error) {
		if c.Index == 1 {
			mu.Lock()
			stop = true
			mu.Unlock()
		}
		return 0, nil
	}, nil)

	assert.True(t, summary.Stopped)
	assert.Equal(t, ChunkSucceeded, summary.Results[0].Status)
	assert.Equal(t, ChunkSucceeded, summary.Results[1].Status)
	// Chunk 2 may already be waiting for the slot when stop flips; later ones never start.
	assert.Equal(t, ChunkNotStarted, summary.Results[3].Status)
	assert.Equal(t, ChunkNotStarted, summary.Results[4].Status)
}

func TestRun_SkipAndCancelledContext(t *testing.T) {
	t.Parallel()

	var calls int32
	handler := func(_ context.Context, _ Chunk[int]) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, nil
	}

	summary := Run(context.Background(), seq(30), Options{
		ChunkSize:   10,
		Concurrency: 2,
		Skip:        func(i int) bool { return i == 0 || i == 2 },
	}, handler, nil)
	assert.Equal(t, int32(1), calls)
	assert.Equal(t, ChunkSkipped, summary.Results[0].Status)
	assert.Equal(t, ChunkSucceeded, summary.Results[1].Status)
	assert.Equal(t, ChunkSkipped, summary.Results[2].Status)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary = Run(ctx, seq(30), Options{ChunkSize: 10, Concurrency: 2}, handler, nil)
	assert.True(t, summary.Stopped)
	assert.Equal(t, 0, summary.Progress.Completed)
}
