// Package batch runs a handler over fixed-size chunks of a list with a cap on
// how many chunks run at once. Chunk outcomes are independent: a failing chunk
// never cancels its siblings.
//
// The package does no pacing of its own; callers that talk to rate-limited
// services throttle inside the handler.
package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrPanic wraps a panic recovered from a chunk handler.
var ErrPanic = errors.New("chunk handler panicked")

// Options controls chunking and concurrency.
type Options struct {
	ChunkSize   int
	Concurrency int
	// ShouldStop is polled before each dispatch. Once it returns true no new
	// chunk starts; running chunks finish normally.
	ShouldStop func() bool
	// Skip excludes chunks by index, e.g. chunks already done before a restart.
	Skip func(index int) bool
}

// Chunk is one slice of the input handed to a handler.
type Chunk[T any] struct {
	Index  int
	Offset int // position of Items[0] in the full list
	Items  []T
}

// ChunkStatus is the final state of a chunk.
type ChunkStatus string

// Chunk states.
const (
	ChunkSucceeded  ChunkStatus = "succeeded"
	ChunkFailed     ChunkStatus = "failed"
	ChunkSkipped    ChunkStatus = "skipped"     // excluded by Options.Skip
	ChunkNotStarted ChunkStatus = "not_started" // stopped or cancelled before dispatch
)

// ChunkResult is what one chunk produced.
type ChunkResult[R any] struct {
	Index  int
	Size   int
	Status ChunkStatus
	Result R
	Err    error
}

// Progress holds cumulative counts over the chunks that ran.
type Progress struct {
	Chunks    int // total chunks in the run
	Completed int // succeeded + failed
	Failed    int
	Items     int // items in completed chunks
}

// Summary is returned once every dispatched chunk has settled.
type Summary[R any] struct {
	Results  []ChunkResult[R] // one per chunk, by index
	Progress Progress
	Stopped  bool // ShouldStop or ctx ended the run early
}

// Handler processes one chunk.
type Handler[T, R any] func(ctx context.Context, chunk Chunk[T]) (R, error)

// ProgressFunc is called after each chunk settles, never concurrently, with
// the chunk's result and the cumulative progress including it.
type ProgressFunc[R any] func(result ChunkResult[R], progress Progress)

// Split cuts items into consecutive chunks of at most size items.
func Split[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = 1
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// Run splits items into chunks and runs handle over them, at most
// opts.Concurrency at a time, dispatching in index order. It blocks until all
// dispatched chunks finish. onChunk may be nil.
func Run[T, R any](ctx context.Context, items []T, opts Options, handle Handler[T, R], onChunk ProgressFunc[R]) Summary[R] {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	parts := Split(items, opts.ChunkSize)

	summary := Summary[R]{
		Results:  make([]ChunkResult[R], len(parts)),
		Progress: Progress{Chunks: len(parts)},
	}
	for i, part := range parts {
		summary.Results[i] = ChunkResult[R]{Index: i, Size: len(part), Status: ChunkNotStarted}
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(opts.Concurrency)

	offset := 0
	for i, part := range parts {
		chunk := Chunk[T]{Index: i, Offset: offset, Items: part}
		offset += len(part)

		if opts.Skip != nil && opts.Skip(i) {
			summary.Results[i].Status = ChunkSkipped
			continue
		}
		if ctx.Err() != nil || (opts.ShouldStop != nil && opts.ShouldStop()) {
			summary.Stopped = true
			break
		}

		// Go blocks while Concurrency chunks are running.
		g.Go(func() error {
			res, err := safeHandle(ctx, handle, chunk)

			mu.Lock()
			defer mu.Unlock()
			cr := &summary.Results[chunk.Index]
			cr.Result = res
			cr.Err = err
			cr.Status = ChunkSucceeded
			summary.Progress.Completed++
			summary.Progress.Items += len(chunk.Items)
			if err != nil {
				cr.Status = ChunkFailed
				summary.Progress.Failed++
			}
			if onChunk != nil {
				onChunk(*cr, summary.Progress)
			}
			// Chunk failures are settled here, never propagated to the group.
			return nil
		})
	}

	_ = g.Wait()
	return summary
}

func safeHandle[T, R any](ctx context.Context, handle Handler[T, R], chunk Chunk[T]) (res R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: chunk %d: %v\n%s", ErrPanic, chunk.Index, r, debug.Stack())
		}
	}()
	return handle(ctx, chunk)
}
