package queue

import "time"

// BackoffType selects how retry delays grow.
type BackoffType string

// Backoff types.
const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// Backoff is the delay policy between attempts.
type Backoff struct {
	Type  BackoffType
	Delay time.Duration
}

// maxBackoff caps exponential growth.
const maxBackoff = 10 * time.Minute

// Next returns the delay before the attempt that follows failed attempt n (1-based).
func (b Backoff) Next(n int) time.Duration {
	if b.Delay <= 0 {
		return 0
	}
	if b.Type != BackoffExponential || n <= 1 {
		return b.Delay
	}
	d := b.Delay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// QueueOptions are the per-queue defaults.
type QueueOptions struct {
	Concurrency   int
	Size          int
	Attempts      int
	Backoff       Backoff
	StallTimeout  time.Duration // zero disables stall detection
	StallInterval time.Duration
	MaxStalled    int
}

// DefaultQueueOptions returns QueueOptions with reasonable defaults.
func DefaultQueueOptions() QueueOptions {
	return QueueOptions{
		Concurrency:   2,
		Size:          100,
		Attempts:      3,
		Backoff:       Backoff{Type: BackoffExponential, Delay: 5 * time.Second},
		StallTimeout:  2 * time.Minute,
		StallInterval: 15 * time.Second,
		MaxStalled:    1,
	}
}

func (o QueueOptions) withDefaults() QueueOptions {
	d := DefaultQueueOptions()
	if o.Concurrency <= 0 {
		o.Concurrency = d.Concurrency
	}
	if o.Size <= 0 {
		o.Size = d.Size
	}
	if o.Attempts <= 0 {
		o.Attempts = 1
	}
	if o.StallTimeout > 0 && o.StallInterval <= 0 {
		o.StallInterval = o.StallTimeout / 4
	}
	if o.MaxStalled < 0 {
		o.MaxStalled = 0
	}
	return o
}

// EnqueueOptions override queue defaults for one job.
type EnqueueOptions struct {
	JobID    string // generated when empty
	Attempts int    // queue default when zero
}
