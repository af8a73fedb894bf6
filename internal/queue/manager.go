package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/andr-235/fullstack-parser-sub002/internal/events"
	"github.com/andr-235/fullstack-parser-sub002/internal/platform/metrics"
	"github.com/google/uuid"
)

// queue is the runtime state of one named queue.
type queue struct {
	name      string
	opts      QueueOptions
	tasks     *TaskQueue
	handler   Handler
	onFailure FailureHook

	mu       sync.Mutex
	inflight map[string]struct{} // waiting, scheduled for retry or running
	active   map[string]*running
}

type running struct {
	job  *Job
	exec *execution
}

func (q *queue) claim(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inflight[id]; ok {
		return false
	}
	q.inflight[id] = struct{}{}
	return true
}

func (q *queue) release(id string) {
	q.mu.Lock()
	delete(q.inflight, id)
	delete(q.active, id)
	q.mu.Unlock()
}

func (q *queue) setActive(id string, r *running) {
	q.mu.Lock()
	q.active[id] = r
	q.mu.Unlock()
}

func (q *queue) clearActive(id string) {
	q.mu.Lock()
	delete(q.active, id)
	q.mu.Unlock()
}

func (q *queue) snapshotActive() []*running {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*running, 0, len(q.active))
	for _, r := range q.active {
		out = append(out, r)
	}
	return out
}

func (q *queue) activeCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

// Manager owns a set of named queues and their worker pools.
type Manager struct {
	mu      sync.RWMutex
	queues  map[string]*queue
	bus     *events.Bus
	logger  *slog.Logger
	metrics *metrics.Metrics

	// loopCtx stops intake; runCtx cancels running handlers.
	loopCtx    context.Context
	stopLoops  context.CancelFunc
	runCtx     context.Context
	cancelRuns context.CancelFunc
	wg         sync.WaitGroup
	started    bool
	stopped    bool

	pauseMu  sync.Mutex
	resumeCh chan struct{} // non-nil while paused
}

// Option customizes a Manager.
type Option func(*Manager)

// WithMetrics records queue events and depth.
func WithMetrics(m *metrics.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// NewManager creates a Manager publishing on bus. A nil bus gets a private one.
func NewManager(bus *events.Bus, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if bus == nil {
		bus = events.NewBus(logger)
	}
	loopCtx, stopLoops := context.WithCancel(context.Background())
	runCtx, cancelRuns := context.WithCancel(context.Background())
	m := &Manager{
		queues:     make(map[string]*queue),
		bus:        bus,
		logger:     logger.With("component", "queue_manager"),
		loopCtx:    loopCtx,
		stopLoops:  stopLoops,
		runCtx:     runCtx,
		cancelRuns: cancelRuns,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterQueue declares a queue. It must be called before Start.
func (m *Manager) RegisterQueue(name string, opts QueueOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("cannot register queue %s after start", name)
	}
	if _, ok := m.queues[name]; ok {
		return fmt.Errorf("queue %s already registered", name)
	}
	opts = opts.withDefaults()
	m.queues[name] = &queue{
		name:     name,
		opts:     opts,
		tasks:    NewTaskQueue(opts.Size, m.logger.With("queue", name)),
		inflight: make(map[string]struct{}),
		active:   make(map[string]*running),
	}
	m.logger.Info("queue registered",
		"queue", name,
		"concurrency", opts.Concurrency,
		"attempts", opts.Attempts,
		"backoff", opts.Backoff.Type)
	return nil
}

// Handle sets the handler for a registered queue.
func (m *Manager) Handle(name string, h Handler) error {
	q, err := m.queue(name)
	if err != nil {
		return err
	}
	m.mu.Lock()
	q.handler = h
	m.mu.Unlock()
	return nil
}

// OnFailure sets the hook run when a job of the queue fails for good.
func (m *Manager) OnFailure(name string, hook FailureHook) error {
	q, err := m.queue(name)
	if err != nil {
		return err
	}
	m.mu.Lock()
	q.onFailure = hook
	m.mu.Unlock()
	return nil
}

func (m *Manager) queue(name string) (*queue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.queues[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, name)
	}
	return q, nil
}

// Subscribe returns lifecycle events for jobID, or for every job when empty.
func (m *Manager) Subscribe(jobID string, buffer int) (<-chan events.Event, func()) {
	return m.bus.Subscribe(jobID, buffer)
}

// Enqueue adds a job to the named queue and returns its id.
func (m *Manager) Enqueue(ctx context.Context, name string, payload any, opts EnqueueOptions) (string, error) {
	q, err := m.queue(name)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}

	id := opts.JobID
	if id == "" {
		id = uuid.NewString()
	}
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = q.opts.Attempts
	}
	job := &Job{
		ID:          id,
		Queue:       name,
		Payload:     raw,
		MaxAttempts: attempts,
		EnqueuedAt:  time.Now().UTC(),
	}

	if !q.claim(id) {
		return id, fmt.Errorf("%w: %s", ErrDuplicateJob, id)
	}
	// Announced before the push so no worker can report the job active first.
	m.publish(ctx, q, events.New(events.Waiting, name, id))
	if err := q.tasks.Enqueue(job); err != nil {
		q.release(id)
		return "", err
	}
	return id, nil
}

// Start launches the workers and stall monitors of every queue.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return errors.New("queue manager already started")
	}
	for name, q := range m.queues {
		if q.handler == nil {
			return fmt.Errorf("%w: %s", ErrNoHandler, name)
		}
	}
	m.started = true

	for _, q := range m.queues {
		for i := 0; i < q.opts.Concurrency; i++ {
			m.wg.Add(1)
			go m.worker(q, i)
		}
		if q.opts.StallTimeout > 0 {
			m.wg.Add(1)
			go m.stallMonitor(q)
		}
	}
	m.logger.Info("queue manager started", "queues", len(m.queues))
	return nil
}

// Stop closes every queue, lets running handlers finish until ctx ends, then
// cancels them. Jobs still buffered or waiting for a retry are dropped.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	for _, q := range m.queues {
		q.tasks.Close()
	}
	m.mu.Unlock()

	m.stopLoops()
	m.Resume()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.cancelRuns()
		m.logger.Info("queue manager stopped")
		return nil
	case <-ctx.Done():
		m.cancelRuns()
		<-done
		m.logger.Warn("queue manager stopped after cancelling running jobs")
		return ctx.Err()
	}
}

// Pause stops workers from starting new jobs. Running jobs continue.
func (m *Manager) Pause() {
	m.pauseMu.Lock()
	defer m.pauseMu.Unlock()
	if m.resumeCh == nil {
		m.resumeCh = make(chan struct{})
		m.logger.Info("queue manager paused")
	}
}

// Resume lets workers start jobs again.
func (m *Manager) Resume() {
	m.pauseMu.Lock()
	defer m.pauseMu.Unlock()
	if m.resumeCh != nil {
		close(m.resumeCh)
		m.resumeCh = nil
		m.logger.Info("queue manager resumed")
	}
}

// waitResumed blocks while paused. It returns false if the manager stops first.
func (m *Manager) waitResumed() bool {
	m.pauseMu.Lock()
	ch := m.resumeCh
	m.pauseMu.Unlock()
	if ch == nil {
		return m.loopCtx.Err() == nil
	}
	select {
	case <-ch:
		return m.loopCtx.Err() == nil
	case <-m.loopCtx.Done():
		return false
	}
}

// QueueHealth describes one queue.
type QueueHealth struct {
	Waiting     int `json:"waiting"`
	Active      int `json:"active"`
	Concurrency int `json:"concurrency"`
}

// Health is the worker control surface snapshot.
type Health struct {
	Running     bool                   `json:"running"`
	Paused      bool                   `json:"paused"`
	Concurrency int                    `json:"concurrency"`
	Queues      map[string]QueueHealth `json:"queues"`
}

// HealthCheck reports whether workers run, whether they are paused and how
// many there are.
func (m *Manager) HealthCheck() Health {
	m.mu.RLock()
	h := Health{
		Running: m.started && !m.stopped,
		Queues:  make(map[string]QueueHealth, len(m.queues)),
	}
	names := make([]string, 0, len(m.queues))
	for name := range m.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		q := m.queues[name]
		h.Concurrency += q.opts.Concurrency
		h.Queues[name] = QueueHealth{
			Waiting:     q.tasks.Len(),
			Active:      q.activeCount(),
			Concurrency: q.opts.Concurrency,
		}
	}
	m.mu.RUnlock()

	m.pauseMu.Lock()
	h.Paused = m.resumeCh != nil
	m.pauseMu.Unlock()
	return h
}

func (m *Manager) publish(ctx context.Context, q *queue, e events.Event) {
	if err := m.bus.Publish(ctx, e); err != nil {
		m.logger.Warn("event handler failed", "event_type", e.Type, "job_id", e.JobID, "error", err)
	}
	m.metrics.IncQueueEvent(q.name, string(e.Type))
	m.metrics.SetQueueDepth(q.name, q.tasks.Len(), q.activeCount())
}
