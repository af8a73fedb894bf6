package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/andr-235/fullstack-parser-sub002/internal/apiclient"
	"github.com/andr-235/fullstack-parser-sub002/internal/domain"
	"github.com/andr-235/fullstack-parser-sub002/internal/identifier"
	"github.com/andr-235/fullstack-parser-sub002/internal/platform/metrics"
	"github.com/andr-235/fullstack-parser-sub002/internal/queue"
	"github.com/andr-235/fullstack-parser-sub002/internal/store"
	"github.com/google/uuid"
)

// Resolver looks identifiers up against the external API.
// *apiclient.Client implements it.
type Resolver interface {
	Resolve(ctx context.Context, ids []domain.ExternalIdentifier) []apiclient.LookupResult
}

// Enqueuer submits work to a named queue. *queue.Manager implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any, opts queue.EnqueueOptions) (string, error)
}

// Config tunes the orchestrator.
type Config struct {
	Queue          string
	ChunkSize      int
	Concurrency    int
	MaxIdentifiers int
	TTL            time.Duration
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Queue:          "collections",
		ChunkSize:      100,
		Concurrency:    2,
		MaxIdentifiers: 100000,
		TTL:            72 * time.Hour,
	}
}

// Results is one page of persisted entities of a job.
type Results struct {
	Entities []domain.PersistedEntity `json:"entities"`
	Total    int                      `json:"total"`
	Limit    int                      `json:"limit"`
	Offset   int                      `json:"offset"`
}

const (
	defaultPageLimit = 50
	maxPageLimit     = 1000
)

// jobPayload is what travels through the queue. Everything else is read from
// the task store.
type jobPayload struct {
	TaskID string `json:"task_id"`
}

// Orchestrator composes the parser, API client, repository, task store and
// queue.
type Orchestrator struct {
	cfg      Config
	tasks    store.TaskStore
	entities store.EntityRepository
	resolver Resolver
	queue    Enqueuer
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// Option configures optional Orchestrator dependencies.
type Option func(*Orchestrator)

// WithMetrics records job and chunk timings in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDGenerator overrides how task ids are generated.
func WithIDGenerator(newID func() string) Option {
	return func(o *Orchestrator) { o.newID = newID }
}

// NewOrchestrator creates an Orchestrator.
// It returns an error if any of the required dependencies are nil.
func NewOrchestrator(
	cfg Config,
	tasks store.TaskStore,
	entities store.EntityRepository,
	resolver Resolver,
	q Enqueuer,
	logger *slog.Logger,
	opts ...Option,
) (*Orchestrator, error) {
	if tasks == nil {
		return nil, errors.New("task store cannot be nil")
	}
	if entities == nil {
		return nil, errors.New("entity repository cannot be nil")
	}
	if resolver == nil {
		return nil, errors.New("resolver cannot be nil")
	}
	if q == nil {
		return nil, errors.New("queue cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := DefaultConfig()
	if cfg.Queue == "" {
		cfg.Queue = d.Queue
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = d.ChunkSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = d.Concurrency
	}
	if cfg.MaxIdentifiers <= 0 {
		cfg.MaxIdentifiers = d.MaxIdentifiers
	}
	if cfg.TTL <= 0 {
		cfg.TTL = d.TTL
	}

	o := &Orchestrator{
		cfg:      cfg,
		tasks:    tasks,
		entities: entities,
		resolver: resolver,
		queue:    q,
		logger:   logger.With("component", "collection_orchestrator"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Register installs the job handler and the failure hook on m.
func (o *Orchestrator) Register(m *queue.Manager) error {
	if err := m.Handle(o.cfg.Queue, o.HandleJob); err != nil {
		return err
	}
	return m.OnFailure(o.cfg.Queue, o.handleFailure)
}

// Submit parses lines, records a new job and enqueues it. It fails with a
// validation error when no line holds a valid identifier or when the input is
// larger than the configured cap.
func (o *Orchestrator) Submit(ctx context.Context, lines []string) (*domain.CollectionJob, error) {
	parsed := identifier.Parse(lines)
	if len(parsed.Identifiers) == 0 {
		if len(parsed.Errors) > 0 {
			return nil, fmt.Errorf("%w: no valid identifiers in %d lines, first error: %w",
				domain.ErrValidation, parsed.Lines, parsed.Errors[0])
		}
		return nil, fmt.Errorf("%w: no identifiers submitted", domain.ErrValidation)
	}
	if len(parsed.Identifiers) > o.cfg.MaxIdentifiers {
		return nil, fmt.Errorf("%w: %d identifiers exceed the limit of %d",
			domain.ErrValidation, len(parsed.Identifiers), o.cfg.MaxIdentifiers)
	}

	now := o.now()
	job := domain.NewCollectionJob(o.newID(), domain.JobKindGroups, parsed.Identifiers, o.cfg.ChunkSize, o.cfg.TTL, now)
	job.Progress.Duplicates = parsed.Duplicates
	for _, vErr := range parsed.Errors {
		job.Errors = append(job.Errors, domain.NewJobError(vErr, "", now))
	}

	log := o.logger.With("task_id", job.ID)
	if err := o.tasks.Create(ctx, job); err != nil {
		log.Error("failed to create task", "error", err)
		return nil, err
	}

	// Queued is recorded before the push so a fast worker never sees it regress.
	if _, err := o.tasks.Update(ctx, job.ID, domain.TaskPatch{Status: domain.Ptr(domain.JobStatusQueued)}); err != nil {
		log.Error("failed to mark task queued", "error", err)
		return nil, err
	}
	if _, err := o.queue.Enqueue(ctx, o.cfg.Queue, jobPayload{TaskID: job.ID}, queue.EnqueueOptions{JobID: job.ID}); err != nil {
		log.Error("failed to enqueue task", "error", err)
		enqueueErr := domain.NewStorageError("enqueue", err)
		o.markFailed(context.WithoutCancel(ctx), job.ID, enqueueErr)
		return nil, enqueueErr
	}

	log.Info("collection submitted",
		"total", job.Progress.Total,
		"duplicates", parsed.Duplicates,
		"invalid_lines", len(parsed.Errors))
	return o.tasks.Get(ctx, job.ID)
}

// Status returns the current snapshot of a job.
func (o *Orchestrator) Status(ctx context.Context, taskID string) (*domain.CollectionJob, error) {
	return o.tasks.Get(ctx, taskID)
}

// GetResults pages through the entities a job persisted. Results outlive the
// job record; an unknown job without rows is reported as not found.
func (o *Orchestrator) GetResults(ctx context.Context, taskID string, filter domain.EntityFilter, page domain.Page) (*Results, error) {
	page = page.Normalize(defaultPageLimit, maxPageLimit)
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown entity status %q", domain.ErrValidation, filter.Status)
	}

	rows, total, err := o.entities.ListByTask(ctx, taskID, filter, page)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		if _, err := o.tasks.Get(ctx, taskID); err != nil {
			return nil, err
		}
	}
	if rows == nil {
		rows = []domain.PersistedEntity{}
	}
	return &Results{Entities: rows, Total: total, Limit: page.Limit, Offset: page.Offset}, nil
}

// Cancel asks the worker to stop dispatching chunks for the job. Chunks that
// already ran stay persisted.
func (o *Orchestrator) Cancel(ctx context.Context, taskID string) (*domain.CollectionJob, error) {
	job, err := o.tasks.Update(ctx, taskID, domain.TaskPatch{CancelRequested: domain.Ptr(true)})
	if err != nil {
		return nil, err
	}
	o.logger.Info("cancellation requested", "task_id", taskID, "status", job.Status)
	return job, nil
}

// markFailed records a terminal failure, ignoring jobs that already ended.
func (o *Orchestrator) markFailed(ctx context.Context, taskID string, cause error) {
	now := o.now()
	reason := fmt.Sprintf("%s: %s", domain.ClassifyError(cause), cause.Error())
	_, err := o.tasks.Update(ctx, taskID, domain.TaskPatch{
		Status:        domain.Ptr(domain.JobStatusFailed),
		Phase:         domain.Ptr(domain.PhaseDone),
		FailureReason: &reason,
		AppendErrors:  []domain.JobError{domain.NewJobError(cause, "", now)},
		CompletedAt:   &now,
	})
	switch {
	case err == nil:
		o.metrics.ObserveJob(string(domain.JobKindGroups), string(domain.JobStatusFailed), 0)
	case errors.Is(err, domain.ErrTerminalState), errors.Is(err, domain.ErrTaskNotFound):
	default:
		o.logger.Error("failed to mark task failed", "task_id", taskID, "error", err)
	}
}
