package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/andr-235/fullstack-parser-sub002/internal/batch"
	"github.com/andr-235/fullstack-parser-sub002/internal/domain"
	"github.com/andr-235/fullstack-parser-sub002/internal/platform/logger"
	"github.com/andr-235/fullstack-parser-sub002/internal/queue"
)

// ChunkProgress is the data carried by progress events.
type ChunkProgress struct {
	TaskID   string          `json:"task_id"`
	Chunk    int             `json:"chunk"`
	Progress domain.Progress `json:"progress"`
}

// chunkOutcome is what one chunk handler reports back to the serialized
// progress callback.
type chunkOutcome struct {
	succeeded int
	failed    int
	errors    []domain.JobError
	upserted  domain.UpsertResult
}

// run is the state of one attempt of one job.
type run struct {
	ctx   context.Context
	o     *Orchestrator
	job   *domain.CollectionJob
	qjob  *queue.Job
	log   *slog.Logger
	start time.Time

	phaseOnce sync.Once

	mu       sync.Mutex
	progress domain.Progress
	infraErr error
}

func (r *run) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.infraErr == nil {
		r.infraErr = err
	}
}

func (r *run) err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.infraErr
}

// HandleJob is the queue handler for collection jobs. Infrastructure errors
// are returned so the queue retries the job; a retry resumes after the last
// recorded chunk.
func (o *Orchestrator) HandleJob(ctx context.Context, qjob *queue.Job) error {
	var p jobPayload
	if err := qjob.Decode(&p); err != nil {
		return queue.Permanent(err)
	}
	ctx, log := logger.With(ctx, o.logger, "task_id", p.TaskID, "attempt", qjob.Attempt)

	job, err := o.tasks.Get(ctx, p.TaskID)
	switch {
	case errors.Is(err, domain.ErrTaskNotFound):
		log.Warn("task vanished before processing")
		return queue.Permanent(err)
	case err != nil:
		return err
	}
	if job.Status.IsTerminal() {
		log.Info("task already finished", "status", job.Status)
		return nil
	}

	if job.CancelRequested {
		return o.finish(ctx, log, job, domain.JobStatusCancelled, "", time.Now())
	}

	now := o.now()
	patch := domain.TaskPatch{
		Status:   domain.Ptr(domain.JobStatusProcessing),
		Phase:    domain.Ptr(domain.PhaseResolving),
		Attempts: domain.Ptr(job.Attempts + 1),
	}
	if job.StartedAt == nil {
		patch.StartedAt = &now
	}
	if job, err = o.tasks.Update(ctx, job.ID, patch); err != nil {
		return o.terminalOrErr(log, err)
	}

	r := &run{
		ctx:      ctx,
		o:        o,
		job:      job,
		qjob:     qjob,
		log:      log,
		start:    time.Now(),
		progress: job.Progress,
	}
	log.Info("processing collection",
		"total", job.Progress.Total,
		"resumed_chunks", len(job.CompletedChunks))

	summary := batch.Run(ctx, job.TargetIdentifiers, batch.Options{
		ChunkSize:   job.ChunkSize,
		Concurrency: o.cfg.Concurrency,
		ShouldStop:  r.shouldStop,
		Skip:        job.IsChunkCompleted,
	}, r.handleChunk, r.onChunk)

	if err := r.err(); err != nil {
		log.Error("collection attempt aborted", "error", err)
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := o.tasks.Update(ctx, job.ID, domain.TaskPatch{Phase: domain.Ptr(domain.PhaseFinalizing)}); err != nil {
		return o.terminalOrErr(log, err)
	}
	current, err := o.tasks.Get(ctx, job.ID)
	if err != nil {
		return err
	}

	switch {
	case current.CancelRequested && summary.Stopped:
		return o.finish(ctx, log, current, domain.JobStatusCancelled, "", r.start)
	case current.Progress.Succeeded > 0:
		return o.finish(ctx, log, current, domain.JobStatusCompleted, "", r.start)
	default:
		return o.finish(ctx, log, current, domain.JobStatusFailed, failureReason(current), r.start)
	}
}

// shouldStop is polled before each chunk dispatch.
func (r *run) shouldStop() bool {
	if r.err() != nil {
		return true
	}
	job, err := r.o.tasks.Get(context.Background(), r.job.ID)
	if err != nil {
		r.log.Warn("failed to check for cancellation", "error", err)
		return false
	}
	if job.CancelRequested {
		r.log.Info("cancellation observed")
		return true
	}
	return false
}

func (r *run) handleChunk(ctx context.Context, c batch.Chunk[domain.ExternalIdentifier]) (chunkOutcome, error) {
	started := time.Now()
	defer func() { r.o.metrics.ObserveChunk(string(r.job.Kind), time.Since(started)) }()

	var out chunkOutcome
	results := r.o.resolver.Resolve(ctx, c.Items)
	r.qjob.Heartbeat()
	if err := ctx.Err(); err != nil {
		return out, err
	}

	resolved := make([]domain.ResolvedEntity, 0, len(results))
	now := r.o.now()
	for _, res := range results {
		if res.Err != nil {
			out.failed++
			out.errors = append(out.errors, domain.NewJobError(res.Err, res.Identifier.Key(), now))
			continue
		}
		resolved = append(resolved, *res.Entity)
	}
	if len(resolved) == 0 {
		return out, nil
	}

	var phaseErr error
	r.phaseOnce.Do(func() {
		_, phaseErr = r.o.tasks.Update(ctx, r.job.ID, domain.TaskPatch{Phase: domain.Ptr(domain.PhasePersisting)})
	})
	if phaseErr != nil {
		return out, domain.NewStorageError("mark persisting", phaseErr)
	}

	upserted, err := r.o.entities.UpsertMany(ctx, resolved, r.job.ID)
	if err != nil {
		return out, domain.NewStorageError("upsert entities", err)
	}
	r.o.metrics.AddUpsert(upserted.Inserted, upserted.Updated, upserted.Skipped)
	out.upserted = upserted
	out.succeeded = len(resolved)
	return out, nil
}

// onChunk runs serially; it is the only writer of cumulative progress.
func (r *run) onChunk(res batch.ChunkResult[chunkOutcome], _ batch.Progress) {
	if err := r.ctx.Err(); err != nil {
		// The attempt was abandoned; the chunk is redone by the next one.
		r.fail(err)
		return
	}
	if res.Err != nil && errors.Is(res.Err, domain.ErrStorage) {
		r.fail(res.Err)
		return
	}

	r.mu.Lock()
	r.progress.Processed += res.Size
	var errs []domain.JobError
	if res.Err != nil {
		r.progress.Failed += res.Size
		errs = []domain.JobError{domain.NewJobError(res.Err, "", r.o.now())}
	} else {
		r.progress.Succeeded += res.Result.succeeded
		r.progress.Failed += res.Result.failed
		errs = res.Result.errors
	}
	progress := r.progress
	r.mu.Unlock()

	_, err := r.o.tasks.Update(context.Background(), r.job.ID, domain.TaskPatch{
		Progress:        &progress,
		AppendErrors:    errs,
		CompletedChunks: []int{res.Index},
	})
	if err != nil {
		r.log.Error("failed to record chunk progress", "chunk", res.Index, "error", err)
		r.fail(domain.NewStorageError("record progress", err))
		return
	}

	r.log.Debug("chunk recorded",
		"chunk", res.Index,
		"processed", progress.Processed,
		"total", progress.Total,
		"inserted", res.Result.upserted.Inserted,
		"updated", res.Result.upserted.Updated)
	r.qjob.Progress(ChunkProgress{TaskID: r.job.ID, Chunk: res.Index, Progress: progress})
}

// finish writes the terminal status.
func (o *Orchestrator) finish(ctx context.Context, log *slog.Logger, job *domain.CollectionJob, status domain.JobStatus, reason string, started time.Time) error {
	now := o.now()
	patch := domain.TaskPatch{
		Status:      &status,
		Phase:       domain.Ptr(domain.PhaseDone),
		CompletedAt: &now,
	}
	if reason != "" {
		patch.FailureReason = &reason
	}
	if _, err := o.tasks.Update(ctx, job.ID, patch); err != nil {
		return o.terminalOrErr(log, err)
	}
	o.metrics.ObserveJob(string(job.Kind), string(status), time.Since(started))
	log.Info("collection finished",
		"status", status,
		"processed", job.Progress.Processed,
		"succeeded", job.Progress.Succeeded,
		"failed", job.Progress.Failed,
		"errors", len(job.Errors))
	return nil
}

// terminalOrErr treats a job that ended concurrently as done.
func (o *Orchestrator) terminalOrErr(log *slog.Logger, err error) error {
	if errors.Is(err, domain.ErrTerminalState) {
		log.Info("task reached a terminal state concurrently")
		return nil
	}
	if errors.Is(err, domain.ErrTaskNotFound) {
		return queue.Permanent(err)
	}
	return err
}

// handleFailure runs once the queue gave up on a job.
func (o *Orchestrator) handleFailure(ctx context.Context, qjob *queue.Job, err error) {
	var p jobPayload
	if decodeErr := qjob.Decode(&p); decodeErr != nil {
		o.logger.Error("cannot mark undecodable job failed", "job_id", qjob.ID, "error", decodeErr)
		return
	}
	cause := err
	if !errors.Is(cause, domain.ErrStorage) && !errors.Is(cause, domain.ErrTaskNotFound) {
		cause = domain.NewStorageError("process job", err)
	}
	o.logger.Error("collection failed after retries",
		"task_id", p.TaskID,
		"attempts", qjob.Attempt,
		"error", err)
	o.markFailed(ctx, p.TaskID, cause)
}

// failureReason aggregates why no entity was persisted.
func failureReason(job *domain.CollectionJob) string {
	if job.Progress.Total == 0 {
		return "no identifiers to resolve"
	}
	counts := make(map[domain.ErrorCode]int)
	for _, e := range job.Errors {
		counts[e.Code]++
	}
	codes := make([]string, 0, len(counts))
	for code, n := range counts {
		codes = append(codes, fmt.Sprintf("%s=%d", code, n))
	}
	sort.Strings(codes)

	reason := fmt.Sprintf("no entity resolved: %d of %d identifiers failed", job.Progress.Failed, job.Progress.Total)
	if len(codes) > 0 {
		reason += " (" + strings.Join(codes, ", ") + ")"
	}
	return reason
}
