package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/andr-235/fullstack-parser-sub002/internal/collection"
	"github.com/andr-235/fullstack-parser-sub002/internal/domain"
	"github.com/andr-235/fullstack-parser-sub002/internal/events"
	"github.com/urfave/cli/v3"
)

const (
	maxLineBytes = 64 * 1024
	pollInterval = 2 * time.Second
)

func importAction(ctx context.Context, cmd *cli.Command) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	lines, err := readLinesFrom(cmd.String("file"), cmd.Root().Reader)
	if err != nil {
		return err
	}

	app, err := newApplication(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.cleanup()

	job, err := app.runImport(ctx, lines, cmd.Root().ErrWriter)
	if err != nil {
		return err
	}
	return writeSummary(cmd.Root().Writer, job)
}

// runImport submits lines as one job and blocks until it reaches a terminal
// status. Progress goes to progress as it is reported.
func (app *application) runImport(ctx context.Context, lines []string, progress io.Writer) (*domain.CollectionJob, error) {
	// Workers stay paused until the subscription exists so no event is missed.
	app.manager.Pause()
	if err := app.start(ctx); err != nil {
		return nil, err
	}

	job, err := app.orchestrator.Submit(ctx, lines)
	if err != nil {
		app.manager.Resume()
		return nil, err
	}
	evs, unsubscribe := app.manager.Subscribe(job.ID, 256)
	defer unsubscribe()
	app.manager.Resume()

	app.logger.Info("import submitted", "task_id", job.ID, "total", job.Progress.Total)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev := <-evs:
			if ev.Type == events.Progress {
				if p, ok := ev.Data.(collection.ChunkProgress); ok && progress != nil {
					fmt.Fprintf(progress, "processed %d/%d (failed %d)\n", p.Progress.Processed, p.Progress.Total, p.Progress.Failed)
				}
			}
			if !ev.Terminal() {
				continue
			}
		case <-ticker.C:
		}

		current, err := app.orchestrator.Status(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		if current.Status.IsTerminal() {
			return current, nil
		}
	}
}

// readLinesFrom reads identifier lines from path, or from stdin when path is "-".
func readLinesFrom(path string, stdin io.Reader) ([]string, error) {
	if path == "-" {
		if stdin == nil {
			stdin = os.Stdin
		}
		return readLines(stdin)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return readLines(f)
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read identifiers: %w", err)
	}
	return lines, nil
}

type importSummary struct {
	TaskID        string            `json:"task_id"`
	Status        domain.JobStatus  `json:"status"`
	Progress      domain.Progress   `json:"progress"`
	FailureReason string            `json:"failure_reason,omitempty"`
	Errors        []domain.JobError `json:"errors,omitempty"`
}

func writeSummary(w io.Writer, job *domain.CollectionJob) error {
	if w == nil {
		w = os.Stdout
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(importSummary{
		TaskID:        job.ID,
		Status:        job.Status,
		Progress:      job.Progress,
		FailureReason: job.FailureReason,
		Errors:        job.Errors,
	})
}
