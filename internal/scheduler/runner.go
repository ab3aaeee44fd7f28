// Package scheduler runs receipt batches on a cron schedule and on demand.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/receipt-flow/internal/domain"
	"github.com/dvloznov/receipt-flow/internal/history"
	"github.com/dvloznov/receipt-flow/internal/logger"
)

// ErrBatchInProgress is returned when a batch is requested while another is running.
var ErrBatchInProgress = errors.New("batch already in progress")

// BatchProcessor processes every pending receipt once.
type BatchProcessor interface {
	ProcessAll(ctx context.Context) ([]domain.ProcessingResult, error)
}

// Runner executes batches one at a time and records them in the history store.
type Runner struct {
	processor BatchProcessor
	store     history.Store

	batchMu sync.Mutex // held for the whole batch
	wg      sync.WaitGroup

	stateMu sync.Mutex
	current string

	newID func() string
	now   func() time.Time
}

// NewRunner creates a Runner. A nil store disables history.
func NewRunner(processor BatchProcessor, store history.Store) *Runner {
	return &Runner{
		processor: processor,
		store:     store,
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// Run executes one batch synchronously. The returned error is the listing
// failure, if any; the run record carries the outcome either way.
func (r *Runner) Run(ctx context.Context, trigger history.Trigger) (history.Run, error) {
	if !r.batchMu.TryLock() {
		return history.Run{}, ErrBatchInProgress
	}
	defer r.batchMu.Unlock()

	r.wg.Add(1)
	defer r.wg.Done()
	return r.execute(ctx, r.start(), trigger)
}

// Trigger starts a batch in the background and returns its run ID. The batch
// outlives ctx cancellation but keeps its values.
func (r *Runner) Trigger(ctx context.Context, trigger history.Trigger) (string, error) {
	if !r.batchMu.TryLock() {
		return "", ErrBatchInProgress
	}

	runID := r.start()
	bg := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.batchMu.Unlock()
		_, _ = r.execute(bg, runID, trigger)
	}()
	return runID, nil
}

// Wait blocks until every in-flight batch has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Current returns the ID of the running batch.
func (r *Runner) Current() (string, bool) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.current, r.current != ""
}

func (r *Runner) start() string {
	id := r.newID()
	r.stateMu.Lock()
	r.current = id
	r.stateMu.Unlock()
	return id
}

func (r *Runner) execute(ctx context.Context, runID string, trigger history.Trigger) (history.Run, error) {
	defer func() {
		r.stateMu.Lock()
		r.current = ""
		r.stateMu.Unlock()
	}()

	log := logger.Component(logger.FromContext(ctx), "scheduler").With().
		Str("run_id", runID).
		Str("trigger", string(trigger)).
		Logger()
	ctx = logger.WithContext(ctx, log)

	run := history.Run{
		RunID:     runID,
		Trigger:   trigger,
		Status:    history.RunRunning,
		StartedAt: r.now(),
	}
	r.saveRun(ctx, run)

	log.Info().Msg("Batch started")
	results, err := r.processor.ProcessAll(ctx)

	completed := r.now()
	run.CompletedAt = &completed
	if err != nil {
		run.Status = history.RunFailed
		run.Error = err.Error()
		r.saveRun(ctx, run)
		log.Error().Err(err).Msg("Batch failed")
		return run, fmt.Errorf("Run: %w", err)
	}

	if r.store != nil && len(results) > 0 {
		if err := r.store.SaveResults(context.WithoutCancel(ctx), runID, results); err != nil {
			log.Error().Err(err).Msg("Failed to save results")
		}
	}

	run.Status = history.RunCompleted
	run.Summary = domain.Summarize(results)
	r.saveRun(ctx, run)

	log.Info().
		Int("total", run.Summary.Total).
		Int("success", run.Summary.Success).
		Int("pending", run.Summary.Pending).
		Int("error", run.Summary.Error).
		Dur("duration", completed.Sub(run.StartedAt)).
		Msg("Batch finished")
	return run, nil
}

// History failures never abort a batch. Records are written even after ctx
// has been cancelled.
func (r *Runner) saveRun(ctx context.Context, run history.Run) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("status", string(run.Status)).Msg("Failed to save run")
	}
}
