package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/dvloznov/receipt-flow/internal/history"
)

// DefaultSchedule runs a batch at the top of every hour.
const DefaultSchedule = "0 * * * *"

// ParseSchedule validates a standard 5-field cron expression.
func ParseSchedule(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("ParseSchedule: %q: %w", spec, err)
	}
	return nil
}

// Scheduler triggers batches on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	runner *Runner
	log    zerolog.Logger
}

// New creates a scheduler for runner. Call Start to begin firing.
func New(runner *Runner, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		runner: runner,
		log:    log.With().Str("component", "scheduler").Logger(),
	}
}

// Schedule registers the batch job. ctx supplies values for every run.
func (s *Scheduler) Schedule(ctx context.Context, spec string) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.fire(ctx)
	})
	if err != nil {
		return fmt.Errorf("Schedule: %q: %w", spec, err)
	}

	s.log.Info().Str("schedule", spec).Msg("Batch job registered")
	return nil
}

func (s *Scheduler) fire(ctx context.Context) {
	_, err := s.runner.Run(ctx, history.TriggerSchedule)
	switch {
	case errors.Is(err, ErrBatchInProgress):
		s.log.Warn().Msg("Skipping scheduled batch, previous batch still running")
	case err != nil:
		s.log.Error().Err(err).Msg("Scheduled batch failed")
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops firing and waits for the running batch, including ones started
// outside the schedule.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.runner.Wait()
	s.log.Info().Msg("Scheduler stopped")
}
