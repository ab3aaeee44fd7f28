// Package history records batch runs and their per-receipt results.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/receipt-flow/internal/domain"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// RunStatus is the state of one batch run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	// RunFailed means the inbox could not be listed; no receipt was attempted.
	RunFailed RunStatus = "failed"
)

// Trigger names what started a run.
type Trigger string

const (
	TriggerStartup  Trigger = "startup"
	TriggerSchedule Trigger = "schedule"
	TriggerAPI      Trigger = "api"
	TriggerCLI      Trigger = "cli"
)

// Run is one batch over the inbox.
type Run struct {
	RunID       string         `json:"run_id"`
	Trigger     Trigger        `json:"trigger"`
	Status      RunStatus      `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Error       string         `json:"error,omitempty"`
	Summary     domain.Summary `json:"summary"`
}

// Record is a stored result tagged with its run.
type Record struct {
	RunID string `json:"run_id"`
	domain.ProcessingResult
}

// Filter narrows ListResults. Zero values match everything; Limit 0 is unlimited.
type Filter struct {
	Status domain.ResultStatus
	RunID  string
	Limit  int
	Offset int
}

// Store persists runs and results.
type Store interface {
	// SaveRun inserts or replaces the run with the same ID.
	SaveRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, runID string) (Run, error)
	// ListRuns returns the most recently started runs first.
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	SaveResults(ctx context.Context, runID string, results []domain.ProcessingResult) error
	// ListResults returns matching records, most recently processed first.
	ListResults(ctx context.Context, filter Filter) ([]Record, error)

	Close() error
}
