package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dvloznov/receipt-flow/internal/api/middleware"
	"github.com/dvloznov/receipt-flow/internal/domain"
	"github.com/dvloznov/receipt-flow/internal/history"
	"github.com/dvloznov/receipt-flow/internal/scheduler"
)

// Paging bounds for list endpoints.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// BatchTrigger starts batches on demand.
type BatchTrigger interface {
	Trigger(ctx context.Context, trigger history.Trigger) (string, error)
	Current() (string, bool)
}

// HealthHandler handles GET /health.
type HealthHandler struct {
	runner BatchTrigger
	now    func() time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(runner BatchTrigger) *HealthHandler {
	return &HealthHandler{runner: runner, now: time.Now}
}

// Health reports liveness and the running batch, if any.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status": "healthy",
		"time":   h.now().Format(time.RFC3339),
	}
	if runID, running := h.runner.Current(); running {
		body["running_batch"] = runID
	}
	middleware.WriteJSON(w, http.StatusOK, body)
}

// ResultsHandler handles result history endpoints.
type ResultsHandler struct {
	store history.Store
	log   zerolog.Logger
}

// NewResultsHandler creates a new results handler.
func NewResultsHandler(store history.Store, log zerolog.Logger) *ResultsHandler {
	return &ResultsHandler{store: store, log: log}
}

// ListResults handles GET /api/results
func (h *ResultsHandler) ListResults(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit, offset, ok := paging(w, r)
	if !ok {
		return
	}

	status := domain.ResultStatus(query.Get("status"))
	switch status {
	case "", domain.ResultSuccess, domain.ResultPending, domain.ResultError:
	default:
		middleware.WriteError(w, http.StatusBadRequest, "Invalid status")
		return
	}

	filter := history.Filter{
		Status: status,
		RunID:  query.Get("run_id"),
		Limit:  limit,
		Offset: offset,
	}

	records, err := h.store.ListResults(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list results")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list results")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"results": records,
		"count":   len(records),
		"limit":   limit,
		"offset":  offset,
	})
}

// RunsHandler handles batch run endpoints.
type RunsHandler struct {
	runner BatchTrigger
	store  history.Store
	log    zerolog.Logger
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(runner BatchTrigger, store history.Store, log zerolog.Logger) *RunsHandler {
	return &RunsHandler{runner: runner, store: store, log: log}
}

// TriggerRun handles POST /api/runs
func (h *RunsHandler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	runID, err := h.runner.Trigger(r.Context(), history.TriggerAPI)
	if errors.Is(err, scheduler.ErrBatchInProgress) {
		body := map[string]string{"error": "Batch already in progress"}
		if current, ok := h.runner.Current(); ok {
			body["run_id"] = current
		}
		middleware.WriteJSON(w, http.StatusConflict, body)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to trigger batch")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to trigger batch")
		return
	}

	h.log.Info().Str("run_id", runID).Msg("Batch triggered via API")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"run_id": runID,
		"status": string(history.RunRunning),
	})
}

// ListRuns handles GET /api/runs
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _, ok := paging(w, r)
	if !ok {
		return
	}

	runs, err := h.store.ListRuns(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list runs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun handles GET /api/runs/{runID}
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	run, err := h.store.GetRun(r.Context(), runID)
	if errors.Is(err, history.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Run not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("run_id", runID).Msg("Failed to get run")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, run)
}

// paging reads limit and offset, writing a 400 on bad input.
func paging(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	query := r.URL.Query()
	limit = DefaultLimit

	if s := query.Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid limit")
			return 0, 0, false
		}
		limit = v
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	if s := query.Get("offset"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid offset")
			return 0, 0, false
		}
		offset = v
	}
	return limit, offset, true
}
