package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/receipt-flow/internal/domain"
	"github.com/dvloznov/receipt-flow/internal/history"
)

// Store is an in-memory implementation of history.Store.
// It is safe for concurrent use. Data is lost on restart.
type Store struct {
	mu      sync.RWMutex
	runs    map[string]history.Run
	records []history.Record
}

// NewStore creates a new in-memory history store.
func NewStore() *Store {
	return &Store{
		runs: make(map[string]history.Run),
	}
}

// SaveRun implements history.Store.
func (s *Store) SaveRun(ctx context.Context, run history.Run) error {
	if run.RunID == "" {
		return fmt.Errorf("run ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.RunID] = copyRun(run)
	return nil
}

// GetRun implements history.Store.
func (s *Store) GetRun(ctx context.Context, runID string) (history.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return history.Run{}, fmt.Errorf("run %s: %w", runID, history.ErrNotFound)
	}
	return copyRun(run), nil
}

// ListRuns implements history.Store.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]history.Run, error) {
	s.mu.RLock()
	out := make([]history.Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, copyRun(run))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].RunID > out[j].RunID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// SaveResults implements history.Store.
func (s *Store) SaveResults(ctx context.Context, runID string, results []domain.ProcessingResult) error {
	if runID == "" {
		return fmt.Errorf("run ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range results {
		s.records = append(s.records, history.Record{RunID: runID, ProcessingResult: copyResult(r)})
	}
	return nil
}

// ListResults implements history.Store.
func (s *Store) ListResults(ctx context.Context, filter history.Filter) ([]history.Record, error) {
	s.mu.RLock()
	var result []history.Record
	// Newest inserts first, so equal timestamps keep reverse insertion order.
	for i := len(s.records) - 1; i >= 0; i-- {
		rec := s.records[i]
		if filter.RunID != "" && rec.RunID != filter.RunID {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		result = append(result, history.Record{RunID: rec.RunID, ProcessingResult: copyResult(rec.ProcessingResult)})
	}
	s.mu.RUnlock()

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ProcessedAt.After(result[j].ProcessedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []history.Record{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	if result == nil {
		result = []history.Record{}
	}
	return result, nil
}

// Close implements history.Store.
func (s *Store) Close() error { return nil }

func copyRun(r history.Run) history.Run {
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		r.CompletedAt = &t
	}
	return r
}

func copyResult(r domain.ProcessingResult) domain.ProcessingResult {
	r.WalletTxnID = copyID(r.WalletTxnID)
	r.DealID = copyID(r.DealID)
	r.FreeeReceiptID = copyID(r.FreeeReceiptID)
	return r
}

func copyID(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ensure Store implements history.Store.
var _ history.Store = (*Store)(nil)
