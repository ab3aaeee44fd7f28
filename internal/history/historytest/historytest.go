// Package historytest holds behaviour tests shared by every history.Store backend.
package historytest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/receipt-flow/internal/domain"
	"github.com/dvloznov/receipt-flow/internal/history"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) history.Store

// Run exercises a backend against the history.Store contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("SaveAndGetRun", func(t *testing.T) { testSaveAndGetRun(t, newStore(t)) })
	t.Run("GetRunNotFound", func(t *testing.T) { testGetRunNotFound(t, newStore(t)) })
	t.Run("ListRunsNewestFirst", func(t *testing.T) { testListRuns(t, newStore(t)) })
	t.Run("ResultsRoundTrip", func(t *testing.T) { testResultsRoundTrip(t, newStore(t)) })
	t.Run("ResultsFilter", func(t *testing.T) { testResultsFilter(t, newStore(t)) })
	t.Run("ResultsPaging", func(t *testing.T) { testResultsPaging(t, newStore(t)) })
}

var base = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

func id(v int64) *int64 { return &v }

func testSaveAndGetRun(t *testing.T, s history.Store) {
	defer s.Close()
	ctx := context.Background()

	run := history.Run{RunID: "run-1", Trigger: history.TriggerSchedule, Status: history.RunRunning, StartedAt: base}
	require.NoError(t, s.SaveRun(ctx, run))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, history.RunRunning, got.Status)
	assert.Nil(t, got.CompletedAt)

	done := base.Add(time.Minute)
	run.Status = history.RunCompleted
	run.CompletedAt = &done
	run.Summary = domain.Summary{Total: 3, Success: 1, Pending: 1, Error: 1}
	require.NoError(t, s.SaveRun(ctx, run))

	got, err = s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, history.RunCompleted, got.Status)
	assert.Equal(t, history.TriggerSchedule, got.Trigger)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, done.Equal(*got.CompletedAt))
	assert.True(t, base.Equal(got.StartedAt))
	assert.Equal(t, run.Summary, got.Summary)
}

func testGetRunNotFound(t *testing.T, s history.Store) {
	defer s.Close()
	_, err := s.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, history.ErrNotFound)
}

func testListRuns(t *testing.T, s history.Store) {
	defer s.Close()
	ctx := context.Background()
	for i, rid := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveRun(ctx, history.Run{
			RunID: rid, Trigger: history.TriggerAPI, Status: history.RunCompleted,
			StartedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{runs[0].RunID, runs[1].RunID, runs[2].RunID})

	runs, err = s.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func testResultsRoundTrip(t *testing.T, s history.Store) {
	defer s.Close()
	ctx := context.Background()

	in := []domain.ProcessingResult{
		{
			ReceiptID: "f1", FileName: "a.jpg", Status: domain.ResultSuccess,
			WalletTxnID: id(10), DealID: id(20), FreeeReceiptID: id(30), ProcessedAt: base,
		},
		{ReceiptID: "f2", FileName: "b.jpg", Status: domain.ResultError, Error: "boom", ProcessedAt: base.Add(time.Second)},
	}
	require.NoError(t, s.SaveResults(ctx, "run-1", in))

	recs, err := s.ListResults(ctx, history.Filter{})
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "f2", recs[0].ReceiptID)
	assert.Equal(t, "boom", recs[0].Error)
	assert.Nil(t, recs[0].DealID)

	ok := recs[1]
	assert.Equal(t, "run-1", ok.RunID)
	assert.Equal(t, "a.jpg", ok.FileName)
	assert.Equal(t, domain.ResultSuccess, ok.Status)
	require.NotNil(t, ok.WalletTxnID)
	require.NotNil(t, ok.DealID)
	require.NotNil(t, ok.FreeeReceiptID)
	assert.Equal(t, int64(10), *ok.WalletTxnID)
	assert.Equal(t, int64(20), *ok.DealID)
	assert.Equal(t, int64(30), *ok.FreeeReceiptID)
	assert.True(t, base.Equal(ok.ProcessedAt))
}

func testResultsFilter(t *testing.T, s history.Store) {
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.SaveResults(ctx, "run-1", []domain.ProcessingResult{
		{ReceiptID: "f1", Status: domain.ResultPending, ProcessedAt: base},
		{ReceiptID: "f2", Status: domain.ResultSuccess, ProcessedAt: base.Add(time.Second)},
	}))
	require.NoError(t, s.SaveResults(ctx, "run-2", []domain.ProcessingResult{
		{ReceiptID: "f1", Status: domain.ResultPending, ProcessedAt: base.Add(time.Hour)},
	}))

	recs, err := s.ListResults(ctx, history.Filter{Status: domain.ResultPending})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "run-2", recs[0].RunID)
	assert.Equal(t, "run-1", recs[1].RunID)

	recs, err = s.ListResults(ctx, history.Filter{RunID: "run-1"})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = s.ListResults(ctx, history.Filter{RunID: "run-2", Status: domain.ResultSuccess})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func testResultsPaging(t *testing.T, s history.Store) {
	defer s.Close()
	ctx := context.Background()

	var batch []domain.ProcessingResult
	for i := 0; i < 5; i++ {
		batch = append(batch, domain.ProcessingResult{
			ReceiptID:   string(rune('a' + i)),
			Status:      domain.ResultSuccess,
			ProcessedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	require.NoError(t, s.SaveResults(ctx, "run-1", batch))

	recs, err := s.ListResults(ctx, history.Filter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "d", recs[0].ReceiptID)
	assert.Equal(t, "c", recs[1].ReceiptID)

	recs, err = s.ListResults(ctx, history.Filter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, recs)
}
