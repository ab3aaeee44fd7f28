package bigquery

import (
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/receipt-flow/internal/domain"
	"github.com/dvloznov/receipt-flow/internal/history"
)

func paramNames(params []bigquery.QueryParameter) []string {
	var names []string
	for _, p := range params {
		names = append(names, p.Name)
	}
	return names
}

func TestResultsQuery_NoFilter(t *testing.T) {
	q, params := resultsQuery("p.d.receipt_results", history.Filter{})

	assert.Contains(t, q, "FROM `p.d.receipt_results`")
	assert.Contains(t, q, "ORDER BY processed_at DESC")
	assert.NotContains(t, q, "WHERE")
	assert.NotContains(t, q, "LIMIT")
	assert.Empty(t, params)
}

func TestResultsQuery_AllFilters(t *testing.T) {
	q, params := resultsQuery("p.d.receipt_results", history.Filter{
		Status: domain.ResultPending, RunID: "run-1", Limit: 10, Offset: 20,
	})

	assert.Contains(t, q, "WHERE status = @status AND run_id = @run_id")
	assert.Contains(t, q, "LIMIT @limit")
	assert.Contains(t, q, "OFFSET @offset")
	assert.Equal(t, []string{"status", "run_id", "limit", "offset"}, paramNames(params))
	assert.Equal(t, "pending", params[0].Value)
	assert.Equal(t, int64(10), params[2].Value)
}

func TestResultsQuery_OffsetWithoutLimit(t *testing.T) {
	q, params := resultsQuery("t", history.Filter{Offset: 5})

	limitAt := strings.Index(q, "LIMIT 9223372036854775807")
	offsetAt := strings.Index(q, "OFFSET @offset")
	require.GreaterOrEqual(t, limitAt, 0)
	assert.Greater(t, offsetAt, limitAt)
	assert.Equal(t, []string{"offset"}, paramNames(params))
}

func TestResultRow_RoundTrip(t *testing.T) {
	deal := int64(7)
	at := time.Date(2026, 1, 5, 12, 0, 0, 0, time.FixedZone("JST", 9*3600))
	row := toResultRow("run-1", domain.ProcessingResult{
		ReceiptID: "f1", FileName: "a.jpg", Status: domain.ResultSuccess, DealID: &deal, ProcessedAt: at,
	})

	assert.Equal(t, time.UTC, row.ProcessedAt.Location())
	assert.False(t, row.WalletTxnID.Valid)
	assert.True(t, row.DealID.Valid)

	rec := row.toRecord()
	assert.Equal(t, "run-1", rec.RunID)
	assert.Nil(t, rec.WalletTxnID)
	require.NotNil(t, rec.DealID)
	assert.Equal(t, int64(7), *rec.DealID)
	assert.True(t, at.Equal(rec.ProcessedAt))
}

func TestRunRow_RoundTrip(t *testing.T) {
	start := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	run := history.Run{
		RunID: "run-1", Trigger: history.TriggerStartup, Status: history.RunRunning, StartedAt: start,
		Summary: domain.Summary{Total: 2, Error: 2},
	}

	row := toRunRow(run)
	assert.False(t, row.CompletedAt.Valid)
	assert.Equal(t, run, row.toRun())

	done := start.Add(time.Minute)
	run.CompletedAt = &done
	got := toRunRow(run).toRun()
	require.NotNil(t, got.CompletedAt)
	assert.True(t, done.Equal(*got.CompletedAt))
}

func TestRowSchemasInfer(t *testing.T) {
	for _, row := range []any{runRow{}, resultRow{}} {
		schema, err := bigquery.InferSchema(row)
		require.NoError(t, err)
		assert.NotEmpty(t, schema)
	}
}
