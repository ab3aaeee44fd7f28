// Package bigquery is a history.Store backed by two BigQuery tables.
// Results are appended with the streaming inserter; runs are upserted with MERGE.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/receipt-flow/internal/domain"
	"github.com/dvloznov/receipt-flow/internal/history"
	"github.com/dvloznov/receipt-flow/internal/logger"
)

const (
	runsTable    = "receipt_runs"
	resultsTable = "receipt_results"
)

// Store is the BigQuery implementation of history.Store.
type Store struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

// New creates a client for projectID. The dataset must already exist.
func New(ctx context.Context, projectID, datasetID string) (*Store, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("New: creating client: %w", err)
	}
	return &Store{client: client, projectID: projectID, datasetID: datasetID}, nil
}

// EnsureTables creates the run and result tables when they are missing.
func (s *Store) EnsureTables(ctx context.Context) error {
	log := logger.FromContext(ctx)

	tables := []struct {
		name string
		row  any
	}{
		{runsTable, runRow{}},
		{resultsTable, resultRow{}},
	}
	for _, tbl := range tables {
		schema, err := bigquery.InferSchema(tbl.row)
		if err != nil {
			return fmt.Errorf("EnsureTables: infer %s schema: %w", tbl.name, err)
		}
		err = s.client.Dataset(s.datasetID).Table(tbl.name).Create(ctx, &bigquery.TableMetadata{Schema: schema})
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
			continue
		}
		if err != nil {
			return fmt.Errorf("EnsureTables: create %s: %w", tbl.name, err)
		}
		log.Info().Str("table", tbl.name).Msg("Created BigQuery table")
	}
	return nil
}

// SaveRun implements history.Store.
func (s *Store) SaveRun(ctx context.Context, run history.Run) error {
	if run.RunID == "" {
		return fmt.Errorf("SaveRun: run ID is required")
	}

	row := toRunRow(run)
	q := s.client.Query(fmt.Sprintf(`
		MERGE `+"`%s`"+` T
		USING (SELECT @run_id AS run_id) S
		ON T.run_id = S.run_id
		WHEN MATCHED THEN UPDATE SET
			trigger_name = @trigger,
			status = @status,
			started_at = @started_at,
			completed_at = @completed_at,
			error = @error,
			total = @total,
			success = @success,
			pending = @pending,
			errored = @errored
		WHEN NOT MATCHED THEN INSERT
			(run_id, trigger_name, status, started_at, completed_at, error, total, success, pending, errored)
		VALUES
			(@run_id, @trigger, @status, @started_at, @completed_at, @error, @total, @success, @pending, @errored)
	`, s.table(runsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "run_id", Value: row.RunID},
		{Name: "trigger", Value: row.Trigger},
		{Name: "status", Value: row.Status},
		{Name: "started_at", Value: row.StartedAt},
		{Name: "completed_at", Value: row.CompletedAt},
		{Name: "error", Value: row.Error},
		{Name: "total", Value: row.Total},
		{Name: "success", Value: row.Success},
		{Name: "pending", Value: row.Pending},
		{Name: "errored", Value: row.Errored},
	}

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("SaveRun: running merge query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("SaveRun: waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("SaveRun: job error: %w", err)
	}
	return nil
}

// GetRun implements history.Store.
func (s *Store) GetRun(ctx context.Context, runID string) (history.Run, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT `+runColumns+`
		FROM `+"`%s`"+`
		WHERE run_id = @run_id
		LIMIT 1
	`, s.table(runsTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "run_id", Value: runID}}

	it, err := q.Read(ctx)
	if err != nil {
		return history.Run{}, fmt.Errorf("GetRun: reading query: %w", err)
	}
	var row runRow
	err = it.Next(&row)
	if err == iterator.Done {
		return history.Run{}, fmt.Errorf("GetRun: run %s: %w", runID, history.ErrNotFound)
	}
	if err != nil {
		return history.Run{}, fmt.Errorf("GetRun: reading row: %w", err)
	}
	return row.toRun(), nil
}

const runColumns = `run_id, trigger_name, status, started_at, completed_at, error, total, success, pending, errored`

// ListRuns implements history.Store.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]history.Run, error) {
	query := fmt.Sprintf(`
		SELECT `+runColumns+`
		FROM `+"`%s`"+`
		ORDER BY started_at DESC, run_id DESC
	`, s.table(runsTable))
	var params []bigquery.QueryParameter
	if limit > 0 {
		query += " LIMIT @limit"
		params = append(params, bigquery.QueryParameter{Name: "limit", Value: int64(limit)})
	}

	q := s.client.Query(query)
	q.Parameters = params
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListRuns: reading query: %w", err)
	}

	runs := []history.Run{}
	for {
		var row runRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListRuns: iterating: %w", err)
		}
		runs = append(runs, row.toRun())
	}
	return runs, nil
}

// SaveResults implements history.Store.
func (s *Store) SaveResults(ctx context.Context, runID string, results []domain.ProcessingResult) error {
	if runID == "" {
		return fmt.Errorf("SaveResults: run ID is required")
	}
	if len(results) == 0 {
		return nil
	}

	rows := make([]*resultRow, 0, len(results))
	for _, r := range results {
		rows = append(rows, toResultRow(runID, r))
	}
	inserter := s.client.Dataset(s.datasetID).Table(resultsTable).Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return fmt.Errorf("SaveResults: inserting rows: %w", err)
	}
	return nil
}

// ListResults implements history.Store.
func (s *Store) ListResults(ctx context.Context, filter history.Filter) ([]history.Record, error) {
	query, params := resultsQuery(s.table(resultsTable), filter)
	q := s.client.Query(query)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListResults: reading query: %w", err)
	}

	records := []history.Record{}
	for {
		var row resultRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListResults: iterating: %w", err)
		}
		records = append(records, row.toRecord())
	}
	return records, nil
}

// Close closes the BigQuery client connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *Store) table(name string) string {
	return fmt.Sprintf("%s.%s.%s", s.projectID, s.datasetID, name)
}

func resultsQuery(table string, filter history.Filter) (string, []bigquery.QueryParameter) {
	var (
		where  []string
		params []bigquery.QueryParameter
	)
	if filter.Status != "" {
		where = append(where, "status = @status")
		params = append(params, bigquery.QueryParameter{Name: "status", Value: string(filter.Status)})
	}
	if filter.RunID != "" {
		where = append(where, "run_id = @run_id")
		params = append(params, bigquery.QueryParameter{Name: "run_id", Value: filter.RunID})
	}

	var b strings.Builder
	b.WriteString("SELECT run_id, receipt_id, file_name, status, freee_wallet_txn_id, freee_deal_id, freee_receipt_id, error, processed_at\n")
	fmt.Fprintf(&b, "FROM `%s`\n", table)
	if len(where) > 0 {
		b.WriteString("WHERE " + strings.Join(where, " AND ") + "\n")
	}
	b.WriteString("ORDER BY processed_at DESC")
	if filter.Limit > 0 {
		b.WriteString("\nLIMIT @limit")
		params = append(params, bigquery.QueryParameter{Name: "limit", Value: int64(filter.Limit)})
	}
	if filter.Offset > 0 {
		// BigQuery requires LIMIT before OFFSET.
		if filter.Limit <= 0 {
			b.WriteString("\nLIMIT 9223372036854775807")
		}
		b.WriteString("\nOFFSET @offset")
		params = append(params, bigquery.QueryParameter{Name: "offset", Value: int64(filter.Offset)})
	}
	return b.String(), params
}

var _ history.Store = (*Store)(nil)
