package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/receipt-flow/internal/domain"
	"github.com/dvloznov/receipt-flow/internal/history"
)

// runRow represents a batch run record in BigQuery.
type runRow struct {
	RunID       string                 `bigquery:"run_id"`
	Trigger     string                 `bigquery:"trigger_name"`
	Status      string                 `bigquery:"status"`
	StartedAt   time.Time              `bigquery:"started_at"`
	CompletedAt bigquery.NullTimestamp `bigquery:"completed_at"`
	Error       string                 `bigquery:"error"`
	Total       int64                  `bigquery:"total"`
	Success     int64                  `bigquery:"success"`
	Pending     int64                  `bigquery:"pending"`
	Errored     int64                  `bigquery:"errored"`
}

// resultRow represents one processed receipt in BigQuery.
type resultRow struct {
	RunID          string             `bigquery:"run_id"`
	ReceiptID      string             `bigquery:"receipt_id"`
	FileName       string             `bigquery:"file_name"`
	Status         string             `bigquery:"status"`
	WalletTxnID    bigquery.NullInt64 `bigquery:"freee_wallet_txn_id"`
	DealID         bigquery.NullInt64 `bigquery:"freee_deal_id"`
	FreeeReceiptID bigquery.NullInt64 `bigquery:"freee_receipt_id"`
	Error          string             `bigquery:"error"`
	ProcessedAt    time.Time          `bigquery:"processed_at"`
}

func toRunRow(r history.Run) runRow {
	row := runRow{
		RunID:     r.RunID,
		Trigger:   string(r.Trigger),
		Status:    string(r.Status),
		StartedAt: r.StartedAt.UTC(),
		Error:     r.Error,
		Total:     int64(r.Summary.Total),
		Success:   int64(r.Summary.Success),
		Pending:   int64(r.Summary.Pending),
		Errored:   int64(r.Summary.Error),
	}
	if r.CompletedAt != nil {
		row.CompletedAt = bigquery.NullTimestamp{Timestamp: r.CompletedAt.UTC(), Valid: true}
	}
	return row
}

func (row runRow) toRun() history.Run {
	run := history.Run{
		RunID:     row.RunID,
		Trigger:   history.Trigger(row.Trigger),
		Status:    history.RunStatus(row.Status),
		StartedAt: row.StartedAt,
		Error:     row.Error,
		Summary: domain.Summary{
			Total:   int(row.Total),
			Success: int(row.Success),
			Pending: int(row.Pending),
			Error:   int(row.Errored),
		},
	}
	if row.CompletedAt.Valid {
		t := row.CompletedAt.Timestamp
		run.CompletedAt = &t
	}
	return run
}

func toResultRow(runID string, r domain.ProcessingResult) *resultRow {
	return &resultRow{
		RunID:          runID,
		ReceiptID:      r.ReceiptID,
		FileName:       r.FileName,
		Status:         string(r.Status),
		WalletTxnID:    nullInt(r.WalletTxnID),
		DealID:         nullInt(r.DealID),
		FreeeReceiptID: nullInt(r.FreeeReceiptID),
		Error:          r.Error,
		ProcessedAt:    r.ProcessedAt.UTC(),
	}
}

func (row resultRow) toRecord() history.Record {
	return history.Record{
		RunID: row.RunID,
		ProcessingResult: domain.ProcessingResult{
			ReceiptID:      row.ReceiptID,
			FileName:       row.FileName,
			Status:         domain.ResultStatus(row.Status),
			WalletTxnID:    intPtr(row.WalletTxnID),
			DealID:         intPtr(row.DealID),
			FreeeReceiptID: intPtr(row.FreeeReceiptID),
			Error:          row.Error,
			ProcessedAt:    row.ProcessedAt,
		},
	}
}

func nullInt(p *int64) bigquery.NullInt64 {
	if p == nil {
		return bigquery.NullInt64{}
	}
	return bigquery.NullInt64{Int64: *p, Valid: true}
}

func intPtr(n bigquery.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
