// Package sqlite is a history.Store backed by a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/dvloznov/receipt-flow/internal/domain"
	"github.com/dvloznov/receipt-flow/internal/history"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	trigger_name TEXT NOT NULL,
	status       TEXT NOT NULL,
	started_at   INTEGER NOT NULL,
	completed_at INTEGER,
	error        TEXT NOT NULL DEFAULT '',
	total        INTEGER NOT NULL DEFAULT 0,
	success      INTEGER NOT NULL DEFAULT 0,
	pending      INTEGER NOT NULL DEFAULT 0,
	errored      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

CREATE TABLE IF NOT EXISTS results (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id              TEXT NOT NULL,
	receipt_id          TEXT NOT NULL,
	file_name           TEXT NOT NULL,
	status              TEXT NOT NULL,
	freee_wallet_txn_id INTEGER,
	freee_deal_id       INTEGER,
	freee_receipt_id    INTEGER,
	error               TEXT NOT NULL DEFAULT '',
	processed_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_processed ON results(processed_at DESC);
CREATE INDEX IF NOT EXISTS idx_results_run ON results(run_id);
`

// Store is a history.Store over database/sql. Timestamps are stored as Unix nanoseconds.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := MemoryPath
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("Open: create database directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("Open: open database: %w", err)
	}
	// A single connection keeps :memory: databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("Open: ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("Open: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveRun implements history.Store.
func (s *Store) SaveRun(ctx context.Context, run history.Run) error {
	if run.RunID == "" {
		return fmt.Errorf("SaveRun: run ID is required")
	}

	var completed sql.NullInt64
	if run.CompletedAt != nil {
		completed = sql.NullInt64{Int64: run.CompletedAt.UnixNano(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, trigger_name, status, started_at, completed_at, error, total, success, pending, errored)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			trigger_name = excluded.trigger_name,
			status = excluded.status,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			error = excluded.error,
			total = excluded.total,
			success = excluded.success,
			pending = excluded.pending,
			errored = excluded.errored`,
		run.RunID, string(run.Trigger), string(run.Status), run.StartedAt.UnixNano(), completed, run.Error,
		run.Summary.Total, run.Summary.Success, run.Summary.Pending, run.Summary.Error,
	)
	if err != nil {
		return fmt.Errorf("SaveRun: %w", err)
	}
	return nil
}

const runColumns = `run_id, trigger_name, status, started_at, completed_at, error, total, success, pending, errored`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (history.Run, error) {
	var (
		run       history.Run
		trigger   string
		status    string
		started   int64
		completed sql.NullInt64
	)
	err := row.Scan(&run.RunID, &trigger, &status, &started, &completed, &run.Error,
		&run.Summary.Total, &run.Summary.Success, &run.Summary.Pending, &run.Summary.Error)
	if err != nil {
		return history.Run{}, err
	}
	run.Trigger = history.Trigger(trigger)
	run.Status = history.RunStatus(status)
	run.StartedAt = time.Unix(0, started).UTC()
	if completed.Valid {
		t := time.Unix(0, completed.Int64).UTC()
		run.CompletedAt = &t
	}
	return run, nil
}

// GetRun implements history.Store.
func (s *Store) GetRun(ctx context.Context, runID string) (history.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return history.Run{}, fmt.Errorf("GetRun: run %s: %w", runID, history.ErrNotFound)
	}
	if err != nil {
		return history.Run{}, fmt.Errorf("GetRun: %w", err)
	}
	return run, nil
}

// ListRuns implements history.Store.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]history.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, run_id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListRuns: query: %w", err)
	}
	defer rows.Close()

	runs := []history.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("ListRuns: scan: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListRuns: rows: %w", err)
	}
	return runs, nil
}

// SaveResults implements history.Store. The batch is written in one transaction.
func (s *Store) SaveResults(ctx context.Context, runID string, results []domain.ProcessingResult) error {
	if runID == "" {
		return fmt.Errorf("SaveResults: run ID is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("SaveResults: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO results (run_id, receipt_id, file_name, status, freee_wallet_txn_id, freee_deal_id, freee_receipt_id, error, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("SaveResults: prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range results {
		_, err := stmt.ExecContext(ctx, runID, r.ReceiptID, r.FileName, string(r.Status),
			nullID(r.WalletTxnID), nullID(r.DealID), nullID(r.FreeeReceiptID), r.Error, r.ProcessedAt.UnixNano())
		if err != nil {
			return fmt.Errorf("SaveResults: insert %s: %w", r.ReceiptID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("SaveResults: commit: %w", err)
	}
	return nil
}

// ListResults implements history.Store.
func (s *Store) ListResults(ctx context.Context, filter history.Filter) ([]history.Record, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, filter.RunID)
	}

	query := `SELECT run_id, receipt_id, file_name, status, freee_wallet_txn_id, freee_deal_id, freee_receipt_id, error, processed_at FROM results`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY processed_at DESC, id DESC"
	// SQLite needs a LIMIT clause before OFFSET; -1 means unbounded.
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListResults: query: %w", err)
	}
	defer rows.Close()

	records := []history.Record{}
	for rows.Next() {
		var (
			rec                   history.Record
			status                string
			wallet, deal, receipt sql.NullInt64
			processed             int64
		)
		if err := rows.Scan(&rec.RunID, &rec.ReceiptID, &rec.FileName, &status,
			&wallet, &deal, &receipt, &rec.Error, &processed); err != nil {
			return nil, fmt.Errorf("ListResults: scan: %w", err)
		}
		rec.Status = domain.ResultStatus(status)
		rec.WalletTxnID = idPtr(wallet)
		rec.DealID = idPtr(deal)
		rec.FreeeReceiptID = idPtr(receipt)
		rec.ProcessedAt = time.Unix(0, processed).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListResults: rows: %w", err)
	}
	return records, nil
}

// Close implements history.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullID(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func idPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

var _ history.Store = (*Store)(nil)
