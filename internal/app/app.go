// Package app wires configured adapters into a processor, history store and
// batch runner.
package app

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/dvloznov/receipt-flow/internal/accounts"
	"github.com/dvloznov/receipt-flow/internal/config"
	"github.com/dvloznov/receipt-flow/internal/drive"
	"github.com/dvloznov/receipt-flow/internal/freee"
	"github.com/dvloznov/receipt-flow/internal/gcsinbox"
	"github.com/dvloznov/receipt-flow/internal/gemini"
	"github.com/dvloznov/receipt-flow/internal/history"
	bqhistory "github.com/dvloznov/receipt-flow/internal/history/bigquery"
	"github.com/dvloznov/receipt-flow/internal/history/inmemory"
	"github.com/dvloznov/receipt-flow/internal/history/sqlite"
	"github.com/dvloznov/receipt-flow/internal/logger"
	"github.com/dvloznov/receipt-flow/internal/pipeline"
	"github.com/dvloznov/receipt-flow/internal/scheduler"
)

// App holds the initialised adapters for one process.
type App struct {
	Processor *pipeline.Processor
	Store     history.Store
	Runner    *scheduler.Runner

	closers []func() error
}

// New initialises every adapter. Any failure here is fatal for the process;
// resources opened before the failure are released.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{}
	if err := a.init(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, cfg *config.Config) error {
	log := logger.Component(logger.FromContext(ctx), "app")

	inbox, err := a.newInbox(ctx, cfg)
	if err != nil {
		return err
	}

	gem, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return fmt.Errorf("New: gemini: %w", err)
	}

	accounting, err := freee.NewClient(ctx, freee.Config{
		ClientID:     cfg.FreeeClientID,
		ClientSecret: cfg.FreeeClientSecret,
		CompanyID:    cfg.FreeeCompanyID,
		TokenPath:    cfg.FreeeTokenPath,
	})
	if err != nil {
		return fmt.Errorf("New: freee: %w", err)
	}

	store, err := OpenHistory(ctx, cfg)
	if err != nil {
		return err
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)

	// The account cache lives as long as the process and is shared by every batch.
	resolver := accounts.NewResolver(accounting, nil)

	a.Processor = pipeline.NewProcessor(inbox, gem, gem, accounting, resolver, pipeline.Options{
		CompanyID: cfg.FreeeCompanyID,
		ItemDelay: cfg.ItemDelay,
	})
	a.Runner = scheduler.NewRunner(a.Processor, store)

	log.Info().
		Str("inbox", cfg.InboxBackend).
		Str("history", cfg.HistoryBackend).
		Str("model", cfg.GeminiModel).
		Int64("company_id", cfg.FreeeCompanyID).
		Msg("Adapters initialised")
	return nil
}

func (a *App) newInbox(ctx context.Context, cfg *config.Config) (pipeline.Inbox, error) {
	switch cfg.InboxBackend {
	case config.InboxGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("New: storage client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return gcsinbox.New(client, gcsinbox.Config{
			Bucket:          cfg.GCSBucket,
			PendingPrefix:   cfg.GCSPendingPrefix,
			ProcessedPrefix: cfg.GCSProcessedPrefix,
		}), nil
	default:
		ts, err := drive.TokenSource(ctx, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleTokenPath)
		if errors.Is(err, drive.ErrTokenNotFound) {
			return nil, fmt.Errorf("New: %w (create the token file before starting)", err)
		}
		if err != nil {
			return nil, fmt.Errorf("New: drive token: %w", err)
		}
		inbox, err := drive.New(ctx, drive.Config{
			PendingFolderID:   cfg.GooglePendingFolderID,
			ProcessedFolderID: cfg.GoogleProcessedFolderID,
		}, option.WithTokenSource(ts))
		if err != nil {
			return nil, fmt.Errorf("New: drive: %w", err)
		}
		return inbox, nil
	}
}

// OpenHistory opens the configured history backend.
func OpenHistory(ctx context.Context, cfg *config.Config) (history.Store, error) {
	switch cfg.HistoryBackend {
	case config.HistoryMemory:
		return inmemory.NewStore(), nil
	case config.HistoryBigQuery:
		store, err := bqhistory.New(ctx, cfg.BigQueryProject, cfg.BigQueryDataset)
		if err != nil {
			return nil, fmt.Errorf("OpenHistory: %w", err)
		}
		if err := store.EnsureTables(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("OpenHistory: %w", err)
		}
		return store, nil
	case config.HistorySQLite:
		store, err := sqlite.Open(ctx, cfg.HistorySQLitePath)
		if err != nil {
			return nil, fmt.Errorf("OpenHistory: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("OpenHistory: unknown backend %q", cfg.HistoryBackend)
	}
}

// Close releases adapters in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
