package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/receipt-flow/internal/app"
	"github.com/dvloznov/receipt-flow/internal/config"
	"github.com/dvloznov/receipt-flow/internal/domain"
	"github.com/dvloznov/receipt-flow/internal/freee"
	"github.com/dvloznov/receipt-flow/internal/history"
	"github.com/dvloznov/receipt-flow/internal/logger"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "process":
		runProcess(log)
	case "results":
		runResults(log)
	case "runs":
		runRuns(log)
	case "attach":
		runAttach(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("receipt-flow CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  process      Process every pending receipt once and print the results as JSON")
	fmt.Println("  results      List stored processing results")
	fmt.Println("  runs         List stored batch runs")
	fmt.Println("  attach       Attach uploaded receipts to an existing deal")
	fmt.Println("  help         Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runProcess(log zerolog.Logger) {
	fs := flag.NewFlagSet("process", flag.ExitOnError)
	timeout := fs.Duration("timeout", 30*time.Minute, "Stop starting new receipts after this duration")
	fs.Parse(os.Args[2:])

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log = log.Level(logger.ParseLevel(cfg.LogLevel))

	ctx := logger.WithContext(context.Background(), log)

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize adapters")
	}
	defer a.Close()

	// The deadline only takes effect between receipts.
	batchCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	run, runErr := a.Runner.Run(batchCtx, history.TriggerCLI)
	records, err := a.Store.ListResults(ctx, history.Filter{RunID: run.RunID})
	if err != nil {
		log.Error().Err(err).Msg("Failed to read results")
	}

	if err := printJSON(map[string]interface{}{"run": run, "results": records}); err != nil {
		log.Error().Err(err).Msg("Failed to write output")
	}
	if runErr != nil {
		a.Close()
		os.Exit(1)
	}
}

func openHistory(log zerolog.Logger) (context.Context, history.Store) {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx := logger.WithContext(context.Background(), log)
	store, err := app.OpenHistory(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open history")
	}
	return ctx, store
}

func runResults(log zerolog.Logger) {
	fs := flag.NewFlagSet("results", flag.ExitOnError)
	status := fs.String("status", "", "Filter by status (success, pending, error)")
	runID := fs.String("run-id", "", "Filter by run ID")
	limit := fs.Int("limit", 50, "Maximum number of results")
	offset := fs.Int("offset", 0, "Number of results to skip")
	fs.Parse(os.Args[2:])

	ctx, store := openHistory(log)
	defer store.Close()

	records, err := store.ListResults(ctx, history.Filter{
		Status: domain.ResultStatus(*status),
		RunID:  *runID,
		Limit:  *limit,
		Offset: *offset,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list results")
	}

	if len(records) == 0 {
		fmt.Println("No results found.")
		return
	}

	fmt.Printf("\n=== Results (%d) ===\n", len(records))
	for i, rec := range records {
		fmt.Printf("\n%d. %s (%s)\n", i+1, rec.FileName, rec.ReceiptID)
		fmt.Printf("   Status:    %s\n", rec.Status)
		fmt.Printf("   Run:       %s\n", rec.RunID)
		fmt.Printf("   Processed: %s\n", rec.ProcessedAt.Format(time.RFC3339))
		if rec.DealID != nil {
			fmt.Printf("   Deal:      %d\n", *rec.DealID)
		}
		if rec.Error != "" {
			fmt.Printf("   Error:     %s\n", rec.Error)
		}
	}
	fmt.Println()
}

func runRuns(log zerolog.Logger) {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	limit := fs.Int("limit", 20, "Maximum number of runs")
	fs.Parse(os.Args[2:])

	ctx, store := openHistory(log)
	defer store.Close()

	runs, err := store.ListRuns(ctx, *limit)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list runs")
	}
	if err := printJSON(runs); err != nil {
		log.Fatal().Err(err).Msg("Failed to write output")
	}
}

func runAttach(log zerolog.Logger) {
	fs := flag.NewFlagSet("attach", flag.ExitOnError)
	dealID := fs.Int64("deal", 0, "Deal ID (required)")
	receipts := fs.String("receipts", "", "Comma-separated receipt IDs (required)")
	fs.Parse(os.Args[2:])

	if *dealID == 0 || *receipts == "" {
		fmt.Fprintln(os.Stderr, "Error: -deal and -receipts are required")
		fs.Usage()
		os.Exit(1)
	}
	receiptIDs, err := parseIDs(*receipts)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid -receipts")
	}

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx := logger.WithContext(context.Background(), log)
	client, err := freee.NewClient(ctx, freee.Config{
		ClientID:     cfg.FreeeClientID,
		ClientSecret: cfg.FreeeClientSecret,
		CompanyID:    cfg.FreeeCompanyID,
		TokenPath:    cfg.FreeeTokenPath,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create freee client")
	}

	if err := client.AttachReceipt(ctx, *dealID, receiptIDs); err != nil {
		log.Fatal().Err(err).Msg("Failed to attach receipts")
	}
	fmt.Printf("Attached %d receipt(s) to deal %d\n", len(receiptIDs), *dealID)
}

func parseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse receipt ID %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
