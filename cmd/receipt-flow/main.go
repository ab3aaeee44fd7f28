package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/receipt-flow/internal/api"
	"github.com/dvloznov/receipt-flow/internal/app"
	"github.com/dvloznov/receipt-flow/internal/config"
	"github.com/dvloznov/receipt-flow/internal/history"
	"github.com/dvloznov/receipt-flow/internal/logger"
	"github.com/dvloznov/receipt-flow/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.NewWithLevel(cfg.LogLevel)
	log.Info().Msg("Starting receipt-flow")

	ctx := logger.WithContext(context.Background(), log)

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize adapters")
	}
	defer a.Close()

	// Initial run
	log.Info().Msg("Running initial processing")
	if _, err := a.Runner.Trigger(ctx, history.TriggerStartup); err != nil {
		log.Error().Err(err).Msg("Initial processing could not start")
	}

	sched := scheduler.New(a.Runner, log)
	if err := sched.Schedule(ctx, cfg.CronSchedule); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule processing")
	}
	sched.Start()

	var server *api.Server
	if cfg.APIPort > 0 {
		server = api.New(api.Config{Port: cfg.APIPort, Log: log, Store: a.Store, Runner: a.Runner})
		go func() {
			if err := server.Start(); err != nil {
				log.Error().Err(err).Msg("API server stopped")
			}
		}()
	}

	log.Info().Str("schedule", cfg.CronSchedule).Msg("receipt-flow is running. Press Ctrl+C to stop.")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			log.Error().Err(err).Msg("API server forced to shutdown")
		}
		cancel()
	}

	// No new batches start; the running one finishes its current receipt list.
	sched.Stop()

	log.Info().Msg("receipt-flow exited")
}
