// Package config loads process configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Inbox backends.
const (
	InboxDrive = "drive"
	InboxGCS   = "gcs"
)

// History backends.
const (
	HistoryMemory   = "memory"
	HistorySQLite   = "sqlite"
	HistoryBigQuery = "bigquery"
)

// Config holds application configuration
type Config struct {
	GoogleClientID          string
	GoogleClientSecret      string
	GooglePendingFolderID   string
	GoogleProcessedFolderID string
	GoogleTokenPath         string

	GeminiAPIKey string
	GeminiModel  string

	FreeeClientID     string
	FreeeClientSecret string
	FreeeCompanyID    int64
	FreeeTokenPath    string

	InboxBackend       string
	GCSBucket          string
	GCSPendingPrefix   string
	GCSProcessedPrefix string

	HistoryBackend    string
	HistorySQLitePath string
	BigQueryProject   string
	BigQueryDataset   string

	CronSchedule string
	ItemDelay    time.Duration
	APIPort      int // 0 disables the API server
	LogLevel     string
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first if present; real environment wins.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv reads the environment without validating required fields.
func FromEnv() (*Config, error) {
	var parseErrs []error

	companyID, err := getEnvAsInt64("FREEE_COMPANY_ID", 0)
	parseErrs = append(parseErrs, err)
	itemDelay, err := getEnvAsDuration("ITEM_DELAY", time.Second)
	parseErrs = append(parseErrs, err)
	port, err := getEnvAsInt("API_PORT", 8080)
	parseErrs = append(parseErrs, err)

	if err := errors.Join(parseErrs...); err != nil {
		return nil, err
	}

	return &Config{
		GoogleClientID:          getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:      getEnv("GOOGLE_CLIENT_SECRET", ""),
		GooglePendingFolderID:   getEnv("GOOGLE_PENDING_FOLDER_ID", ""),
		GoogleProcessedFolderID: getEnv("GOOGLE_PROCESSED_FOLDER_ID", ""),
		GoogleTokenPath:         getEnv("GOOGLE_TOKEN_PATH", "./tokens/google-token.json"),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),

		FreeeClientID:     getEnv("FREEE_CLIENT_ID", ""),
		FreeeClientSecret: getEnv("FREEE_CLIENT_SECRET", ""),
		FreeeCompanyID:    companyID,
		FreeeTokenPath:    getEnv("FREEE_TOKEN_PATH", "./tokens/freee-token.json"),

		InboxBackend:       strings.ToLower(getEnv("INBOX_BACKEND", InboxDrive)),
		GCSBucket:          getEnv("GCS_BUCKET", ""),
		GCSPendingPrefix:   getEnv("GCS_PENDING_PREFIX", "pending/"),
		GCSProcessedPrefix: getEnv("GCS_PROCESSED_PREFIX", "processed/"),

		HistoryBackend:    strings.ToLower(getEnv("HISTORY_BACKEND", HistorySQLite)),
		HistorySQLitePath: getEnv("HISTORY_SQLITE_PATH", "./data/history.db"),
		BigQueryProject:   getEnv("BIGQUERY_PROJECT", ""),
		BigQueryDataset:   getEnv("BIGQUERY_DATASET", "receipt_flow"),

		CronSchedule: getEnv("CRON_SCHEDULE", "0 * * * *"),
		ItemDelay:    itemDelay,
		APIPort:      port,
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}, nil
}

// Validate checks if required configuration is present. Every missing
// variable is reported, not just the first.
func (c *Config) Validate() error {
	var errs []error
	require := func(name, value string) {
		if value == "" {
			errs = append(errs, fmt.Errorf("missing required environment variable: %s", name))
		}
	}

	require("GEMINI_API_KEY", c.GeminiAPIKey)
	require("FREEE_CLIENT_ID", c.FreeeClientID)
	require("FREEE_CLIENT_SECRET", c.FreeeClientSecret)
	if c.FreeeCompanyID <= 0 {
		errs = append(errs, fmt.Errorf("missing required environment variable: FREEE_COMPANY_ID"))
	}

	switch c.InboxBackend {
	case InboxDrive:
		require("GOOGLE_CLIENT_ID", c.GoogleClientID)
		require("GOOGLE_CLIENT_SECRET", c.GoogleClientSecret)
		require("GOOGLE_PENDING_FOLDER_ID", c.GooglePendingFolderID)
		require("GOOGLE_PROCESSED_FOLDER_ID", c.GoogleProcessedFolderID)
	case InboxGCS:
		require("GCS_BUCKET", c.GCSBucket)
		if c.GCSPendingPrefix == c.GCSProcessedPrefix {
			errs = append(errs, fmt.Errorf("GCS_PENDING_PREFIX and GCS_PROCESSED_PREFIX must differ"))
		}
	default:
		errs = append(errs, fmt.Errorf("INBOX_BACKEND must be %q or %q, got %q", InboxDrive, InboxGCS, c.InboxBackend))
	}

	switch c.HistoryBackend {
	case HistoryMemory:
	case HistorySQLite:
		require("HISTORY_SQLITE_PATH", c.HistorySQLitePath)
	case HistoryBigQuery:
		require("BIGQUERY_PROJECT", c.BigQueryProject)
		require("BIGQUERY_DATASET", c.BigQueryDataset)
	default:
		errs = append(errs, fmt.Errorf("HISTORY_BACKEND must be one of memory, sqlite, bigquery, got %q", c.HistoryBackend))
	}

	if _, err := cron.ParseStandard(c.CronSchedule); err != nil {
		errs = append(errs, fmt.Errorf("CRON_SCHEDULE %q: %w", c.CronSchedule, err))
	}
	if c.ItemDelay < 0 {
		errs = append(errs, fmt.Errorf("ITEM_DELAY must not be negative"))
	}
	if c.APIPort < 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("API_PORT out of range: %d", c.APIPort))
	}

	return errors.Join(errs...)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, value)
	}
	return intVal, nil
}

func getEnvAsInt64(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	intVal, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, value)
	}
	return intVal, nil
}

// Durations accept Go syntax ("1s", "500ms") or a bare number of milliseconds.
func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, value)
	}
	return d, nil
}
