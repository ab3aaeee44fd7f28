// Package retry runs fallible operations with bounded, classified backoff.
package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/dvloznov/receipt-flow/internal/logger"
	"google.golang.org/api/googleapi"
)

// ErrRateLimited can be wrapped by adapters that detect a rate-limit response
// without an HTTP status, so that the failure is retried.
var ErrRateLimited = errors.New("rate limit exceeded")

// Config controls retry behaviour.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// Backoff is the wait before each retry; the last entry repeats.
	Backoff []time.Duration
	// RetryableErrors are matched with errors.Is.
	RetryableErrors []error
	// Sleep waits between attempts. Nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultConfig returns 3 retries with 1s, 2s, 4s backoff.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		Backoff:    []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second},
		RetryableErrors: []error{
			syscall.ETIMEDOUT,
			syscall.ECONNRESET,
			syscall.ECONNREFUSED,
			ErrRateLimited,
		},
	}
}

// Do calls op until it succeeds, fails with a non-retryable error, or has been
// attempted MaxRetries+1 times. The last error is returned unchanged.
func Do[T any](ctx context.Context, cfg Config, name string, op func(ctx context.Context) (T, error)) (T, error) {
	log := logger.FromContext(ctx)
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var zero T
	for attempt := 0; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		if attempt >= cfg.MaxRetries {
			log.Error().Err(err).Int("attempt", attempt).Str("operation", name).Msg("operation failed after all retries")
			return zero, err
		}

		if ctx.Err() != nil || !IsRetryable(err, cfg) {
			log.Error().Err(err).Str("operation", name).Msg("operation failed with non-retryable error")
			return zero, err
		}

		wait := backoffFor(cfg.Backoff, attempt)
		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Str("operation", name).
			Msg("operation failed, retrying")

		if serr := sleep(ctx, wait); serr != nil {
			return zero, err
		}
	}
}

// Run is Do for operations without a result.
func Run(ctx context.Context, cfg Config, name string, op func(ctx context.Context) error) error {
	_, err := Do(ctx, cfg, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// IsRetryable classifies err as transient: a configured transport error, a DNS
// lookup failure, a network timeout, an HTTP 429, or a rate-limit message.
func IsRetryable(err error, cfg Config) bool {
	if err == nil {
		return false
	}

	for _, target := range cfg.RetryableErrors {
		if errors.Is(err, target) {
			return true
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var sc interface{ StatusCode() int }
	if errors.As(err, &sc) && sc.StatusCode() == http.StatusTooManyRequests {
		return true
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) && gErr.Code == http.StatusTooManyRequests {
		return true
	}

	msg := err.Error()
	if strings.Contains(strings.ToLower(msg), "rate limit") {
		return true
	}
	return strings.Contains(msg, "429")
}

func backoffFor(schedule []time.Duration, attempt int) time.Duration {
	if len(schedule) == 0 {
		return 0
	}
	if attempt >= len(schedule) {
		return schedule[len(schedule)-1]
	}
	return schedule[attempt]
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
