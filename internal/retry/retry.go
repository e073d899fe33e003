// Package retry provides exponential-backoff retries for transient
// failures. Whether an error is transient is decided by the categorized
// error taxonomy, not by string matching.
package retry

import (
	"context"
	"math"
	"time"

	apperrors "github.com/chain-ledger/internal/errors"
	"github.com/chain-ledger/internal/logging"
)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts includes the first try.
	MaxAttempts int
	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
	// Multiplier grows the delay between attempts.
	Multiplier float64
}

// DefaultConfig retries up to 5 times: 1s, 2s, 4s, 8s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
	}
}

// Func is one attempt of the operation under retry.
type Func func(ctx context.Context) error

// Do executes fn, retrying transient failures with exponential backoff.
// Permanent errors (parse, validation, tax) return immediately. The last
// error is returned when all attempts fail or the context is cancelled.
func Do(ctx context.Context, cfg Config, fn Func) error {
	logger := logging.FromContext(ctx)

	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				logger.WithField("attempts", attempt).Info("Operation succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if !apperrors.IsRetryable(err) {
			return err
		}
		if attempt >= cfg.MaxAttempts {
			break
		}

		delay := backoffDelay(cfg, attempt)
		logger.WithFields(map[string]interface{}{
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   err.Error(),
		}).Warn("Operation failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return lastErr
}

func backoffDelay(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if max := float64(cfg.MaxDelay); cfg.MaxDelay > 0 && delay > max {
		delay = max
	}
	return time.Duration(delay)
}
