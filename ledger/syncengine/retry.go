package syncengine

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/groupledger/groupledger/ledger"
)

const (
	defaultMaxAttempts  = 3
	defaultBaseDelay    = 100 * time.Millisecond
	defaultJitterFactor = 0.3
)

var ErrInvalidMaxAttempts = errors.New("max attempts must be positive")
var ErrNegativeBaseDelay = errors.New("base delay must not be negative")

// retryConfig holds the backoff parameters for backend I/O inside a tick.
type retryConfig struct {
	maxAttempts  int
	baseDelay    time.Duration
	jitterFactor float64
}

func defaultRetryConfig() retryConfig {
	return retryConfig{
		maxAttempts:  defaultMaxAttempts,
		baseDelay:    defaultBaseDelay,
		jitterFactor: defaultJitterFactor,
	}
}

// retryBackendOp executes fn with exponential backoff, retrying only
// transient backend failures (ledger.ErrBackendUnavailable). Anything else
// fails fast. Exhausted retries surface the last error; the tick logs it and
// moves on, the next tick is the real retry.
func retryBackendOp(ctx context.Context, config retryConfig, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < config.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := config.baseDelay * time.Duration(1<<(attempt-1))
			jitter := rand.Float64() * float64(delay) * config.jitterFactor //nolint:gosec //math/rand is sufficient for jitter
			backoffDelay := delay + time.Duration(jitter)

			select {
			case <-time.After(backoffDelay):
			case <-ctx.Done():
				return errors.Join(ledger.ErrBackendUnavailable, ctx.Err())
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if !errors.Is(lastErr, ledger.ErrBackendUnavailable) {
			return lastErr
		}
	}

	return lastErr
}
