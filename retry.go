package hivesync

import (
	"context"
	"fmt"
	"time"

	syncErrors "github.com/hivemark/hivesync/errors"
	"github.com/hivemark/hivesync/logging"
)

// RetryPolicy bounds how often a failed sync cycle is reattempted.
// The delay is fixed, not exponential: cycles are cheap, the common
// failure is a flaky field connection, and the coordinator already
// rate-limits how often cycles start.
type RetryPolicy struct {
	// MaxRetries is the number of reattempts after the first failure,
	// so a cycle runs at most MaxRetries+1 times.
	MaxRetries int

	// Delay is the pause between attempts.
	Delay time.Duration

	// Sleep is swapped out by tests; nil means time.Sleep via a
	// context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy matches the shipped configuration defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, Delay: 5 * time.Second}
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Execute runs fn until it succeeds or the policy gives up, returning
// the number of attempts made. Between attempts it waits the fixed
// delay and re-checks connectivity: a device that has gone offline
// aborts immediately with KindOffline instead of burning attempts on
// requests that cannot succeed. Errors the taxonomy marks
// non-retryable also abort immediately.
func (p RetryPolicy) Execute(ctx context.Context, online Connectivity, logger *logging.Logger, fn func(context.Context) error) (int, error) {
	if logger == nil {
		logger = logging.Default()
	}

	attempts := 0
	for {
		attempts++
		err := fn(ctx)
		if err == nil {
			return attempts, nil
		}
		if !syncErrors.IsRetryable(err) {
			return attempts, err
		}
		if attempts > p.MaxRetries {
			return attempts, fmt.Errorf("sync failed after %d attempts: %w", attempts, err)
		}

		logger.Warn("sync attempt failed, retrying",
			"attempt", attempts,
			"max_retries", p.MaxRetries,
			"delay", p.Delay,
			"error", err,
		)
		if serr := p.sleep(ctx, p.Delay); serr != nil {
			return attempts, serr
		}
		if online != nil && !online.IsOnline() {
			return attempts, syncErrors.NewOfflineError(syncErrors.OpSync,
				fmt.Errorf("device went offline after attempt %d: %w", attempts, err))
		}
	}
}
