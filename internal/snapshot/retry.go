package snapshot

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pagesnap/internal/metrics"
)

// RetryConfig bounds the navigation retry loop.
type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryConfig mirrors the three attempt, two second budget.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		Delay:       2 * time.Second,
	}
}

// navigateWithRetry drives Pending(n) -> Loaded | Failed. It returns the number
// of attempts made and the last navigation error once the budget is exhausted.
func navigateWithRetry(
	ctx context.Context,
	navigate func(context.Context) error,
	cfg RetryConfig,
	clock Clock,
	logger *zap.Logger,
) (int, error) {
	retriesLeft := cfg.MaxAttempts
	if retriesLeft <= 0 {
		retriesLeft = 1
	}
	attempts := 0
	for {
		attempts++
		err := navigate(ctx)
		if err == nil {
			metrics.ObserveNavigationAttempt(metrics.OutcomeSuccess)
			logger.Info("Page loaded successfully", zap.Int("attempt", attempts))
			return attempts, nil
		}
		metrics.ObserveNavigationAttempt(metrics.OutcomeFailure)
		logger.Warn("Navigation failed",
			zap.Int("retries_left", retriesLeft),
			zap.Int("attempt", attempts),
			zap.Error(err),
		)

		if retriesLeft <= 1 {
			return attempts, fmt.Errorf("%w after %d attempts: %w", ErrNavigation, attempts, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempts, fmt.Errorf("%w: %w", ErrNavigation, ctxErr)
		}
		retriesLeft--
		if sleepErr := clock.Sleep(ctx, cfg.Delay); sleepErr != nil {
			return attempts, fmt.Errorf("%w: retry wait: %w", ErrNavigation, sleepErr)
		}
	}
}
