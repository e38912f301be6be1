package snapshot

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SettleStrategy selects how the extractor waits for client-side rendering.
type SettleStrategy string

// Supported settle strategies.
const (
	// SettleFixed sleeps for the full settle delay.
	SettleFixed SettleStrategy = "fixed"
	// SettleQuiescent polls the document size until it stops changing, bounded
	// by the settle delay.
	SettleQuiescent SettleStrategy = "quiescent"
)

// SettleConfig configures the post-navigation wait.
type SettleConfig struct {
	Strategy     SettleStrategy
	Delay        time.Duration
	PollInterval time.Duration
	QuietPeriod  time.Duration
}

// DefaultSettleConfig waits a fixed three seconds.
func DefaultSettleConfig() SettleConfig {
	return SettleConfig{
		Strategy:     SettleFixed,
		Delay:        3 * time.Second,
		PollInterval: 250 * time.Millisecond,
		QuietPeriod:  500 * time.Millisecond,
	}
}

const documentSizeScript = `document.documentElement ? document.documentElement.innerHTML.length : 0`

func settle(ctx context.Context, session Session, cfg SettleConfig, clock Clock, logger *zap.Logger) error {
	if cfg.Strategy == SettleQuiescent && cfg.PollInterval > 0 {
		return settleQuiescent(ctx, session, cfg, clock, logger)
	}
	if err := clock.Sleep(ctx, cfg.Delay); err != nil {
		return fmt.Errorf("settle: %w", err)
	}
	return nil
}

func settleQuiescent(ctx context.Context, session Session, cfg SettleConfig, clock Clock, logger *zap.Logger) error {
	start := clock.Now()
	deadline := start.Add(cfg.Delay)
	quietSince := start
	last := -1
	polls := 0
	for {
		var size int
		if err := session.Evaluate(ctx, documentSizeScript, &size); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("settle: %w", ctxErr)
			}
			logger.Debug("Document size check failed; ending settle early", zap.Error(err))
			return nil
		}
		polls++
		now := clock.Now()
		if size != last {
			last = size
			quietSince = now
		} else if now.Sub(quietSince) >= cfg.QuietPeriod {
			logger.Debug("Document quiescent",
				zap.Int("polls", polls),
				zap.Duration("elapsed", now.Sub(start)),
			)
			return nil
		}
		if !now.Before(deadline) {
			logger.Debug("Settle bound reached before quiescence", zap.Int("polls", polls))
			return nil
		}
		if err := clock.Sleep(ctx, cfg.PollInterval); err != nil {
			return fmt.Errorf("settle: %w", err)
		}
	}
}
