package ledger

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const defaultSweepInterval = 15 * time.Minute

// RunSweeper sweeps the ledger every interval until ctx is cancelled.
func RunSweeper(ctx context.Context, ledger Ledger, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := ledger.Sweep(ctx)
			if err != nil {
				logger.Warn("ledger sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("ledger sweep reclaimed entries", zap.Int64("removed", removed))
			}
		}
	}
}
