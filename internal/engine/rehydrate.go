package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"polymarket-trader/internal/portfolio"
)

// rehydratePaperState either wipes or restores paper trading state at
// startup. Reset wins over rehydration when both are set.
func (e *Engine) rehydratePaperState(ctx context.Context) error {
	if e.cfg.PaperResetOnStart {
		if err := e.store.ClearTradingState(ctx); err != nil {
			return fmt.Errorf("clear trading state: %w", err)
		}
		e.logger.Warn("paper-state-reset")
		return nil
	}

	if !e.cfg.PaperRehydrate {
		return nil
	}

	snaps, err := e.store.LatestPositions(ctx, 5000)
	if err != nil {
		return fmt.Errorf("load position snapshots: %w", err)
	}

	now := e.clock.Now()
	restored := 0
	for _, snap := range snaps {
		if snap.Position == 0 && snap.RealizedPnL == 0 {
			continue
		}

		pos := portfolio.Position{
			MarketID:    snap.MarketID,
			EventID:     snap.EventID,
			Qty:         snap.Position,
			AvgPrice:    snap.AvgPrice,
			RealizedPnL: snap.RealizedPnL,
			LastMark:    snap.MarkPrice,
		}
		// The true opening time is not persisted; age-based unwind
		// restarts from now for restored open positions.
		if snap.Position != 0 {
			pos.OpenedTS = now
		}
		e.portfolio.Restore(pos)
		restored++
	}

	if restored > 0 {
		e.logger.Info("paper-state-rehydrated",
			zap.Int("positions", restored),
			zap.Int("open", e.portfolio.OpenCount()),
			zap.Float64("realized-pnl", e.portfolio.TotalRealized()))
	}
	return nil
}
