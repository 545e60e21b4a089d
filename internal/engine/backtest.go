package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"polymarket-trader/internal/feed"
	"polymarket-trader/pkg/clock"
	"polymarket-trader/pkg/types"
)

// runBacktest replays the persisted tape through the same handlers the
// live loops use. Wall-clock pacing follows the recorded gaps divided
// by BacktestSpeed; domain time follows the tape itself via the fake
// clock, so cooldowns, quote lifetimes and the feed-lag breaker see
// the recorded timeline instead of the replay wall clock.
func (e *Engine) runBacktest(ctx context.Context) error {
	fc, ok := e.clock.(*clock.Fake)
	if !ok {
		return fmt.Errorf("backtest requires a fake clock")
	}

	speed := e.cfg.BacktestSpeed
	startTS := e.cfg.BacktestStartTS
	endTS := e.cfg.BacktestEndTS

	e.logger.Info("backtest-starting",
		zap.Float64("speed", speed),
		zap.Float64("start-ts", startTS),
		zap.Float64("end-ts", endTS))

	var (
		records    int
		fills0     = e.portfolio.TotalRealized()
		prevTS     float64
		lastSnapTS float64
		haveTS     bool
	)

	err := e.store.IterTape(ctx, startTS, endTS, func(rec *types.TapeRecord) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if haveTS && rec.TS > prevTS && speed > 0 {
			dt := time.Duration((rec.TS - prevTS) / speed * float64(time.Second))
			if dt > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(dt):
				}
			}
		}
		prevTS = rec.TS
		haveTS = true

		fc.Set(rec.TS)
		e.ensureMarket(rec.MarketID)

		ev, err := eventFromTape(rec)
		if err != nil {
			e.logger.Warn("tape-record-skipped",
				zap.String("market-id", rec.MarketID),
				zap.String("kind", rec.Kind),
				zap.Error(err))
			return nil
		}
		records++

		e.handleFeedEvent(ctx, ev)
		e.evaluateMarket(ctx, rec.MarketID)

		// Periodic work keyed to tape time, not wall time.
		if rec.TS-lastSnapTS >= 1.0 {
			e.persistSnapshots(ctx)
			lastSnapTS = rec.TS
		}
		e.unwindOnce(ctx)

		return nil
	})
	if err != nil {
		return fmt.Errorf("replay tape: %w", err)
	}

	e.persistSnapshots(ctx)

	e.logger.Info("backtest-done",
		zap.Int("records", records),
		zap.Float64("realized-pnl", e.portfolio.TotalRealized()-fills0),
		zap.Int("open-positions", e.portfolio.OpenCount()))
	return nil
}

// ensureMarket registers a placeholder for markets seen only on the
// tape, so event attribution and strategies have metadata to work with.
func (e *Engine) ensureMarket(marketID string) {
	e.state.mu.Lock()
	defer e.state.mu.Unlock()

	if _, ok := e.state.markets[marketID]; ok {
		return
	}
	e.state.markets[marketID] = types.MarketInfo{
		MarketID: marketID,
		Question: "tape:" + marketID,
		EventID:  "event:" + marketID,
		Active:   true,
	}
	e.state.ranked = append(e.state.ranked, marketID)
}

func eventFromTape(rec *types.TapeRecord) (feed.Event, error) {
	switch rec.Kind {
	case types.TapeKindTOB:
		tob, err := types.DecodeTOBPayload(rec.Payload)
		if err != nil {
			return nil, err
		}
		return &feed.BookEvent{Market: rec.MarketID, TOB: tob}, nil
	case types.TapeKindTrade:
		trade, err := types.DecodeTradePayload(rec.Payload)
		if err != nil {
			return nil, err
		}
		if trade.MarketID == "" {
			trade.MarketID = rec.MarketID
		}
		return &feed.TradeEvent{Trade: trade}, nil
	default:
		return nil, fmt.Errorf("unknown tape kind %q", rec.Kind)
	}
}
