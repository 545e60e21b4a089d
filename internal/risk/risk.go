// Package risk gates every order before it reaches a broker. Checks
// are stateless given config and evaluated in a fixed order; the first
// failing rule decides the rejection reason.
package risk

import (
	"math"
	"sync"

	"go.uber.org/zap"

	"polymarket-trader/internal/portfolio"
	"polymarket-trader/pkg/clock"
	"polymarket-trader/pkg/config"
	"polymarket-trader/pkg/pricing"
	"polymarket-trader/pkg/types"
)

// Rejection reasons.
const (
	ReasonBadSize          = "bad_size"
	ReasonBadPrice         = "bad_price"
	ReasonNoTopOfBook      = "no_top_of_book"
	ReasonFeedLag          = "feed_lag"
	ReasonCrossedBook      = "crossed_book"
	ReasonSpreadTooWide    = "spread_too_wide"
	ReasonMaxOpenPositions = "max_open_positions"
	ReasonKillSwitch       = "kill_switch"
	ReasonMaxPosPerMarket  = "max_pos_per_market"
	ReasonMaxEventExposure = "max_event_exposure"
	ReasonDailyLossLimit   = "daily_loss_limit"
)

// rejectLogInterval throttles duplicate rejection logs per
// (market, side, reason). The decision itself is never throttled.
const rejectLogInterval = 5.0

// Result is the outcome of a pre-trade check. Reason is empty when OK.
type Result struct {
	OK     bool
	Reason string
}

func pass() Result { return Result{OK: true} }

func reject(reason string) Result { return Result{OK: false, Reason: reason} }

type throttleKey struct {
	marketID string
	side     types.Side
	reason   string
}

// Engine evaluates pre-trade risk rules and circuit breakers.
type Engine struct {
	cfg    *config.Config
	clock  clock.Clock
	logger *zap.Logger

	mu      sync.Mutex
	lastLog map[throttleKey]float64
}

// Config holds risk engine configuration.
type Config struct {
	Cfg    *config.Config
	Clock  clock.Clock
	Logger *zap.Logger
}

// New creates a risk engine.
func New(cfg *Config) *Engine {
	return &Engine{
		cfg:     cfg.Cfg,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		lastLog: make(map[throttleKey]float64),
	}
}

// PreTradeCheck applies all rules in order against the candidate
// order. Reduce-only orders bypass the open-position cap, the kill
// switch, the per-market position cap and the daily loss limit, so a
// tripped breaker can never trap an open position.
func (e *Engine) PreTradeCheck(marketID, eventID string, side types.Side, price, size float64, tob *types.TopOfBook, pf *portfolio.Portfolio) Result {
	res := e.check(marketID, eventID, side, price, size, tob, pf)
	if !res.OK {
		RejectionsTotal.WithLabelValues(res.Reason).Inc()
		e.logReject(marketID, side, res.Reason, price, size)
	}
	return res
}

func (e *Engine) check(marketID, eventID string, side types.Side, price, size float64, tob *types.TopOfBook, pf *portfolio.Portfolio) Result {
	if size <= 0 {
		return reject(ReasonBadSize)
	}
	if price < 0 || price > 1 {
		return reject(ReasonBadPrice)
	}

	// Circuit breakers.
	if tob == nil {
		return reject(ReasonNoTopOfBook)
	}
	if e.clock.Now()-tob.TS > e.cfg.MaxFeedLagSecs {
		return reject(ReasonFeedLag)
	}
	if tob.TwoSided() {
		if *tob.BestAsk < *tob.BestBid {
			return reject(ReasonCrossedBook)
		}
		if *tob.BestAsk-*tob.BestBid > e.cfg.MaxSpread {
			return reject(ReasonSpreadTooWide)
		}
	}

	var curQty float64
	pos, havePos := pf.Get(marketID)
	if havePos {
		curQty = pos.Qty
	}
	signed := side.Signed(size)
	newQty := curQty + signed

	reduceOnly := math.Abs(newQty) < math.Abs(curQty) || (curQty != 0 && newQty == 0)

	if !reduceOnly {
		if e.cfg.MaxOpenPositions > 0 && curQty == 0 && newQty != 0 &&
			pf.OpenCount() >= e.cfg.MaxOpenPositions {
			return reject(ReasonMaxOpenPositions)
		}
		if e.cfg.KillSwitch {
			return reject(ReasonKillSwitch)
		}
		if math.Abs(newQty) > e.cfg.MaxPosPerMarket {
			return reject(ReasonMaxPosPerMarket)
		}
	}

	if e.cfg.MaxEventExposure > 0 && eventID != "" {
		exposure := math.Abs(signed) * price
		for _, p := range pf.Positions() {
			if p.EventID != eventID || p.Qty == 0 {
				continue
			}
			exposure += math.Abs(p.Qty) * markOf(&p)
		}
		if exposure > e.cfg.MaxEventExposure {
			return reject(ReasonMaxEventExposure)
		}
	}

	if !reduceOnly && e.cfg.DailyLossLimit > 0 {
		total := pf.TotalRealized()
		for _, p := range pf.Positions() {
			if p.Qty == 0 {
				continue
			}
			total += (markOf(&p) - p.AvgPrice) * p.Qty
		}
		if total < -e.cfg.DailyLossLimit {
			return reject(ReasonDailyLossLimit)
		}
	}

	return pass()
}

// markOf values a position at its last observed mark, falling back to
// the average entry price, clamped to the outcome price range.
func markOf(p *portfolio.Position) float64 {
	mark := p.LastMark
	if mark <= 0 {
		mark = p.AvgPrice
	}
	return pricing.Clamp(mark, 0.0, 1.0)
}

func (e *Engine) logReject(marketID string, side types.Side, reason string, price, size float64) {
	now := e.clock.Now()
	key := throttleKey{marketID: marketID, side: side, reason: reason}

	e.mu.Lock()
	last, seen := e.lastLog[key]
	if seen && now-last < rejectLogInterval {
		e.mu.Unlock()
		return
	}
	e.lastLog[key] = now
	e.mu.Unlock()

	e.logger.Warn("order-rejected",
		zap.String("market-id", marketID),
		zap.String("side", string(side)),
		zap.String("reason", reason),
		zap.Float64("price", price),
		zap.Float64("size", size))
}
