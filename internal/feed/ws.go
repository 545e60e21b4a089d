package feed

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"polymarket-trader/internal/store"
	"polymarket-trader/pkg/clock"
	"polymarket-trader/pkg/types"
)

// WSFeed streams normalized events from a CLOB-style websocket market
// channel. One connection; disconnects trigger exponential-backoff
// reconnection and a full resubscribe derived from the provider.
type WSFeed struct {
	url          string
	store        store.Store
	clock        clock.Clock
	logger       *zap.Logger
	backoff      *Backoff
	dialTimeout  time.Duration
	pingInterval time.Duration
	readTimeout  time.Duration
	bufferSize   int
}

// WSConfig holds websocket feed configuration.
type WSConfig struct {
	URL          string
	Store        store.Store
	Clock        clock.Clock
	Logger       *zap.Logger
	Backoff      BackoffConfig
	DialTimeout  time.Duration
	PingInterval time.Duration
	ReadTimeout  time.Duration
	BufferSize   int
}

// NewWSFeed creates a websocket feed.
func NewWSFeed(cfg *WSConfig) *WSFeed {
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	pingInterval := cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 60 * time.Second
	}
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 4096
	}
	return &WSFeed{
		url:          cfg.URL,
		store:        cfg.Store,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		backoff:      NewBackoff(cfg.Backoff),
		dialTimeout:  dialTimeout,
		pingInterval: pingInterval,
		readTimeout:  readTimeout,
		bufferSize:   bufferSize,
	}
}

// Events starts streaming. The channel closes when ctx is cancelled;
// the engine keeps running across reconnects in between.
func (f *WSFeed) Events(ctx context.Context, provider func() []Subscription) (<-chan Event, error) {
	if f.url == "" {
		return nil, fmt.Errorf("websocket url not configured")
	}

	out := make(chan Event, f.bufferSize)
	go f.run(ctx, provider, out)
	return out, nil
}

func (f *WSFeed) run(ctx context.Context, provider func() []Subscription, out chan<- Event) {
	defer close(out)

	for {
		if ctx.Err() != nil {
			return
		}

		err := f.session(ctx, provider, out)
		if ctx.Err() != nil {
			return
		}

		ReconnectsTotal.Inc()
		f.logger.Warn("feed-disconnected", zap.Error(err))
		f.setStatus(ctx, "error", "websocket feed error", err.Error())

		delay := f.backoff.Next()
		f.logger.Info("feed-reconnecting", zap.Duration("backoff", delay))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// session runs one connection to completion; any returned error means
// the connection is dead and should be retried.
func (f *WSFeed) session(ctx context.Context, provider func() []Subscription, out chan<- Event) error {
	dialer := websocket.Dialer{HandshakeTimeout: f.dialTimeout}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	ConnectsTotal.Inc()
	f.backoff.Reset()
	f.logger.Info("feed-connected", zap.String("url", f.url))
	f.setStatus(ctx, "ok", "websocket connected", "url="+f.url)

	_ = conn.SetReadDeadline(time.Now().Add(f.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(f.readTimeout))
	})

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu            sync.Mutex
		subscribed    = make(map[string]bool)
		assetToMarket = make(map[string]string)
	)

	resub := func() error {
		subs := provider()

		mu.Lock()
		var newAssets []string
		for _, s := range subs {
			if s.AssetID == "" || s.MarketID == "" {
				continue
			}
			assetToMarket[s.AssetID] = s.MarketID
			if !subscribed[s.AssetID] {
				subscribed[s.AssetID] = true
				newAssets = append(newAssets, s.AssetID)
			}
		}
		total := len(subscribed)
		mu.Unlock()

		if len(newAssets) == 0 {
			return nil
		}
		msg := map[string]interface{}{
			"action":     "subscribe",
			"type":       "MARKET",
			"assets_ids": newAssets,
		}
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("write subscribe message: %w", err)
		}
		f.logger.Info("feed-subscribed",
			zap.Int("new", len(newAssets)),
			zap.Int("total", total))
		return nil
	}

	if err := resub(); err != nil {
		return err
	}

	// Keepalive plus subscription refresh. Writes stay on this
	// goroutine; the read loop below is the only reader.
	wsErr := make(chan error, 1)
	go func() {
		ticker := time.NewTicker(f.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sctx.Done():
				return
			case <-ticker.C:
				deadline := time.Now().Add(5 * time.Second)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					select {
					case wsErr <- fmt.Errorf("ping: %w", err):
					default:
					}
					return
				}
				if err := resub(); err != nil {
					select {
					case wsErr <- err:
					default:
					}
					return
				}
			}
		}
	}()

	for {
		select {
		case err := <-wsErr:
			return err
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(f.readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		mu.Lock()
		mapping := make(map[string]string, len(assetToMarket))
		for k, v := range assetToMarket {
			mapping[k] = v
		}
		mu.Unlock()

		events := normalizePayload(data, mapping, f.clock.Now())
		if len(events) == 0 {
			continue
		}
		for _, ev := range events {
			f.emit(ctx, out, ev)
		}
	}
}

// emit tapes the event and forwards it without blocking the read loop.
func (f *WSFeed) emit(ctx context.Context, out chan<- Event, ev Event) {
	if err := f.appendTape(ctx, ev); err != nil {
		f.logger.Warn("tape-append-failed",
			zap.String("market-id", ev.MarketID()),
			zap.Error(err))
	}

	switch ev.(type) {
	case *BookEvent:
		EventsTotal.WithLabelValues(types.TapeKindTOB).Inc()
	case *TradeEvent:
		EventsTotal.WithLabelValues(types.TapeKindTrade).Inc()
	}

	select {
	case out <- ev:
	default:
		DroppedTotal.WithLabelValues("channel_full").Inc()
		f.logger.Warn("feed-channel-full",
			zap.String("market-id", ev.MarketID()))
	}
}

func (f *WSFeed) appendTape(ctx context.Context, ev Event) error {
	rec, err := tapeRecordFor(ev)
	if err != nil || rec == nil {
		return err
	}
	return f.store.AppendTape(ctx, rec)
}

func (f *WSFeed) setStatus(ctx context.Context, level, message, detail string) {
	err := f.store.UpsertRuntimeStatus(ctx, &store.RuntimeStatus{
		Component: "feed.ws",
		TS:        f.clock.Now(),
		Level:     level,
		Message:   message,
		Detail:    detail,
	})
	if err != nil {
		f.logger.Debug("runtime-status-failed", zap.Error(err))
	}
}

// wsLevel is one price level; upstream sends prices and sizes as
// strings.
type wsLevel struct {
	Price optFloat `json:"price"`
	Size  optFloat `json:"size"`
}

// wsMessage covers the payload shapes the market channel emits: full
// book snapshots keyed by asset_id, price_change batches, and
// last_trade_price prints.
type wsMessage struct {
	EventType    string      `json:"event_type"`
	Type         string      `json:"type"`
	AssetID      string      `json:"asset_id"`
	Market       string      `json:"market"`
	MarketIDRaw  string      `json:"market_id"`
	Bids         []wsLevel   `json:"bids"`
	Asks         []wsLevel   `json:"asks"`
	BestBid      *optFloat   `json:"best_bid"`
	BestAsk      *optFloat   `json:"best_ask"`
	Price        *optFloat   `json:"price"`
	Size         *optFloat   `json:"size"`
	Side         string      `json:"side"`
	Timestamp    *optFloat   `json:"timestamp"`
	PriceChanges []wsMessage `json:"price_changes"`
}

// normalizePayload converts one websocket frame into events. now is
// the local observation time; book events are stamped with it rather
// than the upstream timestamp so quiet-but-alive feeds don't trip the
// feed-lag breaker.
func normalizePayload(data []byte, assetToMarket map[string]string, now float64) []Event {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "[]" {
		return nil
	}

	var msgs []wsMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(data, &msgs); err != nil {
			ParseFailuresTotal.Inc()
			return nil
		}
	} else {
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			ParseFailuresTotal.Inc()
			return nil
		}
		msgs = []wsMessage{msg}
	}

	var out []Event
	for i := range msgs {
		msg := &msgs[i]
		if len(msg.PriceChanges) > 0 {
			for j := range msg.PriceChanges {
				row := &msg.PriceChanges[j]
				if row.Market == "" {
					row.Market = msg.Market
				}
				out = append(out, normalizeMessage(row, assetToMarket, now)...)
			}
			continue
		}
		out = append(out, normalizeMessage(msg, assetToMarket, now)...)
	}
	return out
}

func normalizeMessage(msg *wsMessage, assetToMarket map[string]string, now float64) []Event {
	marketID := assetToMarket[msg.AssetID]
	if marketID == "" {
		marketID = firstNonEmptyStr(msg.MarketIDRaw, msg.Market)
	}
	if marketID == "" {
		return nil
	}

	eventType := strings.ToLower(firstNonEmptyStr(msg.EventType, msg.Type))

	// Full snapshot: best bid is the highest bid level, best ask the
	// lowest ask level. Level order is not guaranteed upstream.
	if len(msg.Bids) > 0 || len(msg.Asks) > 0 {
		tob := &types.TopOfBook{TS: now}
		for _, lvl := range msg.Bids {
			if !lvl.Price.ok {
				continue
			}
			if tob.BestBid == nil || lvl.Price.v > *tob.BestBid {
				tob.BestBid = types.Float64Ptr(lvl.Price.v)
				if lvl.Size.ok {
					tob.BestBidSize = types.Float64Ptr(lvl.Size.v)
				}
			}
		}
		for _, lvl := range msg.Asks {
			if !lvl.Price.ok {
				continue
			}
			if tob.BestAsk == nil || lvl.Price.v < *tob.BestAsk {
				tob.BestAsk = types.Float64Ptr(lvl.Price.v)
				if lvl.Size.ok {
					tob.BestAskSize = types.Float64Ptr(lvl.Size.v)
				}
			}
		}
		if tob.BestBid == nil && tob.BestAsk == nil {
			return nil
		}
		return []Event{&BookEvent{Market: marketID, TOB: tob}}
	}

	// Incremental row: carries the new touch, sometimes with a trade
	// print attached.
	if msg.BestBid != nil || msg.BestAsk != nil {
		tob := &types.TopOfBook{TS: now}
		if msg.BestBid != nil && msg.BestBid.ok {
			tob.BestBid = types.Float64Ptr(msg.BestBid.v)
		}
		if msg.BestAsk != nil && msg.BestAsk.ok {
			tob.BestAsk = types.Float64Ptr(msg.BestAsk.v)
		}
		out := []Event{&BookEvent{Market: marketID, TOB: tob}}

		if trade := tradeFrom(msg, marketID, now); trade != nil {
			out = append(out, &TradeEvent{Trade: trade})
		}
		return out
	}

	// Trade prints: last_trade_price or a bare price/size/side row.
	if strings.Contains(eventType, "trade") || (msg.Price != nil && msg.Size != nil && msg.Side != "") {
		if trade := tradeFrom(msg, marketID, now); trade != nil {
			return []Event{&TradeEvent{Trade: trade}}
		}
	}

	return nil
}

func tradeFrom(msg *wsMessage, marketID string, now float64) *types.TradeTick {
	if msg.Price == nil || !msg.Price.ok || msg.Size == nil || !msg.Size.ok || msg.Size.v <= 0 {
		return nil
	}
	side := types.Side(strings.ToLower(msg.Side))
	if !side.Valid() {
		return nil
	}

	ts := now
	if msg.Timestamp != nil && msg.Timestamp.ok && msg.Timestamp.v > 0 {
		ts = msg.Timestamp.v
		if ts > 3_000_000_000 {
			ts /= 1000.0
		}
	}

	return &types.TradeTick{
		MarketID: marketID,
		Price:    msg.Price.v,
		Size:     msg.Size.v,
		Side:     side,
		TS:       ts,
	}
}

func firstNonEmptyStr(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// optFloat decodes a JSON number or numeric string; ok is false when
// the value was absent or unparseable.
type optFloat struct {
	v  float64
	ok bool
}

func (o *optFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == "" {
		return nil
	}
	if s[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		s = strings.TrimSpace(v)
	}
	parsed, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	o.v = parsed
	o.ok = true
	return nil
}
