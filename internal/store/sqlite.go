package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"polymarket-trader/pkg/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS markets (
  market_id TEXT PRIMARY KEY,
  question TEXT,
  event_id TEXT,
  active INTEGER,
  end_ts REAL,
  volume_24h_usd REAL,
  liquidity_usd REAL,
  updated_ts REAL
);

CREATE TABLE IF NOT EXISTS orders (
  order_id TEXT PRIMARY KEY,
  market_id TEXT,
  side TEXT,
  price REAL,
  size REAL,
  created_ts REAL,
  status TEXT,
  filled_size REAL,
  meta_json TEXT
);

CREATE TABLE IF NOT EXISTS fills (
  fill_id TEXT PRIMARY KEY,
  order_id TEXT,
  market_id TEXT,
  side TEXT,
  price REAL,
  size REAL,
  ts REAL,
  meta_json TEXT
);

CREATE TABLE IF NOT EXISTS tape (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  ts REAL,
  market_id TEXT,
  kind TEXT,
  payload_json TEXT
);

CREATE INDEX IF NOT EXISTS idx_tape_ts ON tape(ts);
CREATE INDEX IF NOT EXISTS idx_tape_market ON tape(market_id, ts);

CREATE TABLE IF NOT EXISTS position_snapshots (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  ts REAL,
  market_id TEXT,
  event_id TEXT,
  position REAL,
  avg_price REAL,
  mark_price REAL,
  unrealized_pnl REAL,
  realized_pnl REAL
);

CREATE TABLE IF NOT EXISTS pnl_snapshots (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  ts REAL,
  total_unrealized REAL,
  total_realized REAL,
  total_pnl REAL
);

CREATE TABLE IF NOT EXISTS quote_snapshots (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  ts REAL,
  market_id TEXT,
  event_id TEXT,
  tob_best_bid REAL,
  tob_best_ask REAL,
  mid REAL,
  fair REAL,
  fair_source TEXT,
  inv_qty REAL,
  width REAL,
  skew REAL,
  target_bid REAL,
  target_ask REAL
);

CREATE INDEX IF NOT EXISTS idx_quotes_ts ON quote_snapshots(ts);
CREATE INDEX IF NOT EXISTS idx_quotes_market ON quote_snapshots(market_id, ts);

CREATE TABLE IF NOT EXISTS scanner_snapshots (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  ts REAL,
  eligible_count INTEGER,
  top_count INTEGER
);

CREATE INDEX IF NOT EXISTS idx_scanner_ts ON scanner_snapshots(ts);

CREATE TABLE IF NOT EXISTS watchlist (
  rank INTEGER PRIMARY KEY,
  market_id TEXT,
  ts REAL
);

CREATE TABLE IF NOT EXISTS runtime_status (
  component TEXT PRIMARY KEY,
  ts REAL,
  level TEXT,
  message TEXT,
  detail TEXT
);
`

// SQLiteStore implements Store on a local SQLite file using the pure
// Go driver. A single connection plus a mutex serializes all access.
type SQLiteStore struct {
	mu     sync.Mutex
	db     *sql.DB
	logger *zap.Logger
}

// SQLiteConfig holds SQLite storage configuration.
type SQLiteConfig struct {
	Path   string
	Logger *zap.Logger
}

// NewSQLiteStore opens (creating if needed) the database at cfg.Path
// and applies the schema. ":memory:" and "file:" URIs are passed
// through untouched; for plain paths the parent directory is created.
func NewSQLiteStore(cfg *SQLiteConfig) (*SQLiteStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}

	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		err := os.MkdirAll(filepath.Dir(path), 0o755)
		if err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	} {
		_, err = db.Exec(pragma)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma: %w", err)
		}
	}

	_, err = db.Exec(sqliteSchema)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	cfg.Logger.Info("sqlite-store-opened", zap.String("path", path))

	return &SQLiteStore{
		db:     db,
		logger: cfg.Logger,
	}, nil
}

// UpsertMarkets inserts or updates market metadata rows.
func (s *SQLiteStore) UpsertMarkets(ctx context.Context, markets []types.MarketInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert markets: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO markets(market_id, question, event_id, active, end_ts, volume_24h_usd, liquidity_usd, updated_ts)
		VALUES(?,?,?,?,?,?,?,?)
		ON CONFLICT(market_id) DO UPDATE SET
		  question=excluded.question,
		  event_id=excluded.event_id,
		  active=excluded.active,
		  end_ts=excluded.end_ts,
		  volume_24h_usd=excluded.volume_24h_usd,
		  liquidity_usd=excluded.liquidity_usd,
		  updated_ts=excluded.updated_ts
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert markets: %w", err)
	}
	defer stmt.Close()

	now := nowEpoch()
	for i := range markets {
		m := &markets[i]
		active := 0
		if m.Active {
			active = 1
		}
		_, err = stmt.ExecContext(ctx, m.MarketID, m.Question, m.EventID, active,
			m.EndTS, m.Volume24hUSD, m.LiquidityUSD, now)
		if err != nil {
			return fmt.Errorf("upsert market %s: %w", m.MarketID, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("commit upsert markets: %w", err)
	}
	return nil
}

// AppendTape appends one tape record.
func (s *SQLiteStore) AppendTape(ctx context.Context, rec *types.TapeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO tape(ts, market_id, kind, payload_json) VALUES(?,?,?,?)",
		rec.TS, rec.MarketID, rec.Kind, string(rec.Payload))
	if err != nil {
		WriteErrorsTotal.Inc()
		return fmt.Errorf("append tape: %w", err)
	}
	TapeAppendsTotal.Inc()
	return nil
}

// InsertOrder persists a new order.
func (s *SQLiteStore) InsertOrder(ctx context.Context, order *types.Order, meta map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO orders(order_id, market_id, side, price, size, created_ts, status, filled_size, meta_json)
		VALUES(?,?,?,?,?,?,?,?,?)
	`, order.OrderID, order.MarketID, string(order.Side), order.Price, order.Size,
		order.CreatedTS, string(order.Status), order.FilledSize, string(types.EncodeMeta(meta)))
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// UpdateOrderStatus updates status and, when filledSize is non-nil,
// the filled size of an order.
func (s *SQLiteStore) UpdateOrderStatus(ctx context.Context, orderID string, status types.OrderStatus, filledSize *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if filledSize == nil {
		_, err = s.db.ExecContext(ctx,
			"UPDATE orders SET status=? WHERE order_id=?", string(status), orderID)
	} else {
		_, err = s.db.ExecContext(ctx,
			"UPDATE orders SET status=?, filled_size=? WHERE order_id=?",
			string(status), *filledSize, orderID)
	}
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return nil
}

// InsertFill persists an execution.
func (s *SQLiteStore) InsertFill(ctx context.Context, fill *types.Fill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO fills(fill_id, order_id, market_id, side, price, size, ts, meta_json)
		VALUES(?,?,?,?,?,?,?,?)
	`, fill.FillID, fill.OrderID, fill.MarketID, string(fill.Side),
		fill.Price, fill.Size, fill.TS, string(types.EncodeMeta(fill.Meta)))
	if err != nil {
		return fmt.Errorf("insert fill: %w", err)
	}
	return nil
}

// InsertPositionSnapshot appends a per-market position snapshot.
func (s *SQLiteStore) InsertPositionSnapshot(ctx context.Context, snap *PositionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO position_snapshots(ts, market_id, event_id, position, avg_price, mark_price, unrealized_pnl, realized_pnl)
		VALUES(?,?,?,?,?,?,?,?)
	`, snap.TS, snap.MarketID, snap.EventID, snap.Position, snap.AvgPrice,
		snap.MarkPrice, snap.UnrealizedPnL, snap.RealizedPnL)
	if err != nil {
		WriteErrorsTotal.Inc()
		return fmt.Errorf("insert position snapshot: %w", err)
	}
	SnapshotWritesTotal.WithLabelValues("position_snapshots").Inc()
	return nil
}

// InsertPnLSnapshot appends an aggregate P&L snapshot.
func (s *SQLiteStore) InsertPnLSnapshot(ctx context.Context, snap *PnLSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO pnl_snapshots(ts, total_unrealized, total_realized, total_pnl) VALUES(?,?,?,?)",
		snap.TS, snap.TotalUnrealized, snap.TotalRealized, snap.TotalPnL)
	if err != nil {
		WriteErrorsTotal.Inc()
		return fmt.Errorf("insert pnl snapshot: %w", err)
	}
	SnapshotWritesTotal.WithLabelValues("pnl_snapshots").Inc()
	return nil
}

// InsertQuoteSnapshot appends a market-maker quote snapshot.
func (s *SQLiteStore) InsertQuoteSnapshot(ctx context.Context, snap *QuoteSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quote_snapshots(ts, market_id, event_id, tob_best_bid, tob_best_ask, mid, fair, fair_source, inv_qty, width, skew, target_bid, target_ask)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)
	`, snap.TS, snap.MarketID, snap.EventID, nullableFloat(snap.BestBid), nullableFloat(snap.BestAsk),
		snap.Mid, snap.Fair, snap.FairSource, snap.InvQty, snap.Width, snap.Skew,
		snap.TargetBid, snap.TargetAsk)
	if err != nil {
		return fmt.Errorf("insert quote snapshot: %w", err)
	}
	return nil
}

// InsertScannerSnapshot appends a discovery-pass snapshot.
func (s *SQLiteStore) InsertScannerSnapshot(ctx context.Context, snap *ScannerSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO scanner_snapshots(ts, eligible_count, top_count) VALUES(?,?,?)",
		snap.TS, snap.EligibleCount, snap.TopCount)
	if err != nil {
		return fmt.Errorf("insert scanner snapshot: %w", err)
	}
	return nil
}

// ReplaceWatchlist transactionally swaps the ranked watchlist.
func (s *SQLiteStore) ReplaceWatchlist(ctx context.Context, marketIDs []string, ts float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace watchlist: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, "DELETE FROM watchlist")
	if err != nil {
		return fmt.Errorf("clear watchlist: %w", err)
	}

	for i, mid := range marketIDs {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO watchlist(rank, market_id, ts) VALUES(?,?,?)", i+1, mid, ts)
		if err != nil {
			return fmt.Errorf("insert watchlist row: %w", err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("commit replace watchlist: %w", err)
	}
	return nil
}

// UpsertRuntimeStatus updates a component's health line.
func (s *SQLiteStore) UpsertRuntimeStatus(ctx context.Context, st *RuntimeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runtime_status(component, ts, level, message, detail)
		VALUES(?,?,?,?,?)
		ON CONFLICT(component) DO UPDATE SET
		  ts=excluded.ts,
		  level=excluded.level,
		  message=excluded.message,
		  detail=excluded.detail
	`, st.Component, st.TS, st.Level, st.Message, st.Detail)
	if err != nil {
		return fmt.Errorf("upsert runtime status: %w", err)
	}
	return nil
}

// RuntimeStatuses returns the latest health line per component.
func (s *SQLiteStore) RuntimeStatuses(ctx context.Context) ([]RuntimeStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT component, ts, level, message, detail
		FROM runtime_status
		ORDER BY component
	`)
	if err != nil {
		return nil, fmt.Errorf("query runtime statuses: %w", err)
	}
	defer rows.Close()

	var out []RuntimeStatus
	for rows.Next() {
		var st RuntimeStatus
		err = rows.Scan(&st.Component, &st.TS, &st.Level, &st.Message, &st.Detail)
		if err != nil {
			return nil, fmt.Errorf("scan runtime status: %w", err)
		}
		out = append(out, st)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runtime statuses: %w", err)
	}
	return out, nil
}

// LatestPositions returns the most recent snapshot per market.
func (s *SQLiteStore) LatestPositions(ctx context.Context, limit int) ([]PositionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT market_id, event_id, position, avg_price, mark_price, unrealized_pnl, realized_pnl, MAX(ts) as ts
		FROM position_snapshots
		GROUP BY market_id
		ORDER BY ts DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query latest positions: %w", err)
	}
	defer rows.Close()

	var out []PositionSnapshot
	for rows.Next() {
		var snap PositionSnapshot
		err = rows.Scan(&snap.MarketID, &snap.EventID, &snap.Position, &snap.AvgPrice,
			&snap.MarkPrice, &snap.UnrealizedPnL, &snap.RealizedPnL, &snap.TS)
		if err != nil {
			return nil, fmt.Errorf("scan position snapshot: %w", err)
		}
		out = append(out, snap)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate latest positions: %w", err)
	}
	return out, nil
}

// LatestPnL returns the most recent aggregate P&L snapshot.
func (s *SQLiteStore) LatestPnL(ctx context.Context) (*PnLSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snap PnLSnapshot
	err := s.db.QueryRowContext(ctx,
		"SELECT ts, total_unrealized, total_realized, total_pnl FROM pnl_snapshots ORDER BY ts DESC LIMIT 1",
	).Scan(&snap.TS, &snap.TotalUnrealized, &snap.TotalRealized, &snap.TotalPnL)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest pnl: %w", err)
	}
	return &snap, nil
}

// LatestTapeTS returns the max tape timestamp.
func (s *SQLiteStore) LatestTapeTS(ctx context.Context) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ts sql.NullFloat64
	err := s.db.QueryRowContext(ctx, "SELECT MAX(ts) FROM tape").Scan(&ts)
	if err != nil {
		return 0, false, fmt.Errorf("query latest tape ts: %w", err)
	}
	if !ts.Valid {
		return 0, false, nil
	}
	return ts.Float64, true, nil
}

// Watchlist returns the current ranked watchlist with market metadata.
func (s *SQLiteStore) Watchlist(ctx context.Context, limit int) ([]WatchlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT w.rank, w.market_id, w.ts, COALESCE(m.question, ''), COALESCE(m.event_id, '')
		FROM watchlist w
		LEFT JOIN markets m ON m.market_id = w.market_id
		ORDER BY w.rank ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query watchlist: %w", err)
	}
	defer rows.Close()

	var out []WatchlistEntry
	for rows.Next() {
		var e WatchlistEntry
		err = rows.Scan(&e.Rank, &e.MarketID, &e.TS, &e.Question, &e.EventID)
		if err != nil {
			return nil, fmt.Errorf("scan watchlist row: %w", err)
		}
		out = append(out, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watchlist: %w", err)
	}
	return out, nil
}

// IterTape replays tape records in (ts, insertion) order. The records
// are read fully before fn runs: the callback writes orders, fills and
// snapshots back through this store, so it must not run under the
// store mutex or against the single pinned connection.
func (s *SQLiteStore) IterTape(ctx context.Context, startTS, endTS float64, fn func(rec *types.TapeRecord) error) error {
	recs, err := s.readTape(ctx, startTS, endTS)
	if err != nil {
		return err
	}

	for i := range recs {
		if err = fn(&recs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) readTape(ctx context.Context, startTS, endTS float64) ([]types.TapeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := "SELECT ts, market_id, kind, payload_json FROM tape WHERE 1=1"
	args := []any{}
	if startTS > 0 {
		query += " AND ts >= ?"
		args = append(args, startTS)
	}
	if endTS > 0 {
		query += " AND ts <= ?"
		args = append(args, endTS)
	}
	query += " ORDER BY ts ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tape: %w", err)
	}
	defer rows.Close()

	var recs []types.TapeRecord
	for rows.Next() {
		var rec types.TapeRecord
		var payload string
		err = rows.Scan(&rec.TS, &rec.MarketID, &rec.Kind, &payload)
		if err != nil {
			return nil, fmt.Errorf("scan tape row: %w", err)
		}
		rec.Payload = []byte(payload)
		recs = append(recs, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tape: %w", err)
	}
	return recs, nil
}

// ClearTradingState removes orders, fills and snapshots for a fresh
// paper session. Markets and the tape survive.
func (s *SQLiteStore) ClearTradingState(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"orders", "fills", "position_snapshots", "pnl_snapshots"} {
		_, err := s.db.ExecContext(ctx, "DELETE FROM "+table)
		if err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing-sqlite-store")
	return s.db.Close()
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
