package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"polymarket-trader/pkg/types"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS markets (
  market_id TEXT PRIMARY KEY,
  question TEXT,
  event_id TEXT,
  active BOOLEAN,
  end_ts DOUBLE PRECISION,
  volume_24h_usd DOUBLE PRECISION,
  liquidity_usd DOUBLE PRECISION,
  updated_ts DOUBLE PRECISION
);

CREATE TABLE IF NOT EXISTS orders (
  order_id TEXT PRIMARY KEY,
  market_id TEXT,
  side TEXT,
  price DOUBLE PRECISION,
  size DOUBLE PRECISION,
  created_ts DOUBLE PRECISION,
  status TEXT,
  filled_size DOUBLE PRECISION,
  meta_json TEXT
);

CREATE TABLE IF NOT EXISTS fills (
  fill_id TEXT PRIMARY KEY,
  order_id TEXT,
  market_id TEXT,
  side TEXT,
  price DOUBLE PRECISION,
  size DOUBLE PRECISION,
  ts DOUBLE PRECISION,
  meta_json TEXT
);

CREATE TABLE IF NOT EXISTS tape (
  id BIGSERIAL PRIMARY KEY,
  ts DOUBLE PRECISION,
  market_id TEXT,
  kind TEXT,
  payload_json TEXT
);

CREATE INDEX IF NOT EXISTS idx_tape_ts ON tape(ts);
CREATE INDEX IF NOT EXISTS idx_tape_market ON tape(market_id, ts);

CREATE TABLE IF NOT EXISTS position_snapshots (
  id BIGSERIAL PRIMARY KEY,
  ts DOUBLE PRECISION,
  market_id TEXT,
  event_id TEXT,
  position DOUBLE PRECISION,
  avg_price DOUBLE PRECISION,
  mark_price DOUBLE PRECISION,
  unrealized_pnl DOUBLE PRECISION,
  realized_pnl DOUBLE PRECISION
);

CREATE TABLE IF NOT EXISTS pnl_snapshots (
  id BIGSERIAL PRIMARY KEY,
  ts DOUBLE PRECISION,
  total_unrealized DOUBLE PRECISION,
  total_realized DOUBLE PRECISION,
  total_pnl DOUBLE PRECISION
);

CREATE TABLE IF NOT EXISTS quote_snapshots (
  id BIGSERIAL PRIMARY KEY,
  ts DOUBLE PRECISION,
  market_id TEXT,
  event_id TEXT,
  tob_best_bid DOUBLE PRECISION,
  tob_best_ask DOUBLE PRECISION,
  mid DOUBLE PRECISION,
  fair DOUBLE PRECISION,
  fair_source TEXT,
  inv_qty DOUBLE PRECISION,
  width DOUBLE PRECISION,
  skew DOUBLE PRECISION,
  target_bid DOUBLE PRECISION,
  target_ask DOUBLE PRECISION
);

CREATE TABLE IF NOT EXISTS scanner_snapshots (
  id BIGSERIAL PRIMARY KEY,
  ts DOUBLE PRECISION,
  eligible_count INTEGER,
  top_count INTEGER
);

CREATE TABLE IF NOT EXISTS watchlist (
  rank INTEGER PRIMARY KEY,
  market_id TEXT,
  ts DOUBLE PRECISION
);

CREATE TABLE IF NOT EXISTS runtime_status (
  component TEXT PRIMARY KEY,
  ts DOUBLE PRECISION,
  level TEXT,
  message TEXT,
  detail TEXT
);
`

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// PostgresConfig holds PostgreSQL storage configuration.
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
	Logger   *zap.Logger
}

// NewPostgresStore connects and applies the schema.
func NewPostgresStore(cfg *PostgresConfig) (*PostgresStore, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Ping()
	if err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	_, err = db.Exec(postgresSchema)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	cfg.Logger.Info("postgres-store-connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database))

	return &PostgresStore{
		db:     db,
		logger: cfg.Logger,
	}, nil
}

// UpsertMarkets inserts or updates market metadata rows.
func (p *PostgresStore) UpsertMarkets(ctx context.Context, markets []types.MarketInfo) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert markets: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO markets(market_id, question, event_id, active, end_ts, volume_24h_usd, liquidity_usd, updated_ts)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)
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
		_, err = stmt.ExecContext(ctx, m.MarketID, m.Question, m.EventID, m.Active,
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
func (p *PostgresStore) AppendTape(ctx context.Context, rec *types.TapeRecord) error {
	_, err := p.db.ExecContext(ctx,
		"INSERT INTO tape(ts, market_id, kind, payload_json) VALUES($1,$2,$3,$4)",
		rec.TS, rec.MarketID, rec.Kind, string(rec.Payload))
	if err != nil {
		return fmt.Errorf("append tape: %w", err)
	}
	return nil
}

// InsertOrder persists a new order.
func (p *PostgresStore) InsertOrder(ctx context.Context, order *types.Order, meta map[string]any) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO orders(order_id, market_id, side, price, size, created_ts, status, filled_size, meta_json)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT(order_id) DO UPDATE SET
		  status=excluded.status,
		  filled_size=excluded.filled_size
	`, order.OrderID, order.MarketID, string(order.Side), order.Price, order.Size,
		order.CreatedTS, string(order.Status), order.FilledSize, string(types.EncodeMeta(meta)))
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// UpdateOrderStatus updates status and optionally filled size.
func (p *PostgresStore) UpdateOrderStatus(ctx context.Context, orderID string, status types.OrderStatus, filledSize *float64) error {
	var err error
	if filledSize == nil {
		_, err = p.db.ExecContext(ctx,
			"UPDATE orders SET status=$1 WHERE order_id=$2", string(status), orderID)
	} else {
		_, err = p.db.ExecContext(ctx,
			"UPDATE orders SET status=$1, filled_size=$2 WHERE order_id=$3",
			string(status), *filledSize, orderID)
	}
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return nil
}

// InsertFill persists an execution.
func (p *PostgresStore) InsertFill(ctx context.Context, fill *types.Fill) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO fills(fill_id, order_id, market_id, side, price, size, ts, meta_json)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT(fill_id) DO NOTHING
	`, fill.FillID, fill.OrderID, fill.MarketID, string(fill.Side),
		fill.Price, fill.Size, fill.TS, string(types.EncodeMeta(fill.Meta)))
	if err != nil {
		return fmt.Errorf("insert fill: %w", err)
	}
	return nil
}

// InsertPositionSnapshot appends a per-market position snapshot.
func (p *PostgresStore) InsertPositionSnapshot(ctx context.Context, snap *PositionSnapshot) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO position_snapshots(ts, market_id, event_id, position, avg_price, mark_price, unrealized_pnl, realized_pnl)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)
	`, snap.TS, snap.MarketID, snap.EventID, snap.Position, snap.AvgPrice,
		snap.MarkPrice, snap.UnrealizedPnL, snap.RealizedPnL)
	if err != nil {
		return fmt.Errorf("insert position snapshot: %w", err)
	}
	return nil
}

// InsertPnLSnapshot appends an aggregate P&L snapshot.
func (p *PostgresStore) InsertPnLSnapshot(ctx context.Context, snap *PnLSnapshot) error {
	_, err := p.db.ExecContext(ctx,
		"INSERT INTO pnl_snapshots(ts, total_unrealized, total_realized, total_pnl) VALUES($1,$2,$3,$4)",
		snap.TS, snap.TotalUnrealized, snap.TotalRealized, snap.TotalPnL)
	if err != nil {
		return fmt.Errorf("insert pnl snapshot: %w", err)
	}
	return nil
}

// InsertQuoteSnapshot appends a market-maker quote snapshot.
func (p *PostgresStore) InsertQuoteSnapshot(ctx context.Context, snap *QuoteSnapshot) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO quote_snapshots(ts, market_id, event_id, tob_best_bid, tob_best_ask, mid, fair, fair_source, inv_qty, width, skew, target_bid, target_ask)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, snap.TS, snap.MarketID, snap.EventID, nullableFloat(snap.BestBid), nullableFloat(snap.BestAsk),
		snap.Mid, snap.Fair, snap.FairSource, snap.InvQty, snap.Width, snap.Skew,
		snap.TargetBid, snap.TargetAsk)
	if err != nil {
		return fmt.Errorf("insert quote snapshot: %w", err)
	}
	return nil
}

// InsertScannerSnapshot appends a discovery-pass snapshot.
func (p *PostgresStore) InsertScannerSnapshot(ctx context.Context, snap *ScannerSnapshot) error {
	_, err := p.db.ExecContext(ctx,
		"INSERT INTO scanner_snapshots(ts, eligible_count, top_count) VALUES($1,$2,$3)",
		snap.TS, snap.EligibleCount, snap.TopCount)
	if err != nil {
		return fmt.Errorf("insert scanner snapshot: %w", err)
	}
	return nil
}

// ReplaceWatchlist transactionally swaps the ranked watchlist.
func (p *PostgresStore) ReplaceWatchlist(ctx context.Context, marketIDs []string, ts float64) error {
	tx, err := p.db.BeginTx(ctx, nil)
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
			"INSERT INTO watchlist(rank, market_id, ts) VALUES($1,$2,$3)", i+1, mid, ts)
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
func (p *PostgresStore) UpsertRuntimeStatus(ctx context.Context, st *RuntimeStatus) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO runtime_status(component, ts, level, message, detail)
		VALUES($1,$2,$3,$4,$5)
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
func (p *PostgresStore) RuntimeStatuses(ctx context.Context) ([]RuntimeStatus, error) {
	rows, err := p.db.QueryContext(ctx, `
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
func (p *PostgresStore) LatestPositions(ctx context.Context, limit int) ([]PositionSnapshot, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT DISTINCT ON (market_id) market_id, event_id, position, avg_price, mark_price, unrealized_pnl, realized_pnl, ts
		FROM position_snapshots
		ORDER BY market_id, ts DESC
		LIMIT $1
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
func (p *PostgresStore) LatestPnL(ctx context.Context) (*PnLSnapshot, error) {
	var snap PnLSnapshot
	err := p.db.QueryRowContext(ctx,
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
func (p *PostgresStore) LatestTapeTS(ctx context.Context) (float64, bool, error) {
	var ts sql.NullFloat64
	err := p.db.QueryRowContext(ctx, "SELECT MAX(ts) FROM tape").Scan(&ts)
	if err != nil {
		return 0, false, fmt.Errorf("query latest tape ts: %w", err)
	}
	if !ts.Valid {
		return 0, false, nil
	}
	return ts.Float64, true, nil
}

// Watchlist returns the current ranked watchlist with market metadata.
func (p *PostgresStore) Watchlist(ctx context.Context, limit int) ([]WatchlistEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT w.rank, w.market_id, w.ts, COALESCE(m.question, ''), COALESCE(m.event_id, '')
		FROM watchlist w
		LEFT JOIN markets m ON m.market_id = w.market_id
		ORDER BY w.rank ASC
		LIMIT $1
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

// IterTape replays tape records in (ts, insertion) order. Records are
// read fully before fn runs so callback writes never contend with the
// open cursor.
func (p *PostgresStore) IterTape(ctx context.Context, startTS, endTS float64, fn func(rec *types.TapeRecord) error) error {
	query := "SELECT ts, market_id, kind, payload_json FROM tape WHERE 1=1"
	args := []any{}
	if startTS > 0 {
		args = append(args, startTS)
		query += fmt.Sprintf(" AND ts >= $%d", len(args))
	}
	if endTS > 0 {
		args = append(args, endTS)
		query += fmt.Sprintf(" AND ts <= $%d", len(args))
	}
	query += " ORDER BY ts ASC, id ASC"

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query tape: %w", err)
	}
	defer rows.Close()

	var recs []types.TapeRecord
	for rows.Next() {
		var rec types.TapeRecord
		var payload string
		err = rows.Scan(&rec.TS, &rec.MarketID, &rec.Kind, &payload)
		if err != nil {
			return fmt.Errorf("scan tape row: %w", err)
		}
		rec.Payload = []byte(payload)
		recs = append(recs, rec)
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("iterate tape: %w", err)
	}
	rows.Close()

	for i := range recs {
		if err = fn(&recs[i]); err != nil {
			return err
		}
	}
	return nil
}

// ClearTradingState removes orders, fills and snapshots.
func (p *PostgresStore) ClearTradingState(ctx context.Context) error {
	for _, table := range []string{"orders", "fills", "position_snapshots", "pnl_snapshots"} {
		_, err := p.db.ExecContext(ctx, "DELETE FROM "+table)
		if err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (p *PostgresStore) Close() error {
	p.logger.Info("closing-postgres-store")
	return p.db.Close()
}
