package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver

	"github.com/dfalkner/autotrader/internal/models"
)

// SQLiteStore implements Interface on a local sqlite database. Queryable
// fields are promoted to columns; the full record rides along as a JSON
// blob, which keeps schema churn away from the Go structs.
type SQLiteStore struct {
	db *sql.DB

	subMu sync.Mutex
	subs  []chan struct{}
}

const schema = `
CREATE TABLE IF NOT EXISTS auto_trader_config (
	id   TEXT PRIMARY KEY,
	data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS paper_trades (
	id                TEXT PRIMARY KEY,
	ticker            TEXT NOT NULL,
	mode              TEXT NOT NULL,
	signal            TEXT NOT NULL,
	source_name       TEXT NOT NULL DEFAULT '',
	strategy_video_id TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	opened_at         TIMESTAMP NOT NULL,
	closed_at         TIMESTAMP,
	data              TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_ticker_status ON paper_trades(ticker, status);
CREATE INDEX IF NOT EXISTS idx_trades_closed_at ON paper_trades(closed_at);
CREATE TABLE IF NOT EXISTS external_strategy_signals (
	id                TEXT PRIMARY KEY,
	source_name       TEXT NOT NULL,
	ticker            TEXT NOT NULL,
	signal            TEXT NOT NULL,
	mode              TEXT NOT NULL,
	execute_on_date   TEXT NOT NULL,
	strategy_video_id TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	created_at        TIMESTAMP NOT NULL,
	data              TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_due ON external_strategy_signals(status, execute_on_date);
CREATE TABLE IF NOT EXISTS auto_trade_events (
	id         TEXT PRIMARY KEY,
	ticker     TEXT NOT NULL DEFAULT '',
	source     TEXT NOT NULL,
	action     TEXT NOT NULL,
	tier       INTEGER,
	created_at TIMESTAMP NOT NULL,
	data       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_lookup ON auto_trade_events(ticker, source, action, created_at);
CREATE TABLE IF NOT EXISTS portfolio_snapshots (
	id   TEXT PRIMARY KEY,
	day  TEXT NOT NULL,
	data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS strategy_videos (
	video_id      TEXT PRIMARY KEY,
	status        TEXT NOT NULL,
	strategy_type TEXT NOT NULL,
	trade_date    TEXT NOT NULL DEFAULT '',
	data          TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS trade_scans (
	id         TEXT PRIMARY KEY,
	mode       TEXT NOT NULL,
	fetched_at TIMESTAMP NOT NULL,
	data       TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS swing_metrics_daily (
	id       TEXT PRIMARY KEY,
	trade_id TEXT NOT NULL UNIQUE,
	ticker   TEXT NOT NULL,
	day      TEXT NOT NULL,
	data     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS trade_learnings (
	id       TEXT PRIMARY KEY,
	trade_id TEXT NOT NULL UNIQUE,
	data     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS trade_performance (
	id   TEXT PRIMARY KEY,
	data TEXT NOT NULL
);
`

// NewSQLiteStore opens (creating if needed) the datastore at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store: %w", err)
	}
	// sqlite serialises writers; a single connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle and subscriber channels.
func (s *SQLiteStore) Close() error {
	s.subMu.Lock()
	for _, ch := range s.subs {
		close(ch)
	}
	s.subs = nil
	s.subMu.Unlock()
	return s.db.Close()
}

// Ping verifies the datastore is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func marshal(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding record: %w", err)
	}
	return string(b), nil
}

// --- auto_trader_config ---

func (s *SQLiteStore) GetAutoTraderConfig(ctx context.Context) (*models.AutoTraderConfig, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM auto_trader_config WHERE id = 'default'`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg models.AutoTraderConfig
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		return nil, fmt.Errorf("decoding auto_trader_config: %w", err)
	}
	return &cfg, nil
}

func (s *SQLiteStore) SaveAutoTraderConfig(ctx context.Context, cfg *models.AutoTraderConfig) error {
	cfg.ID = "default"
	data, err := marshal(cfg)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO auto_trader_config (id, data) VALUES ('default', ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data`, data)
	return err
}

// --- paper_trades ---

func (s *SQLiteStore) AddTrade(ctx context.Context, t *models.Trade) error {
	data, err := marshal(t)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO paper_trades (id, ticker, mode, signal, source_name, strategy_video_id, status, opened_at, closed_at, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Ticker, string(t.Mode), string(t.Signal), t.StrategySource, t.StrategyVideoID,
		string(t.Status), t.OpenedAt, nullableTime(t.ClosedAt), data)
	return err
}

func (s *SQLiteStore) UpdateTrade(ctx context.Context, t *models.Trade) error {
	data, err := marshal(t)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE paper_trades SET ticker=?, mode=?, signal=?, source_name=?, strategy_video_id=?,
		 status=?, opened_at=?, closed_at=?, data=? WHERE id=?`,
		t.Ticker, string(t.Mode), string(t.Signal), t.StrategySource, t.StrategyVideoID,
		string(t.Status), t.OpenedAt, nullableTime(t.ClosedAt), data, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) GetTrade(ctx context.Context, id string) (*models.Trade, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM paper_trades WHERE id=?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeTrade(data)
}

const activeStatuses = `('PENDING','SUBMITTED','FILLED','PARTIAL')`
const closedStatuses = `('STOPPED','TARGET_HIT','CLOSED')`

func (s *SQLiteStore) GetActiveTrades(ctx context.Context) ([]models.Trade, error) {
	return s.queryTrades(ctx,
		`SELECT data FROM paper_trades WHERE status IN `+activeStatuses+` ORDER BY opened_at`)
}

func (s *SQLiteStore) GetActiveTradesByTicker(ctx context.Context, ticker string) ([]models.Trade, error) {
	return s.queryTrades(ctx,
		`SELECT data FROM paper_trades WHERE ticker=? AND status IN `+activeStatuses+` ORDER BY opened_at`, ticker)
}

func (s *SQLiteStore) GetRecentClosedTrades(ctx context.Context, scope ScopeFilter, limit int) ([]models.Trade, error) {
	q := `SELECT data FROM paper_trades WHERE status IN ` + closedStatuses
	args := []any{}
	if scope.SourceName != "" {
		q += ` AND source_name=?`
		args = append(args, scope.SourceName)
	}
	if scope.StrategyVideoID != "" {
		q += ` AND strategy_video_id=?`
		args = append(args, scope.StrategyVideoID)
	}
	if scope.Mode != "" {
		q += ` AND mode=?`
		args = append(args, string(scope.Mode))
	}
	q += ` ORDER BY closed_at DESC LIMIT ?`
	args = append(args, limit)
	return s.queryTrades(ctx, q, args...)
}

func (s *SQLiteStore) GetClosedTradesWithoutLearning(ctx context.Context) ([]models.Trade, error) {
	return s.queryTrades(ctx,
		`SELECT t.data FROM paper_trades t
		 LEFT JOIN trade_learnings l ON l.trade_id = t.id
		 WHERE t.status IN `+closedStatuses+` AND l.id IS NULL
		 ORDER BY t.closed_at`)
}

func (s *SQLiteStore) queryTrades(ctx context.Context, q string, args ...any) ([]models.Trade, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Trade
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		t, err := decodeTrade(data)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func decodeTrade(data string) (*models.Trade, error) {
	var t models.Trade
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, fmt.Errorf("decoding trade: %w", err)
	}
	return &t, nil
}

// --- external_strategy_signals ---

func (s *SQLiteStore) AddExternalSignal(ctx context.Context, sig *models.ExternalStrategySignal) error {
	data, err := marshal(sig)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO external_strategy_signals
		 (id, source_name, ticker, signal, mode, execute_on_date, strategy_video_id, status, created_at, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.ID, sig.SourceName, sig.Ticker, string(sig.Signal), string(sig.Mode),
		sig.ExecuteOnDate, sig.StrategyVideoID, string(sig.Status), sig.CreatedAt, data)
	return err
}

func (s *SQLiteStore) UpdateExternalSignal(ctx context.Context, sig *models.ExternalStrategySignal) error {
	data, err := marshal(sig)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE external_strategy_signals SET status=?, data=? WHERE id=?`,
		string(sig.Status), data, sig.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) TransitionSignal(ctx context.Context, id string, to models.SignalStatus, failureReason, executedTradeID string) (bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM external_strategy_signals WHERE id=?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	var sig models.ExternalStrategySignal
	if err := json.Unmarshal([]byte(data), &sig); err != nil {
		return false, fmt.Errorf("decoding signal: %w", err)
	}
	if sig.Status.IsTerminal() {
		return false, nil
	}
	now := time.Now().UTC()
	sig.Status = to
	sig.FailureReason = failureReason
	if executedTradeID != "" {
		sig.ExecutedTradeID = executedTradeID
		sig.ExecutedAt = &now
	}
	newData, err := marshal(&sig)
	if err != nil {
		return false, err
	}
	// The status guard in the WHERE clause makes the transition race-safe:
	// a concurrent terminaliser wins and this update applies zero rows.
	res, err := s.db.ExecContext(ctx,
		`UPDATE external_strategy_signals SET status=?, data=? WHERE id=? AND status='PENDING'`,
		string(to), newData, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) FindExternalSignal(ctx context.Context, key models.SignalKey) (*models.ExternalStrategySignal, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM external_strategy_signals
		 WHERE source_name=? AND ticker=? AND signal=? AND mode=? AND execute_on_date=? AND strategy_video_id=?
		 ORDER BY created_at DESC LIMIT 1`,
		key.SourceName, key.Ticker, string(key.Signal), string(key.Mode), key.ExecuteOnDate, key.StrategyVideoID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var sig models.ExternalStrategySignal
	if err := json.Unmarshal([]byte(data), &sig); err != nil {
		return nil, fmt.Errorf("decoding signal: %w", err)
	}
	return &sig, nil
}

func (s *SQLiteStore) GetDueExternalSignals(ctx context.Context, etDate string) ([]models.ExternalStrategySignal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM external_strategy_signals
		 WHERE status='PENDING' AND execute_on_date <= ?
		 ORDER BY created_at`, etDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ExternalStrategySignal
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var sig models.ExternalStrategySignal
		if err := json.Unmarshal([]byte(data), &sig); err != nil {
			return nil, fmt.Errorf("decoding signal: %w", err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

// --- auto_trade_events ---

func (s *SQLiteStore) AddEvent(ctx context.Context, e *models.AutoTradeEvent) error {
	data, err := marshal(e)
	if err != nil {
		return err
	}
	var tier any
	if t, ok := e.Metadata["tier"]; ok {
		tier = t
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO auto_trade_events (id, ticker, source, action, tier, created_at, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Ticker, e.Source, e.Action, tier, e.CreatedAt, data)
	return err
}

func (s *SQLiteStore) GetRecentEvents(ctx context.Context, limit int) ([]models.AutoTradeEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM auto_trade_events ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.AutoTradeEvent
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var e models.AutoTradeEvent
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("decoding event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetLastEvent(ctx context.Context, ticker, source, action string) (*models.AutoTradeEvent, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM auto_trade_events
		 WHERE ticker=? AND source=? AND action=?
		 ORDER BY created_at DESC LIMIT 1`, ticker, source, action).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e models.AutoTradeEvent
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, fmt.Errorf("decoding event: %w", err)
	}
	return &e, nil
}

func (s *SQLiteStore) HasTierEvent(ctx context.Context, ticker, source string, tier int) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM auto_trade_events
		 WHERE ticker=? AND source=? AND action='executed' AND tier=?`,
		ticker, source, fmt.Sprintf("%d", tier)).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// --- portfolio_snapshots ---

func (s *SQLiteStore) AddSnapshot(ctx context.Context, snap *models.PortfolioSnapshot) error {
	data, err := marshal(snap)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO portfolio_snapshots (id, day, data) VALUES (?, ?, ?)`,
		snap.ID, snap.Day, data)
	return err
}

// --- strategy_videos ---

func (s *SQLiteStore) GetTrackedVideos(ctx context.Context) ([]models.StrategyVideo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM strategy_videos WHERE status=?`, models.VideoStatusTracked)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.StrategyVideo
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var v models.StrategyVideo
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, fmt.Errorf("decoding video: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetVideo(ctx context.Context, videoID string) (*models.StrategyVideo, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM strategy_videos WHERE video_id=?`, videoID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var v models.StrategyVideo
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, fmt.Errorf("decoding video: %w", err)
	}
	return &v, nil
}

// SaveVideo upserts a catalogue entry. The ingestion pipeline is the normal
// writer; this is exposed for seeding and tests.
func (s *SQLiteStore) SaveVideo(ctx context.Context, v *models.StrategyVideo) error {
	data, err := marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO strategy_videos (video_id, status, strategy_type, trade_date, data)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(video_id) DO UPDATE SET status=excluded.status,
		   strategy_type=excluded.strategy_type, trade_date=excluded.trade_date, data=excluded.data`,
		v.VideoID, v.Status, string(v.StrategyType), v.TradeDate, data)
	return err
}

// --- trade_scans ---

func (s *SQLiteStore) SaveTradeScan(ctx context.Context, scan *models.TradeScan) error {
	data, err := marshal(scan)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO trade_scans (id, mode, fetched_at, data) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET mode=excluded.mode, fetched_at=excluded.fetched_at, data=excluded.data`,
		scan.ID, string(scan.Mode), scan.FetchedAt, data)
	if err != nil {
		return err
	}
	s.notifyTradeScan()
	return nil
}

func (s *SQLiteStore) SubscribeTradeScans() <-chan struct{} {
	ch := make(chan struct{}, 16)
	s.subMu.Lock()
	s.subs = append(s.subs, ch)
	s.subMu.Unlock()
	return ch
}

func (s *SQLiteStore) notifyTradeScan() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default: // subscriber is behind; debouncer coalesces anyway
		}
	}
}

// --- swing_metrics_daily ---

func (s *SQLiteStore) SaveSwingMetrics(ctx context.Context, m *models.SwingMetricsDaily) error {
	data, err := marshal(m)
	if err != nil {
		return err
	}
	// Re-reconciling a fill must not duplicate the metrics row.
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO swing_metrics_daily (id, trade_id, ticker, day, data) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(trade_id) DO NOTHING`,
		m.ID, m.TradeID, m.Ticker, m.Day, data)
	return err
}

// --- trade_learnings / trade_performance ---

func (s *SQLiteStore) AddTradeLearning(ctx context.Context, l *models.TradeLearning) error {
	data, err := marshal(l)
	if err != nil {
		return err
	}
	// UNIQUE(trade_id) makes the exactly-once contract hold even if a
	// rehydration pass is re-run over the same closed trades.
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO trade_learnings (id, trade_id, data) VALUES (?, ?, ?)
		 ON CONFLICT(trade_id) DO NOTHING`,
		l.ID, l.TradeID, data)
	return err
}

func (s *SQLiteStore) SaveTradePerformance(ctx context.Context, p *models.TradePerformance) error {
	p.ID = "default"
	data, err := marshal(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO trade_performance (id, data) VALUES ('default', ?)
		 ON CONFLICT(id) DO UPDATE SET data=excluded.data`, data)
	return err
}

func (s *SQLiteStore) GetTradePerformance(ctx context.Context) (*models.TradePerformance, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM trade_performance WHERE id='default'`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var p models.TradePerformance
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("decoding performance: %w", err)
	}
	return &p, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
