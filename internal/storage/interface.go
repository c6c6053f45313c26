// Package storage provides the datastore contract for the trading core and
// a sqlite-backed implementation.
package storage

import (
	"context"

	"github.com/dfalkner/autotrader/internal/models"
)

// ScopeFilter narrows closed-trade queries to a deactivation scope. Empty
// fields are wildcards.
type ScopeFilter struct {
	SourceName      string
	StrategyVideoID string
	Mode            models.TradeMode
}

// Interface defines the contract for trading-core persistence.
//
// Implementations must be safe for concurrent use - callers can assume all
// methods are goroutine-safe. Status transitions on external signals must be
// idempotent: moving an already-terminal signal is a no-op that reports
// applied=false.
type Interface interface {
	// Runtime configuration (singleton record keyed "default").
	GetAutoTraderConfig(ctx context.Context) (*models.AutoTraderConfig, error)
	SaveAutoTraderConfig(ctx context.Context, cfg *models.AutoTraderConfig) error

	// Trade ledger.
	AddTrade(ctx context.Context, t *models.Trade) error
	UpdateTrade(ctx context.Context, t *models.Trade) error
	GetTrade(ctx context.Context, id string) (*models.Trade, error)
	GetActiveTrades(ctx context.Context) ([]models.Trade, error)
	GetActiveTradesByTicker(ctx context.Context, ticker string) ([]models.Trade, error)
	GetRecentClosedTrades(ctx context.Context, scope ScopeFilter, limit int) ([]models.Trade, error)
	GetClosedTradesWithoutLearning(ctx context.Context) ([]models.Trade, error)

	// External strategy signals.
	AddExternalSignal(ctx context.Context, s *models.ExternalStrategySignal) error
	UpdateExternalSignal(ctx context.Context, s *models.ExternalStrategySignal) error
	// TransitionSignal moves a signal out of PENDING. It returns
	// applied=false without error when the signal is already terminal.
	TransitionSignal(ctx context.Context, id string, to models.SignalStatus, failureReason, executedTradeID string) (applied bool, err error)
	FindExternalSignal(ctx context.Context, key models.SignalKey) (*models.ExternalStrategySignal, error)
	GetDueExternalSignals(ctx context.Context, etDate string) ([]models.ExternalStrategySignal, error)

	// Audit event log (append-only).
	AddEvent(ctx context.Context, e *models.AutoTradeEvent) error
	GetRecentEvents(ctx context.Context, limit int) ([]models.AutoTradeEvent, error)
	// GetLastEvent returns the most recent event matching ticker, source and
	// action, or nil.
	GetLastEvent(ctx context.Context, ticker, source, action string) (*models.AutoTradeEvent, error)
	// HasTierEvent reports whether an executed event for the source/ticker
	// already carries metadata tier=<tier>.
	HasTierEvent(ctx context.Context, ticker, source string, tier int) (bool, error)

	// Daily snapshots.
	AddSnapshot(ctx context.Context, s *models.PortfolioSnapshot) error

	// Strategy-video catalogue (read-only from this core).
	GetTrackedVideos(ctx context.Context) ([]models.StrategyVideo, error)
	GetVideo(ctx context.Context, videoID string) (*models.StrategyVideo, error)

	// Scanner-result cache; writes fan out to realtime subscribers.
	SaveTradeScan(ctx context.Context, scan *models.TradeScan) error
	// SubscribeTradeScans returns a channel receiving one element per
	// insert/update on the trade_scans table through this store.
	SubscribeTradeScans() <-chan struct{}

	// Swing entry-condition metrics, one row per filled swing trade.
	SaveSwingMetrics(ctx context.Context, m *models.SwingMetricsDaily) error

	// Post-hoc learning records.
	AddTradeLearning(ctx context.Context, l *models.TradeLearning) error
	SaveTradePerformance(ctx context.Context, p *models.TradePerformance) error
	GetTradePerformance(ctx context.Context) (*models.TradePerformance, error)

	// Health.
	Ping(ctx context.Context) error
	Close() error
}

// Ensure implementations satisfy the contract at compile time.
var (
	_ Interface = (*SQLiteStore)(nil)
	_ Interface = (*MockStore)(nil)
)
