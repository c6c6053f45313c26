package models

import "time"

// EnrichedPosition is one broker position joined with a live quote. It is
// ephemeral, rebuilt every cycle.
type EnrichedPosition struct {
	Symbol        string  `json:"symbol"`
	Position      float64 `json:"position"` // signed; negative = short
	AvgCost       float64 `json:"avg_cost"`
	ContractID    int64   `json:"contract_id"`
	MktPrice      float64 `json:"mkt_price"`
	MktValue      float64 `json:"mkt_value"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// SnapshotPosition is the per-symbol slice of a daily snapshot.
type SnapshotPosition struct {
	Symbol        string  `json:"symbol"`
	Position      float64 `json:"position"`
	AvgCost       float64 `json:"avg_cost"`
	MktPrice      float64 `json:"mkt_price"`
	MktValue      float64 `json:"mkt_value"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// PortfolioSnapshot is the once-per-day persisted account picture.
type PortfolioSnapshot struct {
	ID             string             `json:"id"`
	AccountID      string             `json:"account_id"`
	Day            string             `json:"day"` // ET calendar date
	TotalValue     float64            `json:"total_value"`
	TotalPnL       float64            `json:"total_pnl"`
	Positions      []SnapshotPosition `json:"positions"`
	OpenTradeCount int                `json:"open_trade_count"`
	CreatedAt      time.Time          `json:"created_at"`
}

// TradeIdea is one candidate row returned by the external scanner service.
type TradeIdea struct {
	Ticker          string      `json:"ticker"`
	Name            string      `json:"name,omitempty"`
	Price           float64     `json:"price"`
	Change          float64     `json:"change"`
	ChangePercent   float64     `json:"changePercent"`
	Signal          TradeSignal `json:"signal"`
	Confidence      float64     `json:"confidence"` // 0-10
	Reason          string      `json:"reason,omitempty"`
	Tags            []string    `json:"tags,omitempty"`
	Mode            TradeMode   `json:"mode"`
	InPlayScore     float64     `json:"in_play_score,omitempty"`
	Pass1Confidence float64     `json:"pass1_confidence,omitempty"`
	MarketCondition string      `json:"market_condition,omitempty"`
}

// TradeScan is one cached scanner response row; inserts/updates on this
// table drive the realtime execution path.
type TradeScan struct {
	ID        string      `json:"id"`
	Mode      TradeMode   `json:"mode"`
	Ideas     []TradeIdea `json:"ideas"`
	FetchedAt time.Time   `json:"fetched_at"`
}

// TradeLearning is the structured post-hoc record emitted exactly once per
// closed trade during rehydration.
type TradeLearning struct {
	ID          string      `json:"id"`
	TradeID     string      `json:"trade_id"`
	Ticker      string      `json:"ticker"`
	Mode        TradeMode   `json:"mode"`
	Signal      TradeSignal `json:"signal"`
	CloseReason CloseReason `json:"close_reason"`
	PnL         float64     `json:"pnl"`
	PnLPercent  float64     `json:"pnl_percent"`
	RMultiple   float64     `json:"r_multiple"`
	HoldDays    int         `json:"hold_days"`
	Source      string      `json:"source,omitempty"` // event-log source tag
	CreatedAt   time.Time   `json:"created_at"`
}

// TradePerformance is the aggregate win-rate record recomputed after each
// rehydration batch.
type TradePerformance struct {
	ID           string    `json:"id"` // "default"
	TotalTrades  int       `json:"total_trades"`
	Wins         int       `json:"wins"`
	Losses       int       `json:"losses"`
	WinRate      float64   `json:"win_rate"`
	TotalPnL     float64   `json:"total_pnl"`
	AvgRMultiple float64   `json:"avg_r_multiple"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// OrchestratorState is the process-lifetime mutable state owned by the
// orchestrator and mutated only under the cycle lock.
type OrchestratorState struct {
	Running    bool      `json:"running"`
	LastRun    time.Time `json:"last_run"`
	LastResult string    `json:"last_result"`
	RunCount   int       `json:"run_count"`

	LastSuggestedFindsDate string `json:"last_suggested_finds_date"`
	LastSnapshotDate       string `json:"last_snapshot_date"`
	LastRehydrationDate    string `json:"last_rehydration_date"`

	PendingDeployedDollar float64 `json:"pending_deployed_dollar"`
	DailyDeployedDollar   float64 `json:"daily_deployed_dollar"`
	DailyDeployedDate     string  `json:"daily_deployed_date"`

	ProcessedTickers     map[string]bool `json:"processed_tickers"`
	ProcessedTickersDate string          `json:"processed_tickers_date"`
}

// NewOrchestratorState returns a zeroed state with allocated sets.
func NewOrchestratorState() *OrchestratorState {
	return &OrchestratorState{ProcessedTickers: make(map[string]bool)}
}

// RollDay clears the per-ET-day scoped fields when the calendar day given
// differs from the recorded one.
func (s *OrchestratorState) RollDay(day string) {
	if s.ProcessedTickersDate != day {
		s.ProcessedTickers = make(map[string]bool)
		s.ProcessedTickersDate = day
	}
	if s.DailyDeployedDate != day {
		s.DailyDeployedDollar = 0
		s.DailyDeployedDate = day
	}
}

// RecordDeployed bumps both the optimistic pending counter and the daily
// deployment counter after an order is placed.
func (s *OrchestratorState) RecordDeployed(day string, dollars float64) {
	if s.DailyDeployedDate != day {
		s.DailyDeployedDollar = 0
		s.DailyDeployedDate = day
	}
	s.PendingDeployedDollar += dollars
	s.DailyDeployedDollar += dollars
}

// BotStatus is the orchestrator status surface served by the dashboard.
type BotStatus struct {
	TriggersActive  bool   `json:"triggers_active"`
	Running         bool   `json:"running"`
	LastRun         string `json:"last_run"`
	LastResult      string `json:"last_result"`
	RunCount        int    `json:"run_count"`
	BrokerConnected bool   `json:"broker_connected"`
	ConfigLoaded    bool   `json:"config_loaded"`
	Enabled         bool   `json:"enabled"`
}

// SwingMetricsDaily is the per-fill swing entry-condition record persisted
// alongside the trade's embedded entry log. Collect-only; nothing gates on
// these values.
type SwingMetricsDaily struct {
	ID              string    `json:"id"`
	TradeID         string    `json:"trade_id"`
	Ticker          string    `json:"ticker"`
	Day             string    `json:"day"` // ET calendar date of the fill
	DistFrom20MAPct *float64  `json:"dist_from_20ma_pct,omitempty"`
	MACDHistSlope   string    `json:"macd_hist_slope,omitempty"`
	VolumeVsAvg10   *float64  `json:"volume_vs_avg10,omitempty"`
	RegimeAlignment string    `json:"regime_alignment,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
