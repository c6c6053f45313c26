package models

import "time"

// SignalStatus is the lifecycle state of an external strategy signal.
// PENDING is the only non-terminal state; the status field doubles as a
// lightweight lock for idempotent execution.
type SignalStatus string

const (
	SignalPending   SignalStatus = "PENDING"
	SignalExecuted  SignalStatus = "EXECUTED"
	SignalFailed    SignalStatus = "FAILED"
	SignalSkipped   SignalStatus = "SKIPPED"
	SignalExpired   SignalStatus = "EXPIRED"
	SignalCancelled SignalStatus = "CANCELLED"
)

// IsTerminal reports whether the status is final.
func (s SignalStatus) IsTerminal() bool { return s != SignalPending }

// ExternalStrategySignal is a persistent candidate trade written by an
// upstream process (video-derived or hand-authored) and consumed by the
// execution pipeline.
type ExternalStrategySignal struct {
	ID                   string      `json:"id"`
	SourceName           string      `json:"source_name"`
	SourceURL            string      `json:"source_url,omitempty"`
	StrategyVideoID      string      `json:"strategy_video_id,omitempty"`
	StrategyVideoHeading string      `json:"strategy_video_heading,omitempty"`
	Ticker               string      `json:"ticker"`
	Signal               TradeSignal `json:"signal"`
	Mode                 TradeMode   `json:"mode"`
	Confidence           int         `json:"confidence"` // 1-10

	EntryPrice  *float64 `json:"entry_price,omitempty"`
	StopLoss    *float64 `json:"stop_loss,omitempty"`
	TargetPrice *float64 `json:"target_price,omitempty"`

	PositionSizeOverride *float64 `json:"position_size_override,omitempty"`

	ExecuteOnDate string     `json:"execute_on_date"` // ET calendar date, "2006-01-02"
	ExecuteAt     *time.Time `json:"execute_at,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Notes         string     `json:"notes,omitempty"`

	Status        SignalStatus `json:"status"`
	FailureReason string       `json:"failure_reason,omitempty"`

	ExecutedTradeID string     `json:"executed_trade_id,omitempty"`
	ExecutedAt      *time.Time `json:"executed_at,omitempty"`

	// Generic-strategy allocation split. Persisted so a deferred signal
	// keeps its group across cycles.
	AllocationSplit int `json:"allocation_split,omitempty"`
	AllocationIndex int `json:"allocation_index,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// SignalKey is the idempotency key for queued signals: at most one
// non-terminal signal may exist per key.
type SignalKey struct {
	SourceName      string
	Ticker          string
	Signal          TradeSignal
	Mode            TradeMode
	ExecuteOnDate   string
	StrategyVideoID string
}

// Key returns the signal's idempotency key.
func (s *ExternalStrategySignal) Key() SignalKey {
	return SignalKey{
		SourceName:      s.SourceName,
		Ticker:          s.Ticker,
		Signal:          s.Signal,
		Mode:            s.Mode,
		ExecuteOnDate:   s.ExecuteOnDate,
		StrategyVideoID: s.StrategyVideoID,
	}
}
