// Package models provides the persistent data structures of the trading core:
// the trade ledger, external strategy signals, the video catalogue, the
// audit-event log, and the runtime auto-trader configuration record.
package models

import (
	"fmt"
	"time"
)

// TradeMode classifies the holding horizon of a trade.
type TradeMode string

const (
	ModeDayTrade TradeMode = "DAY_TRADE"
	ModeSwing    TradeMode = "SWING_TRADE"
	ModeLongTerm TradeMode = "LONG_TERM"
)

// TradeSignal is the direction of a trade.
type TradeSignal string

const (
	SignalBuy  TradeSignal = "BUY"
	SignalSell TradeSignal = "SELL"
)

// TradeStatus is the lifecycle state of a ledger row.
type TradeStatus string

const (
	StatusPending   TradeStatus = "PENDING"
	StatusSubmitted TradeStatus = "SUBMITTED"
	StatusFilled    TradeStatus = "FILLED"
	StatusPartial   TradeStatus = "PARTIAL"
	StatusStopped   TradeStatus = "STOPPED"
	StatusTargetHit TradeStatus = "TARGET_HIT"
	StatusClosed    TradeStatus = "CLOSED"
	StatusCancelled TradeStatus = "CANCELLED"
	StatusRejected  TradeStatus = "REJECTED"
)

// CloseReason explains why a trade left the book.
type CloseReason string

const (
	CloseTargetHit CloseReason = "target_hit"
	CloseStopLoss  CloseReason = "stop_loss"
	CloseManual    CloseReason = "manual"
)

// EntryTrigger records which subsystem originated the entry order.
type EntryTrigger string

const (
	TriggerMarket       EntryTrigger = "market"
	TriggerBracketLimit EntryTrigger = "bracket_limit"
	TriggerDipBuy       EntryTrigger = "dip_buy"
	TriggerProfitTake   EntryTrigger = "profit_take"
	TriggerLossCut      EntryTrigger = "loss_cut"
)

// validTransitions is the allowed status graph for a ledger row. PENDING and
// SUBMITTED may fork to CANCELLED/REJECTED; once filled, only the three
// close states are reachable.
var validTransitions = map[TradeStatus][]TradeStatus{
	StatusPending:   {StatusSubmitted, StatusFilled, StatusPartial, StatusCancelled, StatusRejected, StatusClosed},
	StatusSubmitted: {StatusFilled, StatusPartial, StatusCancelled, StatusRejected, StatusClosed},
	StatusPartial:   {StatusFilled, StatusStopped, StatusTargetHit, StatusClosed},
	StatusFilled:    {StatusStopped, StatusTargetHit, StatusClosed},
}

// EntryLog carries the collect-only indicator snapshot taken when a swing
// trade fills. Nothing is gated on these values.
type EntryLog struct {
	DistFrom20MAPct *float64 `json:"dist_from_20ma_pct,omitempty"`
	MACDHistSlope   string   `json:"macd_hist_slope,omitempty"` // increasing | decreasing
	VolumeVsAvg10   *float64 `json:"volume_vs_avg10,omitempty"`
	RegimeAlignment string   `json:"regime_alignment,omitempty"` // above_both | below_both | mixed
}

// Trade is one row of the internal trade ledger. Rows are created by the
// executor and thereafter mutated only by the reconciler and the position
// manager; they are never deleted.
type Trade struct {
	ID     string      `json:"id"`
	Ticker string      `json:"ticker"`
	Mode   TradeMode   `json:"mode"`
	Signal TradeSignal `json:"signal"`

	StrategySource       string `json:"strategy_source,omitempty"`
	StrategyURL          string `json:"strategy_url,omitempty"`
	StrategyVideoID      string `json:"strategy_video_id,omitempty"`
	StrategyVideoHeading string `json:"strategy_video_heading,omitempty"`

	ScannerConfidence float64 `json:"scanner_confidence,omitempty"`
	FAConfidence      float64 `json:"fa_confidence,omitempty"`
	FARecommendation  string  `json:"fa_recommendation,omitempty"`

	EntryPrice   float64 `json:"entry_price"`
	StopLoss     float64 `json:"stop_loss"`
	TargetPrice  float64 `json:"target_price"`
	TargetPrice2 float64 `json:"target_price_2,omitempty"`
	RiskReward   string  `json:"risk_reward,omitempty"` // "1:X"

	Quantity     int     `json:"quantity"`
	PositionSize float64 `json:"position_size"` // dollars at entry
	IBOrderID    string  `json:"ib_order_id,omitempty"`

	Status     TradeStatus `json:"status"`
	FillPrice  float64     `json:"fill_price,omitempty"`
	ClosePrice float64     `json:"close_price,omitempty"`
	PnL        float64     `json:"pnl,omitempty"`
	PnLPercent float64     `json:"pnl_percent,omitempty"`
	RMultiple  float64     `json:"r_multiple,omitempty"`

	OpenedAt time.Time  `json:"opened_at"`
	FilledAt *time.Time `json:"filled_at,omitempty"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`

	CloseReason  CloseReason  `json:"close_reason,omitempty"`
	EntryTrigger EntryTrigger `json:"entry_trigger,omitempty"`
	Notes        string       `json:"notes,omitempty"`

	EntryLog EntryLog `json:"entry_log,omitempty"`
}

// IsActive reports whether the trade still occupies (or may occupy) a
// position: PENDING, SUBMITTED, FILLED or PARTIAL.
func (t *Trade) IsActive() bool {
	switch t.Status {
	case StatusPending, StatusSubmitted, StatusFilled, StatusPartial:
		return true
	}
	return false
}

// IsTerminal reports whether the trade has reached a final state.
func (t *Trade) IsTerminal() bool { return !t.IsActive() }

// CanTransition reports whether moving the trade from its current status to
// the target status is a legal ledger transition.
func (t *Trade) CanTransition(to TradeStatus) bool {
	for _, allowed := range validTransitions[t.Status] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves the trade to the target status, enforcing the status
// graph. Callers remain responsible for setting the timestamps that the
// ledger invariants tie to each state (FilledAt, ClosedAt).
func (t *Trade) Transition(to TradeStatus) error {
	if t.Status == to {
		return nil
	}
	if !t.CanTransition(to) {
		return fmt.Errorf("invalid trade transition %s -> %s for %s", t.Status, to, t.Ticker)
	}
	t.Status = to
	return nil
}

// ComputeRMultiple returns realised profit in units of initial per-share
// risk |entry-stop|, sign-flipped for short trades. Zero when the stop and
// entry are unset or equal.
func (t *Trade) ComputeRMultiple(closePrice float64) float64 {
	if t.EntryPrice == 0 || t.StopLoss == 0 {
		return 0
	}
	risk := t.EntryPrice - t.StopLoss
	if risk < 0 {
		risk = -risk
	}
	if risk == 0 {
		return 0
	}
	move := closePrice - t.FillPrice
	if t.Signal == SignalSell {
		move = -move
	}
	return move / risk
}

// UnrealizedPnL computes the mark-to-market P&L for a filled trade at the
// given market price.
func (t *Trade) UnrealizedPnL(mktPrice float64) (pnl, pnlPct float64) {
	if t.FillPrice <= 0 || mktPrice <= 0 {
		return 0, 0
	}
	move := mktPrice - t.FillPrice
	if t.Signal == SignalSell {
		move = -move
	}
	pnl = move * float64(t.Quantity)
	pnlPct = move / t.FillPrice * 100
	return pnl, pnlPct
}
