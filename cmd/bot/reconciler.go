package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/dfalkner/autotrader/internal/broker"
	"github.com/dfalkner/autotrader/internal/marketdata"
	"github.com/dfalkner/autotrader/internal/models"
	"github.com/dfalkner/autotrader/internal/storage"
	"github.com/dfalkner/autotrader/internal/util"
)

// Unfilled-order expiry windows.
const (
	dayOrderExpiry   = 24 * time.Hour
	swingOrderExpiry = 48 * time.Hour // roughly two trading days
)

// Reconciler diffs broker positions against active ledger rows and writes
// fills, mark-to-market P&L, external closes and expirations. Every write is
// idempotent: re-running over identical inputs produces no further changes.
type Reconciler struct {
	store  storage.Interface
	broker broker.Broker
	data   marketdata.Provider
	broad  string
	clock  util.Clock
	logger *log.Logger
}

// NewReconciler builds a reconciler. broad is the macro-regime reference
// symbol used for swing entry logs.
func NewReconciler(store storage.Interface, b broker.Broker, data marketdata.Provider, broad string, clock util.Clock, logger *log.Logger) *Reconciler {
	return &Reconciler{store: store, broker: b, data: data, broad: broad, clock: clock, logger: logger}
}

// Reconcile evaluates each active ledger row independently against the
// broker position for its ticker. A failed write on one trade never stops
// the sweep.
func (r *Reconciler) Reconcile(ctx context.Context, positions []models.EnrichedPosition, active []models.Trade) {
	byTicker := make(map[string]models.EnrichedPosition, len(positions))
	for _, p := range positions {
		if p.Position != 0 {
			byTicker[p.Symbol] = p
		}
	}

	for i := range active {
		t := &active[i]
		pos, held := byTicker[t.Ticker]
		switch {
		case held && (t.Status == models.StatusPending || t.Status == models.StatusSubmitted):
			r.markFilled(ctx, t, pos)
		case held && t.Status == models.StatusFilled:
			r.refreshPnL(ctx, t, pos)
		case !held && t.Status == models.StatusFilled:
			r.closeExternally(ctx, t)
		case !held && t.Status == models.StatusSubmitted:
			r.expireIfStale(ctx, t)
		}
	}
}

// markFilled transitions a pending/submitted row to FILLED at the broker's
// average cost.
func (r *Reconciler) markFilled(ctx context.Context, t *models.Trade, pos models.EnrichedPosition) {
	if err := t.Transition(models.StatusFilled); err != nil {
		r.logger.Printf("Warning: %v", err)
		return
	}
	now := r.clock.Now()
	t.FillPrice = pos.AvgCost
	t.FilledAt = &now
	if err := r.store.UpdateTrade(ctx, t); err != nil {
		r.logger.Printf("ERROR: persisting fill for %s: %v", t.Ticker, err)
		return
	}
	r.logger.Printf("Filled: %s %s %d @ %.2f", t.Signal, t.Ticker, t.Quantity, t.FillPrice)

	if t.Mode == models.ModeSwing {
		r.collectSwingMetrics(ctx, t)
	}
}

// collectSwingMetrics snapshots the entry-condition indicators for a freshly
// filled swing trade. Collect-only; indicator failures are logged and
// swallowed.
func (r *Reconciler) collectSwingMetrics(ctx context.Context, t *models.Trade) {
	bars, err := r.data.DailyBars(ctx, t.Ticker)
	if err != nil {
		r.logger.Printf("Warning: daily bars unavailable for %s, skipping entry log: %v", t.Ticker, err)
		return
	}
	t.EntryLog = models.EntryLog{
		DistFrom20MAPct: marketdata.DistFromSMA20Pct(bars.Closes, t.FillPrice),
		MACDHistSlope:   marketdata.MACDHistSlope(bars.Closes),
		VolumeVsAvg10:   marketdata.VolumeVsAvg10(bars.Volumes),
	}
	if broadBars, err := r.data.DailyBars(ctx, r.broad); err == nil {
		t.EntryLog.RegimeAlignment = marketdata.RegimeAlignment(broadBars.Closes)
	}
	if err := r.store.UpdateTrade(ctx, t); err != nil {
		r.logger.Printf("Warning: persisting entry log for %s: %v", t.Ticker, err)
		return
	}
	if err := r.store.SaveSwingMetrics(ctx, &models.SwingMetricsDaily{
		ID:              uuid.NewString(),
		TradeID:         t.ID,
		Ticker:          t.Ticker,
		Day:             util.ETDay(r.clock.Now()),
		DistFrom20MAPct: t.EntryLog.DistFrom20MAPct,
		MACDHistSlope:   t.EntryLog.MACDHistSlope,
		VolumeVsAvg10:   t.EntryLog.VolumeVsAvg10,
		RegimeAlignment: t.EntryLog.RegimeAlignment,
		CreatedAt:       r.clock.Now(),
	}); err != nil {
		r.logger.Printf("Warning: persisting swing metrics for %s: %v", t.Ticker, err)
	}
}

// refreshPnL recomputes unrealized P&L for a filled row against the current
// mark. Skipped when either price is unknown.
func (r *Reconciler) refreshPnL(ctx context.Context, t *models.Trade, pos models.EnrichedPosition) {
	if pos.MktPrice <= 0 || t.FillPrice <= 0 {
		return
	}
	pnl, pnlPct := t.UnrealizedPnL(pos.MktPrice)
	if pnl == t.PnL && pnlPct == t.PnLPercent {
		return // nothing changed; keep the sweep idempotent
	}
	t.PnL = pnl
	t.PnLPercent = pnlPct
	if err := r.store.UpdateTrade(ctx, t); err != nil {
		r.logger.Printf("ERROR: persisting P&L for %s: %v", t.Ticker, err)
	}
}

// closeExternally finalises a filled row whose broker position vanished: a
// bracket child hit or the position was closed by hand.
func (r *Reconciler) closeExternally(ctx context.Context, t *models.Trade) {
	closePrice := t.FillPrice // zero-P&L fallback
	if quote, err := r.data.Quote(ctx, t.Ticker); err == nil && quote > 0 {
		closePrice = quote
	}

	reason := inferCloseReason(t, closePrice)
	status := models.StatusClosed
	switch reason {
	case models.CloseTargetHit:
		status = models.StatusTargetHit
	case models.CloseStopLoss:
		status = models.StatusStopped
	}
	if err := t.Transition(status); err != nil {
		r.logger.Printf("Warning: %v", err)
		return
	}

	now := r.clock.Now()
	move := closePrice - t.FillPrice
	if t.Signal == models.SignalSell {
		move = -move
	}
	t.ClosePrice = closePrice
	t.PnL = move * float64(t.Quantity)
	if t.FillPrice > 0 {
		t.PnLPercent = move / t.FillPrice * 100
	}
	t.RMultiple = t.ComputeRMultiple(closePrice)
	t.ClosedAt = &now
	t.CloseReason = reason
	if err := r.store.UpdateTrade(ctx, t); err != nil {
		r.logger.Printf("ERROR: persisting close for %s: %v", t.Ticker, err)
		return
	}
	r.logger.Printf("Closed externally: %s %s @ %.2f (%s, pnl %.2f)", t.Ticker, status, closePrice, reason, t.PnL)
}

// inferCloseReason tests the close price against the recorded stop/target
// when both exist, falling back on the P&L sign.
func inferCloseReason(t *models.Trade, closePrice float64) models.CloseReason {
	if t.StopLoss > 0 && t.TargetPrice > 0 {
		if t.Signal == models.SignalBuy {
			if closePrice >= t.TargetPrice {
				return models.CloseTargetHit
			}
			if closePrice <= t.StopLoss {
				return models.CloseStopLoss
			}
		} else {
			if closePrice <= t.TargetPrice {
				return models.CloseTargetHit
			}
			if closePrice >= t.StopLoss {
				return models.CloseStopLoss
			}
		}
	}
	move := closePrice - t.FillPrice
	if t.Signal == models.SignalSell {
		move = -move
	}
	switch {
	case move > 0:
		return models.CloseTargetHit
	case move < 0:
		return models.CloseStopLoss
	default:
		return models.CloseManual
	}
}

// expireIfStale closes never-filled orders past their mode's patience
// window, cancelling lingering swing brackets at the broker first.
func (r *Reconciler) expireIfStale(ctx context.Context, t *models.Trade) {
	age := r.clock.Now().Sub(t.OpenedAt)
	switch {
	case t.Mode == models.ModeDayTrade && age > dayOrderExpiry:
		r.expire(ctx, t, "Expired: DAY order not filled within 1 day")
	case t.Mode == models.ModeSwing && t.EntryTrigger == models.TriggerBracketLimit && age > swingOrderExpiry:
		if t.IBOrderID != "" {
			if err := r.broker.CancelOrder(ctx, t.IBOrderID); err != nil {
				r.logger.Printf("Warning: cancelling order %s for %s: %v", t.IBOrderID, t.Ticker, err)
			}
		}
		r.expire(ctx, t, "Expired: SWING bracket not filled within 2 trading days")
	}
}

func (r *Reconciler) expire(ctx context.Context, t *models.Trade, note string) {
	if err := t.Transition(models.StatusClosed); err != nil {
		r.logger.Printf("Warning: %v", err)
		return
	}
	now := r.clock.Now()
	t.ClosedAt = &now
	t.CloseReason = models.CloseManual
	if t.Notes == "" {
		t.Notes = note
	} else {
		t.Notes = fmt.Sprintf("%s | %s", t.Notes, note)
	}
	if err := r.store.UpdateTrade(ctx, t); err != nil {
		r.logger.Printf("ERROR: persisting expiry for %s: %v", t.Ticker, err)
		return
	}
	r.logger.Printf("Expired unfilled order: %s (%s)", t.Ticker, note)
}
