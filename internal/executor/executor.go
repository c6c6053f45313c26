// Package executor places broker orders and records the resulting ledger
// trades, deployment counters and events.
package executor

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/dfalkner/autotrader/internal/broker"
	"github.com/dfalkner/autotrader/internal/models"
	"github.com/dfalkner/autotrader/internal/storage"
	"github.com/dfalkner/autotrader/internal/util"
)

// Request describes one entry order to place and record.
type Request struct {
	Ticker   string
	Signal   models.TradeSignal
	Mode     models.TradeMode
	Quantity int
	Price    float64 // reference price for dollar sizing when market

	// Bracket levels; a bracket is placed only when all three are set.
	EntryPrice  float64
	StopLoss    float64
	TargetPrice float64

	TargetPrice2 float64
	RiskReward   string // "1:X"

	Source            string
	SourceName        string
	StrategyURL       string
	StrategyVideoID   string
	VideoHeading      string
	ScannerConfidence float64
	FAConfidence      float64
	FARecommendation  string
	Notes             string

	// Tier stamps the executed event for dip-buy/trim/cut dedup. Zero means
	// untiered.
	Tier int

	// Trigger overrides the recorded entry trigger so position-loop orders
	// keep their provenance (dip_buy, profit_take, loss_cut). Empty means the
	// placement path decides (market or bracket_limit).
	Trigger models.EntryTrigger
}

// Executor wires order placement to ledger and state bookkeeping.
type Executor struct {
	broker broker.Broker
	store  storage.Interface
	clock  util.Clock
	logger *log.Logger
}

// New builds an executor.
func New(b broker.Broker, store storage.Interface, clock util.Clock, logger *log.Logger) *Executor {
	return &Executor{broker: b, store: store, clock: clock, logger: logger}
}

// priceTick is the penny tick bracket limit prices are rounded to.
const priceTick = 0.01

func sideFor(signal models.TradeSignal) broker.Side {
	if signal == models.SignalSell {
		return broker.SideSell
	}
	return broker.SideBuy
}

func tifFor(mode models.TradeMode) broker.TIF {
	if mode == models.ModeDayTrade {
		return broker.TIFDay
	}
	return broker.TIFGTC
}

// Execute looks up the contract, places a bracket when all three levels are
// present (market otherwise), persists the SUBMITTED ledger row, bumps the
// deployment counters and appends an event. A placement failure returns an
// error and writes nothing to the ledger.
func (e *Executor) Execute(ctx context.Context, req Request, state *models.OrchestratorState) (*models.Trade, error) {
	contract, err := e.broker.SearchContract(ctx, req.Ticker)
	if err != nil {
		return nil, fmt.Errorf("contract lookup for %s: %w", req.Ticker, err)
	}
	if contract == nil {
		return nil, fmt.Errorf("no contract found for %s", req.Ticker)
	}

	side := sideFor(req.Signal)
	trigger := models.TriggerMarket
	var orderID string

	if req.EntryPrice > 0 && req.StopLoss > 0 && req.TargetPrice > 0 {
		resp, err := e.broker.PlaceBracket(ctx, broker.BracketOrder{
			Symbol:     req.Ticker,
			Side:       side,
			Quantity:   req.Quantity,
			EntryPrice: util.RoundToTick(req.EntryPrice, priceTick),
			StopLoss:   util.RoundToTick(req.StopLoss, priceTick),
			TakeProfit: util.RoundToTick(req.TargetPrice, priceTick),
			TIF:        tifFor(req.Mode),
		})
		if err != nil {
			return nil, fmt.Errorf("placing bracket for %s: %w", req.Ticker, err)
		}
		orderID = resp.ID()
		trigger = models.TriggerBracketLimit
	} else {
		resp, err := e.broker.PlaceMarket(ctx, broker.MarketOrder{
			Symbol:   req.Ticker,
			Side:     side,
			Quantity: req.Quantity,
		})
		if err != nil {
			return nil, fmt.Errorf("placing market order for %s: %w", req.Ticker, err)
		}
		orderID = resp.ID()
	}
	if req.Trigger != "" {
		trigger = req.Trigger
	}

	refPrice := req.EntryPrice
	if refPrice <= 0 {
		refPrice = req.Price
	}
	dollars := float64(req.Quantity) * refPrice

	now := e.clock.Now()
	trade := &models.Trade{
		ID:                   uuid.NewString(),
		Ticker:               req.Ticker,
		Mode:                 req.Mode,
		Signal:               req.Signal,
		StrategySource:       req.SourceName,
		StrategyURL:          req.StrategyURL,
		StrategyVideoID:      req.StrategyVideoID,
		StrategyVideoHeading: req.VideoHeading,
		ScannerConfidence:    req.ScannerConfidence,
		FAConfidence:         req.FAConfidence,
		FARecommendation:     req.FARecommendation,
		EntryPrice:           req.EntryPrice,
		StopLoss:             req.StopLoss,
		TargetPrice:          req.TargetPrice,
		TargetPrice2:         req.TargetPrice2,
		RiskReward:           req.RiskReward,
		Quantity:             req.Quantity,
		PositionSize:         dollars,
		IBOrderID:            orderID,
		Status:               models.StatusSubmitted,
		OpenedAt:             now,
		EntryTrigger:         trigger,
		Notes:                req.Notes,
	}
	if err := e.store.AddTrade(ctx, trade); err != nil {
		// The order is live; the ledger row failing is logged, not fatal.
		e.logger.Printf("ERROR: order %s placed but ledger write failed for %s: %v", orderID, req.Ticker, err)
	}

	state.RecordDeployed(util.ETDay(now), dollars)

	event := &models.AutoTradeEvent{
		ID:        uuid.NewString(),
		Ticker:    req.Ticker,
		EventType: models.EventSuccess,
		Action:    models.ActionExecuted,
		Source:    req.Source,
		Mode:      req.Mode,
		Message:   fmt.Sprintf("%s %d %s @ %s (%s)", side, req.Quantity, req.Ticker, priceLabel(req), trigger),
		Metadata:  map[string]string{"order_id": orderID, "trade_id": trade.ID},
		CreatedAt: now,
	}
	if req.Tier > 0 {
		event.Metadata["tier"] = fmt.Sprintf("%d", req.Tier)
	}
	if err := e.store.AddEvent(ctx, event); err != nil {
		e.logger.Printf("Warning: event write failed for %s: %v", req.Ticker, err)
	}

	e.logger.Printf("Executed %s: %s %d shares, $%.0f, order %s", req.Ticker, side, req.Quantity, dollars, orderID)
	return trade, nil
}

func priceLabel(req Request) string {
	if req.EntryPrice > 0 {
		return fmt.Sprintf("%.2f limit", req.EntryPrice)
	}
	return "market"
}

// RecordSkip appends a skipped-action event so filtered candidates stay
// visible in the activity feed.
func (e *Executor) RecordSkip(ctx context.Context, ticker string, source string, mode models.TradeMode, slug, reason string) {
	event := &models.AutoTradeEvent{
		ID:        uuid.NewString(),
		Ticker:    ticker,
		EventType: models.EventWarning,
		Action:    models.ActionSkipped,
		Source:    source,
		Mode:      mode,
		Message:   reason,
		Metadata:  map[string]string{"slug": slug},
		CreatedAt: e.clock.Now(),
	}
	if err := e.store.AddEvent(ctx, event); err != nil {
		e.logger.Printf("Warning: skip event write failed for %s: %v", ticker, err)
	}
}

// RecordFailure appends a failed-action event.
func (e *Executor) RecordFailure(ctx context.Context, ticker string, source string, mode models.TradeMode, reason string) {
	event := &models.AutoTradeEvent{
		ID:        uuid.NewString(),
		Ticker:    ticker,
		EventType: models.EventError,
		Action:    models.ActionFailed,
		Source:    source,
		Mode:      mode,
		Message:   reason,
		CreatedAt: e.clock.Now(),
	}
	if err := e.store.AddEvent(ctx, event); err != nil {
		e.logger.Printf("Warning: failure event write failed for %s: %v", ticker, err)
	}
}
