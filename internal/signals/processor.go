package signals

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/dfalkner/autotrader/internal/candidates"
	"github.com/dfalkner/autotrader/internal/executor"
	"github.com/dfalkner/autotrader/internal/marketdata"
	"github.com/dfalkner/autotrader/internal/models"
	"github.com/dfalkner/autotrader/internal/risk"
	"github.com/dfalkner/autotrader/internal/sizing"
	"github.com/dfalkner/autotrader/internal/storage"
	"github.com/dfalkner/autotrader/internal/util"
)

// Env is the per-cycle context shared by signal processing: config, mutable
// orchestrator state and the cycle's portfolio picture.
type Env struct {
	Cfg            *models.AutoTraderConfig
	State          *models.OrchestratorState
	Positions      []models.EnrichedPosition
	Active         []models.Trade
	Drawdown       risk.Drawdown
	PortfolioValue float64
}

// Processor executes due external signals through the gate pipeline.
type Processor struct {
	store    storage.Interface
	gate     *risk.Gate
	analysis *candidates.AnalysisGate
	data     marketdata.Provider
	exec     *executor.Executor
	clock    util.Clock
	logger   *log.Logger
}

// NewProcessor builds a signal processor.
func NewProcessor(store storage.Interface, gate *risk.Gate, analysis *candidates.AnalysisGate, data marketdata.Provider, exec *executor.Executor, clock util.Clock, logger *log.Logger) *Processor {
	return &Processor{store: store, gate: gate, analysis: analysis, data: data, exec: exec, clock: clock, logger: logger}
}

// splitKey groups generic due signals for allocation splitting.
type splitKey struct {
	Ticker        string
	Mode          models.TradeMode
	Signal        models.TradeSignal
	ExecuteOnDate string
}

// ProcessDue runs every pending signal whose executeOnDate has arrived
// through the time gates and the execution pipeline. One signal failing
// never stops the rest.
func (p *Processor) ProcessDue(ctx context.Context, env Env) {
	today := util.ETDay(p.clock.Now())
	due, err := p.store.GetDueExternalSignals(ctx, today)
	if err != nil {
		p.logger.Printf("ERROR: loading due signals: %v", err)
		return
	}
	if len(due) == 0 {
		return
	}
	p.logger.Printf("Processing %d due external signal(s)", len(due))

	p.assignAllocationSplits(ctx, due)

	for i := range due {
		sig := &due[i]
		if !p.passesTimeGates(ctx, sig) {
			continue
		}
		p.executeOne(ctx, sig, env)
	}
}

// passesTimeGates defers or expires a signal on its time constraints.
// Returns true when the signal is executable right now.
func (p *Processor) passesTimeGates(ctx context.Context, sig *models.ExternalStrategySignal) bool {
	now := p.clock.Now()
	if sig.ExecuteAt != nil && sig.ExecuteAt.After(now) {
		return false // defer, no state change
	}
	if sig.ExpiresAt != nil && sig.ExpiresAt.Before(now) {
		p.expire(ctx, sig, "signal expired before execution")
		return false
	}
	if sig.StrategyVideoID != "" {
		video, err := p.store.GetVideo(ctx, sig.StrategyVideoID)
		if err == nil && video.ExecutionWindowET != nil {
			switch util.WithinETWindow(now, video.ExecutionWindowET.Start, video.ExecutionWindowET.End) {
			case -1:
				return false // window not open yet
			case 1:
				p.expire(ctx, sig, fmt.Sprintf("execution window %s-%s ET passed",
					video.ExecutionWindowET.Start, video.ExecutionWindowET.End))
				return false
			}
		}
	}
	return true
}

func (p *Processor) expire(ctx context.Context, sig *models.ExternalStrategySignal, reason string) {
	applied, err := p.store.TransitionSignal(ctx, sig.ID, models.SignalExpired, reason, "")
	if err != nil {
		p.logger.Printf("Warning: expiring signal %s failed: %v", sig.ID, err)
		return
	}
	if applied {
		p.logger.Printf("Signal %s (%s) expired: %s", sig.ID, sig.Ticker, reason)
	}
}

// isGeneric reports whether a signal was queued by a generic-strategy video.
func (p *Processor) isGeneric(ctx context.Context, sig *models.ExternalStrategySignal) bool {
	if strings.HasPrefix(sig.Notes, GenericNotesPrefix) {
		return true
	}
	if sig.StrategyVideoID == "" {
		return false
	}
	video, err := p.store.GetVideo(ctx, sig.StrategyVideoID)
	return err == nil && video.StrategyType == models.StrategyGeneric
}

// assignAllocationSplits groups due generic signals and stamps each member
// of a multi-signal group with its split factor and 1-based index.
func (p *Processor) assignAllocationSplits(ctx context.Context, due []models.ExternalStrategySignal) {
	groups := make(map[splitKey][]*models.ExternalStrategySignal)
	for i := range due {
		sig := &due[i]
		if !p.isGeneric(ctx, sig) {
			continue
		}
		k := splitKey{Ticker: sig.Ticker, Mode: sig.Mode, Signal: sig.Signal, ExecuteOnDate: sig.ExecuteOnDate}
		groups[k] = append(groups[k], sig)
	}
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		// GetDueExternalSignals orders by created_at already.
		for i, sig := range group {
			sig.AllocationSplit = len(group)
			sig.AllocationIndex = i + 1
			if err := p.store.UpdateExternalSignal(ctx, sig); err != nil {
				p.logger.Printf("Warning: persisting allocation split for %s failed: %v", sig.ID, err)
			}
		}
	}
}

// duplicateTickerBlocked applies the strict or lenient duplicate check.
func duplicateTickerBlocked(sig *models.ExternalStrategySignal, onTicker []models.Trade) bool {
	if len(onTicker) == 0 {
		return false
	}
	if sig.AllocationSplit < 2 {
		return true // strict: any active trade on the ticker blocks
	}
	for _, t := range onTicker {
		if t.Mode != sig.Mode || t.Signal != sig.Signal || t.StrategyVideoID == "" {
			return true
		}
	}
	return false
}

func (p *Processor) skip(ctx context.Context, sig *models.ExternalStrategySignal, slug, reason string) {
	if _, err := p.store.TransitionSignal(ctx, sig.ID, models.SignalSkipped, reason, ""); err != nil {
		p.logger.Printf("Warning: skipping signal %s failed: %v", sig.ID, err)
	}
	p.exec.RecordSkip(ctx, sig.Ticker, models.SourceExternalSignal, sig.Mode, slug, reason)
}

func (p *Processor) fail(ctx context.Context, sig *models.ExternalStrategySignal, reason string) {
	if _, err := p.store.TransitionSignal(ctx, sig.ID, models.SignalFailed, reason, ""); err != nil {
		p.logger.Printf("Warning: failing signal %s failed: %v", sig.ID, err)
	}
	p.exec.RecordFailure(ctx, sig.Ticker, models.SourceExternalSignal, sig.Mode, reason)
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func (p *Processor) executeOne(ctx context.Context, sig *models.ExternalStrategySignal, env Env) {
	// 1. Strategy auto-deactivation.
	exempt := false
	if sig.StrategyVideoID != "" {
		if video, err := p.store.GetVideo(ctx, sig.StrategyVideoID); err == nil {
			exempt = video.ExemptFromAutoDeactivation
		}
	}
	if d := p.gate.CheckStrategyDeactivation(ctx, env.Cfg, sig.SourceName, sig.StrategyVideoID, sig.Mode, exempt); !d.OK {
		p.skip(ctx, sig, d.Slug, d.Reason)
		return
	}

	// 2. Duplicate-ticker gate.
	onTicker, err := p.store.GetActiveTradesByTicker(ctx, sig.Ticker)
	if err != nil {
		p.logger.Printf("Warning: duplicate check failed for %s: %v", sig.Ticker, err)
		return // defer; datastore hiccup should not burn the signal
	}
	if duplicateTickerBlocked(sig, onTicker) {
		p.skip(ctx, sig, "duplicate_ticker", fmt.Sprintf("already holding an active trade on %s", sig.Ticker))
		return
	}

	entry, stop, target := deref(sig.EntryPrice), deref(sig.StopLoss), deref(sig.TargetPrice)
	faConfidence := 0.0
	faRecommendation := ""

	// 3. Full-analysis gate when the signal carries no levels.
	if entry == 0 && stop == 0 && target == 0 &&
		(sig.Mode == models.ModeDayTrade || sig.Mode == models.ModeSwing) {
		res := p.analysis.Check(ctx, sig.Ticker, sig.Signal, sig.Mode, env.Cfg)
		if !res.OK {
			p.skip(ctx, sig, res.Slug, res.Reason)
			return
		}
		entry, stop, target = res.Analysis.EntryPrice, res.Analysis.StopLoss, res.Analysis.TargetPrice
		faConfidence = res.Analysis.Confidence
		faRecommendation = res.Analysis.Recommendation
	}

	// 4. Price gate: wait until the quote crosses the entry trigger.
	quote, quoteErr := p.data.Quote(ctx, sig.Ticker)
	if entry > 0 {
		if quoteErr != nil || quote <= 0 {
			p.logger.Printf("Signal %s (%s): no quote available, waiting", sig.ID, sig.Ticker)
			return
		}
		if (sig.Signal == models.SignalBuy && quote < entry) ||
			(sig.Signal == models.SignalSell && quote > entry) {
			return // trigger not crossed yet; stays PENDING
		}
	}

	// 5. Sizing, including the allocation split.
	price := quote
	if price <= 0 {
		price = entry
	}
	if price <= 0 {
		// No quote and no entry level: sizing would run at price zero and the
		// resulting order would be invisible to the allocation caps.
		p.logger.Printf("Signal %s (%s): no price available, waiting", sig.ID, sig.Ticker)
		return // stays PENDING
	}
	sizer := sizing.New(env.Cfg)
	res := sizer.Size(sizing.Request{
		Price:              price,
		Mode:               sig.Mode,
		Conviction:         float64(sig.Confidence),
		EntryPrice:         entry,
		StopLoss:           stop,
		DrawdownMultiplier: env.Drawdown.Multiplier,
	}, env.PortfolioValue)
	dollars := res.Dollars
	if sig.PositionSizeOverride != nil && *sig.PositionSizeOverride > 0 {
		dollars = *sig.PositionSizeOverride
	}
	qty := res.Quantity
	if sig.AllocationSplit > 1 {
		dollars /= float64(sig.AllocationSplit)
		qty = int(math.Floor(dollars / price))
		if qty < 1 {
			p.skip(ctx, sig, "allocation_split_too_small",
				fmt.Sprintf("1/%d split of $%.0f is below one share", sig.AllocationSplit, dollars*float64(sig.AllocationSplit)))
			return
		}
	} else if sig.PositionSizeOverride != nil && price > 0 {
		qty = int(math.Floor(dollars / price))
	}
	if qty < 1 {
		p.skip(ctx, sig, "size_too_small", "computed quantity below one share")
		return
	}

	// 6. Remaining risk gates.
	newSize := float64(qty) * price
	if d := p.gate.Check(ctx, risk.CheckRequest{
		Cfg:            env.Cfg,
		State:          env.State,
		Positions:      env.Positions,
		Active:         env.Active,
		Ticker:         sig.Ticker,
		NewSize:        newSize,
		PortfolioValue: env.PortfolioValue,
		Drawdown:       env.Drawdown,
	}); !d.OK {
		p.skip(ctx, sig, d.Slug, d.Reason)
		return
	}

	// 7-8. Place the order, ledger the trade, finalise the signal.
	notes := sig.Notes
	if sig.AllocationSplit > 1 {
		notes = strings.TrimSpace(fmt.Sprintf("%s (allocation %d/%d)", notes, sig.AllocationIndex, sig.AllocationSplit))
	}
	trade, err := p.exec.Execute(ctx, executor.Request{
		Ticker:            sig.Ticker,
		Signal:            sig.Signal,
		Mode:              sig.Mode,
		Quantity:          qty,
		Price:             price,
		EntryPrice:        entry,
		StopLoss:          stop,
		TargetPrice:       target,
		Source:            models.SourceExternalSignal,
		SourceName:        sig.SourceName,
		StrategyURL:       sig.SourceURL,
		StrategyVideoID:   sig.StrategyVideoID,
		VideoHeading:      sig.StrategyVideoHeading,
		ScannerConfidence: float64(sig.Confidence),
		FAConfidence:      faConfidence,
		FARecommendation:  faRecommendation,
		Notes:             notes,
	}, env.State)
	if err != nil {
		p.fail(ctx, sig, fmt.Sprintf("order placement failed: %v", err))
		return
	}
	if _, err := p.store.TransitionSignal(ctx, sig.ID, models.SignalExecuted, "", trade.ID); err != nil {
		p.logger.Printf("Warning: marking signal %s executed failed: %v", sig.ID, err)
	}
}
