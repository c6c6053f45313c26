package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dfalkner/autotrader/internal/broker"
	"github.com/dfalkner/autotrader/internal/candidates"
	"github.com/dfalkner/autotrader/internal/config"
	"github.com/dfalkner/autotrader/internal/executor"
	"github.com/dfalkner/autotrader/internal/marketdata"
	"github.com/dfalkner/autotrader/internal/models"
	"github.com/dfalkner/autotrader/internal/positions"
	"github.com/dfalkner/autotrader/internal/rehydrate"
	"github.com/dfalkner/autotrader/internal/risk"
	"github.com/dfalkner/autotrader/internal/services"
	"github.com/dfalkner/autotrader/internal/signals"
	"github.com/dfalkner/autotrader/internal/sizing"
	"github.com/dfalkner/autotrader/internal/storage"
	"github.com/dfalkner/autotrader/internal/util"
)

// quoteFanOut bounds concurrent quote requests during position enrichment.
const quoteFanOut = 8

// Orchestrator owns the cycle state machine: it serialises cycle execution
// behind a single running flag and composes every subsystem in fixed order.
type Orchestrator struct {
	cfg    *config.Config
	store  storage.Interface
	broker broker.Broker
	data   marketdata.Provider

	scanner   services.Scanner
	suggester services.Suggester

	analysisGate *candidates.AnalysisGate
	selector     *candidates.SuggestedSelector
	gate         *risk.Gate
	exec         *executor.Executor
	queuer       *signals.Queuer
	processor    *signals.Processor
	manager      *positions.Manager
	rehydrator   *rehydrate.Service
	reconciler   *Reconciler

	clock  util.Clock
	logger *log.Logger

	mu      sync.Mutex
	running bool
	state   *models.OrchestratorState
}

// tryAcquire claims the cycle lock; a false return means a cycle is already
// running and this trigger should be dropped, not queued.
func (o *Orchestrator) tryAcquire() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return false
	}
	o.running = true
	o.state.Running = true
	return true
}

func (o *Orchestrator) release(result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running = false
	o.state.Running = false
	o.state.LastRun = o.clock.Now()
	o.state.LastResult = result
	o.state.RunCount++
}

// RunCycle executes one full cycle. Triggers firing while a cycle runs are
// dropped; the next timer tick covers them.
func (o *Orchestrator) RunCycle(ctx context.Context) {
	if !o.tryAcquire() {
		o.logger.Println("Cycle already running, dropping trigger")
		return
	}
	result := o.cycle(ctx, false)
	o.release(result)
	o.logger.Printf("Cycle complete: %s", result)
}

// RunExecutionOnly runs the lighter realtime path: positions, video queue,
// external signals and residual scanner ideas. Returns immediately when a
// full cycle holds the lock.
func (o *Orchestrator) RunExecutionOnly(ctx context.Context) {
	if !o.tryAcquire() {
		o.logger.Println("Cycle already running, dropping realtime trigger")
		return
	}
	result := o.cycle(ctx, true)
	o.release(result)
	o.logger.Printf("Execution-only run complete: %s", result)
}

// cycle is the shared body. executionOnly skips daily tasks, reconciliation,
// position management and rehydration.
func (o *Orchestrator) cycle(ctx context.Context, executionOnly bool) string {
	now := o.clock.Now()
	today := util.ETDay(now)
	o.state.RollDay(today)

	if !util.IsWeekday(now) {
		return "skipped: weekend"
	}
	if !o.broker.IsConnected() {
		return "skipped: broker gateway disconnected"
	}
	if err := o.store.Ping(ctx); err != nil {
		return fmt.Sprintf("skipped: datastore unavailable: %v", err)
	}

	cfg, err := o.loadTradingConfig(ctx)
	if err != nil {
		return fmt.Sprintf("error: loading config: %v", err)
	}
	if !cfg.Enabled {
		return "skipped: auto trading disabled"
	}
	if cfg.AccountID == "" {
		return "skipped: no account configured"
	}

	enriched, err := o.enrichedPositions(ctx)
	if err != nil {
		return fmt.Sprintf("error: fetching positions: %v", err)
	}

	active, err := o.store.GetActiveTrades(ctx)
	if err != nil {
		return fmt.Sprintf("error: loading active trades: %v", err)
	}

	if !executionOnly {
		o.runDailyTasks(ctx, cfg, enriched, active)

		o.reconciler.Reconcile(ctx, enriched, active)
		// Broker truth has been folded into the ledger; drop the optimism.
		o.state.PendingDeployedDollar = 0

		// Reload: reconciliation may have filled or closed rows.
		if reloaded, err := o.store.GetActiveTrades(ctx); err == nil {
			active = reloaded
		}

		o.refreshPortfolioValue(ctx, cfg, enriched)
	}

	env := signals.Env{
		Cfg:            cfg,
		State:          o.state,
		Positions:      enriched,
		Active:         active,
		Drawdown:       risk.AssessDrawdown(enriched),
		PortfolioValue: o.portfolioValue(cfg, enriched),
	}

	if util.IsMarketHours(now) {
		if !executionOnly {
			o.manager.Run(ctx, env)
			// Position management can open/close rows; reload once more.
			if reloaded, err := o.store.GetActiveTrades(ctx); err == nil {
				env.Active = reloaded
			}
		}

		ideasByMode := o.fetchScannerIdeas(ctx, env.Active)
		claimed, err := o.queuer.QueueGenericSignals(ctx, ideasByMode, cfg, activeTickerSet(env.Active))
		if err != nil {
			o.logger.Printf("Warning: generic signal queueing failed: %v", err)
		}
		if err := o.queuer.QueueDailySignals(ctx); err != nil {
			o.logger.Printf("Warning: daily signal queueing failed: %v", err)
		}

		o.processor.ProcessDue(ctx, env)
		if reloaded, err := o.store.GetActiveTrades(ctx); err == nil {
			env.Active = reloaded
		}

		o.runScannerIdeas(ctx, env, ideasByMode, claimed)
	}

	if !executionOnly {
		o.maybeRehydrate(ctx, env)
	}
	return "ok"
}

// loadTradingConfig reads the runtime config record, seeding the default on
// first run.
func (o *Orchestrator) loadTradingConfig(ctx context.Context) (*models.AutoTraderConfig, error) {
	cfg, err := o.store.GetAutoTraderConfig(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		cfg = models.DefaultAutoTraderConfig()
		cfg.AccountID = o.cfg.Gateway.AccountID
		if err := o.store.SaveAutoTraderConfig(ctx, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return cfg, err
}

// enrichedPositions fetches broker positions and fans quote lookups out
// concurrently, preserving input order. A failed quote leaves mktPrice zero;
// downstream consumers treat that as unknown.
func (o *Orchestrator) enrichedPositions(ctx context.Context) ([]models.EnrichedPosition, error) {
	items, err := o.broker.GetPositionsCtx(ctx)
	if err != nil {
		return nil, err
	}
	enriched := make([]models.EnrichedPosition, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(quoteFanOut)
	for i, item := range items {
		i, item := i, item
		enriched[i] = models.EnrichedPosition{
			Symbol:     item.Symbol,
			Position:   item.Quantity,
			AvgCost:    item.AvgCost,
			ContractID: item.ContractID,
		}
		g.Go(func() error {
			quote, err := o.data.Quote(gctx, item.Symbol)
			if err != nil {
				o.logger.Printf("Warning: quote unavailable for %s: %v", item.Symbol, err)
				return nil // fail open
			}
			p := &enriched[i]
			p.MktPrice = quote
			p.MktValue = p.Position * quote
			p.UnrealizedPnL = (quote - p.AvgCost) * p.Position
			return nil
		})
	}
	_ = g.Wait()
	return enriched, nil
}

func activeTickerSet(active []models.Trade) map[string]bool {
	out := make(map[string]bool, len(active))
	for _, t := range active {
		out[t.Ticker] = true
	}
	return out
}

// portfolioValue prefers live market value and falls back on the configured
// denominator.
func (o *Orchestrator) portfolioValue(cfg *models.AutoTraderConfig, enriched []models.EnrichedPosition) float64 {
	var total float64
	for _, p := range enriched {
		total += p.MktValue
	}
	if total > cfg.PortfolioValue {
		return total
	}
	return cfg.PortfolioValue
}

// refreshPortfolioValue self-updates the configured portfolio value from
// broker positions. The denominator only grows, so a partial position list
// can never shrink the caps.
func (o *Orchestrator) refreshPortfolioValue(ctx context.Context, cfg *models.AutoTraderConfig, enriched []models.EnrichedPosition) {
	var total float64
	for _, p := range enriched {
		total += p.MktValue
	}
	if total <= cfg.PortfolioValue {
		return
	}
	cfg.PortfolioValue = total
	if err := o.store.SaveAutoTraderConfig(ctx, cfg); err != nil {
		o.logger.Printf("Warning: persisting portfolio value failed: %v", err)
	} else {
		o.logger.Printf("Portfolio value updated to $%.0f", total)
	}
}

// runDailyTasks handles the once-per-ET-day morning work: suggested finds
// and the portfolio snapshot.
func (o *Orchestrator) runDailyTasks(ctx context.Context, cfg *models.AutoTraderConfig, enriched []models.EnrichedPosition, active []models.Trade) {
	now := o.clock.Now()
	today := util.ETDay(now)

	if util.IsAfterOpenPrep(now) && o.state.LastSuggestedFindsDate != today {
		o.runSuggestedFinds(ctx, cfg, enriched, active)
		o.state.LastSuggestedFindsDate = today
	}

	o.rehydrator.MaybeSnapshot(ctx, cfg.AccountID, enriched, len(active), o.state)
}

// runSuggestedFinds executes the curated daily long-term list.
func (o *Orchestrator) runSuggestedFinds(ctx context.Context, cfg *models.AutoTraderConfig, enriched []models.EnrichedPosition, active []models.Trade) {
	daily, err := o.suggester.FetchDaily(ctx)
	if err != nil {
		o.logger.Printf("Warning: daily suggestions unavailable: %v", err)
		return
	}
	if !daily.Cached {
		o.logger.Println("Daily suggestions not cached yet, retrying next cycle")
		o.state.LastSuggestedFindsDate = "" // try again later today
		return
	}

	drawdown := risk.AssessDrawdown(enriched)
	goldExposure := candidates.GoldMineExposure(active)
	picks := o.selector.Select(ctx, daily, cfg, activeTickerSet(active), goldExposure)
	if len(picks) == 0 {
		return
	}
	o.logger.Printf("Suggested finds: %d pick(s) selected", len(picks))

	env := signals.Env{
		Cfg:            cfg,
		State:          o.state,
		Positions:      enriched,
		Active:         active,
		Drawdown:       drawdown,
		PortfolioValue: o.portfolioValue(cfg, enriched),
	}
	for _, find := range picks {
		o.executeSuggestedFind(ctx, env, find, &goldExposure)
	}
}

func (o *Orchestrator) executeSuggestedFind(ctx context.Context, env signals.Env, find services.SuggestedFind, goldExposure *float64) {
	ok, fresh := o.selector.Verify(ctx, find)
	if !ok {
		o.exec.RecordSkip(ctx, find.Ticker, models.SourceSuggestedFinds, models.ModeLongTerm,
			"conviction_verification", "fresh analysis contradicts cached conviction")
		return
	}

	quote, err := o.data.Quote(ctx, find.Ticker)
	if err != nil || quote <= 0 {
		o.logger.Printf("Suggested finds: no quote for %s, skipping", find.Ticker)
		return
	}

	sizer := sizing.New(env.Cfg)
	res := sizer.Size(sizing.Request{
		Price:              quote,
		Mode:               models.ModeLongTerm,
		Conviction:         find.Conviction,
		Tag:                find.Tag,
		DrawdownMultiplier: env.Drawdown.Multiplier,
	}, env.PortfolioValue)
	if res.Quantity < 1 {
		o.exec.RecordSkip(ctx, find.Ticker, models.SourceSuggestedFinds, models.ModeLongTerm,
			"size_too_small", "computed quantity below one share")
		return
	}

	if find.Tag == services.TagGoldMine && !candidates.CheckGoldMineCap(env.Cfg, *goldExposure, res.Dollars) {
		o.exec.RecordSkip(ctx, find.Ticker, models.SourceSuggestedFinds, models.ModeLongTerm,
			"gold_mine_cap", "gold-mine exposure cap reached")
		return
	}

	if d := o.gate.Check(ctx, risk.CheckRequest{
		Cfg:            env.Cfg,
		State:          env.State,
		Positions:      env.Positions,
		Active:         env.Active,
		Ticker:         find.Ticker,
		NewSize:        res.Dollars,
		PortfolioValue: env.PortfolioValue,
		Drawdown:       env.Drawdown,
	}); !d.OK {
		o.exec.RecordSkip(ctx, find.Ticker, models.SourceSuggestedFinds, models.ModeLongTerm, d.Slug, d.Reason)
		return
	}

	faConfidence := find.Conviction
	if fresh != nil {
		faConfidence = fresh.Confidence
	}
	notes := fmt.Sprintf("%s: %s", find.Tag, find.Reason)
	_, err = o.exec.Execute(ctx, executor.Request{
		Ticker:       find.Ticker,
		Signal:       models.SignalBuy,
		Mode:         models.ModeLongTerm,
		Quantity:     res.Quantity,
		Price:        quote,
		Source:       models.SourceSuggestedFinds,
		FAConfidence: faConfidence,
		Notes:        notes,
	}, env.State)
	if err != nil {
		o.logger.Printf("ERROR: suggested find %s failed: %v", find.Ticker, err)
		o.exec.RecordFailure(ctx, find.Ticker, models.SourceSuggestedFinds, models.ModeLongTerm, err.Error())
		return
	}
	if find.Tag == services.TagGoldMine {
		*goldExposure += res.Dollars
	}
}

// fetchScannerIdeas calls the scanner once per cycle and buckets the ideas
// by trade mode. Failure returns empty buckets; candidates just dry up.
func (o *Orchestrator) fetchScannerIdeas(ctx context.Context, active []models.Trade) map[models.TradeMode][]models.TradeIdea {
	out := make(map[models.TradeMode][]models.TradeIdea)
	tickers := make([]string, 0, len(active))
	for _, t := range active {
		tickers = append(tickers, t.Ticker)
	}
	resp, err := o.scanner.FetchIdeas(ctx, tickers)
	if err != nil {
		o.logger.Printf("Warning: scanner unavailable: %v", err)
		return out
	}
	out[models.ModeDayTrade] = resp.DayTrades
	out[models.ModeSwing] = resp.SwingTrades
	return out
}

// runScannerIdeas executes the residual scanner candidates left after the
// generic queuer claimed its tickers.
func (o *Orchestrator) runScannerIdeas(ctx context.Context, env signals.Env, ideasByMode map[models.TradeMode][]models.TradeIdea, claimed map[string]bool) {
	for _, mode := range []models.TradeMode{models.ModeDayTrade, models.ModeSwing} {
		filtered := candidates.FilterIdeas(ideasByMode[mode], mode, candidates.FilterInput{
			Cfg:              env.Cfg,
			ActiveTickers:    activeTickerSet(env.Active),
			ProcessedTickers: env.State.ProcessedTickers,
			ClaimedTickers:   claimed,
			ActiveCount:      len(env.Active),
		})
		for _, cand := range filtered {
			o.executeScannerIdea(ctx, env, cand)
		}
	}
}

func (o *Orchestrator) executeScannerIdea(ctx context.Context, env signals.Env, cand candidates.Candidate) {
	idea := cand.Idea
	res := o.analysisGate.Check(ctx, idea.Ticker, idea.Signal, cand.Mode, env.Cfg)
	if !res.OK {
		o.exec.RecordSkip(ctx, idea.Ticker, models.SourceScanner, cand.Mode, res.Slug, res.Reason)
		return
	}
	a := res.Analysis

	quote, err := o.data.Quote(ctx, idea.Ticker)
	price := quote
	if err != nil || price <= 0 {
		price = a.EntryPrice
	}

	sizer := sizing.New(env.Cfg)
	size := sizer.Size(sizing.Request{
		Price:              price,
		Mode:               cand.Mode,
		EntryPrice:         a.EntryPrice,
		StopLoss:           a.StopLoss,
		DrawdownMultiplier: env.Drawdown.Multiplier,
	}, env.PortfolioValue)
	if size.Quantity < 1 {
		o.exec.RecordSkip(ctx, idea.Ticker, models.SourceScanner, cand.Mode, "size_too_small", "computed quantity below one share")
		return
	}

	if d := o.gate.Check(ctx, risk.CheckRequest{
		Cfg:            env.Cfg,
		State:          env.State,
		Positions:      env.Positions,
		Active:         env.Active,
		Ticker:         idea.Ticker,
		NewSize:        size.Dollars,
		PortfolioValue: env.PortfolioValue,
		Drawdown:       env.Drawdown,
	}); !d.OK {
		o.exec.RecordSkip(ctx, idea.Ticker, models.SourceScanner, cand.Mode, d.Slug, d.Reason)
		return
	}

	_, err = o.exec.Execute(ctx, executor.Request{
		Ticker:            idea.Ticker,
		Signal:            idea.Signal,
		Mode:              cand.Mode,
		Quantity:          size.Quantity,
		Price:             price,
		EntryPrice:        a.EntryPrice,
		StopLoss:          a.StopLoss,
		TargetPrice:       a.TargetPrice,
		TargetPrice2:      a.TargetPrice2,
		RiskReward:        a.RiskReward,
		Source:            models.SourceScanner,
		ScannerConfidence: idea.Confidence,
		FAConfidence:      a.Confidence,
		FARecommendation:  a.Recommendation,
		Notes:             idea.Reason,
	}, env.State)
	if err != nil {
		o.logger.Printf("ERROR: scanner execution for %s failed: %v", idea.Ticker, err)
		o.exec.RecordFailure(ctx, idea.Ticker, models.SourceScanner, cand.Mode, err.Error())
		return
	}
	env.State.ProcessedTickers[idea.Ticker] = true
}

// maybeRehydrate runs the post-close pass once per ET day after 16:15:
// re-reconcile to catch late fills, then emit learning records.
func (o *Orchestrator) maybeRehydrate(ctx context.Context, env signals.Env) {
	now := o.clock.Now()
	today := util.ETDay(now)
	if !util.IsAfterClose(now) || o.state.LastRehydrationDate == today {
		return
	}

	enriched, err := o.enrichedPositions(ctx)
	if err == nil {
		if active, err := o.store.GetActiveTrades(ctx); err == nil {
			o.reconciler.Reconcile(ctx, enriched, active)
		}
	}
	if err := o.rehydrator.RunPostClose(ctx); err != nil {
		o.logger.Printf("Warning: post-close analysis failed: %v", err)
		return
	}
	o.state.LastRehydrationDate = today
}

// StatusSnapshot reports the orchestrator's externally visible state.
func (o *Orchestrator) StatusSnapshot(ctx context.Context) models.BotStatus {
	o.mu.Lock()
	st := models.BotStatus{
		TriggersActive: true,
		Running:        o.running,
		LastResult:     o.state.LastResult,
		RunCount:       o.state.RunCount,
	}
	if !o.state.LastRun.IsZero() {
		st.LastRun = o.state.LastRun.Format("2006-01-02T15:04:05Z07:00")
	}
	o.mu.Unlock()

	st.BrokerConnected = o.broker.IsConnected()
	if cfg, err := o.store.GetAutoTraderConfig(ctx); err == nil {
		st.ConfigLoaded = true
		st.Enabled = cfg.Enabled
	}
	return st
}
