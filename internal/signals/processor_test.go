package signals

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dfalkner/autotrader/internal/broker"
	"github.com/dfalkner/autotrader/internal/candidates"
	"github.com/dfalkner/autotrader/internal/executor"
	"github.com/dfalkner/autotrader/internal/marketdata"
	"github.com/dfalkner/autotrader/internal/models"
	"github.com/dfalkner/autotrader/internal/risk"
	"github.com/dfalkner/autotrader/internal/services"
	"github.com/dfalkner/autotrader/internal/storage"
	"github.com/dfalkner/autotrader/internal/util"
)

type stubAnalyzer struct {
	analysis *services.Analysis
}

func (s *stubAnalyzer) Analyze(context.Context, string, models.TradeMode) (*services.Analysis, error) {
	return s.analysis, nil
}

type procFixture struct {
	store  *storage.MockStore
	broker *broker.MockBroker
	data   *marketdata.MockProvider
	proc   *Processor
	env    Env
}

func newProcFixture(analysis *services.Analysis) *procFixture {
	store := storage.NewMockStore()
	brk := broker.NewMockBroker()
	data := marketdata.NewMockProvider()
	clock := util.FixedClock{T: testNow}
	logger := discard()

	gate := risk.NewGate(store, marketdata.NewSectorCache(data), data, clock, logger)
	aGate := candidates.NewAnalysisGate(&stubAnalyzer{analysis: analysis}, data, logger)
	exec := executor.New(brk, store, clock, logger)

	return &procFixture{
		store:  store,
		broker: brk,
		data:   data,
		proc:   NewProcessor(store, gate, aGate, data, exec, clock, logger),
		env: Env{
			Cfg:            models.DefaultAutoTraderConfig(),
			State:          models.NewOrchestratorState(),
			Drawdown:       risk.Drawdown{Level: risk.LevelNormal, Multiplier: 1},
			PortfolioValue: 400000,
		},
	}
}

func pendingSignal(ticker string) *models.ExternalStrategySignal {
	return &models.ExternalStrategySignal{
		ID:            uuid.NewString(),
		SourceName:    "Morning Brief",
		Ticker:        ticker,
		Signal:        models.SignalBuy,
		Mode:          models.ModeDayTrade,
		Confidence:    8,
		EntryPrice:    ptr(100),
		StopLoss:      ptr(95),
		TargetPrice:   ptr(112),
		ExecuteOnDate: "2026-01-05",
		Status:        models.SignalPending,
		CreatedAt:     testNow.Add(-time.Hour),
	}
}

func (f *procFixture) signal(id string) *models.ExternalStrategySignal {
	s, ok := f.store.Signals[id]
	if !ok {
		return nil
	}
	return s
}

func TestProcessDueExecutes(t *testing.T) {
	f := newProcFixture(nil)
	sig := pendingSignal("AAPL")
	_ = f.store.AddExternalSignal(context.Background(), sig)
	f.data.Quotes["AAPL"] = 101 // trigger crossed

	f.proc.ProcessDue(context.Background(), f.env)

	got := f.signal(sig.ID)
	if got.Status != models.SignalExecuted {
		t.Fatalf("status = %s (%s), want EXECUTED", got.Status, got.FailureReason)
	}
	if got.ExecutedTradeID == "" {
		t.Error("executed signal must reference its trade")
	}
	if len(f.broker.BracketOrders) != 1 {
		t.Fatalf("got %d bracket orders, want 1", len(f.broker.BracketOrders))
	}
	o := f.broker.BracketOrders[0]
	if o.Symbol != "AAPL" || o.EntryPrice != 100 || o.StopLoss != 95 || o.TakeProfit != 112 {
		t.Errorf("bracket = %+v, want the signal's levels", o)
	}
	if o.TIF != broker.TIFDay {
		t.Errorf("TIF = %s, want DAY for a day trade", o.TIF)
	}
	if f.env.State.DailyDeployedDollar == 0 {
		t.Error("deployment counter not bumped")
	}
}

func TestProcessDueWaitsWithoutAnyPrice(t *testing.T) {
	f := newProcFixture(nil)
	sig := pendingSignal("ZZZQ")
	sig.Mode = models.ModeLongTerm
	sig.EntryPrice, sig.StopLoss, sig.TargetPrice = nil, nil, nil
	_ = f.store.AddExternalSignal(context.Background(), sig)
	// No quote registered for ZZZQ.

	f.proc.ProcessDue(context.Background(), f.env)

	got := f.signal(sig.ID)
	if got.Status != models.SignalPending {
		t.Fatalf("status = %s (%s), want still PENDING", got.Status, got.FailureReason)
	}
	if len(f.broker.MarketOrders) != 0 || len(f.broker.BracketOrders) != 0 {
		t.Errorf("orders placed with no price information: %v %v", f.broker.MarketOrders, f.broker.BracketOrders)
	}
	if len(f.store.Trades) != 0 {
		t.Errorf("ledger rows = %d, want none", len(f.store.Trades))
	}
}

func TestProcessDuePriceGateDefers(t *testing.T) {
	f := newProcFixture(nil)
	sig := pendingSignal("AAPL")
	_ = f.store.AddExternalSignal(context.Background(), sig)
	f.data.Quotes["AAPL"] = 99 // below the 100 trigger

	f.proc.ProcessDue(context.Background(), f.env)

	if got := f.signal(sig.ID); got.Status != models.SignalPending {
		t.Errorf("status = %s, want PENDING while the trigger is uncrossed", got.Status)
	}
	if len(f.broker.BracketOrders)+len(f.broker.MarketOrders) != 0 {
		t.Error("no orders expected")
	}
}

func TestProcessDueExecuteAtDefers(t *testing.T) {
	f := newProcFixture(nil)
	sig := pendingSignal("AAPL")
	later := testNow.Add(2 * time.Hour)
	sig.ExecuteAt = &later
	_ = f.store.AddExternalSignal(context.Background(), sig)
	f.data.Quotes["AAPL"] = 101

	f.proc.ProcessDue(context.Background(), f.env)

	if got := f.signal(sig.ID); got.Status != models.SignalPending {
		t.Errorf("status = %s, want PENDING before execute_at", got.Status)
	}
}

func TestProcessDueExpires(t *testing.T) {
	f := newProcFixture(nil)
	sig := pendingSignal("AAPL")
	past := testNow.Add(-time.Minute)
	sig.ExpiresAt = &past
	_ = f.store.AddExternalSignal(context.Background(), sig)

	f.proc.ProcessDue(context.Background(), f.env)

	if got := f.signal(sig.ID); got.Status != models.SignalExpired {
		t.Errorf("status = %s, want EXPIRED", got.Status)
	}
}

func TestProcessDueExecutionWindowPassed(t *testing.T) {
	f := newProcFixture(nil)
	f.store.AddVideo(&models.StrategyVideo{
		VideoID:           "vid1",
		StrategyType:      models.StrategyDailySignal,
		Status:            models.VideoStatusTracked,
		ExecutionWindowET: &models.ExecutionWindow{Start: "09:30", End: "10:00"},
	})
	sig := pendingSignal("AAPL")
	sig.StrategyVideoID = "vid1"
	_ = f.store.AddExternalSignal(context.Background(), sig)

	f.proc.ProcessDue(context.Background(), f.env) // clock is noon ET

	got := f.signal(sig.ID)
	if got.Status != models.SignalExpired {
		t.Errorf("status = %s, want EXPIRED after the window", got.Status)
	}
	if !strings.Contains(got.FailureReason, "execution window") {
		t.Errorf("reason = %q, want window mention", got.FailureReason)
	}
}

func TestProcessDueDuplicateTickerSkips(t *testing.T) {
	f := newProcFixture(nil)
	_ = f.store.AddTrade(context.Background(), &models.Trade{
		ID: "t1", Ticker: "AAPL", Status: models.StatusFilled, OpenedAt: testNow,
	})
	sig := pendingSignal("AAPL")
	_ = f.store.AddExternalSignal(context.Background(), sig)
	f.data.Quotes["AAPL"] = 101

	f.proc.ProcessDue(context.Background(), f.env)

	got := f.signal(sig.ID)
	if got.Status != models.SignalSkipped {
		t.Fatalf("status = %s, want SKIPPED", got.Status)
	}
	if !strings.Contains(got.FailureReason, "active trade") {
		t.Errorf("reason = %q, want duplicate mention", got.FailureReason)
	}
}

func TestProcessDueAnalysisGateForLevelFreeSignals(t *testing.T) {
	// HOLD verdict skips the level-free signal.
	f := newProcFixture(&services.Analysis{Recommendation: "HOLD", Confidence: 8})
	sig := pendingSignal("AAPL")
	sig.EntryPrice, sig.StopLoss, sig.TargetPrice = nil, nil, nil
	_ = f.store.AddExternalSignal(context.Background(), sig)
	f.data.Quotes["AAPL"] = 101

	f.proc.ProcessDue(context.Background(), f.env)

	if got := f.signal(sig.ID); got.Status != models.SignalSkipped {
		t.Errorf("status = %s, want SKIPPED on HOLD", got.Status)
	}

	// A clean BUY verdict supplies the levels and executes.
	f = newProcFixture(&services.Analysis{
		Recommendation: "BUY", Confidence: 8,
		EntryPrice: 100, StopLoss: 95, TargetPrice: 112, RiskReward: "1:2.4",
	})
	sig = pendingSignal("NVDA")
	sig.Ticker = "NVDA"
	sig.EntryPrice, sig.StopLoss, sig.TargetPrice = nil, nil, nil
	_ = f.store.AddExternalSignal(context.Background(), sig)
	f.data.Quotes["NVDA"] = 101

	f.proc.ProcessDue(context.Background(), f.env)

	if got := f.signal(sig.ID); got.Status != models.SignalExecuted {
		t.Errorf("status = %s (%s), want EXECUTED", got.Status, got.FailureReason)
	}
	if len(f.broker.BracketOrders) != 1 {
		t.Errorf("got %d bracket orders, want 1 from analysis levels", len(f.broker.BracketOrders))
	}
}

func TestProcessDueAllocationSplit(t *testing.T) {
	f := newProcFixture(nil)
	a := pendingSignal("AAPL")
	a.SourceName = "Breakout Playbook"
	a.StrategyVideoID = "genA"
	a.Notes = GenericNotesPrefix + ": setup one"
	b := pendingSignal("AAPL")
	b.SourceName = "Pullback Playbook"
	b.StrategyVideoID = "genB"
	b.Notes = GenericNotesPrefix + ": setup two"
	b.CreatedAt = a.CreatedAt.Add(time.Minute)
	_ = f.store.AddExternalSignal(context.Background(), a)
	_ = f.store.AddExternalSignal(context.Background(), b)
	f.data.Quotes["AAPL"] = 101

	f.proc.ProcessDue(context.Background(), f.env)

	ga, gb := f.signal(a.ID), f.signal(b.ID)
	if ga.AllocationSplit != 2 || gb.AllocationSplit != 2 {
		t.Fatalf("splits = %d/%d, want 2/2", ga.AllocationSplit, gb.AllocationSplit)
	}
	if ga.AllocationIndex != 1 || gb.AllocationIndex != 2 {
		t.Errorf("indices = %d/%d, want 1/2", ga.AllocationIndex, gb.AllocationIndex)
	}
	if ga.Status != models.SignalExecuted || gb.Status != models.SignalExecuted {
		t.Fatalf("statuses = %s/%s (%s/%s), want both EXECUTED",
			ga.Status, gb.Status, ga.FailureReason, gb.FailureReason)
	}
	if len(f.broker.BracketOrders) != 2 {
		t.Fatalf("got %d orders, want 2", len(f.broker.BracketOrders))
	}
	// Each leg takes half the allocation.
	q1, q2 := f.broker.BracketOrders[0].Quantity, f.broker.BracketOrders[1].Quantity
	if q1 != q2 || q1 == 0 {
		t.Errorf("split quantities = %d/%d, want equal halves", q1, q2)
	}
	trade := f.store.Trades[ga.ExecutedTradeID]
	if trade == nil || !strings.Contains(trade.Notes, "(allocation 1/2)") {
		t.Errorf("first trade notes missing split marker: %+v", trade)
	}
}

func TestProcessDueDeactivatedStrategySkips(t *testing.T) {
	f := newProcFixture(nil)
	ctx := context.Background()
	// Three consecutive losing ET days for the source.
	for i, day := range []string{"2026-01-02", "2025-12-31", "2025-12-30"} {
		d, _ := time.ParseInLocation("2006-01-02", day, util.ETLocation())
		closed := d.Add(15 * time.Hour)
		_ = f.store.AddTrade(ctx, &models.Trade{
			ID:             "loss" + string(rune('a'+i)),
			Ticker:         "XYZ",
			Status:         models.StatusClosed,
			StrategySource: "Morning Brief",
			Mode:           models.ModeDayTrade,
			PnL:            -100,
			ClosedAt:       &closed,
			OpenedAt:       d,
		})
	}
	sig := pendingSignal("AAPL")
	_ = f.store.AddExternalSignal(ctx, sig)
	f.data.Quotes["AAPL"] = 101

	f.proc.ProcessDue(ctx, f.env)

	got := f.signal(sig.ID)
	if got.Status != models.SignalSkipped {
		t.Fatalf("status = %s, want SKIPPED for a benched source", got.Status)
	}
	if !strings.Contains(got.FailureReason, "marked X") {
		t.Errorf("reason = %q, want deactivation mention", got.FailureReason)
	}
}
