package executor

import (
	"context"
	"io"
	"log"
	"math"
	"testing"
	"time"

	"github.com/dfalkner/autotrader/internal/broker"
	"github.com/dfalkner/autotrader/internal/models"
	"github.com/dfalkner/autotrader/internal/storage"
	"github.com/dfalkner/autotrader/internal/util"
)

var testNow = time.Date(2026, 1, 5, 12, 0, 0, 0, util.ETLocation())

func newExecutor() (*Executor, *broker.MockBroker, *storage.MockStore) {
	brk := broker.NewMockBroker()
	store := storage.NewMockStore()
	exec := New(brk, store, util.FixedClock{T: testNow}, log.New(io.Discard, "", 0))
	return exec, brk, store
}

func TestExecuteBracket(t *testing.T) {
	exec, brk, store := newExecutor()
	state := models.NewOrchestratorState()

	trade, err := exec.Execute(context.Background(), Request{
		Ticker:      "AAPL",
		Signal:      models.SignalBuy,
		Mode:        models.ModeSwing,
		Quantity:    50,
		Price:       101,
		EntryPrice:  100,
		StopLoss:    95,
		TargetPrice: 112,
		Source:      models.SourceExternalSignal,
		SourceName:  "Morning Brief",
	}, state)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(brk.BracketOrders) != 1 {
		t.Fatalf("got %d bracket orders, want 1", len(brk.BracketOrders))
	}
	o := brk.BracketOrders[0]
	if o.TIF != broker.TIFGTC {
		t.Errorf("TIF = %s, want GTC for a swing trade", o.TIF)
	}

	if trade.Status != models.StatusSubmitted || trade.EntryTrigger != models.TriggerBracketLimit {
		t.Errorf("trade = %s/%s, want SUBMITTED bracket_limit", trade.Status, trade.EntryTrigger)
	}
	if trade.IBOrderID == "" {
		t.Error("trade missing the broker order id")
	}
	// Dollar size uses the entry limit, not the reference quote.
	if trade.PositionSize != 5000 {
		t.Errorf("position size = %v, want 5000 (50 x 100 limit)", trade.PositionSize)
	}
	if _, ok := store.Trades[trade.ID]; !ok {
		t.Error("trade not persisted")
	}
	if state.DailyDeployedDollar != 5000 || state.PendingDeployedDollar != 5000 {
		t.Errorf("deployment counters = %v/%v, want 5000/5000",
			state.DailyDeployedDollar, state.PendingDeployedDollar)
	}
	if len(store.Events) != 1 || store.Events[0].Action != models.ActionExecuted {
		t.Fatalf("expected one executed event, got %+v", store.Events)
	}
}

func TestExecuteMarketWhenLevelsIncomplete(t *testing.T) {
	exec, brk, _ := newExecutor()
	state := models.NewOrchestratorState()

	trade, err := exec.Execute(context.Background(), Request{
		Ticker:     "KO",
		Signal:     models.SignalBuy,
		Mode:       models.ModeLongTerm,
		Quantity:   10,
		Price:      60,
		EntryPrice: 60, // no stop/target: market order
		Source:     models.SourceDipBuy,
	}, state)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(brk.MarketOrders) != 1 || len(brk.BracketOrders) != 0 {
		t.Fatalf("want a single market order, got %d market / %d bracket",
			len(brk.MarketOrders), len(brk.BracketOrders))
	}
	if trade.EntryTrigger != models.TriggerMarket {
		t.Errorf("trigger = %s, want market", trade.EntryTrigger)
	}
}

func TestExecuteTriggerOverride(t *testing.T) {
	exec, _, store := newExecutor()

	trade, err := exec.Execute(context.Background(), Request{
		Ticker: "KO", Signal: models.SignalBuy, Mode: models.ModeLongTerm,
		Quantity: 25, Price: 88, Source: models.SourceDipBuy,
		Tier: 1, Trigger: models.TriggerDipBuy,
	}, models.NewOrchestratorState())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if trade.EntryTrigger != models.TriggerDipBuy {
		t.Errorf("trigger = %s, want dip_buy", trade.EntryTrigger)
	}
	if store.Trades[trade.ID].EntryTrigger != models.TriggerDipBuy {
		t.Error("ledger row lost the trigger provenance")
	}
}

func TestExecuteBracketPricesRoundedToTick(t *testing.T) {
	exec, brk, _ := newExecutor()

	_, err := exec.Execute(context.Background(), Request{
		Ticker: "AAPL", Signal: models.SignalBuy, Mode: models.ModeSwing,
		Quantity: 10, Price: 230.46,
		EntryPrice: 230.456, StopLoss: 221.004, TargetPrice: 252.349,
		Source: models.SourceScanner,
	}, models.NewOrchestratorState())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	o := brk.BracketOrders[0]
	for _, c := range []struct {
		name string
		got  float64
		want float64
	}{
		{"entry", o.EntryPrice, 230.46},
		{"stop", o.StopLoss, 221.00},
		{"target", o.TakeProfit, 252.35},
	} {
		if math.Abs(c.got-c.want) > 1e-9 {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestExecuteSellSide(t *testing.T) {
	exec, brk, _ := newExecutor()
	_, err := exec.Execute(context.Background(), Request{
		Ticker: "PLTR", Signal: models.SignalSell, Mode: models.ModeLongTerm,
		Quantity: 33, Price: 80, Source: models.SourceLossCut,
	}, models.NewOrchestratorState())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if brk.MarketOrders[0].Side != broker.SideSell {
		t.Errorf("side = %s, want SELL", brk.MarketOrders[0].Side)
	}
}

func TestExecuteContractMissing(t *testing.T) {
	exec, brk, store := newExecutor()
	brk.RemoveContract("ZZZZ")
	state := models.NewOrchestratorState()

	_, err := exec.Execute(context.Background(), Request{
		Ticker: "ZZZZ", Signal: models.SignalBuy, Mode: models.ModeSwing,
		Quantity: 1, Price: 10, Source: models.SourceScanner,
	}, state)
	if err == nil {
		t.Fatal("expected error for a missing contract")
	}
	if len(store.Trades) != 0 || state.PendingDeployedDollar != 0 {
		t.Error("failed placement must write nothing")
	}
}

func TestExecutePlacementFailure(t *testing.T) {
	exec, brk, store := newExecutor()
	brk.PlaceErr = context.DeadlineExceeded
	state := models.NewOrchestratorState()

	_, err := exec.Execute(context.Background(), Request{
		Ticker: "AAPL", Signal: models.SignalBuy, Mode: models.ModeSwing,
		Quantity: 10, Price: 100, Source: models.SourceScanner,
	}, state)
	if err == nil {
		t.Fatal("expected placement error")
	}
	if len(store.Trades) != 0 || len(store.Events) != 0 {
		t.Error("failed placement must not ledger a trade or event")
	}
}

func TestExecuteTierMetadata(t *testing.T) {
	exec, _, store := newExecutor()
	_, err := exec.Execute(context.Background(), Request{
		Ticker: "KO", Signal: models.SignalBuy, Mode: models.ModeLongTerm,
		Quantity: 25, Price: 88, Source: models.SourceDipBuy, Tier: 2,
	}, models.NewOrchestratorState())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	done, err := store.HasTierEvent(context.Background(), "KO", models.SourceDipBuy, 2)
	if err != nil || !done {
		t.Errorf("HasTierEvent = %v/%v, want true", done, err)
	}
	done, _ = store.HasTierEvent(context.Background(), "KO", models.SourceDipBuy, 3)
	if done {
		t.Error("tier 3 must not be marked done")
	}
}

func TestRecordSkipAndFailure(t *testing.T) {
	exec, _, store := newExecutor()
	ctx := context.Background()

	exec.RecordSkip(ctx, "AAPL", models.SourceScanner, models.ModeDayTrade, "low_confidence", "confidence below bar")
	exec.RecordFailure(ctx, "NVDA", models.SourceScanner, models.ModeSwing, "order rejected")

	if len(store.Events) != 2 {
		t.Fatalf("got %d events, want 2", len(store.Events))
	}
	var skip, fail *models.AutoTradeEvent
	for i := range store.Events {
		switch store.Events[i].Action {
		case models.ActionSkipped:
			skip = &store.Events[i]
		case models.ActionFailed:
			fail = &store.Events[i]
		}
	}
	if skip == nil || skip.Metadata["slug"] != "low_confidence" || skip.EventType != models.EventWarning {
		t.Errorf("skip event = %+v", skip)
	}
	if fail == nil || fail.EventType != models.EventError {
		t.Errorf("failure event = %+v", fail)
	}
}
