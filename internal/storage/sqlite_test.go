package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dfalkner/autotrader/internal/models"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestConfigRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.GetAutoTraderConfig(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty store err = %v, want ErrNotFound", err)
	}

	cfg := models.DefaultAutoTraderConfig()
	cfg.Enabled = true
	cfg.MaxPositions = 7
	if err := store.SaveAutoTraderConfig(ctx, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.GetAutoTraderConfig(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Enabled || got.MaxPositions != 7 {
		t.Errorf("config = %+v, want enabled with 7 positions", got)
	}

	// Save is an upsert.
	cfg.MaxPositions = 9
	if err := store.SaveAutoTraderConfig(ctx, cfg); err != nil {
		t.Fatalf("resave: %v", err)
	}
	got, _ = store.GetAutoTraderConfig(ctx)
	if got.MaxPositions != 9 {
		t.Errorf("after upsert MaxPositions = %d, want 9", got.MaxPositions)
	}
}

func newTrade(id, ticker string, status models.TradeStatus, openedAt time.Time) *models.Trade {
	return &models.Trade{
		ID:           id,
		Ticker:       ticker,
		Mode:         models.ModeSwing,
		Signal:       models.SignalBuy,
		Status:       status,
		Quantity:     10,
		PositionSize: 1000,
		OpenedAt:     openedAt,
	}
}

func TestTradeLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	tr := newTrade("t1", "AAPL", models.StatusSubmitted, now)
	if err := store.AddTrade(ctx, tr); err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := store.GetTrade(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Ticker != "AAPL" || got.Status != models.StatusSubmitted {
		t.Errorf("trade = %+v", got)
	}

	got.Status = models.StatusFilled
	got.FillPrice = 101.5
	if err := store.UpdateTrade(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = store.GetTrade(ctx, "t1")
	if got.Status != models.StatusFilled || got.FillPrice != 101.5 {
		t.Errorf("after update = %s @ %v", got.Status, got.FillPrice)
	}

	if err := store.UpdateTrade(ctx, newTrade("missing", "X", models.StatusFilled, now)); !errors.Is(err, ErrNotFound) {
		t.Errorf("update missing err = %v, want ErrNotFound", err)
	}
	if _, err := store.GetTrade(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get missing err = %v, want ErrNotFound", err)
	}
}

func TestActiveTradeQueries(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_ = store.AddTrade(ctx, newTrade("t1", "AAPL", models.StatusFilled, now.Add(-2*time.Hour)))
	_ = store.AddTrade(ctx, newTrade("t2", "AAPL", models.StatusSubmitted, now.Add(-time.Hour)))
	closed := newTrade("t3", "AAPL", models.StatusClosed, now.Add(-3*time.Hour))
	closedAt := now.Add(-time.Minute)
	closed.ClosedAt = &closedAt
	_ = store.AddTrade(ctx, closed)
	_ = store.AddTrade(ctx, newTrade("t4", "NVDA", models.StatusFilled, now))

	active, err := store.GetActiveTrades(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 3 {
		t.Errorf("got %d active trades, want 3", len(active))
	}
	if active[0].ID != "t1" {
		t.Errorf("ordering: first active = %s, want t1 (oldest open)", active[0].ID)
	}

	byTicker, err := store.GetActiveTradesByTicker(ctx, "AAPL")
	if err != nil {
		t.Fatalf("by ticker: %v", err)
	}
	if len(byTicker) != 2 {
		t.Errorf("got %d AAPL actives, want 2", len(byTicker))
	}
}

func TestRecentClosedTradesScope(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	add := func(id, source, videoID string, mode models.TradeMode, closedAgo time.Duration) {
		tr := newTrade(id, "AAPL", models.StatusClosed, now.Add(-24*time.Hour))
		tr.StrategySource = source
		tr.StrategyVideoID = videoID
		tr.Mode = mode
		closedAt := now.Add(-closedAgo)
		tr.ClosedAt = &closedAt
		if err := store.AddTrade(ctx, tr); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	add("c1", "src", "vidA", models.ModeDayTrade, time.Hour)
	add("c2", "src", "vidB", models.ModeDayTrade, 2*time.Hour)
	add("c3", "src", "vidA", models.ModeSwing, 3*time.Hour)
	add("c4", "other", "vidA", models.ModeDayTrade, 4*time.Hour)

	got, err := store.GetRecentClosedTrades(ctx, ScopeFilter{SourceName: "src", Mode: models.ModeDayTrade}, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c1" || got[1].ID != "c2" {
		t.Errorf("scoped result = %+v, want c1 then c2", got)
	}

	got, _ = store.GetRecentClosedTrades(ctx, ScopeFilter{SourceName: "src", StrategyVideoID: "vidA", Mode: models.ModeDayTrade}, 10)
	if len(got) != 1 || got[0].ID != "c1" {
		t.Errorf("video-scoped result = %+v, want only c1", got)
	}
}

func newSignal(id, ticker string) *models.ExternalStrategySignal {
	return &models.ExternalStrategySignal{
		ID:            id,
		SourceName:    "Morning Brief",
		Ticker:        ticker,
		Signal:        models.SignalBuy,
		Mode:          models.ModeDayTrade,
		Confidence:    8,
		ExecuteOnDate: "2026-01-05",
		Status:        models.SignalPending,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestSignalDueAndFind(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	early := newSignal("s1", "AAPL")
	early.CreatedAt = early.CreatedAt.Add(-time.Hour)
	_ = store.AddExternalSignal(ctx, early)
	_ = store.AddExternalSignal(ctx, newSignal("s2", "NVDA"))
	future := newSignal("s3", "TSLA")
	future.ExecuteOnDate = "2026-02-01"
	_ = store.AddExternalSignal(ctx, future)

	due, err := store.GetDueExternalSignals(ctx, "2026-01-05")
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 2 || due[0].ID != "s1" {
		t.Errorf("due = %+v, want s1 then s2", due)
	}

	found, err := store.FindExternalSignal(ctx, early.Key())
	if err != nil || found.ID != "s1" {
		t.Errorf("find = %v/%v, want s1", found, err)
	}
	missing := early.Key()
	missing.Ticker = "ZZZZ"
	if _, err := store.FindExternalSignal(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("find missing err = %v, want ErrNotFound", err)
	}
}

func TestTransitionSignalIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	_ = store.AddExternalSignal(ctx, newSignal("s1", "AAPL"))

	applied, err := store.TransitionSignal(ctx, "s1", models.SignalExecuted, "", "trade-1")
	if err != nil || !applied {
		t.Fatalf("first transition = %v/%v, want applied", applied, err)
	}

	// A terminal signal never transitions again.
	applied, err = store.TransitionSignal(ctx, "s1", models.SignalFailed, "late failure", "")
	if err != nil || applied {
		t.Fatalf("second transition = %v/%v, want no-op", applied, err)
	}

	got, _ := store.FindExternalSignal(ctx, newSignal("s1", "AAPL").Key())
	if got.Status != models.SignalExecuted || got.ExecutedTradeID != "trade-1" || got.ExecutedAt == nil {
		t.Errorf("signal = %+v, want EXECUTED with trade-1", got)
	}

	if _, err := store.TransitionSignal(ctx, "missing", models.SignalExpired, "", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing signal err = %v, want ErrNotFound", err)
	}
}

func TestEventQueries(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	addEvent := func(id string, createdAgo time.Duration, tier string) {
		e := &models.AutoTradeEvent{
			ID:        id,
			Ticker:    "KO",
			EventType: models.EventSuccess,
			Action:    models.ActionExecuted,
			Source:    models.SourceDipBuy,
			CreatedAt: now.Add(-createdAgo),
		}
		if tier != "" {
			e.Metadata = map[string]string{"tier": tier}
		}
		if err := store.AddEvent(ctx, e); err != nil {
			t.Fatalf("add event %s: %v", id, err)
		}
	}
	addEvent("e1", 3*time.Hour, "1")
	addEvent("e2", time.Hour, "")
	addEvent("e3", 2*time.Hour, "2")

	recent, err := store.GetRecentEvents(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "e2" {
		t.Errorf("recent = %+v, want e2 newest-first, limit 2", recent)
	}

	last, err := store.GetLastEvent(ctx, "KO", models.SourceDipBuy, models.ActionExecuted)
	if err != nil || last == nil || last.ID != "e2" {
		t.Errorf("last = %v/%v, want e2", last, err)
	}
	last, err = store.GetLastEvent(ctx, "ZZZZ", models.SourceDipBuy, models.ActionExecuted)
	if err != nil || last != nil {
		t.Errorf("miss = %v/%v, want nil/nil", last, err)
	}

	for tier, want := range map[int]bool{1: true, 2: true, 3: false} {
		got, err := store.HasTierEvent(ctx, "KO", models.SourceDipBuy, tier)
		if err != nil || got != want {
			t.Errorf("HasTierEvent(%d) = %v/%v, want %v", tier, got, err, want)
		}
	}
}

func TestVideoRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	v := &models.StrategyVideo{
		VideoID:      "vid1",
		SourceName:   "Morning Brief",
		StrategyType: models.StrategyDailySignal,
		TradeDate:    "2026-01-05",
		Status:       models.VideoStatusTracked,
	}
	if err := store.SaveVideo(ctx, v); err != nil {
		t.Fatalf("save: %v", err)
	}
	paused := *v
	paused.VideoID = "vid2"
	paused.Status = "paused"
	_ = store.SaveVideo(ctx, &paused)

	tracked, err := store.GetTrackedVideos(ctx)
	if err != nil {
		t.Fatalf("tracked: %v", err)
	}
	if len(tracked) != 1 || tracked[0].VideoID != "vid1" {
		t.Errorf("tracked = %+v, want only vid1", tracked)
	}

	got, err := store.GetVideo(ctx, "vid1")
	if err != nil || got.SourceName != "Morning Brief" {
		t.Errorf("get = %v/%v", got, err)
	}
	if _, err := store.GetVideo(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing video err = %v, want ErrNotFound", err)
	}
}

func TestTradeScanNotifiesSubscribers(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	ch := store.SubscribeTradeScans()
	scan := &models.TradeScan{ID: "scan1", Mode: models.ModeDayTrade, FetchedAt: time.Now().UTC()}
	if err := store.SaveTradeScan(ctx, scan); err != nil {
		t.Fatalf("save scan: %v", err)
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("subscriber not notified")
	}

	// Upserting the same id notifies again and does not error.
	if err := store.SaveTradeScan(ctx, scan); err != nil {
		t.Fatalf("upsert scan: %v", err)
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("subscriber not notified on upsert")
	}
}

func TestSwingMetricsWriteOnce(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	m := &models.SwingMetricsDaily{ID: "m1", TradeID: "t1", Ticker: "AAPL", Day: "2026-01-05"}
	if err := store.SaveSwingMetrics(ctx, m); err != nil {
		t.Fatalf("save: %v", err)
	}
	dup := &models.SwingMetricsDaily{ID: "m2", TradeID: "t1", Ticker: "AAPL", Day: "2026-01-06"}
	if err := store.SaveSwingMetrics(ctx, dup); err != nil {
		t.Errorf("duplicate trade_id must be a silent no-op, got %v", err)
	}
}

func TestLearningAndPerformance(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	closed := newTrade("t1", "AAPL", models.StatusClosed, now.Add(-48*time.Hour))
	closedAt := now.Add(-time.Hour)
	closed.ClosedAt = &closedAt
	_ = store.AddTrade(ctx, closed)

	pending, err := store.GetClosedTradesWithoutLearning(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("unanalysed = %d/%v, want 1", len(pending), err)
	}

	l := &models.TradeLearning{ID: "l1", TradeID: "t1", Ticker: "AAPL"}
	if err := store.AddTradeLearning(ctx, l); err != nil {
		t.Fatalf("learning: %v", err)
	}
	dup := &models.TradeLearning{ID: "l2", TradeID: "t1", Ticker: "AAPL"}
	if err := store.AddTradeLearning(ctx, dup); err != nil {
		t.Errorf("duplicate learning must be a no-op, got %v", err)
	}

	pending, _ = store.GetClosedTradesWithoutLearning(ctx)
	if len(pending) != 0 {
		t.Errorf("trade still unanalysed after learning write: %+v", pending)
	}

	if _, err := store.GetTradePerformance(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty perf err = %v, want ErrNotFound", err)
	}
	perf := &models.TradePerformance{TotalTrades: 5, Wins: 3, Losses: 2, WinRate: 60}
	if err := store.SaveTradePerformance(ctx, perf); err != nil {
		t.Fatalf("save perf: %v", err)
	}
	got, err := store.GetTradePerformance(ctx)
	if err != nil || got.TotalTrades != 5 || got.WinRate != 60 {
		t.Errorf("perf = %+v/%v", got, err)
	}
}

func TestSnapshotInsert(t *testing.T) {
	store := openTestStore(t)
	snap := &models.PortfolioSnapshot{ID: "snap1", Day: "2026-01-05", TotalValue: 23900}
	if err := store.AddSnapshot(context.Background(), snap); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
}
