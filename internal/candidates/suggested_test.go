package candidates

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dfalkner/autotrader/internal/marketdata"
	"github.com/dfalkner/autotrader/internal/models"
	"github.com/dfalkner/autotrader/internal/services"
)

// regimeWith returns a cache whose broad symbol closes at lastClose after a
// long flat history at 100.
func regimeWith(lastClose float64) *marketdata.RegimeCache {
	data := marketdata.NewMockProvider()
	closes := make([]float64, 220)
	for i := range closes {
		closes[i] = 100
	}
	closes[len(closes)-1] = lastClose
	data.BarsBySym["SPY"] = &marketdata.Bars{Closes: closes}
	return marketdata.NewRegimeCache(data, "SPY", time.Minute)
}

func TestSelectCompounders(t *testing.T) {
	cfg := models.DefaultAutoTraderConfig()
	cfg.MinSuggestedFindsConviction = 7
	s := NewSuggestedSelector(&fakeAnalyzer{}, regimeWith(150), discard())

	daily := &services.DailySuggestions{
		Compounders: []services.SuggestedFind{
			{Ticker: "COST", Conviction: 9, ValuationTag: "fairly valued"}, // top pick despite tag
			{Ticker: "V", Conviction: 8, ValuationTag: "undervalued"},
			{Ticker: "MA", Conviction: 8, ValuationTag: "fully valued"}, // not top, not undervalued
			{Ticker: "PG", Conviction: 6, ValuationTag: "deep value"},   // conviction too low
		},
	}
	picks := s.Select(context.Background(), daily, cfg, map[string]bool{}, 0)
	if len(picks) != 2 {
		t.Fatalf("got %d picks, want 2: %+v", len(picks), picks)
	}
	if picks[0].Ticker != "COST" || picks[1].Ticker != "V" {
		t.Errorf("picks = %s, %s; want COST, V", picks[0].Ticker, picks[1].Ticker)
	}
	for _, p := range picks {
		if p.Tag != services.TagSteadyCompounder {
			t.Errorf("%s tag = %q, want compounder", p.Ticker, p.Tag)
		}
	}
}

func TestSelectSkipsActiveTickers(t *testing.T) {
	cfg := models.DefaultAutoTraderConfig()
	s := NewSuggestedSelector(&fakeAnalyzer{}, regimeWith(150), discard())
	daily := &services.DailySuggestions{
		Compounders: []services.SuggestedFind{{Ticker: "COST", Conviction: 9}},
	}
	picks := s.Select(context.Background(), daily, cfg, map[string]bool{"COST": true}, 0)
	if len(picks) != 0 {
		t.Errorf("active ticker must not be re-picked, got %+v", picks)
	}
}

func TestSelectGoldMinesBlockedBelow200(t *testing.T) {
	cfg := models.DefaultAutoTraderConfig()
	daily := &services.DailySuggestions{
		GoldMines: []services.SuggestedFind{{Ticker: "SMCI", Conviction: 9}},
	}

	s := NewSuggestedSelector(&fakeAnalyzer{}, regimeWith(50), discard())
	if picks := s.Select(context.Background(), daily, cfg, map[string]bool{}, 0); len(picks) != 0 {
		t.Errorf("gold mines should be blocked below the 200-day mean, got %+v", picks)
	}

	s = NewSuggestedSelector(&fakeAnalyzer{}, regimeWith(150), discard())
	picks := s.Select(context.Background(), daily, cfg, map[string]bool{}, 0)
	if len(picks) != 1 || picks[0].Tag != services.TagGoldMine {
		t.Errorf("gold mine top pick expected above the 200-day mean, got %+v", picks)
	}
}

func TestSelectGoldMineBarRaised(t *testing.T) {
	cfg := models.DefaultAutoTraderConfig()
	cfg.MinSuggestedFindsConviction = 7
	s := NewSuggestedSelector(&fakeAnalyzer{}, regimeWith(150), discard())

	// Three gold mines against one compounder raises the gold-mine minimum
	// by one, so the conviction-7 undervalued name no longer qualifies.
	daily := &services.DailySuggestions{
		Compounders: []services.SuggestedFind{{Ticker: "COST", Conviction: 9}},
		GoldMines: []services.SuggestedFind{
			{Ticker: "AA", Conviction: 7.5, ValuationTag: "undervalued"},
			{Ticker: "BB", Conviction: 7, ValuationTag: "undervalued"},
			{Ticker: "CC", Conviction: 5, ValuationTag: "undervalued"},
		},
	}
	picks := s.Select(context.Background(), daily, cfg, map[string]bool{}, 0)
	var goldMines []string
	for _, p := range picks {
		if p.Tag == services.TagGoldMine {
			goldMines = append(goldMines, p.Ticker)
		}
	}
	// AA survives as top pick is conviction 7.5 < 8, so only the raised
	// minimum (8) applies: no gold mine qualifies.
	if len(goldMines) != 0 {
		t.Errorf("gold mines = %v, want none with the raised bar", goldMines)
	}
}

func TestGoldMineExposureAndCap(t *testing.T) {
	active := []models.Trade{
		{Notes: "Suggested find: " + services.TagGoldMine, PositionSize: 50000},
		{Notes: "Scanner entry", PositionSize: 99999},
	}
	if got := GoldMineExposure(active); got != 50000 {
		t.Errorf("exposure = %v, want 50000", got)
	}

	cfg := models.DefaultAutoTraderConfig()
	cfg.MaxTotalAllocation = 500000 // cap = 200k
	if !CheckGoldMineCap(cfg, 150000, 50000) {
		t.Error("150k + 50k should fit the 200k cap")
	}
	if CheckGoldMineCap(cfg, 150000, 50001) {
		t.Error("crossing the 40% cap should fail")
	}
}

func TestVerify(t *testing.T) {
	find := services.SuggestedFind{Ticker: "COST", Conviction: 9}

	// SELL rejects.
	s := NewSuggestedSelector(&fakeAnalyzer{byTicker: map[string]*services.Analysis{
		"COST": {Recommendation: "SELL", Confidence: 8},
	}}, regimeWith(150), discard())
	if ok, _ := s.Verify(context.Background(), find); ok {
		t.Error("SELL recommendation must reject")
	}

	// Conviction collapse rejects.
	s = NewSuggestedSelector(&fakeAnalyzer{byTicker: map[string]*services.Analysis{
		"COST": {Recommendation: "BUY", Confidence: 5},
	}}, regimeWith(150), discard())
	if ok, _ := s.Verify(context.Background(), find); ok {
		t.Error("a 4-point conviction drop must reject")
	}

	// Fresh confirmation passes with the analysis attached.
	s = NewSuggestedSelector(&fakeAnalyzer{byTicker: map[string]*services.Analysis{
		"COST": {Recommendation: "BUY", Confidence: 9},
	}}, regimeWith(150), discard())
	ok, fresh := s.Verify(context.Background(), find)
	if !ok || fresh == nil {
		t.Errorf("confirmation should pass with fresh analysis, got ok=%v fresh=%v", ok, fresh)
	}

	// Analysis unavailable passes on cached conviction.
	s = NewSuggestedSelector(&fakeAnalyzer{err: errors.New("down")}, regimeWith(150), discard())
	ok, fresh = s.Verify(context.Background(), find)
	if !ok || fresh != nil {
		t.Errorf("unavailable analysis should pass with nil fresh, got ok=%v fresh=%v", ok, fresh)
	}
}
