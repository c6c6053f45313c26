package candidates

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/dfalkner/autotrader/internal/marketdata"
	"github.com/dfalkner/autotrader/internal/models"
	"github.com/dfalkner/autotrader/internal/services"
)

type fakeAnalyzer struct {
	byTicker map[string]*services.Analysis
	err      error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, ticker string, _ models.TradeMode) (*services.Analysis, error) {
	if f.err != nil {
		return nil, f.err
	}
	a, ok := f.byTicker[ticker]
	if !ok {
		return nil, errors.New("no analysis configured for " + ticker)
	}
	return a, nil
}

func discard() *log.Logger { return log.New(io.Discard, "", 0) }

func TestFilterIdeas(t *testing.T) {
	cfg := models.DefaultAutoTraderConfig()
	cfg.MinScannerConfidence = 7
	cfg.MaxPositions = 3

	ideas := []models.TradeIdea{
		{Ticker: "AAPL", Confidence: 8},
		{Ticker: "MSFT", Confidence: 9}, // already active
		{Ticker: "NVDA", Confidence: 9.5},
		{Ticker: "TSLA", Confidence: 6}, // below threshold
		{Ticker: "AMD", Confidence: 8.5},
		{Ticker: "META", Confidence: 9}, // claimed by a generic signal
		{Ticker: "GOOG", Confidence: 9}, // processed earlier this cycle
	}
	got := FilterIdeas(ideas, models.ModeDayTrade, FilterInput{
		Cfg:              cfg,
		ActiveTickers:    map[string]bool{"MSFT": true},
		ProcessedTickers: map[string]bool{"GOOG": true},
		ClaimedTickers:   map[string]bool{"META": true},
		ActiveCount:      1,
	})

	// Headroom is 2, so only the two strongest survivors remain.
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2", len(got))
	}
	if got[0].Idea.Ticker != "NVDA" || got[1].Idea.Ticker != "AMD" {
		t.Errorf("candidates = %s, %s; want NVDA, AMD", got[0].Idea.Ticker, got[1].Idea.Ticker)
	}
	if got[0].Mode != models.ModeDayTrade {
		t.Errorf("mode = %s, want DAY_TRADE", got[0].Mode)
	}
}

func TestFilterIdeasNoHeadroom(t *testing.T) {
	cfg := models.DefaultAutoTraderConfig()
	cfg.MaxPositions = 5
	got := FilterIdeas([]models.TradeIdea{{Ticker: "AAPL", Confidence: 10}}, models.ModeSwing, FilterInput{
		Cfg:         cfg,
		ActiveCount: 5,
	})
	if len(got) != 0 {
		t.Errorf("got %d candidates with full book, want 0", len(got))
	}
}

func buyAnalysis() *services.Analysis {
	return &services.Analysis{
		Recommendation: "BUY",
		Confidence:     8,
		EntryPrice:     100,
		StopLoss:       95,
		TargetPrice:    112,
		RiskReward:     "1:2.4",
	}
}

func TestAnalysisGateCheck(t *testing.T) {
	cfg := models.DefaultAutoTraderConfig()
	cfg.MinFAConfidence = 7

	tests := []struct {
		name     string
		analysis *services.Analysis
		mode     models.TradeMode
		wantOK   bool
		wantSlug string
	}{
		{"pass", buyAnalysis(), models.ModeDayTrade, true, ""},
		{"low confidence", func() *services.Analysis { a := buyAnalysis(); a.Confidence = 5; return a }(), models.ModeDayTrade, false, SlugAnalysisRejected},
		{"hold", func() *services.Analysis { a := buyAnalysis(); a.Recommendation = "HOLD"; return a }(), models.ModeDayTrade, false, SlugAnalysisRejected},
		{"disagrees", func() *services.Analysis { a := buyAnalysis(); a.Recommendation = "SELL"; return a }(), models.ModeDayTrade, false, SlugAnalysisRejected},
		{"missing levels", func() *services.Analysis { a := buyAnalysis(); a.StopLoss = 0; return a }(), models.ModeDayTrade, false, SlugAnalysisRejected},
		{"thin day-trade rr", func() *services.Analysis { a := buyAnalysis(); a.RiskReward = "1:1.5"; return a }(), models.ModeDayTrade, false, SlugAnalysisRejected},
		{"thin rr ok for swing", func() *services.Analysis { a := buyAnalysis(); a.RiskReward = "1:1.5"; return a }(), models.ModeSwing, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := marketdata.NewMockProvider()
			data.Quotes["AAPL"] = 100
			g := NewAnalysisGate(&fakeAnalyzer{byTicker: map[string]*services.Analysis{"AAPL": tt.analysis}}, data, discard())
			res := g.Check(context.Background(), "AAPL", models.SignalBuy, tt.mode, cfg)
			if res.OK != tt.wantOK {
				t.Fatalf("OK = %v (%s), want %v", res.OK, res.Reason, tt.wantOK)
			}
			if !tt.wantOK && res.Slug != tt.wantSlug {
				t.Errorf("slug = %s, want %s", res.Slug, tt.wantSlug)
			}
			if tt.wantOK && res.Analysis == nil {
				t.Error("passing gate must return the analysis")
			}
		})
	}
}

func TestAnalysisGateSwingDistance(t *testing.T) {
	cfg := models.DefaultAutoTraderConfig()
	data := marketdata.NewMockProvider()
	data.Quotes["AAPL"] = 110 // 10% above the proposed 100 entry
	g := NewAnalysisGate(&fakeAnalyzer{byTicker: map[string]*services.Analysis{"AAPL": buyAnalysis()}}, data, discard())

	res := g.Check(context.Background(), "AAPL", models.SignalBuy, models.ModeSwing, cfg)
	if res.OK || res.Slug != SlugSkippedDistance {
		t.Errorf("result = %+v, want skipped by distance", res)
	}

	// A failing quote lookup does not block the swing entry.
	data.Quotes = map[string]float64{}
	res = g.Check(context.Background(), "AAPL", models.SignalBuy, models.ModeSwing, cfg)
	if !res.OK {
		t.Errorf("quote failure should pass, got %+v", res)
	}
}

func TestAnalysisGateUnavailable(t *testing.T) {
	g := NewAnalysisGate(&fakeAnalyzer{err: errors.New("service down")}, marketdata.NewMockProvider(), discard())
	res := g.Check(context.Background(), "AAPL", models.SignalBuy, models.ModeDayTrade, models.DefaultAutoTraderConfig())
	if res.OK || res.Slug != SlugAnalysisRejected {
		t.Errorf("result = %+v, want analysis rejected", res)
	}
}
