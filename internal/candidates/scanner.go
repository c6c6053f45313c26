// Package candidates filters scanner ideas and curated suggested finds down
// to executable entries.
package candidates

import (
	"context"
	"log"
	"sort"

	"github.com/dfalkner/autotrader/internal/marketdata"
	"github.com/dfalkner/autotrader/internal/models"
	"github.com/dfalkner/autotrader/internal/services"
	"github.com/dfalkner/autotrader/internal/util"
)

// Skip slugs recorded on events when an idea is filtered out.
const (
	SlugAlreadyActive    = "already_active"
	SlugAlreadyProcessed = "already_processed"
	SlugClaimedByGeneric = "claimed_by_generic"
	SlugLowConfidence    = "low_confidence"
	SlugAnalysisRejected = "analysis_rejected"
	SlugSkippedDistance  = "skipped_by_distance"
)

// Candidate is a scanner idea that cleared the cheap filters and is ready
// for the full-analysis gate.
type Candidate struct {
	Idea models.TradeIdea
	Mode models.TradeMode
}

// FilterInput is everything scanner filtering needs besides the ideas.
type FilterInput struct {
	Cfg              *models.AutoTraderConfig
	ActiveTickers    map[string]bool
	ProcessedTickers map[string]bool
	ClaimedTickers   map[string]bool
	ActiveCount      int
}

// FilterIdeas applies the cheap pre-analysis filters, orders survivors by
// descending confidence, and truncates to the remaining position headroom.
func FilterIdeas(ideas []models.TradeIdea, mode models.TradeMode, in FilterInput) []Candidate {
	var out []Candidate
	for _, idea := range ideas {
		switch {
		case in.ActiveTickers[idea.Ticker]:
		case in.ProcessedTickers[idea.Ticker]:
		case in.ClaimedTickers[idea.Ticker]:
		case idea.Confidence < in.Cfg.MinScannerConfidence:
		default:
			out = append(out, Candidate{Idea: idea, Mode: mode})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Idea.Confidence > out[j].Idea.Confidence
	})
	headroom := in.Cfg.MaxPositions - in.ActiveCount
	if headroom < 0 {
		headroom = 0
	}
	if len(out) > headroom {
		out = out[:headroom]
	}
	return out
}

// minDayTradeRR is the minimum parsed risk/reward ratio for day trades.
const minDayTradeRR = 1.8

// maxSwingEntryDistancePct rejects swing entries when the live quote is too
// far from the proposed limit entry to fill.
const maxSwingEntryDistancePct = 4.0

// AnalysisGate runs the full-analysis service for a ticker and applies the
// verdict filters.
type AnalysisGate struct {
	analyzer services.Analyzer
	data     marketdata.Provider
	logger   *log.Logger
}

// NewAnalysisGate builds an analysis gate.
func NewAnalysisGate(analyzer services.Analyzer, data marketdata.Provider, logger *log.Logger) *AnalysisGate {
	return &AnalysisGate{analyzer: analyzer, data: data, logger: logger}
}

// GateResult is the analysis-gate outcome. Analysis is non-nil only on pass.
type GateResult struct {
	OK       bool
	Slug     string
	Reason   string
	Analysis *services.Analysis
}

// Check fetches an analysis for the ticker and rejects on weak confidence,
// HOLD, signal disagreement, missing levels, thin day-trade risk/reward, or
// a swing entry too far from the live quote.
func (g *AnalysisGate) Check(ctx context.Context, ticker string, signal models.TradeSignal, mode models.TradeMode, cfg *models.AutoTraderConfig) GateResult {
	a, err := g.analyzer.Analyze(ctx, ticker, mode)
	if err != nil {
		return GateResult{Slug: SlugAnalysisRejected, Reason: "analysis unavailable: " + err.Error()}
	}
	switch {
	case a.Confidence < cfg.MinFAConfidence:
		return GateResult{Slug: SlugAnalysisRejected, Reason: "analysis confidence below threshold"}
	case a.Recommendation == "HOLD":
		return GateResult{Slug: SlugAnalysisRejected, Reason: "analysis recommends HOLD"}
	case a.Recommendation != string(signal):
		return GateResult{Slug: SlugAnalysisRejected, Reason: "analysis disagrees with scanner signal"}
	case !a.HasLevels():
		return GateResult{Slug: SlugAnalysisRejected, Reason: "analysis missing entry/stop/target"}
	}
	if mode == models.ModeDayTrade {
		rr, ok := a.RiskRewardRatio()
		if !ok || rr < minDayTradeRR {
			return GateResult{Slug: SlugAnalysisRejected, Reason: "day-trade risk/reward below 1.8"}
		}
	}
	if mode == models.ModeSwing {
		quote, err := g.data.Quote(ctx, ticker)
		if err == nil && quote > 0 {
			if util.PctDiff(quote, a.EntryPrice) > maxSwingEntryDistancePct {
				return GateResult{Slug: SlugSkippedDistance,
					Reason: "quote more than 4% from proposed entry"}
			}
		}
	}
	return GateResult{OK: true, Analysis: a}
}
