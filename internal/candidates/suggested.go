package candidates

import (
	"context"
	"log"
	"sort"
	"strings"

	"github.com/dfalkner/autotrader/internal/marketdata"
	"github.com/dfalkner/autotrader/internal/models"
	"github.com/dfalkner/autotrader/internal/services"
)

// goldMineExposureCapPct caps total Gold Mine exposure as a fraction of the
// total allocation.
const goldMineExposureCapPct = 0.40

// convictionDropReject rejects a pick when fresh analysis conviction fell by
// this many points versus the cached list.
const convictionDropReject = 3.0

// SuggestedSelector applies the daily suggested-finds selection rules.
type SuggestedSelector struct {
	analyzer services.Analyzer
	regime   *marketdata.RegimeCache
	logger   *log.Logger
}

// NewSuggestedSelector builds a selector.
func NewSuggestedSelector(analyzer services.Analyzer, regime *marketdata.RegimeCache, logger *log.Logger) *SuggestedSelector {
	return &SuggestedSelector{analyzer: analyzer, regime: regime, logger: logger}
}

func undervalued(tag string) bool {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "deep value", "undervalued":
		return true
	}
	return false
}

// GoldMineExposure sums position sizes of active trades tagged Gold Mine.
func GoldMineExposure(active []models.Trade) float64 {
	var total float64
	for _, t := range active {
		if strings.Contains(t.Notes, services.TagGoldMine) {
			total += t.PositionSize
		}
	}
	return total
}

// Select filters the daily suggestions down to the picks worth executing.
// Order: compounders first, then gold mines, each by descending conviction.
func (s *SuggestedSelector) Select(ctx context.Context, daily *services.DailySuggestions, cfg *models.AutoTraderConfig, activeTickers map[string]bool, goldMineExposure float64) []services.SuggestedFind {
	compounders := sortedByConviction(daily.Compounders)
	goldMines := sortedByConviction(daily.GoldMines)

	goldMineMin := cfg.MinSuggestedFindsConviction
	if len(goldMines) > 2*len(compounders) {
		goldMineMin++
	}

	goldMinesBlocked := false
	if len(goldMines) > 0 {
		above, known := s.regime.Above200(ctx)
		if known && !above {
			goldMinesBlocked = true
			s.logger.Printf("Suggested finds: market below 200-day mean, gold mines blocked")
		}
	}

	var picks []services.SuggestedFind
	for i, f := range compounders {
		if activeTickers[f.Ticker] {
			continue
		}
		topPick := i == 0 && f.Conviction >= 8
		if !topPick && !(f.Conviction >= cfg.MinSuggestedFindsConviction && undervalued(f.ValuationTag)) {
			continue
		}
		f.Tag = services.TagSteadyCompounder
		picks = append(picks, f)
	}
	for i, f := range goldMines {
		if goldMinesBlocked || activeTickers[f.Ticker] {
			continue
		}
		topPick := i == 0 && f.Conviction >= 8
		if !topPick && !(f.Conviction >= goldMineMin && undervalued(f.ValuationTag)) {
			continue
		}
		f.Tag = services.TagGoldMine
		picks = append(picks, f)
	}
	return picks
}

// CheckGoldMineCap reports whether adding newSize of Gold Mine exposure
// stays under the tag-level cap.
func CheckGoldMineCap(cfg *models.AutoTraderConfig, currentExposure, newSize float64) bool {
	return currentExposure+newSize <= goldMineExposureCapPct*cfg.MaxTotalAllocation
}

// Verify re-analyses a pick just before execution. A SELL recommendation or
// a conviction collapse rejects; analysis being unavailable does not.
func (s *SuggestedSelector) Verify(ctx context.Context, find services.SuggestedFind) (ok bool, fresh *services.Analysis) {
	a, err := s.analyzer.Analyze(ctx, find.Ticker, models.ModeLongTerm)
	if err != nil {
		s.logger.Printf("Suggested finds: verification unavailable for %s, using cached conviction: %v", find.Ticker, err)
		return true, nil
	}
	if a.Recommendation == "SELL" {
		return false, a
	}
	if find.Conviction-a.Confidence >= convictionDropReject {
		return false, a
	}
	return true, a
}

func sortedByConviction(finds []services.SuggestedFind) []services.SuggestedFind {
	out := make([]services.SuggestedFind, len(finds))
	copy(out, finds)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Conviction > out[j].Conviction })
	return out
}
