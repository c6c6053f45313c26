// Package rehydrate persists the once-daily portfolio snapshot and emits
// post-close learning records for newly closed trades.
package rehydrate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/dfalkner/autotrader/internal/models"
	"github.com/dfalkner/autotrader/internal/services"
	"github.com/dfalkner/autotrader/internal/storage"
	"github.com/dfalkner/autotrader/internal/util"
)

// Service owns daily snapshots and the post-close learning pass.
type Service struct {
	store  storage.Interface
	clock  util.Clock
	logger *log.Logger
}

// New builds a rehydration service.
func New(store storage.Interface, clock util.Clock, logger *log.Logger) *Service {
	return &Service{store: store, clock: clock, logger: logger}
}

// MaybeSnapshot persists one portfolio snapshot per ET day, and only when
// broker positions exist. Returns true when a snapshot was written.
func (s *Service) MaybeSnapshot(ctx context.Context, accountID string, positions []models.EnrichedPosition, openTradeCount int, state *models.OrchestratorState) bool {
	today := util.ETDay(s.clock.Now())
	if state.LastSnapshotDate == today || len(positions) == 0 {
		return false
	}
	var totalValue, totalPnL float64
	snapPositions := make([]models.SnapshotPosition, 0, len(positions))
	for _, p := range positions {
		totalValue += p.MktValue
		totalPnL += p.UnrealizedPnL
		snapPositions = append(snapPositions, models.SnapshotPosition{
			Symbol:        p.Symbol,
			Position:      p.Position,
			AvgCost:       p.AvgCost,
			MktPrice:      p.MktPrice,
			MktValue:      p.MktValue,
			UnrealizedPnL: p.UnrealizedPnL,
		})
	}
	snap := &models.PortfolioSnapshot{
		ID:             uuid.NewString(),
		AccountID:      accountID,
		Day:            today,
		TotalValue:     totalValue,
		TotalPnL:       totalPnL,
		Positions:      snapPositions,
		OpenTradeCount: openTradeCount,
		CreatedAt:      s.clock.Now(),
	}
	if err := s.store.AddSnapshot(ctx, snap); err != nil {
		s.logger.Printf("ERROR: snapshot write failed: %v", err)
		return false
	}
	state.LastSnapshotDate = today
	s.logger.Printf("Snapshot saved: $%.0f across %d positions", totalValue, len(snapPositions))
	return true
}

// learningSource tags a closed trade with the pipeline that opened it.
func learningSource(t *models.Trade) string {
	switch {
	case strings.HasPrefix(t.Notes, "Dip buy"):
		return models.SourceDipBuy
	case strings.HasPrefix(t.Notes, "Profit take"):
		return models.SourceProfitTake
	case strings.HasPrefix(t.Notes, "Loss cut"):
		return models.SourceLossCut
	case strings.Contains(t.Notes, services.TagGoldMine), strings.Contains(t.Notes, services.TagSteadyCompounder):
		return models.SourceSuggestedFinds
	case t.StrategyVideoID != "" || t.StrategySource != "":
		return models.SourceExternalSignal
	default:
		return models.SourceScanner
	}
}

// RunPostClose emits one learning record per newly closed trade and folds
// the batch into the aggregate performance record. Safe to re-run; the
// learning table dedupes on trade id.
func (s *Service) RunPostClose(ctx context.Context) error {
	trades, err := s.store.GetClosedTradesWithoutLearning(ctx)
	if err != nil {
		return fmt.Errorf("loading unanalysed closed trades: %w", err)
	}
	if len(trades) == 0 {
		return nil
	}

	perf, err := s.store.GetTradePerformance(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("loading performance record: %w", err)
		}
		perf = &models.TradePerformance{ID: "default"}
	}

	recorded := 0
	for i := range trades {
		t := &trades[i]
		holdDays := 0
		if t.ClosedAt != nil {
			opened := t.OpenedAt
			if t.FilledAt != nil {
				opened = *t.FilledAt
			}
			holdDays = int(t.ClosedAt.Sub(opened).Hours() / 24)
		}
		l := &models.TradeLearning{
			ID:          uuid.NewString(),
			TradeID:     t.ID,
			Ticker:      t.Ticker,
			Mode:        t.Mode,
			Signal:      t.Signal,
			CloseReason: t.CloseReason,
			PnL:         t.PnL,
			PnLPercent:  t.PnLPercent,
			RMultiple:   t.RMultiple,
			HoldDays:    holdDays,
			Source:      learningSource(t),
			CreatedAt:   s.clock.Now(),
		}
		if err := s.store.AddTradeLearning(ctx, l); err != nil {
			s.logger.Printf("Warning: learning record for trade %s failed: %v", t.ID, err)
			continue
		}
		recorded++

		sumR := perf.AvgRMultiple * float64(perf.TotalTrades)
		perf.TotalTrades++
		if t.PnL >= 0 {
			perf.Wins++
		} else {
			perf.Losses++
		}
		perf.TotalPnL += t.PnL
		perf.AvgRMultiple = (sumR + t.RMultiple) / float64(perf.TotalTrades)
	}

	if recorded > 0 {
		if perf.TotalTrades > 0 {
			perf.WinRate = float64(perf.Wins) / float64(perf.TotalTrades) * 100
		}
		perf.UpdatedAt = s.clock.Now()
		if err := s.store.SaveTradePerformance(ctx, perf); err != nil {
			s.logger.Printf("Warning: performance record update failed: %v", err)
		}
		s.logger.Printf("Post-close analysis: %d learning record(s), win rate %.1f%%", recorded, perf.WinRate)
	}
	return nil
}
