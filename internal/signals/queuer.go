// Package signals queues external strategy signals from the tracked-video
// catalogue and executes due ones through the order pipeline.
package signals

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/google/uuid"

	"github.com/dfalkner/autotrader/internal/models"
	"github.com/dfalkner/autotrader/internal/storage"
	"github.com/dfalkner/autotrader/internal/util"
)

// GenericNotesPrefix marks signals auto-queued from generic-strategy videos.
const GenericNotesPrefix = "Generic strategy auto"

// Queuer writes pending external signals. Both paths are idempotent on the
// signal key, so re-running a cycle never duplicates a queue entry.
type Queuer struct {
	store  storage.Interface
	clock  util.Clock
	logger *log.Logger
}

// NewQueuer builds a signal queuer.
func NewQueuer(store storage.Interface, clock util.Clock, logger *log.Logger) *Queuer {
	return &Queuer{store: store, clock: clock, logger: logger}
}

// QueueDailySignals turns today's daily-signal videos into pending signals:
// one BUY per long setup, one SELL per short setup.
func (q *Queuer) QueueDailySignals(ctx context.Context) error {
	today := util.ETDay(q.clock.Now())
	videos, err := q.store.GetTrackedVideos(ctx)
	if err != nil {
		return fmt.Errorf("loading tracked videos: %w", err)
	}
	for i := range videos {
		v := &videos[i]
		if v.StrategyType != models.StrategyDailySignal || v.TradeDate != today || len(v.ExtractedSignals) == 0 {
			continue
		}
		mode := v.Timeframe
		if mode == "" {
			mode = models.ModeDayTrade
		}
		for _, es := range v.ExtractedSignals {
			if es.LongTriggerAbove != nil && len(es.LongTargets) > 0 {
				q.queueOne(ctx, v, mode, es.Ticker, models.SignalBuy,
					es.LongTriggerAbove, es.ShortTriggerBelow, es.LongTargets[0], today)
			}
			if es.ShortTriggerBelow != nil && len(es.ShortTargets) > 0 {
				q.queueOne(ctx, v, mode, es.Ticker, models.SignalSell,
					es.ShortTriggerBelow, es.LongTriggerAbove, es.ShortTargets[0], today)
			}
		}
	}
	return nil
}

func (q *Queuer) queueOne(ctx context.Context, v *models.StrategyVideo, mode models.TradeMode, ticker string, signal models.TradeSignal, entry, stop *float64, target float64, today string) {
	key := models.SignalKey{
		SourceName:      v.SourceName,
		Ticker:          ticker,
		Signal:          signal,
		Mode:            mode,
		ExecuteOnDate:   today,
		StrategyVideoID: v.VideoID,
	}
	if existing, err := q.store.FindExternalSignal(ctx, key); err == nil && existing != nil {
		return
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		q.logger.Printf("Warning: signal lookup failed for %s: %v", ticker, err)
		return
	}
	sig := &models.ExternalStrategySignal{
		ID:                   uuid.NewString(),
		SourceName:           v.SourceName,
		SourceURL:            v.CanonicalURL,
		StrategyVideoID:      v.VideoID,
		StrategyVideoHeading: v.VideoHeading,
		Ticker:               ticker,
		Signal:               signal,
		Mode:                 mode,
		Confidence:           8,
		EntryPrice:           entry,
		StopLoss:             stop,
		TargetPrice:          &target,
		ExecuteOnDate:        today,
		Status:               models.SignalPending,
		CreatedAt:            q.clock.Now(),
	}
	if err := q.store.AddExternalSignal(ctx, sig); err != nil {
		q.logger.Printf("Warning: queueing daily signal for %s failed: %v", ticker, err)
		return
	}
	q.logger.Printf("Queued daily signal: %s %s %s (video %s)", signal, ticker, mode, v.VideoID)
}

// QueueGenericSignals inserts level-free pending signals for every scanner
// idea that clears the confidence bar, once per applicable generic-strategy
// video. It returns the set of tickers claimed by at least one insert (or an
// already-existing signal); the scanner-execution step skips those.
func (q *Queuer) QueueGenericSignals(ctx context.Context, ideasByMode map[models.TradeMode][]models.TradeIdea, cfg *models.AutoTraderConfig, activeTickers map[string]bool) (map[string]bool, error) {
	claimed := make(map[string]bool)
	videos, err := q.store.GetTrackedVideos(ctx)
	if err != nil {
		return claimed, fmt.Errorf("loading tracked videos: %w", err)
	}
	var generics []models.StrategyVideo
	for _, v := range videos {
		if v.StrategyType == models.StrategyGeneric {
			generics = append(generics, v)
		}
	}
	if len(generics) == 0 {
		return claimed, nil
	}

	today := util.ETDay(q.clock.Now())
	for _, mode := range []models.TradeMode{models.ModeDayTrade, models.ModeSwing} {
		ideas := ideasByMode[mode]
		for _, idea := range ideas {
			if idea.Confidence < cfg.MinScannerConfidence || activeTickers[idea.Ticker] {
				continue
			}
			for i := range generics {
				v := &generics[i]
				if !v.AppliesTo(mode) {
					continue
				}
				if q.queueGenericOne(ctx, v, mode, idea, today) {
					claimed[idea.Ticker] = true
				}
			}
		}
	}
	return claimed, nil
}

func (q *Queuer) queueGenericOne(ctx context.Context, v *models.StrategyVideo, mode models.TradeMode, idea models.TradeIdea, today string) bool {
	key := models.SignalKey{
		SourceName:      v.SourceName,
		Ticker:          idea.Ticker,
		Signal:          idea.Signal,
		Mode:            mode,
		ExecuteOnDate:   today,
		StrategyVideoID: v.VideoID,
	}
	if existing, err := q.store.FindExternalSignal(ctx, key); err == nil && existing != nil {
		return true // already queued counts as claimed
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		q.logger.Printf("Warning: signal lookup failed for %s: %v", idea.Ticker, err)
		return false
	}
	conf := int(util.Clamp(math.Round(idea.Confidence), 1, 10))
	sig := &models.ExternalStrategySignal{
		ID:                   uuid.NewString(),
		SourceName:           v.SourceName,
		SourceURL:            v.CanonicalURL,
		StrategyVideoID:      v.VideoID,
		StrategyVideoHeading: v.VideoHeading,
		Ticker:               idea.Ticker,
		Signal:               idea.Signal,
		Mode:                 mode,
		Confidence:           conf,
		ExecuteOnDate:        today,
		Notes:                fmt.Sprintf("%s: %s", GenericNotesPrefix, idea.Reason),
		Status:               models.SignalPending,
		CreatedAt:            q.clock.Now(),
	}
	if err := q.store.AddExternalSignal(ctx, sig); err != nil {
		q.logger.Printf("Warning: queueing generic signal for %s failed: %v", idea.Ticker, err)
		return false
	}
	q.logger.Printf("Queued generic signal: %s %s %s (video %s, conf %d)", idea.Signal, idea.Ticker, mode, v.VideoID, conf)
	return true
}
