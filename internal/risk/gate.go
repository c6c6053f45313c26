// Package risk implements the layered pre-trade gates: portfolio drawdown
// assessment, allocation and daily-deployment caps, sector concentration,
// earnings blackout, and strategy auto-deactivation.
package risk

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/dfalkner/autotrader/internal/marketdata"
	"github.com/dfalkner/autotrader/internal/models"
	"github.com/dfalkner/autotrader/internal/storage"
	"github.com/dfalkner/autotrader/internal/util"
)

// Skip-reason slugs surfaced on events and signal failure reasons.
const (
	SlugCircuitBreaker  = "circuit_breaker"
	SlugAllocationCap   = "allocation_cap"
	SlugDailyCap        = "daily_cap"
	SlugSectorCap       = "sector_cap"
	SlugEarningsWindow  = "earnings_blackout"
	SlugStrategyMarkedX = "strategy_marked_x"
	SlugDrawdownBlock   = "drawdown_block"
)

// Level classifies portfolio drawdown severity.
type Level string

const (
	LevelNormal    Level = "normal"
	LevelCaution   Level = "caution"
	LevelDefensive Level = "defensive"
	LevelCritical  Level = "critical"
)

// Drawdown is the per-cycle portfolio drawdown assessment.
type Drawdown struct {
	Level      Level
	Multiplier float64
	PnLPct     float64
}

// AssessDrawdown computes the drawdown level and sizing multiplier from the
// cycle's enriched positions: total unrealized P&L over total cost basis.
func AssessDrawdown(positions []models.EnrichedPosition) Drawdown {
	var pnl, basis float64
	for _, p := range positions {
		pnl += p.UnrealizedPnL
		basis += math.Abs(p.Position) * p.AvgCost
	}
	if basis <= 0 {
		return Drawdown{Level: LevelNormal, Multiplier: 1.0}
	}
	pct := pnl / basis * 100
	d := Drawdown{PnLPct: pct}
	switch {
	case pct <= -5:
		d.Level, d.Multiplier = LevelCritical, 0
	case pct <= -3:
		d.Level, d.Multiplier = LevelDefensive, 0.5
	case pct <= -1:
		d.Level, d.Multiplier = LevelCaution, 0.75
	default:
		d.Level, d.Multiplier = LevelNormal, 1.0
	}
	return d
}

// Decision is the outcome of a gate check.
type Decision struct {
	OK     bool
	Slug   string
	Reason string
}

func pass() Decision { return Decision{OK: true} }

func reject(slug, format string, args ...any) Decision {
	return Decision{Slug: slug, Reason: fmt.Sprintf(format, args...)}
}

// CheckRequest carries everything a per-trade gate evaluation needs.
type CheckRequest struct {
	Cfg       *models.AutoTraderConfig
	State     *models.OrchestratorState
	Positions []models.EnrichedPosition
	Active    []models.Trade

	Ticker         string
	NewSize        float64
	PortfolioValue float64
	Drawdown       Drawdown

	// Strategy auto-deactivation scope; evaluated for external signals only.
	CheckDeactivation bool
	SourceName        string
	StrategyVideoID   string
	Mode              models.TradeMode
	ExemptFromDeact   bool
}

// Gate evaluates the layered pre-trade checks.
type Gate struct {
	store   storage.Interface
	sectors *marketdata.SectorCache
	data    marketdata.Provider
	clock   util.Clock
	logger  *log.Logger
}

// NewGate builds a risk gate.
func NewGate(store storage.Interface, sectors *marketdata.SectorCache, data marketdata.Provider, clock util.Clock, logger *log.Logger) *Gate {
	return &Gate{store: store, sectors: sectors, data: data, clock: clock, logger: logger}
}

// DeployedDollars returns current capital at cost: broker positions when
// available, otherwise ledger position sizes, plus the optimistic pending
// counter.
func DeployedDollars(positions []models.EnrichedPosition, active []models.Trade, state *models.OrchestratorState) float64 {
	var deployed float64
	if len(positions) > 0 {
		for _, p := range positions {
			deployed += math.Abs(p.Position) * p.AvgCost
		}
	} else {
		for _, t := range active {
			deployed += t.PositionSize
		}
	}
	return deployed + state.PendingDeployedDollar
}

// Check runs every per-trade gate in order and returns the first failure.
func (g *Gate) Check(ctx context.Context, req CheckRequest) Decision {
	if req.Drawdown.Level == LevelCritical {
		return reject(SlugDrawdownBlock,
			"Portfolio drawdown %.1f%% at critical level, new entries blocked", req.Drawdown.PnLPct)
	}

	// 1. Allocation cap with a 95% circuit breaker.
	deployed := DeployedDollars(req.Positions, req.Active, req.State)
	if deployed >= 0.95*req.Cfg.MaxTotalAllocation {
		return reject(SlugCircuitBreaker,
			"Circuit breaker: at cap limit ($%.0f of $%.0f deployed)", deployed, req.Cfg.MaxTotalAllocation)
	}
	if deployed+req.NewSize > req.Cfg.MaxTotalAllocation {
		return reject(SlugAllocationCap,
			"Allocation cap: $%.0f deployed + $%.0f new exceeds $%.0f", deployed, req.NewSize, req.Cfg.MaxTotalAllocation)
	}

	// 2. Daily deployment cap.
	if req.State.DailyDeployedDollar+req.NewSize > req.Cfg.MaxDailyDeployment {
		return reject(SlugDailyCap,
			"Daily cap: $%.0f deployed today + $%.0f new exceeds $%.0f",
			req.State.DailyDeployedDollar, req.NewSize, req.Cfg.MaxDailyDeployment)
	}

	// 3. Sector concentration.
	if d := g.checkSector(ctx, req); !d.OK {
		return d
	}

	// 4. Earnings blackout.
	if d := g.checkEarnings(ctx, req); !d.OK {
		return d
	}

	// 5. Strategy auto-deactivation (external signals only).
	if req.CheckDeactivation && !req.ExemptFromDeact {
		if d := g.checkDeactivation(ctx, req); !d.OK {
			return d
		}
	}

	return pass()
}

func (g *Gate) checkSector(ctx context.Context, req CheckRequest) Decision {
	if !req.Cfg.SectorGateEnabled() || req.PortfolioValue <= 0 {
		return pass()
	}
	industry, err := g.sectors.Industry(ctx, req.Ticker)
	if err != nil || industry == "" {
		// Unknown industry passes; the lookup failing must not block trading.
		return pass()
	}
	var sectorExposure float64
	for _, t := range req.Active {
		other, err := g.sectors.Industry(ctx, t.Ticker)
		if err != nil || other != industry {
			continue
		}
		sectorExposure += t.PositionSize
	}
	limit := req.PortfolioValue * req.Cfg.MaxSectorPct / 100
	if sectorExposure+req.NewSize > limit {
		return reject(SlugSectorCap,
			"Sector cap: %s exposure $%.0f + $%.0f new exceeds $%.0f", industry, sectorExposure, req.NewSize, limit)
	}
	return pass()
}

func (g *Gate) checkEarnings(ctx context.Context, req CheckRequest) Decision {
	if !req.Cfg.EarningsAvoidEnabled || req.Cfg.EarningsBlackoutDays <= 0 {
		return pass()
	}
	now := g.clock.Now()
	events, err := g.data.Earnings(ctx, req.Ticker, now, now.AddDate(0, 0, 30))
	if err != nil {
		g.logger.Printf("Warning: earnings lookup failed for %s, skipping blackout check: %v", req.Ticker, err)
		return pass()
	}
	cutoff := now.AddDate(0, 0, req.Cfg.EarningsBlackoutDays)
	for _, e := range events {
		if e.Symbol != req.Ticker {
			continue
		}
		d, err := time.Parse("2006-01-02", e.Date)
		if err != nil {
			continue
		}
		if !d.After(cutoff) {
			return reject(SlugEarningsWindow,
				"Earnings blackout: %s reports on %s (within %d days)", req.Ticker, e.Date, req.Cfg.EarningsBlackoutDays)
		}
	}
	return pass()
}

// CheckStrategyDeactivation evaluates only the auto-deactivation gate, for
// callers that need it ahead of the other gates.
func (g *Gate) CheckStrategyDeactivation(ctx context.Context, cfg *models.AutoTraderConfig, sourceName, videoID string, mode models.TradeMode, exempt bool) Decision {
	if exempt {
		return pass()
	}
	return g.checkDeactivation(ctx, CheckRequest{
		Cfg:             cfg,
		SourceName:      sourceName,
		StrategyVideoID: videoID,
		Mode:            mode,
	})
}

func (g *Gate) checkDeactivation(ctx context.Context, req CheckRequest) Decision {
	threshold := req.Cfg.LossDaysThreshold()

	// Video scope first: a single bad video should not bench its source.
	if req.StrategyVideoID != "" {
		days, err := g.ConsecutiveLossDays(ctx, storage.ScopeFilter{
			SourceName:      req.SourceName,
			StrategyVideoID: req.StrategyVideoID,
			Mode:            req.Mode,
		})
		if err != nil {
			g.logger.Printf("Warning: loss-day count failed for video %s: %v", req.StrategyVideoID, err)
		} else if days >= threshold {
			return reject(SlugStrategyMarkedX,
				"Strategy marked X after %d consecutive losses (video %s)", days, req.StrategyVideoID)
		}
	}

	days, err := g.ConsecutiveLossDays(ctx, storage.ScopeFilter{
		SourceName: req.SourceName,
		Mode:       req.Mode,
	})
	if err != nil {
		g.logger.Printf("Warning: loss-day count failed for source %s: %v", req.SourceName, err)
		return pass()
	}
	if days >= threshold {
		return reject(SlugStrategyMarkedX,
			"Strategy marked X after %d consecutive losses (source %s)", days, req.SourceName)
	}
	return pass()
}

// ConsecutiveLossDays counts ET calendar days with net-negative closed P&L
// in the scope, walking backwards from the most recent closed trade and
// stopping at the first non-negative day.
func (g *Gate) ConsecutiveLossDays(ctx context.Context, scope storage.ScopeFilter) (int, error) {
	trades, err := g.store.GetRecentClosedTrades(ctx, scope, 10)
	if err != nil {
		return 0, err
	}
	type bucket struct {
		day string
		pnl float64
	}
	var buckets []bucket
	for _, t := range trades { // ordered closed_at desc
		if t.ClosedAt == nil {
			continue
		}
		day := util.ETDay(*t.ClosedAt)
		if len(buckets) > 0 && buckets[len(buckets)-1].day == day {
			buckets[len(buckets)-1].pnl += t.PnL
		} else {
			buckets = append(buckets, bucket{day: day, pnl: t.PnL})
		}
	}
	count := 0
	for _, b := range buckets {
		if b.pnl < 0 {
			count++
		} else {
			break
		}
	}
	return count, nil
}
