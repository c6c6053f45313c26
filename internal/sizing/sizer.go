// Package sizing converts prices and conviction into share quantities and
// dollar position sizes.
package sizing

import (
	"math"

	"github.com/dfalkner/autotrader/internal/models"
	"github.com/dfalkner/autotrader/internal/services"
	"github.com/dfalkner/autotrader/internal/util"
)

const minPositionDollar = 100

// Request carries sizing inputs for a single candidate entry.
type Request struct {
	Price      float64
	Mode       models.TradeMode
	Conviction float64 // 0 when absent
	Tag        string  // suggested-find tag, "" when not applicable

	EntryPrice float64 // optional, for risk-based sizing
	StopLoss   float64

	RegimeMultiplier   float64 // defaults to 1.0 when zero
	DrawdownMultiplier float64
}

// Result is the computed quantity and dollar size.
type Result struct {
	Quantity int
	Dollars  float64
}

// Sizer computes position sizes from the live config.
type Sizer struct {
	cfg *models.AutoTraderConfig
}

// New returns a Sizer bound to cfg.
func New(cfg *models.AutoTraderConfig) *Sizer {
	return &Sizer{cfg: cfg}
}

// HardMax is the per-position absolute dollar cap: 10% of total allocation.
func (s *Sizer) HardMax() float64 {
	return 0.10 * s.cfg.MaxTotalAllocation
}

// MaxPositionDollar is the dynamic per-position cap, the lesser of the
// portfolio-percentage cap and the absolute cap.
func (s *Sizer) MaxPositionDollar(portfolioValue float64) float64 {
	return math.Min(portfolioValue*s.cfg.MaxPositionPct/100, s.HardMax())
}

// convictionMultiplier scales long-term base allocation by conviction.
func convictionMultiplier(conviction float64) float64 {
	switch {
	case conviction >= 10:
		return 1.5
	case conviction >= 9:
		return 1.25
	case conviction >= 8:
		return 1.0
	case conviction >= 7:
		return 0.75
	default:
		return 0.5
	}
}

// Size computes the share quantity and dollar size for one entry.
func (s *Sizer) Size(req Request, portfolioValue float64) Result {
	alloc := s.cfg.MaxTotalAllocation
	hardMax := s.HardMax()

	regime := req.RegimeMultiplier
	if regime == 0 {
		regime = 1.0
	}

	if !s.cfg.UseDynamicSizing || req.Price <= 0 {
		size := math.Min(s.cfg.PositionSize, hardMax)
		qty := util.FloorQty(size, req.Price, 1)
		return Result{Quantity: qty, Dollars: float64(qty) * req.Price}
	}

	maxDollar := s.MaxPositionDollar(portfolioValue)

	var size float64
	switch {
	case req.Mode == models.ModeLongTerm && req.Conviction > 0:
		mult := convictionMultiplier(req.Conviction)
		if req.Tag == services.TagGoldMine {
			mult = math.Min(mult, 1.25) * 0.75
		}
		size = alloc * s.cfg.BaseAllocationPct / 100 * mult
	case req.EntryPrice > 0 && req.StopLoss > 0 && req.EntryPrice != req.StopLoss:
		riskBudget := alloc * s.cfg.RiskPerTradePct / 100
		qty := math.Floor(riskBudget / math.Abs(req.EntryPrice-req.StopLoss))
		size = qty * req.Price
	default:
		size = s.cfg.PositionSize
	}

	size = size * regime * req.DrawdownMultiplier
	size = util.Clamp(size, minPositionDollar, maxDollar)
	qty := util.FloorQty(size, req.Price, 1)
	return Result{Quantity: qty, Dollars: float64(qty) * req.Price}
}
