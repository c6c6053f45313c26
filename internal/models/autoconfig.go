package models

// AutoTraderConfig is the singleton runtime configuration record (datastore
// key "default"). It is re-read at the top of every cycle so threshold
// changes take effect without a restart.
type AutoTraderConfig struct {
	ID        string `json:"id"` // always "default"
	Enabled   bool   `json:"enabled"`
	AccountID string `json:"account_id"`

	MaxPositions       int     `json:"max_positions"`
	PositionSize       float64 `json:"position_size"`
	UseDynamicSizing   bool    `json:"use_dynamic_sizing"`
	PortfolioValue     float64 `json:"portfolio_value"` // only grows; self-updates from broker
	MaxTotalAllocation float64 `json:"max_total_allocation"`
	MaxDailyDeployment float64 `json:"max_daily_deployment"`

	MaxPositionPct    float64 `json:"max_position_pct"`
	BaseAllocationPct float64 `json:"base_allocation_pct"`
	RiskPerTradePct   float64 `json:"risk_per_trade_pct"`
	MaxSectorPct      float64 `json:"max_sector_pct"` // >=100 disables the sector gate

	EarningsAvoidEnabled bool `json:"earnings_avoid_enabled"`
	EarningsBlackoutDays int  `json:"earnings_blackout_days"`

	DipBuyEnabled       bool    `json:"dip_buy_enabled"`
	DipBuyTier1Pct      float64 `json:"dip_buy_tier1_pct"`
	DipBuyTier2Pct      float64 `json:"dip_buy_tier2_pct"`
	DipBuyTier3Pct      float64 `json:"dip_buy_tier3_pct"`
	DipBuyTier1SizePct  float64 `json:"dip_buy_tier1_size_pct"`
	DipBuyTier2SizePct  float64 `json:"dip_buy_tier2_size_pct"`
	DipBuyTier3SizePct  float64 `json:"dip_buy_tier3_size_pct"`
	DipBuyCooldownHours float64 `json:"dip_buy_cooldown_hours"`

	ProfitTakeEnabled      bool    `json:"profit_take_enabled"`
	ProfitTakeTier1Pct     float64 `json:"profit_take_tier1_pct"`
	ProfitTakeTier2Pct     float64 `json:"profit_take_tier2_pct"`
	ProfitTakeTier3Pct     float64 `json:"profit_take_tier3_pct"`
	ProfitTakeTier1TrimPct float64 `json:"profit_take_tier1_trim_pct"`
	ProfitTakeTier2TrimPct float64 `json:"profit_take_tier2_trim_pct"`
	ProfitTakeTier3TrimPct float64 `json:"profit_take_tier3_trim_pct"`
	MinHoldPct             float64 `json:"min_hold_pct"`

	LossCutEnabled      bool    `json:"loss_cut_enabled"`
	LossCutTier1Pct     float64 `json:"loss_cut_tier1_pct"`
	LossCutTier2Pct     float64 `json:"loss_cut_tier2_pct"`
	LossCutTier3Pct     float64 `json:"loss_cut_tier3_pct"`
	LossCutTier1SellPct float64 `json:"loss_cut_tier1_sell_pct"`
	LossCutTier2SellPct float64 `json:"loss_cut_tier2_sell_pct"`
	LossCutTier3SellPct float64 `json:"loss_cut_tier3_sell_pct"`
	LossCutMinHoldDays  int     `json:"loss_cut_min_hold_days"`

	MinScannerConfidence        float64 `json:"min_scanner_confidence"`
	MinFAConfidence             float64 `json:"min_fa_confidence"`
	MinSuggestedFindsConviction float64 `json:"min_suggested_finds_conviction"`

	// Consecutive net-negative ET days before a strategy scope is benched.
	DeactivateAfterLossDays int `json:"deactivate_after_loss_days"`
}

// DefaultAutoTraderConfig returns the record used when the datastore has no
// "default" row yet. The kill-switch starts off.
func DefaultAutoTraderConfig() *AutoTraderConfig {
	return &AutoTraderConfig{
		ID:                 "default",
		Enabled:            false,
		MaxPositions:       10,
		PositionSize:       5000,
		UseDynamicSizing:   true,
		MaxTotalAllocation: 500000,
		MaxDailyDeployment: 50000,
		MaxPositionPct:     5,
		BaseAllocationPct:  2,
		RiskPerTradePct:    1,
		MaxSectorPct:       100,

		EarningsBlackoutDays: 3,

		DipBuyTier1Pct: 5, DipBuyTier2Pct: 10, DipBuyTier3Pct: 20,
		DipBuyTier1SizePct: 25, DipBuyTier2SizePct: 50, DipBuyTier3SizePct: 50,
		DipBuyCooldownHours: 72,

		ProfitTakeTier1Pct: 30, ProfitTakeTier2Pct: 60, ProfitTakeTier3Pct: 100,
		ProfitTakeTier1TrimPct: 20, ProfitTakeTier2TrimPct: 25, ProfitTakeTier3TrimPct: 33,
		MinHoldPct: 40,

		LossCutTier1Pct: 15, LossCutTier2Pct: 25, LossCutTier3Pct: 35,
		LossCutTier1SellPct: 33, LossCutTier2SellPct: 50, LossCutTier3SellPct: 100,
		LossCutMinHoldDays: 10,

		MinScannerConfidence:        7,
		MinFAConfidence:             7,
		MinSuggestedFindsConviction: 7,
		DeactivateAfterLossDays:     3,
	}
}

// SectorGateEnabled reports whether the sector-concentration gate is live.
func (c *AutoTraderConfig) SectorGateEnabled() bool { return c.MaxSectorPct < 100 }

// LossDaysThreshold returns the configured deactivation threshold with the
// historical default of 3.
func (c *AutoTraderConfig) LossDaysThreshold() int {
	if c.DeactivateAfterLossDays <= 0 {
		return 3
	}
	return c.DeactivateAfterLossDays
}
