// Package positions manages open holdings: dip-buy averaging, tiered profit
// taking and tiered loss cutting. All three subloops are idempotent; tier
// dedup and cooldowns live in the event log.
package positions

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/dfalkner/autotrader/internal/executor"
	"github.com/dfalkner/autotrader/internal/models"
	"github.com/dfalkner/autotrader/internal/risk"
	"github.com/dfalkner/autotrader/internal/services"
	"github.com/dfalkner/autotrader/internal/signals"
	"github.com/dfalkner/autotrader/internal/storage"
	"github.com/dfalkner/autotrader/internal/util"
)

// dipBuyNotesPrefix marks ledger rows created by the dip-buy subloop; rows
// carrying it never qualify as the initial entry.
const dipBuyNotesPrefix = "Dip buy"

// Manager runs the three position-management subloops.
type Manager struct {
	store  storage.Interface
	gate   *risk.Gate
	exec   *executor.Executor
	clock  util.Clock
	logger *log.Logger
}

// NewManager builds a position manager.
func NewManager(store storage.Interface, gate *risk.Gate, exec *executor.Executor, clock util.Clock, logger *log.Logger) *Manager {
	return &Manager{store: store, gate: gate, exec: exec, clock: clock, logger: logger}
}

// Run executes dip-buy, profit-take and loss-cut in order. Errors on one
// trade are logged and never stop the sweep.
func (m *Manager) Run(ctx context.Context, env signals.Env) {
	byTicker := make(map[string]models.EnrichedPosition, len(env.Positions))
	for _, p := range env.Positions {
		byTicker[p.Symbol] = p
	}
	if env.Cfg.DipBuyEnabled {
		m.runDipBuys(ctx, env, byTicker)
	}
	if env.Cfg.ProfitTakeEnabled {
		m.runProfitTakes(ctx, env, byTicker)
	}
	if env.Cfg.LossCutEnabled {
		m.runLossCuts(ctx, env, byTicker)
	}
}

func isGoldMine(t *models.Trade) bool {
	return strings.Contains(t.Notes, services.TagGoldMine)
}

func isDipBuyRow(t *models.Trade) bool {
	return strings.HasPrefix(t.Notes, dipBuyNotesPrefix)
}

// initialLongTermEntries returns the one qualifying initial entry per ticker.
func initialLongTermEntries(active []models.Trade) map[string]*models.Trade {
	out := make(map[string]*models.Trade)
	for i := range active {
		t := &active[i]
		if t.Mode != models.ModeLongTerm || isDipBuyRow(t) {
			continue
		}
		if prev, ok := out[t.Ticker]; !ok || t.OpenedAt.Before(prev.OpenedAt) {
			out[t.Ticker] = t
		}
	}
	return out
}

type tier struct {
	n         int
	threshold float64
	actionPct float64
}

// pickTier returns the highest tier whose threshold the magnitude reaches.
func pickTier(magnitude float64, tiers []tier) *tier {
	var picked *tier
	for i := range tiers {
		if magnitude >= tiers[i].threshold {
			picked = &tiers[i]
		}
	}
	return picked
}

// --- dip-buy ---

func (m *Manager) runDipBuys(ctx context.Context, env signals.Env, byTicker map[string]models.EnrichedPosition) {
	cfg := env.Cfg
	for ticker, initial := range initialLongTermEntries(env.Active) {
		pos, ok := byTicker[ticker]
		if !ok || pos.Position <= 0 || pos.AvgCost <= 0 || pos.MktPrice <= 0 {
			continue
		}
		dipPct := (pos.MktPrice - pos.AvgCost) / pos.AvgCost * 100
		if dipPct >= 0 {
			continue
		}

		tiers := []tier{
			{1, cfg.DipBuyTier1Pct, cfg.DipBuyTier1SizePct},
			{2, cfg.DipBuyTier2Pct, cfg.DipBuyTier2SizePct},
			{3, cfg.DipBuyTier3Pct, cfg.DipBuyTier3SizePct},
		}
		if isGoldMine(initial) {
			tiers = tiers[:2]
			tiers[1].actionPct /= 2
		}
		t := pickTier(-dipPct, tiers)
		if t == nil {
			continue
		}

		if m.inCooldown(ctx, ticker, cfg.DipBuyCooldownHours) {
			continue
		}

		// Max-position guard: already at the per-position cap, stop averaging.
		posValue := math.Abs(pos.Position) * pos.MktPrice
		posCap := math.Min(env.PortfolioValue*cfg.MaxPositionPct/100, 0.10*cfg.MaxTotalAllocation)
		if posValue >= posCap {
			continue
		}

		addQty := int(math.Max(1, math.Floor(float64(initial.Quantity)*t.actionPct/100)))
		addDollar := float64(addQty) * pos.MktPrice
		if d := m.gate.Check(ctx, risk.CheckRequest{
			Cfg:            cfg,
			State:          env.State,
			Positions:      env.Positions,
			Active:         env.Active,
			Ticker:         ticker,
			NewSize:        addDollar,
			PortfolioValue: env.PortfolioValue,
			Drawdown:       env.Drawdown,
		}); !d.OK {
			m.exec.RecordSkip(ctx, ticker, models.SourceDipBuy, models.ModeLongTerm, d.Slug, d.Reason)
			continue
		}

		notes := fmt.Sprintf("%s tier %d: %.1f%% below avg cost", dipBuyNotesPrefix, t.n, -dipPct)
		if isGoldMine(initial) {
			notes += " (" + services.TagGoldMine + ")"
		}
		_, err := m.exec.Execute(ctx, executor.Request{
			Ticker:   ticker,
			Signal:   models.SignalBuy,
			Mode:     models.ModeLongTerm,
			Quantity: addQty,
			Price:    pos.MktPrice,
			Source:   models.SourceDipBuy,
			Notes:    notes,
			Tier:     t.n,
			Trigger:  models.TriggerDipBuy,
		}, env.State)
		if err != nil {
			m.logger.Printf("ERROR: dip buy for %s failed: %v", ticker, err)
			m.exec.RecordFailure(ctx, ticker, models.SourceDipBuy, models.ModeLongTerm, err.Error())
		}
	}
}

func (m *Manager) inCooldown(ctx context.Context, ticker string, hours float64) bool {
	if hours <= 0 {
		return false
	}
	last, err := m.store.GetLastEvent(ctx, ticker, models.SourceDipBuy, models.ActionExecuted)
	if err != nil {
		m.logger.Printf("Warning: cooldown lookup failed for %s: %v", ticker, err)
		return true // fail closed on cooldown
	}
	if last == nil {
		return false
	}
	return m.clock.Now().Sub(last.CreatedAt) < time.Duration(hours*float64(time.Hour))
}

// --- profit-take ---

func (m *Manager) runProfitTakes(ctx context.Context, env signals.Env, byTicker map[string]models.EnrichedPosition) {
	cfg := env.Cfg
	for ticker, initial := range initialLongTermEntries(env.Active) {
		pos, ok := byTicker[ticker]
		if !ok || pos.Position <= 0 || pos.AvgCost <= 0 || pos.MktPrice <= 0 {
			continue
		}
		gainPct := (pos.MktPrice - pos.AvgCost) / pos.AvgCost * 100
		if gainPct <= 0 {
			continue
		}
		t := pickTier(gainPct, []tier{
			{1, cfg.ProfitTakeTier1Pct, cfg.ProfitTakeTier1TrimPct},
			{2, cfg.ProfitTakeTier2Pct, cfg.ProfitTakeTier2TrimPct},
			{3, cfg.ProfitTakeTier3Pct, cfg.ProfitTakeTier3TrimPct},
		})
		if t == nil {
			continue
		}
		done, err := m.store.HasTierEvent(ctx, ticker, models.SourceProfitTake, t.n)
		if err != nil || done {
			continue
		}

		currentQty := int(pos.Position)
		trimQty := int(math.Floor(float64(currentQty) * t.actionPct / 100))
		minHold := int(math.Ceil(float64(initial.Quantity) * cfg.MinHoldPct / 100))
		if currentQty-trimQty < minHold {
			trimQty = currentQty - minHold
		}
		if trimQty < 1 {
			continue
		}

		_, err = m.exec.Execute(ctx, executor.Request{
			Ticker:   ticker,
			Signal:   models.SignalSell,
			Mode:     models.ModeLongTerm,
			Quantity: trimQty,
			Price:    pos.MktPrice,
			Source:   models.SourceProfitTake,
			Notes:    fmt.Sprintf("Profit take tier %d: up %.1f%%, trimming %d shares", t.n, gainPct, trimQty),
			Tier:     t.n,
			Trigger:  models.TriggerProfitTake,
		}, env.State)
		if err != nil {
			m.logger.Printf("ERROR: profit take for %s failed: %v", ticker, err)
			m.exec.RecordFailure(ctx, ticker, models.SourceProfitTake, models.ModeLongTerm, err.Error())
		}
	}
}

// --- loss-cut ---

func (m *Manager) runLossCuts(ctx context.Context, env signals.Env, byTicker map[string]models.EnrichedPosition) {
	cfg := env.Cfg
	for i := range env.Active {
		t := &env.Active[i]
		if t.Mode != models.ModeLongTerm && t.Mode != models.ModeSwing {
			continue
		}
		if isDipBuyRow(t) {
			continue
		}
		pos, ok := byTicker[t.Ticker]
		if !ok || pos.Position == 0 || pos.AvgCost <= 0 || pos.MktPrice <= 0 {
			continue
		}

		// Loss measured position-relative so shorts cut on adverse rallies.
		lossPct := (pos.MktPrice - pos.AvgCost) / pos.AvgCost * 100
		if pos.Position < 0 {
			lossPct = -lossPct
		}
		if lossPct >= 0 {
			continue
		}

		opened := t.OpenedAt
		if t.FilledAt != nil {
			opened = *t.FilledAt
		}
		holdDays := int(m.clock.Now().Sub(opened).Hours() / 24)
		if holdDays < cfg.LossCutMinHoldDays {
			continue
		}

		tr := pickTier(-lossPct, []tier{
			{1, cfg.LossCutTier1Pct, cfg.LossCutTier1SellPct},
			{2, cfg.LossCutTier2Pct, cfg.LossCutTier2SellPct},
			{3, cfg.LossCutTier3Pct, cfg.LossCutTier3SellPct},
		})
		if tr == nil {
			continue
		}
		done, err := m.store.HasTierEvent(ctx, t.Ticker, models.SourceLossCut, tr.n)
		if err != nil || done {
			continue
		}

		absQty := int(math.Abs(pos.Position))
		cutQty := absQty
		if tr.actionPct < 100 {
			cutQty = int(math.Floor(float64(absQty) * tr.actionPct / 100))
		}
		if cutQty < 1 {
			continue
		}
		side := models.SignalSell
		if pos.Position < 0 {
			side = models.SignalBuy // buy to cover
		}

		_, err = m.exec.Execute(ctx, executor.Request{
			Ticker:   t.Ticker,
			Signal:   side,
			Mode:     t.Mode,
			Quantity: cutQty,
			Price:    pos.MktPrice,
			Source:   models.SourceLossCut,
			Notes:    fmt.Sprintf("Loss cut tier %d: down %.1f%% after %d days, exiting %d of %d shares", tr.n, -lossPct, holdDays, cutQty, absQty),
			Tier:     tr.n,
			Trigger:  models.TriggerLossCut,
		}, env.State)
		if err != nil {
			m.logger.Printf("ERROR: loss cut for %s failed: %v", t.Ticker, err)
			m.exec.RecordFailure(ctx, t.Ticker, models.SourceLossCut, t.Mode, err.Error())
		}
	}
}
