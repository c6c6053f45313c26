package storage

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dfalkner/autotrader/internal/models"
)

// MockStore implements Interface in memory for testing. Records are copied
// on the way in and out so tests cannot alias store internals.
type MockStore struct {
	mu sync.Mutex

	Config       *models.AutoTraderConfig
	Trades       map[string]*models.Trade
	Signals      map[string]*models.ExternalStrategySignal
	Events       []models.AutoTradeEvent
	Snapshots    []models.PortfolioSnapshot
	Videos       map[string]*models.StrategyVideo
	Scans        map[string]*models.TradeScan
	Learnings    map[string]*models.TradeLearning     // keyed by trade id
	SwingMetrics map[string]*models.SwingMetricsDaily // keyed by trade id
	Performance  *models.TradePerformance

	PingErr error

	subs []chan struct{}
}

// NewMockStore creates an empty in-memory store with a default config.
func NewMockStore() *MockStore {
	return &MockStore{
		Config:       models.DefaultAutoTraderConfig(),
		Trades:       make(map[string]*models.Trade),
		Signals:      make(map[string]*models.ExternalStrategySignal),
		Videos:       make(map[string]*models.StrategyVideo),
		Scans:        make(map[string]*models.TradeScan),
		Learnings:    make(map[string]*models.TradeLearning),
		SwingMetrics: make(map[string]*models.SwingMetricsDaily),
	}
}

func (m *MockStore) GetAutoTraderConfig(context.Context) (*models.AutoTraderConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Config == nil {
		return nil, ErrNotFound
	}
	cp := *m.Config
	return &cp, nil
}

func (m *MockStore) SaveAutoTraderConfig(_ context.Context, cfg *models.AutoTraderConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *cfg
	m.Config = &cp
	return nil
}

func (m *MockStore) AddTrade(_ context.Context, t *models.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.Trades[t.ID] = &cp
	return nil
}

func (m *MockStore) UpdateTrade(_ context.Context, t *models.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Trades[t.ID]; !ok {
		return ErrNotFound
	}
	cp := *t
	m.Trades[t.ID] = &cp
	return nil
}

func (m *MockStore) GetTrade(_ context.Context, id string) (*models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.Trades[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MockStore) GetActiveTrades(context.Context) ([]models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Trade
	for _, t := range m.Trades {
		if t.IsActive() {
			out = append(out, *t)
		}
	}
	sortTradesByOpenedAt(out)
	return out, nil
}

func (m *MockStore) GetActiveTradesByTicker(_ context.Context, ticker string) ([]models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Trade
	for _, t := range m.Trades {
		if t.Ticker == ticker && t.IsActive() {
			out = append(out, *t)
		}
	}
	sortTradesByOpenedAt(out)
	return out, nil
}

func (m *MockStore) GetRecentClosedTrades(_ context.Context, scope ScopeFilter, limit int) ([]models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Trade
	for _, t := range m.Trades {
		if !isClosedStatus(t.Status) {
			continue
		}
		if scope.SourceName != "" && t.StrategySource != scope.SourceName {
			continue
		}
		if scope.StrategyVideoID != "" && t.StrategyVideoID != scope.StrategyVideoID {
			continue
		}
		if scope.Mode != "" && t.Mode != scope.Mode {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		return closedAtOf(out[i]).After(closedAtOf(out[j]))
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockStore) GetClosedTradesWithoutLearning(context.Context) ([]models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Trade
	for _, t := range m.Trades {
		if isClosedStatus(t.Status) {
			if _, ok := m.Learnings[t.ID]; !ok {
				out = append(out, *t)
			}
		}
	}
	sortTradesByOpenedAt(out)
	return out, nil
}

func (m *MockStore) AddExternalSignal(_ context.Context, s *models.ExternalStrategySignal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.Signals[s.ID] = &cp
	return nil
}

func (m *MockStore) UpdateExternalSignal(_ context.Context, s *models.ExternalStrategySignal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Signals[s.ID]; !ok {
		return ErrNotFound
	}
	cp := *s
	m.Signals[s.ID] = &cp
	return nil
}

func (m *MockStore) TransitionSignal(_ context.Context, id string, to models.SignalStatus, failureReason, executedTradeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Signals[id]
	if !ok {
		return false, ErrNotFound
	}
	if s.Status.IsTerminal() {
		return false, nil
	}
	s.Status = to
	s.FailureReason = failureReason
	if executedTradeID != "" {
		now := time.Now().UTC()
		s.ExecutedTradeID = executedTradeID
		s.ExecutedAt = &now
	}
	return true, nil
}

func (m *MockStore) FindExternalSignal(_ context.Context, key models.SignalKey) (*models.ExternalStrategySignal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *models.ExternalStrategySignal
	for _, s := range m.Signals {
		if s.Key() == key {
			if best == nil || s.CreatedAt.After(best.CreatedAt) {
				best = s
			}
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *MockStore) GetDueExternalSignals(_ context.Context, etDate string) ([]models.ExternalStrategySignal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ExternalStrategySignal
	for _, s := range m.Signals {
		if s.Status == models.SignalPending && s.ExecuteOnDate <= etDate {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MockStore) AddEvent(_ context.Context, e *models.AutoTradeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, *e)
	return nil
}

func (m *MockStore) GetRecentEvents(_ context.Context, limit int) ([]models.AutoTradeEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AutoTradeEvent, len(m.Events))
	copy(out, m.Events)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockStore) GetLastEvent(_ context.Context, ticker, source, action string) (*models.AutoTradeEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *models.AutoTradeEvent
	for i := range m.Events {
		e := &m.Events[i]
		if e.Ticker == ticker && e.Source == source && e.Action == action {
			if best == nil || e.CreatedAt.After(best.CreatedAt) {
				best = e
			}
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (m *MockStore) HasTierEvent(_ context.Context, ticker, source string, tier int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := strconv.Itoa(tier)
	for i := range m.Events {
		e := &m.Events[i]
		if e.Ticker == ticker && e.Source == source && e.Action == models.ActionExecuted &&
			e.Metadata["tier"] == want {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockStore) AddSnapshot(_ context.Context, s *models.PortfolioSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Snapshots = append(m.Snapshots, *s)
	return nil
}

func (m *MockStore) GetTrackedVideos(context.Context) ([]models.StrategyVideo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.StrategyVideo
	for _, v := range m.Videos {
		if v.Status == models.VideoStatusTracked {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VideoID < out[j].VideoID })
	return out, nil
}

func (m *MockStore) GetVideo(_ context.Context, videoID string) (*models.StrategyVideo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.Videos[videoID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

// AddVideo seeds the catalogue for tests.
func (m *MockStore) AddVideo(v *models.StrategyVideo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *v
	m.Videos[v.VideoID] = &cp
}

func (m *MockStore) SaveTradeScan(_ context.Context, scan *models.TradeScan) error {
	m.mu.Lock()
	cp := *scan
	m.Scans[scan.ID] = &cp
	subs := make([]chan struct{}, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

func (m *MockStore) SubscribeTradeScans() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan struct{}, 16)
	m.subs = append(m.subs, ch)
	return ch
}

func (m *MockStore) SaveSwingMetrics(_ context.Context, sm *models.SwingMetricsDaily) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.SwingMetrics[sm.TradeID]; ok {
		return nil
	}
	cp := *sm
	m.SwingMetrics[sm.TradeID] = &cp
	return nil
}

func (m *MockStore) AddTradeLearning(_ context.Context, l *models.TradeLearning) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Learnings[l.TradeID]; ok {
		return nil // exactly-once per trade
	}
	cp := *l
	m.Learnings[l.TradeID] = &cp
	return nil
}

func (m *MockStore) SaveTradePerformance(_ context.Context, p *models.TradePerformance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.Performance = &cp
	return nil
}

func (m *MockStore) GetTradePerformance(context.Context) (*models.TradePerformance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Performance == nil {
		return nil, ErrNotFound
	}
	cp := *m.Performance
	return &cp, nil
}

func (m *MockStore) Ping(context.Context) error { return m.PingErr }
func (m *MockStore) Close() error               { return nil }

func isClosedStatus(s models.TradeStatus) bool {
	return s == models.StatusStopped || s == models.StatusTargetHit || s == models.StatusClosed
}

func closedAtOf(t models.Trade) time.Time {
	if t.ClosedAt != nil {
		return *t.ClosedAt
	}
	return time.Time{}
}

func sortTradesByOpenedAt(ts []models.Trade) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].OpenedAt.Before(ts[j].OpenedAt) })
}
