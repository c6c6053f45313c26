package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockProvider implements Provider in memory for testing.
type MockProvider struct {
	mu sync.Mutex

	Quotes     map[string]float64
	Industries map[string]string
	Events     map[string][]EarningsEvent
	BarsBySym  map[string]*Bars

	QuoteErr error
	BarsErr  error
}

// NewMockProvider returns an empty provider; unknown symbols error like the
// real client does.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Quotes:     make(map[string]float64),
		Industries: make(map[string]string),
		Events:     make(map[string][]EarningsEvent),
		BarsBySym:  make(map[string]*Bars),
	}
}

func (m *MockProvider) Quote(_ context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.QuoteErr != nil {
		return 0, m.QuoteErr
	}
	q, ok := m.Quotes[symbol]
	if !ok || q <= 0 {
		return 0, fmt.Errorf("quote unavailable for %s", symbol)
	}
	return q, nil
}

func (m *MockProvider) Earnings(_ context.Context, symbol string, from, to time.Time) ([]EarningsEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []EarningsEvent
	for _, e := range m.Events[symbol] {
		d, err := time.Parse("2006-01-02", e.Date)
		if err != nil {
			continue
		}
		if !d.Before(from.Truncate(24*time.Hour)) && !d.After(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MockProvider) Industry(_ context.Context, symbol string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	label, ok := m.Industries[symbol]
	if !ok {
		return "", fmt.Errorf("profile unavailable for %s", symbol)
	}
	return label, nil
}

func (m *MockProvider) DailyBars(_ context.Context, symbol string) (*Bars, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BarsErr != nil {
		return nil, m.BarsErr
	}
	b, ok := m.BarsBySym[symbol]
	if !ok {
		return nil, fmt.Errorf("daily bars unavailable for %s", symbol)
	}
	return b, nil
}

var _ Provider = (*MockProvider)(nil)
