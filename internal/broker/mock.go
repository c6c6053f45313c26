package broker

import (
	"context"
	"fmt"
	"sync"
)

// MockBroker implements Broker in memory for testing. Fields are plain so
// tests can arrange scenarios directly; the zero value is a connected
// broker with no positions.
type MockBroker struct {
	mu sync.Mutex

	Connected    bool
	Positions    []PositionItem
	Contracts    map[string]*Contract
	PositionsErr error
	PlaceErr     error
	CancelErr    error

	BracketOrders   []BracketOrder
	MarketOrders    []MarketOrder
	CancelledOrders []string

	nextOrderID int
	connCBs     []func(bool)
}

// NewMockBroker returns a connected mock with no positions.
func NewMockBroker() *MockBroker {
	return &MockBroker{Connected: true, Contracts: make(map[string]*Contract)}
}

func (m *MockBroker) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Connected
}

func (m *MockBroker) OnConnectionChange(cb func(bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connCBs = append(m.connCBs, cb)
}

// SetConnected flips connection state and fires callbacks.
func (m *MockBroker) SetConnected(up bool) {
	m.mu.Lock()
	changed := m.Connected != up
	m.Connected = up
	cbs := make([]func(bool), len(m.connCBs))
	copy(cbs, m.connCBs)
	m.mu.Unlock()
	if changed {
		for _, cb := range cbs {
			cb(up)
		}
	}
}

func (m *MockBroker) GetPositionsCtx(context.Context) ([]PositionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PositionsErr != nil {
		return nil, m.PositionsErr
	}
	out := make([]PositionItem, len(m.Positions))
	copy(out, m.Positions)
	return out, nil
}

// SetPosition upserts a broker position by symbol; quantity 0 removes it.
func (m *MockBroker) SetPosition(symbol string, qty, avgCost float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.Positions {
		if m.Positions[i].Symbol == symbol {
			if qty == 0 {
				m.Positions = append(m.Positions[:i], m.Positions[i+1:]...)
			} else {
				m.Positions[i].Quantity = qty
				m.Positions[i].AvgCost = avgCost
			}
			return
		}
	}
	if qty != 0 {
		m.Positions = append(m.Positions, PositionItem{
			Symbol: symbol, Quantity: qty, AvgCost: avgCost, ContractID: int64(1000 + len(m.Positions)),
		})
	}
}

func (m *MockBroker) SearchContract(_ context.Context, ticker string) (*Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.Contracts[ticker]; ok {
		if c == nil {
			return nil, nil
		}
		cp := *c
		return &cp, nil
	}
	// Unconfigured tickers resolve by default so execution-path tests do
	// not need to seed every contract.
	return &Contract{ID: int64(len(ticker)) + 7000, Symbol: ticker}, nil
}

// RemoveContract makes SearchContract miss for ticker.
func (m *MockBroker) RemoveContract(ticker string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Contracts[ticker] = nil
}

func (m *MockBroker) PlaceBracket(_ context.Context, o BracketOrder) (*OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PlaceErr != nil {
		return nil, m.PlaceErr
	}
	m.BracketOrders = append(m.BracketOrders, o)
	m.nextOrderID++
	return &OrderResponse{ParentOrderID: fmt.Sprintf("b-%d", m.nextOrderID), Status: "Submitted"}, nil
}

func (m *MockBroker) PlaceMarket(_ context.Context, o MarketOrder) (*OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PlaceErr != nil {
		return nil, m.PlaceErr
	}
	m.MarketOrders = append(m.MarketOrders, o)
	m.nextOrderID++
	return &OrderResponse{OrderID: fmt.Sprintf("m-%d", m.nextOrderID), Status: "Submitted"}, nil
}

func (m *MockBroker) CancelOrder(_ context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CancelErr != nil {
		return m.CancelErr
	}
	m.CancelledOrders = append(m.CancelledOrders, orderID)
	return nil
}
