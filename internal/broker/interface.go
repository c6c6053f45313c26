// Package broker defines the brokerage-gateway contract consumed by the
// trading core, plus a circuit-breaker decorator and a REST adapter for the
// local gateway bridge.
package broker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// TIF is the order time-in-force.
type TIF string

const (
	TIFDay TIF = "DAY"
	TIFGTC TIF = "GTC"
)

// PositionItem is one raw broker position.
type PositionItem struct {
	Symbol     string  `json:"symbol"`
	Quantity   float64 `json:"position"` // signed; negative = short
	AvgCost    float64 `json:"avgCost"`
	ContractID int64   `json:"contractId"`
}

// Contract is a resolved tradeable instrument handle.
type Contract struct {
	ID       int64  `json:"conid"`
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange,omitempty"`
	Currency string `json:"currency,omitempty"`
}

// BracketOrder is a parent limit entry with OCO stop-loss and take-profit
// children.
type BracketOrder struct {
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	Quantity   int     `json:"quantity"`
	EntryPrice float64 `json:"entryPrice"`
	StopLoss   float64 `json:"stopLoss"`
	TakeProfit float64 `json:"takeProfit"`
	TIF        TIF     `json:"tif"`
}

// MarketOrder is a plain market order.
type MarketOrder struct {
	Symbol   string `json:"symbol"`
	Side     Side   `json:"side"`
	Quantity int    `json:"quantity"`
}

// OrderResponse is the gateway's acknowledgement of a placed order.
type OrderResponse struct {
	OrderID       string `json:"orderId,omitempty"`
	ParentOrderID string `json:"parentOrderId,omitempty"`
	Status        string `json:"status,omitempty"`
}

// ID returns whichever order id the gateway populated; brackets report the
// parent id.
func (o *OrderResponse) ID() string {
	if o.ParentOrderID != "" {
		return o.ParentOrderID
	}
	return o.OrderID
}

// Broker defines the interface for interacting with the brokerage gateway.
type Broker interface {
	// Connection state
	IsConnected() bool
	OnConnectionChange(cb func(connected bool))

	// Positions and contracts
	GetPositionsCtx(ctx context.Context) ([]PositionItem, error)
	SearchContract(ctx context.Context, ticker string) (*Contract, error)

	// Order placement and cancellation
	PlaceBracket(ctx context.Context, o BracketOrder) (*OrderResponse, error)
	PlaceMarket(ctx context.Context, o MarketOrder) (*OrderResponse, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality so
// a flapping gateway fails fast instead of stalling every cycle.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerBroker creates a CircuitBreakerBroker with sensible
// defaults.
func NewCircuitBreakerBroker(b Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(b, CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with
// custom settings.
func NewCircuitBreakerBrokerWithSettings(b Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "GatewayCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}
	return &CircuitBreakerBroker{broker: b, breaker: gobreaker.NewCircuitBreaker(gbSettings)}
}

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods.
func execCircuitBreaker[T any](breaker *gobreaker.CircuitBreaker, b Broker, fn func(Broker) (T, error)) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(b) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// IsConnected passes through without the breaker: connection state checks
// must stay cheap and side-effect free.
func (c *CircuitBreakerBroker) IsConnected() bool { return c.broker.IsConnected() }

// OnConnectionChange passes through to the wrapped broker.
func (c *CircuitBreakerBroker) OnConnectionChange(cb func(bool)) { c.broker.OnConnectionChange(cb) }

// GetPositionsCtx wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetPositionsCtx(ctx context.Context) ([]PositionItem, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]PositionItem, error) {
		return b.GetPositionsCtx(ctx)
	})
}

// SearchContract wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) SearchContract(ctx context.Context, ticker string) (*Contract, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*Contract, error) {
		return b.SearchContract(ctx, ticker)
	})
}

// PlaceBracket wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) PlaceBracket(ctx context.Context, o BracketOrder) (*OrderResponse, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*OrderResponse, error) {
		return b.PlaceBracket(ctx, o)
	})
}

// PlaceMarket wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) PlaceMarket(ctx context.Context, o MarketOrder) (*OrderResponse, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*OrderResponse, error) {
		return b.PlaceMarket(ctx, o)
	})
}

// CancelOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) CancelOrder(ctx context.Context, orderID string) error {
	_, err := execCircuitBreaker(c.breaker, c.broker, func(b Broker) (struct{}, error) {
		return struct{}{}, b.CancelOrder(ctx, orderID)
	})
	return err
}

// Ensure decorators implement Broker at compile time.
var (
	_ Broker = (*CircuitBreakerBroker)(nil)
	_ Broker = (*GatewayClient)(nil)
	_ Broker = (*MockBroker)(nil)
)
