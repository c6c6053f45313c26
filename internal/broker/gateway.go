package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// GatewayClient implements Broker against the local brokerage-gateway
// bridge's REST surface. It polls connection state lazily and caches it
// briefly so IsConnected stays cheap inside tight loops.
type GatewayClient struct {
	http *resty.Client

	mu            sync.Mutex
	connected     bool
	connCheckedAt time.Time
	connCBs       []func(bool)
}

const connStateTTL = 5 * time.Second

// NewGatewayClient creates a gateway client against baseURL.
func NewGatewayClient(baseURL string) *GatewayClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)
	return &GatewayClient{http: client}
}

type authStatus struct {
	Authenticated bool `json:"authenticated"`
	Connected     bool `json:"connected"`
}

// IsConnected reports whether the gateway session is live. Results are
// cached for a few seconds.
func (g *GatewayClient) IsConnected() bool {
	g.mu.Lock()
	if time.Since(g.connCheckedAt) < connStateTTL {
		c := g.connected
		g.mu.Unlock()
		return c
	}
	g.mu.Unlock()

	var st authStatus
	resp, err := g.http.R().SetResult(&st).Get("/v1/api/iserver/auth/status")
	now := time.Now()
	up := err == nil && resp.IsSuccess() && st.Authenticated && st.Connected

	g.mu.Lock()
	changed := up != g.connected
	g.connected = up
	g.connCheckedAt = now
	cbs := make([]func(bool), len(g.connCBs))
	copy(cbs, g.connCBs)
	g.mu.Unlock()

	if changed {
		for _, cb := range cbs {
			cb(up)
		}
	}
	return up
}

// OnConnectionChange registers a callback fired when the cached connection
// state flips.
func (g *GatewayClient) OnConnectionChange(cb func(bool)) {
	g.mu.Lock()
	g.connCBs = append(g.connCBs, cb)
	g.mu.Unlock()
}

// GetPositionsCtx lists all account positions.
func (g *GatewayClient) GetPositionsCtx(ctx context.Context) ([]PositionItem, error) {
	var items []PositionItem
	resp, err := g.http.R().SetContext(ctx).SetResult(&items).Get("/v1/api/portfolio/positions")
	if err != nil {
		return nil, fmt.Errorf("fetching positions: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("fetching positions: gateway returned %s", resp.Status())
	}
	return items, nil
}

// SearchContract resolves a ticker to a contract handle. A miss returns
// (nil, nil).
func (g *GatewayClient) SearchContract(ctx context.Context, ticker string) (*Contract, error) {
	var results []Contract
	resp, err := g.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", ticker).
		SetResult(&results).
		Get("/v1/api/iserver/secdef/search")
	if err != nil {
		return nil, fmt.Errorf("searching contract %s: %w", ticker, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("searching contract %s: gateway returned %s", ticker, resp.Status())
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &results[0], nil
}

// PlaceBracket places a parent limit entry with OCO stop/target children.
func (g *GatewayClient) PlaceBracket(ctx context.Context, o BracketOrder) (*OrderResponse, error) {
	var out OrderResponse
	resp, err := g.http.R().
		SetContext(ctx).
		SetBody(o).
		SetResult(&out).
		Post("/v1/api/iserver/orders/bracket")
	if err != nil {
		return nil, fmt.Errorf("placing bracket for %s: %w", o.Symbol, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("placing bracket for %s: gateway returned %s: %s", o.Symbol, resp.Status(), resp.String())
	}
	return &out, nil
}

// PlaceMarket places a market order.
func (g *GatewayClient) PlaceMarket(ctx context.Context, o MarketOrder) (*OrderResponse, error) {
	var out OrderResponse
	resp, err := g.http.R().
		SetContext(ctx).
		SetBody(o).
		SetResult(&out).
		Post("/v1/api/iserver/orders/market")
	if err != nil {
		return nil, fmt.Errorf("placing market order for %s: %w", o.Symbol, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("placing market order for %s: gateway returned %s: %s", o.Symbol, resp.Status(), resp.String())
	}
	return &out, nil
}

// CancelOrder cancels an open order by id.
func (g *GatewayClient) CancelOrder(ctx context.Context, orderID string) error {
	resp, err := g.http.R().
		SetContext(ctx).
		Delete("/v1/api/iserver/order/" + orderID)
	if err != nil {
		return fmt.Errorf("cancelling order %s: %w", orderID, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("cancelling order %s: gateway returned %s", orderID, resp.Status())
	}
	return nil
}
