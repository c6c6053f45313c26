// Package marketdata provides quote, earnings-calendar, industry and
// daily-bar access for the trading core, plus the indicator helpers and
// process-lifetime caches built on top of them.
//
// All providers fail open: a missing or malformed response surfaces as an
// error that callers treat as "data unavailable" and skip the dependent
// check rather than block trading.
package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// EarningsEvent is one row of the earnings calendar.
type EarningsEvent struct {
	Date   string `json:"date"` // "2006-01-02"
	Symbol string `json:"symbol"`
}

// Bars holds aligned daily closes and volumes, oldest first.
type Bars struct {
	Closes  []float64
	Volumes []float64
}

// Provider is the market-data capability consumed by the rest of the core.
type Provider interface {
	// Quote returns the last trade price for symbol.
	Quote(ctx context.Context, symbol string) (float64, error)
	// Earnings lists earnings events for symbol between from and to.
	Earnings(ctx context.Context, symbol string, from, to time.Time) ([]EarningsEvent, error)
	// Industry returns the ticker's industry label ("" = unknown).
	Industry(ctx context.Context, symbol string) (string, error)
	// DailyBars returns about a year of daily bars ending today.
	DailyBars(ctx context.Context, symbol string) (*Bars, error)
}

// Client implements Provider over the external quote/calendar/profile and
// chart HTTP services.
type Client struct {
	finnhub *resty.Client
	charts  *resty.Client
}

// Config points the client at its two upstreams.
type Config struct {
	FinnhubBaseURL string
	FinnhubAPIKey  string
	ChartBaseURL   string
}

// NewClient builds a market-data client. Quote-class calls get a short
// timeout; bar fetches a longer one.
func NewClient(cfg Config) *Client {
	return &Client{
		finnhub: resty.New().
			SetBaseURL(cfg.FinnhubBaseURL).
			SetQueryParam("token", cfg.FinnhubAPIKey).
			SetTimeout(8 * time.Second).
			SetRetryCount(1),
		charts: resty.New().
			SetBaseURL(cfg.ChartBaseURL).
			SetTimeout(20 * time.Second).
			SetRetryCount(1),
	}
}

type quoteResponse struct {
	C float64 `json:"c"`
}

func (c *Client) Quote(ctx context.Context, symbol string) (float64, error) {
	var q quoteResponse
	resp, err := c.finnhub.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&q).
		Get("/quote")
	if err != nil {
		return 0, fmt.Errorf("fetching quote for %s: %w", symbol, err)
	}
	if !resp.IsSuccess() || q.C <= 0 {
		return 0, fmt.Errorf("quote unavailable for %s", symbol)
	}
	return q.C, nil
}

type earningsResponse struct {
	EarningsCalendar []EarningsEvent `json:"earningsCalendar"`
}

func (c *Client) Earnings(ctx context.Context, symbol string, from, to time.Time) ([]EarningsEvent, error) {
	var out earningsResponse
	resp, err := c.finnhub.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol": symbol,
			"from":   from.Format("2006-01-02"),
			"to":     to.Format("2006-01-02"),
		}).
		SetResult(&out).
		Get("/calendar/earnings")
	if err != nil {
		return nil, fmt.Errorf("fetching earnings for %s: %w", symbol, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("earnings calendar unavailable for %s", symbol)
	}
	return out.EarningsCalendar, nil
}

type profileResponse struct {
	FinnhubIndustry string `json:"finnhubIndustry"`
}

func (c *Client) Industry(ctx context.Context, symbol string) (string, error) {
	var out profileResponse
	resp, err := c.finnhub.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&out).
		Get("/stock/profile2")
	if err != nil {
		return "", fmt.Errorf("fetching profile for %s: %w", symbol, err)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("profile unavailable for %s", symbol)
	}
	return out.FinnhubIndustry, nil
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Indicators struct {
				Quote []struct {
					Close  []float64 `json:"close"`
					Volume []float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
	} `json:"chart"`
}

func (c *Client) DailyBars(ctx context.Context, symbol string) (*Bars, error) {
	var out chartResponse
	resp, err := c.charts.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"range": "1y", "interval": "1d"}).
		SetResult(&out).
		Get("/v8/finance/chart/" + symbol)
	if err != nil {
		return nil, fmt.Errorf("fetching daily bars for %s: %w", symbol, err)
	}
	if !resp.IsSuccess() || len(out.Chart.Result) == 0 || len(out.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fmt.Errorf("daily bars unavailable for %s", symbol)
	}
	q := out.Chart.Result[0].Indicators.Quote[0]
	// Drop trailing null bars (encoded as zeros) that some chart feeds
	// append for the in-progress session.
	closes, volumes := q.Close, q.Volume
	for len(closes) > 0 && closes[len(closes)-1] == 0 {
		closes = closes[:len(closes)-1]
		if len(volumes) >= len(closes)+1 {
			volumes = volumes[:len(volumes)-1]
		}
	}
	if len(closes) == 0 {
		return nil, fmt.Errorf("daily bars empty for %s", symbol)
	}
	return &Bars{Closes: closes, Volumes: volumes}, nil
}

var _ Provider = (*Client)(nil)
