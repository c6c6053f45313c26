// Package services provides clients for the external trade-idea scanner,
// full-analysis signal service and daily-suggestion service. Responses with
// missing required fields are treated as unavailable; callers fail open.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dfalkner/autotrader/internal/models"
)

// ScanResponse is the scanner service payload.
type ScanResponse struct {
	DayTrades   []models.TradeIdea `json:"dayTrades"`
	SwingTrades []models.TradeIdea `json:"swingTrades"`
	Timestamp   string             `json:"timestamp,omitempty"`
	Cached      bool               `json:"cached,omitempty"`
}

// Scanner fetches candidate trade ideas.
type Scanner interface {
	FetchIdeas(ctx context.Context, portfolioTickers []string) (*ScanResponse, error)
}

// ScannerClient implements Scanner over HTTP.
type ScannerClient struct {
	http *resty.Client
}

// NewScannerClient points a scanner client at baseURL.
func NewScannerClient(baseURL string) *ScannerClient {
	return &ScannerClient{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(45 * time.Second).
			SetRetryCount(1),
	}
}

func (c *ScannerClient) FetchIdeas(ctx context.Context, portfolioTickers []string) (*ScanResponse, error) {
	var out ScanResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"portfolioTickers": portfolioTickers}).
		SetResult(&out).
		Post("/trade-scanner")
	if err != nil {
		return nil, fmt.Errorf("fetching scanner ideas: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("scanner returned %s", resp.Status())
	}
	return &out, nil
}

var _ Scanner = (*ScannerClient)(nil)
