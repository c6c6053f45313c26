package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dfalkner/autotrader/internal/models"
)

// Analysis is the full-analysis service verdict for one ticker. Zero price
// levels mean the service did not supply them.
type Analysis struct {
	Recommendation string  `json:"recommendation"` // BUY | SELL | HOLD
	Confidence     float64 `json:"confidence"`
	EntryPrice     float64 `json:"entryPrice"`
	StopLoss       float64 `json:"stopLoss"`
	TargetPrice    float64 `json:"targetPrice"`
	TargetPrice2   float64 `json:"targetPrice2,omitempty"`
	RiskReward     string  `json:"riskReward,omitempty"` // "1:X"
	Rationale      string  `json:"rationale,omitempty"`
}

// HasLevels reports whether entry, stop and target are all present.
func (a *Analysis) HasLevels() bool {
	return a.EntryPrice > 0 && a.StopLoss > 0 && a.TargetPrice > 0
}

// RiskRewardRatio parses the "1:X" string; ok=false when absent or
// malformed.
func (a *Analysis) RiskRewardRatio() (float64, bool) {
	return ParseRiskReward(a.RiskReward)
}

// ParseRiskReward parses a "1:X" ratio string into X.
func ParseRiskReward(s string) (float64, bool) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// Analyzer produces a full analysis for a ticker/mode pair.
type Analyzer interface {
	Analyze(ctx context.Context, ticker string, mode models.TradeMode) (*Analysis, error)
}

// AnalysisClient implements Analyzer over HTTP. Analysis calls are the
// slowest external dependency; the timeout is generous on purpose.
type AnalysisClient struct {
	http *resty.Client
}

// NewAnalysisClient points an analysis client at baseURL.
func NewAnalysisClient(baseURL string) *AnalysisClient {
	return &AnalysisClient{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(60 * time.Second),
	}
}

type analysisResponse struct {
	Trade *Analysis `json:"trade"`
}

func (c *AnalysisClient) Analyze(ctx context.Context, ticker string, mode models.TradeMode) (*Analysis, error) {
	// Long-term candidates are analysed on the swing horizon; the service
	// has no long-term mode.
	if mode == models.ModeLongTerm {
		mode = models.ModeSwing
	}
	var out analysisResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"ticker": ticker, "mode": string(mode)}).
		SetResult(&out).
		Post("/trading-signals")
	if err != nil {
		return nil, fmt.Errorf("analysing %s: %w", ticker, err)
	}
	if !resp.IsSuccess() || out.Trade == nil {
		return nil, fmt.Errorf("analysis unavailable for %s", ticker)
	}
	return out.Trade, nil
}

var _ Analyzer = (*AnalysisClient)(nil)
