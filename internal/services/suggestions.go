package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Suggested-find tags.
const (
	TagSteadyCompounder = "Steady Compounder"
	TagGoldMine         = "Gold Mine"
)

// SuggestedFind is one curated long-term candidate.
type SuggestedFind struct {
	Ticker       string  `json:"ticker"`
	Conviction   float64 `json:"conviction"` // 0-10
	ValuationTag string  `json:"valuationTag,omitempty"`
	Tag          string  `json:"tag"`
	Reason       string  `json:"reason,omitempty"`
}

// DailySuggestions is the daily-suggestion service payload. Only cached
// responses are honoured; a cold response means the upstream pipeline has
// not produced today's list yet.
type DailySuggestions struct {
	Cached      bool
	Compounders []SuggestedFind
	GoldMines   []SuggestedFind
}

// Suggester fetches the curated daily long-term list.
type Suggester interface {
	FetchDaily(ctx context.Context) (*DailySuggestions, error)
}

// SuggestionsClient implements Suggester over HTTP.
type SuggestionsClient struct {
	http *resty.Client
}

// NewSuggestionsClient points a suggestions client at baseURL.
func NewSuggestionsClient(baseURL string) *SuggestionsClient {
	return &SuggestionsClient{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(30 * time.Second).
			SetRetryCount(1),
	}
}

type suggestionsResponse struct {
	Cached bool `json:"cached"`
	Data   struct {
		Compounders []SuggestedFind `json:"compounders"`
		GoldMines   []SuggestedFind `json:"goldMines"`
	} `json:"data"`
}

func (c *SuggestionsClient) FetchDaily(ctx context.Context) (*DailySuggestions, error) {
	var out suggestionsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/daily-suggestions")
	if err != nil {
		return nil, fmt.Errorf("fetching daily suggestions: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("daily suggestions returned %s", resp.Status())
	}
	return &DailySuggestions{
		Cached:      out.Cached,
		Compounders: out.Data.Compounders,
		GoldMines:   out.Data.GoldMines,
	}, nil
}

var _ Suggester = (*SuggestionsClient)(nil)
