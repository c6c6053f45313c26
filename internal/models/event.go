package models

import "time"

// Event classification enums. The event log is append-only and doubles as
// the dip-buy cooldown and trim/cut tier-dedup record.
const (
	EventSuccess = "success"
	EventWarning = "warning"
	EventError   = "error"
)

const (
	ActionExecuted = "executed"
	ActionSkipped  = "skipped"
	ActionFailed   = "failed"
)

const (
	SourceScanner        = "scanner"
	SourceSuggestedFinds = "suggested_finds"
	SourceExternalSignal = "external_signal"
	SourceDipBuy         = "dip_buy"
	SourceProfitTake     = "profit_take"
	SourceLossCut        = "loss_cut"
	SourceSystem         = "system"
)

// AutoTradeEvent is one row of the append-only audit log.
type AutoTradeEvent struct {
	ID        string            `json:"id"`
	Ticker    string            `json:"ticker,omitempty"`
	EventType string            `json:"event_type"` // success | warning | error
	Action    string            `json:"action"`     // executed | skipped | failed
	Source    string            `json:"source"`
	Mode      TradeMode         `json:"mode,omitempty"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
