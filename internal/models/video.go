package models

// StrategyType classifies a tracked video: daily signals are bound to a
// specific trade date, generic strategies stay live until untracked.
type StrategyType string

const (
	StrategyDailySignal StrategyType = "daily_signal"
	StrategyGeneric     StrategyType = "generic_strategy"
)

// VideoStatusTracked marks videos the signal queuer consumes. Any other
// status (paused, archived, rejected) is ignored.
const VideoStatusTracked = "tracked"

// ExecutionWindow is an optional ET wall-clock window ("HH:MM" bounds,
// inclusive on both ends) outside of which a video's signals must not fire.
type ExecutionWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// ExtractedSignal is one ticker setup pulled from a video transcript by the
// ingestion pipeline. A long setup needs a trigger and at least one target;
// mirrored for shorts.
type ExtractedSignal struct {
	Ticker            string    `json:"ticker"`
	LongTriggerAbove  *float64  `json:"long_trigger_above,omitempty"`
	LongTargets       []float64 `json:"long_targets,omitempty"`
	ShortTriggerBelow *float64  `json:"short_trigger_below,omitempty"`
	ShortTargets      []float64 `json:"short_targets,omitempty"`
}

// StrategyVideo is one entry of the tracked-video catalogue. The transcript
// ingestion pipeline writes these; this core only reads them.
type StrategyVideo struct {
	VideoID                    string            `json:"video_id"`
	SourceHandle               string            `json:"source_handle,omitempty"`
	SourceName                 string            `json:"source_name,omitempty"`
	CanonicalURL               string            `json:"canonical_url,omitempty"`
	VideoHeading               string            `json:"video_heading,omitempty"`
	StrategyType               StrategyType      `json:"strategy_type"`
	Timeframe                  TradeMode         `json:"timeframe,omitempty"`
	ApplicableTimeframes       []TradeMode       `json:"applicable_timeframes,omitempty"`
	ExecutionWindowET          *ExecutionWindow  `json:"execution_window_et,omitempty"`
	TradeDate                  string            `json:"trade_date,omitempty"` // ET date for daily_signal
	ExtractedSignals           []ExtractedSignal `json:"extracted_signals,omitempty"`
	Status                     string            `json:"status"`
	ExemptFromAutoDeactivation bool              `json:"exempt_from_auto_deactivation,omitempty"`
}

// AppliesTo reports whether the video targets the given timeframe, either
// through its primary timeframe or the applicable-timeframes list.
func (v *StrategyVideo) AppliesTo(mode TradeMode) bool {
	if v.Timeframe == mode {
		return true
	}
	for _, tf := range v.ApplicableTimeframes {
		if tf == mode {
			return true
		}
	}
	return false
}
