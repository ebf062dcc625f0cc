package domain

import "time"

// MarketOutcome is the terminal resolution of a binary market.
type MarketOutcome string

const (
	OutcomeYes    MarketOutcome = "YES"
	OutcomeNo     MarketOutcome = "NO"
	OutcomeCancel MarketOutcome = "CANCEL"
)

// Market is prediction-market metadata as reported by the oracle.
type Market struct {
	ID          string  `json:"id"`
	Question    string  `json:"question"`
	Probability float64 `json:"probability"`
	Volume      float64 `json:"volume"`
	IsResolved  bool    `json:"is_resolved"`
	Resolution  string  `json:"resolution,omitempty"`
	URL         string  `json:"url"`
}

// MarketResolution is the oracle's terminal verdict for a market.
type MarketResolution struct {
	Outcome     MarketOutcome `json:"outcome"`
	Probability float64       `json:"probability"`
	ResolvedAt  time.Time     `json:"resolved_at"`
}
