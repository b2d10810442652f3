package dto

import "time"

// Signal directions.
const (
	DirectionBullish = "bullish"
	DirectionBearish = "bearish"
	DirectionNeutral = "neutral"
)

// Recommended actions.
const (
	ActionBuyCall = "buy_call"
	ActionBuyPut  = "buy_put"
	ActionHold    = "hold"
)

// Signal is the transient output of the signal generator for a symbol.
// Confidence is normalized to [0, 1].
type Signal struct {
	Symbol            string    `json:"symbol"`
	Confidence        float64   `json:"confidence"`
	Direction         string    `json:"direction"`
	RecommendedAction string    `json:"recommended_action"`
	GeneratedAt       time.Time `json:"generated_at"`
}
