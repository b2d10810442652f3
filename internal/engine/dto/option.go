package dto

import (
	"time"

	"golang-options-engine/internal/entity"
)

// OptionCandidate is one chain entry considered for entry. Transient.
type OptionCandidate struct {
	Symbol       string            `json:"symbol"`
	OptionType   entity.OptionType `json:"option_type"`
	Strike       float64           `json:"strike"`
	Expiration   time.Time         `json:"expiration"`
	Bid          float64           `json:"bid"`
	Ask          float64           `json:"ask"`
	Volume       int64             `json:"volume"`
	OpenInterest int64             `json:"open_interest"`
	Delta        float64           `json:"delta"`
}

// Mid returns the bid/ask midpoint.
func (c *OptionCandidate) Mid() float64 {
	return (c.Bid + c.Ask) / 2
}

// SpreadPct returns the bid/ask spread as a percentage of the midpoint. A
// non-positive midpoint yields 100 so broken quotes never pass a spread filter.
func (c *OptionCandidate) SpreadPct() float64 {
	mid := c.Mid()
	if mid <= 0 {
		return 100
	}
	return (c.Ask - c.Bid) / mid * 100
}

// Liquidity returns the combined volume and open interest used for scoring.
func (c *OptionCandidate) Liquidity() int64 {
	return c.Volume + c.OpenInterest
}
