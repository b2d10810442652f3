package entity

import (
	"time"

	"golang-options-engine/pkg/utils"

	"gorm.io/gorm"
)

// PositionStatus is the lifecycle state of a held contract.
type PositionStatus string

const (
	PositionStatusOpen    PositionStatus = "open"
	PositionStatusClosing PositionStatus = "closing"
	PositionStatusClosed  PositionStatus = "closed"
)

// OptionType distinguishes calls from puts.
type OptionType string

const (
	OptionTypeCall OptionType = "call"
	OptionTypePut  OptionType = "put"
)

// Close reasons recorded when the engine closes a position. Priority order is
// enforced by the position monitor: risk_override, stop_loss, profit_target,
// max_hold_days. Manual is reserved for closes initiated outside the engine.
const (
	CloseReasonRiskOverride = "risk_override"
	CloseReasonStopLoss     = "stop_loss"
	CloseReasonProfitTarget = "profit_target"
	CloseReasonMaxHoldDays  = "max_hold_days"
	CloseReasonManual       = "manual"
)

// Position is a held option contract. AutomationID is nil for positions opened
// manually. ClosedAt is set iff Status is closed.
type Position struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	AccountID    uint           `gorm:"not null;index" json:"account_id"`
	AutomationID *uint          `gorm:"index" json:"automation_id"`
	Symbol       string         `gorm:"not null" json:"symbol"`
	OptionSymbol string         `gorm:"not null" json:"option_symbol"`
	OptionType   OptionType     `gorm:"not null" json:"option_type"`
	Strike       float64        `gorm:"not null" json:"strike"`
	Expiration   time.Time      `gorm:"not null" json:"expiration"`
	EntryPrice   float64        `gorm:"not null" json:"entry_price"`
	Quantity     int            `gorm:"not null" json:"quantity"`
	CurrentPrice float64        `json:"current_price"`
	Status       PositionStatus `gorm:"not null;index" json:"status"`
	CloseReason  string         `json:"close_reason"`
	OpenedAt     time.Time      `gorm:"not null" json:"opened_at"`
	ClosedAt     *time.Time     `json:"closed_at"`
	Version      int            `gorm:"not null;default:1" json:"version"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Position) TableName() string {
	return "positions"
}

// UnrealizedPLPct returns the profit/loss percentage of price relative to the
// entry price. A zero entry price yields zero to avoid dividing by it.
func (p *Position) UnrealizedPLPct(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice * 100
}

// HeldDays returns how many whole days the position has been open at now.
func (p *Position) HeldDays(now time.Time) int {
	return utils.DaysBetween(p.OpenedAt, now)
}
