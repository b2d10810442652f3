package entity

import (
	"time"
)

// RiskLimits is the per-account ceiling state consulted by the risk gate.
// Mutated externally by trade settlement; read-only to the engine.
type RiskLimits struct {
	ID                      uint      `gorm:"primaryKey" json:"id"`
	AccountID               uint      `gorm:"not null;uniqueIndex" json:"account_id"`
	MaxOpenPositions        int       `gorm:"not null" json:"max_open_positions"`
	MaxNewPositionsPerCycle int       `gorm:"not null" json:"max_new_positions_per_cycle"`
	DailyLossLimit          float64   `gorm:"not null" json:"daily_loss_limit"`
	DailyNotionalLimit      float64   `gorm:"not null" json:"daily_notional_limit"`
	ForceLiquidate          bool      `gorm:"not null" json:"force_liquidate"`
	CreatedAt               time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (RiskLimits) TableName() string {
	return "risk_limits"
}
