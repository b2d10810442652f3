package entity

import (
	"time"

	"gorm.io/gorm"
)

// StrategyKind identifies the entry strategy an automation trades.
type StrategyKind string

const (
	StrategyLongCall    StrategyKind = "long_call"
	StrategyLongPut     StrategyKind = "long_put"
	StrategyCoveredCall StrategyKind = "covered_call"
)

// Automation is a standing entry rule owned by an account. The engine reads it
// and only writes back execution counters and the paused flag; everything else
// is managed externally. Version guards concurrent edits (optimistic locking).
type Automation struct {
	ID                     uint         `gorm:"primaryKey" json:"id"`
	AccountID              uint         `gorm:"not null;index" json:"account_id"`
	Symbol                 string       `gorm:"not null" json:"symbol"`
	Strategy               StrategyKind `gorm:"not null" json:"strategy"`
	MinConfidence          float64      `gorm:"not null" json:"min_confidence"`
	ProfitTargetPct        float64      `gorm:"not null" json:"profit_target_pct"`
	StopLossPct            float64      `gorm:"not null" json:"stop_loss_pct"`
	MaxHoldDays            int          `gorm:"not null" json:"max_hold_days"`
	PreferredDTE           int          `gorm:"column:preferred_dte;not null" json:"preferred_dte"`
	MinVolume              int64        `gorm:"not null" json:"min_volume"`
	MinOpenInterest        int64        `gorm:"not null" json:"min_open_interest"`
	MaxSpreadPct           float64      `gorm:"not null" json:"max_spread_pct"`
	TargetDelta            *float64     `json:"target_delta"`
	Quantity               int          `gorm:"not null;default:1" json:"quantity"`
	AllowMultiplePositions bool         `gorm:"not null" json:"allow_multiple_positions"`
	MaxPositions           int          `gorm:"not null" json:"max_positions"`
	IsActive               bool         `gorm:"not null" json:"is_active"`
	IsPaused               bool         `gorm:"not null" json:"is_paused"`
	ExecutionCount         int          `gorm:"not null" json:"execution_count"`
	LastExecutedAt         *time.Time   `json:"last_executed_at"`
	Version                int          `gorm:"not null;default:1" json:"version"`
	CreatedAt              time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt              gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Automation) TableName() string {
	return "automations"
}

// Eligible reports whether the automation may be evaluated for entry at all.
func (a *Automation) Eligible() bool {
	return a.IsActive && !a.IsPaused
}
