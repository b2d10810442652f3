package entity

import (
	"time"

	"gorm.io/datatypes"
)

// CycleTrigger records what fired a cycle.
type CycleTrigger string

const (
	CycleTriggerTimer  CycleTrigger = "timer"
	CycleTriggerManual CycleTrigger = "manual"
)

// CycleRunStatus is the terminal state of a cycle invocation.
type CycleRunStatus string

const (
	CycleRunStatusCompleted CycleRunStatus = "completed"
	CycleRunStatusRejected  CycleRunStatus = "rejected"
	CycleRunStatusFailed    CycleRunStatus = "failed"
)

// Outcomes recorded per evaluated entity.
const (
	OutcomeSkipped = "skipped"
	OutcomeExited  = "exited"
	OutcomeEntered = "entered"
	OutcomeError   = "error"
)

// Entity kinds in diagnostic entries.
const (
	DiagnosticKindPosition   = "position"
	DiagnosticKindAutomation = "automation"
	DiagnosticKindCycle      = "cycle"
)

// DiagnosticEntry is one record per evaluated position or automation within a
// cycle: the outcome, the gate that decided it, and the numeric values the
// gate compared. It is identical for timer and manual triggers.
type DiagnosticEntry struct {
	Kind     string             `json:"kind"`
	EntityID uint               `json:"entity_id"`
	Outcome  string             `json:"outcome"`
	Gate     string             `json:"gate,omitempty"`
	Values   map[string]float64 `json:"values,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// CycleRun is one cycle invocation for an account, persisted with its full
// diagnostic trail for on-demand inspection.
type CycleRun struct {
	ID                   string         `gorm:"primaryKey" json:"id"`
	AccountID            uint           `gorm:"not null;index" json:"account_id"`
	Trigger              CycleTrigger   `gorm:"not null" json:"trigger"`
	Status               CycleRunStatus `gorm:"not null" json:"status"`
	PositionsEvaluated   int            `gorm:"not null" json:"positions_evaluated"`
	AutomationsEvaluated int            `gorm:"not null" json:"automations_evaluated"`
	Entries              datatypes.JSON `gorm:"type:jsonb" json:"entries"`
	StartedAt            time.Time      `gorm:"not null" json:"started_at"`
	CompletedAt          *time.Time     `json:"completed_at"`
	CreatedAt            time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

func (CycleRun) TableName() string {
	return "cycle_runs"
}
