package dto

import "golang-options-engine/internal/entity"

// GetAutomationsParam filters automation queries. At least one filter must be
// set.
type GetAutomationsParam struct {
	IDs       []uint
	AccountID *uint
	IsActive  *bool
}

// GetPositionsParam filters position queries. At least one filter must be set.
type GetPositionsParam struct {
	IDs          []uint
	AccountID    *uint
	AutomationID *uint
	Statuses     []entity.PositionStatus
}

// RiskDecision carries the risk gate's verdict and the values it compared,
// surfaced in diagnostics.
type RiskDecision struct {
	Allowed bool               `json:"allowed"`
	Reason  string             `json:"reason,omitempty"`
	Values  map[string]float64 `json:"values,omitempty"`
}
