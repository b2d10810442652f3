package dto

import (
	"fmt"

	"golang-options-engine/internal/entity"
)

// Execution result statuses.
const (
	ExecutionStatusFilled          = "filled"
	ExecutionStatusPartiallyFilled = "partially_filled"
	ExecutionStatusFailed          = "failed"
	ExecutionStatusAlreadyExecuted = "already_executed"
)

// OrderRequest is an order handed to the trade executor. IdempotencyKey is
// deterministic for a given (entity, cycle, side) so a retried cycle can never
// fill the same logical order twice.
type OrderRequest struct {
	IdempotencyKey string           `json:"idempotency_key"`
	AccountID      uint             `json:"account_id"`
	AutomationID   *uint            `json:"automation_id"`
	PositionID     *uint            `json:"position_id"`
	Symbol         string           `json:"symbol"`
	OptionSymbol   string           `json:"option_symbol"`
	Side           entity.TradeSide `json:"side"`
	Quantity       int              `json:"quantity"`
	LimitPrice     float64          `json:"limit_price"`
}

// BuyOrderKey derives the idempotency key for an automation entry order.
func BuyOrderKey(automationID uint, cycleRunID string) string {
	return fmt.Sprintf("automation:%d:cycle:%s:buy", automationID, cycleRunID)
}

// SellOrderKey derives the idempotency key for a position exit order.
func SellOrderKey(positionID uint, cycleRunID string) string {
	return fmt.Sprintf("position:%d:cycle:%s:sell", positionID, cycleRunID)
}

// BrokerOrderResult is the broker's response to a submitted order.
type BrokerOrderResult struct {
	OrderID      string  `json:"order_id"`
	Status       string  `json:"status"`
	FillPrice    float64 `json:"fill_price"`
	FillQuantity int     `json:"fill_quantity"`
}

// ExecutionResult is the executor's terminal outcome for an order request.
type ExecutionResult struct {
	Status       string  `json:"status"`
	TradeID      uint    `json:"trade_id"`
	BrokerID     string  `json:"broker_order_id"`
	FillPrice    float64 `json:"fill_price"`
	FillQuantity int     `json:"fill_quantity"`
	Attempts     int     `json:"attempts"`
	Error        string  `json:"error,omitempty"`
}
