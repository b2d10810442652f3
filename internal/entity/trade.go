package entity

import (
	"time"
)

// TradeSide is the direction of an order.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// TradeStatus is the terminal state of an order submission.
type TradeStatus string

const (
	TradeStatusFilled        TradeStatus = "filled"
	TradeStatusPartiallyFill TradeStatus = "partially_filled"
	TradeStatusFailed        TradeStatus = "failed"
)

// Trade is one row in the execution ledger. Every order submission that
// reached a terminal state is recorded here, including failures.
type Trade struct {
	ID                uint        `gorm:"primaryKey" json:"id"`
	AccountID         uint        `gorm:"not null;index" json:"account_id"`
	AutomationID      *uint       `gorm:"index" json:"automation_id"`
	PositionID        *uint       `gorm:"index" json:"position_id"`
	IdempotencyKey    string      `gorm:"not null;index" json:"idempotency_key"`
	Symbol            string      `gorm:"not null" json:"symbol"`
	OptionSymbol      string      `gorm:"not null" json:"option_symbol"`
	Side              TradeSide   `gorm:"not null" json:"side"`
	Status            TradeStatus `gorm:"not null" json:"status"`
	RequestedQuantity int         `gorm:"not null" json:"requested_quantity"`
	FillQuantity      int         `json:"fill_quantity"`
	LimitPrice        float64     `json:"limit_price"`
	FillPrice         float64     `json:"fill_price"`
	BrokerOrderID     string      `json:"broker_order_id"`
	Attempts          int         `gorm:"not null" json:"attempts"`
	ErrorMessage      string      `json:"error_message"`
	CreatedAt         time.Time   `gorm:"autoCreateTime" json:"created_at"`
}

func (Trade) TableName() string {
	return "trades"
}

// IdempotencyKey maps a deterministic order key to the trade that filled it.
// A row exists only for successful fills; its presence short-circuits any
// duplicate submission with the same key.
type IdempotencyKey struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	TradeID   uint      `gorm:"not null" json:"trade_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (IdempotencyKey) TableName() string {
	return "idempotency_keys"
}
