package repository

import (
	"context"

	"golang-options-engine/internal/engine/dto"
	"golang-options-engine/internal/entity"

	"gorm.io/gorm"
)

type TradeRepository interface {
	GetByIdempotencyKey(ctx context.Context, key string) (*entity.Trade, error)
	CreateFilled(ctx context.Context, trade *entity.Trade) error
	CreateFailed(ctx context.Context, trade *entity.Trade) error
}

type tradeRepository struct {
	db *gorm.DB
}

func NewTradeRepository(db *gorm.DB) TradeRepository {
	return &tradeRepository{db: db}
}

// GetByIdempotencyKey returns the trade a key was consumed by, or
// dto.ErrNotFound when the key has never filled.
func (r *tradeRepository) GetByIdempotencyKey(ctx context.Context, key string) (*entity.Trade, error) {
	var ledger entity.IdempotencyKey
	if err := r.db.WithContext(ctx).First(&ledger, "key = ?", key).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, dto.ErrNotFound
		}
		return nil, err
	}

	var trade entity.Trade
	if err := r.db.WithContext(ctx).First(&trade, ledger.TradeID).Error; err != nil {
		return nil, err
	}
	return &trade, nil
}

// CreateFilled records a successful fill and consumes its idempotency key in
// one transaction. A duplicate key insert fails the whole transaction, which
// is exactly the at-most-once guarantee the executor relies on.
func (r *tradeRepository) CreateFilled(ctx context.Context, trade *entity.Trade) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(trade).Error; err != nil {
			return err
		}
		return tx.Create(&entity.IdempotencyKey{
			Key:     trade.IdempotencyKey,
			TradeID: trade.ID,
		}).Error
	})
}

// CreateFailed records an exhausted order without consuming the key, so a
// later cycle may try again under a fresh key.
func (r *tradeRepository) CreateFailed(ctx context.Context, trade *entity.Trade) error {
	return r.db.WithContext(ctx).Create(trade).Error
}
