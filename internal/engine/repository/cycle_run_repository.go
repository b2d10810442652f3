package repository

import (
	"context"

	"golang-options-engine/internal/engine/dto"
	"golang-options-engine/internal/entity"

	"gorm.io/gorm"
)

type CycleRunRepository interface {
	Create(ctx context.Context, run *entity.CycleRun) error
	GetLatest(ctx context.Context, accountID uint) (*entity.CycleRun, error)
}

type cycleRunRepository struct {
	db *gorm.DB
}

func NewCycleRunRepository(db *gorm.DB) CycleRunRepository {
	return &cycleRunRepository{db: db}
}

func (r *cycleRunRepository) Create(ctx context.Context, run *entity.CycleRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *cycleRunRepository) GetLatest(ctx context.Context, accountID uint) (*entity.CycleRun, error) {
	var run entity.CycleRun
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("started_at DESC").
		First(&run).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, dto.ErrNotFound
		}
		return nil, err
	}
	return &run, nil
}
