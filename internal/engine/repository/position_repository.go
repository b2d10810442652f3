package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang-options-engine/internal/engine/dto"
	"golang-options-engine/internal/entity"

	"gorm.io/gorm"
)

type PositionRepository interface {
	Get(ctx context.Context, param dto.GetPositionsParam) ([]entity.Position, error)
	CountOpen(ctx context.Context, accountID uint) (int64, error)
	CountOpenForAutomation(ctx context.Context, automationID uint) (int64, error)
	Create(ctx context.Context, position *entity.Position) error
	Transition(ctx context.Context, id uint, version int, status entity.PositionStatus, closeReason string, closedAt *time.Time) error
	UpdateCurrentPrice(ctx context.Context, id uint, price float64) error
}

type positionRepository struct {
	db *gorm.DB
}

func NewPositionRepository(db *gorm.DB) PositionRepository {
	return &positionRepository{db: db}
}

func (r *positionRepository) Get(ctx context.Context, param dto.GetPositionsParam) ([]entity.Position, error) {
	var positions []entity.Position

	qFilter := []string{}
	qFilterParam := []interface{}{}

	if len(param.IDs) > 0 {
		qFilter = append(qFilter, "id IN (?)")
		qFilterParam = append(qFilterParam, param.IDs)
	}

	if param.AccountID != nil {
		qFilter = append(qFilter, "account_id = ?")
		qFilterParam = append(qFilterParam, *param.AccountID)
	}

	if param.AutomationID != nil {
		qFilter = append(qFilter, "automation_id = ?")
		qFilterParam = append(qFilterParam, *param.AutomationID)
	}

	if len(param.Statuses) > 0 {
		qFilter = append(qFilter, "status IN (?)")
		qFilterParam = append(qFilterParam, param.Statuses)
	}

	if len(qFilter) == 0 {
		return nil, fmt.Errorf("no filter provided")
	}

	if err := r.db.WithContext(ctx).Where(strings.Join(qFilter, " AND "), qFilterParam...).Order("id ASC").Find(&positions).Error; err != nil {
		return nil, err
	}

	return positions, nil
}

func (r *positionRepository) CountOpen(ctx context.Context, accountID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entity.Position{}).
		Where("account_id = ? AND status = ?", accountID, entity.PositionStatusOpen).
		Count(&count).Error
	return count, err
}

func (r *positionRepository) CountOpenForAutomation(ctx context.Context, automationID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entity.Position{}).
		Where("automation_id = ? AND status = ?", automationID, entity.PositionStatusOpen).
		Count(&count).Error
	return count, err
}

func (r *positionRepository) Create(ctx context.Context, position *entity.Position) error {
	return r.db.WithContext(ctx).Create(position).Error
}

// Transition moves a position between lifecycle states with an optimistic
// version check, so a manual close racing the engine surfaces as
// dto.ErrVersionConflict instead of a silent overwrite.
func (r *positionRepository) Transition(ctx context.Context, id uint, version int, status entity.PositionStatus, closeReason string, closedAt *time.Time) error {
	updates := map[string]interface{}{
		"status":  status,
		"version": gorm.Expr("version + 1"),
	}
	if closeReason != "" {
		updates["close_reason"] = closeReason
	}
	if closedAt != nil {
		updates["closed_at"] = *closedAt
	}

	res := r.db.WithContext(ctx).Model(&entity.Position{}).
		Where("id = ? AND version = ?", id, version).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return dto.ErrVersionConflict
	}
	return nil
}

func (r *positionRepository) UpdateCurrentPrice(ctx context.Context, id uint, price float64) error {
	return r.db.WithContext(ctx).Model(&entity.Position{}).
		Where("id = ?", id).
		Update("current_price", price).Error
}
