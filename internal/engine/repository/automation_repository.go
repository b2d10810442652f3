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

type AutomationRepository interface {
	Get(ctx context.Context, param dto.GetAutomationsParam) ([]entity.Automation, error)
	GetByID(ctx context.Context, id uint) (*entity.Automation, error)
	RecordExecution(ctx context.Context, id uint, at time.Time) error
	SetPaused(ctx context.Context, id uint, version int, paused bool) error
}

type automationRepository struct {
	db *gorm.DB
}

func NewAutomationRepository(db *gorm.DB) AutomationRepository {
	return &automationRepository{db: db}
}

func (r *automationRepository) Get(ctx context.Context, param dto.GetAutomationsParam) ([]entity.Automation, error) {
	var automations []entity.Automation

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

	if param.IsActive != nil {
		qFilter = append(qFilter, "is_active = ?")
		qFilterParam = append(qFilterParam, *param.IsActive)
	}

	if len(qFilter) == 0 {
		return nil, fmt.Errorf("no filter provided")
	}

	if err := r.db.WithContext(ctx).Where(strings.Join(qFilter, " AND "), qFilterParam...).Order("id ASC").Find(&automations).Error; err != nil {
		return nil, err
	}

	return automations, nil
}

func (r *automationRepository) GetByID(ctx context.Context, id uint) (*entity.Automation, error) {
	var automation entity.Automation
	if err := r.db.WithContext(ctx).First(&automation, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, dto.ErrNotFound
		}
		return nil, err
	}
	return &automation, nil
}

// RecordExecution bumps the execution counters after a successful entry. The
// version is incremented so concurrent pause edits see the change.
func (r *automationRepository) RecordExecution(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&entity.Automation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"execution_count":  gorm.Expr("execution_count + 1"),
			"last_executed_at": at,
			"version":          gorm.Expr("version + 1"),
		}).Error
}

// SetPaused flips the paused flag with an optimistic version check. Returns
// dto.ErrVersionConflict when the row changed since it was read.
func (r *automationRepository) SetPaused(ctx context.Context, id uint, version int, paused bool) error {
	res := r.db.WithContext(ctx).Model(&entity.Automation{}).
		Where("id = ? AND version = ?", id, version).
		Updates(map[string]interface{}{
			"is_paused": paused,
			"version":   gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return dto.ErrVersionConflict
	}
	return nil
}
