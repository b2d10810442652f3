package repository

import (
	"context"
	"fmt"
	"time"

	"golang-options-engine/internal/engine/dto"
	"golang-options-engine/internal/entity"
	"golang-options-engine/pkg/common"
	"golang-options-engine/pkg/redis"
	"golang-options-engine/pkg/utils"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// RiskRepository reads per-account limits and tracks the day's consumption
// counters. Limits live in postgres (mutated externally by settlement); the
// fast-moving reservation counters live in redis and expire at end of day.
type RiskRepository interface {
	GetLimits(ctx context.Context, accountID uint) (*entity.RiskLimits, error)
	DailyRealizedLoss(ctx context.Context, accountID uint) (float64, error)
	ReserveNotional(ctx context.Context, accountID uint, notional, limit float64) (bool, error)
	ReleaseNotional(ctx context.Context, accountID uint, notional float64) error
	ReserveCyclePosition(ctx context.Context, accountID uint, cycleRunID string, max int) (bool, error)
	ReleaseCyclePosition(ctx context.Context, accountID uint, cycleRunID string) error
}

type riskRepository struct {
	db          *gorm.DB
	redisClient *redis.Client
}

func NewRiskRepository(db *gorm.DB, redisClient *redis.Client) RiskRepository {
	return &riskRepository{db: db, redisClient: redisClient}
}

func (r *riskRepository) GetLimits(ctx context.Context, accountID uint) (*entity.RiskLimits, error) {
	var limits entity.RiskLimits
	if err := r.db.WithContext(ctx).First(&limits, "account_id = ?", accountID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, dto.ErrNotFound
		}
		return nil, err
	}
	return &limits, nil
}

func dailyKey(prefix string, accountID uint, day time.Time) string {
	return fmt.Sprintf("%s:%d:%s", prefix, accountID, day.Format("2006-01-02"))
}

// DailyRealizedLoss reads the day's realized loss counter. Settlement writes
// it; a missing key means no realized loss today.
func (r *riskRepository) DailyRealizedLoss(ctx context.Context, accountID uint) (float64, error) {
	val, err := r.redisClient.Get(ctx, dailyKey(common.RedisKeyDailyLoss, accountID, time.Now())).Float64()
	if err != nil {
		if err == goredis.Nil {
			return 0, nil
		}
		return 0, err
	}
	return val, nil
}

// ReserveNotional atomically adds the order's notional to today's counter and
// rolls it back when the addition breaches the limit.
func (r *riskRepository) ReserveNotional(ctx context.Context, accountID uint, notional, limit float64) (bool, error) {
	key := dailyKey(common.RedisKeyDailyNotional, accountID, time.Now())

	total, err := r.redisClient.IncrByFloat(ctx, key, notional).Result()
	if err != nil {
		return false, err
	}
	r.redisClient.ExpireAt(ctx, key, utils.EndOfDay(time.Now()))

	if limit > 0 && total > limit {
		if err := r.redisClient.IncrByFloat(ctx, key, -notional).Err(); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (r *riskRepository) ReleaseNotional(ctx context.Context, accountID uint, notional float64) error {
	key := dailyKey(common.RedisKeyDailyNotional, accountID, time.Now())
	return r.redisClient.IncrByFloat(ctx, key, -notional).Err()
}

// ReserveCyclePosition counts new positions within one cycle run against the
// per-cycle ceiling.
func (r *riskRepository) ReserveCyclePosition(ctx context.Context, accountID uint, cycleRunID string, max int) (bool, error) {
	key := fmt.Sprintf("%s:%d:%s", common.RedisKeyCyclePositions, accountID, cycleRunID)

	count, err := r.redisClient.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	r.redisClient.Expire(ctx, key, time.Hour)

	if max > 0 && count > int64(max) {
		if err := r.redisClient.Decr(ctx, key).Err(); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// ReleaseCyclePosition gives back a slot taken by ReserveCyclePosition when
// the reserved entry did not open a position.
func (r *riskRepository) ReleaseCyclePosition(ctx context.Context, accountID uint, cycleRunID string) error {
	key := fmt.Sprintf("%s:%d:%s", common.RedisKeyCyclePositions, accountID, cycleRunID)
	return r.redisClient.Decr(ctx, key).Err()
}
