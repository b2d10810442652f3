package service

import (
	"context"
	"errors"

	"golang-options-engine/internal/engine/dto"
	"golang-options-engine/internal/engine/repository"
	"golang-options-engine/pkg/logger"
)

// RiskGate enforces per-account ceilings: daily realized loss, daily notional
// and new positions per cycle. Accounts without a limits row trade
// unrestricted.
type RiskGate interface {
	ShouldForceLiquidate(ctx context.Context, accountID uint) (bool, error)
	ValidateEntry(ctx context.Context, accountID uint, cycleRunID string, notional float64) (*dto.RiskDecision, error)
	ReleaseEntry(ctx context.Context, accountID uint, cycleRunID string, notional float64) error
}

type riskGate struct {
	riskRepo repository.RiskRepository
	log      *logger.Logger
}

func NewRiskGate(riskRepo repository.RiskRepository, log *logger.Logger) RiskGate {
	return &riskGate{riskRepo: riskRepo, log: log}
}

// ShouldForceLiquidate reports whether open positions must be closed
// regardless of their exit rules.
func (g *riskGate) ShouldForceLiquidate(ctx context.Context, accountID uint) (bool, error) {
	limits, err := g.riskRepo.GetLimits(ctx, accountID)
	if err != nil {
		if errors.Is(err, dto.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	if limits.ForceLiquidate {
		return true, nil
	}

	if limits.DailyLossLimit > 0 {
		loss, err := g.riskRepo.DailyRealizedLoss(ctx, accountID)
		if err != nil {
			return false, err
		}
		if loss >= limits.DailyLossLimit {
			return true, nil
		}
	}

	return false, nil
}

// ValidateEntry checks and reserves capacity for one new position. Reserved
// capacity must be released with ReleaseEntry when the order does not fill.
func (g *riskGate) ValidateEntry(ctx context.Context, accountID uint, cycleRunID string, notional float64) (*dto.RiskDecision, error) {
	limits, err := g.riskRepo.GetLimits(ctx, accountID)
	if err != nil {
		if errors.Is(err, dto.ErrNotFound) {
			return &dto.RiskDecision{Allowed: true}, nil
		}
		return nil, err
	}

	values := map[string]float64{
		"notional": notional,
	}

	if limits.DailyLossLimit > 0 {
		loss, err := g.riskRepo.DailyRealizedLoss(ctx, accountID)
		if err != nil {
			return nil, err
		}
		values["daily_realized_loss"] = loss
		values["daily_loss_limit"] = limits.DailyLossLimit
		if loss >= limits.DailyLossLimit {
			return &dto.RiskDecision{Allowed: false, Reason: "daily_loss_limit_breached", Values: values}, nil
		}
	}

	if limits.MaxNewPositionsPerCycle > 0 {
		ok, err := g.riskRepo.ReserveCyclePosition(ctx, accountID, cycleRunID, limits.MaxNewPositionsPerCycle)
		if err != nil {
			return nil, err
		}
		values["max_new_positions_per_cycle"] = float64(limits.MaxNewPositionsPerCycle)
		if !ok {
			return &dto.RiskDecision{Allowed: false, Reason: "max_new_positions_per_cycle", Values: values}, nil
		}
	}

	if limits.DailyNotionalLimit > 0 {
		ok, err := g.riskRepo.ReserveNotional(ctx, accountID, notional, limits.DailyNotionalLimit)
		if err != nil {
			return nil, err
		}
		values["daily_notional_limit"] = limits.DailyNotionalLimit
		if !ok {
			// The cycle slot taken above is not consumed by a blocked entry.
			if limits.MaxNewPositionsPerCycle > 0 {
				if relErr := g.riskRepo.ReleaseCyclePosition(ctx, accountID, cycleRunID); relErr != nil {
					g.log.WarnContext(ctx, "Failed to release cycle position slot", logger.ErrorField(relErr))
				}
			}
			return &dto.RiskDecision{Allowed: false, Reason: "daily_notional_limit", Values: values}, nil
		}
	}

	return &dto.RiskDecision{Allowed: true, Values: values}, nil
}

// ReleaseEntry gives back what ValidateEntry reserved: the per-cycle position
// slot and the daily notional. Only counters that were actually reserved
// under the account's limits are decremented.
func (g *riskGate) ReleaseEntry(ctx context.Context, accountID uint, cycleRunID string, notional float64) error {
	limits, err := g.riskRepo.GetLimits(ctx, accountID)
	if err != nil {
		if errors.Is(err, dto.ErrNotFound) {
			return nil
		}
		return err
	}

	if limits.MaxNewPositionsPerCycle > 0 {
		if err := g.riskRepo.ReleaseCyclePosition(ctx, accountID, cycleRunID); err != nil {
			return err
		}
	}
	if limits.DailyNotionalLimit > 0 {
		return g.riskRepo.ReleaseNotional(ctx, accountID, notional)
	}
	return nil
}
