package service

import (
	"context"
	"errors"
	"time"

	"golang-options-engine/internal/engine/config"
	"golang-options-engine/internal/engine/dto"
	"golang-options-engine/internal/engine/repository"
	"golang-options-engine/internal/entity"
	"golang-options-engine/pkg/common"
	"golang-options-engine/pkg/logger"
)

// PositionMonitor evaluates one open position for exit. Exit rules run in
// fixed priority order and the first match wins: risk_override, stop_loss,
// profit_target, max_hold_days. A stale or missing quote always skips; it
// never triggers an exit.
type PositionMonitor interface {
	Evaluate(ctx context.Context, position *entity.Position, automation *entity.Automation, cycleRunID string, now time.Time) entity.DiagnosticEntry
}

type positionMonitor struct {
	cfg          *config.Config
	log          *logger.Logger
	positionRepo repository.PositionRepository
	marketData   repository.MarketDataRepository
	riskGate     RiskGate
	executor     TradeExecutor
}

func NewPositionMonitor(
	cfg *config.Config,
	log *logger.Logger,
	positionRepo repository.PositionRepository,
	marketData repository.MarketDataRepository,
	riskGate RiskGate,
	executor TradeExecutor,
) PositionMonitor {
	return &positionMonitor{
		cfg:          cfg,
		log:          log,
		positionRepo: positionRepo,
		marketData:   marketData,
		riskGate:     riskGate,
		executor:     executor,
	}
}

func (m *positionMonitor) Evaluate(ctx context.Context, position *entity.Position, automation *entity.Automation, cycleRunID string, now time.Time) entity.DiagnosticEntry {
	quoteCtx, cancel := context.WithTimeout(ctx, m.cfg.Engine.QuoteTimeout)
	price, err := m.marketData.GetQuote(quoteCtx, position.OptionSymbol)
	cancel()
	if err != nil {
		m.log.WarnContext(ctx, "Quote unavailable, skipping position",
			logger.IntField("position_id", int(position.ID)),
			logger.StringField("option_symbol", position.OptionSymbol),
			logger.ErrorField(err))
		return entity.DiagnosticEntry{
			Kind:     entity.DiagnosticKindPosition,
			EntityID: position.ID,
			Outcome:  entity.OutcomeSkipped,
			Gate:     common.GatePriceUnavailable,
			Error:    err.Error(),
		}
	}

	if err := m.positionRepo.UpdateCurrentPrice(ctx, position.ID, price); err != nil {
		m.log.WarnContext(ctx, "Failed to persist current price", logger.IntField("position_id", int(position.ID)), logger.ErrorField(err))
	}

	plPct := position.UnrealizedPLPct(price)
	heldDays := position.HeldDays(now)
	values := map[string]float64{
		"current_price": price,
		"entry_price":   position.EntryPrice,
		"pl_pct":        plPct,
		"held_days":     float64(heldDays),
	}

	reason := m.exitReason(ctx, position, automation, plPct, heldDays, values)
	if reason == "" {
		return entity.DiagnosticEntry{
			Kind:     entity.DiagnosticKindPosition,
			EntityID: position.ID,
			Outcome:  entity.OutcomeSkipped,
			Gate:     common.GateNoExitCondition,
			Values:   values,
		}
	}

	return m.exit(ctx, position, cycleRunID, reason, price, values, now)
}

// exitReason applies the exit rules in priority order and returns the first
// matching close reason, or empty when none match. The ordering is a
// contract: a position breaching stop loss and max hold simultaneously is
// always recorded as stop_loss.
func (m *positionMonitor) exitReason(ctx context.Context, position *entity.Position, automation *entity.Automation, plPct float64, heldDays int, values map[string]float64) string {
	forced, err := m.riskGate.ShouldForceLiquidate(ctx, position.AccountID)
	if err != nil {
		m.log.WarnContext(ctx, "Risk override check failed, continuing with rule evaluation",
			logger.IntField("position_id", int(position.ID)),
			logger.ErrorField(err))
	}
	if forced {
		return entity.CloseReasonRiskOverride
	}

	if automation == nil {
		// Manually opened positions carry no exit thresholds.
		return ""
	}

	values["stop_loss_pct"] = automation.StopLossPct
	values["profit_target_pct"] = automation.ProfitTargetPct
	values["max_hold_days"] = float64(automation.MaxHoldDays)

	if automation.StopLossPct > 0 && plPct <= -automation.StopLossPct {
		return entity.CloseReasonStopLoss
	}
	if automation.ProfitTargetPct > 0 && plPct >= automation.ProfitTargetPct {
		return entity.CloseReasonProfitTarget
	}
	if automation.MaxHoldDays > 0 && heldDays >= automation.MaxHoldDays {
		return entity.CloseReasonMaxHoldDays
	}
	return ""
}

func (m *positionMonitor) exit(ctx context.Context, position *entity.Position, cycleRunID, reason string, price float64, values map[string]float64, now time.Time) entity.DiagnosticEntry {
	version, ok := m.markClosing(ctx, position)
	if !ok {
		return entity.DiagnosticEntry{
			Kind:     entity.DiagnosticKindPosition,
			EntityID: position.ID,
			Outcome:  entity.OutcomeSkipped,
			Gate:     common.GateVersionConflict,
			Values:   values,
		}
	}

	order := &dto.OrderRequest{
		IdempotencyKey: dto.SellOrderKey(position.ID, cycleRunID),
		AccountID:      position.AccountID,
		AutomationID:   position.AutomationID,
		PositionID:     &position.ID,
		Symbol:         position.Symbol,
		OptionSymbol:   position.OptionSymbol,
		Side:           entity.TradeSideSell,
		Quantity:       position.Quantity,
		LimitPrice:     price,
	}

	// The position's terminal state must be persisted even when the cycle is
	// cancelled while the order is in flight.
	persistCtx := context.WithoutCancel(ctx)

	result, err := m.executor.Execute(ctx, order)
	if err != nil || result.Status == dto.ExecutionStatusFailed {
		// Leave the position open; the next cycle re-evaluates it.
		if revertErr := m.positionRepo.Transition(persistCtx, position.ID, version+1, entity.PositionStatusOpen, "", nil); revertErr != nil {
			m.log.ErrorContext(ctx, "Failed to revert position to open after execution failure",
				logger.IntField("position_id", int(position.ID)),
				logger.ErrorField(revertErr))
		}
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		}
		return entity.DiagnosticEntry{
			Kind:     entity.DiagnosticKindPosition,
			EntityID: position.ID,
			Outcome:  entity.OutcomeError,
			Gate:     common.GateExecutionFailed,
			Values:   values,
			Error:    errMsg,
		}
	}

	closedAt := now
	if err := m.positionRepo.Transition(persistCtx, position.ID, version+1, entity.PositionStatusClosed, reason, &closedAt); err != nil {
		m.log.ErrorContext(ctx, "Failed to mark position closed after fill",
			logger.IntField("position_id", int(position.ID)),
			logger.StringField("close_reason", reason),
			logger.ErrorField(err))
	}

	values["fill_price"] = result.FillPrice
	m.log.InfoContext(ctx, "Position exited",
		logger.IntField("position_id", int(position.ID)),
		logger.StringField("close_reason", reason),
		logger.Float64Field("pl_pct", values["pl_pct"]))

	return entity.DiagnosticEntry{
		Kind:     entity.DiagnosticKindPosition,
		EntityID: position.ID,
		Outcome:  entity.OutcomeExited,
		Gate:     reason,
		Values:   values,
	}
}

// markClosing transitions the position to closing with its known version and
// retries once on a conflict, re-reading the row. A position no longer open
// (e.g. closed manually mid-cycle) is left alone.
func (m *positionMonitor) markClosing(ctx context.Context, position *entity.Position) (int, bool) {
	version := position.Version
	err := m.positionRepo.Transition(ctx, position.ID, version, entity.PositionStatusClosing, "", nil)
	if err == nil {
		return version, true
	}
	if !errors.Is(err, dto.ErrVersionConflict) {
		m.log.ErrorContext(ctx, "Failed to mark position closing", logger.IntField("position_id", int(position.ID)), logger.ErrorField(err))
		return 0, false
	}

	fresh, err := m.positionRepo.Get(ctx, dto.GetPositionsParam{IDs: []uint{position.ID}})
	if err != nil || len(fresh) == 0 || fresh[0].Status != entity.PositionStatusOpen {
		return 0, false
	}

	version = fresh[0].Version
	if err := m.positionRepo.Transition(ctx, position.ID, version, entity.PositionStatusClosing, "", nil); err != nil {
		return 0, false
	}
	return version, true
}
