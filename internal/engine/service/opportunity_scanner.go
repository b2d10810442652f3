package service

import (
	"context"
	"time"

	"golang-options-engine/internal/engine/config"
	"golang-options-engine/internal/engine/dto"
	"golang-options-engine/internal/engine/repository"
	"golang-options-engine/internal/entity"
	"golang-options-engine/pkg/common"
	"golang-options-engine/pkg/logger"
)

// Option contracts cover 100 shares of the underlying.
const contractMultiplier = 100

// OpportunityScanner evaluates one automation for entry. Gates run in a fixed
// order and the first failing gate names the skip reason in diagnostics:
// activity, position limits, signal, expiration, chain, risk.
type OpportunityScanner interface {
	Evaluate(ctx context.Context, automation *entity.Automation, cycleRunID string, now time.Time) entity.DiagnosticEntry
}

type opportunityScanner struct {
	cfg            *config.Config
	log            *logger.Logger
	automationRepo repository.AutomationRepository
	positionRepo   repository.PositionRepository
	marketData     repository.MarketDataRepository
	signalRepo     repository.SignalRepository
	selector       *OptionSelector
	riskGate       RiskGate
	executor       TradeExecutor
}

func NewOpportunityScanner(
	cfg *config.Config,
	log *logger.Logger,
	automationRepo repository.AutomationRepository,
	positionRepo repository.PositionRepository,
	marketData repository.MarketDataRepository,
	signalRepo repository.SignalRepository,
	selector *OptionSelector,
	riskGate RiskGate,
	executor TradeExecutor,
) OpportunityScanner {
	return &opportunityScanner{
		cfg:            cfg,
		log:            log,
		automationRepo: automationRepo,
		positionRepo:   positionRepo,
		marketData:     marketData,
		signalRepo:     signalRepo,
		selector:       selector,
		riskGate:       riskGate,
		executor:       executor,
	}
}

func skip(automationID uint, gate string, values map[string]float64, errMsg string) entity.DiagnosticEntry {
	return entity.DiagnosticEntry{
		Kind:     entity.DiagnosticKindAutomation,
		EntityID: automationID,
		Outcome:  entity.OutcomeSkipped,
		Gate:     gate,
		Values:   values,
		Error:    errMsg,
	}
}

func (s *opportunityScanner) Evaluate(ctx context.Context, automation *entity.Automation, cycleRunID string, now time.Time) entity.DiagnosticEntry {
	// Gate 1: activity.
	if !automation.Eligible() {
		return skip(automation.ID, common.GateInactive, nil, "")
	}

	// Gate 2: position limits.
	openForAutomation, err := s.positionRepo.CountOpenForAutomation(ctx, automation.ID)
	if err != nil {
		return s.evaluationError(automation.ID, err)
	}
	if openForAutomation > 0 && !automation.AllowMultiplePositions {
		return skip(automation.ID, common.GatePositionExists, map[string]float64{"open_positions": float64(openForAutomation)}, "")
	}
	openForAccount, err := s.positionRepo.CountOpen(ctx, automation.AccountID)
	if err != nil {
		return s.evaluationError(automation.ID, err)
	}
	if automation.MaxPositions > 0 && openForAccount >= int64(automation.MaxPositions) {
		return skip(automation.ID, common.GateMaxPositionsReached, map[string]float64{
			"open_positions": float64(openForAccount),
			"max_positions":  float64(automation.MaxPositions),
		}, "")
	}

	// Gate 3: signal.
	signalCtx, cancel := context.WithTimeout(ctx, s.cfg.Engine.SignalTimeout)
	signal, err := s.signalRepo.GetSignal(signalCtx, automation.Symbol)
	cancel()
	if err != nil {
		return skip(automation.ID, common.GateSignalUnavailable, nil, err.Error())
	}
	if signal.RecommendedAction == dto.ActionHold {
		return skip(automation.ID, common.GateSignalHold, map[string]float64{"confidence": signal.Confidence}, "")
	}
	if signal.Confidence < automation.MinConfidence {
		return skip(automation.ID, common.GateConfidenceBelowThreshold, map[string]float64{
			"confidence":     signal.Confidence,
			"min_confidence": automation.MinConfidence,
		}, "")
	}
	optionType, ok := OptionTypeForDirection(signal.Direction)
	if !ok {
		return skip(automation.ID, common.GateSignalHold, map[string]float64{"confidence": signal.Confidence}, "")
	}

	// Gate 4: expiration.
	chainCtx, cancel := context.WithTimeout(ctx, s.cfg.Engine.ChainTimeout)
	expirations, err := s.marketData.GetExpirations(chainCtx, automation.Symbol)
	cancel()
	if err != nil {
		return skip(automation.ID, common.GateExpirationsUnavailable, nil, err.Error())
	}
	expiration, ok := s.selector.NearestExpiration(expirations, automation.PreferredDTE, now)
	if !ok {
		return skip(automation.ID, common.GateNoExpirationMatch, map[string]float64{"preferred_dte": float64(automation.PreferredDTE)}, "")
	}

	// Gate 5: chain.
	chainCtx, cancel = context.WithTimeout(ctx, s.cfg.Engine.ChainTimeout)
	chain, err := s.marketData.GetChain(chainCtx, automation.Symbol, expiration)
	cancel()
	if err != nil {
		return skip(automation.ID, common.GateChainUnavailable, nil, err.Error())
	}

	// Gate 6: selection.
	candidate, ok := s.selector.Select(chain, automation, optionType)
	if !ok {
		return skip(automation.ID, common.GateNoSuitableOption, map[string]float64{"chain_size": float64(len(chain))}, "")
	}

	// Gate 7: risk.
	quantity := automation.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	notional := candidate.Ask * float64(quantity) * contractMultiplier
	decision, err := s.riskGate.ValidateEntry(ctx, automation.AccountID, cycleRunID, notional)
	if err != nil {
		return s.evaluationError(automation.ID, err)
	}
	if !decision.Allowed {
		return skip(automation.ID, common.GateRiskLimitBlocked, decision.Values, decision.Reason)
	}

	// Re-read immediately before submitting: a pause or edit that landed
	// after this evaluation started must win.
	fresh, err := s.automationRepo.GetByID(ctx, automation.ID)
	if err != nil || fresh.Version != automation.Version || !fresh.Eligible() {
		s.releaseReservation(ctx, automation.AccountID, cycleRunID, notional)
		return skip(automation.ID, common.GateInactive, nil, common.GatePausedBeforeSubmit)
	}

	return s.enter(ctx, automation, signal, candidate, cycleRunID, quantity, notional, now)
}

func (s *opportunityScanner) enter(ctx context.Context, automation *entity.Automation, signal *dto.Signal, candidate *dto.OptionCandidate, cycleRunID string, quantity int, notional float64, now time.Time) entity.DiagnosticEntry {
	order := &dto.OrderRequest{
		IdempotencyKey: dto.BuyOrderKey(automation.ID, cycleRunID),
		AccountID:      automation.AccountID,
		AutomationID:   &automation.ID,
		Symbol:         automation.Symbol,
		OptionSymbol:   candidate.Symbol,
		Side:           entity.TradeSideBuy,
		Quantity:       quantity,
		LimitPrice:     candidate.Ask,
	}

	// Fills must be persisted even when the cycle is cancelled while the
	// order is in flight.
	persistCtx := context.WithoutCancel(ctx)

	result, err := s.executor.Execute(ctx, order)
	if err != nil || result.Status == dto.ExecutionStatusFailed {
		s.releaseReservation(ctx, automation.AccountID, cycleRunID, notional)
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		}
		return entity.DiagnosticEntry{
			Kind:     entity.DiagnosticKindAutomation,
			EntityID: automation.ID,
			Outcome:  entity.OutcomeError,
			Gate:     common.GateExecutionFailed,
			Error:    errMsg,
		}
	}

	// A duplicate key means a previous invocation of this cycle already
	// opened the position; do not open a second one.
	if result.Status == dto.ExecutionStatusAlreadyExecuted {
		s.releaseReservation(ctx, automation.AccountID, cycleRunID, notional)
		return entity.DiagnosticEntry{
			Kind:     entity.DiagnosticKindAutomation,
			EntityID: automation.ID,
			Outcome:  entity.OutcomeSkipped,
			Gate:     common.GatePositionExists,
			Values:   map[string]float64{"trade_id": float64(result.TradeID)},
		}
	}

	position := &entity.Position{
		AccountID:    automation.AccountID,
		AutomationID: &automation.ID,
		Symbol:       automation.Symbol,
		OptionSymbol: candidate.Symbol,
		OptionType:   candidate.OptionType,
		Strike:       candidate.Strike,
		Expiration:   candidate.Expiration,
		EntryPrice:   result.FillPrice,
		Quantity:     result.FillQuantity,
		CurrentPrice: result.FillPrice,
		Status:       entity.PositionStatusOpen,
		OpenedAt:     now,
	}
	if err := s.positionRepo.Create(persistCtx, position); err != nil {
		return s.evaluationError(automation.ID, err)
	}

	if err := s.automationRepo.RecordExecution(persistCtx, automation.ID, now); err != nil {
		s.log.ErrorContext(ctx, "Failed to record automation execution",
			logger.IntField("automation_id", int(automation.ID)),
			logger.ErrorField(err))
	}

	s.log.InfoContext(ctx, "Entered position",
		logger.IntField("automation_id", int(automation.ID)),
		logger.StringField("option_symbol", candidate.Symbol),
		logger.Float64Field("fill_price", result.FillPrice),
		logger.IntField("quantity", result.FillQuantity))

	return entity.DiagnosticEntry{
		Kind:     entity.DiagnosticKindAutomation,
		EntityID: automation.ID,
		Outcome:  entity.OutcomeEntered,
		Values: map[string]float64{
			"confidence":    signal.Confidence,
			"strike":        candidate.Strike,
			"fill_price":    result.FillPrice,
			"fill_quantity": float64(result.FillQuantity),
			"position_id":   float64(position.ID),
		},
	}
}

// releaseReservation hands back risk capacity reserved for an entry that did
// not open a position. Runs detached so a cancelled cycle still releases.
func (s *opportunityScanner) releaseReservation(ctx context.Context, accountID uint, cycleRunID string, notional float64) {
	if err := s.riskGate.ReleaseEntry(context.WithoutCancel(ctx), accountID, cycleRunID, notional); err != nil {
		s.log.WarnContext(ctx, "Failed to release risk reservation", logger.ErrorField(err))
	}
}

func (s *opportunityScanner) evaluationError(automationID uint, err error) entity.DiagnosticEntry {
	return entity.DiagnosticEntry{
		Kind:     entity.DiagnosticKindAutomation,
		EntityID: automationID,
		Outcome:  entity.OutcomeError,
		Gate:     common.GateEvaluationError,
		Error:    err.Error(),
	}
}
