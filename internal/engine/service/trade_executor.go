package service

import (
	"context"
	"errors"
	"time"

	"golang-options-engine/internal/engine/config"
	"golang-options-engine/internal/engine/dto"
	"golang-options-engine/internal/engine/repository"
	"golang-options-engine/internal/entity"
	"golang-options-engine/pkg/logger"
	"golang-options-engine/pkg/telegram"
)

// TradeExecutor submits orders with an at-most-once guarantee per idempotency
// key and bounded exponential backoff on transient broker failures. Exhausted
// orders are recorded as failed trades and alerted, never silently dropped.
type TradeExecutor interface {
	Execute(ctx context.Context, order *dto.OrderRequest) (*dto.ExecutionResult, error)
}

type tradeExecutor struct {
	cfg         *config.Config
	log         *logger.Logger
	brokerRepo  repository.BrokerRepository
	tradeRepo   repository.TradeRepository
	telegramBot telegram.Notifier
}

func NewTradeExecutor(
	cfg *config.Config,
	log *logger.Logger,
	brokerRepo repository.BrokerRepository,
	tradeRepo repository.TradeRepository,
	telegramBot telegram.Notifier,
) TradeExecutor {
	return &tradeExecutor{
		cfg:         cfg,
		log:         log,
		brokerRepo:  brokerRepo,
		tradeRepo:   tradeRepo,
		telegramBot: telegramBot,
	}
}

func (e *tradeExecutor) maxAttempts() int {
	if e.cfg.Engine.ExecutorMaxAttempts > 0 {
		return e.cfg.Engine.ExecutorMaxAttempts
	}
	return 3
}

func (e *tradeExecutor) initialBackoff() time.Duration {
	if e.cfg.Engine.ExecutorInitialBackoff > 0 {
		return e.cfg.Engine.ExecutorInitialBackoff
	}
	return time.Second
}

func (e *tradeExecutor) Execute(ctx context.Context, order *dto.OrderRequest) (*dto.ExecutionResult, error) {
	// Duplicate submissions with an already-consumed key short-circuit here.
	existing, err := e.tradeRepo.GetByIdempotencyKey(ctx, order.IdempotencyKey)
	if err != nil && !errors.Is(err, dto.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		e.log.InfoContext(ctx, "Order already executed, skipping submission",
			logger.StringField("idempotency_key", order.IdempotencyKey),
			logger.IntField("trade_id", int(existing.ID)))
		return &dto.ExecutionResult{
			Status:       dto.ExecutionStatusAlreadyExecuted,
			TradeID:      existing.ID,
			BrokerID:     existing.BrokerOrderID,
			FillPrice:    existing.FillPrice,
			FillQuantity: existing.FillQuantity,
		}, nil
	}

	// Once submitted, the broker may fill the order no matter what happens to
	// the cycle. The submit and the ledger write therefore run detached from
	// cycle cancellation; a stop is honored only between attempts.
	detached := context.WithoutCancel(ctx)

	var lastErr error
	maxAttempts := e.maxAttempts()
	backoff := e.initialBackoff()
	attempts := 0

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		orderCtx, cancel := context.WithTimeout(detached, e.cfg.Engine.OrderTimeout)
		result, err := e.brokerRepo.SubmitOrder(orderCtx, order)
		cancel()

		if err == nil {
			return e.recordFill(detached, order, result, attempts)
		}
		lastErr = err

		if errors.Is(err, dto.ErrOrderRejected) || !dto.Retryable(err) {
			e.log.ErrorContext(ctx, "Order rejected, not retrying",
				logger.StringField("idempotency_key", order.IdempotencyKey),
				logger.ErrorField(err))
			break
		}

		e.log.WarnContext(ctx, "Order submission failed, backing off",
			logger.StringField("idempotency_key", order.IdempotencyKey),
			logger.IntField("attempt", attempt),
			logger.Field("backoff", backoff),
			logger.ErrorField(err))

		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return e.recordFailure(detached, order, attempts, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return e.recordFailure(detached, order, attempts, lastErr)
}

func (e *tradeExecutor) recordFill(ctx context.Context, order *dto.OrderRequest, result *dto.BrokerOrderResult, attempts int) (*dto.ExecutionResult, error) {
	fillPrice := result.FillPrice
	if fillPrice <= 0 {
		fillPrice = order.LimitPrice
	}
	fillQuantity := result.FillQuantity
	if fillQuantity <= 0 {
		fillQuantity = order.Quantity
	}

	status := entity.TradeStatusFilled
	resultStatus := dto.ExecutionStatusFilled
	if fillQuantity < order.Quantity {
		status = entity.TradeStatusPartiallyFill
		resultStatus = dto.ExecutionStatusPartiallyFilled
	}

	trade := &entity.Trade{
		AccountID:         order.AccountID,
		AutomationID:      order.AutomationID,
		PositionID:        order.PositionID,
		IdempotencyKey:    order.IdempotencyKey,
		Symbol:            order.Symbol,
		OptionSymbol:      order.OptionSymbol,
		Side:              order.Side,
		Status:            status,
		RequestedQuantity: order.Quantity,
		FillQuantity:      fillQuantity,
		LimitPrice:        order.LimitPrice,
		FillPrice:         fillPrice,
		BrokerOrderID:     result.OrderID,
		Attempts:          attempts,
	}

	if err := e.tradeRepo.CreateFilled(ctx, trade); err != nil {
		// The key may have been consumed by a concurrent submission; resolve
		// to the winning trade rather than reporting a second fill.
		if winner, lookupErr := e.tradeRepo.GetByIdempotencyKey(ctx, order.IdempotencyKey); lookupErr == nil {
			return &dto.ExecutionResult{
				Status:       dto.ExecutionStatusAlreadyExecuted,
				TradeID:      winner.ID,
				BrokerID:     winner.BrokerOrderID,
				FillPrice:    winner.FillPrice,
				FillQuantity: winner.FillQuantity,
			}, nil
		}
		return nil, err
	}

	e.log.InfoContext(ctx, "Order filled",
		logger.StringField("idempotency_key", order.IdempotencyKey),
		logger.StringField("option_symbol", order.OptionSymbol),
		logger.StringField("side", string(order.Side)),
		logger.Float64Field("fill_price", fillPrice),
		logger.IntField("fill_quantity", fillQuantity))

	return &dto.ExecutionResult{
		Status:       resultStatus,
		TradeID:      trade.ID,
		BrokerID:     result.OrderID,
		FillPrice:    fillPrice,
		FillQuantity: fillQuantity,
		Attempts:     attempts,
	}, nil
}

func (e *tradeExecutor) recordFailure(ctx context.Context, order *dto.OrderRequest, attempts int, cause error) (*dto.ExecutionResult, error) {
	errMsg := "unknown error"
	if cause != nil {
		errMsg = cause.Error()
	}

	trade := &entity.Trade{
		AccountID:         order.AccountID,
		AutomationID:      order.AutomationID,
		PositionID:        order.PositionID,
		IdempotencyKey:    order.IdempotencyKey,
		Symbol:            order.Symbol,
		OptionSymbol:      order.OptionSymbol,
		Side:              order.Side,
		Status:            entity.TradeStatusFailed,
		RequestedQuantity: order.Quantity,
		LimitPrice:        order.LimitPrice,
		Attempts:          attempts,
		ErrorMessage:      errMsg,
	}
	if err := e.tradeRepo.CreateFailed(ctx, trade); err != nil {
		e.log.ErrorContext(ctx, "Failed to record failed trade", logger.ErrorField(err))
	}

	msg := telegram.FormatExecutionFailureMessage(time.Now(), order.AccountID, order.Symbol, string(order.Side), order.IdempotencyKey, attempts, errMsg)
	if err := e.telegramBot.SendMessage(msg); err != nil {
		e.log.ErrorContext(ctx, "Failed to send execution failure alert", logger.ErrorField(err))
	}

	return &dto.ExecutionResult{
		Status:   dto.ExecutionStatusFailed,
		TradeID:  trade.ID,
		Attempts: attempts,
		Error:    errMsg,
	}, cause
}
