package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang-options-engine/internal/engine/config"
	"golang-options-engine/internal/engine/dto"
	"golang-options-engine/pkg/logger"

	"golang.org/x/time/rate"
)

// BrokerRepository is the client for the broker order API. Submission errors
// are mapped onto the dto taxonomy so the executor can tell transient
// failures (retry) from rejections (fail fast).
type BrokerRepository interface {
	SubmitOrder(ctx context.Context, order *dto.OrderRequest) (*dto.BrokerOrderResult, error)
}

type brokerRepository struct {
	cfg            *config.Config
	log            *logger.Logger
	httpClient     *http.Client
	requestLimiter *rate.Limiter
}

func NewBrokerRepository(cfg *config.Config, log *logger.Logger) BrokerRepository {
	secondsPerRequest := time.Minute / time.Duration(cfg.Broker.MaxRequestPerMinute)
	requestLimiter := rate.NewLimiter(rate.Every(secondsPerRequest), 1)
	return &brokerRepository{
		cfg: cfg,
		log: log,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		requestLimiter: requestLimiter,
	}
}

type submitOrderRequest struct {
	ClientOrderID string  `json:"client_order_id"`
	OptionSymbol  string  `json:"option_symbol"`
	Side          string  `json:"side"`
	Quantity      int     `json:"quantity"`
	LimitPrice    float64 `json:"limit_price"`
}

type submitOrderResponse struct {
	OrderID      string  `json:"order_id"`
	Status       string  `json:"status"`
	FillPrice    float64 `json:"fill_price"`
	FillQuantity int     `json:"fill_quantity"`
	Reason       string  `json:"reason"`
}

func (r *brokerRepository) SubmitOrder(ctx context.Context, order *dto.OrderRequest) (*dto.BrokerOrderResult, error) {
	if err := r.requestLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", dto.ErrUnavailable, err)
	}

	payload, err := json.Marshal(submitOrderRequest{
		ClientOrderID: order.IdempotencyKey,
		OptionSymbol:  order.OptionSymbol,
		Side:          string(order.Side),
		Quantity:      order.Quantity,
		LimitPrice:    order.LimitPrice,
	})
	if err != nil {
		return nil, err
	}

	url := r.cfg.Broker.BaseURL + "/v1/orders"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.cfg.Broker.APIKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.log.ErrorContext(ctx, "Order submission failed",
			logger.StringField("option_symbol", order.OptionSymbol),
			logger.StringField("side", string(order.Side)),
			logger.ErrorField(err))
		return nil, fmt.Errorf("%w: %v", dto.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, fmt.Errorf("%w: %v", dto.ErrUnavailable, readErr)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, dto.ErrRateLimited
	case resp.StatusCode == http.StatusUnprocessableEntity:
		var rejected submitOrderResponse
		_ = json.Unmarshal(body, &rejected)
		return nil, fmt.Errorf("%w: %s", dto.ErrOrderRejected, rejected.Reason)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: status %d", dto.ErrUnavailable, resp.StatusCode)
	}

	var raw submitOrderResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}
	if raw.Status == "rejected" {
		return nil, fmt.Errorf("%w: %s", dto.ErrOrderRejected, raw.Reason)
	}

	return &dto.BrokerOrderResult{
		OrderID:      raw.OrderID,
		Status:       raw.Status,
		FillPrice:    raw.FillPrice,
		FillQuantity: raw.FillQuantity,
	}, nil
}
