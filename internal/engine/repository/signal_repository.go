package repository

import (
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

// SignalRepository is the client for the signal generator.
type SignalRepository interface {
	GetSignal(ctx context.Context, symbol string) (*dto.Signal, error)
}

type signalRepository struct {
	cfg            *config.Config
	log            *logger.Logger
	httpClient     *http.Client
	requestLimiter *rate.Limiter
}

func NewSignalRepository(cfg *config.Config, log *logger.Logger) SignalRepository {
	secondsPerRequest := time.Minute / time.Duration(cfg.Signals.MaxRequestPerMinute)
	requestLimiter := rate.NewLimiter(rate.Every(secondsPerRequest), 1)
	return &signalRepository{
		cfg: cfg,
		log: log,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		requestLimiter: requestLimiter,
	}
}

type signalResponse struct {
	Symbol            string  `json:"symbol"`
	Confidence        float64 `json:"confidence"`
	Direction         string  `json:"direction"`
	RecommendedAction string  `json:"recommended_action"`
	GeneratedAt       string  `json:"generated_at"`
}

func (r *signalRepository) GetSignal(ctx context.Context, symbol string) (*dto.Signal, error) {
	if err := r.requestLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", dto.ErrUnavailable, err)
	}

	url := fmt.Sprintf("%s/v1/signals/%s", r.cfg.Signals.BaseURL, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.log.ErrorContext(ctx, "Signal request failed", logger.StringField("symbol", symbol), logger.ErrorField(err))
		return nil, fmt.Errorf("%w: %v", dto.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: status %d", dto.ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dto.ErrUnavailable, err)
	}

	var raw signalResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode signal response: %w", err)
	}

	signal := &dto.Signal{
		Symbol:            raw.Symbol,
		Confidence:        raw.Confidence,
		Direction:         raw.Direction,
		RecommendedAction: raw.RecommendedAction,
	}
	if t, err := time.Parse(time.RFC3339, raw.GeneratedAt); err == nil {
		signal.GeneratedAt = t
	}
	return signal, nil
}
