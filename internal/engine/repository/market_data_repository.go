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
	"golang-options-engine/internal/entity"
	"golang-options-engine/pkg/logger"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// MarketDataRepository is the client for the market data gateway.
type MarketDataRepository interface {
	GetQuote(ctx context.Context, symbol string) (float64, error)
	GetExpirations(ctx context.Context, symbol string) ([]time.Time, error)
	GetChain(ctx context.Context, symbol string, expiration time.Time) ([]dto.OptionCandidate, error)
}

type marketDataRepository struct {
	cfg            *config.Config
	log            *logger.Logger
	httpClient     *http.Client
	requestLimiter *rate.Limiter
	inmemoryCache  *cache.Cache
}

func NewMarketDataRepository(cfg *config.Config, log *logger.Logger) MarketDataRepository {
	secondsPerRequest := time.Minute / time.Duration(cfg.MarketData.MaxRequestPerMinute)
	requestLimiter := rate.NewLimiter(rate.Every(secondsPerRequest), 1)
	return &marketDataRepository{
		cfg: cfg,
		log: log,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		requestLimiter: requestLimiter,
		inmemoryCache:  cache.New(cfg.MarketData.ExpirationsCacheTTL, 10*time.Minute),
	}
}

type quoteResponse struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

func (r *marketDataRepository) GetQuote(ctx context.Context, symbol string) (float64, error) {
	url := fmt.Sprintf("%s/v1/quotes/%s", r.cfg.MarketData.BaseURL, symbol)
	body, err := r.sendRequest(ctx, url)
	if err != nil {
		return 0, err
	}

	var resp quoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("failed to decode quote response: %w", err)
	}
	if resp.Price <= 0 {
		return 0, fmt.Errorf("%w: no price for %s", dto.ErrUnavailable, symbol)
	}
	return resp.Price, nil
}

type expirationsResponse struct {
	Symbol      string   `json:"symbol"`
	Expirations []string `json:"expirations"`
}

func (r *marketDataRepository) GetExpirations(ctx context.Context, symbol string) ([]time.Time, error) {
	cacheKey := "expirations:" + symbol
	if cached, found := r.inmemoryCache.Get(cacheKey); found {
		return cached.([]time.Time), nil
	}

	url := fmt.Sprintf("%s/v1/options/%s/expirations", r.cfg.MarketData.BaseURL, symbol)
	body, err := r.sendRequest(ctx, url)
	if err != nil {
		return nil, err
	}

	var resp expirationsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode expirations response: %w", err)
	}

	expirations := make([]time.Time, 0, len(resp.Expirations))
	for _, raw := range resp.Expirations {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			r.log.WarnContext(ctx, "Skipping unparseable expiration", logger.StringField("symbol", symbol), logger.StringField("value", raw))
			continue
		}
		expirations = append(expirations, t)
	}

	r.inmemoryCache.Set(cacheKey, expirations, r.cfg.MarketData.ExpirationsCacheTTL)
	return expirations, nil
}

type chainEntry struct {
	Symbol       string  `json:"symbol"`
	Type         string  `json:"type"`
	Strike       float64 `json:"strike"`
	Bid          float64 `json:"bid"`
	Ask          float64 `json:"ask"`
	Volume       int64   `json:"volume"`
	OpenInterest int64   `json:"open_interest"`
	Delta        float64 `json:"delta"`
}

type chainResponse struct {
	Symbol  string       `json:"symbol"`
	Options []chainEntry `json:"options"`
}

func (r *marketDataRepository) GetChain(ctx context.Context, symbol string, expiration time.Time) ([]dto.OptionCandidate, error) {
	expStr := expiration.Format("2006-01-02")
	cacheKey := "chain:" + symbol + ":" + expStr
	if cached, found := r.inmemoryCache.Get(cacheKey); found {
		return cached.([]dto.OptionCandidate), nil
	}

	url := fmt.Sprintf("%s/v1/options/%s/chain?expiration=%s", r.cfg.MarketData.BaseURL, symbol, expStr)
	body, err := r.sendRequest(ctx, url)
	if err != nil {
		return nil, err
	}

	var resp chainResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode chain response: %w", err)
	}

	candidates := make([]dto.OptionCandidate, 0, len(resp.Options))
	for _, o := range resp.Options {
		optionType := entity.OptionTypeCall
		if o.Type == "put" {
			optionType = entity.OptionTypePut
		}
		candidates = append(candidates, dto.OptionCandidate{
			Symbol:       o.Symbol,
			OptionType:   optionType,
			Strike:       o.Strike,
			Expiration:   expiration,
			Bid:          o.Bid,
			Ask:          o.Ask,
			Volume:       o.Volume,
			OpenInterest: o.OpenInterest,
			Delta:        o.Delta,
		})
	}

	r.inmemoryCache.Set(cacheKey, candidates, r.cfg.MarketData.ChainCacheTTL)
	return candidates, nil
}

func (r *marketDataRepository) sendRequest(ctx context.Context, url string) ([]byte, error) {
	if err := r.requestLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", dto.ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.log.ErrorContext(ctx, "Market data request failed", logger.StringField("url", url), logger.ErrorField(err))
		return nil, fmt.Errorf("%w: %v", dto.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, dto.ErrInvalidSymbol
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, dto.ErrRateLimited
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: status %d", dto.ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dto.ErrUnavailable, err)
	}
	return body, nil
}
