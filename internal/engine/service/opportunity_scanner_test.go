package service

import (
	"context"
	"testing"
	"time"

	"golang-options-engine/internal/engine/dto"
	"golang-options-engine/internal/entity"
	"golang-options-engine/pkg/common"
	"golang-options-engine/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scannerFixture struct {
	scanner     OpportunityScanner
	automations *fakeAutomationRepo
	positions   *fakePositionRepo
	marketData  *fakeMarketDataRepo
	signals     *fakeSignalRepo
	riskGate    *fakeRiskGate
	executor    *fakeExecutor
}

func newScannerFixture(automation *entity.Automation, now time.Time) *scannerFixture {
	cfg := testConfig()
	log := testLogger()

	automations := newFakeAutomationRepo(automation)
	positions := newFakePositionRepo()
	marketData := &fakeMarketDataRepo{
		expirations: []time.Time{now.AddDate(0, 0, 28), now.AddDate(0, 0, 60)},
		chain: []dto.OptionCandidate{
			{
				Symbol:       "AAPL250718C00200000",
				OptionType:   entity.OptionTypeCall,
				Strike:       200,
				Expiration:   now.AddDate(0, 0, 28),
				Bid:          1.95,
				Ask:          2.05,
				Volume:       500,
				OpenInterest: 1000,
				Delta:        0.48,
			},
		},
	}
	signals := &fakeSignalRepo{signals: map[string]*dto.Signal{
		"AAPL": {
			Symbol:            "AAPL",
			Confidence:        0.45,
			Direction:         dto.DirectionBullish,
			RecommendedAction: dto.ActionBuyCall,
			GeneratedAt:       now,
		},
	}}
	riskGate := &fakeRiskGate{}
	executor := &fakeExecutor{responses: []executorResponse{
		{result: &dto.ExecutionResult{Status: dto.ExecutionStatusFilled, TradeID: 1, FillPrice: 2.05, FillQuantity: 2}},
	}}

	selector := NewOptionSelector(cfg, log)
	scanner := NewOpportunityScanner(cfg, log, automations, positions, marketData, signals, selector, riskGate, executor)

	return &scannerFixture{
		scanner:     scanner,
		automations: automations,
		positions:   positions,
		marketData:  marketData,
		signals:     signals,
		riskGate:    riskGate,
		executor:    executor,
	}
}

func newScannerAutomation() *entity.Automation {
	return &entity.Automation{
		ID:              7,
		AccountID:       1,
		Symbol:          "AAPL",
		Strategy:        entity.StrategyLongCall,
		MinConfidence:   0.30,
		ProfitTargetPct: 25,
		StopLossPct:     20,
		MaxHoldDays:     5,
		PreferredDTE:    30,
		MinVolume:       100,
		MinOpenInterest: 500,
		MaxSpreadPct:    10,
		Quantity:        2,
		MaxPositions:    5,
		IsActive:        true,
		Version:         1,
	}
}

func TestScannerEntersPosition(t *testing.T) {
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	automation := newScannerAutomation()
	fixture := newScannerFixture(automation, now)

	entry := fixture.scanner.Evaluate(context.Background(), automation, "run-1", now)

	assert.Equal(t, entity.OutcomeEntered, entry.Outcome)
	assert.Equal(t, 0.45, entry.Values["confidence"])
	assert.Equal(t, 2.05, entry.Values["fill_price"])

	require.Equal(t, 1, fixture.executor.calls())
	order := fixture.executor.orders[0]
	assert.Equal(t, dto.BuyOrderKey(automation.ID, "run-1"), order.IdempotencyKey)
	assert.Equal(t, entity.TradeSideBuy, order.Side)
	assert.Equal(t, 2, order.Quantity)
	assert.Equal(t, 2.05, order.LimitPrice)

	opened, err := fixture.positions.Get(context.Background(), dto.GetPositionsParam{AutomationID: &automation.ID})
	require.NoError(t, err)
	require.Len(t, opened, 1)
	assert.Equal(t, entity.PositionStatusOpen, opened[0].Status)
	assert.Equal(t, 2.05, opened[0].EntryPrice)
	assert.Equal(t, 2, opened[0].Quantity)

	recorded, err := fixture.automations.GetByID(context.Background(), automation.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, recorded.ExecutionCount)
	require.NotNil(t, recorded.LastExecutedAt)
}

func TestScannerGateOrdering(t *testing.T) {
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		prepare func(automation *entity.Automation, fixture *scannerFixture)
		gate    string
		outcome string
	}{
		{
			name: "paused automation",
			prepare: func(a *entity.Automation, f *scannerFixture) {
				a.IsPaused = true
			},
			gate:    common.GateInactive,
			outcome: entity.OutcomeSkipped,
		},
		{
			name: "inactive automation",
			prepare: func(a *entity.Automation, f *scannerFixture) {
				a.IsActive = false
			},
			gate:    common.GateInactive,
			outcome: entity.OutcomeSkipped,
		},
		{
			name: "position already open",
			prepare: func(a *entity.Automation, f *scannerFixture) {
				f.positions.Create(context.Background(), &entity.Position{
					AccountID:    a.AccountID,
					AutomationID: &a.ID,
					Status:       entity.PositionStatusOpen,
				})
			},
			gate:    common.GatePositionExists,
			outcome: entity.OutcomeSkipped,
		},
		{
			name: "account at max positions",
			prepare: func(a *entity.Automation, f *scannerFixture) {
				a.MaxPositions = 1
				f.positions.Create(context.Background(), &entity.Position{
					AccountID:    a.AccountID,
					AutomationID: utils.ToPointer(uint(99)),
					Status:       entity.PositionStatusOpen,
				})
			},
			gate:    common.GateMaxPositionsReached,
			outcome: entity.OutcomeSkipped,
		},
		{
			name: "signal unavailable",
			prepare: func(a *entity.Automation, f *scannerFixture) {
				f.signals.err = dto.ErrUnavailable
			},
			gate:    common.GateSignalUnavailable,
			outcome: entity.OutcomeSkipped,
		},
		{
			name: "signal recommends hold",
			prepare: func(a *entity.Automation, f *scannerFixture) {
				f.signals.signals["AAPL"].RecommendedAction = dto.ActionHold
			},
			gate:    common.GateSignalHold,
			outcome: entity.OutcomeSkipped,
		},
		{
			name: "confidence below threshold",
			prepare: func(a *entity.Automation, f *scannerFixture) {
				a.MinConfidence = 0.60
			},
			gate:    common.GateConfidenceBelowThreshold,
			outcome: entity.OutcomeSkipped,
		},
		{
			name: "no expiration match",
			prepare: func(a *entity.Automation, f *scannerFixture) {
				f.marketData.expirations = nil
			},
			gate:    common.GateNoExpirationMatch,
			outcome: entity.OutcomeSkipped,
		},
		{
			name: "chain unavailable",
			prepare: func(a *entity.Automation, f *scannerFixture) {
				f.marketData.chainErr = dto.ErrUnavailable
			},
			gate:    common.GateChainUnavailable,
			outcome: entity.OutcomeSkipped,
		},
		{
			name: "no suitable option",
			prepare: func(a *entity.Automation, f *scannerFixture) {
				a.MinOpenInterest = 1_000_000
			},
			gate:    common.GateNoSuitableOption,
			outcome: entity.OutcomeSkipped,
		},
		{
			name: "risk limit blocked",
			prepare: func(a *entity.Automation, f *scannerFixture) {
				f.riskGate.decision = &dto.RiskDecision{Allowed: false, Reason: "daily_notional_limit"}
			},
			gate:    common.GateRiskLimitBlocked,
			outcome: entity.OutcomeSkipped,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			automation := newScannerAutomation()
			fixture := newScannerFixture(automation, now)
			tt.prepare(automation, fixture)
			fixture.automations.automations[automation.ID] = automation

			entry := fixture.scanner.Evaluate(context.Background(), automation, "run-1", now)

			assert.Equal(t, tt.outcome, entry.Outcome)
			assert.Equal(t, tt.gate, entry.Gate)
			assert.Zero(t, fixture.executor.calls())
		})
	}
}

func TestScannerConfidenceGateBeatsSelectionGate(t *testing.T) {
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	automation := newScannerAutomation()
	automation.MinConfidence = 0.60
	fixture := newScannerFixture(automation, now)
	// An empty chain would also skip; confidence must be reported because its
	// gate runs first, and the chain is never fetched.
	fixture.marketData.chain = nil

	entry := fixture.scanner.Evaluate(context.Background(), automation, "run-1", now)

	assert.Equal(t, common.GateConfidenceBelowThreshold, entry.Gate)
	assert.Equal(t, 0.45, entry.Values["confidence"])
	assert.Equal(t, 0.60, entry.Values["min_confidence"])
	assert.Zero(t, fixture.marketData.chainCalls)
}

func TestScannerBearishSignalSelectsPut(t *testing.T) {
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	automation := newScannerAutomation()
	fixture := newScannerFixture(automation, now)
	fixture.signals.signals["AAPL"].Direction = dto.DirectionBearish
	fixture.signals.signals["AAPL"].RecommendedAction = dto.ActionBuyPut
	fixture.marketData.chain = []dto.OptionCandidate{
		{
			Symbol:       "AAPL250718P00195000",
			OptionType:   entity.OptionTypePut,
			Strike:       195,
			Expiration:   now.AddDate(0, 0, 28),
			Bid:          1.45,
			Ask:          1.55,
			Volume:       400,
			OpenInterest: 800,
			Delta:        -0.45,
		},
	}

	entry := fixture.scanner.Evaluate(context.Background(), automation, "run-1", now)

	assert.Equal(t, entity.OutcomeEntered, entry.Outcome)
	opened, err := fixture.positions.Get(context.Background(), dto.GetPositionsParam{AutomationID: &automation.ID})
	require.NoError(t, err)
	require.Len(t, opened, 1)
	assert.Equal(t, entity.OptionTypePut, opened[0].OptionType)
}

func TestScannerPausedBeforeSubmit(t *testing.T) {
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	automation := newScannerAutomation()
	fixture := newScannerFixture(automation, now)

	// Pause lands after the evaluation loaded the automation but before the
	// order is submitted: the stored row has moved on.
	stored := fixture.automations.automations[automation.ID]
	stored.IsPaused = true
	stored.Version++
	stale := *automation

	entry := fixture.scanner.Evaluate(context.Background(), &stale, "run-1", now)

	assert.Equal(t, entity.OutcomeSkipped, entry.Outcome)
	assert.Equal(t, common.GateInactive, entry.Gate)
	assert.Equal(t, common.GatePausedBeforeSubmit, entry.Error)
	assert.Zero(t, fixture.executor.calls())

	// The risk reservation made before the re-read is handed back.
	require.Len(t, fixture.riskGate.released, 1)
	assert.InDelta(t, 2.05*2*100, fixture.riskGate.released[0], 0.001)

	opened, err := fixture.positions.Get(context.Background(), dto.GetPositionsParam{AutomationID: &automation.ID})
	require.NoError(t, err)
	assert.Empty(t, opened)
}

func TestScannerAlreadyExecutedSkips(t *testing.T) {
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	automation := newScannerAutomation()
	fixture := newScannerFixture(automation, now)
	fixture.executor.responses = []executorResponse{
		{result: &dto.ExecutionResult{Status: dto.ExecutionStatusAlreadyExecuted, TradeID: 42}},
	}

	entry := fixture.scanner.Evaluate(context.Background(), automation, "run-1", now)

	assert.Equal(t, entity.OutcomeSkipped, entry.Outcome)
	assert.Equal(t, common.GatePositionExists, entry.Gate)
	assert.Equal(t, 42.0, entry.Values["trade_id"])
	assert.Len(t, fixture.riskGate.released, 1)

	opened, err := fixture.positions.Get(context.Background(), dto.GetPositionsParam{AutomationID: &automation.ID})
	require.NoError(t, err)
	assert.Empty(t, opened)
}

func TestScannerExecutionFailure(t *testing.T) {
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	automation := newScannerAutomation()
	fixture := newScannerFixture(automation, now)
	fixture.executor.responses = []executorResponse{
		{result: &dto.ExecutionResult{Status: dto.ExecutionStatusFailed, Error: "external service unavailable"}, err: dto.ErrUnavailable},
	}

	entry := fixture.scanner.Evaluate(context.Background(), automation, "run-1", now)

	assert.Equal(t, entity.OutcomeError, entry.Outcome)
	assert.Equal(t, common.GateExecutionFailed, entry.Gate)
	assert.NotEmpty(t, entry.Error)
	assert.Len(t, fixture.riskGate.released, 1)

	opened, err := fixture.positions.Get(context.Background(), dto.GetPositionsParam{AutomationID: &automation.ID})
	require.NoError(t, err)
	assert.Empty(t, opened)

	recorded, err := fixture.automations.GetByID(context.Background(), automation.ID)
	require.NoError(t, err)
	assert.Zero(t, recorded.ExecutionCount)
}

func TestScannerPartialFillOpensPositionWithFilledQuantity(t *testing.T) {
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	automation := newScannerAutomation()
	fixture := newScannerFixture(automation, now)
	fixture.executor.responses = []executorResponse{
		{result: &dto.ExecutionResult{Status: dto.ExecutionStatusPartiallyFilled, TradeID: 1, FillPrice: 2.04, FillQuantity: 1}},
	}

	entry := fixture.scanner.Evaluate(context.Background(), automation, "run-1", now)

	assert.Equal(t, entity.OutcomeEntered, entry.Outcome)
	assert.Equal(t, 1.0, entry.Values["fill_quantity"])

	opened, err := fixture.positions.Get(context.Background(), dto.GetPositionsParam{AutomationID: &automation.ID})
	require.NoError(t, err)
	require.Len(t, opened, 1)
	assert.Equal(t, 1, opened[0].Quantity)
	assert.Equal(t, 2.04, opened[0].EntryPrice)
}
