package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang-options-engine/internal/engine/config"
	"golang-options-engine/internal/engine/dto"
	"golang-options-engine/internal/entity"
	"golang-options-engine/pkg/logger"

	"go.uber.org/zap"
)

func testLogger() *logger.Logger {
	return &logger.Logger{Logger: zap.NewNop()}
}

func testConfig() *config.Config {
	return &config.Config{
		Engine: config.Engine{
			MaxConcurrentEvaluations: 1,
			CycleLockTTL:             time.Minute,
			QuoteTimeout:             5 * time.Second,
			SignalTimeout:            5 * time.Second,
			ChainTimeout:             5 * time.Second,
			OrderTimeout:             5 * time.Second,
			DeltaTolerance:           0.05,
			LiquidityWeight:          1,
			SpreadWeight:             100,
			ExecutorMaxAttempts:      3,
			ExecutorInitialBackoff:   time.Millisecond,
		},
	}
}

type fakeAutomationRepo struct {
	mu          sync.Mutex
	automations map[uint]*entity.Automation
	getByIDErr  error
}

func newFakeAutomationRepo(automations ...*entity.Automation) *fakeAutomationRepo {
	r := &fakeAutomationRepo{automations: make(map[uint]*entity.Automation)}
	for _, a := range automations {
		r.automations[a.ID] = a
	}
	return r
}

func (r *fakeAutomationRepo) Get(_ context.Context, param dto.GetAutomationsParam) ([]entity.Automation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []entity.Automation
	for _, a := range r.automations {
		if len(param.IDs) > 0 {
			found := false
			for _, id := range param.IDs {
				if a.ID == id {
					found = true
				}
			}
			if !found {
				continue
			}
		}
		if param.AccountID != nil && a.AccountID != *param.AccountID {
			continue
		}
		if param.IsActive != nil && a.IsActive != *param.IsActive {
			continue
		}
		result = append(result, *a)
	}
	for i := 0; i < len(result); i++ {
		for j := i + 1; j < len(result); j++ {
			if result[j].ID < result[i].ID {
				result[i], result[j] = result[j], result[i]
			}
		}
	}
	return result, nil
}

func (r *fakeAutomationRepo) GetByID(_ context.Context, id uint) (*entity.Automation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getByIDErr != nil {
		return nil, r.getByIDErr
	}
	a, ok := r.automations[id]
	if !ok {
		return nil, dto.ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (r *fakeAutomationRepo) RecordExecution(_ context.Context, id uint, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.automations[id]
	if !ok {
		return dto.ErrNotFound
	}
	a.ExecutionCount++
	a.LastExecutedAt = &at
	a.Version++
	return nil
}

func (r *fakeAutomationRepo) SetPaused(_ context.Context, id uint, version int, paused bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.automations[id]
	if !ok || a.Version != version {
		return dto.ErrVersionConflict
	}
	a.IsPaused = paused
	a.Version++
	return nil
}

type fakePositionRepo struct {
	mu        sync.Mutex
	positions map[uint]*entity.Position
	nextID    uint
	createErr error
}

func newFakePositionRepo(positions ...*entity.Position) *fakePositionRepo {
	r := &fakePositionRepo{positions: make(map[uint]*entity.Position), nextID: 100}
	for _, p := range positions {
		r.positions[p.ID] = p
	}
	return r
}

func (r *fakePositionRepo) Get(_ context.Context, param dto.GetPositionsParam) ([]entity.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []entity.Position
	for _, p := range r.positions {
		if len(param.IDs) > 0 {
			found := false
			for _, id := range param.IDs {
				if p.ID == id {
					found = true
				}
			}
			if !found {
				continue
			}
		}
		if param.AccountID != nil && p.AccountID != *param.AccountID {
			continue
		}
		if param.AutomationID != nil && (p.AutomationID == nil || *p.AutomationID != *param.AutomationID) {
			continue
		}
		if len(param.Statuses) > 0 {
			found := false
			for _, s := range param.Statuses {
				if p.Status == s {
					found = true
				}
			}
			if !found {
				continue
			}
		}
		result = append(result, *p)
	}
	for i := 0; i < len(result); i++ {
		for j := i + 1; j < len(result); j++ {
			if result[j].ID < result[i].ID {
				result[i], result[j] = result[j], result[i]
			}
		}
	}
	return result, nil
}

func (r *fakePositionRepo) CountOpen(_ context.Context, accountID uint) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, p := range r.positions {
		if p.AccountID == accountID && p.Status == entity.PositionStatusOpen {
			count++
		}
	}
	return count, nil
}

func (r *fakePositionRepo) CountOpenForAutomation(_ context.Context, automationID uint) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, p := range r.positions {
		if p.AutomationID != nil && *p.AutomationID == automationID && p.Status == entity.PositionStatusOpen {
			count++
		}
	}
	return count, nil
}

func (r *fakePositionRepo) Create(_ context.Context, position *entity.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.nextID++
	position.ID = r.nextID
	if position.Version == 0 {
		position.Version = 1
	}
	copied := *position
	r.positions[position.ID] = &copied
	return nil
}

func (r *fakePositionRepo) Transition(_ context.Context, id uint, version int, status entity.PositionStatus, closeReason string, closedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.positions[id]
	if !ok || p.Version != version {
		return dto.ErrVersionConflict
	}
	p.Status = status
	p.CloseReason = closeReason
	p.ClosedAt = closedAt
	p.Version++
	return nil
}

func (r *fakePositionRepo) UpdateCurrentPrice(_ context.Context, id uint, price float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.positions[id]
	if !ok {
		return dto.ErrNotFound
	}
	p.CurrentPrice = price
	return nil
}

func (r *fakePositionRepo) get(id uint) entity.Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.positions[id]
}

type fakeTradeRepo struct {
	mu     sync.Mutex
	trades []*entity.Trade
	keys   map[string]*entity.Trade
	nextID uint
	// lookupMisses makes that many GetByIdempotencyKey calls miss, simulating
	// a concurrent submission consuming the key between lookup and insert.
	lookupMisses int
}

func newFakeTradeRepo() *fakeTradeRepo {
	return &fakeTradeRepo{keys: make(map[string]*entity.Trade)}
}

func (r *fakeTradeRepo) GetByIdempotencyKey(_ context.Context, key string) (*entity.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lookupMisses > 0 {
		r.lookupMisses--
		return nil, dto.ErrNotFound
	}
	trade, ok := r.keys[key]
	if !ok {
		return nil, dto.ErrNotFound
	}
	copied := *trade
	return &copied, nil
}

func (r *fakeTradeRepo) CreateFilled(_ context.Context, trade *entity.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.keys[trade.IdempotencyKey]; exists {
		return fmt.Errorf("duplicate key value violates unique constraint")
	}
	r.nextID++
	trade.ID = r.nextID
	copied := *trade
	r.trades = append(r.trades, &copied)
	r.keys[trade.IdempotencyKey] = &copied
	return nil
}

func (r *fakeTradeRepo) CreateFailed(_ context.Context, trade *entity.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	trade.ID = r.nextID
	copied := *trade
	r.trades = append(r.trades, &copied)
	return nil
}

func (r *fakeTradeRepo) all() []*entity.Trade {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*entity.Trade{}, r.trades...)
}

type brokerResponse struct {
	result *dto.BrokerOrderResult
	err    error
}

// fakeBrokerRepo replays a scripted sequence of responses; the last response
// repeats once the script is exhausted.
type fakeBrokerRepo struct {
	mu        sync.Mutex
	responses []brokerResponse
	orders    []*dto.OrderRequest
}

func (r *fakeBrokerRepo) SubmitOrder(_ context.Context, order *dto.OrderRequest) (*dto.BrokerOrderResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *order
	r.orders = append(r.orders, &copied)

	idx := len(r.orders) - 1
	if idx >= len(r.responses) {
		idx = len(r.responses) - 1
	}
	resp := r.responses[idx]
	return resp.result, resp.err
}

func (r *fakeBrokerRepo) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

type fakeSignalRepo struct {
	signals map[string]*dto.Signal
	err     error
}

func (r *fakeSignalRepo) GetSignal(_ context.Context, symbol string) (*dto.Signal, error) {
	if r.err != nil {
		return nil, r.err
	}
	signal, ok := r.signals[symbol]
	if !ok {
		return nil, dto.ErrUnavailable
	}
	return signal, nil
}

type fakeMarketDataRepo struct {
	mu          sync.Mutex
	quotes      map[string]float64
	quoteErr    error
	expirations []time.Time
	expErr      error
	chain       []dto.OptionCandidate
	chainErr    error
	chainCalls  int
}

func (r *fakeMarketDataRepo) GetQuote(_ context.Context, symbol string) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.quoteErr != nil {
		return 0, r.quoteErr
	}
	price, ok := r.quotes[symbol]
	if !ok {
		return 0, dto.ErrUnavailable
	}
	return price, nil
}

func (r *fakeMarketDataRepo) GetExpirations(_ context.Context, _ string) ([]time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.expErr != nil {
		return nil, r.expErr
	}
	return r.expirations, nil
}

func (r *fakeMarketDataRepo) GetChain(_ context.Context, _ string, _ time.Time) ([]dto.OptionCandidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chainCalls++
	if r.chainErr != nil {
		return nil, r.chainErr
	}
	return r.chain, nil
}

type fakeRiskRepo struct {
	mu           sync.Mutex
	limits       *entity.RiskLimits
	limitsErr    error
	realizedLoss float64
	notionalUsed float64
	cycleCounts  map[string]int
}

func newFakeRiskRepo(limits *entity.RiskLimits) *fakeRiskRepo {
	return &fakeRiskRepo{limits: limits, cycleCounts: make(map[string]int)}
}

func (r *fakeRiskRepo) GetLimits(_ context.Context, _ uint) (*entity.RiskLimits, error) {
	if r.limitsErr != nil {
		return nil, r.limitsErr
	}
	if r.limits == nil {
		return nil, dto.ErrNotFound
	}
	return r.limits, nil
}

func (r *fakeRiskRepo) DailyRealizedLoss(_ context.Context, _ uint) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.realizedLoss, nil
}

func (r *fakeRiskRepo) ReserveNotional(_ context.Context, _ uint, notional, limit float64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.notionalUsed+notional > limit {
		return false, nil
	}
	r.notionalUsed += notional
	return true, nil
}

func (r *fakeRiskRepo) ReleaseNotional(_ context.Context, _ uint, notional float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notionalUsed -= notional
	return nil
}

func (r *fakeRiskRepo) ReserveCyclePosition(_ context.Context, _ uint, cycleRunID string, max int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cycleCounts[cycleRunID]+1 > max {
		return false, nil
	}
	r.cycleCounts[cycleRunID]++
	return true, nil
}

func (r *fakeRiskRepo) ReleaseCyclePosition(_ context.Context, _ uint, cycleRunID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycleCounts[cycleRunID]--
	return nil
}

type fakeRiskGate struct {
	mu             sync.Mutex
	forceLiquidate bool
	forceErr       error
	decision       *dto.RiskDecision
	validateErr    error
	released       []float64
}

func (g *fakeRiskGate) ShouldForceLiquidate(_ context.Context, _ uint) (bool, error) {
	return g.forceLiquidate, g.forceErr
}

func (g *fakeRiskGate) ValidateEntry(_ context.Context, _ uint, _ string, _ float64) (*dto.RiskDecision, error) {
	if g.validateErr != nil {
		return nil, g.validateErr
	}
	if g.decision != nil {
		return g.decision, nil
	}
	return &dto.RiskDecision{Allowed: true}, nil
}

func (g *fakeRiskGate) ReleaseEntry(_ context.Context, _ uint, _ string, notional float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.released = append(g.released, notional)
	return nil
}

type executorResponse struct {
	result *dto.ExecutionResult
	err    error
}

type fakeExecutor struct {
	mu        sync.Mutex
	responses []executorResponse
	orders    []*dto.OrderRequest
}

func (e *fakeExecutor) Execute(_ context.Context, order *dto.OrderRequest) (*dto.ExecutionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	copied := *order
	e.orders = append(e.orders, &copied)

	idx := len(e.orders) - 1
	if idx >= len(e.responses) {
		idx = len(e.responses) - 1
	}
	resp := e.responses[idx]
	return resp.result, resp.err
}

func (e *fakeExecutor) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.orders)
}

type fakeLockRepo struct {
	mu         sync.Mutex
	held       map[uint]string
	acquireErr error
}

func newFakeLockRepo() *fakeLockRepo {
	return &fakeLockRepo{held: make(map[uint]string)}
}

func (r *fakeLockRepo) Acquire(_ context.Context, accountID uint, owner string, _ time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.acquireErr != nil {
		return false, r.acquireErr
	}
	if _, taken := r.held[accountID]; taken {
		return false, nil
	}
	r.held[accountID] = owner
	return true, nil
}

func (r *fakeLockRepo) Release(_ context.Context, accountID uint, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.held[accountID] == owner {
		delete(r.held, accountID)
	}
	return nil
}

func (r *fakeLockRepo) holder(accountID uint) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.held[accountID]
	return owner, ok
}

type fakeCycleRunRepo struct {
	mu        sync.Mutex
	runs      []*entity.CycleRun
	createErr error
}

func (r *fakeCycleRunRepo) Create(_ context.Context, run *entity.CycleRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	copied := *run
	r.runs = append(r.runs, &copied)
	return nil
}

func (r *fakeCycleRunRepo) GetLatest(_ context.Context, accountID uint) (*entity.CycleRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *entity.CycleRun
	for _, run := range r.runs {
		if run.AccountID != accountID {
			continue
		}
		if latest == nil || run.StartedAt.After(latest.StartedAt) {
			latest = run
		}
	}
	if latest == nil {
		return nil, dto.ErrNotFound
	}
	copied := *latest
	return &copied, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) SendMessage(text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

type scriptedMonitor struct {
	fn func(position *entity.Position) entity.DiagnosticEntry
}

func (m *scriptedMonitor) Evaluate(_ context.Context, position *entity.Position, _ *entity.Automation, _ string, _ time.Time) entity.DiagnosticEntry {
	return m.fn(position)
}

type scriptedScanner struct {
	fn func(automation *entity.Automation) entity.DiagnosticEntry
}

func (s *scriptedScanner) Evaluate(_ context.Context, automation *entity.Automation, _ string, _ time.Time) entity.DiagnosticEntry {
	return s.fn(automation)
}
