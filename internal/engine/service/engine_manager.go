package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang-options-engine/internal/engine/config"
	"golang-options-engine/internal/entity"
	"golang-options-engine/pkg/logger"
	"golang-options-engine/pkg/utils"

	"github.com/robfig/cron/v3"
)

// EngineManager owns the per-account timer loops. Each started account gets
// one goroutine firing cycles on the configured cron schedule; stopping an
// account cancels its loop context, which lets the in-flight item finish and
// halts before the next one.
type EngineManager interface {
	Start(accountID uint) error
	Stop(accountID uint) error
	Running(accountID uint) bool
	Shutdown()
}

type engineManager struct {
	cfg          *config.Config
	log          *logger.Logger
	orchestrator CycleOrchestrator
	schedule     cron.Schedule

	mu       sync.Mutex
	accounts map[uint]context.CancelFunc
	wg       sync.WaitGroup
	baseCtx  context.Context
	baseStop context.CancelFunc
}

// NewEngineManager parses the cycle schedule (standard five-field cron, e.g.
// "*/5 9-16 * * 1-5" for every five minutes during market hours).
func NewEngineManager(cfg *config.Config, log *logger.Logger, orchestrator CycleOrchestrator) (EngineManager, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(cfg.Engine.CycleSchedule)
	if err != nil {
		return nil, fmt.Errorf("invalid cycle schedule %q: %w", cfg.Engine.CycleSchedule, err)
	}

	baseCtx, baseStop := context.WithCancel(context.Background())
	return &engineManager{
		cfg:          cfg,
		log:          log,
		orchestrator: orchestrator,
		schedule:     schedule,
		accounts:     make(map[uint]context.CancelFunc),
		baseCtx:      baseCtx,
		baseStop:     baseStop,
	}, nil
}

func (m *engineManager) Start(accountID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, running := m.accounts[accountID]; running {
		return fmt.Errorf("engine already running for account %d", accountID)
	}

	loopCtx, cancel := context.WithCancel(m.baseCtx)
	m.accounts[accountID] = cancel

	m.wg.Add(1)
	utils.GoSafe(func() {
		defer m.wg.Done()
		m.runLoop(loopCtx, accountID)
	})

	m.log.Info("Engine started", logger.IntField("account_id", int(accountID)))
	return nil
}

func (m *engineManager) Stop(accountID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cancel, running := m.accounts[accountID]
	if !running {
		return fmt.Errorf("engine not running for account %d", accountID)
	}
	cancel()
	delete(m.accounts, accountID)

	m.log.Info("Engine stopped", logger.IntField("account_id", int(accountID)))
	return nil
}

func (m *engineManager) Running(accountID uint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, running := m.accounts[accountID]
	return running
}

// Shutdown stops all account loops and waits for in-flight cycles to finish.
func (m *engineManager) Shutdown() {
	m.mu.Lock()
	for id, cancel := range m.accounts {
		cancel()
		delete(m.accounts, id)
	}
	m.mu.Unlock()

	m.baseStop()
	m.wg.Wait()
}

func (m *engineManager) runLoop(ctx context.Context, accountID uint) {
	for {
		next := m.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			m.log.Info("Engine loop exiting", logger.IntField("account_id", int(accountID)))
			return
		case now := <-timer.C:
			if _, err := m.orchestrator.RunCycle(ctx, accountID, entity.CycleTriggerTimer, now); err != nil {
				m.log.Error("Cycle failed",
					logger.IntField("account_id", int(accountID)),
					logger.ErrorField(err))
			}
		}
	}
}
