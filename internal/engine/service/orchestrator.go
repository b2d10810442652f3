package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang-options-engine/internal/engine/config"
	"golang-options-engine/internal/engine/dto"
	"golang-options-engine/internal/engine/repository"
	"golang-options-engine/internal/entity"
	"golang-options-engine/pkg/common"
	"golang-options-engine/pkg/logger"
	"golang-options-engine/pkg/telegram"
	"golang-options-engine/pkg/utils"

	"github.com/google/uuid"
)

// CycleOrchestrator runs one decision cycle for an account: all open
// positions first, then all automations. Timer and manual triggers share this
// single code path. Cycles for the same account are serialized by a
// distributed lock; a trigger that loses the lock is recorded as rejected.
type CycleOrchestrator interface {
	RunCycle(ctx context.Context, accountID uint, trigger entity.CycleTrigger, now time.Time) (*entity.CycleRun, error)
}

type cycleOrchestrator struct {
	cfg            *config.Config
	log            *logger.Logger
	automationRepo repository.AutomationRepository
	positionRepo   repository.PositionRepository
	cycleRunRepo   repository.CycleRunRepository
	lockRepo       repository.CycleLockRepository
	monitor        PositionMonitor
	scanner        OpportunityScanner
	telegramBot    telegram.Notifier
}

func NewCycleOrchestrator(
	cfg *config.Config,
	log *logger.Logger,
	automationRepo repository.AutomationRepository,
	positionRepo repository.PositionRepository,
	cycleRunRepo repository.CycleRunRepository,
	lockRepo repository.CycleLockRepository,
	monitor PositionMonitor,
	scanner OpportunityScanner,
	telegramBot telegram.Notifier,
) CycleOrchestrator {
	return &cycleOrchestrator{
		cfg:            cfg,
		log:            log,
		automationRepo: automationRepo,
		positionRepo:   positionRepo,
		cycleRunRepo:   cycleRunRepo,
		lockRepo:       lockRepo,
		monitor:        monitor,
		scanner:        scanner,
		telegramBot:    telegramBot,
	}
}

func (o *cycleOrchestrator) RunCycle(ctx context.Context, accountID uint, trigger entity.CycleTrigger, now time.Time) (*entity.CycleRun, error) {
	runID := uuid.NewString()
	run := &entity.CycleRun{
		ID:        runID,
		AccountID: accountID,
		Trigger:   trigger,
		StartedAt: now,
	}

	lockTTL := o.cfg.Engine.CycleLockTTL
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}

	acquired, err := o.lockRepo.Acquire(ctx, accountID, runID, lockTTL)
	if err != nil {
		// Lock store down is fatal for this cycle; running unlocked could
		// double-execute.
		o.alertCycleFailure(accountID, err)
		return nil, fmt.Errorf("failed to acquire cycle lock: %w", err)
	}
	if !acquired {
		return o.rejectInProgress(ctx, run, now)
	}
	defer func() {
		if err := o.lockRepo.Release(context.WithoutCancel(ctx), accountID, runID); err != nil {
			o.log.ErrorContext(ctx, "Failed to release cycle lock",
				logger.IntField("account_id", int(accountID)),
				logger.ErrorField(err))
		}
	}()

	collector := NewDiagnosticsCollector()

	// Phase 1 completes before phase 2 starts: entry decisions consult the
	// open-position count positions exits just changed.
	positionsEvaluated := o.runPositionPhase(ctx, accountID, runID, now, collector)
	automationsEvaluated := o.runAutomationPhase(ctx, accountID, runID, now, collector)

	entries, err := collector.JSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal diagnostics: %w", err)
	}

	completedAt := time.Now()
	run.Status = entity.CycleRunStatusCompleted
	run.PositionsEvaluated = positionsEvaluated
	run.AutomationsEvaluated = automationsEvaluated
	run.Entries = entries
	run.CompletedAt = &completedAt

	if err := o.cycleRunRepo.Create(ctx, run); err != nil {
		o.alertCycleFailure(accountID, err)
		return nil, fmt.Errorf("failed to persist cycle run: %w", err)
	}

	o.log.InfoContext(ctx, "Cycle completed",
		logger.StringField("cycle_run_id", runID),
		logger.IntField("account_id", int(accountID)),
		logger.StringField("trigger", string(trigger)),
		logger.IntField("positions_evaluated", positionsEvaluated),
		logger.IntField("automations_evaluated", automationsEvaluated))

	return run, nil
}

func (o *cycleOrchestrator) rejectInProgress(ctx context.Context, run *entity.CycleRun, now time.Time) (*entity.CycleRun, error) {
	completedAt := now
	run.Status = entity.CycleRunStatusRejected
	run.CompletedAt = &completedAt

	collector := NewDiagnosticsCollector()
	collector.Add(entity.DiagnosticEntry{
		Kind:     entity.DiagnosticKindCycle,
		EntityID: run.AccountID,
		Outcome:  entity.OutcomeSkipped,
		Gate:     common.GateCycleInProgress,
	})
	entries, err := collector.JSON()
	if err != nil {
		return nil, err
	}
	run.Entries = entries

	if err := o.cycleRunRepo.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to persist rejected cycle run: %w", err)
	}

	o.log.WarnContext(ctx, "Cycle rejected, another cycle in flight",
		logger.IntField("account_id", int(run.AccountID)),
		logger.StringField("trigger", string(run.Trigger)))

	return run, nil
}

func (o *cycleOrchestrator) runPositionPhase(ctx context.Context, accountID uint, runID string, now time.Time, collector *DiagnosticsCollector) int {
	positions, err := o.positionRepo.Get(ctx, dto.GetPositionsParam{
		AccountID: &accountID,
		Statuses:  []entity.PositionStatus{entity.PositionStatusOpen},
	})
	if err != nil {
		o.log.ErrorContext(ctx, "Failed to load open positions", logger.ErrorField(err))
		collector.Add(entity.DiagnosticEntry{
			Kind:     entity.DiagnosticKindCycle,
			EntityID: accountID,
			Outcome:  entity.OutcomeError,
			Gate:     common.GateEvaluationError,
			Error:    err.Error(),
		})
		return 0
	}
	if len(positions) == 0 {
		return 0
	}

	automations := o.loadAutomationsByID(ctx, positions)

	evaluated := 0
	o.forEach(ctx, len(positions), func(i int) {
		position := positions[i]
		var automation *entity.Automation
		if position.AutomationID != nil {
			automation = automations[*position.AutomationID]
		}
		entry := o.safeEvaluate(entity.DiagnosticKindPosition, position.ID, func() entity.DiagnosticEntry {
			return o.monitor.Evaluate(ctx, &position, automation, runID, now)
		})
		collector.Add(entry)
	}, &evaluated)

	return evaluated
}

func (o *cycleOrchestrator) runAutomationPhase(ctx context.Context, accountID uint, runID string, now time.Time, collector *DiagnosticsCollector) int {
	automations, err := o.automationRepo.Get(ctx, dto.GetAutomationsParam{
		AccountID: &accountID,
		IsActive:  utils.ToPointer(true),
	})
	if err != nil {
		o.log.ErrorContext(ctx, "Failed to load automations", logger.ErrorField(err))
		collector.Add(entity.DiagnosticEntry{
			Kind:     entity.DiagnosticKindCycle,
			EntityID: accountID,
			Outcome:  entity.OutcomeError,
			Gate:     common.GateEvaluationError,
			Error:    err.Error(),
		})
		return 0
	}

	evaluated := 0
	o.forEach(ctx, len(automations), func(i int) {
		automation := automations[i]
		entry := o.safeEvaluate(entity.DiagnosticKindAutomation, automation.ID, func() entity.DiagnosticEntry {
			return o.scanner.Evaluate(ctx, &automation, runID, now)
		})
		collector.Add(entry)
	}, &evaluated)

	return evaluated
}

// forEach runs fn for each index with bounded concurrency. A cancelled
// context stops new items from being dispatched; in-flight items finish.
func (o *cycleOrchestrator) forEach(ctx context.Context, n int, fn func(i int), evaluated *int) {
	workers := o.cfg.Engine.MaxConcurrentEvaluations
	if workers <= 0 {
		workers = 1
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			o.log.WarnContext(ctx, "Cycle interrupted, remaining items not evaluated",
				logger.IntField("remaining", n-i))
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		*evaluated++
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(i)
		}(i)
	}

	wg.Wait()
}

// safeEvaluate captures a panic from one item as an evaluation_error entry so
// the rest of the cycle proceeds.
func (o *cycleOrchestrator) safeEvaluate(kind string, entityID uint, fn func() entity.DiagnosticEntry) (entry entity.DiagnosticEntry) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("Recovered from panic during evaluation",
				logger.StringField("kind", kind),
				logger.IntField("entity_id", int(entityID)),
				logger.Field("panic", r))
			entry = entity.DiagnosticEntry{
				Kind:     kind,
				EntityID: entityID,
				Outcome:  entity.OutcomeError,
				Gate:     common.GateEvaluationError,
				Error:    fmt.Sprintf("panic: %v", r),
			}
		}
	}()
	return fn()
}

func (o *cycleOrchestrator) loadAutomationsByID(ctx context.Context, positions []entity.Position) map[uint]*entity.Automation {
	ids := make([]uint, 0, len(positions))
	seen := make(map[uint]bool)
	for _, p := range positions {
		if p.AutomationID != nil && !seen[*p.AutomationID] {
			ids = append(ids, *p.AutomationID)
			seen[*p.AutomationID] = true
		}
	}

	result := make(map[uint]*entity.Automation, len(ids))
	if len(ids) == 0 {
		return result
	}

	automations, err := o.automationRepo.Get(ctx, dto.GetAutomationsParam{IDs: ids})
	if err != nil {
		o.log.ErrorContext(ctx, "Failed to load automations for positions", logger.ErrorField(err))
		return result
	}
	for i := range automations {
		result[automations[i].ID] = &automations[i]
	}
	return result
}

func (o *cycleOrchestrator) alertCycleFailure(accountID uint, err error) {
	msg := telegram.FormatCycleFailureMessage(time.Now(), accountID, err.Error())
	if sendErr := o.telegramBot.SendMessage(msg); sendErr != nil {
		o.log.Error("Failed to send cycle failure alert", logger.ErrorField(sendErr))
	}
}
