package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"golang-options-engine/internal/engine/dto"
	"golang-options-engine/internal/engine/repository"
	"golang-options-engine/internal/engine/service"
	"golang-options-engine/internal/entity"
	"golang-options-engine/pkg/logger"

	"github.com/labstack/echo/v4"
)

// EngineHandler exposes the engine control and diagnostics API.
type EngineHandler struct {
	manager        service.EngineManager
	orchestrator   service.CycleOrchestrator
	automationRepo repository.AutomationRepository
	cycleRunRepo   repository.CycleRunRepository
	logger         *logger.Logger
}

// NewEngineHandler creates a new EngineHandler.
func NewEngineHandler(
	manager service.EngineManager,
	orchestrator service.CycleOrchestrator,
	automationRepo repository.AutomationRepository,
	cycleRunRepo repository.CycleRunRepository,
	logger *logger.Logger,
) *EngineHandler {
	return &EngineHandler{
		manager:        manager,
		orchestrator:   orchestrator,
		automationRepo: automationRepo,
		cycleRunRepo:   cycleRunRepo,
		logger:         logger,
	}
}

// RegisterRoutes registers the engine routes to the Echo group.
func (h *EngineHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/accounts/:id/start", h.StartEngine)
	g.POST("/accounts/:id/stop", h.StopEngine)
	g.POST("/accounts/:id/cycles", h.RunCycleNow)
	g.GET("/accounts/:id/cycles/latest", h.GetLatestCycleRun)
	g.POST("/automations/:id/pause", h.PauseAutomation)
	g.POST("/automations/:id/resume", h.ResumeAutomation)
}

func parseID(c echo.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	return uint(id), err
}

// StartEngine starts the cycle loop for an account.
func (h *EngineHandler) StartEngine(c echo.Context) error {
	accountID, err := parseID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid account ID"})
	}

	if err := h.manager.Start(accountID); err != nil {
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, echo.Map{"account_id": accountID, "running": true})
}

// StopEngine stops the cycle loop for an account. The in-flight item, if any,
// finishes before the loop exits.
func (h *EngineHandler) StopEngine(c echo.Context) error {
	accountID, err := parseID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid account ID"})
	}

	if err := h.manager.Stop(accountID); err != nil {
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, echo.Map{"account_id": accountID, "running": false})
}

// RunCycleNow runs one cycle synchronously and returns its diagnostics. It
// follows the identical code path as the timer trigger.
func (h *EngineHandler) RunCycleNow(c echo.Context) error {
	accountID, err := parseID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid account ID"})
	}

	run, err := h.orchestrator.RunCycle(c.Request().Context(), accountID, entity.CycleTriggerManual, time.Now())
	if err != nil {
		h.logger.Error("Manual cycle failed", logger.ErrorField(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}

	if run.Status == entity.CycleRunStatusRejected {
		return c.JSON(http.StatusConflict, run)
	}
	return c.JSON(http.StatusOK, run)
}

// GetLatestCycleRun returns the most recent cycle run for an account.
func (h *EngineHandler) GetLatestCycleRun(c echo.Context) error {
	accountID, err := parseID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid account ID"})
	}

	run, err := h.cycleRunRepo.GetLatest(c.Request().Context(), accountID)
	if err != nil {
		if errors.Is(err, dto.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "No cycle runs for account"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, run)
}

// PauseAutomation pauses an automation with a version check, retrying once on
// a conflict.
func (h *EngineHandler) PauseAutomation(c echo.Context) error {
	return h.setPaused(c, true)
}

// ResumeAutomation resumes a paused automation.
func (h *EngineHandler) ResumeAutomation(c echo.Context) error {
	return h.setPaused(c, false)
}

func (h *EngineHandler) setPaused(c echo.Context, paused bool) error {
	id, err := parseID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid automation ID"})
	}
	ctx := c.Request().Context()

	for attempt := 0; attempt < 2; attempt++ {
		automation, err := h.automationRepo.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, dto.ErrNotFound) {
				return c.JSON(http.StatusNotFound, echo.Map{"error": "Automation not found"})
			}
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
		}

		err = h.automationRepo.SetPaused(ctx, id, automation.Version, paused)
		if err == nil {
			return c.JSON(http.StatusOK, echo.Map{"id": id, "is_paused": paused})
		}
		if !errors.Is(err, dto.ErrVersionConflict) {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
		}
	}

	return c.JSON(http.StatusConflict, echo.Map{"error": "Automation was modified concurrently"})
}
