package common

// Gate names recorded in cycle diagnostics. Each skip carries exactly one of
// these, matching the order the gates are evaluated in.
const (
	// Entry gates, in evaluation order.
	GateInactive                 = "inactive"
	GatePositionExists           = "position_exists"
	GateMaxPositionsReached      = "max_positions_reached"
	GateSignalUnavailable        = "signal_unavailable"
	GateExpirationsUnavailable   = "expirations_unavailable"
	GateChainUnavailable         = "chain_unavailable"
	GateSignalHold               = "signal_hold"
	GateConfidenceBelowThreshold = "confidence_below_threshold"
	GateNoExpirationMatch        = "no_expiration_match"
	GateNoSuitableOption         = "no_suitable_option"
	GateRiskLimitBlocked         = "risk_limit_blocked"
	GatePausedBeforeSubmit       = "paused_before_submit"
	GateExecutionFailed          = "execution_failed"

	// Exit gates.
	GatePriceUnavailable = "price_unavailable"
	GateNoExitCondition  = "no_exit_condition"
	GateVersionConflict  = "version_conflict"

	// Cycle-level diagnostics.
	GateEvaluationError = "evaluation_error"
	GateCycleInProgress = "cycle_in_progress"
)

// Redis key prefixes.
const (
	RedisKeyCycleLock        = "engine.cycle.lock"
	RedisKeyDailyNotional    = "engine.risk.daily_notional"
	RedisKeyDailyLoss        = "engine.risk.daily_loss"
	RedisKeyCyclePositions   = "engine.risk.cycle_positions"
)
