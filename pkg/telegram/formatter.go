package telegram

import (
	"fmt"
	"time"
)

// FormatExecutionFailureMessage formats an alert for an order that failed after
// all retry attempts were exhausted.
func FormatExecutionFailureMessage(at time.Time, accountID uint, symbol, side, idempotencyKey string, attempts int, errMsg string) string {
	return fmt.Sprintf(
		"🚨 *Order Execution Failed*\n"+
			"Time: %s\n"+
			"Account: %d\n"+
			"Symbol: `%s`\n"+
			"Side: %s\n"+
			"Attempts: %d\n"+
			"Key: `%s`\n"+
			"Error: %s",
		at.Format(time.RFC3339), accountID, symbol, side, attempts, idempotencyKey, errMsg,
	)
}

// FormatCycleFailureMessage formats an alert for a cycle that aborted entirely,
// e.g. when the lock store or database is unavailable.
func FormatCycleFailureMessage(at time.Time, accountID uint, errMsg string) string {
	return fmt.Sprintf(
		"⚠️ *Cycle Aborted*\n"+
			"Time: %s\n"+
			"Account: %d\n"+
			"Error: %s",
		at.Format(time.RFC3339), accountID, errMsg,
	)
}
