package service

import (
	"encoding/json"
	"sync"

	"golang-options-engine/internal/entity"

	"gorm.io/datatypes"
)

// DiagnosticsCollector accumulates one entry per evaluated position and
// automation within a cycle. Safe for concurrent use by the evaluation
// workers.
type DiagnosticsCollector struct {
	mu      sync.Mutex
	entries []entity.DiagnosticEntry
}

func NewDiagnosticsCollector() *DiagnosticsCollector {
	return &DiagnosticsCollector{}
}

// Add appends an entry.
func (c *DiagnosticsCollector) Add(entry entity.DiagnosticEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

// Entries returns a copy of the accumulated entries.
func (c *DiagnosticsCollector) Entries() []entity.DiagnosticEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]entity.DiagnosticEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Count returns how many entries of the given kind were recorded.
func (c *DiagnosticsCollector) Count(kind string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// JSON marshals the entries for persistence on the cycle run row.
func (c *DiagnosticsCollector) JSON() (datatypes.JSON, error) {
	raw, err := json.Marshal(c.Entries())
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
