package engine

import "time"

// SystemStats contains high-level engine state for the stats API.
type SystemStats struct {
	Unit          string         `json:"unit"`           // e.g. "logs-9-16-10-2026"
	Buffered      int            `json:"buffered"`       // records held for the current hour
	EventTypes    map[string]int `json:"event_types"`    // e.g. "ERROR": 12
	WriterState   string         `json:"writer_state"`   // idle, writing, writing+pending
	PendingHours  int            `json:"pending_hours"`  // past hours waiting to be written
	Ingested      int64          `json:"ingested"`       // records accepted since start
	Writes        int64          `json:"writes"`         // physical writes attempted
	WriteFailures int64          `json:"write_failures"` // writes that failed
	Rotations     int64          `json:"rotations"`      // hour rollovers since start
	LastWriteAt   *time.Time     `json:"last_write_at,omitempty"`
	LastError     string         `json:"last_error,omitempty"`
}

// GetStats returns a consistent snapshot of the engine state.
func (e *Engine) GetStats() SystemStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := SystemStats{
		Unit:          e.key.String(),
		Buffered:      e.buf.Len(),
		EventTypes:    e.buf.CountByType(),
		WriterState:   e.coord.State().String(),
		PendingHours:  len(e.retired),
		Ingested:      e.ingested,
		Writes:        e.writes,
		WriteFailures: e.writeFailures,
		Rotations:     e.rotations,
	}
	if !e.lastWriteAt.IsZero() {
		at := e.lastWriteAt
		stats.LastWriteAt = &at
	}
	if e.lastErr != nil {
		stats.LastError = e.lastErr.Error()
	}
	return stats
}
