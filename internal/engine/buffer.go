package engine

import (
	"slices"

	"github.com/coffersTech/logstore/internal/model"
)

// Buffer holds the records of the current hour in arrival order.
// It is sorted only when a snapshot is taken for persistence.
//
// Buffer is not safe for concurrent use; Engine serializes access.
type Buffer struct {
	records []model.LogRecord
}

// NewBuffer initializes a Buffer with pre-allocated capacity.
func NewBuffer() *Buffer {
	return &Buffer{records: make([]model.LogRecord, 0, 4096)}
}

// Append adds a record at the end.
func (b *Buffer) Append(rec model.LogRecord) {
	b.records = append(b.records, rec)
}

// Load replaces the contents with records, e.g. a unit read back at startup.
func (b *Buffer) Load(records []model.LogRecord) {
	b.records = append(b.records[:0], records...)
}

// Len returns the number of records.
func (b *Buffer) Len() int {
	return len(b.records)
}

// Reset clears all records for memory reuse.
func (b *Buffer) Reset() {
	clear(b.records)
	b.records = b.records[:0]
}

// Snapshot sorts the buffer by timestamp and returns a copy.
// The sort is stable so records with equal timestamps keep arrival order.
func (b *Buffer) Snapshot() []model.LogRecord {
	slices.SortStableFunc(b.records, func(x, y model.LogRecord) int {
		return x.Timestamp.Compare(y.Timestamp)
	})
	return slices.Clone(b.records)
}

// CountByType returns the number of buffered records per event type name.
func (b *Buffer) CountByType() map[string]int {
	counts := make(map[string]int)
	for _, rec := range b.records {
		counts[rec.EventType.String()]++
	}
	return counts
}
