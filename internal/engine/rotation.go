package engine

import (
	"fmt"
	"time"
)

// Clock returns the current wall-clock time.
type Clock func() time.Time

// HourKey identifies one UTC hour and therefore one storage unit.
type HourKey struct {
	Year  int
	Month time.Month
	Day   int
	Hour  int
}

// KeyFor returns the HourKey containing t.
func KeyFor(t time.Time) HourKey {
	t = t.UTC()
	return HourKey{Year: t.Year(), Month: t.Month(), Day: t.Day(), Hour: t.Hour()}
}

// String returns the unit base name: logs-{hour}-{day}-{month}-{year}.
func (k HourKey) String() string {
	return fmt.Sprintf("logs-%d-%d-%d-%d", k.Hour, k.Day, int(k.Month), k.Year)
}

// Start returns the first instant of the hour.
func (k HourKey) Start() time.Time {
	return time.Date(k.Year, k.Month, k.Day, k.Hour, 0, 0, 0, time.UTC)
}

// End returns the first instant after the hour.
func (k HourKey) End() time.Time {
	return k.Start().Add(time.Hour)
}

// ParseHourKey parses a unit base name produced by HourKey.String.
func ParseHourKey(name string) (HourKey, error) {
	var hour, day, month, year int
	if _, err := fmt.Sscanf(name, "logs-%d-%d-%d-%d", &hour, &day, &month, &year); err != nil {
		return HourKey{}, fmt.Errorf("invalid unit name %q: %w", name, err)
	}
	k := HourKey{Year: year, Month: time.Month(month), Day: day, Hour: hour}
	// Reject out-of-range parts and trailing garbage in one go.
	if KeyFor(k.Start()) != k || k.String() != name {
		return HourKey{}, fmt.Errorf("invalid unit name %q", name)
	}
	return k, nil
}

// Policy derives the current storage unit from processing time.
type Policy struct {
	now Clock
}

// NewPolicy creates a rotation policy. A nil clock means time.Now.
func NewPolicy(now Clock) *Policy {
	if now == nil {
		now = time.Now
	}
	return &Policy{now: now}
}

// CurrentKey returns the HourKey for the clock's current time.
func (p *Policy) CurrentKey() HourKey {
	return KeyFor(p.now())
}

// HasRolled reports whether the current hour differs from prev.
func (p *Policy) HasRolled(prev HourKey) bool {
	return p.CurrentKey() != prev
}
