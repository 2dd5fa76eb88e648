package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// TimestampLayout is the JSON layout of LogRecord.Timestamp (always UTC, millisecond precision).
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// EventType is the device event severity as carried on the wire.
// Values outside the known set are kept as-is.
type EventType int32

const (
	EventInformation EventType = 0
	EventError       EventType = 1
	EventWarning     EventType = 2
)

var eventTypeNames = map[EventType]string{
	EventInformation: "INFORMATION",
	EventError:       "ERROR",
	EventWarning:     "WARNING",
}

// Known reports whether t is one of INFORMATION, ERROR or WARNING.
func (t EventType) Known() bool {
	_, ok := eventTypeNames[t]
	return ok
}

// String returns the canonical name, or the raw number for unknown values.
func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return strconv.Itoa(int(t))
}

// ParseEventType converts a canonical name into an EventType.
func ParseEventType(s string) (EventType, error) {
	for t, name := range eventTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown event type %q", s)
}

// MarshalJSON writes known values as strings and unknown values as numbers.
func (t EventType) MarshalJSON() ([]byte, error) {
	if name, ok := eventTypeNames[t]; ok {
		return json.Marshal(name)
	}
	return []byte(strconv.Itoa(int(t))), nil
}

// UnmarshalJSON accepts either form written by MarshalJSON.
func (t *EventType) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseEventType(s)
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	}
	var n int32
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("event type: %w", err)
	}
	*t = EventType(n)
	return nil
}

// LogRecord is one decoded device event.
type LogRecord struct {
	DeviceID     int32
	Timestamp    time.Time
	EventType    EventType
	EventMessage string
}

type recordJSON struct {
	DeviceID     int32     `json:"deviceId"`
	Timestamp    string    `json:"timeStamp"`
	EventType    EventType `json:"eventType"`
	EventMessage string    `json:"eventMessage"`
}

// MarshalJSON implements json.Marshaler. Timestamps outside years 1 to 9999 have
// no four-digit form and are rejected.
func (r LogRecord) MarshalJSON() ([]byte, error) {
	ts := r.Timestamp.UTC()
	if y := ts.Year(); y < 1 || y > 9999 {
		return nil, fmt.Errorf("timeStamp year %d out of range [1,9999]", y)
	}
	return json.Marshal(recordJSON{
		DeviceID:     r.DeviceID,
		Timestamp:    ts.Format(TimestampLayout),
		EventType:    r.EventType,
		EventMessage: r.EventMessage,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *LogRecord) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ts, err := time.Parse(time.RFC3339Nano, raw.Timestamp)
	if err != nil {
		return fmt.Errorf("timeStamp: %w", err)
	}
	*r = LogRecord{
		DeviceID:     raw.DeviceID,
		Timestamp:    ts.UTC().Truncate(time.Millisecond),
		EventType:    raw.EventType,
		EventMessage: raw.EventMessage,
	}
	return nil
}
