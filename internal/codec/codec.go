// Package codec converts between the SensorLogMessage protobuf wire format and model.LogRecord.
//
// The schema is small and fixed, so messages are read and written directly with protowire
// instead of generated types:
//
//	message SensorLogMessage {
//	  int32 sensor_id = 1;
//	  google.protobuf.Timestamp time_stamp = 2;
//	  EventType event_type = 3;   // INFORMATION = 0, ERROR = 1, WARNING = 2
//	  string event_message = 4;
//	}
package codec

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/coffersTech/logstore/internal/model"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	fieldSensorID     protowire.Number = 1
	fieldTimeStamp    protowire.Number = 2
	fieldEventType    protowire.Number = 3
	fieldEventMessage protowire.Number = 4

	fieldSeconds protowire.Number = 1
	fieldNanos   protowire.Number = 2

	maxNanos = 999_999_999
)

// Timestamps must fall within 0001-01-01T00:00:00Z to 9999-12-31T23:59:59Z, the
// range of google.protobuf.Timestamp. Stored units use a four-digit year.
const (
	MinSeconds int64 = -62135596800
	MaxSeconds int64 = 253402300799
)

// ErrMissingTimestamp is reported when a message carries no time_stamp field.
var ErrMissingTimestamp = errors.New("time_stamp is required")

// DecodeError describes a payload that is not a valid SensorLogMessage.
type DecodeError struct {
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("malformed message: %v", e.Err)
	}
	return fmt.Sprintf("malformed message: %s: %v", e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func malformed(field string, err error) error {
	return &DecodeError{Field: field, Err: err}
}

// Decode parses a binary SensorLogMessage into a LogRecord.
// Unknown fields are skipped and unknown event types are kept as raw numbers.
func Decode(raw []byte) (model.LogRecord, error) {
	var (
		rec     model.LogRecord
		seconds int64
		nanos   int32
		haveTs  bool
	)

	b := raw
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return model.LogRecord{}, malformed("", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldSensorID:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return model.LogRecord{}, malformed("sensor_id", err)
			}
			rec.DeviceID = int32(v)
			b = b[n:]
		case fieldEventType:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return model.LogRecord{}, malformed("event_type", err)
			}
			rec.EventType = model.EventType(int32(v))
			b = b[n:]
		case fieldEventMessage:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return model.LogRecord{}, malformed("event_message", err)
			}
			if !utf8.Valid(v) {
				return model.LogRecord{}, malformed("event_message", errors.New("invalid UTF-8"))
			}
			rec.EventMessage = string(v)
			b = b[n:]
		case fieldTimeStamp:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return model.LogRecord{}, malformed("time_stamp", err)
			}
			seconds, nanos, err = decodeTimestamp(v)
			if err != nil {
				return model.LogRecord{}, malformed("time_stamp", err)
			}
			haveTs = true
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return model.LogRecord{}, malformed(fmt.Sprintf("field %d", num), protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if !haveTs {
		return model.LogRecord{}, malformed("", ErrMissingTimestamp)
	}

	// Sub-millisecond precision is truncated, never rounded.
	rec.Timestamp = time.Unix(seconds, int64(nanos)).UTC().Truncate(time.Millisecond)
	return rec, nil
}

func decodeTimestamp(b []byte) (int64, int32, error) {
	var seconds int64
	var nanos int32
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, 0, protowire.ParseError(n)
		}
		b = b[n:]

		switch num {
		case fieldSeconds:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, 0, fmt.Errorf("seconds: %w", err)
			}
			seconds = int64(v)
			b = b[n:]
		case fieldNanos:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, 0, fmt.Errorf("nanos: %w", err)
			}
			nanos = int32(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return 0, 0, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	if seconds < MinSeconds || seconds > MaxSeconds {
		return 0, 0, fmt.Errorf("seconds %d out of range", seconds)
	}
	if nanos < 0 || nanos > maxNanos {
		return 0, 0, fmt.Errorf("nanos %d out of range", nanos)
	}
	return seconds, nanos, nil
}

func consumeVarint(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("unexpected wire type %d", typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("unexpected wire type %d", typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

// Encode serializes rec as a SensorLogMessage. Zero-valued scalar fields are
// omitted as proto3 does; time_stamp is always written.
func Encode(rec model.LogRecord) []byte {
	var b []byte
	if rec.DeviceID != 0 {
		b = protowire.AppendTag(b, fieldSensorID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(rec.DeviceID)))
	}

	var ts []byte
	if secs := rec.Timestamp.Unix(); secs != 0 {
		ts = protowire.AppendTag(ts, fieldSeconds, protowire.VarintType)
		ts = protowire.AppendVarint(ts, uint64(secs))
	}
	if nanos := rec.Timestamp.Nanosecond(); nanos != 0 {
		ts = protowire.AppendTag(ts, fieldNanos, protowire.VarintType)
		ts = protowire.AppendVarint(ts, uint64(nanos))
	}
	b = protowire.AppendTag(b, fieldTimeStamp, protowire.BytesType)
	b = protowire.AppendBytes(b, ts)

	if rec.EventType != 0 {
		b = protowire.AppendTag(b, fieldEventType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(rec.EventType)))
	}
	if rec.EventMessage != "" {
		b = protowire.AppendTag(b, fieldEventMessage, protowire.BytesType)
		b = protowire.AppendString(b, rec.EventMessage)
	}
	return b
}
