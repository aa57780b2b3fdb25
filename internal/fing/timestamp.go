package fing

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

// timestampLayouts are tried in order; the first that parses wins.
// Layouts without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02",
}

// ParseTimestamp converts an agent timestamp to UTC.
//
// Strings are matched against timestampLayouts. Numbers are POSIX seconds
// and may carry a fraction; magnitudes of millisecondThreshold and above are
// read as milliseconds. The second result is false when v is nil, an
// unparseable string, a time outside years 0 to 9999, or a type that is not
// a timestamp at all.
func ParseTimestamp(v any) (time.Time, bool) {
	switch val := v.(type) {
	case string:
		return parseTimestampString(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromUnix(f)
	case float64:
		return fromUnix(val)
	case int:
		return fromUnix(float64(val))
	case int64:
		return fromUnix(float64(val))
	case time.Time:
		if !inRange(val) {
			return time.Time{}, false
		}
		return val.UTC(), true
	default:
		return time.Time{}, false
	}
}

func parseTimestampString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// millisecondThreshold separates epoch seconds from epoch milliseconds.
// 1e11 seconds is in the year 5138; 1e11 milliseconds is in 1973.
const millisecondThreshold = 1e11

// Bounds of what RFC 3339 and time.Time.MarshalJSON can represent.
var (
	minTimestamp = time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC)
	maxTimestamp = time.Date(9999, 12, 31, 23, 59, 59, 999_999_999, time.UTC)
)

func inRange(t time.Time) bool {
	return !t.Before(minTimestamp) && !t.After(maxTimestamp)
}

func fromUnix(f float64) (time.Time, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	if math.Abs(f) >= millisecondThreshold {
		f /= 1000
	}
	if f < float64(minTimestamp.Unix()) || f > float64(maxTimestamp.Unix()) {
		return time.Time{}, false
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}

// TimestampValue resolves the value exposed by a timestamp attribute.
//
// A parseable value becomes a UTC time.Time. An unparseable string or a
// number outside the representable range becomes nil. Any other type is
// returned unchanged.
func TimestampValue(v any) any {
	if v == nil {
		return nil
	}
	if t, ok := ParseTimestamp(v); ok {
		return t
	}
	switch v.(type) {
	case string, json.Number, float64, int, int64, time.Time:
		return nil
	}
	return v
}
