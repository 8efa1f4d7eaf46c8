package models

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Record is a single parsed log line. It is either an *ActionRecord or an
// *EventRecord.
type Record interface {
	Stream() Stream
	Time() time.Time
	// Fields returns the record's wire fields, excluding stream tags.
	Fields() map[string]any
}

// ActionRecord is one line of actions.log.
type ActionRecord struct {
	Datetime time.Time `json:"datetime"`
	Status   string    `json:"status"`
	Source   string    `json:"source"`
	Action   string    `json:"action"`
	Target   string    `json:"target"`
}

var _ Record = (*ActionRecord)(nil)

func (r *ActionRecord) Stream() Stream  { return StreamAction }
func (r *ActionRecord) Time() time.Time { return r.Datetime }

func (r *ActionRecord) Fields() map[string]any {
	return map[string]any{
		"datetime": r.Datetime.UTC().Format(time.RFC3339Nano),
		"status":   r.Status,
		"source":   r.Source,
		"action":   r.Action,
		"target":   r.Target,
	}
}

// EventRecord is one line of raw_events.log.
type EventRecord struct {
	Base           string    `json:"base"`
	Type           string    `json:"type"`
	EventTimestamp time.Time `json:"event_timestamp"`
	Severity       string    `json:"severity"`
	EventID        string    `json:"event_id"`
	Node           string    `json:"node"`
	Line           string    `json:"line"`
}

var _ Record = (*EventRecord)(nil)

func (r *EventRecord) Stream() Stream  { return StreamEvents }
func (r *EventRecord) Time() time.Time { return r.EventTimestamp }

// Fields encodes event_timestamp as RFC3339 so the store does not have to
// guess the precision of a Unix float.
func (r *EventRecord) Fields() map[string]any {
	return map[string]any{
		"base":            r.Base,
		"type":            r.Type,
		"event_timestamp": r.EventTimestamp.UTC().Format(time.RFC3339Nano),
		"severity":        r.Severity,
		"event_id":        r.EventID,
		"node":            r.Node,
		"line":            r.Line,
	}
}

// Unix timestamps accepted by UnixSeconds: years 0001 through 9999, the
// range RFC 3339 can represent.
const (
	minUnixSeconds = -62135596800
	maxUnixSeconds = 253402300799
)

// UnixSeconds converts a Unix timestamp in fractional seconds to a UTC time
// with microsecond precision.
func UnixSeconds(ts float64) (time.Time, error) {
	if math.IsNaN(ts) || ts < minUnixSeconds || ts >= maxUnixSeconds+1 {
		return time.Time{}, fmt.Errorf("unix timestamp %s out of range",
			strconv.FormatFloat(ts, 'g', -1, 64))
	}
	sec, frac := math.Modf(ts)
	usec := math.Round(frac * 1e6)
	return time.Unix(int64(sec), int64(usec)*int64(time.Microsecond)).UTC(), nil
}
