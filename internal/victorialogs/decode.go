package victorialogs

import (
	"fmt"
	"strconv"
	"time"

	"github.com/argusai/testrun-investigator/internal/models"
)

// Reserved fields added by the store to every result row.
const (
	fieldTime = "_time"
	fieldMsg  = "_msg"
)

// DecodeRecord converts a result row of the given stream back into a typed
// record. The store moves the configured time and message fields into _time
// and _msg, so both spellings are accepted.
func DecodeRecord(stream models.Stream, row Row) (models.Record, error) {
	desc := stream.Descriptor()
	ts, err := rowTime(row, desc.TimeField)
	if err != nil {
		return nil, err
	}
	msg := rowValue(row, desc.MessageField, fieldMsg)

	switch stream {
	case models.StreamAction:
		return &models.ActionRecord{
			Datetime: ts,
			Status:   row["status"],
			Source:   row["source"],
			Action:   msg,
			Target:   row["target"],
		}, nil
	case models.StreamEvents:
		return &models.EventRecord{
			Base:           row["base"],
			Type:           row["type"],
			EventTimestamp: ts,
			Severity:       row["severity"],
			EventID:        row["event_id"],
			Node:           row["node"],
			Line:           msg,
		}, nil
	default:
		return nil, fmt.Errorf("unknown stream %q", stream)
	}
}

func rowValue(row Row, names ...string) string {
	for _, n := range names {
		if v, ok := row[n]; ok && v != "" {
			return v
		}
	}
	return ""
}

func rowTime(row Row, timeField string) (time.Time, error) {
	raw := rowValue(row, timeField, fieldTime)
	if raw == "" {
		return time.Time{}, fmt.Errorf("row has no %s or %s", timeField, fieldTime)
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return models.UnixSeconds(f)
	}
	return time.Time{}, fmt.Errorf("invalid %s %q", timeField, raw)
}
