package models

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// identifierPattern restricts run and event ids to values that are safe both
// as a cache directory name and inside a quoted LogsQL string.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{0,127}$`)

// ValidateIdentifier checks a run or event id.
func ValidateIdentifier(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", kind)
	}
	if !identifierPattern.MatchString(id) {
		return fmt.Errorf("invalid %s %q: use letters, digits, '.', '_', ':' or '-' (max 128 chars)", kind, id)
	}
	return nil
}

// ValidateDownloadURL requires an absolute http(s) URL.
func ValidateDownloadURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("download url cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid download url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid download url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid download url %q: missing host", raw)
	}
	return nil
}

// timestampLayouts are tried in order. Timestamps without a zone are UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

// ParseTimestamp parses an ISO 8601 timestamp such as 2025-05-17T04:44:00Z.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid ISO 8601 timestamp %q (expected e.g. 2025-05-17T04:44:00Z)", s)
}

// TimeRange is a half-open interval [Start, End). A nil bound is open.
type TimeRange struct {
	Start *time.Time
	End   *time.Time
}

// ParseTimeRange parses optional start and end timestamps. Empty strings
// leave the bound open.
func ParseTimeRange(start, end string) (TimeRange, error) {
	var tr TimeRange
	if start != "" {
		t, err := ParseTimestamp(start)
		if err != nil {
			return TimeRange{}, fmt.Errorf("start_time: %w", err)
		}
		tr.Start = &t
	}
	if end != "" {
		t, err := ParseTimestamp(end)
		if err != nil {
			return TimeRange{}, fmt.Errorf("end_time: %w", err)
		}
		tr.End = &t
	}
	if tr.Start != nil && tr.End != nil && tr.Start.After(*tr.End) {
		return TimeRange{}, fmt.Errorf("start_time %s is after end_time %s",
			tr.Start.Format(time.RFC3339Nano), tr.End.Format(time.RFC3339Nano))
	}
	return tr, nil
}

// Contains reports whether t lies within the range.
func (tr TimeRange) Contains(t time.Time) bool {
	if tr.Start != nil && t.Before(*tr.Start) {
		return false
	}
	if tr.End != nil && !t.Before(*tr.End) {
		return false
	}
	return true
}
