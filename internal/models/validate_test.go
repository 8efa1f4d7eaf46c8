package models

import (
	"math"
	"testing"
	"time"
)

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"short id", "r1", false},
		{"uuid", "8c9b6a0e-1f4e-4c5a-9d7e-2b3c4d5e6f70", false},
		{"dotted", "run.2025-05-17", false},
		{"empty", "", true},
		{"leading dash", "-r1", true},
		{"quote", `r1"`, true},
		{"path traversal", "../etc", true},
		{"slash", "a/b", true},
		{"space", "r 1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentifier("run_id", tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateIdentifier(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestValidateDownloadURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"https", "https://example.com/logs.tar.zst", false},
		{"http with port", "http://x:8080/a", false},
		{"empty", "", true},
		{"ftp", "ftp://example.com/a", true},
		{"relative", "/tmp/a.tar.zst", true},
		{"no host", "http:///a", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDownloadURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDownloadURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2025, 5, 17, 4, 44, 0, 0, time.UTC)
	valid := []string{
		"2025-05-17T04:44:00Z",
		"2025-05-17T04:44:00",
		"2025-05-17T06:44:00+02:00",
	}
	for _, s := range valid {
		got, err := ParseTimestamp(s)
		if err != nil {
			t.Errorf("ParseTimestamp(%q) unexpected error: %v", s, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("ParseTimestamp(%q) = %v, want %v", s, got, want)
		}
	}

	frac, err := ParseTimestamp("2025-05-17T04:44:00.123")
	if err != nil {
		t.Fatalf("fractional timestamp: %v", err)
	}
	if frac.Nanosecond() != 123000000 {
		t.Errorf("fractional nanos = %d, want 123000000", frac.Nanosecond())
	}

	invalid := []string{"2025-05-17", "04:44:00", "2025-05-17 04:44:00", "invalid-timestamp"}
	for _, s := range invalid {
		if _, err := ParseTimestamp(s); err == nil {
			t.Errorf("ParseTimestamp(%q) expected error", s)
		}
	}
}

func TestTimeRangeHalfOpen(t *testing.T) {
	tr, err := ParseTimeRange("2025-05-17T04:44:00Z", "2025-05-17T04:44:04Z")
	if err != nil {
		t.Fatalf("ParseTimeRange: %v", err)
	}

	start := time.Date(2025, 5, 17, 4, 44, 0, 0, time.UTC)
	end := time.Date(2025, 5, 17, 4, 44, 4, 0, time.UTC)

	if !tr.Contains(start) {
		t.Error("start bound should be included")
	}
	if tr.Contains(end) {
		t.Error("end bound should be excluded")
	}
	if !tr.Contains(end.Add(-time.Nanosecond)) {
		t.Error("instant before end should be included")
	}
	if tr.Contains(start.Add(-time.Nanosecond)) {
		t.Error("instant before start should be excluded")
	}

	if _, err := ParseTimeRange("2025-05-17T05:00:00Z", "2025-05-17T04:00:00Z"); err == nil {
		t.Error("expected error for start after end")
	}

	open, err := ParseTimeRange("", "")
	if err != nil {
		t.Fatalf("open range: %v", err)
	}
	if open.Start != nil || open.End != nil || !open.Contains(time.Time{}) {
		t.Error("empty bounds should produce an unbounded range")
	}
}

func TestUnixSeconds(t *testing.T) {
	ts, err := UnixSeconds(1747457044.123456)
	if err != nil {
		t.Fatalf("UnixSeconds: %v", err)
	}
	if got := ts.UnixMicro(); got != 1747457044123456 {
		t.Errorf("UnixMicro = %d, want 1747457044123456", got)
	}
	if ts.Location() != time.UTC {
		t.Errorf("UnixSeconds should return UTC, got %v", ts.Location())
	}

	for _, bad := range []float64{1e300, -1e300, math.Inf(1), math.NaN(), 253402300800} {
		if _, err := UnixSeconds(bad); err == nil {
			t.Errorf("UnixSeconds(%v) should fail", bad)
		}
	}
}

func TestParseStream(t *testing.T) {
	for _, name := range []string{"action", "events"} {
		s, err := ParseStream(name)
		if err != nil {
			t.Errorf("ParseStream(%q): %v", name, err)
		}
		if s.Descriptor().FileName == "" {
			t.Errorf("stream %q has no file name", name)
		}
	}
	if _, err := ParseStream("actions"); err == nil {
		t.Error("ParseStream(actions) expected error")
	}

	if s, ok := StreamForFile("raw_events.log"); !ok || s != StreamEvents {
		t.Errorf("StreamForFile(raw_events.log) = %q, %v", s, ok)
	}
	if _, ok := StreamForFile("other.log"); ok {
		t.Error("StreamForFile(other.log) should not match")
	}
}
