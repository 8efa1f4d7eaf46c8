package parser

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/argusai/testrun-investigator/internal/models"
)

func collect(t *testing.T, lines []Line) (records []models.Record, warnings []*ParseWarning) {
	t.Helper()
	for _, l := range lines {
		if (l.Record == nil) == (l.Warning == nil) {
			t.Fatalf("line %d: exactly one of Record and Warning must be set", l.Number)
		}
		if l.Record != nil {
			records = append(records, l.Record)
		} else {
			warnings = append(warnings, l.Warning)
		}
	}
	return records, warnings
}

func drain(seq func(func(Line) bool)) []Line {
	var out []Line
	for l := range seq {
		out = append(out, l)
	}
	return out
}

func TestParseActions(t *testing.T) {
	input := strings.Join([]string{
		`{"datetime":"2025-05-17T04:44:04Z","status":"info","source":"tester","action":"start","target":"node-1"}`,
		``,
		`not json at all`,
		`{"datetime":"2025-05-17T04:44:05Z","status":"info"}`,
		`{"datetime":"yesterday","action":"stop"}`,
		`{"datetime":"2025-05-17T04:44:06.5+02:00","action":"stop","source":42}`,
		`{"datetime":"2025-05-17T04:44:07Z","action":"stop"}`,
	}, "\n")

	records, warnings := collect(t, drain(ParseActions(strings.NewReader(input), Options{})))

	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if len(warnings) != 4 {
		t.Fatalf("got %d warnings, want 4: %v", len(warnings), warnings)
	}

	first, ok := records[0].(*models.ActionRecord)
	if !ok {
		t.Fatalf("record type = %T, want *models.ActionRecord", records[0])
	}
	want := models.ActionRecord{
		Datetime: time.Date(2025, 5, 17, 4, 44, 4, 0, time.UTC),
		Status:   "info",
		Source:   "tester",
		Action:   "start",
		Target:   "node-1",
	}
	if *first != want {
		t.Errorf("first record = %+v, want %+v", *first, want)
	}
	if first.Stream() != models.StreamAction {
		t.Errorf("stream = %s, want action", first.Stream())
	}

	// Line numbers count blank lines too.
	wantLines := []int{3, 4, 5, 6}
	for i, w := range warnings {
		if w.Line != wantLines[i] {
			t.Errorf("warning %d on line %d, want %d", i, w.Line, wantLines[i])
		}
	}
}

func TestParseEvents(t *testing.T) {
	input := `{"base":"DatabaseLogEvent","type":"RUNTIME_ERROR","event_timestamp":1747457044.25,"severity":"ERROR","event_id":"e-1","node":"node-1","line":"boom"}
{"base":"X","event_timestamp":"1747457044"}
{"base":"Y","severity":"NORMAL"}
{"event_timestamp":1747457045,"event_id":"e-2"}
`
	records, warnings := collect(t, drain(ParseEvents(strings.NewReader(input), Options{})))
	if len(records) != 2 || len(warnings) != 2 {
		t.Fatalf("got %d records / %d warnings, want 2 / 2", len(records), len(warnings))
	}

	ev := records[0].(*models.EventRecord)
	if ev.EventID != "e-1" || ev.Severity != "ERROR" || ev.Line != "boom" {
		t.Errorf("unexpected event: %+v", ev)
	}
	wantTS := time.Date(2025, 5, 17, 4, 44, 4, 250000000, time.UTC)
	if !ev.EventTimestamp.Equal(wantTS) {
		t.Errorf("event_timestamp = %v, want %v", ev.EventTimestamp, wantTS)
	}
	if ev.Stream() != models.StreamEvents {
		t.Errorf("stream = %s, want events", ev.Stream())
	}
}

func TestParseIsSinglePass(t *testing.T) {
	seq := ParseActions(strings.NewReader(`{"datetime":"2025-05-17T04:44:04Z","action":"a"}`+"\n"), Options{})
	if got := len(drain(seq)); got != 1 {
		t.Fatalf("first pass = %d lines, want 1", got)
	}
	if got := len(drain(seq)); got != 0 {
		t.Errorf("second pass = %d lines, want 0", got)
	}
}

func TestParseStopsEarly(t *testing.T) {
	input := strings.Repeat(`{"datetime":"2025-05-17T04:44:04Z","action":"a"}`+"\n", 10)
	count := 0
	for range ParseActions(strings.NewReader(input), Options{}) {
		count++
		if count == 3 {
			break
		}
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}

func TestParseLongLineIsSkipped(t *testing.T) {
	long := `{"datetime":"2025-05-17T04:44:04Z","action":"` + strings.Repeat("x", 200) + `"}`
	ok := `{"datetime":"2025-05-17T04:44:05Z","action":"b"}`
	input := ok + "\n" + long + "\n" + ok

	records, warnings := collect(t, drain(ParseActions(strings.NewReader(input), Options{MaxLineBytes: 100})))
	if len(records) != 2 {
		t.Errorf("got %d records, want 2", len(records))
	}
	if len(warnings) != 1 || warnings[0].Line != 2 {
		t.Errorf("want one warning on line 2, got %v", warnings)
	}
}

func TestParseNWellFormedMMalformed(t *testing.T) {
	const n, m = 25, 7
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString(`{"datetime":"2025-05-17T04:44:04Z","action":"a"}` + "\n")
		if i < m {
			b.WriteString("{broken\n")
		}
	}
	records, warnings := collect(t, drain(ParseActions(strings.NewReader(b.String()), Options{})))
	if len(records) != n || len(warnings) != m {
		t.Errorf("got %d records / %d warnings, want %d / %d", len(records), len(warnings), n, m)
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw_events.log")
	if err := os.WriteFile(path, []byte(`{"event_timestamp":1,"event_id":"e"}`+"\r\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	seq, closer, err := ParseFile(models.StreamEvents, path, Options{})
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	defer closer.Close()

	records, _ := collect(t, drain(seq))
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}

	if _, _, err := ParseFile(models.StreamEvents, filepath.Join(t.TempDir(), "missing"), Options{}); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseFileReadErrorIsReturnedByClose(t *testing.T) {
	// Opening a directory succeeds; reading it does not.
	seq, closer, err := ParseFile(models.StreamAction, t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}

	if lines := drain(seq); len(lines) != 0 {
		t.Errorf("got %d lines, want none", len(lines))
	}
	if err := closer.Close(); err == nil {
		t.Error("Close should report the read error")
	}
}

type failingReader struct{ data string }

func (r *failingReader) Read(p []byte) (int, error) {
	if r.data == "" {
		return 0, errors.New("disk on fire")
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestParseReaderErrorBecomesWarning(t *testing.T) {
	r := &failingReader{data: `{"datetime":"2025-05-17T04:44:04Z","action":"a"}` + "\n"}
	records, warnings := collect(t, drain(ParseActions(r, Options{})))
	if len(records) != 1 || len(warnings) != 1 {
		t.Fatalf("got %d records / %d warnings, want 1 / 1", len(records), len(warnings))
	}
	if !strings.Contains(warnings[0].Reason, "disk on fire") {
		t.Errorf("reason = %q", warnings[0].Reason)
	}
}

func TestParseEventTimestampOutOfRange(t *testing.T) {
	input := `{"event_timestamp":1e300,"event_id":"e-1"}
{"event_timestamp":1747457045,"event_id":"e-2"}
`
	records, warnings := collect(t, drain(ParseEvents(strings.NewReader(input), Options{})))
	if len(records) != 1 || len(warnings) != 1 {
		t.Fatalf("got %d records / %d warnings, want 1 / 1", len(records), len(warnings))
	}
	if !strings.Contains(warnings[0].Reason, "out of range") {
		t.Errorf("reason = %q", warnings[0].Reason)
	}
}
