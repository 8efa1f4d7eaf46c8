package victorialogs

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/argusai/testrun-investigator/internal/models"
)

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// Query is a stream-filtered LogsQL query. The stream filter always comes
// first so the store can skip unrelated streams before evaluating anything
// else.
type Query struct {
	// Stream may be empty to match every stream of the run.
	Stream models.Stream
	RunID  string
	Range  models.TimeRange
	// Fields are exact-match predicates, e.g. severity=ERROR.
	Fields map[string]string
	// Sort orders results ascending by _time.
	Sort  bool
	Limit int
}

// Validate checks field names and the limit.
func (q Query) Validate() error {
	if q.Stream != "" && !q.Stream.Valid() {
		return fmt.Errorf("unknown stream %q", q.Stream)
	}
	for name := range q.Fields {
		if !fieldNamePattern.MatchString(name) {
			return fmt.Errorf("invalid field name %q", name)
		}
	}
	if q.Limit < 0 {
		return fmt.Errorf("limit must not be negative, got %d", q.Limit)
	}
	return nil
}

// String renders the query, e.g.
//
//	{stream="action",run_id="r1"} _time:[2025-05-17T04:44:00Z, 2025-05-17T04:45:00Z) | sort by (_time) | limit 10
func (q Query) String() string {
	var b strings.Builder
	if q.Stream == "" {
		fmt.Fprintf(&b, "{%s=%s}", models.FieldRunID, strconv.Quote(q.RunID))
	} else {
		fmt.Fprintf(&b, "{%s=%s,%s=%s}",
			models.FieldStream, strconv.Quote(string(q.Stream)),
			models.FieldRunID, strconv.Quote(q.RunID))
	}

	switch {
	case q.Range.Start != nil && q.Range.End != nil:
		fmt.Fprintf(&b, " _time:[%s, %s)", formatTime(*q.Range.Start), formatTime(*q.Range.End))
	case q.Range.Start != nil:
		fmt.Fprintf(&b, " _time:>=%s", formatTime(*q.Range.Start))
	case q.Range.End != nil:
		fmt.Fprintf(&b, " _time:<%s", formatTime(*q.Range.End))
	}

	for _, name := range slices.Sorted(maps.Keys(q.Fields)) {
		fmt.Fprintf(&b, " %s:=%s", name, strconv.Quote(q.Fields[name]))
	}

	if q.Sort {
		b.WriteString(" | sort by (_time)")
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " | limit %d", q.Limit)
	}
	return b.String()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
