package tools

import (
	"strings"
	"time"

	"github.com/argusai/testrun-investigator/internal/models"
)

// FormatAction renders an action in the compact form
// T:<time>|S:<source>|M:<action>[|TG:<target>][|ST:<status>] to keep tool
// output small.
func FormatAction(a *models.ActionRecord) string {
	var b strings.Builder
	b.WriteString("T:")
	b.WriteString(a.Datetime.UTC().Format(time.RFC3339Nano))
	b.WriteString("|S:")
	b.WriteString(a.Source)
	b.WriteString("|M:")
	b.WriteString(a.Action)
	if a.Target != "" {
		b.WriteString("|TG:")
		b.WriteString(a.Target)
	}
	if a.Status != "" {
		b.WriteString("|ST:")
		b.WriteString(a.Status)
	}
	return b.String()
}

// formatRecords renders actions compactly and everything else as field maps.
func formatRecords(records []models.Record) []any {
	out := make([]any, 0, len(records))
	for _, rec := range records {
		if a, ok := rec.(*models.ActionRecord); ok {
			out = append(out, FormatAction(a))
			continue
		}
		out = append(out, rec.Fields())
	}
	return out
}
