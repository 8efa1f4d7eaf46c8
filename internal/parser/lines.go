// Package parser turns actions.log and raw_events.log into typed records.
//
// Parsing is best effort per line: a line that is not valid JSON or does not
// match the expected schema becomes a warning and the scan continues.
package parser

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"sync/atomic"
	"time"

	"github.com/argusai/testrun-investigator/internal/models"
)

// DefaultMaxLineBytes bounds a single log line.
const DefaultMaxLineBytes = 16 << 20

// ParseWarning describes a skipped line.
type ParseWarning struct {
	Stream models.Stream
	Line   int
	Reason string
	// Snippet is the start of the offending line.
	Snippet string
}

func (w *ParseWarning) Error() string {
	return fmt.Sprintf("%s line %d: %s: %q", w.Stream, w.Line, w.Reason, w.Snippet)
}

// Line is one parsed line. Exactly one of Record and Warning is set.
type Line struct {
	Number  int
	Record  models.Record
	Warning *ParseWarning
}

// Options tunes parsing.
type Options struct {
	MaxLineBytes int
}

func (o Options) maxLine() int {
	if o.MaxLineBytes <= 0 {
		return DefaultMaxLineBytes
	}
	return o.MaxLineBytes
}

// ParseActions parses actions.log content. A read error ends the sequence
// with a final warning.
func ParseActions(r io.Reader, opts Options) iter.Seq[Line] {
	return parse(r, models.StreamAction, opts, nil)
}

// ParseEvents parses raw_events.log content. A read error ends the sequence
// with a final warning.
func ParseEvents(r io.Reader, opts Options) iter.Seq[Line] {
	return parse(r, models.StreamEvents, opts, nil)
}

// ParseFile opens path and parses it as the given stream. The caller must
// close the returned closer once done ranging. A read error ends the
// sequence and is returned by Close.
func ParseFile(stream models.Stream, path string, opts Options) (iter.Seq[Line], io.Closer, error) {
	if !stream.Valid() {
		return nil, nil, fmt.Errorf("unknown stream %q", stream)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s log: %w", stream, err)
	}
	lf := &logFile{f: f}
	return parse(f, stream, opts, lf.fail), lf, nil
}

// logFile closes the underlying file and reports the read error that ended
// parsing, if any.
type logFile struct {
	f       *os.File
	readErr error
}

func (l *logFile) fail(err error) {
	l.readErr = fmt.Errorf("read %s: %w", l.f.Name(), err)
}

func (l *logFile) Close() error {
	return errors.Join(l.readErr, l.f.Close())
}

// parse returns a single-pass sequence: once started, ranging again yields
// nothing. Read errors go to onReadErr, or become a warning when it is nil.
func parse(r io.Reader, stream models.Stream, opts Options, onReadErr func(error)) iter.Seq[Line] {
	var used atomic.Bool
	decode := decodeAction
	if stream == models.StreamEvents {
		decode = decodeEvent
	}

	return func(yield func(Line) bool) {
		if !used.CompareAndSwap(false, true) {
			return
		}

		br := bufio.NewReaderSize(r, 64*1024)
		maxLine := opts.maxLine()
		n := 0
		for {
			raw, tooLong, err := readLine(br, maxLine)
			if err == nil || len(raw) > 0 || tooLong {
				n++
				if line, ok := parseLine(stream, decode, n, raw, tooLong, maxLine); ok {
					if !yield(line) {
						return
					}
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					if onReadErr != nil {
						onReadErr(err)
						return
					}
					n++
					yield(Line{Number: n, Warning: warn(stream, n, "read error: "+err.Error(), nil)})
				}
				return
			}
		}
	}
}

// parseLine converts one raw line. Blank lines are dropped (ok is false).
func parseLine(stream models.Stream, decode func([]byte) (models.Record, string), n int, raw []byte, tooLong bool, maxLine int) (Line, bool) {
	line := Line{Number: n}
	if tooLong {
		line.Warning = warn(stream, n, fmt.Sprintf("line exceeds %d bytes", maxLine), nil)
		return line, true
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Line{}, false
	}
	rec, reason := decode(trimmed)
	if reason != "" {
		line.Warning = warn(stream, n, reason, trimmed)
	} else {
		line.Record = rec
	}
	return line, true
}

// readLine returns the next line without its terminator. Lines longer than
// max are consumed and reported with tooLong set.
func readLine(br *bufio.Reader, max int) (line []byte, tooLong bool, err error) {
	var buf []byte
	for {
		chunk, err := br.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(chunk) > max+1 {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return bytes.TrimRight(buf, "\r\n"), tooLong, err
	}
}

func warn(stream models.Stream, n int, reason string, raw []byte) *ParseWarning {
	const maxSnippet = 100
	snippet := raw
	if len(snippet) > maxSnippet {
		snippet = snippet[:maxSnippet]
	}
	return &ParseWarning{Stream: stream, Line: n, Reason: reason, Snippet: string(snippet)}
}

type actionLine struct {
	Datetime *string `json:"datetime"`
	Status   string  `json:"status"`
	Source   string  `json:"source"`
	Action   *string `json:"action"`
	Target   string  `json:"target"`
}

func decodeAction(raw []byte) (models.Record, string) {
	var al actionLine
	if err := json.Unmarshal(raw, &al); err != nil {
		return nil, "malformed JSON: " + err.Error()
	}
	if al.Datetime == nil {
		return nil, "missing datetime"
	}
	if al.Action == nil {
		return nil, "missing action"
	}
	ts, err := time.Parse(time.RFC3339Nano, *al.Datetime)
	if err != nil {
		return nil, "invalid datetime: " + err.Error()
	}
	return &models.ActionRecord{
		Datetime: ts.UTC(),
		Status:   al.Status,
		Source:   al.Source,
		Action:   *al.Action,
		Target:   al.Target,
	}, ""
}

type eventLine struct {
	Base           string   `json:"base"`
	Type           string   `json:"type"`
	EventTimestamp *float64 `json:"event_timestamp"`
	Severity       string   `json:"severity"`
	EventID        string   `json:"event_id"`
	Node           string   `json:"node"`
	Line           string   `json:"line"`
}

func decodeEvent(raw []byte) (models.Record, string) {
	var el eventLine
	if err := json.Unmarshal(raw, &el); err != nil {
		return nil, "malformed JSON: " + err.Error()
	}
	if el.EventTimestamp == nil {
		return nil, "missing event_timestamp"
	}
	ts, err := models.UnixSeconds(*el.EventTimestamp)
	if err != nil {
		return nil, "invalid event_timestamp: " + err.Error()
	}
	return &models.EventRecord{
		Base:           el.Base,
		Type:           el.Type,
		EventTimestamp: ts,
		Severity:       el.Severity,
		EventID:        el.EventID,
		Node:           el.Node,
		Line:           el.Line,
	}, ""
}
