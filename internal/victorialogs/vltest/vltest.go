// Package vltest provides an in-memory VictoriaLogs stand-in for tests. It
// understands the subset of LogsQL that victorialogs.Query renders.
package vltest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
)

// Server is a fake VictoriaLogs instance.
type Server struct {
	*httptest.Server

	mu           sync.Mutex
	rows         []map[string]string
	healthy      bool
	pushFailures []int
	pushes       int
	queries      []string
}

// New starts a healthy, empty server that is closed when t ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{healthy: true}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /insert/jsonline", s.handleInsert)
	mux.HandleFunc("POST /select/logsql/query", s.handleQuery)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// SetHealthy toggles the /health response between 200 and 503.
func (s *Server) SetHealthy(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = ok
}

// FailPushes makes the next pushes answer with the given status codes.
func (s *Server) FailPushes(codes ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushFailures = append(s.pushFailures, codes...)
}

// Rows returns a copy of every stored row.
func (s *Server) Rows() []map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]string, len(s.rows))
	copy(out, s.rows)
	return out
}

// Pushes returns the number of insert requests received, failed ones
// included.
func (s *Server) Pushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushes
}

// Queries returns every LogsQL query received.
func (s *Server) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.queries)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	ok := s.healthy
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	_, _ = io.WriteString(w, "OK")
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.pushes++
	if len(s.pushFailures) > 0 {
		code := s.pushFailures[0]
		s.pushFailures = s.pushFailures[1:]
		s.mu.Unlock()
		http.Error(w, "injected failure", code)
		return
	}
	s.mu.Unlock()

	var body io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer zr.Close()
		body = zr
	}

	params := r.URL.Query()
	streamFields := strings.Split(params.Get("_stream_fields"), ",")
	timeField := params.Get("_time_field")
	msgField := params.Get("_msg_field")

	var rows []map[string]string
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 64*1024), 16<<20)
	for sc.Scan() {
		if len(strings.TrimSpace(sc.Text())) == 0 {
			continue
		}
		var raw map[string]any
		if err := json.Unmarshal(sc.Bytes(), &raw); err != nil {
			http.Error(w, "cannot parse json: "+err.Error(), http.StatusBadRequest)
			return
		}
		row := make(map[string]string, len(raw)+2)
		for k, v := range raw {
			row[k] = fmt.Sprint(v)
		}
		ts, err := parseTime(row[timeField])
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		delete(row, timeField)
		row["_time"] = ts.Format(time.RFC3339Nano)
		if msg, ok := row[msgField]; ok {
			delete(row, msgField)
			row["_msg"] = msg
		}
		row["_stream"] = streamLabel(row, streamFields)
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.rows = append(s.rows, rows...)
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t.UTC(), nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot parse timestamp %q", v)
	}
	return time.UnixMicro(int64(f * 1e6)).UTC(), nil
}

func streamLabel(row map[string]string, fields []string) string {
	sorted := slices.Sorted(slices.Values(fields))
	parts := make([]string, 0, len(sorted))
	for _, f := range sorted {
		parts = append(parts, f+"="+strconv.Quote(row[f]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

var (
	streamFilterRe = regexp.MustCompile(`^\{([^}]*)\}`)
	pairRe         = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)=("(?:[^"\\]|\\.)*")`)
	rangeRe        = regexp.MustCompile(`_time:\[([^,\]]+), ([^)]+)\)`)
	fromRe         = regexp.MustCompile(`_time:>=(\S+)`)
	untilRe        = regexp.MustCompile(`_time:<(\S+)`)
	fieldRe        = regexp.MustCompile(`\s([A-Za-z_][A-Za-z0-9_.]*):=("(?:[^"\\]|\\.)*")`)
	limitRe        = regexp.MustCompile(`\|\s*limit (\d+)`)
)

type filter struct {
	equal      map[string]string
	start, end *time.Time
	limit      int
}

func parseQuery(q string) (filter, error) {
	f := filter{equal: map[string]string{}}
	m := streamFilterRe.FindStringSubmatch(q)
	if m == nil {
		return f, fmt.Errorf("missing stream filter")
	}
	for _, p := range pairRe.FindAllStringSubmatch(m[1], -1) {
		v, err := strconv.Unquote(p[2])
		if err != nil {
			return f, err
		}
		f.equal[p[1]] = v
	}
	rest := q[len(m[0]):]
	parse := func(s string) (*time.Time, error) {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, err
		}
		return &t, nil
	}
	var err error
	if m := rangeRe.FindStringSubmatch(rest); m != nil {
		if f.start, err = parse(m[1]); err != nil {
			return f, err
		}
		if f.end, err = parse(m[2]); err != nil {
			return f, err
		}
	} else if m := fromRe.FindStringSubmatch(rest); m != nil {
		if f.start, err = parse(m[1]); err != nil {
			return f, err
		}
	} else if m := untilRe.FindStringSubmatch(rest); m != nil {
		if f.end, err = parse(m[1]); err != nil {
			return f, err
		}
	}
	for _, p := range fieldRe.FindAllStringSubmatch(rest, -1) {
		v, err := strconv.Unquote(p[2])
		if err != nil {
			return f, err
		}
		f.equal[p[1]] = v
	}
	if m := limitRe.FindStringSubmatch(rest); m != nil {
		f.limit, _ = strconv.Atoi(m[1])
	}
	return f, nil
}

func (f filter) match(row map[string]string) bool {
	for k, v := range f.equal {
		if row[k] != v {
			return false
		}
	}
	ts, err := time.Parse(time.RFC3339Nano, row["_time"])
	if err != nil {
		return false
	}
	if f.start != nil && ts.Before(*f.start) {
		return false
	}
	if f.end != nil && !ts.Before(*f.end) {
		return false
	}
	return true
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	q := r.PostForm.Get("query")

	s.mu.Lock()
	s.queries = append(s.queries, q)
	rows := slices.Clone(s.rows)
	s.mu.Unlock()

	f, err := parseQuery(q)
	if err != nil {
		http.Error(w, "cannot parse query: "+err.Error(), http.StatusBadRequest)
		return
	}

	var out []map[string]string
	for _, row := range rows {
		if f.match(row) {
			out = append(out, row)
		}
	}
	slices.SortStableFunc(out, func(a, b map[string]string) int {
		ta, _ := time.Parse(time.RFC3339Nano, a["_time"])
		tb, _ := time.Parse(time.RFC3339Nano, b["_time"])
		return ta.Compare(tb)
	})
	if f.limit > 0 && len(out) > f.limit {
		out = out[:f.limit]
	}

	w.Header().Set("Content-Type", "application/stream+json")
	enc := json.NewEncoder(w)
	for _, row := range out {
		_ = enc.Encode(row)
	}
}
