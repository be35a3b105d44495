package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ====== Request accounting ======

// endpointStats carries per-handler counters. Status classes and a
// fixed-bucket latency histogram, all updated atomically.
type endpointStats struct {
	c2xx   uint64
	c4xx   uint64
	c5xx   uint64
	cOther uint64
	// bucket upper bounds in seconds: 0.01, 0.05, 0.1, 0.5, 1.0, +Inf
	b001  uint64
	b005  uint64
	b010  uint64
	b050  uint64
	b100  uint64
	bInf  uint64
	sumNS uint64
	cnt   uint64
}

// recorder tracks inflight requests, per-endpoint stats and the number
// of documents the analyze endpoint refused. Endpoints are pre-seeded;
// unknown handler names grow the map under mu.
type recorder struct {
	inflight int64
	rejected uint64

	mu sync.Mutex
	by map[string]*endpointStats

	accessLog bool
}

func newRecorder() *recorder {
	rec := &recorder{by: make(map[string]*endpointStats)}
	for _, name := range []string{"analyze", "healthz", "version", "metrics"} {
		rec.by[name] = &endpointStats{}
	}
	v := strings.TrimSpace(os.Getenv("NOMICON_ACCESS_LOG"))
	rec.accessLog = v == "1" || strings.EqualFold(v, "true")
	return rec
}

func (m *recorder) stats(name string) *endpointStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	es, ok := m.by[name]
	if !ok {
		es = &endpointStats{}
		m.by[name] = es
	}
	return es
}

func (m *recorder) incStatus(es *endpointStats, code int) {
	switch code / 100 {
	case 2:
		atomic.AddUint64(&es.c2xx, 1)
	case 4:
		atomic.AddUint64(&es.c4xx, 1)
	case 5:
		atomic.AddUint64(&es.c5xx, 1)
	default:
		atomic.AddUint64(&es.cOther, 1)
	}
}

func (m *recorder) observe(es *endpointStats, d time.Duration) {
	sec := d.Seconds()
	switch {
	case sec <= 0.01:
		atomic.AddUint64(&es.b001, 1)
	case sec <= 0.05:
		atomic.AddUint64(&es.b005, 1)
	case sec <= 0.10:
		atomic.AddUint64(&es.b010, 1)
	case sec <= 0.50:
		atomic.AddUint64(&es.b050, 1)
	case sec <= 1.0:
		atomic.AddUint64(&es.b100, 1)
	default:
		atomic.AddUint64(&es.bInf, 1)
	}
	atomic.AddUint64(&es.cnt, 1)
	atomic.AddUint64(&es.sumNS, uint64(d.Nanoseconds()))
}

// rejectDocument counts an analyze request whose document was refused
// before any analysis ran.
func (m *recorder) rejectDocument() { atomic.AddUint64(&m.rejected, 1) }

// ====== Middleware ======

// statusWriter remembers the response code and byte count for metrics
// and access logging.
type statusWriter struct {
	rw   http.ResponseWriter
	code int
	n    int
}

func (s *statusWriter) Header() http.Header { return s.rw.Header() }

func (s *statusWriter) WriteHeader(code int) {
	s.code = code
	s.rw.WriteHeader(code)
}

func (s *statusWriter) Write(b []byte) (int, error) {
	if s.code == 0 {
		s.code = http.StatusOK
	}
	n, err := s.rw.Write(b)
	s.n += n
	return n, err
}

func (s *statusWriter) Flush() {
	if f, ok := s.rw.(http.Flusher); ok {
		f.Flush()
	}
}

// wrap attaches request IDs, panic recovery, counters and optional
// access logging to a handler.
func (m *recorder) wrap(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get("X-Request-ID")
		if rid == "" {
			rid = genReqID()
		}
		w.Header().Set("X-Request-ID", rid)

		start := time.Now()
		atomic.AddInt64(&m.inflight, 1)
		sw := &statusWriter{rw: w}
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					log.Printf("panic: %v request_id=%s", rec, rid)
					if sw.code == 0 {
						sw.WriteHeader(http.StatusInternalServerError)
					}
				}
			}()
			h(sw, r)
		}()
		if sw.code == 0 {
			sw.code = http.StatusOK
		}
		atomic.AddInt64(&m.inflight, -1)

		es := m.stats(name)
		m.incStatus(es, sw.code)
		d := time.Since(start)
		m.observe(es, d)
		if m.accessLog {
			ua := r.Header.Get("User-Agent")
			log.Printf("%s %s -> %d %dB in %s from %s ua=%q", r.Method, r.URL.RequestURI(), sw.code, sw.n, d, r.RemoteAddr, ua)
		}
	}
}

// genReqID returns a random 16-byte hex string.
func genReqID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}

// ====== Exposition ======

// serveMetrics renders the counters in the Prometheus text format.
// Handlers are emitted in sorted order so the output is stable.
func (m *recorder) serveMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	m.mu.Lock()
	names := make([]string, 0, len(m.by))
	for name := range m.by {
		names = append(names, name)
	}
	stats := make(map[string]*endpointStats, len(m.by))
	for name, es := range m.by {
		stats[name] = es
	}
	m.mu.Unlock()
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "# TYPE nomicon_inflight gauge\nnomicon_inflight %d\n", atomic.LoadInt64(&m.inflight))
	fmt.Fprintf(&b, "# TYPE nomicon_documents_rejected_total counter\nnomicon_documents_rejected_total %d\n", atomic.LoadUint64(&m.rejected))
	fmt.Fprintf(&b, "# TYPE nomicon_requests_total counter\n")
	for _, name := range names {
		es := stats[name]
		fmt.Fprintf(&b, "nomicon_requests_total{handler=%q,class=\"2xx\"} %d\n", name, atomic.LoadUint64(&es.c2xx))
		fmt.Fprintf(&b, "nomicon_requests_total{handler=%q,class=\"4xx\"} %d\n", name, atomic.LoadUint64(&es.c4xx))
		fmt.Fprintf(&b, "nomicon_requests_total{handler=%q,class=\"5xx\"} %d\n", name, atomic.LoadUint64(&es.c5xx))
		fmt.Fprintf(&b, "nomicon_requests_total{handler=%q,class=\"other\"} %d\n", name, atomic.LoadUint64(&es.cOther))
	}
	fmt.Fprintf(&b, "# TYPE nomicon_request_duration_seconds histogram\n")
	for _, name := range names {
		es := stats[name]
		// Buckets are stored disjoint and exposed cumulative.
		cum := atomic.LoadUint64(&es.b001)
		fmt.Fprintf(&b, "nomicon_request_duration_seconds_bucket{handler=%q,le=\"0.01\"} %d\n", name, cum)
		cum += atomic.LoadUint64(&es.b005)
		fmt.Fprintf(&b, "nomicon_request_duration_seconds_bucket{handler=%q,le=\"0.05\"} %d\n", name, cum)
		cum += atomic.LoadUint64(&es.b010)
		fmt.Fprintf(&b, "nomicon_request_duration_seconds_bucket{handler=%q,le=\"0.1\"} %d\n", name, cum)
		cum += atomic.LoadUint64(&es.b050)
		fmt.Fprintf(&b, "nomicon_request_duration_seconds_bucket{handler=%q,le=\"0.5\"} %d\n", name, cum)
		cum += atomic.LoadUint64(&es.b100)
		fmt.Fprintf(&b, "nomicon_request_duration_seconds_bucket{handler=%q,le=\"1\"} %d\n", name, cum)
		cum += atomic.LoadUint64(&es.bInf)
		fmt.Fprintf(&b, "nomicon_request_duration_seconds_bucket{handler=%q,le=\"+Inf\"} %d\n", name, cum)
		fmt.Fprintf(&b, "nomicon_request_duration_seconds_sum{handler=%q} %.6f\n", name, float64(atomic.LoadUint64(&es.sumNS))/1e9)
		fmt.Fprintf(&b, "nomicon_request_duration_seconds_count{handler=%q} %d\n", name, atomic.LoadUint64(&es.cnt))
	}
	_, _ = w.Write([]byte(b.String()))
}
