// Package server exposes the analysis engine over HTTP.
//
// The daemon accepts an IR document on POST /analyze and answers with
// the module report as JSON. GET /healthz, GET /version and
// GET /metrics make up the operational surface. Every handler runs
// behind middleware that assigns request IDs, recovers panics and
// feeds the Prometheus-style counters; set NOMICON_ACCESS_LOG=1 for a
// log line per request.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gdennie/nomicon/internal/cli"
	"github.com/gdennie/nomicon/internal/engine"
	"github.com/gdennie/nomicon/internal/ir"
	"github.com/gdennie/nomicon/internal/irload"
	"github.com/gdennie/nomicon/internal/report"
)

// defaultMaxBody caps analyze request bodies. IR documents for large
// modules run to a few megabytes; anything beyond this is junk.
const defaultMaxBody = 16 << 20

// Server wires the engine behind the daemon's route table.
type Server struct {
	eng     *engine.Engine
	loader  *irload.Loader
	rec     *recorder
	maxBody int64
}

// New builds a server over eng. Documents are decoded and
// version-gated by loader.
func New(eng *engine.Engine, loader *irload.Loader) *Server {
	return &Server{eng: eng, loader: loader, rec: newRecorder(), maxBody: defaultMaxBody}
}

// SetMaxBodyBytes changes the analyze request body cap. Values under 1
// restore the default.
func (s *Server) SetMaxBodyBytes(n int64) {
	if n < 1 {
		n = defaultMaxBody
	}
	s.maxBody = n
}

// Handler returns the daemon's route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/analyze", s.rec.wrap("analyze", s.handleAnalyze))
	mux.HandleFunc("/healthz", s.rec.wrap("healthz", s.handleHealthz))
	mux.HandleFunc("/version", s.rec.wrap("version", s.handleVersion))
	mux.HandleFunc("/metrics", s.rec.wrap("metrics", s.rec.serveMetrics))
	return mux
}

// Run serves the route table on addr until ctx is cancelled, then
// drains connections for up to five seconds. WriteTimeout bounds one
// analysis run end to end.
func (s *Server) Run(ctx context.Context, addr string) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    16 << 10,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- hs.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hs.Shutdown(shutCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// handleAnalyze runs one document through the engine. Undecodable or
// out-of-range documents get a 400; the analysis itself cannot fail
// the request short of a malformed declaration table.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	mod, err := s.loader.Load(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		s.rec.rejectDocument()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := s.eng.Analyze(r.Context(), mod)
	if err != nil {
		if errors.Is(err, ir.ErrMalformed) {
			s.rec.rejectDocument()
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := report.WriteJSON(w, res); err != nil {
		log.Printf("analyze: write response: %v", err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(cli.GetVersionInfo())
}
