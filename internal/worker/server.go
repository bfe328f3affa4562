// Package worker keeps a transcription provider loaded in a long-lived
// process and serves it over a unix socket, so each hotkey press does not
// pay the model load cost.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roelfdiedericks/golisten/internal/config"
	. "github.com/roelfdiedericks/golisten/internal/logging"
	"github.com/roelfdiedericks/golisten/internal/stt"
)

// TranscribeRequest is the body of POST /transcribe.
type TranscribeRequest struct {
	Path string `json:"path"`
}

// TranscribeResponse carries either Text or Error with its Kind.
type TranscribeResponse struct {
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

// Health is the body of GET /health.
type Health struct {
	Status   string  `json:"status"`
	Provider string  `json:"provider"`
	PID      int     `json:"pid"`
	Uptime   float64 `json:"uptime_seconds"`
	Served   int64   `json:"served"`
}

// Server serves one provider on a unix socket.
type Server struct {
	provider stt.Provider
	socket   string
	idle     time.Duration

	server  *http.Server
	started time.Time
	served  atomic.Int64
	busy    atomic.Int32

	// whisper contexts are not safe for concurrent use
	mu sync.Mutex

	metrics *metrics

	idleTimer *time.Timer
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewServer creates a server for provider. It does not listen until Serve.
func NewServer(provider stt.Provider, cfg config.WorkerConfig) *Server {
	s := &Server{
		provider: provider,
		socket:   cfg.Socket,
		idle:     cfg.IdleTimeout,
		metrics:  newMetrics(provider.Name()),
		stop:     make(chan struct{}),
	}
	s.server = &http.Server{
		Handler:      s.setupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.Timeout + 10*time.Second,
	}
	return s
}

func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.logRequest(s.handleHealth))
	mux.HandleFunc("/transcribe", s.logRequest(s.handleTranscribe))
	mux.Handle("/metrics", s.metrics.handler())
	return mux
}

// Serve listens on the socket and blocks until ctx is done, the idle
// timeout passes or Shutdown is called. The socket file is removed on return.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := s.listen()
	if err != nil {
		return err
	}
	defer os.Remove(s.socket)

	s.started = time.Now()
	if s.idle > 0 {
		s.idleTimer = time.AfterFunc(s.idle, s.idleExpired)
		defer s.idleTimer.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(ln)
	}()
	L_info("worker: serving", "socket", s.socket, "provider", s.provider.Name(), "pid", os.Getpid())

	select {
	case <-ctx.Done():
	case <-s.stop:
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("worker: serve: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		L_error("worker: shutdown error", "error", err)
		return err
	}
	L_info("worker: stopped", "served", s.served.Load())
	return nil
}

// Shutdown asks a running Serve to return.
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// listen binds the socket, replacing a leftover file only if nothing
// answers on it.
func (s *Server) listen() (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(s.socket), 0700); err != nil {
		return nil, fmt.Errorf("worker: %w", err)
	}
	if _, err := os.Stat(s.socket); err == nil {
		if conn, err := net.DialTimeout("unix", s.socket, 200*time.Millisecond); err == nil {
			conn.Close()
			return nil, fmt.Errorf("worker: %w: %s", ErrAlreadyRunning, s.socket)
		}
		L_debug("worker: removing stale socket", "socket", s.socket)
		_ = os.Remove(s.socket)
	}

	ln, err := net.Listen("unix", s.socket)
	if err != nil {
		return nil, fmt.Errorf("worker: listen %s: %w", s.socket, err)
	}
	if err := os.Chmod(s.socket, 0600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("worker: %w", err)
	}
	return ln, nil
}

func (s *Server) idleExpired() {
	if s.busy.Load() > 0 {
		s.idleTimer.Reset(s.idle)
		return
	}
	L_info("worker: idle timeout reached", "idle", s.idle)
	s.Shutdown()
}

func (s *Server) touch() {
	if s.idleTimer != nil {
		s.idleTimer.Reset(s.idle)
	}
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, Health{
		Status:   "ready",
		Provider: s.provider.Name(),
		PID:      os.Getpid(),
		Uptime:   time.Since(s.started).Seconds(),
		Served:   s.served.Load(),
	})
}

// handleTranscribe handles POST /transcribe
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req TranscribeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, TranscribeResponse{Error: "invalid request body", Kind: kindBadRequest})
		return
	}
	if !filepath.IsAbs(req.Path) {
		writeJSON(w, http.StatusBadRequest, TranscribeResponse{Error: "path must be absolute", Kind: kindBadRequest})
		return
	}
	if _, err := os.Stat(req.Path); err != nil {
		writeJSON(w, http.StatusBadRequest, TranscribeResponse{Error: err.Error(), Kind: kindBadRequest})
		return
	}

	s.busy.Add(1)
	s.metrics.inFlight.Inc()
	defer s.busy.Add(-1)
	defer s.metrics.inFlight.Dec()
	defer s.touch()

	s.mu.Lock()
	start := time.Now()
	text, err := stt.Transcribe(r.Context(), s.provider, req.Path)
	took := time.Since(start)
	s.mu.Unlock()
	s.served.Add(1)

	if err != nil {
		kind := kindOf(err)
		s.metrics.observe(kind, took)
		L_warn("worker: transcription failed", "path", req.Path, "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, TranscribeResponse{Error: err.Error(), Kind: kind})
		return
	}
	s.metrics.observe("", took)
	writeJSON(w, http.StatusOK, TranscribeResponse{Text: text})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		L_debug("worker: write response failed", "error", err)
	}
}

// logRequest wraps an HTTP handler to log requests
func (s *Server) logRequest(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(lw, r)
		s.metrics.requestsTotal.WithLabelValues(r.URL.Path, strconv.Itoa(lw.statusCode)).Inc()

		L_trace("worker: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", lw.statusCode,
			"duration", time.Since(start))
	}
}

// loggingResponseWriter wraps ResponseWriter to capture status code
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	lw.statusCode = code
	lw.ResponseWriter.WriteHeader(code)
}
